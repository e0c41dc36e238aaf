/*
Copyright 2025 Drover, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package command

import (
	"context"

	"github.com/drover-io/drover/lib/blob"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/registry"
	"github.com/drover-io/drover/lib/watcher"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Reporter delivers status updates produced while a command tree executes.
// Composites report child transitions through it, the dispatch wrapper
// reports the root's.
type Reporter interface {
	Report(ctx context.Context, update StatusUpdate) error
}

// Env is the execution environment a command sees: the worker's registry
// and reporter during execution, the server's registry during hooks.
type Env struct {
	// Node is the worker executing the command, or the worker whose
	// result a server-side hook is absorbing
	Node string
	// DistributionID is the UUID of the owning distribution, set for
	// server-side hooks
	DistributionID string
	// Resources is the resource registry of the executing side
	Resources *registry.Registry
	// Reporter emits subtree status updates, set on workers only
	Reporter Reporter
	// FieldLogger is the logger commands share
	logrus.FieldLogger
}

// Storage returns the blob store handle stored under the well-known
// registry key
func (e *Env) Storage() (blob.Objects, error) {
	value, err := e.Resources.Get(constants.RegistryStorageKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	objects, ok := value.(blob.Objects)
	if !ok {
		return nil, trace.BadParameter("registry key %q holds %T, not a blob store",
			constants.RegistryStorageKey, value)
	}
	return objects, nil
}

// Watchers returns the notification pool of the executing side
func (e *Env) Watchers() (*watcher.Pool, error) {
	value, err := e.Resources.Get(constants.RegistryWatcherKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	pool, ok := value.(*watcher.Pool)
	if !ok {
		return nil, trace.BadParameter("registry key %q holds %T, not a watcher pool",
			constants.RegistryWatcherKey, value)
	}
	return pool, nil
}

// Device returns the worker's device string, empty when unset
func (e *Env) Device() string {
	value, err := e.Resources.Get(constants.RegistryDeviceKey)
	if err != nil {
		return ""
	}
	device, _ := value.(string)
	return device
}

// report emits the update when a reporter is configured, execution on the
// server side (hooks) carries none
func (e *Env) report(ctx context.Context, update StatusUpdate) error {
	if e.Reporter == nil {
		return nil
	}
	return trace.Wrap(e.Reporter.Report(ctx, update))
}

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

// Package operation implements the interpreter steps of a server program:
// conditions gate progress, actions run server-local work, distributions
// dispatch command trees to selected workers and absorb their status
// updates into a per-worker, per-command table.
package operation

import (
	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/registry"
	"github.com/drover-io/drover/lib/topology"
	"github.com/drover-io/drover/lib/watcher"
	"github.com/drover-io/drover/lib/wire"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Operation is one step of the server program: a Condition, an Action or
// a *Distribution. The interpreter advances them strictly in list order.
type Operation interface {
	// String describes the operation in logs
	String() string
}

// Distribution statuses. The names are a wire contract, hence snake case.
const (
	// StatusCreated marks distributions not yet initialized
	StatusCreated = "created"
	// StatusBooting marks distributions running init
	StatusBooting = "booting"
	// StatusExecution marks distributions dispatching commands
	StatusExecution = "execution"
	// StatusExecutionFinished marks distributions running finish hooks
	StatusExecutionFinished = "execution_finished"
	// StatusCompleted marks finished distributions
	StatusCompleted = "completed"
)

// Env is the server state operations work against. Distributions capture
// it at init so topology callbacks can reach it, everything else receives
// it per call.
type Env struct {
	// Topology is the node inventory of the run
	Topology *topology.Topology
	// Resources is the server's resource registry
	Resources *registry.Registry
	// Watchers is the server's notification pool
	Watchers *watcher.Pool
	// Codec rebuilds commands from their wire form
	Codec *wire.Registry
	// FieldLogger is the logger operations share
	logrus.FieldLogger
}

// Check validates the environment
func (e *Env) Check() error {
	if e.Topology == nil {
		return trace.BadParameter("missing parameter Topology")
	}
	if e.Resources == nil {
		return trace.BadParameter("missing parameter Resources")
	}
	if e.Codec == nil {
		return trace.BadParameter("missing parameter Codec")
	}
	return nil
}

// hookEnv returns the environment server-side command hooks run in
func (e *Env) hookEnv(distributionID, node string) *command.Env {
	return &command.Env{
		Node:           node,
		DistributionID: distributionID,
		Resources:      e.Resources,
		FieldLogger:    e.FieldLogger,
	}
}

// notify publishes the notification when a pool is configured
func (e *Env) notify(notification watcher.Notification, origin string) {
	if e.Watchers != nil {
		e.Watchers.NotifyAll(notification, origin)
	}
}

// Table is a point-in-time copy of a distribution's status table: worker
// name to command UUID to distribution status. A nil inner map marks a
// worker outside the selection.
type Table map[string]map[string]string

// Status is a point-in-time view of one distribution
type Status struct {
	// ID is the distribution UUID
	ID string `json:"distribution_id"`
	// Description names the distribution's command trees
	Description string `json:"description,omitempty"`
	// Status is one of the distribution status constants
	Status string `json:"status"`
	// Table is the per-worker command status table
	Table Table `json:"table"`
}

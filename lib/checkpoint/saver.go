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

package checkpoint

import (
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/registry"
	"github.com/drover-io/drover/lib/watcher"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// ModelResource is the checkpoint resource type model snapshots are
// saved under
const ModelResource = "model"

// SaverConfig configures the best-model saver
type SaverConfig struct {
	// Resources is the registry holding the global model
	Resources *registry.Registry
	// Manager persists the snapshots
	Manager *Manager
	// FieldLogger is the logger the saver logs with
	logrus.FieldLogger
}

// CheckAndSetDefaults validates this configuration object
func (c *SaverConfig) CheckAndSetDefaults() error {
	if c.Resources == nil {
		return trace.BadParameter("missing parameter Resources")
	}
	if c.Manager == nil {
		return trace.BadParameter("missing parameter Manager")
	}
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithField(trace.Component, constants.ComponentCheckpoint)
	}
	return nil
}

// NewSaver returns a watcher that snapshots the global model whenever
// the tracked criterion improves: the payload at model:<key>:__global__
// is copied to model:<key>:<key>_best_<split> and written to disk
func NewSaver(config SaverConfig) (*Saver, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Saver{config: config}, nil
}

// Saver checkpoints the global model on new-best notifications
type Saver struct {
	config SaverConfig
}

// Name identifies the watcher in logs and for removal
func (w *Saver) Name() string { return "checkpoint-saver" }

// Handlers maps notification types to handlers
func (w *Saver) Handlers() map[string]watcher.Handler {
	return map[string]watcher.Handler{
		watcher.TypeNewBestModel: w.save,
	}
}

func (w *Saver) save(pool *watcher.Pool, notification watcher.Notification, origin string) error {
	best, ok := notification.(watcher.NewBestModel)
	if !ok {
		return trace.BadParameter("expected NewBestModel, got %T", notification)
	}
	source := registry.Join(ModelResource, best.Key, constants.GlobalModelOwner)
	value, err := w.config.Resources.Get(source)
	if err != nil {
		return trace.Wrap(err, "no global model to checkpoint at %q", source)
	}
	payload, ok := value.([]byte)
	if !ok {
		return trace.BadParameter("registry path %q holds %T, expected raw bytes", source, value)
	}
	checkpointKey := BestCheckpointKey(best.Key, best.Split)
	target := registry.Join(ModelResource, best.Key, checkpointKey)
	if err := w.config.Resources.Set(target, payload); err != nil {
		return trace.Wrap(err)
	}
	path, err := w.config.Manager.Save(ModelResource, best.Key, checkpointKey, payload)
	if err != nil {
		return trace.Wrap(err)
	}
	w.config.WithFields(logrus.Fields{
		"criterion": best.Criterion,
		"value":     best.Value,
		"round":     best.Round,
		"path":      path,
	}).Info("Checkpointed new best model.")
	return nil
}

// BestCheckpointKey names the best-model checkpoint of a key and split,
// <key>_best_<split>, or <key>_best when the split is unnamed
func BestCheckpointKey(key, split string) string {
	if split == "" {
		return key + "_best"
	}
	return key + "_best_" + split
}

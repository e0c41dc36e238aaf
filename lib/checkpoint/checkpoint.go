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

// Package checkpoint persists byte-serialized model and optimizer
// snapshots. A checkpoint is addressed by resource type, resource key
// and checkpoint key, and lives at <dir>/<type>/<key>/<checkpoint>.ckpt.
package checkpoint

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/defaults"
	"github.com/drover-io/drover/lib/registry"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Config configures the checkpoint manager
type Config struct {
	// Dir is the directory checkpoints are written under
	Dir string
	// FieldLogger is the logger the manager logs with
	logrus.FieldLogger
}

// CheckAndSetDefaults validates this configuration object
func (c *Config) CheckAndSetDefaults() error {
	if c.Dir == "" {
		c.Dir = defaults.CheckpointDir
	}
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithField(trace.Component, constants.ComponentCheckpoint)
	}
	return nil
}

// Manager reads and writes checkpoints under its directory
type Manager struct {
	logrus.FieldLogger
	config Config
}

// New returns a manager rooted at the configured directory, creating it
// when absent
func New(config Config) (*Manager, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := os.MkdirAll(config.Dir, defaults.PrivateDirMask); err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &Manager{
		FieldLogger: config.FieldLogger,
		config:      config,
	}, nil
}

// Save writes the payload and returns the path it was written to
func (m *Manager) Save(resourceType, resourceKey, checkpointKey string, payload []byte) (string, error) {
	path, err := m.path(resourceType, resourceKey, checkpointKey)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), defaults.PrivateDirMask); err != nil {
		return "", trace.ConvertSystemError(err)
	}
	if err := os.WriteFile(path, payload, defaults.PrivateFileMask); err != nil {
		return "", trace.ConvertSystemError(err)
	}
	m.WithFields(logrus.Fields{
		"checkpoint": checkpointKey,
		"path":       path,
	}).Info("Saved checkpoint.")
	return path, nil
}

// Load reads the checkpoint payload
func (m *Manager) Load(resourceType, resourceKey, checkpointKey string) ([]byte, error) {
	path, err := m.path(resourceType, resourceKey, checkpointKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return payload, nil
}

// List returns the checkpoint keys saved for the resource, empty when
// none were written yet
func (m *Manager) List(resourceType, resourceKey string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.config.Dir, resourceType, resourceKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, trace.ConvertSystemError(err)
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, defaults.CheckpointSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, defaults.CheckpointSuffix))
	}
	return keys, nil
}

// Remove deletes the checkpoint
func (m *Manager) Remove(resourceType, resourceKey, checkpointKey string) error {
	path, err := m.path(resourceType, resourceKey, checkpointKey)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := os.Remove(path); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// path refuses address segments that would escape the checkpoint tree
func (m *Manager) path(resourceType, resourceKey, checkpointKey string) (string, error) {
	for _, segment := range []string{resourceType, resourceKey, checkpointKey} {
		if segment == "" {
			return "", trace.BadParameter("missing checkpoint address segment")
		}
		if segment == "." || segment == ".." || strings.ContainsAny(segment, `/\`) {
			return "", trace.BadParameter("invalid checkpoint address segment %q", segment)
		}
	}
	return filepath.Join(m.config.Dir, resourceType, resourceKey,
		checkpointKey+defaults.CheckpointSuffix), nil
}

// NewAccumulator returns the registry level mounted at the per-worker
// results key: intermediate levels auto-create on set and leaves accept
// raw bytes only, at every depth
func NewAccumulator() *registry.Registry {
	payload := registry.TypeOf([]byte(nil))
	var newLevel func() *registry.Registry
	newLevel = func() *registry.Registry {
		return registry.New(registry.Config{
			DefaultSub: newLevel,
			ValueType:  &payload,
		})
	}
	return newLevel()
}

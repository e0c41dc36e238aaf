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

package topology

import (
	"context"
	"time"

	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/defaults"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// LivenessConfig configures the liveness observer
type LivenessConfig struct {
	// Topology is the inventory to sweep
	Topology *Topology
	// Interval is the sweep period
	Interval time.Duration
	// Timeout is the silence after which an online node is set offline
	Timeout time.Duration
	// Clock is used for sweep scheduling and age computation
	Clock clockwork.Clock
	// FieldLogger is used for logging
	FieldLogger logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *LivenessConfig) CheckAndSetDefaults() error {
	if c.Topology == nil {
		return trace.BadParameter("missing parameter Topology")
	}
	if c.Interval == 0 {
		c.Interval = defaults.LivenessInterval
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.NodeTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithField(trace.Component, constants.ComponentTopology)
	}
	return nil
}

// NewLivenessObserver returns an observer that periodically sets silent
// online workers offline
func NewLivenessObserver(config LivenessConfig) (*LivenessObserver, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &LivenessObserver{
		FieldLogger: config.FieldLogger,
		config:      config,
	}, nil
}

// LivenessObserver sweeps the topology for timed-out workers
type LivenessObserver struct {
	logrus.FieldLogger
	config LivenessConfig
}

// Serve sweeps until the context is canceled
func (o *LivenessObserver) Serve(ctx context.Context) {
	o.Debugf("Liveness observer started: interval %v, timeout %v.",
		o.config.Interval, o.config.Timeout)
	for {
		select {
		case <-ctx.Done():
			o.Debug("Liveness observer stopped.")
			return
		case <-o.config.Clock.After(o.config.Interval):
			o.Sweep()
		}
	}
}

// Sweep runs one liveness pass over the online workers
func (o *LivenessObserver) Sweep() {
	now := o.config.Clock.Now()
	for _, node := range o.config.Topology.OnlineClients() {
		silence := now.Sub(node.LastActive)
		if silence <= o.config.Timeout {
			continue
		}
		o.WithFields(logrus.Fields{
			constants.FieldNode: node.Name,
			"silence":           silence,
		}).Warn("Node timed out, setting offline.")
		if err := o.config.Topology.SetOffline(node.Name); err != nil {
			o.WithError(err).Warnf("Failed to set node %q offline.", node.Name)
		}
	}
}

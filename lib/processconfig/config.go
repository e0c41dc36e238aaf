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

// Package processconfig defines the configuration of the coordination
// server process and the loaders for its YAML configuration files
package processconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/drover-io/drover/lib/defaults"
	"github.com/drover-io/drover/lib/topology"
	"github.com/drover-io/drover/lib/users"

	"github.com/gravitational/trace"
)

// Config is the configuration of the coordination server process
type Config struct {
	// Run names the training run the process coordinates
	Run string `json:"run"`
	// ListenAddr is the host:port the HTTPS endpoint binds to
	ListenAddr string `json:"listen_addr"`
	// DataDir is the root of all state written by the process
	DataDir string `json:"data_dir"`
	// BlobDir overrides the blob store directory, defaults to a
	// subdirectory of DataDir
	BlobDir string `json:"blob_dir"`
	// CheckpointDir overrides the checkpoint directory, defaults to a
	// subdirectory of DataDir
	CheckpointDir string `json:"checkpoint_dir"`
	// MetricsFile is where the metric sink appends JSON lines, defaults
	// to a file under DataDir
	MetricsFile string `json:"metrics_file"`
	// TLSCertFile is the PEM-encoded server certificate. When unset the
	// process generates a self-signed certificate on startup
	TLSCertFile string `json:"tls_cert_file"`
	// TLSKeyFile is the PEM-encoded private key paired with TLSCertFile
	TLSKeyFile string `json:"tls_key_file"`
	// TokenTTL is how long issued bearer tokens stay valid
	TokenTTL Duration `json:"token_ttl"`
	// NodeTimeout is how long a node may stay silent before it is marked
	// offline
	NodeTimeout Duration `json:"node_timeout"`
	// LivenessInterval is how often the liveness observer sweeps the
	// topology
	LivenessInterval Duration `json:"liveness_interval"`
	// MaxClients caps the number of client nodes, 0 means unbounded
	MaxClients int `json:"max_clients"`
	// BrokerURL is the AMQP endpoint to serve command traffic on in
	// addition to HTTPS. Empty disables the broker transport
	BrokerURL string `json:"broker_url"`
	// Devmode relaxes safety checks for local development
	Devmode bool `json:"devmode"`
	// Simulation lets unknown users authenticate as throwaway client
	// nodes. Requires Devmode
	Simulation bool `json:"simulation"`
	// Track configures best-model tracking, disabled when Criterion is
	// empty
	Track TrackConfig `json:"track"`
	// Topology lists the nodes of the fleet, exactly one of them with
	// the server role
	Topology []topology.Node `json:"topology"`
	// Users lists the accounts allowed to authenticate
	Users []users.User `json:"users"`
}

// TrackConfig configures server-side best-model tracking: aggregated
// metrics are watched for improvements of a criterion and the global model
// is checkpointed whenever one is seen
type TrackConfig struct {
	// Criterion is the metric name improvements are measured on. Empty
	// disables tracking
	Criterion string `json:"criterion"`
	// Split restricts detection to metrics of one dataset split
	Split string `json:"split"`
	// HigherIsBetter is the direction of improvement
	HigherIsBetter bool `json:"higher_is_better"`
	// ModelKey is the registry key of the tracked model
	ModelKey string `json:"model_key"`
	// Reduction is how per-node metrics are aggregated, mean or median
	Reduction string `json:"reduction"`
}

// Enabled returns true when best-model tracking is configured
func (t TrackConfig) Enabled() bool {
	return t.Criterion != ""
}

// Check validates the tracking configuration
func (t TrackConfig) Check() error {
	if !t.Enabled() {
		return nil
	}
	if t.ModelKey == "" {
		return trace.BadParameter("missing parameter Track.ModelKey")
	}
	return nil
}

// CheckAndSetDefaults validates the configuration, fills in defaults and
// creates the state directories
func (c *Config) CheckAndSetDefaults() error {
	if c.Run == "" {
		c.Run = defaults.Run
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.ServerAddr
	}
	if c.DataDir == "" {
		c.DataDir = defaults.DataDir
	}
	if c.BlobDir == "" {
		c.BlobDir = filepath.Join(c.DataDir, "blobs")
	}
	if c.CheckpointDir == "" {
		c.CheckpointDir = filepath.Join(c.DataDir, "checkpoints")
	}
	if c.MetricsFile == "" {
		c.MetricsFile = filepath.Join(c.DataDir, defaults.MetricsFile)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return trace.BadParameter(
			"tls_cert_file and tls_key_file must be set together")
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = Duration(defaults.TokenTTL)
	}
	if c.NodeTimeout == 0 {
		c.NodeTimeout = Duration(defaults.NodeTimeout)
	}
	if c.LivenessInterval == 0 {
		c.LivenessInterval = Duration(defaults.LivenessInterval)
	}
	if c.Simulation && !c.Devmode {
		return trace.BadParameter(
			"simulation mode requires devmode, refusing to enable it")
	}
	if err := c.Track.Check(); err != nil {
		return trace.Wrap(err)
	}
	if len(c.Topology) == 0 {
		return trace.BadParameter("missing parameter Topology")
	}
	for _, user := range c.Users {
		if err := user.Check(); err != nil {
			return trace.Wrap(err)
		}
	}
	for _, dir := range []string{c.DataDir, c.BlobDir, c.CheckpointDir} {
		if err := os.MkdirAll(dir, defaults.SharedDirMask); err != nil {
			return trace.ConvertSystemError(err)
		}
	}
	return nil
}

// Duration is a time.Duration that marshals to and from a duration string
// such as "90s" or "12h" in configuration files
type Duration time.Duration

// Duration returns the wrapped time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration formatted as a duration string
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON serializes the duration as a duration string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON deserializes a duration string
func (d *Duration) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return trace.BadParameter("expected a duration string: %v", err)
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return trace.BadParameter("failed to parse duration %q: %v", value, err)
	}
	*d = Duration(parsed)
	return nil
}

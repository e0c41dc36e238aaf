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

package watcher

import "time"

// Notification type names are stable contracts shared with peers, do not
// rename them.
const (
	// TypeInitialization fires once when the owning process finishes setup
	TypeInitialization = "InitializationNotification"
	// TypeStatusUpdate fires for every absorbed worker status update
	TypeStatusUpdate = "StatusUpdateNotification"
	// TypeMetric carries one metric measurement or aggregate
	TypeMetric = "MetricNotification"
	// TypeCommandFinished fires when a command is terminal on all selected workers
	TypeCommandFinished = "CommandFinishedNotification"
	// TypeNewBestModel fires when the tracked criterion improves
	TypeNewBestModel = "NewBestModelNotification"
	// TypeAggregationCompleted fires after a successful aggregation round
	TypeAggregationCompleted = "AggregationCompletedNotification"
	// TypeParameter carries an arbitrary named parameter
	TypeParameter = "ParameterNotification"
	// TypeTopologyChange fires on node status and flag edges
	TypeTopologyChange = "TopologyChangeNotification"
)

// Notification is a typed event published through the pool
type Notification interface {
	// NotificationType returns the contract name of the notification
	NotificationType() string
}

// Initialization announces the owning process is assembled and serving
type Initialization struct {
	// Run names the run the process participates in
	Run string
	// At is the initialization time
	At time.Time
}

// NotificationType returns the contract name of the notification
func (n Initialization) NotificationType() string { return TypeInitialization }

// StatusUpdate mirrors an absorbed worker status report
type StatusUpdate struct {
	// Node is the reporting worker
	Node string
	// CommandID is the UUID of the reported command
	CommandID string
	// StatusCode is the reported execution status
	StatusCode string
	// CommandType is the datatype of the reported command
	CommandType string
}

// NotificationType returns the contract name of the notification
func (n StatusUpdate) NotificationType() string { return TypeStatusUpdate }

// Metric carries one measurement reported by a worker, or an aggregate
// computed server-side
type Metric struct {
	// Node is the reporting worker, empty for aggregates
	Node string
	// CommandID is the command the measurement belongs to
	CommandID string
	// Round is the communication round
	Round int
	// Epoch is the local epoch within the round
	Epoch int
	// Split names the dataset split the metric was measured on
	Split string
	// MetricType distinguishes kinds of measurements, e.g. "loss" or "score"
	MetricType string
	// Values maps metric names to measurements
	Values map[string]float64
	// IsAggregate marks server-side mean/median metrics
	IsAggregate bool
	// Aggregation names the reduction used for aggregates, "mean" or "median"
	Aggregation string
}

// NotificationType returns the contract name of the notification
func (n Metric) NotificationType() string { return TypeMetric }

// CommandFinished announces a command reached a terminal state on every
// selected worker
type CommandFinished struct {
	// CommandID is the finished command
	CommandID string
	// CommandType is the datatype of the finished command
	CommandType string
	// DistributionID is the owning distribution
	DistributionID string
}

// NotificationType returns the contract name of the notification
func (n CommandFinished) NotificationType() string { return TypeCommandFinished }

// NewBestModel announces the tracked criterion improved
type NewBestModel struct {
	// Key is the model resource key
	Key string
	// Criterion is the metric the improvement was measured on
	Criterion string
	// Split is the dataset split the metric was measured on
	Split string
	// Value is the new best value
	Value float64
	// Round is the communication round the value was produced in
	Round int
}

// NotificationType returns the contract name of the notification
func (n NewBestModel) NotificationType() string { return TypeNewBestModel }

// AggregationCompleted announces a successful aggregation round
type AggregationCompleted struct {
	// CommandID is the command whose results were aggregated
	CommandID string
	// DistributionID is the owning distribution
	DistributionID string
	// Round is the communication round
	Round int
	// NumInputs is the number of worker results aggregated
	NumInputs int
}

// NotificationType returns the contract name of the notification
func (n AggregationCompleted) NotificationType() string { return TypeAggregationCompleted }

// Parameter carries an arbitrary named value
type Parameter struct {
	// Name is the parameter name
	Name string
	// Value is the parameter value
	Value interface{}
}

// NotificationType returns the contract name of the notification
func (n Parameter) NotificationType() string { return TypeParameter }

// Topology edge kinds
const (
	// EdgeOnline marks a node transition to online
	EdgeOnline = "online"
	// EdgeOffline marks a node transition to offline
	EdgeOffline = "offline"
	// EdgeFlags marks a node flag change
	EdgeFlags = "flags"
)

// TopologyChange announces a node status or flag edge
type TopologyChange struct {
	// Node is the affected node
	Node string
	// Edge is one of EdgeOnline, EdgeOffline, EdgeFlags
	Edge string
	// Flags is the node's flag set after the change
	Flags []string
}

// NotificationType returns the contract name of the notification
func (n TopologyChange) NotificationType() string { return TypeTopologyChange }

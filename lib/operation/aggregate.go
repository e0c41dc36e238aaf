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

package operation

import (
	"context"
	"fmt"

	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/watcher"
	"github.com/drover-io/drover/lib/wire"

	"github.com/gravitational/trace"
)

// Aggregator reduces per-worker results into a single value. The math is
// deployment code; the core only defines when aggregation runs and where
// inputs and result live.
type Aggregator interface {
	// Aggregate reduces the inputs, keyed by worker name, into one
	// wire-encodable result
	Aggregate(ctx context.Context, env *Env, inputs map[string]interface{}) (interface{}, error)
}

// AggregationError indicates an aggregation round failed or produced a
// result that cannot travel the wire. It halts the program.
type AggregationError struct {
	// Reason describes the failure
	Reason string
}

// Error returns the error message
func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation failed: %v", e.Reason)
}

// IsAggregationError returns true when err indicates a failed aggregation
func IsAggregationError(err error) bool {
	_, ok := trace.Unwrap(err).(*AggregationError)
	return ok
}

// AggregationConfig configures an aggregation action
type AggregationConfig struct {
	// Aggregator reduces the collected inputs
	Aggregator Aggregator
	// SourcePath is the registry sub-registry holding per-worker inputs
	SourcePath string
	// TargetPath is the registry path the aggregate lands at
	TargetPath string
	// CommandID is the command whose results are aggregated, used in the
	// completion notification
	CommandID string
	// DistributionID is the distribution that produced the inputs
	DistributionID string
	// Round is the communication round
	Round int
}

// Check validates the config
func (c *AggregationConfig) Check() error {
	if c.Aggregator == nil {
		return trace.BadParameter("missing parameter Aggregator")
	}
	if c.SourcePath == "" {
		return trace.BadParameter("missing parameter SourcePath")
	}
	if c.TargetPath == "" {
		return trace.BadParameter("missing parameter TargetPath")
	}
	return nil
}

// NewAggregationAction returns an action that reduces the per-worker
// values under SourcePath into a single value at TargetPath
func NewAggregationAction(config AggregationConfig) (*AggregationAction, error) {
	if err := config.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &AggregationAction{config: config}, nil
}

// AggregationAction runs one aggregation round as a server-local action
type AggregationAction struct {
	config AggregationConfig
}

// String describes the action in logs
func (a *AggregationAction) String() string {
	return fmt.Sprintf("aggregate(%v -> %v)", a.config.SourcePath, a.config.TargetPath)
}

// Run collects the inputs, invokes the aggregator, stores the result and
// publishes the completion notification
func (a *AggregationAction) Run(ctx context.Context, env *Env) ([]Operation, error) {
	sub, err := env.Resources.Sub(a.config.SourcePath, false)
	if err != nil {
		return nil, trace.Wrap(&AggregationError{
			Reason: fmt.Sprintf("no inputs at %q: %v", a.config.SourcePath, err)})
	}
	keys := sub.Keys()
	if len(keys) == 0 {
		return nil, trace.Wrap(&AggregationError{
			Reason: fmt.Sprintf("no inputs at %q", a.config.SourcePath)})
	}
	inputs := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		value, err := sub.Get(key)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		inputs[key] = value
	}
	result, err := a.config.Aggregator.Aggregate(ctx, env, inputs)
	if err != nil {
		return nil, trace.Wrap(&AggregationError{Reason: err.Error()})
	}
	if _, err := wire.Encode(result); err != nil {
		return nil, trace.Wrap(&AggregationError{
			Reason: fmt.Sprintf("result of type %T cannot travel the wire: %v", result, err)})
	}
	if err := env.Resources.Set(a.config.TargetPath, result); err != nil {
		return nil, trace.Wrap(err)
	}
	env.notify(watcher.AggregationCompleted{
		CommandID:      a.config.CommandID,
		DistributionID: a.config.DistributionID,
		Round:          a.config.Round,
		NumInputs:      len(inputs),
	}, constants.ComponentOps)
	return nil, nil
}

// MeanScalars averages per-worker scalar maps entry-wise. It is the
// smallest useful aggregator, deployments bring their own for model
// weights.
type MeanScalars struct{}

// Aggregate returns the entry-wise mean of the inputs
func (MeanScalars) Aggregate(ctx context.Context, env *Env, inputs map[string]interface{}) (interface{}, error) {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for node, value := range inputs {
		scalars, ok := value.(map[string]float64)
		if !ok {
			return nil, trace.BadParameter("input of %v is %T, expected a scalar map",
				node, value)
		}
		for name, v := range scalars {
			sums[name] += v
			counts[name]++
		}
	}
	means := make(map[string]float64, len(sums))
	for name, sum := range sums {
		means[name] = sum / float64(counts[name])
	}
	return means, nil
}

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
	"fmt"

	"github.com/gravitational/trace"
)

// Condition gates interpreter progress. Conditions at the head of the
// program are popped once resolved; permanent conditions are re-evaluated
// on every dispatch.
type Condition interface {
	// Resolved reports whether the gate is open
	Resolved(env *Env) (bool, error)
	// String describes the condition in logs
	String() string
}

// MinOnlineClients gates on a minimum number of online workers
type MinOnlineClients struct {
	// Min is the required number of online workers
	Min int
}

// Resolved reports whether enough workers are online
func (c MinOnlineClients) Resolved(env *Env) (bool, error) {
	return len(env.Topology.OnlineClients()) >= c.Min, nil
}

// String describes the condition in logs
func (c MinOnlineClients) String() string {
	return fmt.Sprintf("min_online_clients(%v)", c.Min)
}

// FractionOnline gates on a minimum online share of the worker fleet
type FractionOnline struct {
	// Fraction is the required online share, in [0, 1]
	Fraction float64
}

// Resolved reports whether the online share is reached
func (c FractionOnline) Resolved(env *Env) (bool, error) {
	if c.Fraction < 0 || c.Fraction > 1 {
		return false, trace.BadParameter("fraction must be in [0, 1], got %v", c.Fraction)
	}
	return env.Topology.FractionConnected() >= c.Fraction, nil
}

// String describes the condition in logs
func (c FractionOnline) String() string {
	return fmt.Sprintf("fraction_online(%v)", c.Fraction)
}

// ResourceExists gates on a registry path being populated
type ResourceExists struct {
	// Path is the probed registry path
	Path string
}

// Resolved reports whether the path exists
func (c ResourceExists) Resolved(env *Env) (bool, error) {
	return env.Resources.Contains(c.Path), nil
}

// String describes the condition in logs
func (c ResourceExists) String() string {
	return fmt.Sprintf("resource_exists(%v)", c.Path)
}

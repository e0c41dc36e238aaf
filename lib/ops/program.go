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

package ops

import (
	"github.com/drover-io/drover/lib/operation"

	"github.com/gravitational/trace"
)

// Program assembles the ordered operation list a Manager interprets.
// Build errors accumulate and surface once through Err, so programs
// read as a single chain:
//
//	program := ops.NewProgram().
//		Require(operation.MinOnlineClients{Min: 2}).
//		Distribute(operation.Config{Commands: ...}).
//		Await(operation.ResourceExists{Path: "model:mnist"}).
//		Do(aggregate)
type Program struct {
	permanent []operation.Condition
	open      *operation.Distribution
	queue     []operation.Operation
	err       error
}

// NewProgram returns an empty program
func NewProgram() *Program {
	return &Program{}
}

// Require adds permanent conditions gating every dispatch for the
// lifetime of the program
func (p *Program) Require(conditions ...operation.Condition) *Program {
	p.permanent = append(p.permanent, conditions...)
	return p
}

// Open sets the program's open distribution, serving its command to
// every worker that connects while the program runs
func (p *Program) Open(config operation.Config) *Program {
	if p.open != nil {
		return p.fail(trace.AlreadyExists("the program already has an open distribution"))
	}
	config.Open = true
	dist, err := operation.NewDistribution(config)
	if err != nil {
		return p.fail(trace.Wrap(err))
	}
	p.open = dist
	return p
}

// Await appends a condition the program waits on before advancing
func (p *Program) Await(condition operation.Condition) *Program {
	return p.Append(condition)
}

// Do appends a server-local action
func (p *Program) Do(action operation.Action) *Program {
	return p.Append(action)
}

// Distribute appends a closed distribution built from the config
func (p *Program) Distribute(config operation.Config) *Program {
	if config.Open {
		return p.fail(trace.BadParameter("use Open for open distributions"))
	}
	dist, err := operation.NewDistribution(config)
	if err != nil {
		return p.fail(trace.Wrap(err))
	}
	return p.Append(dist)
}

// Append adds prebuilt operations in order
func (p *Program) Append(operations ...operation.Operation) *Program {
	p.queue = append(p.queue, operations...)
	return p
}

// Err returns the first error the builder chain hit
func (p *Program) Err() error {
	return p.err
}

func (p *Program) fail(err error) *Program {
	if p.err == nil {
		p.err = err
	}
	return p
}

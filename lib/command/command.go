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

// Package command defines the unit of work the control plane dispatches to
// workers: the command tree model, its execution environment, the built-in
// composites and the status vocabulary the distribution tables speak.
package command

import (
	"context"
	"fmt"

	"github.com/drover-io/drover/lib/wire"

	"github.com/gravitational/trace"
	"github.com/pborman/uuid"
)

// Command is a unit of work executed on a worker node. Commands travel on
// the wire as their construction arguments (wire.Marshaler) and are rebuilt
// by the receiving side's constructor registry.
type Command interface {
	wire.Marshaler
	// ID returns the command UUID, empty until the owning distribution
	// assigns identities at init
	ID() string
	// SetID stamps the command UUID
	SetID(id string)
	// Children returns owned sub-commands in execution order, nil for leaves
	Children() []Command
	// Execute performs the command on a worker
	Execute(ctx context.Context, env *Env) (*Response, error)
}

// Initializer is implemented by commands that stage server-side state when
// their distribution initializes, e.g. upload a checkpoint blob and record
// the blob IDs in their construction arguments for workers to fetch
type Initializer interface {
	OnInit(ctx context.Context, env *Env) error
}

// ClientFinishHandler is implemented by commands that absorb a single
// worker's result server-side when the worker reports FINISHED
type ClientFinishHandler interface {
	OnClientFinish(ctx context.Context, env *Env, node string, response *Response) error
}

// CompletionHandler is implemented by commands that run server-side once
// every selected worker reached a terminal state for the command
type CompletionHandler interface {
	OnAllClientsFinished(ctx context.Context, env *Env) error
}

// NodeCustomizer is implemented by commands that rewrite themselves per
// worker before dispatch, e.g. to assign a partition index. Customization
// always runs on a per-worker clone, never on the canonical tree.
type NodeCustomizer interface {
	CustomizeForNode(node string, index int) error
}

// Base carries the persistent identity every command shares
type Base struct {
	// UUID is the command identity within its distribution
	UUID string
}

// ID returns the command UUID
func (b *Base) ID() string { return b.UUID }

// SetID stamps the command UUID
func (b *Base) SetID(id string) { b.UUID = id }

// Children returns no sub-commands, composites override this
func (b *Base) Children() []Command { return nil }

// Subtree returns the command and all descendants in depth-first order,
// the first element carries the main UUID
func Subtree(cmd Command) []Command {
	out := []Command{cmd}
	for _, child := range cmd.Children() {
		out = append(out, Subtree(child)...)
	}
	return out
}

// SubtreeIDs returns the subtree UUIDs in depth-first order
func SubtreeIDs(cmd Command) []string {
	subtree := Subtree(cmd)
	ids := make([]string, 0, len(subtree))
	for _, c := range subtree {
		ids = append(ids, c.ID())
	}
	return ids
}

// AssignIDs stamps a fresh UUID on every command of the subtree
func AssignIDs(cmd Command) {
	for _, c := range Subtree(cmd) {
		c.SetID(uuid.New())
	}
}

// Clone rebuilds an independent copy of the command through its wire form
// so per-worker customization never touches the canonical tree
func Clone(codec *wire.Registry, cmd Command) (Command, error) {
	encoded, err := wire.Encode(cmd)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	decoded, err := codec.Decode(*encoded)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cloned, ok := decoded.(Command)
	if !ok {
		return nil, trace.BadParameter("decoded %v is %T, not a command",
			encoded.Datatype, decoded)
	}
	return cloned, nil
}

// AbstractCommandError indicates a command declared abstract reached
// execution without a concrete implementation replacing it
type AbstractCommandError struct {
	// Datatype is the registered name of the abstract command
	Datatype string
}

// Error returns the error message
func (e *AbstractCommandError) Error() string {
	return fmt.Sprintf("command %q is abstract and has no implementation", e.Datatype)
}

// IsAbstractCommand returns true when err indicates execution of an
// abstract command
func IsAbstractCommand(err error) bool {
	_, ok := trace.Unwrap(err).(*AbstractCommandError)
	return ok
}

// decodeChildren converts a decoded argument list back to commands
func decodeChildren(values []interface{}) ([]Command, error) {
	children := make([]Command, 0, len(values))
	for i, value := range values {
		child, ok := value.(Command)
		if !ok {
			return nil, trace.BadParameter("child %v is %T, not a command", i, value)
		}
		children = append(children, child)
	}
	return children, nil
}

// encodeChildren converts commands to an argument list
func encodeChildren(children []Command) []interface{} {
	values := make([]interface{}, 0, len(children))
	for _, child := range children {
		values = append(values, child)
	}
	return values
}

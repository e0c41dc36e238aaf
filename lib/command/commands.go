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

package command

import (
	"bytes"
	"context"

	"github.com/drover-io/drover/lib/blob"
	"github.com/drover-io/drover/lib/wire"

	"github.com/gravitational/trace"
)

const (
	// TypePrint is the wire name of the print command
	TypePrint = "PrintCommand"
	// TypeSequence is the wire name of the sequential composite
	TypeSequence = "SequentialCommand"
	// TypeConditional is the wire name of the branching composite
	TypeConditional = "ConditionalCommand"
	// TypeRepeat is the wire name of the repetition composite
	TypeRepeat = "RepeatCommand"
	// TypeWrap is the wire name of the single-child composite
	TypeWrap = "WrapperCommand"
	// TypeFetchResources is the wire name of the blob staging composite
	TypeFetchResources = "FetchResourcesCommand"
	// TypeTrain is the wire name of the abstract local-training command
	TypeTrain = "TrainCommand"
)

// RegisterCommands installs the built-in command constructors into the codec
func RegisterCommands(codec *wire.Registry) error {
	constructors := map[string]wire.Constructor{
		TypePrint:          newPrintFromArgs,
		TypeSequence:       newSequenceFromArgs,
		TypeConditional:    newConditionalFromArgs,
		TypeRepeat:         newRepeatFromArgs,
		TypeWrap:           newWrapFromArgs,
		TypeFetchResources: newFetchResourcesFromArgs,
		TypeTrain:          newTrainFromArgs,
	}
	for datatype, constructor := range constructors {
		if err := codec.Register(datatype, constructor); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Print logs a message on the worker, the smallest useful leaf
type Print struct {
	Base
	// Message is the text to print
	Message string
}

// NewPrint returns a command that prints the message on the worker
func NewPrint(message string) *Print {
	return &Print{Message: message}
}

// WireType returns the registered datatype name
func (p *Print) WireType() string { return TypePrint }

// Args returns the construction arguments
func (p *Print) Args() wire.Args {
	return wire.Args{
		"uuid":    p.UUID,
		"message": p.Message,
	}
}

// Execute prints the message and echoes it in the response
func (p *Print) Execute(ctx context.Context, env *Env) (*Response, error) {
	env.Info(p.Message)
	return &Response{Data: map[string]interface{}{"message": p.Message}}, nil
}

func newPrintFromArgs(args wire.Args) (interface{}, error) {
	message, err := args.String("message")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cmd := NewPrint(message)
	cmd.UUID = args.StringOr("uuid", "")
	return cmd, nil
}

// Sequence executes its children in order, stopping at the first failure
type Sequence struct {
	Base
	// Commands are the children in execution order
	Commands []Command
}

// NewSequence returns a composite that runs the children in order
func NewSequence(children ...Command) *Sequence {
	return &Sequence{Commands: children}
}

// WireType returns the registered datatype name
func (s *Sequence) WireType() string { return TypeSequence }

// Children returns the children in execution order
func (s *Sequence) Children() []Command { return s.Commands }

// Args returns the construction arguments
func (s *Sequence) Args() wire.Args {
	return wire.Args{
		"uuid":     s.UUID,
		"children": encodeChildren(s.Commands),
	}
}

// Execute runs each child bracketed by its own status updates
func (s *Sequence) Execute(ctx context.Context, env *Env) (*Response, error) {
	for _, child := range s.Commands {
		select {
		case <-ctx.Done():
			return nil, trace.Wrap(ctx.Err())
		default:
		}
		if _, err := Run(ctx, child, env); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return nil, nil
}

func newSequenceFromArgs(args wire.Args) (interface{}, error) {
	values, err := args.List("children")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	children, err := decodeChildren(values)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cmd := NewSequence(children...)
	cmd.UUID = args.StringOr("uuid", "")
	return cmd, nil
}

// Conditional executes one of two branches depending on whether the
// worker's registry holds a value at Path. The untaken branch is reported
// EXCLUDED so the worker's row still reaches a terminal state.
type Conditional struct {
	Base
	// Path is the registry path probed on the worker
	Path string
	// Then runs when the path exists
	Then Command
	// Else runs otherwise, optional
	Else Command
}

// NewConditional returns a composite that branches on a worker registry path
func NewConditional(path string, then, otherwise Command) *Conditional {
	return &Conditional{Path: path, Then: then, Else: otherwise}
}

// WireType returns the registered datatype name
func (c *Conditional) WireType() string { return TypeConditional }

// Children returns the configured branches
func (c *Conditional) Children() []Command {
	var children []Command
	if c.Then != nil {
		children = append(children, c.Then)
	}
	if c.Else != nil {
		children = append(children, c.Else)
	}
	return children
}

// Args returns the construction arguments
func (c *Conditional) Args() wire.Args {
	return wire.Args{
		"uuid": c.UUID,
		"path": c.Path,
		"then": c.Then,
		"else": c.Else,
	}
}

// Execute probes the registry path and runs the matching branch
func (c *Conditional) Execute(ctx context.Context, env *Env) (*Response, error) {
	taken, skipped := c.Then, c.Else
	if !env.Resources.Contains(c.Path) {
		taken, skipped = c.Else, c.Then
	}
	if skipped != nil {
		if err := ExcludeSubtree(ctx, skipped, env); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if taken == nil {
		return nil, nil
	}
	if _, err := Run(ctx, taken, env); err != nil {
		return nil, trace.Wrap(err)
	}
	return nil, nil
}

func newConditionalFromArgs(args wire.Args) (interface{}, error) {
	path, err := args.String("path")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	then, err := commandArg(args, "then")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	otherwise, err := commandArg(args, "else")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cmd := NewConditional(path, then, otherwise)
	cmd.UUID = args.StringOr("uuid", "")
	return cmd, nil
}

// Repeat executes its child a fixed number of times. Every iteration
// re-brackets the child subtree with status updates, the distribution table
// absorbs the newer transition.
type Repeat struct {
	Base
	// Count is the number of iterations
	Count int
	// Child is the repeated command
	Child Command
}

// NewRepeat returns a composite that runs the child count times
func NewRepeat(count int, child Command) *Repeat {
	return &Repeat{Count: count, Child: child}
}

// WireType returns the registered datatype name
func (r *Repeat) WireType() string { return TypeRepeat }

// Children returns the repeated child
func (r *Repeat) Children() []Command {
	if r.Child == nil {
		return nil
	}
	return []Command{r.Child}
}

// Args returns the construction arguments
func (r *Repeat) Args() wire.Args {
	return wire.Args{
		"uuid":  r.UUID,
		"count": r.Count,
		"child": r.Child,
	}
}

// Execute runs the child count times, stopping at the first failure
func (r *Repeat) Execute(ctx context.Context, env *Env) (*Response, error) {
	for i := 0; i < r.Count; i++ {
		select {
		case <-ctx.Done():
			return nil, trace.Wrap(ctx.Err())
		default:
		}
		if _, err := Run(ctx, r.Child, env); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return nil, nil
}

func newRepeatFromArgs(args wire.Args) (interface{}, error) {
	count, err := args.Int("count")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if count < 0 {
		return nil, trace.BadParameter("parameter count must not be negative, got %v", count)
	}
	child, err := commandArg(args, "child")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if child == nil {
		return nil, trace.BadParameter("missing parameter child")
	}
	cmd := NewRepeat(count, child)
	cmd.UUID = args.StringOr("uuid", "")
	return cmd, nil
}

// Wrap owns a single child and executes it unchanged. Commands embed it to
// decorate a subtree with hooks without redoing the child plumbing.
type Wrap struct {
	Base
	// Child is the wrapped command, optional
	Child Command
}

// NewWrap returns a composite that runs the single child
func NewWrap(child Command) *Wrap {
	return &Wrap{Child: child}
}

// WireType returns the registered datatype name
func (w *Wrap) WireType() string { return TypeWrap }

// Children returns the wrapped child
func (w *Wrap) Children() []Command {
	if w.Child == nil {
		return nil
	}
	return []Command{w.Child}
}

// Args returns the construction arguments
func (w *Wrap) Args() wire.Args {
	return wire.Args{
		"uuid":  w.UUID,
		"child": w.Child,
	}
}

// Execute runs the wrapped child
func (w *Wrap) Execute(ctx context.Context, env *Env) (*Response, error) {
	if w.Child == nil {
		return nil, nil
	}
	if _, err := Run(ctx, w.Child, env); err != nil {
		return nil, trace.Wrap(err)
	}
	return nil, nil
}

func newWrapFromArgs(args wire.Args) (interface{}, error) {
	child, err := commandArg(args, "child")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cmd := NewWrap(child)
	cmd.UUID = args.StringOr("uuid", "")
	return cmd, nil
}

// FetchResources stages server registry payloads as shared blobs when the
// distribution initializes and loads them into the worker's registry before
// the child runs. The staged blobs are shared by all selected workers and
// removed once every worker reached a terminal state for this command.
type FetchResources struct {
	Wrap
	// Paths maps worker registry paths to the server registry paths
	// holding the payloads (raw bytes)
	Paths map[string]string
	// FileIDs maps worker registry paths to staged blob IDs, stamped
	// at distribution init
	FileIDs map[string]string
}

// NewFetchResources returns a composite that stages the payloads at the
// given server registry paths and loads them on the worker before the
// child runs. The child may be nil to only fetch.
func NewFetchResources(paths map[string]string, child Command) *FetchResources {
	return &FetchResources{Wrap: Wrap{Child: child}, Paths: paths}
}

// WireType returns the registered datatype name
func (c *FetchResources) WireType() string { return TypeFetchResources }

// Args returns the construction arguments
func (c *FetchResources) Args() wire.Args {
	return wire.Args{
		"uuid":     c.UUID,
		"child":    c.Child,
		"paths":    c.Paths,
		"file_ids": c.FileIDs,
	}
}

// OnInit uploads the payloads as shared blobs and records their IDs
func (c *FetchResources) OnInit(ctx context.Context, env *Env) error {
	storage, err := env.Storage()
	if err != nil {
		return trace.Wrap(err)
	}
	c.FileIDs = make(map[string]string, len(c.Paths))
	for target, source := range c.Paths {
		value, err := env.Resources.Get(source)
		if err != nil {
			return trace.Wrap(err)
		}
		payload, ok := value.([]byte)
		if !ok {
			return trace.BadParameter("registry path %q holds %T, expected raw bytes",
				source, value)
		}
		envelope, err := storage.WriteBLOB(bytes.NewReader(payload), false)
		if err != nil {
			return trace.Wrap(err)
		}
		c.FileIDs[target] = envelope.ID
	}
	return nil
}

// Execute loads the staged blobs into the worker's registry, then runs the
// child when configured
func (c *FetchResources) Execute(ctx context.Context, env *Env) (*Response, error) {
	storage, err := env.Storage()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for target, id := range c.FileIDs {
		payload, err := blob.Fetch(storage, id)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := env.Resources.Set(target, payload); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if c.Child == nil {
		return nil, nil
	}
	if _, err := Run(ctx, c.Child, env); err != nil {
		return nil, trace.Wrap(err)
	}
	return nil, nil
}

// OnAllClientsFinished removes the staged blobs
func (c *FetchResources) OnAllClientsFinished(ctx context.Context, env *Env) error {
	if len(c.FileIDs) == 0 {
		return nil
	}
	storage, err := env.Storage()
	if err != nil {
		return trace.Wrap(err)
	}
	for _, id := range c.FileIDs {
		if err := storage.DeleteBLOB(id); err != nil && !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}
	}
	return nil
}

func newFetchResourcesFromArgs(args wire.Args) (interface{}, error) {
	child, err := commandArg(args, "child")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	paths, err := stringMapArg(args, "paths")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	fileIDs, err := stringMapArg(args, "file_ids")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cmd := NewFetchResources(paths, child)
	cmd.FileIDs = fileIDs
	cmd.UUID = args.StringOr("uuid", "")
	return cmd, nil
}

// Train is the local-training step of a federated round. It is registered
// abstract: deployments replace its constructor with one producing a
// command wired to their model runtime.
type Train struct {
	Base
	// ModelKey names the model the round trains
	ModelKey string
	// Round is the federated round number
	Round int
	// Epochs is the number of local passes over the worker's partition
	Epochs int
	// Partition is the worker's data partition, assigned per node at
	// dispatch time
	Partition int
}

// NewTrain returns the abstract local-training command
func NewTrain(modelKey string, round, epochs int) *Train {
	return &Train{ModelKey: modelKey, Round: round, Epochs: epochs}
}

// WireType returns the registered datatype name
func (t *Train) WireType() string { return TypeTrain }

// Args returns the construction arguments
func (t *Train) Args() wire.Args {
	return wire.Args{
		"uuid":      t.UUID,
		"model_key": t.ModelKey,
		"round":     t.Round,
		"epochs":    t.Epochs,
		"partition": t.Partition,
	}
}

// Execute fails: Train carries no runtime of its own
func (t *Train) Execute(ctx context.Context, env *Env) (*Response, error) {
	return nil, trace.Wrap(&AbstractCommandError{Datatype: TypeTrain})
}

// CustomizeForNode assigns the worker's data partition
func (t *Train) CustomizeForNode(node string, index int) error {
	t.Partition = index
	return nil
}

func newTrainFromArgs(args wire.Args) (interface{}, error) {
	modelKey, err := args.String("model_key")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cmd := NewTrain(modelKey, args.IntOr("round", 0), args.IntOr("epochs", 1))
	cmd.Partition = args.IntOr("partition", 0)
	cmd.UUID = args.StringOr("uuid", "")
	return cmd, nil
}

// commandArg reads an optional command-valued argument
func commandArg(args wire.Args, name string) (Command, error) {
	value, exists := args.Value(name)
	if !exists || value == nil {
		return nil, nil
	}
	cmd, ok := value.(Command)
	if !ok {
		return nil, trace.BadParameter("parameter %v is %T, not a command", name, value)
	}
	return cmd, nil
}

// stringMapArg reads an optional string-to-string map argument
func stringMapArg(args wire.Args, name string) (map[string]string, error) {
	value, exists := args.Value(name)
	if !exists || value == nil {
		return nil, nil
	}
	entries, err := args.Map(name)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	decoded := make(map[string]string, len(entries))
	for key, entry := range entries {
		item, ok := entry.(string)
		if !ok {
			return nil, trace.BadParameter(
				"parameter %v: entry %q is %T, not a string", name, key, entry)
		}
		decoded[key] = item
	}
	return decoded, nil
}

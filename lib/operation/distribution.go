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
	"strings"
	"sync"

	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/watcher"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Hook runs server-side when the distribution finishes. Returned operations
// are prepended to the distribution's successor list.
type Hook func(ctx context.Context, env *Env) ([]Operation, error)

// Config configures a distribution
type Config struct {
	// Commands are the alternative command trees. Closed distributions
	// spread workers over them per the selector, open distributions take
	// exactly one.
	Commands []command.Command
	// Selector picks the workers of a closed distribution, defaults to All
	Selector Selector
	// Open admits every worker that comes online while the distribution
	// runs. Open distributions have no finish condition, they run until
	// stopped.
	Open bool
	// SetFlags are applied to a worker when its subtree terminates
	SetFlags []string
	// RemoveFlags are removed from a worker when its subtree terminates
	RemoveFlags []string
	// SimultaneousExecution bounds concurrently active workers, 0 means
	// unlimited
	SimultaneousExecution int
	// Successors are operations spliced after the distribution completes
	Successors []Operation
	// OnFinish hooks run between execution_finished and completed, their
	// returned operations are prepended to Successors
	OnFinish []Hook
	// FieldLogger is optional
	FieldLogger logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	if len(c.Commands) == 0 {
		return trace.BadParameter("missing parameter Commands")
	}
	if c.Open && len(c.Commands) != 1 {
		return trace.BadParameter("open distributions take exactly one command, got %v",
			len(c.Commands))
	}
	if c.SimultaneousExecution < 0 {
		return trace.BadParameter("SimultaneousExecution must not be negative, got %v",
			c.SimultaneousExecution)
	}
	if !c.Open && c.Selector == nil {
		c.Selector = All{}
	}
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithField(trace.Component, constants.ComponentOps)
	}
	return nil
}

// NewDistribution returns an inert distribution in created state
func NewDistribution(config Config) (*Distribution, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Distribution{
		FieldLogger: config.FieldLogger,
		config:      config,
		status:      StatusCreated,
		rows:        make(map[string]*row),
		byID:        make(map[string]command.Command),
		finished:    make(map[string]bool),
		successors:  config.Successors,
	}, nil
}

// Distribution dispatches command trees to a set of workers and tracks
// per-worker, per-command progress. All state transitions are serialized
// behind its mutex; topology edges arrive through the Observer callbacks.
type Distribution struct {
	logrus.FieldLogger
	config Config

	mu     sync.Mutex
	id     string
	status string
	// env is captured at init so topology callbacks can reach the server
	// state
	env *Env
	// rows tracks each known worker, nil rows mark workers outside the
	// selection
	rows map[string]*row
	// byID indexes every command of every alternative by UUID
	byID map[string]command.Command
	// finished marks command UUIDs whose completion hook already fired
	finished map[string]bool
	// nextIndex numbers selected workers in admission order
	nextIndex  int
	successors []Operation
}

// row tracks one selected worker's progress
type row struct {
	// alternative is the index of the command tree assigned to the worker
	alternative int
	// index numbers the worker within the selection, used for per-node
	// command customization
	index int
	// main is the worker's main command UUID
	main string
	// ids is the worker's subtree UUID set in depth-first order
	ids []string
	// status maps reported command UUIDs to their latest status. Only the
	// main command is tracked from dispatch, subtree entries appear as the
	// worker reports them.
	status map[string]string
	// flagsApplied records that the terminal flag changes already ran
	flagsApplied bool
}

// String describes the distribution in logs
func (d *Distribution) String() string {
	types := make([]string, 0, len(d.config.Commands))
	for _, cmd := range d.config.Commands {
		types = append(types, cmd.WireType())
	}
	kind := "distribution"
	if d.config.Open {
		kind = "open distribution"
	}
	return fmt.Sprintf("%v(%v)", kind, strings.Join(types, "|"))
}

// ID returns the UUID of the first command tree's root, empty before init
func (d *Distribution) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// Status returns the current distribution status
func (d *Distribution) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Open returns true when the distribution admits late joiners
func (d *Distribution) Open() bool {
	return d.config.Open
}

// Completed returns true when the distribution has fully finished
func (d *Distribution) Completed() bool {
	return d.Status() == StatusCompleted
}

// Owns returns true when the command UUID belongs to this distribution
func (d *Distribution) Owns(commandID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, owns := d.byID[commandID]
	return owns
}

// Init assigns identities, selects workers, builds the status table and
// runs the command init hooks. An empty selection completes a closed
// distribution immediately. Errors roll the status back to created so the
// next dispatch retries.
func (d *Distribution) Init(ctx context.Context, env *Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != StatusCreated {
		return trace.BadParameter("distribution is %v, expected %v", d.status, StatusCreated)
	}
	d.status = StatusBooting
	d.env = env
	if d.id == "" {
		for _, tree := range d.config.Commands {
			command.AssignIDs(tree)
			for _, cmd := range command.Subtree(tree) {
				d.byID[cmd.ID()] = cmd
			}
		}
		// the first tree's root identifies the distribution
		d.id = d.config.Commands[0].ID()
	}
	d.rows = make(map[string]*row)
	d.nextIndex = 0

	selection, err := d.selectWorkers(env)
	if err != nil {
		d.status = StatusCreated
		return trace.Wrap(err)
	}
	for _, node := range env.Topology.Clients() {
		if _, selected := selection[node.Name]; !selected {
			d.rows[node.Name] = nil
		}
	}
	for _, name := range selection.Workers() {
		d.addRowLocked(name, selection[name])
	}

	if err := d.runInitHooksLocked(ctx); err != nil {
		d.status = StatusCreated
		return trace.Wrap(err)
	}

	if len(selection) == 0 && !d.config.Open {
		d.WithField(constants.FieldDistributionID, d.id).Info(
			"Selection is empty, completing immediately.")
		return trace.Wrap(d.finishLocked(ctx))
	}

	env.Topology.AddObserver(d)
	d.status = StatusExecution
	d.WithFields(logrus.Fields{
		constants.FieldDistributionID: d.id,
		"workers":                     selection.Workers(),
	}).Info("Distribution entered execution.")
	return nil
}

func (d *Distribution) selectWorkers(env *Env) (Selection, error) {
	online := env.Topology.OnlineClients()
	if d.config.Open {
		selection, err := assignAlternatives(nodeNames(online), len(d.config.Commands))
		return selection, trace.Wrap(err)
	}
	selection, err := d.config.Selector.Select(online, len(d.config.Commands))
	return selection, trace.Wrap(err)
}

func (d *Distribution) addRowLocked(name string, alternative int) {
	ids := command.SubtreeIDs(d.config.Commands[alternative])
	d.rows[name] = &row{
		alternative: alternative,
		index:       d.nextIndex,
		main:        ids[0],
		ids:         ids,
		status:      map[string]string{ids[0]: command.StatusUnrequested},
	}
	d.nextIndex++
}

// tracks returns true when the command belongs to the worker's subtree
func (r *row) tracks(id string) bool {
	for _, known := range r.ids {
		if known == id {
			return true
		}
	}
	return false
}

func (d *Distribution) runInitHooksLocked(ctx context.Context) error {
	for _, tree := range d.config.Commands {
		for _, cmd := range command.Subtree(tree) {
			initializer, ok := cmd.(command.Initializer)
			if !ok {
				continue
			}
			if err := initializer.OnInit(ctx, d.env.hookEnv(d.id, "")); err != nil {
				return trace.Wrap(err, "init hook of %v failed", cmd.WireType())
			}
		}
	}
	return nil
}

// InferCommand returns the worker's command tree when the worker is
// selected, not yet served and the concurrency bound permits, nil
// otherwise. The returned tree is a per-worker clone with node
// customizations applied.
func (d *Distribution) InferCommand(ctx context.Context, node string) (command.Command, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != StatusExecution {
		return nil, nil
	}
	r := d.rows[node]
	if r == nil {
		return nil, nil
	}
	if r.status[r.main] != command.StatusUnrequested {
		return nil, nil
	}
	if max := d.config.SimultaneousExecution; max > 0 && d.activeLocked() >= max {
		return nil, nil
	}
	clone, err := command.Clone(d.env.Codec, d.config.Commands[r.alternative])
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, cmd := range command.Subtree(clone) {
		if customizer, ok := cmd.(command.NodeCustomizer); ok {
			if err := customizer.CustomizeForNode(node, r.index); err != nil {
				return nil, trace.Wrap(err)
			}
		}
	}
	r.status[r.main] = command.StatusSend
	d.WithFields(logrus.Fields{
		constants.FieldDistributionID: d.id,
		constants.FieldCommandID:      r.main,
		constants.FieldNode:           node,
	}).Info("Dispatching command tree.")
	return clone, nil
}

// activeLocked counts workers whose main command is in flight
func (d *Distribution) activeLocked() int {
	active := 0
	for _, r := range d.rows {
		if r == nil {
			continue
		}
		switch r.status[r.main] {
		case command.StatusSend, command.StatusStarted:
			active++
		}
	}
	return active
}

// HandleStatusUpdate absorbs one worker report into the table, runs the
// affected hooks and advances the distribution when the table becomes
// terminal
func (d *Distribution) HandleStatusUpdate(ctx context.Context, update command.StatusUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	logger := d.WithFields(logrus.Fields{
		constants.FieldDistributionID: d.id,
		constants.FieldCommandID:      update.CommandID,
		constants.FieldNode:           update.Node,
	})
	r := d.rows[update.Node]
	if r == nil {
		logger.Debug("Ignoring update from worker outside the selection.")
		return nil
	}
	if !r.tracks(update.CommandID) {
		logger.Debug("Ignoring update for a command outside the worker's subtree.")
		return nil
	}
	r.status[update.CommandID] = update.StatusCode
	logger.Debugf("Absorbed status %v.", update.StatusCode)

	if update.StatusCode == command.StatusFinished {
		if handler, ok := d.byID[update.CommandID].(command.ClientFinishHandler); ok {
			err := handler.OnClientFinish(
				ctx, d.env.hookEnv(d.id, update.Node), update.Node, update.Response)
			if err != nil {
				logger.WithError(err).Warn("Client finish hook failed.")
			}
		}
	}

	// a failed main means nothing else will run on this worker
	if update.StatusCode == command.StatusFailed && update.CommandID == r.main {
		for _, id := range r.ids {
			if !command.IsTerminalStatus(r.status[id]) {
				r.status[id] = command.StatusExcluded
			}
		}
	}

	if rowTerminal(r) && !r.flagsApplied {
		r.flagsApplied = true
		d.applyFlagsLocked(update.Node)
	}

	d.checkCommandsFinishedLocked(ctx)

	if !d.config.Open && d.status == StatusExecution && d.allRowsTerminalLocked() {
		return trace.Wrap(d.finishLocked(ctx))
	}
	return nil
}

// rowTerminal returns true when every reported command of the row is
// terminal. The main command is tracked from dispatch, so an untouched row
// is never terminal.
func rowTerminal(r *row) bool {
	for _, status := range r.status {
		if !command.IsTerminalStatus(status) {
			return false
		}
	}
	return true
}

func (d *Distribution) allRowsTerminalLocked() bool {
	for _, r := range d.rows {
		if r == nil {
			continue
		}
		if !rowTerminal(r) {
			return false
		}
	}
	return true
}

func (d *Distribution) applyFlagsLocked(node string) {
	for _, flag := range d.config.SetFlags {
		if err := d.env.Topology.SetFlag(node, flag); err != nil {
			d.WithError(err).Warnf("Failed to set flag %q on %v.", flag, node)
		}
	}
	for _, flag := range d.config.RemoveFlags {
		if err := d.env.Topology.RemoveFlag(node, flag); err != nil {
			d.WithError(err).Warnf("Failed to remove flag %q from %v.", flag, node)
		}
	}
}

// checkCommandsFinishedLocked fires the completion hook and notification
// for every command that just became terminal on all selected workers
func (d *Distribution) checkCommandsFinishedLocked(ctx context.Context) {
	for id := range d.byID {
		if d.finished[id] {
			continue
		}
		if !d.commandTerminalEverywhereLocked(id) {
			continue
		}
		d.commandFinishedLocked(ctx, id)
	}
}

// commandTerminalEverywhereLocked returns true when the command is tracked
// by at least one row and terminal in every row tracking it
func (d *Distribution) commandTerminalEverywhereLocked(id string) bool {
	tracked := false
	for _, r := range d.rows {
		if r == nil {
			continue
		}
		status, exists := r.status[id]
		if !exists {
			continue
		}
		tracked = true
		if !command.IsTerminalStatus(status) {
			return false
		}
	}
	return tracked
}

func (d *Distribution) commandFinishedLocked(ctx context.Context, id string) {
	d.finished[id] = true
	cmd := d.byID[id]
	if handler, ok := cmd.(command.CompletionHandler); ok {
		if err := handler.OnAllClientsFinished(ctx, d.env.hookEnv(d.id, "")); err != nil {
			d.WithError(err).Warnf("Completion hook of %v failed.", cmd.WireType())
		}
	}
	d.env.notify(watcher.CommandFinished{
		CommandID:      id,
		CommandType:    cmd.WireType(),
		DistributionID: d.id,
	}, constants.ComponentOps)
}

// finishLocked drives execution_finished through the finish hooks to
// completed, freeing per-distribution registry state and the topology
// registration
func (d *Distribution) finishLocked(ctx context.Context) error {
	d.status = StatusExecutionFinished
	// flush completion hooks for commands that never became terminal
	// everywhere, e.g. an alternative whose only worker went offline
	for id := range d.byID {
		if !d.finished[id] {
			d.commandFinishedLocked(ctx, id)
		}
	}
	for _, hook := range d.config.OnFinish {
		successors, err := hook(ctx, d.env)
		if err != nil {
			return trace.Wrap(err, "finish hook failed")
		}
		d.successors = append(successors, d.successors...)
	}
	d.status = StatusCompleted
	if d.env.Resources.Contains(d.id) {
		if err := d.env.Resources.Remove(d.id); err != nil {
			d.WithError(err).Warn("Failed to free distribution resources.")
		}
	}
	d.env.Topology.RemoveObserver(d)
	d.WithField(constants.FieldDistributionID, d.id).Info("Distribution completed.")
	return nil
}

// Stop finishes the distribution regardless of table state. This is the
// only way an open distribution terminates.
func (d *Distribution) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != StatusExecution {
		return nil
	}
	return trace.Wrap(d.finishLocked(ctx))
}

// TakeSuccessors returns and clears the successor operations
func (d *Distribution) TakeSuccessors() []Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	successors := d.successors
	d.successors = nil
	return successors
}

// Snapshot returns a point-in-time copy of the distribution state
func (d *Distribution) Snapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := make(Table, len(d.rows))
	for node, r := range d.rows {
		if r == nil {
			table[node] = nil
			continue
		}
		statuses := make(map[string]string, len(r.status))
		for id, status := range r.status {
			statuses[id] = status
		}
		table[node] = statuses
	}
	return Status{
		ID:          d.id,
		Description: d.String(),
		Status:      d.status,
		Table:       table,
	}
}

// OnNodeOnline admits the worker into a running open distribution
func (d *Distribution) OnNodeOnline(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.config.Open || d.status != StatusExecution {
		return
	}
	if r, exists := d.rows[name]; exists && r != nil {
		return
	}
	d.addRowLocked(name, 0)
	d.WithFields(logrus.Fields{
		constants.FieldDistributionID: d.id,
		constants.FieldNode:           name,
	}).Info("Admitted worker.")
}

// OnNodeOffline drops the worker's in-flight work: open distributions
// evict the row, closed distributions null it out and re-check the finish
// condition
func (d *Distribution) OnNodeOffline(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != StatusExecution {
		return
	}
	r, exists := d.rows[name]
	if !exists || r == nil {
		return
	}
	d.WithFields(logrus.Fields{
		constants.FieldDistributionID: d.id,
		constants.FieldNode:           name,
	}).Warn("Worker went offline, dropping its work.")
	if d.config.Open {
		delete(d.rows, name)
		return
	}
	d.rows[name] = nil
	ctx := context.TODO()
	d.checkCommandsFinishedLocked(ctx)
	if d.allRowsTerminalLocked() {
		if err := d.finishLocked(ctx); err != nil {
			d.WithError(err).Warn("Failed to finish distribution.")
		}
	}
}

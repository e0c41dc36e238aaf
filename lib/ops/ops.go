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

// Package ops implements the server-side interpreter of an operation
// program. The Manager owns the ordered operation list and advances it
// one step per worker poll: the pull request is the scheduling tick.
package ops

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/drover-io/drover/lib/blob"
	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/operation"
	"github.com/drover-io/drover/lib/transport"
	"github.com/drover-io/drover/lib/watcher"
	"github.com/drover-io/drover/lib/wire"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Config holds the interpreter configuration
type Config struct {
	// Program is the operation program to interpret
	Program *Program
	// Env is the server state operations run against
	Env *operation.Env
	// FieldLogger is the interpreter's logger
	logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	if c.Program == nil {
		return trace.BadParameter("missing parameter Program")
	}
	if err := c.Program.Err(); err != nil {
		return trace.Wrap(err)
	}
	if c.Env == nil {
		return trace.BadParameter("missing parameter Env")
	}
	if err := c.Env.Check(); err != nil {
		return trace.Wrap(err)
	}
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithField(trace.Component, constants.ComponentOps)
	}
	return nil
}

// Manager interprets an operation program. It serves commands to polling
// workers, routes their status updates to the distribution that owns the
// reported command and republishes absorbed updates on the notification
// pool. All mutation of the operation list happens on the dispatch path
// behind the manager's mutex; distributions serialize their own tables.
type Manager struct {
	logrus.FieldLogger
	config Config

	// ctx bounds background actions, canceled on Close
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	queue []operation.Operation
	open  *operation.Distribution
	// action is the running server-local action, nil when none
	action *actionState
	// history keeps snapshots of completed distributions for GetStatus
	history []operation.Status
	failure error
	closed  bool
	done    chan struct{}
}

// New returns a manager interpreting the configured program. The open
// distribution, when one is configured, is initialized here so it starts
// admitting workers as they connect.
func New(config Config) (*Manager, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		FieldLogger: config.FieldLogger,
		config:      config,
		ctx:         ctx,
		cancel:      cancel,
		queue:       append([]operation.Operation{}, config.Program.queue...),
		open:        config.Program.open,
		done:        make(chan struct{}),
	}
	if m.open != nil {
		if err := m.open.Init(ctx, config.Env); err != nil {
			cancel()
			return nil, trace.Wrap(err)
		}
	}
	return m, nil
}

// Done is closed when the program ran to completion or halted on a
// failure. Err tells the two apart.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Err returns the failure that halted the program, nil while it runs or
// after a clean completion
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Close stops the interpreter: the running action is canceled and the
// open distribution, if any, is stopped.
func (m *Manager) Close() error {
	m.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open != nil && m.open.Status() == operation.StatusExecution {
		if err := m.open.Stop(context.TODO()); err != nil {
			m.WithError(err).Warn("Failed to stop open distribution.")
		}
	}
	m.finishLocked(m.failure)
	return nil
}

// GetNextCommand returns the next command for the polling worker, nil
// when there is nothing to dispatch. Each invocation advances the
// program by at most one step.
func (m *Manager) GetNextCommand(ctx context.Context, node string) (command.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil
	}
	for _, condition := range m.config.Program.permanent {
		resolved, err := condition.Resolved(m.config.Env)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if !resolved {
			return nil, nil
		}
	}
	// a running action blocks all dispatch
	if m.action != nil && !m.action.finished() {
		return nil, nil
	}
	if m.open != nil {
		cmd, err := m.open.InferCommand(ctx, node)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if cmd != nil {
			return cmd, nil
		}
	}
	return m.advanceLocked(ctx, node)
}

// advanceLocked works the head of the operation list until it can serve
// a command, must wait, or runs out of operations
func (m *Manager) advanceLocked(ctx context.Context, node string) (command.Command, error) {
	for {
		if len(m.queue) == 0 {
			if m.open == nil {
				m.finishLocked(nil)
			}
			return nil, nil
		}
		switch op := m.queue[0].(type) {
		case operation.Condition:
			resolved, err := op.Resolved(m.config.Env)
			if err != nil {
				m.finishLocked(trace.Wrap(err))
				return nil, trace.Wrap(err)
			}
			if !resolved {
				return nil, nil
			}
			m.Infof("Condition %v resolved.", op)
			m.queue = m.queue[1:]
		case operation.Action:
			if m.action == nil {
				m.action = newActionState(op)
				m.Infof("Spawning action %v.", op)
				go m.runAction(m.action)
				return nil, nil
			}
			// finished, or dispatch would have returned above
			state := m.action
			m.action = nil
			if state.err != nil {
				m.finishLocked(trace.Wrap(state.err))
				return nil, trace.Wrap(state.err)
			}
			m.Infof("Action %v yielded %v successor(s).", op, len(state.successors))
			m.queue = splice(state.successors, m.queue[1:])
		case *operation.Distribution:
			if op.Status() == operation.StatusCreated {
				if err := op.Init(ctx, m.config.Env); err != nil {
					m.finishLocked(trace.Wrap(err))
					return nil, trace.Wrap(err)
				}
			}
			if op.Completed() {
				m.history = append(m.history, op.Snapshot())
				m.queue = splice(op.TakeSuccessors(), m.queue[1:])
				continue
			}
			cmd, err := op.InferCommand(ctx, node)
			return cmd, trace.Wrap(err)
		default:
			err := trace.BadParameter("unknown operation type %T", op)
			m.finishLocked(err)
			return nil, err
		}
	}
}

// finishLocked seals the program exactly once
func (m *Manager) finishLocked(err error) {
	if m.closed {
		return
	}
	m.closed = true
	m.failure = err
	if err != nil {
		m.WithError(err).Warn("Program halted.")
	} else {
		m.Info("Program complete.")
	}
	close(m.done)
}

// HandleServerRequest answers a typed worker request. Every request
// doubles as a liveness heartbeat for the requesting worker.
func (m *Manager) HandleServerRequest(ctx context.Context, req wire.Value, node string) (*command.Response, error) {
	m.heartbeat(node)
	switch req.Datatype {
	case constants.RequestPullCommand:
		cmd, err := m.GetNextCommand(ctx, node)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if cmd == nil {
			return &command.Response{}, nil
		}
		envelope, err := wire.Encode(cmd)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		response, err := transport.NewCommandResponse(envelope)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return response, nil
	case constants.RequestLogout:
		if node == "" {
			return nil, trace.BadParameter("logout requires a node identity")
		}
		if err := m.config.Env.Topology.SetOffline(node); err != nil {
			if !trace.IsNotFound(err) {
				return nil, trace.Wrap(err)
			}
		}
		m.WithField(constants.FieldNode, node).Info("Worker logged out.")
		return &command.Response{}, nil
	case constants.RequestGetStatus:
		response, err := statusResponse(m.Snapshot())
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return response, nil
	}
	return nil, trace.BadParameter("unknown server request %q", req.Datatype)
}

// HandleStatusUpdate materializes the response files carried by the
// update, routes it to the owning distribution and republishes it on
// the notification pool. Updates for commands no live distribution owns
// are dropped: the worker may be reporting for an already completed
// distribution.
func (m *Manager) HandleStatusUpdate(ctx context.Context, update command.StatusUpdate) error {
	if err := update.Check(); err != nil {
		return trace.Wrap(err)
	}
	m.heartbeat(update.Node)
	if update.Response != nil && len(update.Response.FileIDs) > 0 {
		objects, err := m.storage()
		if err != nil {
			return trace.Wrap(err)
		}
		if err := update.Response.Materialize(objects); err != nil {
			return trace.Wrap(err, "failed to materialize response files of command %v", update.CommandID)
		}
	}
	m.mu.Lock()
	target := m.ownerLocked(update.CommandID)
	m.mu.Unlock()
	if target == nil {
		m.WithFields(logrus.Fields{
			constants.FieldCommandID: update.CommandID,
			constants.FieldNode:      update.Node,
		}).Debug("Dropping status update for unowned command.")
		return nil
	}
	if err := target.HandleStatusUpdate(ctx, update); err != nil {
		return trace.Wrap(err)
	}
	m.publish(update)
	return nil
}

// ownerLocked resolves the live distribution tracking the command
func (m *Manager) ownerLocked(commandID string) *operation.Distribution {
	if m.open != nil && m.open.Owns(commandID) {
		return m.open
	}
	if len(m.queue) == 0 {
		return nil
	}
	if dist, ok := m.queue[0].(*operation.Distribution); ok && dist.Owns(commandID) {
		return dist
	}
	return nil
}

// publish mirrors the absorbed update on the notification pool, plus a
// metric notification when the response carries measurements
func (m *Manager) publish(update command.StatusUpdate) {
	pool := m.config.Env.Watchers
	if pool == nil {
		return
	}
	pool.NotifyAll(watcher.StatusUpdate{
		Node:        update.Node,
		CommandID:   update.CommandID,
		StatusCode:  update.StatusCode,
		CommandType: update.Datatype,
	}, constants.ComponentOps)
	if update.Response == nil || update.Response.ResponseType != command.ResponseTypeMetric {
		return
	}
	round, epoch, split, values, err := update.Response.Metrics()
	if err != nil {
		m.WithError(err).WithField(constants.FieldNode, update.Node).
			Warn("Dropping malformed metric response.")
		return
	}
	metricType, _ := update.Response.Data["metric_type"].(string)
	pool.NotifyAll(watcher.Metric{
		Node:       update.Node,
		CommandID:  update.CommandID,
		Round:      round,
		Epoch:      epoch,
		Split:      split,
		MetricType: metricType,
		Values:     values,
	}, constants.ComponentOps)
}

// heartbeat refreshes the liveness of the contacting worker. Unknown
// identities and non-worker roles pass through silently: observers and
// the server's own CLI authenticate too.
func (m *Manager) heartbeat(name string) {
	if name == "" {
		return
	}
	node, err := m.config.Env.Topology.Node(name)
	if err != nil || node.Role != constants.RoleClient {
		return
	}
	if err := m.config.Env.Topology.SetOnline(name); err != nil {
		m.WithError(err).WithField(constants.FieldNode, name).
			Warn("Failed to refresh worker liveness.")
	}
}

// storage returns the server blob store from the resource registry
func (m *Manager) storage() (blob.Objects, error) {
	value, err := m.config.Env.Resources.Get(constants.RegistryStorageKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	objects, ok := value.(blob.Objects)
	if !ok {
		return nil, trace.BadParameter("registry key %q holds %T, not a blob store",
			constants.RegistryStorageKey, value)
	}
	return objects, nil
}

// ProgramStatus is a point-in-time view of the whole program
type ProgramStatus struct {
	// Complete is true once every operation ran
	Complete bool `json:"complete"`
	// Error is the failure that halted the program, empty otherwise
	Error string `json:"error,omitempty"`
	// Distributions lists distribution snapshots: completed ones first,
	// then the open distribution, then the queued ones in program order
	Distributions []operation.Status `json:"distributions"`
}

// Snapshot captures the program state for status rendering
func (m *Manager) Snapshot() ProgramStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := ProgramStatus{
		Complete: m.closed && m.failure == nil,
	}
	if m.failure != nil {
		status.Error = m.failure.Error()
	}
	status.Distributions = append(status.Distributions, m.history...)
	if m.open != nil {
		status.Distributions = append(status.Distributions, m.open.Snapshot())
	}
	for _, op := range m.queue {
		if dist, ok := op.(*operation.Distribution); ok {
			status.Distributions = append(status.Distributions, dist.Snapshot())
		}
	}
	return status
}

// ParseStatus recovers a program status from a GetStatus reply
func ParseStatus(response *command.Response) (*ProgramStatus, error) {
	if response == nil || response.Data == nil {
		return nil, trace.BadParameter("empty status response")
	}
	payload, err := json.Marshal(response.Data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var status ProgramStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, trace.Wrap(err)
	}
	return &status, nil
}

// statusResponse packs the snapshot into a server request reply
func statusResponse(status ProgramStatus) (*command.Response, error) {
	payload, err := json.Marshal(status)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, trace.Wrap(err)
	}
	return &command.Response{Data: data}, nil
}

// actionState tracks one spawned server-local action
type actionState struct {
	action     operation.Action
	done       chan struct{}
	successors []operation.Operation
	err        error
}

func newActionState(action operation.Action) *actionState {
	return &actionState{action: action, done: make(chan struct{})}
}

func (s *actionState) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// runAction executes the action off the dispatch path. The result is
// absorbed by the next dispatch once done is closed.
func (m *Manager) runAction(state *actionState) {
	successors, err := state.action.Run(m.ctx, m.config.Env)
	if err != nil {
		m.WithError(err).Warnf("Action %v failed.", state.action)
	}
	state.successors, state.err = successors, err
	close(state.done)
}

// splice prepends the successors of a popped operation to the remainder
// of the queue
func splice(successors, rest []operation.Operation) []operation.Operation {
	return append(append([]operation.Operation{}, successors...), rest...)
}

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

// Package agent implements the worker: a pull task that polls the server
// for commands and an execute task that runs them one at a time. The two
// tasks share a FIFO queue, the pull task never blocks on execution.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/drover-io/drover/lib/blob"
	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/defaults"
	"github.com/drover-io/drover/lib/registry"
	"github.com/drover-io/drover/lib/transport"
	"github.com/drover-io/drover/lib/utils"
	"github.com/drover-io/drover/lib/watcher"
	"github.com/drover-io/drover/lib/wire"

	"github.com/cenkalti/backoff"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Config is the worker agent configuration
type Config struct {
	// NodeName names this worker in the run topology
	NodeName string
	// Messenger is the carrier connection to the server
	Messenger transport.Messenger
	// Codec decodes pulled command envelopes. Defaults to a registry
	// with the built-in commands installed
	Codec *wire.Registry
	// Storage is the worker's handle on the shared blob store, optional
	// for workers that never exchange files
	Storage blob.Objects
	// Watchers is the worker-local notification pool
	Watchers *watcher.Pool
	// Resources is the worker's resource registry. New pre-populates the
	// device, storage and watcher keys
	Resources *registry.Registry
	// Device is the compute device commands run against
	Device string
	// AllowedCommands lists the only command types this worker executes,
	// empty allows all
	AllowedCommands []string
	// DeniedCommands lists command types this worker refuses, it wins
	// over AllowedCommands
	DeniedCommands []string
	// PullInterval is the pause between successful polls
	PullInterval time.Duration
	// IdleInterval is the pause of the execute task on an empty queue
	IdleInterval time.Duration
	// PullBackoff paces retries after failed polls. Defaults to an
	// exponential backoff capped at PullBackoffCeiling
	PullBackoff backoff.BackOff
	// Clock is used for loop pacing
	Clock clockwork.Clock
	// FieldLogger is the logger the agent logs with
	logrus.FieldLogger
}

// CheckAndSetDefaults validates this configuration object
func (c *Config) CheckAndSetDefaults() error {
	if c.NodeName == "" {
		return trace.BadParameter("missing parameter NodeName")
	}
	if c.Messenger == nil {
		return trace.BadParameter("missing parameter Messenger")
	}
	if c.Codec == nil {
		c.Codec = wire.NewRegistry()
		if err := command.RegisterCommands(c.Codec); err != nil {
			return trace.Wrap(err)
		}
	}
	if c.Watchers == nil {
		pool, err := watcher.New(watcher.Config{})
		if err != nil {
			return trace.Wrap(err)
		}
		c.Watchers = pool
	}
	if c.Resources == nil {
		c.Resources = registry.NewRegistry()
	}
	if c.Device == "" {
		c.Device = defaults.Device
	}
	if c.PullInterval == 0 {
		c.PullInterval = defaults.PullInterval
	}
	if c.IdleInterval == 0 {
		c.IdleInterval = defaults.AgentIdleInterval
	}
	if c.PullBackoff == nil {
		c.PullBackoff = utils.NewCappedExponentialBackOff(defaults.PullBackoffCeiling)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithFields(logrus.Fields{
			trace.Component:     constants.ComponentAgent,
			constants.FieldNode: c.NodeName,
		})
	}
	return nil
}

// Agent is a worker. It polls the server for serialized commands,
// executes them one at a time and reports every transition back
type Agent struct {
	logrus.FieldLogger
	config Config
	env    *command.Env

	mu    sync.Mutex
	queue []*wire.Value
	fatal error
}

// New returns an agent over the given carrier. The worker joins the run
// on its first successful poll
func New(config Config) (*Agent, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := config.Resources.Set(constants.RegistryDeviceKey, config.Device); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := config.Resources.Set(constants.RegistryWatcherKey, config.Watchers); err != nil {
		return nil, trace.Wrap(err)
	}
	if config.Storage != nil {
		if err := config.Resources.Set(constants.RegistryStorageKey, config.Storage); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	agent := &Agent{
		FieldLogger: config.FieldLogger,
		config:      config,
	}
	agent.env = &command.Env{
		Node:        config.NodeName,
		Resources:   config.Resources,
		Reporter:    messengerReporter{config.Messenger},
		FieldLogger: config.FieldLogger,
	}
	return agent, nil
}

// Run drives both tasks until the context is canceled or the server
// rejects the worker's credentials. On a graceful stop the agent logs
// out so the server marks it offline right away
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		a.pullLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		a.executeLoop(ctx)
	}()
	wg.Wait()
	if err := a.fatalError(); err != nil {
		return trace.Wrap(err)
	}
	a.logout()
	return nil
}

// pullLoop polls the server for the next command. Transport errors are
// swallowed and retried with a capped backoff, an authentication failure
// ends the loop
func (a *Agent) pullLoop(ctx context.Context) {
	retry := a.config.PullBackoff
	for {
		pause := a.config.PullInterval
		envelope, err := transport.PullCommand(ctx, a.config.Messenger)
		switch {
		case err == nil:
			retry.Reset()
			if envelope != nil {
				a.Infof("Pulled command %v.", envelope.Datatype)
				a.push(envelope)
			}
		case trace.IsAccessDenied(err):
			a.WithError(err).Error("Server rejected this worker's credentials.")
			a.setFatal(err)
			return
		case ctx.Err() != nil:
			return
		default:
			pause = nextPause(retry, a.config.PullInterval)
			a.WithError(err).Warnf("Failed to pull command, retrying in %v.", pause)
		}
		select {
		case <-ctx.Done():
			return
		case <-a.config.Clock.After(pause):
		}
	}
}

// executeLoop pops and runs queued commands one at a time, sleeping
// briefly when the queue is empty
func (a *Agent) executeLoop(ctx context.Context) {
	for {
		envelope := a.pop()
		if envelope == nil {
			select {
			case <-ctx.Done():
				return
			case <-a.config.Clock.After(a.config.IdleInterval):
			}
			continue
		}
		a.dispatch(ctx, *envelope)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// dispatch runs one pulled envelope: decode, screen against the
// allow/deny lists, execute. Exactly one terminal status update leaves
// this method per decoded command, the refusal's FAILED or the bracket
// written by command.Run
func (a *Agent) dispatch(ctx context.Context, envelope wire.Value) {
	decoded, err := a.config.Codec.Decode(envelope)
	if err != nil {
		a.WithError(err).Warnf("Dropping undecodable %v envelope.", envelope.Datatype)
		return
	}
	cmd, ok := decoded.(command.Command)
	if !ok {
		a.Warnf("Dropping %v envelope, decodes to %T which is not a command.", envelope.Datatype, decoded)
		return
	}
	logger := a.WithField(constants.FieldCommandID, cmd.ID())
	if err := a.screen(cmd); err != nil {
		logger.WithError(err).Warn("Refusing command.")
		refused := command.NewStatusUpdate(cmd, a.config.NodeName, command.StatusFailed, &command.Response{
			Data: map[string]interface{}{"error": err.Error()},
		})
		if err := a.config.Messenger.SendStatusUpdate(ctx, refused); err != nil {
			logger.WithError(err).Warn("Failed to report the refusal.")
		}
		return
	}
	logger.Infof("Executing %v.", cmd.WireType())
	if _, err := command.Run(ctx, cmd, a.env); err != nil {
		logger.WithError(err).Warn("Command failed.")
		return
	}
	logger.Info("Command finished.")
}

// screen enforces the allow/deny lists over the whole subtree, deny wins
func (a *Agent) screen(cmd command.Command) error {
	for _, c := range command.Subtree(cmd) {
		if err := a.screenType(c.WireType()); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (a *Agent) screenType(wireType string) error {
	if utils.StringInSlice(a.config.DeniedCommands, wireType) {
		return trace.AccessDenied("command type %v is denied on this worker", wireType)
	}
	if len(a.config.AllowedCommands) == 0 || utils.StringInSlice(a.config.AllowedCommands, wireType) {
		return nil
	}
	return trace.AccessDenied("command type %v is not allowed on this worker", wireType)
}

// logout tells the server this worker is leaving, best effort
func (a *Agent) logout() {
	ctx, cancel := context.WithTimeout(context.Background(), defaults.LogoutTimeout)
	defer cancel()
	if err := transport.Logout(ctx, a.config.Messenger); err != nil {
		a.WithError(err).Warn("Failed to log out.")
	}
}

func (a *Agent) push(envelope *wire.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, envelope)
}

func (a *Agent) pop() *wire.Value {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return nil
	}
	envelope := a.queue[0]
	a.queue = a.queue[1:]
	return envelope
}

func (a *Agent) setFatal(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fatal == nil {
		a.fatal = err
	}
}

func (a *Agent) fatalError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

// nextPause asks the retry interval for the next pause, falling back to
// the regular cadence once the interval gives up
func nextPause(retry backoff.BackOff, fallback time.Duration) time.Duration {
	pause := retry.NextBackOff()
	if pause == backoff.Stop {
		return fallback
	}
	return pause
}

// messengerReporter adapts the carrier to the reporter seam commands
// publish transitions through
type messengerReporter struct {
	transport.Messenger
}

func (r messengerReporter) Report(ctx context.Context, update command.StatusUpdate) error {
	return trace.Wrap(r.SendStatusUpdate(ctx, update))
}

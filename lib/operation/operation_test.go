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
	"sync"
	"testing"

	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/registry"
	"github.com/drover-io/drover/lib/topology"
	"github.com/drover-io/drover/lib/watcher"
	"github.com/drover-io/drover/lib/wire"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"gopkg.in/check.v1"
)

func TestOperation(t *testing.T) { check.TestingT(t) }

type OperationSuite struct{}

var _ = check.Suite(&OperationSuite{})

func (s *OperationSuite) newEnv(c *check.C, clients ...string) *Env {
	nodes := []topology.Node{{Name: "server-1", Role: constants.RoleServer}}
	for _, name := range clients {
		nodes = append(nodes, topology.Node{Name: name, Role: constants.RoleClient})
	}
	pool, err := watcher.New(watcher.Config{})
	c.Assert(err, check.IsNil)
	topo, err := topology.New(topology.Config{Nodes: nodes, Watchers: pool})
	c.Assert(err, check.IsNil)
	codec := wire.NewRegistry()
	c.Assert(command.RegisterCommands(codec), check.IsNil)
	return &Env{
		Topology:    topo,
		Resources:   registry.NewRegistry(),
		Watchers:    pool,
		Codec:       codec,
		FieldLogger: logrus.WithField(trace.Component, "test"),
	}
}

// completeWorker reports the whole subtree started, then finished leaves
// first, root last, the way a worker executes it
func (s *OperationSuite) completeWorker(c *check.C, dist *Distribution, cmd command.Command, node string) {
	ctx := context.TODO()
	subtree := command.Subtree(cmd)
	for _, cc := range subtree {
		c.Assert(dist.HandleStatusUpdate(ctx, command.StatusUpdate{
			CommandID:  cc.ID(),
			StatusCode: command.StatusStarted,
			Datatype:   cc.WireType(),
			Node:       node,
		}), check.IsNil)
	}
	for i := len(subtree) - 1; i >= 0; i-- {
		cc := subtree[i]
		c.Assert(dist.HandleStatusUpdate(ctx, command.StatusUpdate{
			CommandID:  cc.ID(),
			StatusCode: command.StatusFinished,
			Datatype:   cc.WireType(),
			Node:       node,
		}), check.IsNil)
	}
}

func (s *OperationSuite) TestClosedDistributionLifecycle(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c, "node-1", "node-2")
	c.Assert(env.Topology.SetOnline("node-1"), check.IsNil)
	c.Assert(env.Topology.SetOnline("node-2"), check.IsNil)
	rec := &notificationRecorder{name: "rec"}
	env.Watchers.Add(rec)

	dist, err := NewDistribution(Config{
		Commands: []command.Command{command.NewPrint("hello")},
		SetFlags: []string{"served"},
	})
	c.Assert(err, check.IsNil)
	c.Assert(dist.Status(), check.Equals, StatusCreated)

	c.Assert(dist.Init(ctx, env), check.IsNil)
	c.Assert(dist.Status(), check.Equals, StatusExecution)
	c.Assert(dist.ID(), check.Not(check.Equals), "")

	cmd1, err := dist.InferCommand(ctx, "node-1")
	c.Assert(err, check.IsNil)
	c.Assert(cmd1, check.NotNil)
	c.Assert(dist.Owns(cmd1.ID()), check.Equals, true)

	// a worker is served its tree exactly once
	again, err := dist.InferCommand(ctx, "node-1")
	c.Assert(err, check.IsNil)
	c.Assert(again, check.IsNil)

	// unknown workers get nothing
	unknown, err := dist.InferCommand(ctx, "node-9")
	c.Assert(err, check.IsNil)
	c.Assert(unknown, check.IsNil)

	cmd2, err := dist.InferCommand(ctx, "node-2")
	c.Assert(err, check.IsNil)
	c.Assert(cmd2, check.NotNil)
	// alternatives are shared: both workers run the same tree identity
	c.Assert(cmd2.ID(), check.Equals, cmd1.ID())

	s.completeWorker(c, dist, cmd1, "node-1")
	c.Assert(dist.Completed(), check.Equals, false)
	s.completeWorker(c, dist, cmd2, "node-2")
	c.Assert(dist.Completed(), check.Equals, true)

	for _, name := range []string{"node-1", "node-2"} {
		node, err := env.Topology.Node(name)
		c.Assert(err, check.IsNil)
		c.Assert(node.HasFlag("served"), check.Equals, true, check.Commentf(name))
	}

	finished := rec.ofType(watcher.TypeCommandFinished)
	c.Assert(finished, check.HasLen, 1)
	c.Assert(finished[0].(watcher.CommandFinished).CommandID, check.Equals, cmd1.ID())

	snapshot := dist.Snapshot()
	c.Assert(snapshot.Status, check.Equals, StatusCompleted)
	c.Assert(snapshot.Table["node-1"][cmd1.ID()], check.Equals, command.StatusFinished)
	c.Assert(snapshot.Table["node-2"][cmd1.ID()], check.Equals, command.StatusFinished)
}

func (s *OperationSuite) TestEmptySelectionCompletesImmediately(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c, "node-1")
	// node-1 stays offline: nobody to select

	second, err := NewDistribution(Config{
		Commands: []command.Command{command.NewPrint("second")},
	})
	c.Assert(err, check.IsNil)
	third, err := NewDistribution(Config{
		Commands: []command.Command{command.NewPrint("third")},
	})
	c.Assert(err, check.IsNil)

	var hookRan bool
	dist, err := NewDistribution(Config{
		Commands:   []command.Command{command.NewPrint("first")},
		Successors: []Operation{third},
		OnFinish: []Hook{
			func(ctx context.Context, env *Env) ([]Operation, error) {
				hookRan = true
				return []Operation{second}, nil
			},
		},
	})
	c.Assert(err, check.IsNil)

	c.Assert(dist.Init(ctx, env), check.IsNil)
	c.Assert(dist.Completed(), check.Equals, true)
	c.Assert(hookRan, check.Equals, true)

	// hook successors are prepended to the declared ones
	successors := dist.TakeSuccessors()
	c.Assert(successors, check.HasLen, 2)
	c.Assert(successors[0], check.Equals, Operation(second))
	c.Assert(successors[1], check.Equals, Operation(third))
	c.Assert(dist.TakeSuccessors(), check.HasLen, 0)

	snapshot := dist.Snapshot()
	c.Assert(snapshot.Table["node-1"], check.IsNil)
}

func (s *OperationSuite) TestSimultaneousExecutionBackpressure(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c, "node-a", "node-b", "node-c", "node-d")
	for _, name := range []string{"node-a", "node-b", "node-c", "node-d"} {
		c.Assert(env.Topology.SetOnline(name), check.IsNil)
	}

	dist, err := NewDistribution(Config{
		Commands:              []command.Command{command.NewPrint("work")},
		SimultaneousExecution: 2,
	})
	c.Assert(err, check.IsNil)
	c.Assert(dist.Init(ctx, env), check.IsNil)

	cmdA, err := dist.InferCommand(ctx, "node-a")
	c.Assert(err, check.IsNil)
	c.Assert(cmdA, check.NotNil)
	cmdB, err := dist.InferCommand(ctx, "node-b")
	c.Assert(err, check.IsNil)
	c.Assert(cmdB, check.NotNil)

	// the bound is reached, the rest must wait
	cmdC, err := dist.InferCommand(ctx, "node-c")
	c.Assert(err, check.IsNil)
	c.Assert(cmdC, check.IsNil)

	s.completeWorker(c, dist, cmdA, "node-a")

	cmdC, err = dist.InferCommand(ctx, "node-c")
	c.Assert(err, check.IsNil)
	c.Assert(cmdC, check.NotNil)
}

func (s *OperationSuite) TestFailedMainExcludesRemaining(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c, "node-1")
	c.Assert(env.Topology.SetOnline("node-1"), check.IsNil)

	first := command.NewPrint("first")
	second := command.NewPrint("second")
	tree := command.NewSequence(first, second)
	dist, err := NewDistribution(Config{Commands: []command.Command{tree}})
	c.Assert(err, check.IsNil)
	c.Assert(dist.Init(ctx, env), check.IsNil)

	cmd, err := dist.InferCommand(ctx, "node-1")
	c.Assert(err, check.IsNil)
	c.Assert(cmd, check.NotNil)

	for _, update := range []command.StatusUpdate{
		{CommandID: tree.ID(), StatusCode: command.StatusStarted, Datatype: tree.WireType(), Node: "node-1"},
		{CommandID: first.ID(), StatusCode: command.StatusStarted, Datatype: first.WireType(), Node: "node-1"},
		{CommandID: first.ID(), StatusCode: command.StatusFailed, Datatype: first.WireType(), Node: "node-1"},
		{CommandID: tree.ID(), StatusCode: command.StatusFailed, Datatype: tree.WireType(), Node: "node-1"},
	} {
		c.Assert(dist.HandleStatusUpdate(ctx, update), check.IsNil)
	}

	c.Assert(dist.Completed(), check.Equals, true)
	table := dist.Snapshot().Table["node-1"]
	c.Assert(table[tree.ID()], check.Equals, command.StatusFailed)
	c.Assert(table[first.ID()], check.Equals, command.StatusFailed)
	c.Assert(table[second.ID()], check.Equals, command.StatusExcluded)
}

func (s *OperationSuite) TestOfflineWorkerRowIsNulled(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c, "node-1", "node-2")
	c.Assert(env.Topology.SetOnline("node-1"), check.IsNil)
	c.Assert(env.Topology.SetOnline("node-2"), check.IsNil)

	dist, err := NewDistribution(Config{
		Commands: []command.Command{command.NewPrint("work")},
	})
	c.Assert(err, check.IsNil)
	c.Assert(dist.Init(ctx, env), check.IsNil)

	cmd1, err := dist.InferCommand(ctx, "node-1")
	c.Assert(err, check.IsNil)
	_, err = dist.InferCommand(ctx, "node-2")
	c.Assert(err, check.IsNil)

	s.completeWorker(c, dist, cmd1, "node-1")
	c.Assert(dist.Completed(), check.Equals, false)

	// the straggler drops off, its in-flight work is lost
	c.Assert(env.Topology.SetOffline("node-2"), check.IsNil)
	c.Assert(dist.Completed(), check.Equals, true)
	c.Assert(dist.Snapshot().Table["node-2"], check.IsNil)
}

func (s *OperationSuite) TestOpenDistributionAdmitsLateJoiner(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c, "node-1", "node-2", "node-3")
	c.Assert(env.Topology.SetOnline("node-1"), check.IsNil)
	c.Assert(env.Topology.SetOnline("node-2"), check.IsNil)

	dist, err := NewDistribution(Config{
		Commands: []command.Command{command.NewPrint("work")},
		Open:     true,
	})
	c.Assert(err, check.IsNil)
	c.Assert(dist.Init(ctx, env), check.IsNil)

	for _, name := range []string{"node-1", "node-2"} {
		cmd, err := dist.InferCommand(ctx, name)
		c.Assert(err, check.IsNil)
		c.Assert(cmd, check.NotNil)
		s.completeWorker(c, dist, cmd, name)
	}
	// open distributions do not finish on their own
	c.Assert(dist.Status(), check.Equals, StatusExecution)

	c.Assert(env.Topology.SetOnline("node-3"), check.IsNil)
	cmd, err := dist.InferCommand(ctx, "node-3")
	c.Assert(err, check.IsNil)
	c.Assert(cmd, check.NotNil)
	s.completeWorker(c, dist, cmd, "node-3")

	c.Assert(dist.Stop(ctx), check.IsNil)
	c.Assert(dist.Completed(), check.Equals, true)
}

func (s *OperationSuite) TestOpenDistributionEvictsOfflineWorker(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c, "node-1")
	c.Assert(env.Topology.SetOnline("node-1"), check.IsNil)

	dist, err := NewDistribution(Config{
		Commands: []command.Command{command.NewPrint("work")},
		Open:     true,
	})
	c.Assert(err, check.IsNil)
	c.Assert(dist.Init(ctx, env), check.IsNil)

	cmd, err := dist.InferCommand(ctx, "node-1")
	c.Assert(err, check.IsNil)
	c.Assert(cmd, check.NotNil)

	c.Assert(env.Topology.SetOffline("node-1"), check.IsNil)
	_, evicted := dist.Snapshot().Table["node-1"]
	c.Assert(evicted, check.Equals, false)

	// rejoining gets a fresh row and the command again
	c.Assert(env.Topology.SetOnline("node-1"), check.IsNil)
	cmd, err = dist.InferCommand(ctx, "node-1")
	c.Assert(err, check.IsNil)
	c.Assert(cmd, check.NotNil)
	c.Assert(dist.Stop(ctx), check.IsNil)
}

func (s *OperationSuite) TestNodeCustomizationOnClones(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c, "node-a", "node-b")
	c.Assert(env.Topology.SetOnline("node-a"), check.IsNil)
	c.Assert(env.Topology.SetOnline("node-b"), check.IsNil)

	train := command.NewTrain("mnist", 1, 3)
	dist, err := NewDistribution(Config{Commands: []command.Command{train}})
	c.Assert(err, check.IsNil)
	c.Assert(dist.Init(ctx, env), check.IsNil)

	cmdA, err := dist.InferCommand(ctx, "node-a")
	c.Assert(err, check.IsNil)
	cmdB, err := dist.InferCommand(ctx, "node-b")
	c.Assert(err, check.IsNil)

	c.Assert(cmdA.ID(), check.Equals, train.ID())
	c.Assert(cmdB.ID(), check.Equals, train.ID())
	c.Assert(cmdA.(*command.Train).Partition, check.Equals, 0)
	c.Assert(cmdB.(*command.Train).Partition, check.Equals, 1)
	// the canonical tree is never customized
	c.Assert(train.Partition, check.Equals, 0)
	c.Assert(cmdA, check.Not(check.Equals), command.Command(train))
}

func (s *OperationSuite) TestAlternativesRoundRobin(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c, "node-1", "node-2")
	c.Assert(env.Topology.SetOnline("node-1"), check.IsNil)
	c.Assert(env.Topology.SetOnline("node-2"), check.IsNil)
	rec := &notificationRecorder{name: "rec"}
	env.Watchers.Add(rec)

	dist, err := NewDistribution(Config{
		Commands: []command.Command{
			command.NewPrint("alternative a"),
			command.NewPrint("alternative b"),
		},
	})
	c.Assert(err, check.IsNil)
	c.Assert(dist.Init(ctx, env), check.IsNil)

	cmd1, err := dist.InferCommand(ctx, "node-1")
	c.Assert(err, check.IsNil)
	cmd2, err := dist.InferCommand(ctx, "node-2")
	c.Assert(err, check.IsNil)
	c.Assert(cmd1.ID(), check.Not(check.Equals), cmd2.ID())

	// finishing one worker's alternative completes that command alone
	s.completeWorker(c, dist, cmd1, "node-1")
	c.Assert(rec.ofType(watcher.TypeCommandFinished), check.HasLen, 1)
	c.Assert(dist.Completed(), check.Equals, false)

	s.completeWorker(c, dist, cmd2, "node-2")
	c.Assert(rec.ofType(watcher.TypeCommandFinished), check.HasLen, 2)
	c.Assert(dist.Completed(), check.Equals, true)
}

func (s *OperationSuite) TestIgnoresUnselectedWorkerUpdates(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c, "node-1", "node-2")
	c.Assert(env.Topology.SetOnline("node-1"), check.IsNil)
	c.Assert(env.Topology.SetOnline("node-2"), check.IsNil)

	dist, err := NewDistribution(Config{
		Commands: []command.Command{command.NewPrint("work")},
		Selector: List{Names: []string{"node-1"}},
	})
	c.Assert(err, check.IsNil)
	c.Assert(dist.Init(ctx, env), check.IsNil)

	cmd, err := dist.InferCommand(ctx, "node-2")
	c.Assert(err, check.IsNil)
	c.Assert(cmd, check.IsNil)

	cmd, err = dist.InferCommand(ctx, "node-1")
	c.Assert(err, check.IsNil)
	c.Assert(cmd, check.NotNil)

	// stray report from the unselected worker changes nothing
	c.Assert(dist.HandleStatusUpdate(ctx, command.StatusUpdate{
		CommandID:  cmd.ID(),
		StatusCode: command.StatusFinished,
		Datatype:   cmd.WireType(),
		Node:       "node-2",
	}), check.IsNil)
	c.Assert(dist.Completed(), check.Equals, false)
	c.Assert(dist.Snapshot().Table["node-2"], check.IsNil)

	s.completeWorker(c, dist, cmd, "node-1")
	c.Assert(dist.Completed(), check.Equals, true)
}

func (s *OperationSuite) TestSelectorPolicies(c *check.C) {
	online := []topology.Node{
		{Name: "node-1", Status: topology.StatusOnline, Flags: []string{"gpu"}},
		{Name: "node-2", Status: topology.StatusOnline},
		{Name: "node-3", Status: topology.StatusOnline, Flags: []string{"gpu", "fast"}},
	}

	selection, err := All{}.Select(online, 2)
	c.Assert(err, check.IsNil)
	c.Assert(selection, check.DeepEquals, Selection{"node-1": 0, "node-2": 1, "node-3": 0})

	selection, err = Count{N: 2}.Select(online, 1)
	c.Assert(err, check.IsNil)
	c.Assert(selection, check.HasLen, 2)

	selection, err = Count{N: 5}.Select(online, 1)
	c.Assert(err, check.IsNil)
	c.Assert(selection, check.HasLen, 3)

	selection, err = Percentage{Fraction: 0.5}.Select(online, 1)
	c.Assert(err, check.IsNil)
	c.Assert(selection, check.HasLen, 1)

	// a positive fraction always selects someone
	selection, err = Percentage{Fraction: 0.01}.Select(online, 1)
	c.Assert(err, check.IsNil)
	c.Assert(selection, check.HasLen, 1)

	selection, err = Percentage{Fraction: 0}.Select(online, 1)
	c.Assert(err, check.IsNil)
	c.Assert(selection, check.HasLen, 0)

	selection, err = Flags{Flags: []string{"gpu"}}.Select(online, 1)
	c.Assert(err, check.IsNil)
	c.Assert(selection, check.DeepEquals, Selection{"node-1": 0, "node-3": 0})

	selection, err = Flags{Flags: []string{"gpu", "fast"}}.Select(online, 1)
	c.Assert(err, check.IsNil)
	c.Assert(selection, check.DeepEquals, Selection{"node-3": 0})

	selection, err = List{Names: []string{"node-2", "node-7"}}.Select(online, 1)
	c.Assert(err, check.IsNil)
	c.Assert(selection, check.DeepEquals, Selection{"node-2": 0})

	selection, err = RandomCount{Max: 2}.Select(online, 1)
	c.Assert(err, check.IsNil)
	c.Assert(len(selection) >= 1 && len(selection) <= 2, check.Equals, true)

	_, err = All{}.Select(online, 0)
	c.Assert(err, check.NotNil)

	_, err = Percentage{Fraction: 1.5}.Select(online, 1)
	c.Assert(err, check.NotNil)
}

func (s *OperationSuite) TestConditions(c *check.C) {
	env := s.newEnv(c, "node-1", "node-2")

	minOnline := MinOnlineClients{Min: 2}
	resolved, err := minOnline.Resolved(env)
	c.Assert(err, check.IsNil)
	c.Assert(resolved, check.Equals, false)

	c.Assert(env.Topology.SetOnline("node-1"), check.IsNil)
	c.Assert(env.Topology.SetOnline("node-2"), check.IsNil)
	resolved, err = minOnline.Resolved(env)
	c.Assert(err, check.IsNil)
	c.Assert(resolved, check.Equals, true)

	fraction := FractionOnline{Fraction: 0.5}
	c.Assert(env.Topology.SetOffline("node-2"), check.IsNil)
	resolved, err = fraction.Resolved(env)
	c.Assert(err, check.IsNil)
	c.Assert(resolved, check.Equals, true)

	exists := ResourceExists{Path: "model:mnist"}
	resolved, err = exists.Resolved(env)
	c.Assert(err, check.IsNil)
	c.Assert(resolved, check.Equals, false)
	c.Assert(env.Resources.Set("model:mnist", []byte("weights")), check.IsNil)
	resolved, err = exists.Resolved(env)
	c.Assert(err, check.IsNil)
	c.Assert(resolved, check.Equals, true)
}

func (s *OperationSuite) TestAggregationAction(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c)
	rec := &notificationRecorder{name: "rec"}
	env.Watchers.Add(rec)

	c.Assert(env.Resources.Set("dist-1:score:node-1", map[string]float64{"acc": 0.25}), check.IsNil)
	c.Assert(env.Resources.Set("dist-1:score:node-2", map[string]float64{"acc": 0.75}), check.IsNil)

	action, err := NewAggregationAction(AggregationConfig{
		Aggregator:     MeanScalars{},
		SourcePath:     "dist-1:score",
		TargetPath:     "aggregate:score",
		CommandID:      "cmd-1",
		DistributionID: "dist-1",
		Round:          3,
	})
	c.Assert(err, check.IsNil)

	successors, err := action.Run(ctx, env)
	c.Assert(err, check.IsNil)
	c.Assert(successors, check.IsNil)

	result, err := env.Resources.Get("aggregate:score")
	c.Assert(err, check.IsNil)
	c.Assert(result, check.DeepEquals, map[string]float64{"acc": 0.5})

	completed := rec.ofType(watcher.TypeAggregationCompleted)
	c.Assert(completed, check.HasLen, 1)
	c.Assert(completed[0].(watcher.AggregationCompleted).NumInputs, check.Equals, 2)
	c.Assert(completed[0].(watcher.AggregationCompleted).Round, check.Equals, 3)
}

func (s *OperationSuite) TestAggregationFailures(c *check.C) {
	ctx := context.TODO()
	env := s.newEnv(c)

	action, err := NewAggregationAction(AggregationConfig{
		Aggregator: MeanScalars{},
		SourcePath: "dist-1:score",
		TargetPath: "aggregate:score",
	})
	c.Assert(err, check.IsNil)

	// nothing collected yet
	_, err = action.Run(ctx, env)
	c.Assert(IsAggregationError(err), check.Equals, true)

	// inputs of the wrong shape
	c.Assert(env.Resources.Set("dist-1:score:node-1", "bogus"), check.IsNil)
	_, err = action.Run(ctx, env)
	c.Assert(IsAggregationError(err), check.Equals, true)

	_, err = NewAggregationAction(AggregationConfig{SourcePath: "a", TargetPath: "b"})
	c.Assert(err, check.NotNil)
}

type notificationRecorder struct {
	name string
	mu   sync.Mutex
	got  []watcher.Notification
}

func (r *notificationRecorder) Name() string { return r.name }

func (r *notificationRecorder) Handlers() map[string]watcher.Handler {
	return map[string]watcher.Handler{
		watcher.TypeCommandFinished:      r.record,
		watcher.TypeAggregationCompleted: r.record,
	}
}

func (r *notificationRecorder) record(pool *watcher.Pool, notification watcher.Notification, origin string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, notification)
	return nil
}

func (r *notificationRecorder) ofType(notificationType string) (out []watcher.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, notification := range r.got {
		if notification.NotificationType() == notificationType {
			out = append(out, notification)
		}
	}
	return out
}

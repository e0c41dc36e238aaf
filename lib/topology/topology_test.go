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

package topology

import (
	"testing"
	"time"

	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/watcher"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"gopkg.in/check.v1"
)

func TestTopology(t *testing.T) { check.TestingT(t) }

type TopologySuite struct {
	clock clockwork.FakeClock
}

var _ = check.Suite(&TopologySuite{})

func (s *TopologySuite) SetUpTest(c *check.C) {
	s.clock = clockwork.NewFakeClock()
}

func (s *TopologySuite) newTopology(c *check.C, clients ...string) *Topology {
	nodes := []Node{{Name: "server", Role: constants.RoleServer}}
	for _, name := range clients {
		nodes = append(nodes, Node{Name: name, Role: constants.RoleClient})
	}
	topology, err := New(Config{Nodes: nodes, Clock: s.clock})
	c.Assert(err, check.IsNil)
	return topology
}

func (s *TopologySuite) TestRequiresExactlyOneServer(c *check.C) {
	_, err := New(Config{Nodes: []Node{
		{Name: "c1", Role: constants.RoleClient},
	}})
	c.Assert(err, check.NotNil)

	_, err = New(Config{Nodes: []Node{
		{Name: "s1", Role: constants.RoleServer},
		{Name: "s2", Role: constants.RoleServer},
	}})
	c.Assert(err, check.NotNil)
}

func (s *TopologySuite) TestRejectsDuplicateNames(c *check.C) {
	_, err := New(Config{Nodes: []Node{
		{Name: "server", Role: constants.RoleServer},
		{Name: "c1", Role: constants.RoleClient},
		{Name: "c1", Role: constants.RoleClient},
	}})
	c.Assert(trace.IsAlreadyExists(err), check.Equals, true)
}

func (s *TopologySuite) TestRejectsUnknownRole(c *check.C) {
	_, err := New(Config{Nodes: []Node{
		{Name: "server", Role: "observer"},
	}})
	c.Assert(err, check.NotNil)
}

func (s *TopologySuite) TestOnlineOfflineEdges(c *check.C) {
	topology := s.newTopology(c, "c1", "c2")

	c.Assert(topology.SetOnline("c1"), check.IsNil)
	node, err := topology.Node("c1")
	c.Assert(err, check.IsNil)
	c.Assert(node.IsOnline(), check.Equals, true)
	c.Assert(node.LastActive, check.Equals, s.clock.Now().UTC())

	c.Assert(len(topology.OnlineClients()), check.Equals, 1)
	c.Assert(topology.FractionConnected(), check.Equals, 0.5)

	c.Assert(topology.SetOffline("c1"), check.IsNil)
	c.Assert(len(topology.OnlineClients()), check.Equals, 0)

	c.Assert(trace.IsNotFound(topology.SetOnline("ghost")), check.Equals, true)
}

func (s *TopologySuite) TestHeartbeatRefreshesLastActive(c *check.C) {
	topology := s.newTopology(c, "c1")
	c.Assert(topology.SetOnline("c1"), check.IsNil)

	s.clock.Advance(time.Minute)
	c.Assert(topology.Heartbeat("c1"), check.IsNil)

	node, err := topology.Node("c1")
	c.Assert(err, check.IsNil)
	c.Assert(node.LastActive, check.Equals, s.clock.Now().UTC())
}

type edgeRecorder struct {
	online  []string
	offline []string
}

func (r *edgeRecorder) OnNodeOnline(name string)  { r.online = append(r.online, name) }
func (r *edgeRecorder) OnNodeOffline(name string) { r.offline = append(r.offline, name) }

func (s *TopologySuite) TestObserversSeeOnlyEdges(c *check.C) {
	topology := s.newTopology(c, "c1")
	recorder := &edgeRecorder{}
	topology.AddObserver(recorder)

	c.Assert(topology.SetOnline("c1"), check.IsNil)
	c.Assert(topology.SetOnline("c1"), check.IsNil) // heartbeat, no edge
	c.Assert(topology.SetOffline("c1"), check.IsNil)
	c.Assert(topology.SetOffline("c1"), check.IsNil)

	c.Assert(recorder.online, check.DeepEquals, []string{"c1"})
	c.Assert(recorder.offline, check.DeepEquals, []string{"c1"})

	topology.RemoveObserver(recorder)
	c.Assert(topology.SetOnline("c1"), check.IsNil)
	c.Assert(len(recorder.online), check.Equals, 1)
}

func (s *TopologySuite) TestFlagsAreIdempotentAndNotifyWatchersOnly(c *check.C) {
	pool, err := watcher.New(watcher.Config{})
	c.Assert(err, check.IsNil)
	changes := &topologyChangeRecorder{}
	pool.Add(changes)

	topology, err := New(Config{
		Nodes: []Node{
			{Name: "server", Role: constants.RoleServer},
			{Name: "c1", Role: constants.RoleClient},
		},
		Watchers: pool,
		Clock:    s.clock,
	})
	c.Assert(err, check.IsNil)
	recorder := &edgeRecorder{}
	topology.AddObserver(recorder)

	c.Assert(topology.SetFlag("c1", "trained"), check.IsNil)
	c.Assert(topology.SetFlag("c1", "trained"), check.IsNil)
	c.Assert(topology.RemoveFlag("c1", "trained"), check.IsNil)
	c.Assert(topology.RemoveFlag("c1", "trained"), check.IsNil)

	c.Assert(len(changes.edges), check.Equals, 2)
	c.Assert(changes.edges[0].Edge, check.Equals, watcher.EdgeFlags)
	c.Assert(len(recorder.online)+len(recorder.offline), check.Equals, 0)

	node, err := topology.Node("c1")
	c.Assert(err, check.IsNil)
	c.Assert(node.HasFlag("trained"), check.Equals, false)
}

type topologyChangeRecorder struct {
	edges []watcher.TopologyChange
}

func (r *topologyChangeRecorder) Name() string { return "change-recorder" }

func (r *topologyChangeRecorder) Handlers() map[string]watcher.Handler {
	return map[string]watcher.Handler{
		watcher.TypeTopologyChange: func(pool *watcher.Pool, n watcher.Notification, origin string) error {
			r.edges = append(r.edges, n.(watcher.TopologyChange))
			return nil
		},
	}
}

func (s *TopologySuite) TestAddNodeEnforcesBounds(c *check.C) {
	topology, err := New(Config{
		Nodes: []Node{
			{Name: "server", Role: constants.RoleServer},
			{Name: "c1", Role: constants.RoleClient},
		},
		MaxClients: 2,
		Clock:      s.clock,
	})
	c.Assert(err, check.IsNil)

	c.Assert(topology.AddNode("c2", constants.RoleClient), check.IsNil)
	err = topology.AddNode("c3", constants.RoleClient)
	c.Assert(trace.IsAlreadyExists(err), check.Equals, true)

	err = topology.AddNode("s2", constants.RoleServer)
	c.Assert(err, check.NotNil)
}

func (s *TopologySuite) TestLivenessSweep(c *check.C) {
	topology := s.newTopology(c, "c1", "c2")
	c.Assert(topology.SetOnline("c1"), check.IsNil)
	c.Assert(topology.SetOnline("c2"), check.IsNil)

	observer, err := NewLivenessObserver(LivenessConfig{
		Topology: topology,
		Interval: 10 * time.Second,
		Timeout:  30 * time.Second,
		Clock:    s.clock,
	})
	c.Assert(err, check.IsNil)

	s.clock.Advance(20 * time.Second)
	c.Assert(topology.Heartbeat("c2"), check.IsNil)

	s.clock.Advance(15 * time.Second)
	observer.Sweep()

	c1, err := topology.Node("c1")
	c.Assert(err, check.IsNil)
	c.Assert(c1.IsOnline(), check.Equals, false)

	c2, err := topology.Node("c2")
	c.Assert(err, check.IsNil)
	c.Assert(c2.IsOnline(), check.Equals, true)
}

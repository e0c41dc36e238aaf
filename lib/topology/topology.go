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

// Package topology keeps the node inventory of one coordination run: the
// single server node and the worker fleet, with status, flags and liveness
// bookkeeping. Only the server process mutates the topology.
package topology

import (
	"sort"
	"sync"
	"time"

	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/watcher"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Node statuses
const (
	// StatusOnline marks nodes with a live transport session
	StatusOnline = "online"
	// StatusOffline marks nodes that logged out or timed out
	StatusOffline = "offline"
)

// Node is one member of the run
type Node struct {
	// Name is the unique node name
	Name string `json:"name"`
	// Role is constants.RoleServer or constants.RoleClient
	Role string `json:"role"`
	// Status is StatusOnline or StatusOffline
	Status string `json:"status"`
	// Flags is the sorted flag set of the node
	Flags []string `json:"flags,omitempty"`
	// Data carries scalar bookkeeping values keyed by name
	Data map[string]interface{} `json:"data,omitempty"`
	// LastActive is the time of the node's last authenticated contact
	LastActive time.Time `json:"last_active"`
}

// IsOnline returns true when the node status is online
func (n Node) IsOnline() bool {
	return n.Status == StatusOnline
}

// HasFlag returns true when the node carries the flag
func (n Node) HasFlag(flag string) bool {
	for _, have := range n.Flags {
		if have == flag {
			return true
		}
	}
	return false
}

// Observer is poked on node status edges. Distributions register as
// observers for the duration of their lifecycle.
type Observer interface {
	// OnNodeOnline is invoked after the node transitioned to online
	OnNodeOnline(name string)
	// OnNodeOffline is invoked after the node transitioned to offline
	OnNodeOffline(name string)
}

// Config configures a topology
type Config struct {
	// Nodes is the initial inventory, usually loaded from the topology file
	Nodes []Node
	// MaxClients bounds the number of worker nodes, 0 means unbounded
	MaxClients int
	// Watchers receives TopologyChangeNotifications, optional
	Watchers *watcher.Pool
	// Clock is used for last-active stamps
	Clock clockwork.Clock
	// FieldLogger is used for logging
	FieldLogger logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *Config) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithField(trace.Component, constants.ComponentTopology)
	}
	return nil
}

// New validates the inventory and returns a topology. Exactly one server
// node is required and node names must be unique.
func New(config Config) (*Topology, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	t := &Topology{
		FieldLogger: config.FieldLogger,
		config:      config,
		nodes:       make(map[string]*Node),
	}
	servers := 0
	for _, node := range config.Nodes {
		switch node.Role {
		case constants.RoleServer:
			servers++
		case constants.RoleClient:
		default:
			return nil, trace.BadParameter("node %q: unknown role %q", node.Name, node.Role)
		}
		if err := t.insert(node); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if servers != 1 {
		return nil, trace.BadParameter("topology requires exactly one server node, got %v", servers)
	}
	return t, nil
}

// Topology is the mutable node inventory. It is safe for concurrent use:
// reads return snapshots.
type Topology struct {
	logrus.FieldLogger
	config Config

	mu sync.RWMutex
	// order holds node names in insertion order
	order []string
	nodes map[string]*Node

	observers []Observer
}

// insert adds the node to the inventory enforcing name uniqueness and the
// worker bound
func (t *Topology) insert(node Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.nodes[node.Name]; exists {
		return trace.AlreadyExists("node %q already registered", node.Name)
	}
	if node.Role == constants.RoleClient && t.config.MaxClients > 0 {
		clients := 0
		for _, existing := range t.nodes {
			if existing.Role == constants.RoleClient {
				clients++
			}
		}
		if clients >= t.config.MaxClients {
			return trace.AlreadyExists(
				"maximum number of workers (%v) already registered", t.config.MaxClients)
		}
	}
	if node.Status == "" {
		node.Status = StatusOffline
	}
	if node.Data == nil {
		node.Data = make(map[string]interface{})
	}
	added := node
	t.order = append(t.order, node.Name)
	t.nodes[node.Name] = &added
	return nil
}

// AddNode registers a new worker node at runtime, e.g. in simulation mode
func (t *Topology) AddNode(name, role string) error {
	if role != constants.RoleClient {
		return trace.BadParameter("only %v nodes can join at runtime", constants.RoleClient)
	}
	if err := t.insert(Node{Name: name, Role: role}); err != nil {
		return trace.Wrap(err)
	}
	t.WithField(constants.FieldNode, name).Info("Node joined the topology.")
	return nil
}

// Node returns a snapshot of the named node
func (t *Topology) Node(name string) (*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, exists := t.nodes[name]
	if !exists {
		return nil, trace.NotFound("node %q not found", name)
	}
	snapshot := node.snapshot()
	return &snapshot, nil
}

// Nodes returns snapshots of all nodes in insertion order
func (t *Topology) Nodes() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nodes := make([]Node, 0, len(t.order))
	for _, name := range t.order {
		nodes = append(nodes, t.nodes[name].snapshot())
	}
	return nodes
}

// Server returns a snapshot of the server node
func (t *Topology) Server() (*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, name := range t.order {
		if t.nodes[name].Role == constants.RoleServer {
			snapshot := t.nodes[name].snapshot()
			return &snapshot, nil
		}
	}
	return nil, trace.NotFound("no server node registered")
}

// Clients returns snapshots of all worker nodes in insertion order
func (t *Topology) Clients() (clients []Node) {
	for _, node := range t.Nodes() {
		if node.Role == constants.RoleClient {
			clients = append(clients, node)
		}
	}
	return clients
}

// OnlineClients returns snapshots of the online worker nodes
func (t *Topology) OnlineClients() (online []Node) {
	for _, node := range t.Clients() {
		if node.IsOnline() {
			online = append(online, node)
		}
	}
	return online
}

// FractionConnected returns the online share of the worker fleet
func (t *Topology) FractionConnected() float64 {
	clients := t.Clients()
	if len(clients) == 0 {
		return 0
	}
	online := 0
	for _, node := range clients {
		if node.IsOnline() {
			online++
		}
	}
	return float64(online) / float64(len(clients))
}

// SetOnline refreshes the node's last-active stamp and, on an actual
// offline to online edge, notifies watchers and observers
func (t *Topology) SetOnline(name string) error {
	t.mu.Lock()
	node, exists := t.nodes[name]
	if !exists {
		t.mu.Unlock()
		return trace.NotFound("node %q not found", name)
	}
	node.LastActive = t.config.Clock.Now().UTC()
	transitioned := node.Status != StatusOnline
	node.Status = StatusOnline
	flags := node.snapshot().Flags
	t.mu.Unlock()

	if !transitioned {
		return nil
	}
	t.WithField(constants.FieldNode, name).Info("Node is online.")
	t.notify(watcher.TopologyChange{Node: name, Edge: watcher.EdgeOnline, Flags: flags})
	for _, observer := range t.snapshotObservers() {
		observer.OnNodeOnline(name)
	}
	return nil
}

// SetOffline transitions the node to offline, notifying watchers and
// observers on an actual edge
func (t *Topology) SetOffline(name string) error {
	t.mu.Lock()
	node, exists := t.nodes[name]
	if !exists {
		t.mu.Unlock()
		return trace.NotFound("node %q not found", name)
	}
	transitioned := node.Status != StatusOffline
	node.Status = StatusOffline
	flags := node.snapshot().Flags
	t.mu.Unlock()

	if !transitioned {
		return nil
	}
	t.WithField(constants.FieldNode, name).Info("Node is offline.")
	t.notify(watcher.TopologyChange{Node: name, Edge: watcher.EdgeOffline, Flags: flags})
	for _, observer := range t.snapshotObservers() {
		observer.OnNodeOffline(name)
	}
	return nil
}

// Heartbeat records an authenticated contact from the node
func (t *Topology) Heartbeat(name string) error {
	return trace.Wrap(t.SetOnline(name))
}

// SetFlag adds the flag to the node. Flag changes notify watchers but not
// observers.
func (t *Topology) SetFlag(name, flag string) error {
	return t.updateFlags(name, flag, true)
}

// RemoveFlag removes the flag from the node
func (t *Topology) RemoveFlag(name, flag string) error {
	return t.updateFlags(name, flag, false)
}

func (t *Topology) updateFlags(name, flag string, add bool) error {
	if flag == "" {
		return trace.BadParameter("missing parameter flag")
	}
	t.mu.Lock()
	node, exists := t.nodes[name]
	if !exists {
		t.mu.Unlock()
		return trace.NotFound("node %q not found", name)
	}
	changed := false
	if add {
		if !node.HasFlag(flag) {
			node.Flags = append(node.Flags, flag)
			sort.Strings(node.Flags)
			changed = true
		}
	} else {
		for i, have := range node.Flags {
			if have == flag {
				node.Flags = append(node.Flags[:i], node.Flags[i+1:]...)
				changed = true
				break
			}
		}
	}
	flags := node.snapshot().Flags
	t.mu.Unlock()

	if changed {
		t.notify(watcher.TopologyChange{Node: name, Edge: watcher.EdgeFlags, Flags: flags})
	}
	return nil
}

// SetData stores a scalar bookkeeping value on the node
func (t *Topology) SetData(name, key string, value interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, exists := t.nodes[name]
	if !exists {
		return trace.NotFound("node %q not found", name)
	}
	node.Data[key] = value
	return nil
}

// AddObserver registers the observer for status edges
func (t *Topology) AddObserver(observer Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, observer)
}

// RemoveObserver unregisters the observer
func (t *Topology) RemoveObserver(observer Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.observers {
		if t.observers[i] == observer {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

func (t *Topology) snapshotObservers() []Observer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	observers := make([]Observer, len(t.observers))
	copy(observers, t.observers)
	return observers
}

func (t *Topology) notify(change watcher.TopologyChange) {
	if t.config.Watchers != nil {
		t.config.Watchers.NotifyAll(change, constants.ComponentTopology)
	}
}

func (n *Node) snapshot() Node {
	snapshot := *n
	snapshot.Flags = append([]string(nil), n.Flags...)
	snapshot.Data = make(map[string]interface{}, len(n.Data))
	for key, value := range n.Data {
		snapshot.Data[key] = value
	}
	return snapshot
}

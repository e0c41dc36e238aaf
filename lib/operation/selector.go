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
	"math/rand"
	"sort"

	"github.com/drover-io/drover/lib/topology"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// Selection maps each selected worker to the index of its assigned command
// alternative
type Selection map[string]int

// Workers returns the selected worker names sorted
func (s Selection) Workers() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Selector picks the workers of a closed distribution out of the online
// fleet, assigning each an alternative index in [0, alternatives)
type Selector interface {
	// Select returns the selection, empty when no worker qualifies
	Select(online []topology.Node, alternatives int) (Selection, error)
	// String describes the policy in logs
	String() string
}

// All selects every online worker
type All struct{}

// Select returns all online workers with round-robin alternatives
func (All) Select(online []topology.Node, alternatives int) (Selection, error) {
	return assignAlternatives(nodeNames(online), alternatives)
}

// String describes the policy in logs
func (All) String() string { return "all" }

// Percentage selects a random fraction of the online workers, at least one
// when the fraction is positive
type Percentage struct {
	// Fraction is the share of online workers to select, in [0, 1]
	Fraction float64
}

// Select returns the random subset
func (s Percentage) Select(online []topology.Node, alternatives int) (Selection, error) {
	if s.Fraction < 0 || s.Fraction > 1 {
		return nil, trace.BadParameter("fraction must be in [0, 1], got %v", s.Fraction)
	}
	count := int(s.Fraction * float64(len(online)))
	if count == 0 && s.Fraction > 0 && len(online) > 0 {
		count = 1
	}
	return assignAlternatives(pickRandom(nodeNames(online), count), alternatives)
}

// String describes the policy in logs
func (s Percentage) String() string { return fmt.Sprintf("percentage(%v)", s.Fraction) }

// Count selects up to N random online workers
type Count struct {
	// N is the number of workers to select
	N int
}

// Select returns the random subset
func (s Count) Select(online []topology.Node, alternatives int) (Selection, error) {
	if s.N < 0 {
		return nil, trace.BadParameter("count must not be negative, got %v", s.N)
	}
	return assignAlternatives(pickRandom(nodeNames(online), s.N), alternatives)
}

// String describes the policy in logs
func (s Count) String() string { return fmt.Sprintf("count(%v)", s.N) }

// RandomCount selects a uniformly random number of workers between one and
// Max
type RandomCount struct {
	// Max bounds the selection size
	Max int
}

// Select returns the random subset
func (s RandomCount) Select(online []topology.Node, alternatives int) (Selection, error) {
	if s.Max < 1 {
		return nil, trace.BadParameter("max must be positive, got %v", s.Max)
	}
	if len(online) == 0 {
		return Selection{}, nil
	}
	count := 1 + rand.Intn(s.Max)
	return assignAlternatives(pickRandom(nodeNames(online), count), alternatives)
}

// String describes the policy in logs
func (s RandomCount) String() string { return fmt.Sprintf("random_count(%v)", s.Max) }

// Flags selects the online workers carrying every listed flag
type Flags struct {
	// Flags is the required flag set
	Flags []string
}

// Select returns the flag-matching workers
func (s Flags) Select(online []topology.Node, alternatives int) (Selection, error) {
	if len(s.Flags) == 0 {
		return nil, trace.BadParameter("missing parameter Flags")
	}
	var names []string
	for _, node := range online {
		matches := true
		for _, flag := range s.Flags {
			if !node.HasFlag(flag) {
				matches = false
				break
			}
		}
		if matches {
			names = append(names, node.Name)
		}
	}
	return assignAlternatives(names, alternatives)
}

// String describes the policy in logs
func (s Flags) String() string { return fmt.Sprintf("flags(%v)", s.Flags) }

// List selects explicitly named workers. Names without an online worker are
// skipped with a warning.
type List struct {
	// Names are the workers to select
	Names []string
}

// Select returns the named workers that are online
func (s List) Select(online []topology.Node, alternatives int) (Selection, error) {
	if len(s.Names) == 0 {
		return nil, trace.BadParameter("missing parameter Names")
	}
	present := make(map[string]bool, len(online))
	for _, node := range online {
		present[node.Name] = true
	}
	var names []string
	for _, name := range s.Names {
		if !present[name] {
			log.Warnf("Selector skipping %q: no such online worker.", name)
			continue
		}
		names = append(names, name)
	}
	return assignAlternatives(names, alternatives)
}

// String describes the policy in logs
func (s List) String() string { return fmt.Sprintf("list(%v)", s.Names) }

func nodeNames(nodes []topology.Node) []string {
	names := make([]string, 0, len(nodes))
	for _, node := range nodes {
		names = append(names, node.Name)
	}
	return names
}

// pickRandom returns count names drawn without replacement
func pickRandom(names []string, count int) []string {
	if count >= len(names) {
		return names
	}
	shuffled := append([]string(nil), names...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:count]
}

// assignAlternatives spreads the workers round-robin over the command
// alternatives
func assignAlternatives(names []string, alternatives int) (Selection, error) {
	if alternatives < 1 {
		return nil, trace.BadParameter("at least one command alternative is required")
	}
	selection := make(Selection, len(names))
	for i, name := range names {
		selection[name] = i % alternatives
	}
	return selection, nil
}

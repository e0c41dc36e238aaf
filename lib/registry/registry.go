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

// Package registry implements the hierarchical resource store execution
// state is threaded through. Paths use ':' as separator: "a:b:c" descends
// into sub-registry "a", then "b", and addresses key "c". Intermediate
// sub-registries auto-create using the parent's declared default sub-type.
// Keys preserve insertion order at every level.
package registry

import (
	"strings"
	"sync"

	"github.com/drover-io/drover/lib/constants"

	"github.com/gravitational/trace"
)

// Config configures a registry level
type Config struct {
	// DefaultSub constructs intermediate sub-registries created on demand.
	// Empty means plain untyped sub-registries.
	DefaultSub func() *Registry
	// ValueType, when set, restricts the leaf values this level accepts
	ValueType *Type
}

// New returns an empty registry with the given configuration
func New(config Config) *Registry {
	return &Registry{
		config:  config,
		entries: make(map[string]interface{}),
	}
}

// NewRegistry returns an empty registry with plain sub-registries
func NewRegistry() *Registry {
	return New(Config{})
}

// Registry is one level of the hierarchical resource store. It is safe for
// concurrent use.
type Registry struct {
	config Config

	mu sync.RWMutex
	// keys holds entry names in insertion order
	keys    []string
	entries map[string]interface{}
}

// Entry is a path/value pair returned by AllOfType
type Entry struct {
	// Path is the full colon-separated path of the value
	Path string
	// Value is the stored value
	Value interface{}
}

// Set stores the value at the path, overwriting an existing entry unless
// NoOverwrite is given. With Expect the value is checked against the
// expected type first; a level constructed with ValueType checks regardless.
func (r *Registry) Set(path string, value interface{}, opts ...Option) error {
	options, err := collectOptions(opts)
	if err != nil {
		return trace.Wrap(err)
	}
	level, key, err := r.descend(path, true)
	if err != nil {
		return trace.Wrap(err)
	}
	if options.expect != nil {
		if err := options.expect.check(value); err != nil {
			return trace.Wrap(err, "set %q", path)
		}
	}
	if level.config.ValueType != nil {
		if _, isSub := value.(*Registry); !isSub {
			if err := level.config.ValueType.check(value); err != nil {
				return trace.Wrap(err, "set %q", path)
			}
		}
	}
	level.mu.Lock()
	defer level.mu.Unlock()
	if _, exists := level.entries[key]; exists {
		if options.noOverwrite {
			return trace.AlreadyExists("key %q already exists", path)
		}
	} else {
		level.keys = append(level.keys, key)
	}
	level.entries[key] = value
	return nil
}

// Get returns the value at the path. When the path is absent the Fallback
// option value is returned if given, otherwise NotFound. With Expect the
// stored value is checked against the expected type.
func (r *Registry) Get(path string, opts ...Option) (interface{}, error) {
	options, err := collectOptions(opts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	level, key, err := r.descend(path, false)
	if err != nil {
		if trace.IsNotFound(err) && options.hasFallback {
			return options.fallback, nil
		}
		return nil, trace.Wrap(err)
	}
	level.mu.RLock()
	value, exists := level.entries[key]
	level.mu.RUnlock()
	if !exists {
		if options.hasFallback {
			return options.fallback, nil
		}
		return nil, trace.NotFound("key %q not found", path)
	}
	if options.expect != nil {
		if err := options.expect.check(value); err != nil {
			return nil, trace.Wrap(err, "get %q", path)
		}
	}
	return value, nil
}

// Remove deletes the value at the path. With Expect the value is checked
// against the expected type before removal.
func (r *Registry) Remove(path string, opts ...Option) error {
	options, err := collectOptions(opts)
	if err != nil {
		return trace.Wrap(err)
	}
	level, key, err := r.descend(path, false)
	if err != nil {
		return trace.Wrap(err)
	}
	level.mu.Lock()
	defer level.mu.Unlock()
	value, exists := level.entries[key]
	if !exists {
		return trace.NotFound("key %q not found", path)
	}
	if options.expect != nil {
		if err := options.expect.check(value); err != nil {
			return trace.Wrap(err, "remove %q", path)
		}
	}
	delete(level.entries, key)
	for i := range level.keys {
		if level.keys[i] == key {
			level.keys = append(level.keys[:i], level.keys[i+1:]...)
			break
		}
	}
	return nil
}

// Contains returns true when the path resolves to a stored value
func (r *Registry) Contains(path string) bool {
	level, key, err := r.descend(path, false)
	if err != nil {
		return false
	}
	level.mu.RLock()
	defer level.mu.RUnlock()
	_, exists := level.entries[key]
	return exists
}

// Copy stores the value found at src under dst. Sub-registries are cloned
// structurally so the copies do not alias, leaf values are copied by
// reference.
func (r *Registry) Copy(src, dst string) error {
	value, err := r.Get(src)
	if err != nil {
		return trace.Wrap(err)
	}
	if sub, isSub := value.(*Registry); isSub {
		value = sub.clone()
	}
	return trace.Wrap(r.Set(dst, value))
}

// Keys returns this level's keys in insertion order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	return keys
}

// AllOfType walks the registry depth-first in insertion order and returns
// every value conforming to the expected type along with its full path
func (r *Registry) AllOfType(expect Type) []Entry {
	return r.allOfType(expect, "")
}

func (r *Registry) allOfType(expect Type, prefix string) (entries []Entry) {
	for _, key := range r.Keys() {
		r.mu.RLock()
		value, exists := r.entries[key]
		r.mu.RUnlock()
		if !exists {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + constants.RegistrySeparator + key
		}
		if sub, isSub := value.(*Registry); isSub {
			entries = append(entries, sub.allOfType(expect, path)...)
			continue
		}
		if expect.check(value) == nil {
			entries = append(entries, Entry{Path: path, Value: value})
		}
	}
	return entries
}

// Sub returns the sub-registry at the path, creating intermediate levels
// when create is set
func (r *Registry) Sub(path string, create bool) (*Registry, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	level := r
	for _, segment := range segments {
		level, err = level.child(segment, create)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return level, nil
}

// descend resolves the path to the level owning its final segment
func (r *Registry) descend(path string, create bool) (level *Registry, key string, err error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	level = r
	for _, segment := range segments[:len(segments)-1] {
		level, err = level.child(segment, create)
		if err != nil {
			return nil, "", trace.Wrap(err)
		}
	}
	return level, segments[len(segments)-1], nil
}

// child resolves one sub-registry hop, auto-creating it with the declared
// default sub-type when permitted
func (r *Registry) child(key string, create bool) (*Registry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, exists := r.entries[key]
	if !exists {
		if !create {
			return nil, trace.NotFound("sub-registry %q not found", key)
		}
		sub := r.newSub()
		r.keys = append(r.keys, key)
		r.entries[key] = sub
		return sub, nil
	}
	sub, isSub := value.(*Registry)
	if !isSub {
		return nil, trace.BadParameter("key %q holds a leaf value, not a sub-registry", key)
	}
	return sub, nil
}

func (r *Registry) newSub() *Registry {
	if r.config.DefaultSub != nil {
		return r.config.DefaultSub()
	}
	return NewRegistry()
}

func (r *Registry) clone() *Registry {
	copied := New(r.config)
	for _, key := range r.Keys() {
		r.mu.RLock()
		value, exists := r.entries[key]
		r.mu.RUnlock()
		if !exists {
			continue
		}
		if sub, isSub := value.(*Registry); isSub {
			value = sub.clone()
		}
		copied.keys = append(copied.keys, key)
		copied.entries[key] = value
	}
	return copied
}

// Join builds a registry path from the segments
func Join(segments ...string) string {
	return strings.Join(segments, constants.RegistrySeparator)
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, trace.BadParameter("missing parameter path")
	}
	segments := strings.Split(path, constants.RegistrySeparator)
	for _, segment := range segments {
		if segment == "" {
			return nil, trace.BadParameter("malformed path %q: empty segment", path)
		}
	}
	return segments, nil
}

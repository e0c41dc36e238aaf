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

package wire

import (
	"encoding/json"
	"sync"

	"github.com/gravitational/trace"
)

// Constructor rebuilds a registered value from its construction arguments
type Constructor func(args Args) (interface{}, error)

// Registry maps datatype names to constructors. It is assembled at startup
// and safe for concurrent use afterwards.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty constructor registry
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register binds the datatype name to the constructor, refusing duplicates
func (r *Registry) Register(datatype string, constructor Constructor) error {
	if datatype == "" {
		return trace.BadParameter("missing parameter datatype")
	}
	if constructor == nil {
		return trace.BadParameter("missing parameter constructor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[datatype]; exists {
		return trace.AlreadyExists("datatype %q is already registered", datatype)
	}
	r.constructors[datatype] = constructor
	return nil
}

// Replace rebinds an already registered datatype to another constructor.
// Declared-abstract types are overridden this way at startup, before any
// operation program is built.
func (r *Registry) Replace(datatype string, constructor Constructor) error {
	if constructor == nil {
		return trace.BadParameter("missing parameter constructor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[datatype]; !exists {
		return trace.NotFound("datatype %q is not registered", datatype)
	}
	r.constructors[datatype] = constructor
	return nil
}

// IsRegistered returns true when the datatype has a constructor bound
func (r *Registry) IsRegistered(datatype string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.constructors[datatype]
	return exists
}

// Decode rebuilds the Go value from its wire envelope. Registered types are
// built by their constructor with recursively decoded arguments.
func (r *Registry) Decode(value Value) (interface{}, error) {
	switch value.Datatype {
	case TypeNull:
		return nil, nil
	case TypeBool:
		var decoded bool
		if err := json.Unmarshal(value.Data, &decoded); err != nil {
			return nil, trace.BadParameter("malformed bool payload: %v", err)
		}
		return decoded, nil
	case TypeInt:
		var decoded int
		if err := json.Unmarshal(value.Data, &decoded); err != nil {
			return nil, trace.BadParameter("malformed int payload: %v", err)
		}
		return decoded, nil
	case TypeFloat:
		var decoded float64
		if err := json.Unmarshal(value.Data, &decoded); err != nil {
			return nil, trace.BadParameter("malformed float payload: %v", err)
		}
		return decoded, nil
	case TypeString:
		var decoded string
		if err := json.Unmarshal(value.Data, &decoded); err != nil {
			return nil, trace.BadParameter("malformed str payload: %v", err)
		}
		return decoded, nil
	case TypeList:
		elements, err := r.decodeElements(value.Data)
		return elements, trace.Wrap(err)
	case TypeTuple:
		elements, err := r.decodeElements(value.Data)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return Tuple(elements), nil
	case TypeMap:
		entries, err := r.decodeEntries(value.Data)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return map[string]interface{}(entries), nil
	}

	r.mu.RLock()
	constructor, exists := r.constructors[value.Datatype]
	r.mu.RUnlock()
	if !exists {
		return nil, trace.NotFound("datatype %q is not registered", value.Datatype)
	}
	args, err := r.decodeEntries(value.Data)
	if err != nil {
		return nil, trace.Wrap(err, "decoding %v", value.Datatype)
	}
	decoded, err := constructor(args)
	if err != nil {
		return nil, trace.Wrap(err, "constructing %v", value.Datatype)
	}
	return decoded, nil
}

// DecodeJSON parses the JSON-rendered envelope and decodes it
func (r *Registry) DecodeJSON(data []byte) (interface{}, error) {
	var value Value
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, trace.BadParameter("malformed wire envelope: %v", err)
	}
	decoded, err := r.Decode(value)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return decoded, nil
}

func (r *Registry) decodeElements(data json.RawMessage) ([]interface{}, error) {
	var encoded []Value
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, trace.BadParameter("malformed container payload: %v", err)
	}
	elements := make([]interface{}, 0, len(encoded))
	for _, value := range encoded {
		element, err := r.Decode(value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		elements = append(elements, element)
	}
	return elements, nil
}

func (r *Registry) decodeEntries(data json.RawMessage) (Args, error) {
	var encoded map[string]Value
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, trace.BadParameter("malformed map payload: %v", err)
	}
	entries := make(Args, len(encoded))
	for key, value := range encoded {
		entry, err := r.Decode(value)
		if err != nil {
			return nil, trace.Wrap(err, "key %q", key)
		}
		entries[key] = entry
	}
	return entries, nil
}

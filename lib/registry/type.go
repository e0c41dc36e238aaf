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

package registry

import (
	"reflect"

	"github.com/gravitational/trace"
)

// Type describes a runtime type expectation checked on set and get.
// Sequence expectations verify every element.
type Type struct {
	t        reflect.Type
	elements *Type
}

// TypeOf builds the expectation matching the sample's concrete type
func TypeOf(sample interface{}) Type {
	return Type{t: reflect.TypeOf(sample)}
}

// Implements builds an expectation from a pointer to an interface type:
// registry.Implements((*Watcher)(nil)) accepts any Watcher.
func Implements(ptrToInterface interface{}) Type {
	return Type{t: reflect.TypeOf(ptrToInterface).Elem()}
}

// SequenceOf builds an expectation accepting any slice whose elements all
// conform to the element expectation
func SequenceOf(elements Type) Type {
	return Type{elements: &elements}
}

// String returns the readable name of the expectation
func (t Type) String() string {
	if t.elements != nil {
		return "sequence of " + t.elements.String()
	}
	if t.t == nil {
		return "any"
	}
	return t.t.String()
}

// check returns nil when value conforms to the expectation
func (t Type) check(value interface{}) error {
	if t.elements != nil {
		rv := reflect.ValueOf(value)
		if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return trace.BadParameter("expected %v, got %T", t.String(), value)
		}
		for i := 0; i < rv.Len(); i++ {
			if err := t.elements.check(rv.Index(i).Interface()); err != nil {
				return trace.BadParameter("expected %v, element %v does not conform: %v",
					t.String(), i, err)
			}
		}
		return nil
	}
	if t.t == nil {
		return nil
	}
	actual := reflect.TypeOf(value)
	if actual == nil {
		return trace.BadParameter("expected %v, got nil", t.String())
	}
	if !actual.AssignableTo(t.t) {
		return trace.BadParameter("expected %v, got %v", t.String(), actual.String())
	}
	return nil
}

// Option configures a single registry operation
type Option func(*options) error

type options struct {
	expect      *Type
	fallback    interface{}
	hasFallback bool
	noOverwrite bool
}

// Expect makes the operation verify the value against the expectation
func Expect(t Type) Option {
	return func(o *options) error {
		o.expect = &t
		return nil
	}
}

// Fallback makes Get return the value instead of NotFound when the path
// is absent
func Fallback(value interface{}) Option {
	return func(o *options) error {
		o.fallback = value
		o.hasFallback = true
		return nil
	}
}

// NoOverwrite makes Set refuse to replace an existing entry
func NoOverwrite() Option {
	return func(o *options) error {
		o.noOverwrite = true
		return nil
	}
}

func collectOptions(opts []Option) (*options, error) {
	collected := &options{}
	for _, opt := range opts {
		if err := opt(collected); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return collected, nil
}

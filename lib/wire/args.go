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
	"github.com/gravitational/trace"
)

// String returns the named argument as a string
func (a Args) String(name string) (string, error) {
	value, exists := a[name]
	if !exists {
		return "", trace.BadParameter("missing parameter %v", name)
	}
	decoded, ok := value.(string)
	if !ok {
		return "", trace.BadParameter("parameter %v: expected string, got %T", name, value)
	}
	return decoded, nil
}

// StringOr returns the named argument or the fallback when absent
func (a Args) StringOr(name, fallback string) string {
	if decoded, err := a.String(name); err == nil {
		return decoded
	}
	return fallback
}

// Int returns the named argument as an int, accepting whole floats
// produced by JSON decoding
func (a Args) Int(name string) (int, error) {
	value, exists := a[name]
	if !exists {
		return 0, trace.BadParameter("missing parameter %v", name)
	}
	switch decoded := value.(type) {
	case int:
		return decoded, nil
	case int64:
		return int(decoded), nil
	case float64:
		if decoded == float64(int(decoded)) {
			return int(decoded), nil
		}
	}
	return 0, trace.BadParameter("parameter %v: expected int, got %T", name, value)
}

// IntOr returns the named argument or the fallback when absent
func (a Args) IntOr(name string, fallback int) int {
	if decoded, err := a.Int(name); err == nil {
		return decoded
	}
	return fallback
}

// Float returns the named argument as a float64
func (a Args) Float(name string) (float64, error) {
	value, exists := a[name]
	if !exists {
		return 0, trace.BadParameter("missing parameter %v", name)
	}
	switch decoded := value.(type) {
	case float64:
		return decoded, nil
	case int:
		return float64(decoded), nil
	}
	return 0, trace.BadParameter("parameter %v: expected float, got %T", name, value)
}

// Bool returns the named argument as a bool
func (a Args) Bool(name string) (bool, error) {
	value, exists := a[name]
	if !exists {
		return false, trace.BadParameter("missing parameter %v", name)
	}
	decoded, ok := value.(bool)
	if !ok {
		return false, trace.BadParameter("parameter %v: expected bool, got %T", name, value)
	}
	return decoded, nil
}

// BoolOr returns the named argument or the fallback when absent
func (a Args) BoolOr(name string, fallback bool) bool {
	if decoded, err := a.Bool(name); err == nil {
		return decoded
	}
	return fallback
}

// List returns the named argument as a list of values
func (a Args) List(name string) ([]interface{}, error) {
	value, exists := a[name]
	if !exists {
		return nil, trace.BadParameter("missing parameter %v", name)
	}
	switch decoded := value.(type) {
	case []interface{}:
		return decoded, nil
	case Tuple:
		return decoded, nil
	}
	return nil, trace.BadParameter("parameter %v: expected list, got %T", name, value)
}

// StringList returns the named argument as a list of strings
func (a Args) StringList(name string) ([]string, error) {
	elements, err := a.List(name)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	decoded := make([]string, 0, len(elements))
	for _, element := range elements {
		item, ok := element.(string)
		if !ok {
			return nil, trace.BadParameter(
				"parameter %v: expected list of strings, got element %T", name, element)
		}
		decoded = append(decoded, item)
	}
	return decoded, nil
}

// Map returns the named argument as a string-keyed map
func (a Args) Map(name string) (map[string]interface{}, error) {
	value, exists := a[name]
	if !exists {
		return nil, trace.BadParameter("missing parameter %v", name)
	}
	switch decoded := value.(type) {
	case map[string]interface{}:
		return decoded, nil
	case Args:
		return decoded, nil
	}
	return nil, trace.BadParameter("parameter %v: expected map, got %T", name, value)
}

// Value returns the named argument without conversion
func (a Args) Value(name string) (interface{}, bool) {
	value, exists := a[name]
	return value, exists
}

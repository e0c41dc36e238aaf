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

// Package wire implements the typed value encoding used between the
// coordination server and its workers. Every transferable value is an
// envelope of {datatype, data}: scalars and containers carry a fixed tag,
// registered types carry their construction arguments so the receiving side
// can rebuild an equivalent value through the constructor registry.
package wire

import (
	"encoding/json"
	"reflect"

	"github.com/gravitational/trace"
)

const (
	// TypeNull tags the null scalar
	TypeNull = "null"
	// TypeBool tags booleans
	TypeBool = "bool"
	// TypeInt tags integers
	TypeInt = "int"
	// TypeFloat tags floating point numbers
	TypeFloat = "float"
	// TypeString tags strings
	TypeString = "str"
	// TypeList tags ordered containers
	TypeList = "list"
	// TypeTuple tags fixed-shape ordered containers
	TypeTuple = "tuple"
	// TypeMap tags string-keyed containers
	TypeMap = "map"
)

// Value is the on-wire envelope every transferable value is wrapped in
type Value struct {
	// Datatype names the registered type or container/scalar tag
	Datatype string `json:"datatype"`
	// Data carries the scalar, the encoded elements or the encoded
	// construction arguments, depending on Datatype
	Data json.RawMessage `json:"data"`
}

// Tuple is a fixed-shape ordered container. It is tagged distinctly from
// lists so peers in other runtimes can round-trip the distinction.
type Tuple []interface{}

// Args holds the construction arguments of a registered type
type Args map[string]interface{}

// Marshaler is implemented by values that can travel on the wire. WireType
// returns the registered datatype name, Args the construction arguments the
// receiving side will pass to the registered constructor.
type Marshaler interface {
	WireType() string
	Args() Args
}

// Encode wraps the value into its wire envelope. Scalars, lists, tuples,
// string-keyed maps and Marshaler implementations are supported; element
// values are encoded recursively.
func Encode(value interface{}) (*Value, error) {
	if value == nil {
		return &Value{Datatype: TypeNull, Data: json.RawMessage("null")}, nil
	}
	switch v := value.(type) {
	case Marshaler:
		return encodeArgs(v.WireType(), v.Args())
	case bool:
		return encodeScalar(TypeBool, v)
	case int:
		return encodeScalar(TypeInt, v)
	case int8:
		return encodeScalar(TypeInt, int(v))
	case int16:
		return encodeScalar(TypeInt, int(v))
	case int32:
		return encodeScalar(TypeInt, int(v))
	case int64:
		return encodeScalar(TypeInt, v)
	case uint:
		return encodeScalar(TypeInt, v)
	case uint8:
		return encodeScalar(TypeInt, int(v))
	case uint16:
		return encodeScalar(TypeInt, int(v))
	case uint32:
		return encodeScalar(TypeInt, int(v))
	case uint64:
		return encodeScalar(TypeInt, v)
	case float32:
		return encodeScalar(TypeFloat, float64(v))
	case float64:
		return encodeScalar(TypeFloat, v)
	case string:
		return encodeScalar(TypeString, v)
	case Tuple:
		return encodeElements(TypeTuple, v)
	case []interface{}:
		return encodeElements(TypeList, v)
	case Args:
		return encodeEntries(TypeMap, v)
	case map[string]interface{}:
		return encodeEntries(TypeMap, v)
	}
	return encodeReflect(value)
}

// encodeReflect covers concrete slice and map types the switch above does
// not name, e.g. []string or map[string]float64.
func encodeReflect(value interface{}) (*Value, error) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		elements := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elements[i] = rv.Index(i).Interface()
		}
		return encodeElements(TypeList, elements)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, trace.BadParameter(
				"map type %T is not wire-encodable: keys must be strings", value)
		}
		entries := make(map[string]interface{}, rv.Len())
		for _, key := range rv.MapKeys() {
			entries[key.String()] = rv.MapIndex(key).Interface()
		}
		return encodeEntries(TypeMap, entries)
	}
	return nil, trace.BadParameter("type %T is not wire-encodable", value)
}

func encodeScalar(datatype string, value interface{}) (*Value, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Value{Datatype: datatype, Data: data}, nil
}

func encodeElements(datatype string, elements []interface{}) (*Value, error) {
	encoded := make([]*Value, 0, len(elements))
	for _, element := range elements {
		value, err := Encode(element)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		encoded = append(encoded, value)
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Value{Datatype: datatype, Data: data}, nil
}

func encodeEntries(datatype string, entries map[string]interface{}) (*Value, error) {
	encoded := make(map[string]*Value, len(entries))
	for key, entry := range entries {
		value, err := Encode(entry)
		if err != nil {
			return nil, trace.Wrap(err, "key %q", key)
		}
		encoded[key] = value
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Value{Datatype: datatype, Data: data}, nil
}

func encodeArgs(datatype string, args Args) (*Value, error) {
	value, err := encodeEntries(datatype, args)
	if err != nil {
		return nil, trace.Wrap(err, "encoding %v", datatype)
	}
	return value, nil
}

// MarshalValue encodes the value and renders the envelope as JSON
func MarshalValue(value interface{}) ([]byte, error) {
	encoded, err := Encode(value)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gravitational/trace"
)

// InitHash computes the deterministic initialization hash of the value: the
// SHA-256 digest of the JSON rendering of its wire envelope. Map keys are
// sorted by the JSON encoder, so equivalent values hash equal. The hash keys
// caches of derived artifacts such as partition indices.
func InitHash(value interface{}) (string, error) {
	encoded, err := Encode(value)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return HashValue(*encoded)
}

// HashValue computes the initialization hash of an already encoded envelope
func HashValue(value Value) (string, error) {
	canonical, err := canonicalize(value)
	if err != nil {
		return "", trace.Wrap(err)
	}
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}

// canonicalize re-marshals the envelope so that raw JSON carried in Data is
// normalized (keys sorted, insignificant whitespace dropped) regardless of
// how the envelope was produced.
func canonicalize(value Value) ([]byte, error) {
	var payload interface{}
	if len(value.Data) != 0 {
		if err := json.Unmarshal(value.Data, &payload); err != nil {
			return nil, trace.BadParameter("malformed wire envelope: %v", err)
		}
	}
	canonical, err := json.Marshal(map[string]interface{}{
		"datatype": value.Datatype,
		"data":     payload,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return canonical, nil
}

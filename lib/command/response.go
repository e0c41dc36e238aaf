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

package command

import (
	"github.com/drover-io/drover/lib/blob"

	"github.com/gravitational/trace"
)

// Response type tags, a wire contract
const (
	// ResponseTypeMetric marks responses carrying a metric map
	ResponseTypeMetric = "MetricResponse"
	// ResponseTypeResource marks responses whose files carry resources
	ResponseTypeResource = "ResourceResponse"
	// ResponseTypeClientScore marks responses carrying a worker score
	ResponseTypeClientScore = "ClientScoreResponse"
)

// Response is the result of one command execution. Files holds raw bytes
// on the producing side only; before the response travels, Stage uploads
// them and leaves blob IDs in FileIDs, and the receiving side calls
// Materialize to fetch the bytes back (consuming the blobs).
type Response struct {
	// ResponseType tags the specialized shape, empty for plain responses
	ResponseType string `json:"response_type,omitempty"`
	// Data carries the response payload, a map or a string
	Data map[string]interface{} `json:"data,omitempty"`
	// FileIDs maps file names to blob IDs, the on-wire form of Files
	FileIDs map[string]string `json:"files,omitempty"`
	// Files maps file names to raw bytes, never serialized
	Files map[string][]byte `json:"-"`
}

// NewMetricResponse returns a response carrying one round of metrics
func NewMetricResponse(round, epoch int, split string, metrics map[string]float64) *Response {
	values := make(map[string]interface{}, len(metrics))
	for name, value := range metrics {
		values[name] = value
	}
	return &Response{
		ResponseType: ResponseTypeMetric,
		Data: map[string]interface{}{
			"metrics": values,
			"round":   round,
			"epoch":   epoch,
			"split":   split,
		},
	}
}

// NewResourceResponse returns a response whose files carry resources
func NewResourceResponse(files map[string][]byte) *Response {
	return &Response{
		ResponseType: ResponseTypeResource,
		Files:        files,
	}
}

// NewClientScoreResponse returns a response carrying a worker's score
func NewClientScoreResponse(score float64, scoreType string) *Response {
	return &Response{
		ResponseType: ResponseTypeClientScore,
		Data: map[string]interface{}{
			"score":      score,
			"score_type": scoreType,
		},
	}
}

// Metrics unpacks a MetricResponse
func (r *Response) Metrics() (round, epoch int, split string, values map[string]float64, err error) {
	if r.ResponseType != ResponseTypeMetric {
		return 0, 0, "", nil, trace.BadParameter(
			"expected %v, got %q", ResponseTypeMetric, r.ResponseType)
	}
	raw, ok := r.Data["metrics"].(map[string]interface{})
	if !ok {
		return 0, 0, "", nil, trace.BadParameter("malformed metrics payload")
	}
	values = make(map[string]float64, len(raw))
	for name, value := range raw {
		number, ok := toFloat(value)
		if !ok {
			return 0, 0, "", nil, trace.BadParameter("metric %q is not numeric", name)
		}
		values[name] = number
	}
	round = intField(r.Data, "round")
	epoch = intField(r.Data, "epoch")
	split, _ = r.Data["split"].(string)
	return round, epoch, split, values, nil
}

// Score unpacks a ClientScoreResponse
func (r *Response) Score() (score float64, scoreType string, err error) {
	if r.ResponseType != ResponseTypeClientScore {
		return 0, "", trace.BadParameter(
			"expected %v, got %q", ResponseTypeClientScore, r.ResponseType)
	}
	number, ok := toFloat(r.Data["score"])
	if !ok {
		return 0, "", trace.BadParameter("malformed score payload")
	}
	scoreType, _ = r.Data["score_type"].(string)
	return number, scoreType, nil
}

// Stage uploads raw file payloads and replaces them with blob IDs so the
// response can travel
func (r *Response) Stage(objects blob.Objects, serverOnly bool) error {
	if len(r.Files) == 0 {
		return nil
	}
	ids, err := blob.Upload(objects, r.Files, serverOnly)
	if err != nil {
		return trace.Wrap(err)
	}
	r.FileIDs = ids
	r.Files = nil
	return nil
}

// Materialize fetches the referenced blobs back into raw payloads,
// consuming them
func (r *Response) Materialize(objects blob.Objects) error {
	if len(r.FileIDs) == 0 {
		return nil
	}
	files, err := blob.Materialize(objects, r.FileIDs)
	if err != nil {
		return trace.Wrap(err)
	}
	r.Files = files
	r.FileIDs = nil
	return nil
}

// toFloat widens numeric JSON values, which decode as float64, while
// accepting in-process ints
func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func intField(data map[string]interface{}, name string) int {
	number, ok := toFloat(data[name])
	if !ok {
		return 0
	}
	return int(number)
}

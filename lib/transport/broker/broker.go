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

// Package broker implements the AMQP carrier. Each worker owns a queue
// pair: the server consumes server_queue_<name> and publishes replies
// to client_queue_<name>. Server requests are correlated by a request
// UUID so the polling model of the HTTP carrier carries over unchanged,
// a command still travels as the reply to PullCommand. Both queues are
// purged on connect to drop messages stranded by a previous run.
//
// The broker's own credentials gate access, there is no second token
// exchange on this carrier: a worker's identity is the queue pair it
// holds.
package broker

import (
	"encoding/json"

	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/wire"

	"github.com/gravitational/trace"
)

// Message is the broker wire envelope
type Message struct {
	// MessageType tells the consumer how to decode Data
	MessageType string `json:"message_type"`
	// Data is the type-specific payload
	Data json.RawMessage `json:"data"`
}

// requestEnvelope rides inside a ServerRequest message
type requestEnvelope struct {
	// RequestID correlates the reply on the worker's client queue
	RequestID string `json:"request_id"`
	// Request is the typed server request
	Request wire.Value `json:"request"`
}

// responseEnvelope rides inside a ServerRequestResponse message
type responseEnvelope struct {
	// RequestID matches the originating request
	RequestID string `json:"request_id"`
	// Response is the server's reply, nil on error
	Response *command.Response `json:"response,omitempty"`
	// Error carries the failure as text, empty on success
	Error string `json:"error,omitempty"`
}

// serverQueue names the queue the server consumes the given worker's
// traffic from
func serverQueue(node string) string {
	return constants.ServerQueuePrefix + node
}

// clientQueue names the queue the given worker consumes server replies
// from
func clientQueue(node string) string {
	return constants.ClientQueuePrefix + node
}

func encodeMessage(messageType string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	body, err := json.Marshal(Message{MessageType: messageType, Data: data})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return body, nil
}

func decodeMessage(body []byte) (*Message, error) {
	var message Message
	if err := json.Unmarshal(body, &message); err != nil {
		return nil, trace.Wrap(err, "malformed broker message")
	}
	if message.MessageType == "" {
		return nil, trace.BadParameter("broker message carries no type")
	}
	return &message, nil
}

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

// Package transport defines the carrier-neutral contracts between the
// server and its workers. Two interchangeable carriers implement them,
// HTTP+TLS (lib/transport/httpapi) and AMQP (lib/transport/broker).
// Workers talk through a Messenger, carriers deliver to the server's
// Coordinator.
package transport

import (
	"context"
	"encoding/json"
	"io"

	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/wire"

	"github.com/gravitational/trace"
)

// Coordinator is the server-side endpoint carriers deliver worker
// traffic to
type Coordinator interface {
	// HandleServerRequest answers a typed worker request. The node is
	// the authenticated identity of the requester.
	HandleServerRequest(ctx context.Context, req wire.Value, node string) (*command.Response, error)
	// HandleStatusUpdate absorbs a worker's execution report
	HandleStatusUpdate(ctx context.Context, update command.StatusUpdate) error
}

// Messenger is the worker side of a carrier
type Messenger interface {
	io.Closer
	// SendServerRequest delivers the request and returns the server's
	// reply
	SendServerRequest(ctx context.Context, req wire.Value) (*command.Response, error)
	// SendStatusUpdate delivers an execution report, at most once
	SendStatusUpdate(ctx context.Context, update command.StatusUpdate) error
}

// NewRequest returns the wire envelope of an argument-free server request
func NewRequest(datatype string) wire.Value {
	return wire.Value{Datatype: datatype, Data: json.RawMessage("{}")}
}

// NewCommandResponse wraps an encoded command into a PullCommand reply
func NewCommandResponse(envelope *wire.Value) (*command.Response, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &command.Response{
		Data: map[string]interface{}{"command": string(payload)},
	}, nil
}

// CommandFromResponse unwraps the command carried by a PullCommand
// reply, nil when the server had nothing to dispatch
func CommandFromResponse(response *command.Response) (*wire.Value, error) {
	if response == nil || response.Data == nil {
		return nil, nil
	}
	raw, ok := response.Data["command"]
	if !ok {
		return nil, nil
	}
	payload, ok := raw.(string)
	if !ok {
		return nil, trace.BadParameter("malformed command payload of type %T", raw)
	}
	var envelope wire.Value
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, trace.Wrap(err)
	}
	if envelope.Datatype == "" {
		return nil, trace.BadParameter("command envelope carries no datatype")
	}
	return &envelope, nil
}

// PullCommand polls the server for the next command, nil when the
// server has nothing for this worker
func PullCommand(ctx context.Context, messenger Messenger) (*wire.Value, error) {
	response, err := messenger.SendServerRequest(ctx, NewRequest(constants.RequestPullCommand))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	envelope, err := CommandFromResponse(response)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return envelope, nil
}

// Logout announces the worker is leaving the run
func Logout(ctx context.Context, messenger Messenger) error {
	_, err := messenger.SendServerRequest(ctx, NewRequest(constants.RequestLogout))
	return trace.Wrap(err)
}

// GetStatus fetches the server's program status tables
func GetStatus(ctx context.Context, messenger Messenger) (*command.Response, error) {
	response, err := messenger.SendServerRequest(ctx, NewRequest(constants.RequestGetStatus))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return response, nil
}

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
	"context"

	"github.com/gravitational/trace"
)

// Run executes the command bracketed by a STARTED update and exactly one
// terminal update: FINISHED with the staged response on success, FAILED on
// error or panic. Composites call it per child, the worker's dispatch
// wrapper calls it for the root.
func Run(ctx context.Context, cmd Command, env *Env) (*Response, error) {
	if err := env.report(ctx, NewStatusUpdate(cmd, env.Node, StatusStarted, nil)); err != nil {
		return nil, trace.Wrap(err)
	}
	response, err := execute(ctx, cmd, env)
	if err == nil && response != nil && len(response.Files) > 0 {
		// results are consumed by the server alone
		err = stageResponse(response, env)
	}
	if err != nil {
		env.WithError(err).Warnf("Command %v (%v) failed.", cmd.WireType(), cmd.ID())
		failed := NewStatusUpdate(cmd, env.Node, StatusFailed, &Response{
			Data: map[string]interface{}{"error": err.Error()},
		})
		if reportErr := env.report(ctx, failed); reportErr != nil {
			env.WithError(reportErr).Warn("Failed to report failure.")
		}
		return nil, trace.Wrap(err)
	}
	if err := env.report(ctx, NewStatusUpdate(cmd, env.Node, StatusFinished, response)); err != nil {
		return nil, trace.Wrap(err)
	}
	return response, nil
}

// NewStatusUpdate builds the update for one command transition
func NewStatusUpdate(cmd Command, node, status string, response *Response) StatusUpdate {
	return StatusUpdate{
		CommandID:  cmd.ID(),
		StatusCode: status,
		Datatype:   cmd.WireType(),
		Node:       node,
		Response:   response,
	}
}

// ExcludeSubtree reports every command of the subtree as EXCLUDED, used
// for branches that will never execute on this worker
func ExcludeSubtree(ctx context.Context, cmd Command, env *Env) error {
	for _, c := range Subtree(cmd) {
		if err := env.report(ctx, NewStatusUpdate(c, env.Node, StatusExcluded, nil)); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// execute shields the caller from panics inside command implementations
func execute(ctx context.Context, cmd Command, env *Env) (response *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = trace.BadParameter("command %v panicked: %v", cmd.WireType(), r)
		}
	}()
	response, err = cmd.Execute(ctx, env)
	return response, trace.Wrap(err)
}

func stageResponse(response *Response, env *Env) error {
	storage, err := env.Storage()
	if err != nil {
		return trace.Wrap(err, "response carries files but no blob store is configured")
	}
	return trace.Wrap(response.Stage(storage, true))
}

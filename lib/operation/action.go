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

package operation

import "context"

// Action is a server-local operation. The interpreter runs it off the
// dispatcher; while it is alive no commands are dispatched.
type Action interface {
	// Run performs the work and returns successor operations to splice
	// after the action
	Run(ctx context.Context, env *Env) ([]Operation, error)
	// String describes the action in logs
	String() string
}

// ActionFunc adapts a plain function to an Action
type ActionFunc struct {
	// Name describes the action in logs
	Name string
	// RunFunc performs the action
	RunFunc func(ctx context.Context, env *Env) ([]Operation, error)
}

// Run performs the action
func (a ActionFunc) Run(ctx context.Context, env *Env) ([]Operation, error) {
	return a.RunFunc(ctx, env)
}

// String describes the action in logs
func (a ActionFunc) String() string { return a.Name }

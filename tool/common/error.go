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

package common

import (
	"github.com/drover-io/drover/lib/defaults"

	"github.com/gravitational/trace"
)

// ExitCode maps the error a command returned to the process exit code:
// rejected credentials and configuration mistakes get distinct codes so
// supervisors can tell them from transient failures
func ExitCode(err error) int {
	switch {
	case err == nil:
		return defaults.ProgramCompleteExitCode
	case trace.IsAccessDenied(err):
		return defaults.AuthFailureExitCode
	case trace.IsBadParameter(err):
		return defaults.ConfigurationExitCode
	default:
		return defaults.InternalErrorExitCode
	}
}

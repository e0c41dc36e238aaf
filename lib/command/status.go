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

import "github.com/gravitational/trace"

// Command distribution statuses. The names are a wire contract shared
// with peers in other runtimes, hence snake case.
const (
	// StatusExcluded marks commands of workers outside the selection
	StatusExcluded = "excluded"
	// StatusUnrequested marks commands assigned but not yet dispatched
	StatusUnrequested = "unrequested"
	// StatusSend marks commands handed to the transport
	StatusSend = "send"
	// StatusStarted marks commands a worker reported as executing
	StatusStarted = "started"
	// StatusWaitForResponse marks commands blocked on a server answer
	StatusWaitForResponse = "wait_for_response"
	// StatusFinished marks commands that completed successfully
	StatusFinished = "finished"
	// StatusFailed marks commands that failed or were rejected
	StatusFailed = "failed"
)

// IsTerminalStatus returns true when the status can no longer change
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusExcluded, StatusFinished, StatusFailed:
		return true
	}
	return false
}

// StatusUpdate reports one command's execution state transition from a
// worker to the server. On the wire response files carry blob IDs.
type StatusUpdate struct {
	// CommandID is the UUID of the command the update is about
	CommandID string `json:"command_uuid"`
	// StatusCode is one of the status constants above
	StatusCode string `json:"status_code"`
	// Datatype is the registered name of the command's type
	Datatype string `json:"datatype"`
	// Node is the reporting worker, filled in by the transport when empty
	Node string `json:"node_name,omitempty"`
	// Response carries the execution result for terminal updates
	Response *Response `json:"response,omitempty"`
}

// Check validates the update shape
func (u *StatusUpdate) Check() error {
	if u.CommandID == "" {
		return trace.BadParameter("missing parameter command_uuid")
	}
	switch u.StatusCode {
	case StatusExcluded, StatusUnrequested, StatusSend, StatusStarted,
		StatusWaitForResponse, StatusFinished, StatusFailed:
	default:
		return trace.BadParameter("unknown status code %q", u.StatusCode)
	}
	return nil
}

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

package cli

import (
	"time"

	"gopkg.in/alecthomas/kingpin.v2"
)

// Application represents the command-line "drover-agent" application
type Application struct {
	*kingpin.Application
	// Debug allows to run the tool in debug mode
	Debug *bool
	// Insecure turns off TLS certificate verification on server connections
	Insecure *bool
	// VersionCmd prints the tool version
	VersionCmd VersionCmd
	// RunCmd connects a worker to a coordination server
	RunCmd RunCmd
}

// VersionCmd prints the tool version
type VersionCmd struct {
	*kingpin.CmdClause
}

// RunCmd runs the worker agent against a coordination server
type RunCmd struct {
	*kingpin.CmdClause
	// Server is the coordination server URL
	Server *string
	// NodeName names this worker in the run topology
	NodeName *string
	// Password authenticates the worker with the server
	Password *string
	// Transport selects the command carrier, http or amqp
	Transport *string
	// BrokerURL is the AMQP endpoint for the amqp transport
	BrokerURL *string
	// Device is the compute device commands run against
	Device *string
	// Allow lists the only command types this worker executes
	Allow *[]string
	// Deny lists command types this worker refuses
	Deny *[]string
	// PullInterval is the pause between successful command polls
	PullInterval *time.Duration
}

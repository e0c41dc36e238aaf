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
	"gopkg.in/alecthomas/kingpin.v2"
)

// Application represents the command-line "drover" application and contains
// definitions of all its flags, arguments and subcommands
type Application struct {
	*kingpin.Application
	// Debug allows to run the command in debug mode
	Debug *bool
	// Insecure turns off TLS certificate validation
	Insecure *bool
	// VersionCmd outputs the binary version
	VersionCmd VersionCmd
	// ServeCmd runs the coordination server
	ServeCmd ServeCmd
	// StatusCmd queries a running server for program progress
	StatusCmd StatusCmd
}

// VersionCmd outputs the binary version
type VersionCmd struct {
	*kingpin.CmdClause
}

// ServeCmd runs the coordination server
type ServeCmd struct {
	*kingpin.CmdClause
	// ConfigFile is the server configuration file
	ConfigFile *string
	// ListenAddr overrides the configured listen address
	ListenAddr *string
	// DataDir overrides the configured state directory
	DataDir *string
	// TopologyFile replaces the configured fleet topology
	TopologyFile *string
	// UsersFile replaces the configured user accounts
	UsersFile *string
	// Run overrides the configured run name
	Run *string
	// MinClients gates the built-in program on fleet size
	MinClients *int
	// Message is the payload of the built-in program
	Message *string
	// BrokerURL enables the AMQP endpoint
	BrokerURL *string
	// Devmode relaxes safety checks for local development
	Devmode *bool
	// Simulation admits unknown workers as throwaway users
	Simulation *bool
}

// StatusCmd queries a running server for program progress
type StatusCmd struct {
	*kingpin.CmdClause
	// Server is the coordination server URL
	Server *string
	// Username authenticates the status query
	Username *string
	// Password authenticates the status query
	Password *string
}

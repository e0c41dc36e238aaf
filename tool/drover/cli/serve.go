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
	"context"

	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/defaults"
	"github.com/drover-io/drover/lib/operation"
	"github.com/drover-io/drover/lib/ops"
	"github.com/drover-io/drover/lib/process"
	"github.com/drover-io/drover/lib/processconfig"
	"github.com/drover-io/drover/lib/utils"

	"github.com/gravitational/trace"
)

// serve runs the coordination server until the built-in program completes
// or the process receives a termination signal
func serve(d Application) error {
	config, err := serveConfig(d)
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	utils.WatchTerminationSignals(ctx, cancel, log)

	program := builtinProgram(*d.ServeCmd.MinClients, *d.ServeCmd.Message)
	srv, err := process.New(ctx, *config, program)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := srv.Start(); err != nil {
		return trace.Wrap(err)
	}

	runErr := srv.Wait(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), defaults.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to shut down cleanly.")
	}
	// a termination signal is a clean stop, not a program failure
	if runErr != nil && trace.Unwrap(runErr) != context.Canceled {
		return trace.Wrap(runErr)
	}
	return nil
}

// serveConfig assembles the server configuration: the configuration file
// when given, overridden field by field with explicit flags. Topology and
// user files replace the respective configured lists wholesale.
func serveConfig(d Application) (*processconfig.Config, error) {
	config := &processconfig.Config{}
	if *d.ServeCmd.ConfigFile != "" {
		loaded, err := processconfig.ReadConfig(*d.ServeCmd.ConfigFile)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		config = loaded
	}
	if *d.ServeCmd.ListenAddr != "" {
		config.ListenAddr = *d.ServeCmd.ListenAddr
	}
	if *d.ServeCmd.DataDir != "" {
		config.DataDir = *d.ServeCmd.DataDir
	}
	if *d.ServeCmd.Run != "" {
		config.Run = *d.ServeCmd.Run
	}
	if *d.ServeCmd.BrokerURL != "" {
		config.BrokerURL = *d.ServeCmd.BrokerURL
	}
	if *d.ServeCmd.Devmode {
		config.Devmode = true
	}
	if *d.ServeCmd.Simulation {
		config.Simulation = true
	}
	if *d.ServeCmd.TopologyFile != "" {
		nodes, err := processconfig.ReadTopology(*d.ServeCmd.TopologyFile)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		config.Topology = nodes
	}
	if *d.ServeCmd.UsersFile != "" {
		accounts, err := processconfig.ReadUsers(*d.ServeCmd.UsersFile)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		config.Users = accounts
	}
	return config, nil
}

// builtinProgram is the program the standalone server runs: wait for the
// fleet to assemble, then fan a print out to every worker. Embedding code
// builds real training programs with ops.NewProgram directly.
func builtinProgram(minClients int, message string) *ops.Program {
	return ops.NewProgram().
		Require(operation.MinOnlineClients{Min: minClients}).
		Distribute(operation.Config{
			Commands: []command.Command{command.NewPrint(message)},
		})
}

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
	"fmt"

	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/defaults"

	"gopkg.in/alecthomas/kingpin.v2"
)

// RegisterCommands registers all drover tool flags, arguments and subcommands
func RegisterCommands(app *kingpin.Application) Application {
	d := Application{
		Application: app,
	}

	d.Debug = app.Flag("debug", "Enable debug mode.").Envar(constants.EnvDebug).Bool()
	d.Insecure = app.Flag("insecure", "Skip TLS certificate validation.").Default("false").Bool()

	d.VersionCmd.CmdClause = app.Command("version", "Print version information and exit.")

	d.ServeCmd.CmdClause = app.Command("serve", "Run the coordination server.")
	d.ServeCmd.ConfigFile = d.ServeCmd.Flag("config", "Path to the server configuration file.").Short('c').String()
	d.ServeCmd.ListenAddr = d.ServeCmd.Flag("listen-addr", fmt.Sprintf("Address to serve on. Defaults to %v.", defaults.ServerAddr)).String()
	d.ServeCmd.DataDir = d.ServeCmd.Flag("data-dir", fmt.Sprintf("State directory. Defaults to %v.", defaults.DataDir)).String()
	d.ServeCmd.TopologyFile = d.ServeCmd.Flag("topology", "Path to the fleet topology file, a YAML list of records with a node name and role each. Replaces the topology from the configuration file.").String()
	d.ServeCmd.UsersFile = d.ServeCmd.Flag("users", "Path to the user accounts file, a YAML list of records with a user name, bcrypt password hash and role each. Replaces the users from the configuration file.").String()
	d.ServeCmd.Run = d.ServeCmd.Flag("run", "Name of the training run.").String()
	d.ServeCmd.MinClients = d.ServeCmd.Flag("min-clients", "Number of online workers the built-in program waits for before dispatching.").Default("1").Int()
	d.ServeCmd.Message = d.ServeCmd.Flag("message", "Message the built-in program distributes to every worker.").Default("drover connectivity check").String()
	d.ServeCmd.BrokerURL = d.ServeCmd.Flag("broker-url", "AMQP endpoint to serve command traffic on in addition to HTTPS.").String()
	d.ServeCmd.Devmode = d.ServeCmd.Flag("devmode", "Relax safety checks for local development.").Bool()
	d.ServeCmd.Simulation = d.ServeCmd.Flag("simulation", "Admit unknown workers as throwaway client users. Requires --devmode.").Bool()

	d.StatusCmd.CmdClause = app.Command("status", "Query a running server for program progress.")
	d.StatusCmd.Server = d.StatusCmd.Flag("server", "Coordination server URL.").Default(fmt.Sprintf("https://%v", defaults.ServerAddr)).String()
	d.StatusCmd.Username = d.StatusCmd.Flag("username", "User to authenticate as.").Required().String()
	d.StatusCmd.Password = d.StatusCmd.Flag("password", fmt.Sprintf("Password to authenticate with. Can be set through %v.", constants.EnvServerPassword)).Envar(constants.EnvServerPassword).String()

	return d
}

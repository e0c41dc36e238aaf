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

// RegisterCommands registers all drover-agent tool flags, arguments and
// subcommands
func RegisterCommands(app *kingpin.Application) Application {
	d := Application{
		Application: app,
	}

	d.Debug = app.Flag("debug", "Enable debug mode.").Envar(constants.EnvDebug).Bool()
	d.Insecure = app.Flag("insecure", "Skip TLS certificate validation.").Default("false").Bool()

	d.VersionCmd.CmdClause = app.Command("version", "Print version information and exit.")

	d.RunCmd.CmdClause = app.Command("run", "Run the worker until the server sends it home.")
	d.RunCmd.Server = d.RunCmd.Flag("server", "Coordination server URL.").Default(fmt.Sprintf("https://%v", defaults.ServerAddr)).String()
	d.RunCmd.NodeName = d.RunCmd.Flag("node-name", "Name of this worker in the run topology.").Required().String()
	d.RunCmd.Password = d.RunCmd.Flag("password", fmt.Sprintf("Password to authenticate with. Can be set through %v.", constants.EnvServerPassword)).Envar(constants.EnvServerPassword).String()
	d.RunCmd.Transport = d.RunCmd.Flag("transport", "Command carrier, http or amqp. The blob store always rides HTTPS.").Default(constants.TransportHTTP).Enum(constants.TransportHTTP, constants.TransportAMQP)
	d.RunCmd.BrokerURL = d.RunCmd.Flag("broker-url", fmt.Sprintf("AMQP endpoint for the amqp transport. Defaults to %v.", defaults.BrokerURL)).String()
	d.RunCmd.Device = d.RunCmd.Flag("device", fmt.Sprintf("Compute device commands run against. Defaults to %v.", defaults.Device)).String()
	d.RunCmd.Allow = d.RunCmd.Flag("allow", "Command type this worker accepts, repeat for several. Empty accepts all.").Strings()
	d.RunCmd.Deny = d.RunCmd.Flag("deny", "Command type this worker refuses, repeat for several. Wins over --allow.").Strings()
	d.RunCmd.PullInterval = d.RunCmd.Flag("pull-interval", fmt.Sprintf("Pause between successful command polls. Defaults to %v.", defaults.PullInterval)).Duration()

	return d
}

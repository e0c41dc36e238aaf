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

	"github.com/drover-io/drover/lib/agent"
	blobclient "github.com/drover-io/drover/lib/blob/client"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/httplib"
	"github.com/drover-io/drover/lib/transport"
	"github.com/drover-io/drover/lib/transport/broker"
	"github.com/drover-io/drover/lib/transport/httpapi"
	"github.com/drover-io/drover/lib/utils"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
)

// runAgent connects the worker to the coordination server and polls for
// commands until the run is over or the process receives a termination
// signal
func runAgent(d Application) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	utils.WatchTerminationSignals(ctx, cancel, log)

	var params []roundtrip.ClientParam
	if *d.Insecure {
		params = append(params, roundtrip.HTTPClient(httplib.GetClient(true)))
	}

	messenger, err := newMessenger(d, params...)
	if err != nil {
		return trace.Wrap(err)
	}
	defer messenger.Close()

	// files ride HTTPS even when commands ride the broker
	storage, err := blobclient.NewAuthenticatedClient(
		*d.RunCmd.Server, *d.RunCmd.NodeName, *d.RunCmd.Password, params...)
	if err != nil {
		return trace.Wrap(err)
	}
	defer storage.Close()

	worker, err := agent.New(agent.Config{
		NodeName:        *d.RunCmd.NodeName,
		Messenger:       messenger,
		Storage:         storage,
		Device:          *d.RunCmd.Device,
		AllowedCommands: *d.RunCmd.Allow,
		DeniedCommands:  *d.RunCmd.Deny,
		PullInterval:    *d.RunCmd.PullInterval,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	log.Infof("Connecting worker %q to %v over %v.",
		*d.RunCmd.NodeName, *d.RunCmd.Server, *d.RunCmd.Transport)
	return trace.Wrap(worker.Run(ctx))
}

// newMessenger dials the command carrier selected with --transport
func newMessenger(d Application, params ...roundtrip.ClientParam) (transport.Messenger, error) {
	switch *d.RunCmd.Transport {
	case constants.TransportAMQP:
		client, err := broker.NewClient(broker.ClientConfig{
			URL:      *d.RunCmd.BrokerURL,
			NodeName: *d.RunCmd.NodeName,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return client, nil
	default:
		client, err := httpapi.NewAuthenticatedClient(
			*d.RunCmd.Server, *d.RunCmd.NodeName, *d.RunCmd.Password, params...)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return client, nil
	}
}

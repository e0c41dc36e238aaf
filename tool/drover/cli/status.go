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
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/drover-io/drover/lib/defaults"
	"github.com/drover-io/drover/lib/httplib"
	"github.com/drover-io/drover/lib/operation"
	"github.com/drover-io/drover/lib/ops"
	"github.com/drover-io/drover/lib/transport"
	"github.com/drover-io/drover/lib/transport/httpapi"
	"github.com/drover-io/drover/tool/common"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/olekukonko/tablewriter"
)

// status fetches the program status from a running server and renders it
func status(d Application) error {
	var params []roundtrip.ClientParam
	if *d.Insecure {
		params = append(params, roundtrip.HTTPClient(httplib.GetClient(true)))
	}
	client, err := httpapi.NewAuthenticatedClient(
		*d.StatusCmd.Server, *d.StatusCmd.Username, *d.StatusCmd.Password, params...)
	if err != nil {
		return trace.Wrap(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), defaults.HTTPRequestTimeout)
	defer cancel()
	response, err := transport.GetStatus(ctx, client)
	if err != nil {
		return trace.Wrap(err)
	}
	programStatus, err := ops.ParseStatus(response)
	if err != nil {
		return trace.Wrap(err)
	}
	common.PrintHeader(fmt.Sprintf("Run status on %v", *d.StatusCmd.Server))
	printStatus(os.Stdout, *programStatus)
	return nil
}

// printStatus renders the program verdict and one table per distribution
func printStatus(out io.Writer, status ops.ProgramStatus) {
	switch {
	case status.Error != "":
		fmt.Fprintf(out, "Program failed: %v\n", status.Error)
	case status.Complete:
		fmt.Fprintln(out, "Program complete.")
	default:
		fmt.Fprintln(out, "Program running.")
	}

	for _, distribution := range status.Distributions {
		if distribution.Description != "" {
			fmt.Fprintf(out, "\nDistribution %v (%v): %v\n",
				distribution.ID, distribution.Description, distribution.Status)
		} else {
			fmt.Fprintf(out, "\nDistribution %v: %v\n",
				distribution.ID, distribution.Status)
		}
		if len(distribution.Table) == 0 {
			continue
		}

		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Worker", "Command", "Status"})

		var data [][]string
		for _, worker := range sortedWorkers(distribution.Table) {
			commands := distribution.Table[worker]
			if len(commands) == 0 {
				data = append(data, []string{worker, "-", "not selected"})
				continue
			}
			for _, commandID := range sortedCommands(commands) {
				data = append(data, []string{worker, commandID, commands[commandID]})
			}
		}

		table.AppendBulk(data)
		table.Render()
	}
}

func sortedWorkers(table operation.Table) []string {
	workers := make([]string, 0, len(table))
	for worker := range table {
		workers = append(workers, worker)
	}
	sort.Strings(workers)
	return workers
}

func sortedCommands(commands map[string]string) []string {
	ids := make([]string, 0, len(commands))
	for id := range commands {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

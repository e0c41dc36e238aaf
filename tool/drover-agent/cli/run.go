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
	"os"

	"github.com/drover-io/drover/lib/utils"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField(trace.Component, "cli")

// version is overridden by the release pipeline
var version = "dev"

// Run parses CLI arguments and executes an appropriate drover-agent command
func Run(d Application) error {
	log.Debugf("Executing: %v.", os.Args)
	cmd, err := d.Parse(os.Args[1:])
	if err != nil {
		return trace.Wrap(err)
	}

	trace.SetDebug(*d.Debug)
	utils.InitLogging(*d.Debug)

	switch cmd {
	case d.VersionCmd.FullCommand():
		fmt.Println(version)
		return nil
	case d.RunCmd.FullCommand():
		return runAgent(d)
	}
	return trace.NotFound("unknown command %v", cmd)
}

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

package processconfig

import (
	"os"

	"github.com/drover-io/drover/lib/topology"
	"github.com/drover-io/drover/lib/users"

	"github.com/ghodss/yaml"
	"github.com/gravitational/trace"
)

// ReadConfig parses the server configuration from the YAML file at path
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, trace.BadParameter(
			"failed to parse configuration file %q: %v", path, err)
	}
	return &config, nil
}

// ReadTopology parses the fleet topology from the YAML file at path, a
// list of records with a node name and role each
func ReadTopology(path string) ([]topology.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	var nodes []topology.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, trace.BadParameter(
			"failed to parse topology file %q: %v", path, err)
	}
	return nodes, nil
}

// ReadUsers parses the user accounts from the YAML file at path, a list
// of records with a user name, bcrypt password hash and role each
func ReadUsers(path string) ([]users.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	var accounts []users.User
	if err := yaml.Unmarshal(data, &accounts); err != nil {
		return nil, trace.BadParameter(
			"failed to parse users file %q: %v", path, err)
	}
	return accounts, nil
}

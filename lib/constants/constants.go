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

// package constants contains global constants
// shared between packages
package constants

const (
	// ComponentOps is for the operation manager service
	ComponentOps = "ops"

	// ComponentBLOB is for BLOB storage
	ComponentBLOB = "blob"

	// ComponentTransport is for the message transport layer
	ComponentTransport = "transport"

	// ComponentBroker is for the AMQP endpoint
	ComponentBroker = "broker"

	// ComponentAgent is for the worker agent
	ComponentAgent = "agent"

	// ComponentUsers is for the identity service
	ComponentUsers = "users"

	// ComponentWatcher is for the notification pool
	ComponentWatcher = "watcher"

	// ComponentTopology is for the node inventory
	ComponentTopology = "topology"

	// ComponentCheckpoint is for the checkpoint manager
	ComponentCheckpoint = "checkpoint"

	// ComponentProcess is for the server process itself
	ComponentProcess = "process"

	// FieldCommandID is a logging field for command UUID
	FieldCommandID = "command"
	// FieldDistributionID is a logging field for distribution UUID
	FieldDistributionID = "distribution"
	// FieldNode is a logging field for node name
	FieldNode = "node"
	// FieldUser is a logging field for user name
	FieldUser = "user"
	// FieldBlobID is a logging field for blob IDs
	FieldBlobID = "blob"

	// RoleServer is the coordinating server role
	RoleServer = "server"
	// RoleClient is the worker role
	RoleClient = "client"
	// RoleObserver is the read-only role
	RoleObserver = "observer"

	// RegistryWatcherKey is the registry key the notification pool lives under
	RegistryWatcherKey = "__watcher__"
	// RegistryStorageKey is the registry key the blob store lives under
	RegistryStorageKey = "__storage__"
	// RegistryCheckpointsKey is the registry key for the server checkpoint manager
	RegistryCheckpointsKey = "__checkpoints__"
	// RegistryClientCheckpointsKey is the registry key for worker checkpoint managers
	RegistryClientCheckpointsKey = "__client_checkpoints__"
	// RegistryDeviceKey is the registry key for the compute device handle
	RegistryDeviceKey = "device"

	// RegistrySeparator splits the levels of a registry path
	RegistrySeparator = ":"

	// GlobalModelOwner marks registry entries that hold the shared global model
	GlobalModelOwner = "__global__"

	// ServerQueuePrefix names the broker queue the server consumes worker
	// requests and status updates from
	ServerQueuePrefix = "server_queue_"
	// ClientQueuePrefix names the broker queue a worker consumes server
	// replies from
	ClientQueuePrefix = "client_queue_"

	// MessageTypeServerRequest labels worker-to-server request envelopes
	MessageTypeServerRequest = "ServerRequest"
	// MessageTypeServerRequestResponse labels server replies to worker requests
	MessageTypeServerRequestResponse = "ServerRequestResponse"
	// MessageTypeStatusUpdate labels worker execution reports
	MessageTypeStatusUpdate = "StatusUpdate"

	// RequestPullCommand asks the server for the next queued command
	RequestPullCommand = "PullCommand"
	// RequestLogout tells the server the worker is going offline
	RequestLogout = "Logout"
	// RequestGetStatus asks the server for the distribution status table
	RequestGetStatus = "GetStatus"

	// EncodingJSON is the content type for JSON-encoded requests
	EncodingJSON = "application/json"

	// ShortDateFormat is the short version of human readable timestamp format
	ShortDateFormat = "2006-01-02 15:04"

	// TrueValue is the accepted string value for boolean form fields
	TrueValue = "true"

	// TransportHTTP selects the HTTPS command carrier
	TransportHTTP = "http"
	// TransportAMQP selects the message broker command carrier
	TransportAMQP = "amqp"

	// EnvDebug is the environment variable that enables verbose logging
	EnvDebug = "DROVER_DEBUG"
	// EnvServerPassword is the environment variable the agent reads its password from
	EnvServerPassword = "DROVER_PASSWORD"
)

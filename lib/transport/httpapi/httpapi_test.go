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

package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/drover-io/drover/lib/command"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/operation"
	"github.com/drover-io/drover/lib/ops"
	"github.com/drover-io/drover/lib/registry"
	"github.com/drover-io/drover/lib/topology"
	"github.com/drover-io/drover/lib/transport"
	"github.com/drover-io/drover/lib/users"
	"github.com/drover-io/drover/lib/users/usersservice"
	"github.com/drover-io/drover/lib/watcher"
	"github.com/drover-io/drover/lib/wire"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	. "gopkg.in/check.v1"
)

func TestHTTPAPI(t *testing.T) { TestingT(t) }

type APISuite struct {
	env       *operation.Env
	manager   *ops.Manager
	users     users.Identity
	webServer *httptest.Server
	work      command.Command
}

var _ = Suite(&APISuite{})

func (s *APISuite) SetUpSuite(c *C) {
	log.SetOutput(os.Stderr)
}

func (s *APISuite) SetUpTest(c *C) {
	pool, err := watcher.New(watcher.Config{})
	c.Assert(err, IsNil)
	topo, err := topology.New(topology.Config{
		Nodes: []topology.Node{
			{Name: "server-1", Role: constants.RoleServer},
			{Name: "node-1", Role: constants.RoleClient},
			{Name: "node-2", Role: constants.RoleClient},
		},
		Watchers: pool,
	})
	c.Assert(err, IsNil)
	codec := wire.NewRegistry()
	c.Assert(command.RegisterCommands(codec), IsNil)
	s.env = &operation.Env{
		Topology:    topo,
		Resources:   registry.NewRegistry(),
		Watchers:    pool,
		Codec:       codec,
		FieldLogger: log.WithField(trace.Component, "test"),
	}

	s.work = command.NewSequence(command.NewPrint("step one"), command.NewPrint("step two"))
	s.manager, err = ops.New(ops.Config{
		Program: ops.NewProgram().Distribute(operation.Config{
			Commands: []command.Command{s.work},
		}),
		Env: s.env,
	})
	c.Assert(err, IsNil)

	server, err := users.NewUser("server", "server-password", constants.RoleServer)
	c.Assert(err, IsNil)
	worker1, err := users.NewUser("node-1", "node-1-password", constants.RoleClient)
	c.Assert(err, IsNil)
	worker2, err := users.NewUser("node-2", "node-2-password", constants.RoleClient)
	c.Assert(err, IsNil)
	s.users, err = usersservice.New(usersservice.Config{
		Users: []users.User{*server, *worker1, *worker2},
	})
	c.Assert(err, IsNil)

	webHandler, err := New(Config{
		Coordinator: s.manager,
		Users:       s.users,
	})
	c.Assert(err, IsNil)
	s.webServer = httptest.NewServer(webHandler)
}

func (s *APISuite) TearDownTest(c *C) {
	if s.manager != nil {
		c.Assert(s.manager.Close(), IsNil)
	}
	if s.webServer != nil {
		s.webServer.Close()
	}
}

func (s *APISuite) TestWorkerLifecycle(c *C) {
	ctx := context.TODO()
	client, err := NewAuthenticatedClient(s.webServer.URL, "node-1", "node-1-password")
	c.Assert(err, IsNil)

	// the very first pull heartbeats the worker online and serves the tree
	envelope, err := transport.PullCommand(ctx, client)
	c.Assert(err, IsNil)
	c.Assert(envelope, NotNil)
	c.Assert(envelope.Datatype, Equals, command.TypeSequence)

	node, err := s.env.Topology.Node("node-1")
	c.Assert(err, IsNil)
	c.Assert(node.IsOnline(), Equals, true)

	decoded, err := s.env.Codec.Decode(*envelope)
	c.Assert(err, IsNil)
	served, ok := decoded.(command.Command)
	c.Assert(ok, Equals, true)
	c.Assert(served.ID(), Equals, s.work.ID())

	// nothing else is queued for this worker
	envelope, err = transport.PullCommand(ctx, client)
	c.Assert(err, IsNil)
	c.Assert(envelope, IsNil)

	// the worker reports its progress without naming itself, the
	// transport stamps the authenticated identity
	subtree := command.Subtree(served)
	for _, cc := range subtree {
		c.Assert(client.SendStatusUpdate(ctx, command.StatusUpdate{
			CommandID:  cc.ID(),
			StatusCode: command.StatusStarted,
			Datatype:   cc.WireType(),
		}), IsNil)
	}
	for i := len(subtree) - 1; i >= 0; i-- {
		c.Assert(client.SendStatusUpdate(ctx, command.StatusUpdate{
			CommandID:  subtree[i].ID(),
			StatusCode: command.StatusFinished,
			Datatype:   subtree[i].WireType(),
		}), IsNil)
	}

	// one more poll absorbs the completed distribution
	envelope, err = transport.PullCommand(ctx, client)
	c.Assert(err, IsNil)
	c.Assert(envelope, IsNil)
	select {
	case <-s.manager.Done():
	default:
		c.Fatal("program should be complete")
	}
	c.Assert(s.manager.Err(), IsNil)

	status, err := transport.GetStatus(ctx, client)
	c.Assert(err, IsNil)
	parsed, err := ops.ParseStatus(status)
	c.Assert(err, IsNil)
	c.Assert(parsed.Complete, Equals, true)
	c.Assert(parsed.Distributions, HasLen, 1)
	c.Assert(parsed.Distributions[0].Table["node-1"][s.work.ID()], Equals, command.StatusFinished)
}

func (s *APISuite) TestLogout(c *C) {
	ctx := context.TODO()
	client, err := NewAuthenticatedClient(s.webServer.URL, "node-1", "node-1-password")
	c.Assert(err, IsNil)

	_, err = transport.PullCommand(ctx, client)
	c.Assert(err, IsNil)
	node, err := s.env.Topology.Node("node-1")
	c.Assert(err, IsNil)
	c.Assert(node.IsOnline(), Equals, true)

	c.Assert(transport.Logout(ctx, client), IsNil)
	node, err = s.env.Topology.Node("node-1")
	c.Assert(err, IsNil)
	c.Assert(node.IsOnline(), Equals, false)
}

func (s *APISuite) TestRejectsBadCredentials(c *C) {
	_, err := NewAuthenticatedClient(s.webServer.URL, "node-1", "wrong-password")
	c.Assert(err, NotNil)

	badTokenClient, err := NewBearerClient(s.webServer.URL, "garbage-token")
	c.Assert(err, IsNil)
	_, err = transport.PullCommand(context.TODO(), badTokenClient)
	c.Assert(trace.IsAccessDenied(err), Equals, true, Commentf("type: %#v", err))
}

func (s *APISuite) TestRejectsMissingCredentials(c *C) {
	resp, err := http.Post(s.webServer.URL+"/serverrequest", constants.EncodingJSON,
		bytes.NewReader([]byte(`{"datatype": "PullCommand", "data": {}}`)))
	c.Assert(err, IsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, Equals, http.StatusUnauthorized)
}

func (s *APISuite) TestRejectsMalformedPayloads(c *C) {
	result, err := s.users.SignIn("node-1", "node-1-password")
	c.Assert(err, IsNil)

	for _, endpoint := range []string{"/serverrequest", "/status"} {
		req, err := http.NewRequest(http.MethodPost, s.webServer.URL+endpoint,
			bytes.NewReader([]byte("not json at all")))
		c.Assert(err, IsNil)
		req.Header.Set("Authorization", "Bearer "+result.AccessToken)
		req.Header.Set("Content-Type", constants.EncodingJSON)
		resp, err := http.DefaultClient.Do(req)
		c.Assert(err, IsNil)
		resp.Body.Close()
		c.Assert(resp.StatusCode, Equals, http.StatusUnprocessableEntity,
			Commentf("endpoint %v", endpoint))
	}

	// a status update with an unknown status code is unprocessable too
	req, err := http.NewRequest(http.MethodPost, s.webServer.URL+"/status",
		bytes.NewReader([]byte(`{"command_uuid": "some-uuid", "status_code": "bogus", "datatype": "PrintCommand"}`)))
	c.Assert(err, IsNil)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)
	req.Header.Set("Content-Type", constants.EncodingJSON)
	resp, err := http.DefaultClient.Do(req)
	c.Assert(err, IsNil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, Equals, http.StatusUnprocessableEntity)
}

func (s *APISuite) TestSecurityHeaders(c *C) {
	resp, err := http.Post(s.webServer.URL+"/token", "application/x-www-form-urlencoded",
		bytes.NewReader([]byte("username=node-1&password=node-1-password")))
	c.Assert(err, IsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, Equals, http.StatusOK)
	c.Assert(resp.Header.Get("X-Content-Type-Options"), Equals, "nosniff")
	c.Assert(resp.Header.Get("Strict-Transport-Security"), Not(Equals), "")
}

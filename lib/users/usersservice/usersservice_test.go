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

package usersservice

import (
	"testing"
	"time"

	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/httplib"
	"github.com/drover-io/drover/lib/users"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"gopkg.in/check.v1"
)

func TestUsersService(t *testing.T) { check.TestingT(t) }

type ServiceSuite struct {
	clock clockwork.FakeClock
}

var _ = check.Suite(&ServiceSuite{})

const testPassword = "wild-horses-17"

func (s *ServiceSuite) SetUpTest(c *check.C) {
	s.clock = clockwork.NewFakeClock()
}

func (s *ServiceSuite) newService(c *check.C, simulation bool) *Service {
	server, err := users.NewUser("server-1", testPassword, constants.RoleServer)
	c.Assert(err, check.IsNil)
	node, err := users.NewUser("node-1", testPassword, constants.RoleClient)
	c.Assert(err, check.IsNil)

	service, err := New(Config{
		Users:      []users.User{*server, *node},
		TokenTTL:   time.Hour,
		Simulation: simulation,
		Clock:      s.clock,
	})
	c.Assert(err, check.IsNil)
	return service
}

func (s *ServiceSuite) TestAuthenticatesStoredUsers(c *check.C) {
	service := s.newService(c, false)

	user, err := service.AuthenticateUser("node-1", testPassword)
	c.Assert(err, check.IsNil)
	c.Assert(user.Name, check.Equals, "node-1")
	c.Assert(user.Role, check.Equals, constants.RoleClient)

	_, err = service.AuthenticateUser("node-1", "not-the-password")
	c.Assert(trace.IsAccessDenied(err), check.Equals, true)

	_, err = service.AuthenticateUser("stranger", testPassword)
	c.Assert(trace.IsAccessDenied(err), check.Equals, true)

	_, err = service.AuthenticateUser("", "")
	c.Assert(trace.IsAccessDenied(err), check.Equals, true)
}

func (s *ServiceSuite) TestRoundTripsBearerTokens(c *check.C) {
	service := s.newService(c, false)

	result, err := service.SignIn("node-1", testPassword)
	c.Assert(err, check.IsNil)
	c.Assert(result.TokenType, check.Equals, users.TokenTypeBearer)
	c.Assert(result.AccessToken, check.Not(check.Equals), "")

	user, err := service.AuthenticateToken(result.AccessToken)
	c.Assert(err, check.IsNil)
	c.Assert(user.Name, check.Equals, "node-1")

	// second verification is served from the cache and resolves the
	// same subject
	user, err = service.AuthenticateToken(result.AccessToken)
	c.Assert(err, check.IsNil)
	c.Assert(user.Name, check.Equals, "node-1")
}

func (s *ServiceSuite) TestRejectsExpiredTokens(c *check.C) {
	service := s.newService(c, false)

	result, err := service.SignIn("node-1", testPassword)
	c.Assert(err, check.IsNil)

	s.clock.Advance(2 * time.Hour)
	_, err = service.AuthenticateToken(result.AccessToken)
	c.Assert(trace.IsAccessDenied(err), check.Equals, true)
}

func (s *ServiceSuite) TestRejectsForeignTokens(c *check.C) {
	service := s.newService(c, false)
	other := s.newService(c, false)

	result, err := service.SignIn("node-1", testPassword)
	c.Assert(err, check.IsNil)

	// signed with a different key
	_, err = other.AuthenticateToken(result.AccessToken)
	c.Assert(trace.IsAccessDenied(err), check.Equals, true)

	_, err = service.AuthenticateToken("")
	c.Assert(trace.IsAccessDenied(err), check.Equals, true)

	_, err = service.AuthenticateToken("not-a-token")
	c.Assert(trace.IsAccessDenied(err), check.Equals, true)
}

func (s *ServiceSuite) TestSimulationCreatesClientUsers(c *check.C) {
	service := s.newService(c, true)

	user, err := service.AuthenticateUser("stray-worker", testPassword)
	c.Assert(err, check.IsNil)
	c.Assert(user.Name, check.Equals, "stray-worker")
	c.Assert(user.Role, check.Equals, constants.RoleClient)

	// the user is persistent and keeps the password it arrived with
	stored, err := service.GetUser("stray-worker")
	c.Assert(err, check.IsNil)
	c.Assert(stored.Role, check.Equals, constants.RoleClient)
	_, err = service.AuthenticateUser("stray-worker", "different-password")
	c.Assert(trace.IsAccessDenied(err), check.Equals, true)
}

func (s *ServiceSuite) TestSimulationOffRejectsUnknownUsers(c *check.C) {
	service := s.newService(c, false)

	_, err := service.AuthenticateUser("stray-worker", testPassword)
	c.Assert(trace.IsAccessDenied(err), check.Equals, true)
	_, err = service.GetUser("stray-worker")
	c.Assert(trace.IsNotFound(err), check.Equals, true)
}

func (s *ServiceSuite) TestAuthenticatesRequests(c *check.C) {
	service := s.newService(c, false)

	result, err := service.SignIn("server-1", testPassword)
	c.Assert(err, check.IsNil)

	user, err := service.AuthenticateRequest(httplib.AuthCreds{
		Type:     httplib.AuthBearer,
		Password: result.AccessToken,
	})
	c.Assert(err, check.IsNil)
	c.Assert(user.Name, check.Equals, "server-1")

	user, err = service.AuthenticateRequest(httplib.AuthCreds{
		Type:     httplib.AuthBasic,
		Username: "node-1",
		Password: testPassword,
	})
	c.Assert(err, check.IsNil)
	c.Assert(user.Name, check.Equals, "node-1")
}

func (s *ServiceSuite) TestCreateUserRejectsDuplicates(c *check.C) {
	service := s.newService(c, false)

	user, err := users.NewUser("node-2", testPassword, constants.RoleClient)
	c.Assert(err, check.IsNil)
	c.Assert(service.CreateUser(*user), check.IsNil)
	err = service.CreateUser(*user)
	c.Assert(trace.IsAlreadyExists(err), check.Equals, true)
}

func (s *ServiceSuite) TestRejectsShortPasswords(c *check.C) {
	_, err := users.NewUser("node-3", "tiny", constants.RoleClient)
	c.Assert(trace.IsBadParameter(err), check.Equals, true)
}

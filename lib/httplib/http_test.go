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

package httplib

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"

	. "gopkg.in/check.v1"
)

func TestHTTP(t *testing.T) { TestingT(t) }

type testHTTPSuite struct {
}

var _ = Suite(&testHTTPSuite{})

func (s *testHTTPSuite) TestParseAuthHeaders(c *C) {
	r := s.makeRequest("")
	r.Header.Set("Authorization", "Bearer sometoken")
	creds, err := ParseAuthHeaders(&r)
	c.Assert(err, IsNil)
	c.Assert(creds.IsToken(), Equals, true)
	c.Assert(creds.Password, Equals, "sometoken")

	r = s.makeRequest("")
	r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:secret")))
	creds, err = ParseAuthHeaders(&r)
	c.Assert(err, IsNil)
	c.Assert(creds.Type, Equals, AuthBasic)
	c.Assert(creds.Username, Equals, "alice")
	c.Assert(creds.Password, Equals, "secret")

	r = s.makeRequest("access_token=querytoken")
	creds, err = ParseAuthHeaders(&r)
	c.Assert(err, IsNil)
	c.Assert(creds.IsToken(), Equals, true)
	c.Assert(creds.Password, Equals, "querytoken")
}

func (s *testHTTPSuite) TestParseAuthHeadersRejects(c *C) {
	r := s.makeRequest("")
	_, err := ParseAuthHeaders(&r)
	c.Assert(err, NotNil)

	r = s.makeRequest("")
	r.Header.Set("Authorization", "Digest abc")
	_, err = ParseAuthHeaders(&r)
	c.Assert(err, NotNil)

	r = s.makeRequest("")
	r.Header.Set("Authorization", "Basic not-base64!!!")
	_, err = ParseAuthHeaders(&r)
	c.Assert(err, NotNil)
}

func (s *testHTTPSuite) TestSecurityHeaders(c *C) {
	h := make(http.Header)
	SetSecurityHeaders(h)
	c.Assert(h.Get("X-Content-Type-Options"), Equals, "nosniff")
	c.Assert(h.Get("X-XSS-Protection"), Equals, "1; mode=block")
	c.Assert(h.Get("Permissions-Policy"), Equals, "interest-cohort=()")
	c.Assert(h.Get("Content-Security-Policy"), Equals, "frame-ancestors 'none'")
	c.Assert(h.Get("Strict-Transport-Security"), Not(Equals), "")
}

func (s *testHTTPSuite) makeRequest(rawQuery string) http.Request {
	return http.Request{
		Header: make(http.Header),
		URL:    &url.URL{RawQuery: rawQuery},
	}
}

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

package utils

import (
	"testing"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/check.v1"
)

func TestUtils(t *testing.T) { check.TestingT(t) }

type UtilsSuite struct{}

var _ = check.Suite(&UtilsSuite{})

func (s *UtilsSuite) TestRetrySucceedsAfterFailures(c *check.C) {
	attempts := 0
	err := Retry(time.Millisecond, 5, func() error {
		attempts++
		if attempts < 3 {
			return trace.ConnectionProblem(nil, "not yet")
		}
		return nil
	})
	c.Assert(err, check.IsNil)
	c.Assert(attempts, check.Equals, 3)
}

func (s *UtilsSuite) TestRetryAborts(c *check.C) {
	attempts := 0
	expected := trace.AccessDenied("denied")
	err := Retry(time.Millisecond, 5, func() error {
		attempts++
		return Abort(expected)
	})
	c.Assert(err, check.Equals, expected)
	c.Assert(attempts, check.Equals, 1)
}

func (s *UtilsSuite) TestRetryExhaustsAttempts(c *check.C) {
	attempts := 0
	err := Retry(time.Millisecond, 3, func() error {
		attempts++
		return Continue("attempt %v", attempts)
	})
	c.Assert(err, check.NotNil)
	c.Assert(attempts, check.Equals, 3)
}

func (s *UtilsSuite) TestStringSlices(c *check.C) {
	c.Assert(StringInSlice([]string{"a", "b"}, "b"), check.Equals, true)
	c.Assert(StringInSlice([]string{"a", "b"}, "c"), check.Equals, false)
	c.Assert(StringsInSlice([]string{"a", "b", "c"}, "a", "c"), check.Equals, true)
	c.Assert(StringsInSlice([]string{"a", "b"}, "a", "z"), check.Equals, false)
	c.Assert(StringSlicesEqual([]string{"a"}, []string{"a"}), check.Equals, true)
	c.Assert(StringSlicesEqual([]string{"a"}, []string{"b"}), check.Equals, false)
}

func (s *UtilsSuite) TestGenerateSelfSignedCert(c *check.C) {
	creds, err := GenerateSelfSignedCert([]string{"drover.test"})
	c.Assert(err, check.IsNil)
	c.Assert(len(creds.Cert) != 0, check.Equals, true)
	c.Assert(len(creds.PrivateKey) != 0, check.Equals, true)
}

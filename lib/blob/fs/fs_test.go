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

package fs

import (
	"testing"

	"github.com/drover-io/drover/lib/blob/suite"

	"github.com/gravitational/trace"
	. "gopkg.in/check.v1"
)

func TestFS(t *testing.T) { TestingT(t) }

type FSSuite struct {
	suite suite.BLOBSuite
}

var _ = Suite(&FSSuite{})

func (s *FSSuite) SetUpTest(c *C) {
	store, err := New(c.MkDir())
	c.Assert(err, IsNil)
	s.suite.Objects = store
	s.suite.Store = store
}

func (s *FSSuite) TestBLOB(c *C) {
	s.suite.BLOB(c)
}

func (s *FSSuite) TestBLOBList(c *C) {
	s.suite.BLOBList(c)
}

func (s *FSSuite) TestBLOBEnvelope(c *C) {
	s.suite.BLOBEnvelope(c)
}

func (s *FSSuite) TestBLOBSeek(c *C) {
	s.suite.BLOBSeek(c)
}

func (s *FSSuite) TestBLOBWriteTwice(c *C) {
	s.suite.BLOBWriteTwice(c)
}

func (s *FSSuite) TestServerOnlyVisibility(c *C) {
	s.suite.ServerOnlyVisibility(c)
}

func (s *FSSuite) TestRejectsInvalidID(c *C) {
	store, err := New(c.MkDir())
	c.Assert(err, IsNil)

	_, err = store.OpenBLOB("../../../etc/passwd")
	c.Assert(trace.IsBadParameter(err), Equals, true, Commentf("type: %#v", err))
	err = store.DeleteBLOB("x")
	c.Assert(trace.IsBadParameter(err), Equals, true, Commentf("type: %#v", err))
}

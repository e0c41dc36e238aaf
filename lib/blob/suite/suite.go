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

package suite

import (
	"bytes"
	"io/ioutil"
	"sort"

	"github.com/drover-io/drover/lib/blob"
	"github.com/drover-io/drover/lib/constants"
	"github.com/drover-io/drover/lib/utils"

	"github.com/gravitational/trace"
	. "gopkg.in/check.v1" //nolint:revive,stylecheck
)

// BLOBSuite verifies the BLOB storage contract, Objects is the surface
// every carrier implements, Store is set when the backend supports
// enumeration and metadata lookups
type BLOBSuite struct {
	Objects blob.Objects
	Store   blob.Store
}

// BLOB is a test for the BLOB round trip
func (s *BLOBSuite) BLOB(c *C) {
	blob1 := "hello, blob 1"
	e, err := s.Objects.WriteBLOB(bytes.NewBuffer([]byte(blob1)), false)
	c.Assert(err, IsNil)
	c.Assert(e.ID, Not(Equals), "")
	c.Assert(e.SizeBytes, Equals, int64(len(blob1)))
	c.Assert(e.SHA512, Equals, utils.MustSHA512Half([]byte(blob1)))

	r, err := s.Objects.OpenBLOB(e.ID)
	c.Assert(err, IsNil)

	out, err := ioutil.ReadAll(r)
	c.Assert(err, IsNil)
	c.Assert(string(out), Equals, blob1)
	c.Assert(r.Close(), IsNil)
	// second close should not panic or freeze
	r.Close()

	err = s.Objects.DeleteBLOB(e.ID)
	c.Assert(err, IsNil)

	_, err = s.Objects.OpenBLOB(e.ID)
	c.Assert(trace.IsNotFound(err), Equals, true, Commentf("type: %#v", err))
}

// BLOBList is a test for BLOB enumeration
func (s *BLOBSuite) BLOBList(c *C) {
	blob1 := "hello, blob 1"
	e, err := s.Store.WriteBLOB(bytes.NewBuffer([]byte(blob1)), false)
	c.Assert(err, IsNil)

	out, err := s.Store.GetBLOBs()
	c.Assert(err, IsNil)
	c.Assert(out, DeepEquals, []string{e.ID})

	blob2 := "hello, blob 2"
	e2, err := s.Store.WriteBLOB(bytes.NewBuffer([]byte(blob2)), false)
	c.Assert(err, IsNil)

	expected := []string{e.ID, e2.ID}
	sort.Strings(expected)

	out, err = s.Store.GetBLOBs()
	c.Assert(err, IsNil)
	c.Assert(out, DeepEquals, expected)

	err = s.Store.DeleteBLOB(e.ID)
	c.Assert(err, IsNil)

	out, err = s.Store.GetBLOBs()
	c.Assert(err, IsNil)
	c.Assert(out, DeepEquals, []string{e2.ID})
}

// BLOBEnvelope is a test for BLOB metadata lookups
func (s *BLOBSuite) BLOBEnvelope(c *C) {
	blob1 := "hello, blob 1"
	e, err := s.Store.WriteBLOB(bytes.NewBuffer([]byte(blob1)), true)
	c.Assert(err, IsNil)
	c.Assert(e.ServerOnly, Equals, true)

	envelope, err := s.Store.GetBLOBEnvelope(e.ID)
	c.Assert(err, IsNil)
	c.Assert(envelope, DeepEquals, e)

	_, err = s.Store.GetBLOBEnvelope("deadbeef")
	c.Assert(trace.IsNotFound(err), Equals, true, Commentf("type: %#v", err))
}

// BLOBSeek tests that seek works
func (s *BLOBSuite) BLOBSeek(c *C) {
	blob1 := "hello, blob 1"
	e, err := s.Objects.WriteBLOB(bytes.NewBuffer([]byte(blob1)), false)
	c.Assert(err, IsNil)

	r, err := s.Objects.OpenBLOB(e.ID)
	c.Assert(err, IsNil)
	defer r.Close()

	out, err := ioutil.ReadAll(r)
	c.Assert(err, IsNil)
	c.Assert(string(out), Equals, blob1)

	_, err = r.Seek(0, 0)
	c.Assert(err, IsNil)

	out2, err := ioutil.ReadAll(r)
	c.Assert(err, IsNil)
	c.Assert(string(out2), Equals, blob1)
}

// BLOBWriteTwice tests that writing the same data twice produces
// two independent BLOBs
func (s *BLOBSuite) BLOBWriteTwice(c *C) {
	blob1 := "hello, blob 1"
	e, err := s.Objects.WriteBLOB(bytes.NewBuffer([]byte(blob1)), false)
	c.Assert(err, IsNil)

	e2, err := s.Objects.WriteBLOB(bytes.NewBuffer([]byte(blob1)), false)
	c.Assert(err, IsNil)
	c.Assert(e2.ID, Not(Equals), e.ID)

	err = s.Objects.DeleteBLOB(e.ID)
	c.Assert(err, IsNil)

	r, err := s.Objects.OpenBLOB(e2.ID)
	c.Assert(err, IsNil)
	defer r.Close()

	out, err := ioutil.ReadAll(r)
	c.Assert(err, IsNil)
	c.Assert(string(out), Equals, blob1)
}

// ServerOnlyVisibility tests that BLOBs uploaded as server-only are
// reported as missing to other roles
func (s *BLOBSuite) ServerOnlyVisibility(c *C) {
	secret := "server eyes only"
	shared := "shared payload"

	serverView := blob.WithRole(s.Store, constants.RoleServer)
	clientView := blob.WithRole(s.Store, constants.RoleClient)

	e, err := serverView.WriteBLOB(bytes.NewBuffer([]byte(secret)), true)
	c.Assert(err, IsNil)
	e2, err := clientView.WriteBLOB(bytes.NewBuffer([]byte(shared)), false)
	c.Assert(err, IsNil)

	// the server sees both
	r, err := serverView.OpenBLOB(e.ID)
	c.Assert(err, IsNil)
	c.Assert(r.Close(), IsNil)
	ids, err := serverView.GetBLOBs()
	c.Assert(err, IsNil)
	c.Assert(len(ids), Equals, 2)

	// the client sees the shared BLOB only
	_, err = clientView.OpenBLOB(e.ID)
	c.Assert(trace.IsNotFound(err), Equals, true, Commentf("type: %#v", err))
	_, err = clientView.GetBLOBEnvelope(e.ID)
	c.Assert(trace.IsNotFound(err), Equals, true, Commentf("type: %#v", err))
	err = clientView.DeleteBLOB(e.ID)
	c.Assert(trace.IsNotFound(err), Equals, true, Commentf("type: %#v", err))

	ids, err = clientView.GetBLOBs()
	c.Assert(err, IsNil)
	c.Assert(ids, DeepEquals, []string{e2.ID})

	r, err = clientView.OpenBLOB(e2.ID)
	c.Assert(err, IsNil)
	out, err := ioutil.ReadAll(r)
	c.Assert(err, IsNil)
	c.Assert(string(out), Equals, shared)
	c.Assert(r.Close(), IsNil)
}

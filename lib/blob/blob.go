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

package blob

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"time"

	"github.com/drover-io/drover/lib/constants"

	"github.com/gravitational/trace"
)

// String returns text representation of this blob envelope
func (r Envelope) String() string {
	return fmt.Sprintf("blob(id=%v, size=%v, server_only=%v, modified=%v)",
		r.ID, r.SizeBytes, r.ServerOnly, r.Modified.Format(constants.ShortDateFormat))
}

// Envelope specifies the metadata about a BLOB - its ID, size and visibility
type Envelope struct {
	// ID is the opaque identifier the BLOB is addressed by
	ID string `json:"id"`
	// SizeBytes is the BLOB size in bytes
	SizeBytes int64 `json:"size_bytes"`
	// SHA512 is the half SHA512 hash of the BLOB
	SHA512 string `json:"sha512"`
	// ServerOnly restricts reads to callers with the server role
	ServerOnly bool `json:"server_only"`
	// Modified specifies the time this BLOB was last modified
	Modified time.Time `json:"modified"`
}

// ReadSeekCloser implements Reader, Seeker and Closer
type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}

// Objects is the out-of-band BLOB storage large payloads travel through
// instead of the control-plane messages that reference them
type Objects interface {
	io.Closer
	// WriteBLOB writes the BLOB to storage under a fresh ID, on success
	// returns the envelope describing the stored BLOB
	WriteBLOB(data io.Reader, serverOnly bool) (*Envelope, error)
	// OpenBLOB opens the BLOB by ID and returns reader object
	OpenBLOB(id string) (ReadSeekCloser, error)
	// DeleteBLOB deletes the BLOB by ID
	DeleteBLOB(id string) error
}

// Store is the server-side BLOB storage that additionally supports
// enumeration and metadata lookups
type Store interface {
	Objects
	// GetBLOBs returns the IDs of the BLOBs present in the store
	GetBLOBs() ([]string, error)
	// GetBLOBEnvelope returns the envelope of the BLOB with the given ID
	GetBLOBEnvelope(id string) (*Envelope, error)
}

// Upload stores every payload from the given set and returns the mapping
// from payload name to the ID of the BLOB it was stored under
func Upload(objects Objects, files map[string][]byte, serverOnly bool) (map[string]string, error) {
	ids := make(map[string]string, len(files))
	for name, data := range files {
		envelope, err := objects.WriteBLOB(bytes.NewReader(data), serverOnly)
		if err != nil {
			return nil, trace.Wrap(err, "failed to upload %q", name)
		}
		ids[name] = envelope.ID
	}
	return ids, nil
}

// Materialize fetches every referenced BLOB and deletes it after a
// successful read so payloads are consumed at most once
func Materialize(objects Objects, ids map[string]string) (map[string][]byte, error) {
	files := make(map[string][]byte, len(ids))
	for name, id := range ids {
		data, err := Consume(objects, id)
		if err != nil {
			return nil, trace.Wrap(err, "failed to fetch %q", name)
		}
		files[name] = data
	}
	return files, nil
}

// Fetch reads the BLOB with the given ID in full, leaving it in place for
// other consumers
func Fetch(objects Objects, id string) ([]byte, error) {
	reader, err := objects.OpenBLOB(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer reader.Close()
	data, err := ioutil.ReadAll(reader)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// Consume reads the BLOB with the given ID in full and deletes it
func Consume(objects Objects, id string) ([]byte, error) {
	reader, err := objects.OpenBLOB(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := ioutil.ReadAll(reader)
	reader.Close()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := objects.DeleteBLOB(id); err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

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
	"io"

	"github.com/drover-io/drover/lib/constants"

	"github.com/gravitational/trace"
)

// WithRole returns a view of the store restricted to what the given
// role is allowed to access: BLOBs uploaded as server-only are visible
// to the server role exclusively, everything else is shared
func WithRole(store Store, role string) Store {
	return &roleACL{
		store: store,
		role:  role,
	}
}

// roleACL is a permission aware store that wraps the regular store and
// applies role checks before every operation
type roleACL struct {
	store Store
	role  string
}

func (a *roleACL) Close() error {
	return a.store.Close()
}

// WriteBLOB writes the BLOB to storage under a fresh ID
func (a *roleACL) WriteBLOB(data io.Reader, serverOnly bool) (*Envelope, error) {
	return a.store.WriteBLOB(data, serverOnly)
}

// OpenBLOB opens the BLOB by ID and returns reader object
func (a *roleACL) OpenBLOB(id string) (ReadSeekCloser, error) {
	if err := a.check(id); err != nil {
		return nil, trace.Wrap(err)
	}
	return a.store.OpenBLOB(id)
}

// DeleteBLOB deletes the BLOB by ID
func (a *roleACL) DeleteBLOB(id string) error {
	if err := a.check(id); err != nil {
		return trace.Wrap(err)
	}
	return a.store.DeleteBLOB(id)
}

// GetBLOBs returns the IDs of the BLOBs the role is allowed to see
func (a *roleACL) GetBLOBs() ([]string, error) {
	ids, err := a.store.GetBLOBs()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if a.role == constants.RoleServer {
		return ids, nil
	}
	var visible []string
	for _, id := range ids {
		if err := a.check(id); err != nil {
			continue
		}
		visible = append(visible, id)
	}
	return visible, nil
}

// GetBLOBEnvelope returns the envelope of the BLOB with the given ID
func (a *roleACL) GetBLOBEnvelope(id string) (*Envelope, error) {
	if err := a.check(id); err != nil {
		return nil, trace.Wrap(err)
	}
	return a.store.GetBLOBEnvelope(id)
}

// check verifies the role may access the BLOB, a server-only BLOB is
// reported as missing to everyone else so its existence is not leaked
func (a *roleACL) check(id string) error {
	envelope, err := a.store.GetBLOBEnvelope(id)
	if err != nil {
		return trace.Wrap(err)
	}
	if envelope.ServerOnly && a.role != constants.RoleServer {
		return trace.NotFound("BLOB %v not found", id)
	}
	return nil
}

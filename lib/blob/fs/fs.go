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
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/drover-io/drover/lib/blob"
	"github.com/drover-io/drover/lib/defaults"

	"github.com/gravitational/trace"
	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
)

// New creates a new instance of the local fs blob service
// rooted at the given path
func New(root string) (blob.Store, error) {
	return NewWithConfig(Config{Path: root})
}

// NewWithConfig creates a new instance of the local fs blob service with the specified configuration
func NewWithConfig(config Config) (blob.Store, error) {
	if err := config.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	o := &store{config: config}
	for _, d := range []string{config.tempDir(), config.blobDir(), config.metaDir()} {
		if err := os.MkdirAll(d, defaults.SharedDirMask); err != nil {
			return nil, trace.ConvertSystemError(err)
		}
	}
	return o, nil
}

// Config defines the blob service configuration
type Config struct {
	// Path specifies the directory for blobs
	Path string
}

func (r *Config) checkAndSetDefaults() error {
	if r.Path == "" {
		r.Path = defaults.BlobDir
	}
	return nil
}

func (r Config) tempDir() string {
	return filepath.Join(r.Path, "tmp")
}

func (r Config) blobDir() string {
	return filepath.Join(r.Path, "blobs")
}

func (r Config) metaDir() string {
	return filepath.Join(r.Path, "meta")
}

type store struct {
	config Config
}

// fanDir helps us to organize the blobs in the folder -
// instead of putting all blobs in one folder, we
// will put them in 4096 folders, grouping by the first 3
// characters of the blob ID - this will allow to scale in cases
// when there are too many files in one directory
func fanDir(dir, id string) string {
	return filepath.Join(dir, id[0:3])
}

func (o *store) blobPath(id string) string {
	return filepath.Join(fanDir(o.config.blobDir(), id), id)
}

func (o *store) metaPath(id string) string {
	return filepath.Join(fanDir(o.config.metaDir(), id), id)
}

func (o *store) Close() error {
	return nil
}

// GetBLOBs returns a list of BLOBs in the storage
func (o *store) GetBLOBs() ([]string, error) {
	var out []string
	blobDir := o.config.blobDir()
	err := filepath.Walk(blobDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warningf("error while traversing %v: %v", blobDir, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		_, name := filepath.Split(info.Name())
		out = append(out, name)
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sort.Strings(out)
	return out, nil
}

// WriteBLOB writes object to the storage, returns object envelope
func (o *store) WriteBLOB(data io.Reader, serverOnly bool) (*blob.Envelope, error) {
	// step1: write data to a temporary file computing the hash along
	// the way, then move it to the proper location based on its ID
	f, err := ioutil.TempFile(o.config.tempDir(), "blob")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer f.Close()

	hasher := sha512.New()
	w := io.MultiWriter(f, hasher)
	size, err := io.Copy(w, data)
	if err != nil {
		defer os.Remove(f.Name())
		return nil, trace.Wrap(err)
	}
	if err := f.Close(); err != nil {
		defer os.Remove(f.Name())
		return nil, trace.Wrap(err)
	}
	// step2: place the payload and its envelope at the right place
	// in the folder structure
	id := uuid.New()
	targetDir := fanDir(o.config.blobDir(), id)
	if err := os.MkdirAll(targetDir, defaults.SharedDirMask); err != nil {
		defer os.Remove(f.Name())
		return nil, trace.ConvertSystemError(err)
	}
	targetPath := filepath.Join(targetDir, id)
	if err := os.Rename(f.Name(), targetPath); err != nil {
		defer os.Remove(f.Name())
		return nil, trace.Wrap(err)
	}
	fileInfo, err := os.Stat(targetPath)
	if err != nil {
		if err2 := os.Remove(targetPath); err2 != nil {
			log.WithError(err).Errorf("Failed to remove %v.", targetPath)
		}
		return nil, trace.ConvertSystemError(err)
	}
	envelope := &blob.Envelope{
		ID:         id,
		SizeBytes:  size,
		SHA512:     fmt.Sprintf("%x", hasher.Sum(nil)[:sha512.Size/2]),
		ServerOnly: serverOnly,
		Modified:   fileInfo.ModTime().UTC(),
	}
	if err := o.writeEnvelope(envelope); err != nil {
		if err2 := os.Remove(targetPath); err2 != nil {
			log.WithError(err).Errorf("Failed to remove %v.", targetPath)
		}
		return nil, trace.Wrap(err)
	}
	return envelope, nil
}

func (o *store) writeEnvelope(envelope *blob.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return trace.Wrap(err)
	}
	targetDir := fanDir(o.config.metaDir(), envelope.ID)
	if err := os.MkdirAll(targetDir, defaults.SharedDirMask); err != nil {
		return trace.ConvertSystemError(err)
	}
	err = ioutil.WriteFile(filepath.Join(targetDir, envelope.ID), data, defaults.PrivateFileMask)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// GetBLOBEnvelope returns the envelope of the BLOB identified by ID
func (o *store) GetBLOBEnvelope(id string) (*blob.Envelope, error) {
	if err := checkID(id); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := ioutil.ReadFile(o.metaPath(id))
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	var envelope blob.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, trace.Wrap(err)
	}
	return &envelope, nil
}

// OpenBLOB opens the BLOB identified by ID and returns reader
func (o *store) OpenBLOB(id string) (blob.ReadSeekCloser, error) {
	if err := checkID(id); err != nil {
		return nil, trace.Wrap(err)
	}
	f, err := os.Open(o.blobPath(id))
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return f, nil
}

// DeleteBLOB deletes the BLOB from the storage
func (o *store) DeleteBLOB(id string) error {
	if err := checkID(id); err != nil {
		return trace.Wrap(err)
	}
	if err := os.Remove(o.blobPath(id)); err != nil {
		return trace.ConvertSystemError(err)
	}
	if err := os.Remove(o.metaPath(id)); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// checkID rejects IDs that are too short to fan out or attempt
// to escape the storage directory
func checkID(id string) error {
	if len(id) < 3 || filepath.Base(id) != id {
		return trace.BadParameter("invalid BLOB ID %q", id)
	}
	return nil
}

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

package watcher

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/drover-io/drover/lib/defaults"

	"github.com/gravitational/trace"
)

// NewFileSink returns a metric sink appending one JSON object per line to
// the file at path
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, trace.BadParameter("missing parameter path")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, defaults.PrivateFileMask)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &FileSink{file: file}, nil
}

// FileSink records metrics as JSON lines
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// Record stores one metric measurement
func (s *FileSink) Record(metric Metric) error {
	line, err := json.Marshal(metric)
	if err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// Close releases the underlying file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.ConvertSystemError(s.file.Close())
}

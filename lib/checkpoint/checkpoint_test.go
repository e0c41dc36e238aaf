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

package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/drover-io/drover/lib/registry"
	"github.com/drover-io/drover/lib/watcher"

	"github.com/gravitational/trace"
	"gopkg.in/check.v1"
)

func TestCheckpoint(t *testing.T) { check.TestingT(t) }

type CheckpointSuite struct {
	manager *Manager
	dir     string
}

var _ = check.Suite(&CheckpointSuite{})

func (s *CheckpointSuite) SetUpTest(c *check.C) {
	s.dir = c.MkDir()
	manager, err := New(Config{Dir: s.dir})
	c.Assert(err, check.IsNil)
	s.manager = manager
}

func (s *CheckpointSuite) TestSaveLoadRoundTrip(c *check.C) {
	payload := []byte("serialized model weights")
	path, err := s.manager.Save("model", "mnist", "mnist_best_val", payload)
	c.Assert(err, check.IsNil)
	c.Assert(path, check.Equals, filepath.Join(s.dir, "model", "mnist", "mnist_best_val.ckpt"))

	stored, err := os.ReadFile(path)
	c.Assert(err, check.IsNil)
	c.Assert(stored, check.DeepEquals, payload)

	loaded, err := s.manager.Load("model", "mnist", "mnist_best_val")
	c.Assert(err, check.IsNil)
	c.Assert(loaded, check.DeepEquals, payload)
}

func (s *CheckpointSuite) TestOverwritesExistingCheckpoint(c *check.C) {
	_, err := s.manager.Save("model", "mnist", "latest", []byte("round one"))
	c.Assert(err, check.IsNil)
	_, err = s.manager.Save("model", "mnist", "latest", []byte("round two"))
	c.Assert(err, check.IsNil)

	loaded, err := s.manager.Load("model", "mnist", "latest")
	c.Assert(err, check.IsNil)
	c.Assert(loaded, check.DeepEquals, []byte("round two"))
}

func (s *CheckpointSuite) TestListsCheckpointsOfKey(c *check.C) {
	checkpoints, err := s.manager.List("model", "mnist")
	c.Assert(err, check.IsNil)
	c.Assert(checkpoints, check.HasLen, 0)

	_, err = s.manager.Save("model", "mnist", "latest", []byte("a"))
	c.Assert(err, check.IsNil)
	_, err = s.manager.Save("model", "mnist", "mnist_best_val", []byte("b"))
	c.Assert(err, check.IsNil)
	_, err = s.manager.Save("model", "cifar", "latest", []byte("c"))
	c.Assert(err, check.IsNil)

	checkpoints, err = s.manager.List("model", "mnist")
	c.Assert(err, check.IsNil)
	c.Assert(checkpoints, check.DeepEquals, []string{"latest", "mnist_best_val"})
}

func (s *CheckpointSuite) TestRemovesCheckpoint(c *check.C) {
	_, err := s.manager.Save("model", "mnist", "latest", []byte("payload"))
	c.Assert(err, check.IsNil)

	err = s.manager.Remove("model", "mnist", "latest")
	c.Assert(err, check.IsNil)

	_, err = s.manager.Load("model", "mnist", "latest")
	c.Assert(trace.IsNotFound(err), check.Equals, true, check.Commentf("%v", err))
}

func (s *CheckpointSuite) TestRejectsUnsafeAddressSegments(c *check.C) {
	var testCases = []struct {
		resourceType  string
		resourceKey   string
		checkpointKey string
		comment       string
	}{
		{"", "mnist", "latest", "empty resource type"},
		{"model", "", "latest", "empty resource key"},
		{"model", "mnist", "", "empty checkpoint key"},
		{"model", "..", "latest", "parent traversal"},
		{"model", "mnist", ".", "current directory"},
		{"model", "mnist/extra", "latest", "path separator"},
		{"model", "mnist", `best\val`, "windows separator"},
	}
	for _, testCase := range testCases {
		comment := check.Commentf(testCase.comment)
		_, err := s.manager.Save(testCase.resourceType, testCase.resourceKey, testCase.checkpointKey, []byte("x"))
		c.Assert(trace.IsBadParameter(err), check.Equals, true, comment)
		_, err = s.manager.Load(testCase.resourceType, testCase.resourceKey, testCase.checkpointKey)
		c.Assert(trace.IsBadParameter(err), check.Equals, true, comment)
	}
}

func (s *CheckpointSuite) TestAccumulatorEnforcesPayloadType(c *check.C) {
	acc := NewAccumulator()

	err := acc.Set("model_update:node-1", []byte("weights"))
	c.Assert(err, check.IsNil)
	err = acc.Set("model_update:round-2:node-1:shard-0", []byte("deep"))
	c.Assert(err, check.IsNil)

	err = acc.Set("model_update:node-2", "not bytes")
	c.Assert(trace.IsBadParameter(err), check.Equals, true)
	err = acc.Set("model_update:round-2:node-2:shard-0", 42)
	c.Assert(trace.IsBadParameter(err), check.Equals, true)

	value, err := acc.Get("model_update:round-2:node-1:shard-0")
	c.Assert(err, check.IsNil)
	c.Assert(value, check.DeepEquals, []byte("deep"))
}

func (s *CheckpointSuite) TestBestCheckpointKey(c *check.C) {
	c.Assert(BestCheckpointKey("mnist", "val"), check.Equals, "mnist_best_val")
	c.Assert(BestCheckpointKey("mnist", ""), check.Equals, "mnist_best")
}

func (s *CheckpointSuite) TestSaverChecksNotificationPayload(c *check.C) {
	resources := registry.NewRegistry()
	saver, err := NewSaver(SaverConfig{Resources: resources, Manager: s.manager})
	c.Assert(err, check.IsNil)

	err = saver.save(nil, watcher.Parameter{Name: "lr"}, "test")
	c.Assert(trace.IsBadParameter(err), check.Equals, true)

	// no global model published yet
	err = saver.save(nil, watcher.NewBestModel{Key: "mnist", Split: "val"}, "test")
	c.Assert(trace.IsNotFound(err), check.Equals, true, check.Commentf("%v", err))

	c.Assert(resources.Set("model:mnist:__global__", "not bytes"), check.IsNil)
	err = saver.save(nil, watcher.NewBestModel{Key: "mnist", Split: "val"}, "test")
	c.Assert(trace.IsBadParameter(err), check.Equals, true)
}

// TestSaverChain drives the full server-side pipeline: per-worker metrics are
// aggregated when the command finishes, the detector announces improvements on
// the aggregate, and the saver snapshots the global model to the registry and
// to disk.
func (s *CheckpointSuite) TestSaverChain(c *check.C) {
	pool, err := watcher.New(watcher.Config{})
	c.Assert(err, check.IsNil)
	resources := registry.NewRegistry()

	aggregator, err := watcher.NewMetricAggregator(watcher.AggregatorConfig{Reduction: watcher.ReductionMean})
	c.Assert(err, check.IsNil)
	detector, err := watcher.NewNewBestDetector(watcher.NewBestConfig{
		Criterion:      "acc",
		Split:          "val",
		HigherIsBetter: true,
		ModelKey:       "mnist",
	})
	c.Assert(err, check.IsNil)
	saver, err := NewSaver(SaverConfig{Resources: resources, Manager: s.manager})
	c.Assert(err, check.IsNil)
	pool.Add(aggregator)
	pool.Add(detector)
	pool.Add(saver)

	// round 1: mean accuracy 0.6, first value always wins
	c.Assert(resources.Set("model:mnist:__global__", []byte("weights round 1")), check.IsNil)
	s.reportRound(pool, "cmd-1", 1, 0.5, 0.7)

	loaded, err := s.manager.Load("model", "mnist", "mnist_best_val")
	c.Assert(err, check.IsNil)
	c.Assert(loaded, check.DeepEquals, []byte("weights round 1"))
	copied, err := resources.Get("model:mnist:mnist_best_val")
	c.Assert(err, check.IsNil)
	c.Assert(copied, check.DeepEquals, []byte("weights round 1"))

	// round 2: mean accuracy 0.55, no improvement, checkpoint keeps round 1
	c.Assert(resources.Set("model:mnist:__global__", []byte("weights round 2")), check.IsNil)
	s.reportRound(pool, "cmd-2", 2, 0.5, 0.6)

	loaded, err = s.manager.Load("model", "mnist", "mnist_best_val")
	c.Assert(err, check.IsNil)
	c.Assert(loaded, check.DeepEquals, []byte("weights round 1"))

	// round 3: mean accuracy 0.8, new best
	c.Assert(resources.Set("model:mnist:__global__", []byte("weights round 3")), check.IsNil)
	s.reportRound(pool, "cmd-3", 3, 0.75, 0.85)

	loaded, err = s.manager.Load("model", "mnist", "mnist_best_val")
	c.Assert(err, check.IsNil)
	c.Assert(loaded, check.DeepEquals, []byte("weights round 3"))
	copied, err = resources.Get("model:mnist:mnist_best_val")
	c.Assert(err, check.IsNil)
	c.Assert(copied, check.DeepEquals, []byte("weights round 3"))

	checkpoints, err := s.manager.List("model", "mnist")
	c.Assert(err, check.IsNil)
	c.Assert(checkpoints, check.DeepEquals, []string{"mnist_best_val"})
}

// reportRound publishes one validation accuracy per worker and finishes the
// command so the aggregator flushes
func (s *CheckpointSuite) reportRound(pool *watcher.Pool, commandID string, round int, accuracies ...float64) {
	for i, accuracy := range accuracies {
		pool.NotifyAll(watcher.Metric{
			Node:       "node-" + string(rune('1'+i)),
			CommandID:  commandID,
			Round:      round,
			Split:      "val",
			MetricType: "score",
			Values:     map[string]float64{"acc": accuracy},
		}, "test")
	}
	pool.NotifyAll(watcher.CommandFinished{CommandID: commandID}, "test")
}

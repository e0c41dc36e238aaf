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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gravitational/trace"
	"gopkg.in/check.v1"
)

func TestWatcher(t *testing.T) { check.TestingT(t) }

type WatcherSuite struct {
	pool *Pool
}

var _ = check.Suite(&WatcherSuite{})

func (s *WatcherSuite) SetUpTest(c *check.C) {
	pool, err := New(Config{})
	c.Assert(err, check.IsNil)
	s.pool = pool
}

type recordingWatcher struct {
	name     string
	types    []string
	got      []Notification
	origins  []string
	fail     bool
	fallback []Notification
}

func (w *recordingWatcher) Name() string { return w.name }

func (w *recordingWatcher) Handlers() map[string]Handler {
	handlers := make(map[string]Handler, len(w.types))
	for _, notificationType := range w.types {
		handlers[notificationType] = w.handle
	}
	return handlers
}

func (w *recordingWatcher) handle(pool *Pool, notification Notification, origin string) error {
	if w.fail {
		return trace.BadParameter("handler failure")
	}
	w.got = append(w.got, notification)
	w.origins = append(w.origins, origin)
	return nil
}

type fallbackWatcher struct {
	recordingWatcher
}

func (w *fallbackWatcher) HandleAny(pool *Pool, notification Notification, origin string) error {
	w.fallback = append(w.fallback, notification)
	return nil
}

func (s *WatcherSuite) TestDeliversByType(c *check.C) {
	metrics := &recordingWatcher{name: "metrics", types: []string{TypeMetric}}
	topo := &recordingWatcher{name: "topo", types: []string{TypeTopologyChange}}
	s.pool.Add(metrics)
	s.pool.Add(topo)

	s.pool.NotifyAll(Metric{MetricType: "loss"}, "test")
	c.Assert(len(metrics.got), check.Equals, 1)
	c.Assert(metrics.origins[0], check.Equals, "test")
	c.Assert(len(topo.got), check.Equals, 0)
}

func (s *WatcherSuite) TestFailingWatcherDoesNotBlockOthers(c *check.C) {
	failing := &recordingWatcher{name: "failing", types: []string{TypeMetric}, fail: true}
	healthy := &recordingWatcher{name: "healthy", types: []string{TypeMetric}}
	s.pool.Add(failing)
	s.pool.Add(healthy)

	s.pool.NotifyAll(Metric{MetricType: "loss"}, "")
	c.Assert(len(healthy.got), check.Equals, 1)
}

func (s *WatcherSuite) TestFallbackReceivesUnmappedTypes(c *check.C) {
	watcher := &fallbackWatcher{recordingWatcher{name: "any", types: []string{TypeMetric}}}
	s.pool.Add(watcher)

	s.pool.NotifyAll(Parameter{Name: "lr", Value: 0.1}, "")
	c.Assert(len(watcher.fallback), check.Equals, 1)
	c.Assert(len(watcher.got), check.Equals, 0)
}

func (s *WatcherSuite) TestNotifyOfTypeOverridesDispatch(c *check.C) {
	watcher := &recordingWatcher{name: "w", types: []string{TypeParameter}}
	s.pool.Add(watcher)

	s.pool.NotifyOfType(Metric{MetricType: "loss"}, TypeParameter, "")
	c.Assert(len(watcher.got), check.Equals, 1)
}

func (s *WatcherSuite) TestRemove(c *check.C) {
	watcher := &recordingWatcher{name: "w", types: []string{TypeMetric}}
	s.pool.Add(watcher)
	s.pool.Remove("w")

	s.pool.NotifyAll(Metric{}, "")
	c.Assert(len(watcher.got), check.Equals, 0)
}

func (s *WatcherSuite) TestAggregatorReducesOnCommandFinished(c *check.C) {
	aggregator, err := NewMetricAggregator(AggregatorConfig{})
	c.Assert(err, check.IsNil)
	sink := &recordingWatcher{name: "sink", types: []string{TypeMetric}}
	s.pool.Add(aggregator)
	s.pool.Add(sink)

	s.pool.NotifyAll(Metric{
		Node: "c1", CommandID: "cmd-1", Round: 1, Split: "val",
		MetricType: "score", Values: map[string]float64{"acc": 0.5},
	}, "")
	s.pool.NotifyAll(Metric{
		Node: "c2", CommandID: "cmd-1", Round: 1, Split: "val",
		MetricType: "score", Values: map[string]float64{"acc": 0.7},
	}, "")
	s.pool.NotifyAll(CommandFinished{CommandID: "cmd-1"}, "")

	// two raw deliveries plus one aggregate
	c.Assert(len(sink.got), check.Equals, 3)
	aggregate := sink.got[2].(Metric)
	c.Assert(aggregate.IsAggregate, check.Equals, true)
	c.Assert(aggregate.Aggregation, check.Equals, ReductionMean)
	c.Assert(aggregate.Values["acc"], check.Equals, 0.6)
	c.Assert(aggregate.Split, check.Equals, "val")
}

func (s *WatcherSuite) TestAggregatorMedian(c *check.C) {
	aggregator, err := NewMetricAggregator(AggregatorConfig{Reduction: ReductionMedian})
	c.Assert(err, check.IsNil)
	sink := &recordingWatcher{name: "sink", types: []string{TypeMetric}}
	s.pool.Add(aggregator)
	s.pool.Add(sink)

	for _, value := range []float64{0.1, 0.9, 0.4} {
		s.pool.NotifyAll(Metric{
			CommandID: "cmd-2", MetricType: "score",
			Values: map[string]float64{"acc": value},
		}, "")
	}
	s.pool.NotifyAll(CommandFinished{CommandID: "cmd-2"}, "")

	aggregate := sink.got[len(sink.got)-1].(Metric)
	c.Assert(aggregate.Values["acc"], check.Equals, 0.4)
}

func (s *WatcherSuite) TestNewBestDetector(c *check.C) {
	detector, err := NewNewBestDetector(NewBestConfig{
		Criterion:      "acc",
		HigherIsBetter: true,
		ModelKey:       "model",
	})
	c.Assert(err, check.IsNil)
	sink := &recordingWatcher{name: "sink", types: []string{TypeNewBestModel}}
	s.pool.Add(detector)
	s.pool.Add(sink)

	aggregate := func(round int, acc float64) Metric {
		return Metric{
			Round: round, Split: "val", MetricType: "score",
			Values: map[string]float64{"acc": acc}, IsAggregate: true,
		}
	}

	s.pool.NotifyAll(aggregate(1, 0.6), "")
	s.pool.NotifyAll(aggregate(2, 0.55), "")
	s.pool.NotifyAll(aggregate(3, 0.7), "")

	c.Assert(len(sink.got), check.Equals, 2)
	first := sink.got[0].(NewBestModel)
	c.Assert(first.Value, check.Equals, 0.6)
	c.Assert(first.Round, check.Equals, 1)
	second := sink.got[1].(NewBestModel)
	c.Assert(second.Value, check.Equals, 0.7)
	c.Assert(second.Round, check.Equals, 3)
}

func (s *WatcherSuite) TestNewBestDetectorLowerIsBetter(c *check.C) {
	detector, err := NewNewBestDetector(NewBestConfig{
		Criterion: "loss", ModelKey: "model",
	})
	c.Assert(err, check.IsNil)
	sink := &recordingWatcher{name: "sink", types: []string{TypeNewBestModel}}
	s.pool.Add(detector)
	s.pool.Add(sink)

	for _, value := range []float64{1.5, 1.2, 1.4} {
		s.pool.NotifyAll(Metric{
			Values: map[string]float64{"loss": value}, IsAggregate: true,
		}, "")
	}
	c.Assert(len(sink.got), check.Equals, 2)
}

func (s *WatcherSuite) TestNewBestDetectorIgnoresRawMetrics(c *check.C) {
	detector, err := NewNewBestDetector(NewBestConfig{
		Criterion: "acc", HigherIsBetter: true, ModelKey: "model",
	})
	c.Assert(err, check.IsNil)
	sink := &recordingWatcher{name: "sink", types: []string{TypeNewBestModel}}
	s.pool.Add(detector)
	s.pool.Add(sink)

	s.pool.NotifyAll(Metric{Values: map[string]float64{"acc": 0.9}}, "")
	c.Assert(len(sink.got), check.Equals, 0)
}

func (s *WatcherSuite) TestFileSink(c *check.C) {
	path := filepath.Join(c.MkDir(), "metrics.jsonl")
	sink, err := NewFileSink(path)
	c.Assert(err, check.IsNil)
	defer sink.Close()

	collector, err := NewMetricCollector(sink)
	c.Assert(err, check.IsNil)
	s.pool.Add(collector)

	s.pool.NotifyAll(Metric{MetricType: "score", Values: map[string]float64{"acc": 0.5}}, "")
	s.pool.NotifyAll(Metric{MetricType: "score", Values: map[string]float64{"acc": 0.6}}, "")

	data, err := os.ReadFile(path)
	c.Assert(err, check.IsNil)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	c.Assert(len(lines), check.Equals, 2)

	var decoded Metric
	c.Assert(json.Unmarshal(lines[0], &decoded), check.IsNil)
	c.Assert(decoded.Values["acc"], check.Equals, 0.5)
}

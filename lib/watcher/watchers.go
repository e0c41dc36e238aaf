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
	"sort"
	"sync"

	"github.com/drover-io/drover/lib/constants"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Reduction names accepted by the metric aggregator
const (
	// ReductionMean averages buffered values
	ReductionMean = "mean"
	// ReductionMedian takes the middle buffered value
	ReductionMedian = "median"
)

// MetricSink records metric notifications with an external system
type MetricSink interface {
	// Record stores one metric measurement
	Record(metric Metric) error
}

// NewMetricCollector returns a watcher that forwards every metric
// notification to the sink
func NewMetricCollector(sink MetricSink) (*MetricCollector, error) {
	if sink == nil {
		return nil, trace.BadParameter("missing parameter sink")
	}
	return &MetricCollector{sink: sink}, nil
}

// MetricCollector forwards metric notifications to a sink
type MetricCollector struct {
	sink MetricSink
}

// Name identifies the watcher in logs and for removal
func (w *MetricCollector) Name() string { return "metric-collector" }

// Handlers maps notification types to handlers
func (w *MetricCollector) Handlers() map[string]Handler {
	return map[string]Handler{
		TypeMetric: w.collect,
	}
}

func (w *MetricCollector) collect(pool *Pool, notification Notification, origin string) error {
	metric, ok := notification.(Metric)
	if !ok {
		return trace.BadParameter("expected Metric, got %T", notification)
	}
	return trace.Wrap(w.sink.Record(metric))
}

// AggregatorConfig configures the metric aggregator
type AggregatorConfig struct {
	// Reduction is ReductionMean or ReductionMedian
	Reduction string
	// FieldLogger is used for logging
	FieldLogger logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *AggregatorConfig) CheckAndSetDefaults() error {
	if c.Reduction == "" {
		c.Reduction = ReductionMean
	}
	if c.Reduction != ReductionMean && c.Reduction != ReductionMedian {
		return trace.BadParameter("unknown reduction %q", c.Reduction)
	}
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithField(trace.Component, constants.ComponentWatcher)
	}
	return nil
}

// NewMetricAggregator returns a watcher that buffers per-worker metrics and,
// once a command is finished everywhere, publishes one reduced metric per
// buffered (command, round, epoch, metric type) group
func NewMetricAggregator(config AggregatorConfig) (*MetricAggregator, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &MetricAggregator{
		config: config,
		buffer: make(map[metricGroup][]Metric),
	}, nil
}

// MetricAggregator reduces per-worker metrics into aggregates
type MetricAggregator struct {
	config AggregatorConfig

	mu     sync.Mutex
	buffer map[metricGroup][]Metric
}

type metricGroup struct {
	commandID  string
	round      int
	epoch      int
	metricType string
}

// Name identifies the watcher in logs and for removal
func (w *MetricAggregator) Name() string { return "metric-aggregator" }

// Handlers maps notification types to handlers
func (w *MetricAggregator) Handlers() map[string]Handler {
	return map[string]Handler{
		TypeMetric:          w.buffered,
		TypeCommandFinished: w.flush,
	}
}

func (w *MetricAggregator) buffered(pool *Pool, notification Notification, origin string) error {
	metric, ok := notification.(Metric)
	if !ok {
		return trace.BadParameter("expected Metric, got %T", notification)
	}
	if metric.IsAggregate {
		return nil
	}
	group := metricGroup{
		commandID:  metric.CommandID,
		round:      metric.Round,
		epoch:      metric.Epoch,
		metricType: metric.MetricType,
	}
	w.mu.Lock()
	w.buffer[group] = append(w.buffer[group], metric)
	w.mu.Unlock()
	return nil
}

func (w *MetricAggregator) flush(pool *Pool, notification Notification, origin string) error {
	finished, ok := notification.(CommandFinished)
	if !ok {
		return trace.BadParameter("expected CommandFinished, got %T", notification)
	}
	aggregates := w.reduceCommand(finished.CommandID)
	for _, aggregate := range aggregates {
		pool.NotifyAll(aggregate, w.Name())
	}
	return nil
}

// reduceCommand drains every buffered group of the command and reduces it
func (w *MetricAggregator) reduceCommand(commandID string) (aggregates []Metric) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for group, metrics := range w.buffer {
		if group.commandID != commandID || len(metrics) == 0 {
			continue
		}
		aggregates = append(aggregates, w.reduce(group, metrics))
		delete(w.buffer, group)
	}
	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].Round != aggregates[j].Round {
			return aggregates[i].Round < aggregates[j].Round
		}
		return aggregates[i].Epoch < aggregates[j].Epoch
	})
	return aggregates
}

func (w *MetricAggregator) reduce(group metricGroup, metrics []Metric) Metric {
	samples := make(map[string][]float64)
	for _, metric := range metrics {
		for name, value := range metric.Values {
			samples[name] = append(samples[name], value)
		}
	}
	values := make(map[string]float64, len(samples))
	for name, series := range samples {
		if w.config.Reduction == ReductionMedian {
			values[name] = median(series)
		} else {
			values[name] = mean(series)
		}
	}
	return Metric{
		CommandID:   group.commandID,
		Round:       group.round,
		Epoch:       group.epoch,
		Split:       metrics[0].Split,
		MetricType:  group.metricType,
		Values:      values,
		IsAggregate: true,
		Aggregation: w.config.Reduction,
	}
}

func mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum float64
	for _, value := range series {
		sum += value
	}
	return sum / float64(len(series))
}

func median(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sorted := make([]float64, len(series))
	copy(sorted, series)
	sort.Float64s(sorted)
	middle := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[middle-1] + sorted[middle]) / 2
	}
	return sorted[middle]
}

// NewBestConfig configures the new-best detector
type NewBestConfig struct {
	// Criterion is the metric name improvements are measured on
	Criterion string
	// Split restricts detection to one dataset split, empty accepts all
	Split string
	// HigherIsBetter is the improvement direction of the criterion
	HigherIsBetter bool
	// ModelKey is the model resource key announced with improvements
	ModelKey string
	// FieldLogger is used for logging
	FieldLogger logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in defaults
func (c *NewBestConfig) CheckAndSetDefaults() error {
	if c.Criterion == "" {
		return trace.BadParameter("missing parameter Criterion")
	}
	if c.ModelKey == "" {
		return trace.BadParameter("missing parameter ModelKey")
	}
	if c.FieldLogger == nil {
		c.FieldLogger = logrus.WithField(trace.Component, constants.ComponentWatcher)
	}
	return nil
}

// NewBestDetector watches aggregate metrics for the criterion and announces
// improvements
func NewNewBestDetector(config NewBestConfig) (*NewBestDetector, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &NewBestDetector{config: config}, nil
}

// NewBestDetector publishes NewBestModel notifications on criterion
// improvements
type NewBestDetector struct {
	config NewBestConfig

	mu      sync.Mutex
	best    float64
	hasBest bool
}

// Name identifies the watcher in logs and for removal
func (w *NewBestDetector) Name() string { return "new-best-detector" }

// Handlers maps notification types to handlers
func (w *NewBestDetector) Handlers() map[string]Handler {
	return map[string]Handler{
		TypeMetric: w.inspect,
	}
}

func (w *NewBestDetector) inspect(pool *Pool, notification Notification, origin string) error {
	metric, ok := notification.(Metric)
	if !ok {
		return trace.BadParameter("expected Metric, got %T", notification)
	}
	if !metric.IsAggregate {
		return nil
	}
	if w.config.Split != "" && metric.Split != w.config.Split {
		return nil
	}
	value, measured := metric.Values[w.config.Criterion]
	if !measured {
		return nil
	}
	if !w.improves(value) {
		return nil
	}
	w.config.FieldLogger.WithFields(logrus.Fields{
		"criterion": w.config.Criterion,
		"value":     value,
		"round":     metric.Round,
	}).Info("New best model.")
	pool.NotifyAll(NewBestModel{
		Key:       w.config.ModelKey,
		Criterion: w.config.Criterion,
		Split:     metric.Split,
		Value:     value,
		Round:     metric.Round,
	}, w.Name())
	return nil
}

func (w *NewBestDetector) improves(value float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasBest {
		w.best, w.hasBest = value, true
		return true
	}
	better := value > w.best
	if !w.config.HigherIsBetter {
		better = value < w.best
	}
	if better {
		w.best = value
	}
	return better
}

// Step generation metrics
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"time"
)

// StepGenMetrics holds the metrics of one step generation manager.
type StepGenMetrics struct {
	// Step generation
	StepsGenerated *Counter
	PassDuration   *Histogram
	FlushTime      *Gauge
	StepperWindow  *Gauge

	// Move queues
	QueueDepth  *Gauge
	MovesPruned *Counter

	// Configuration and faults
	Reconfigurations *Counter
	FatalStops       *Counter
	ShutdownActive   *Gauge

	// Process
	GoGoroutines *Gauge
	GoMemoryHeap *Gauge
	Uptime       *Gauge

	startTime time.Time
	registry  *Registry
}

// NewStepGenMetrics creates and registers all step generation metrics.
func NewStepGenMetrics() *StepGenMetrics {
	m := &StepGenMetrics{
		StepsGenerated: NewCounter("stepgen_steps_total",
			"Steps generated per stepper and direction"),
		PassDuration: NewHistogram("stepgen_pass_duration_seconds",
			"Wall time of one generation pass over all steppers",
			ExponentialBuckets(1e-5, 4, 8)),
		FlushTime: NewGauge("stepgen_flush_time_seconds",
			"Print time up to which steps have been generated"),
		StepperWindow: NewGauge("stepgen_window_seconds",
			"Generation window of a stepper by side (pre or post)"),
		QueueDepth: NewGauge("stepgen_trapq_moves",
			"Moves held in a move queue after pruning"),
		MovesPruned: NewCounter("stepgen_trapq_pruned_total",
			"Moves retired from a move queue"),
		Reconfigurations: NewCounter("stepgen_reconfigurations_total",
			"Shaper, smoother and pressure advance updates applied"),
		FatalStops: NewCounter("stepgen_fatal_stops_total",
			"Generation passes aborted by an invariant violation"),
		ShutdownActive: NewGauge("stepgen_shutdown",
			"1 while step generation is halted after a fatal error"),
		GoGoroutines: NewGauge("stepgen_go_goroutines",
			"Number of goroutines"),
		GoMemoryHeap: NewGauge("stepgen_go_heap_bytes",
			"Heap bytes allocated"),
		Uptime: NewGauge("stepgen_uptime_seconds",
			"Seconds since the metrics were created"),
		startTime: time.Now(),
		registry:  NewRegistry(),
	}
	for _, metric := range []Metric{
		m.StepsGenerated, m.PassDuration, m.FlushTime, m.StepperWindow,
		m.QueueDepth, m.MovesPruned,
		m.Reconfigurations, m.FatalStops, m.ShutdownActive,
		m.GoGoroutines, m.GoMemoryHeap, m.Uptime,
	} {
		m.registry.MustRegister(metric)
	}
	return m
}

// RecordSteps adds the steps one stepper emitted in a pass.
func (m *StepGenMetrics) RecordSteps(stepper string, forward, backward uint64) {
	if forward > 0 {
		m.StepsGenerated.Add(Labels{"stepper": stepper, "dir": "forward"}, forward)
	}
	if backward > 0 {
		m.StepsGenerated.Add(Labels{"stepper": stepper, "dir": "backward"}, backward)
	}
}

// RecordPass notes a completed pass.
func (m *StepGenMetrics) RecordPass(flushTime float64, d time.Duration) {
	m.PassDuration.Observe(nil, d.Seconds())
	m.FlushTime.Set(nil, flushTime)
}

// SetWindow publishes the generation window of a stepper (s).
func (m *StepGenMetrics) SetWindow(stepper string, pre, post float64) {
	m.StepperWindow.Set(Labels{"stepper": stepper, "side": "pre"}, pre)
	m.StepperWindow.Set(Labels{"stepper": stepper, "side": "post"}, post)
}

// SetQueue publishes the queue depth and adds the pruned moves.
func (m *StepGenMetrics) SetQueue(queue string, depth, pruned int) {
	m.QueueDepth.Set(Labels{"queue": queue}, float64(depth))
	if pruned > 0 {
		m.MovesPruned.Add(Labels{"queue": queue}, uint64(pruned))
	}
}

// RecordReconfigure counts an applied configuration change.
func (m *StepGenMetrics) RecordReconfigure(kind string) {
	m.Reconfigurations.Inc(Labels{"kind": kind})
}

// RecordFatal counts a fatal stop and raises the shutdown flag.
func (m *StepGenMetrics) RecordFatal(stepper string) {
	m.FatalStops.Inc(Labels{"stepper": stepper})
	m.ShutdownActive.Set(nil, 1)
}

// ClearShutdown lowers the shutdown flag.
func (m *StepGenMetrics) ClearShutdown() {
	m.ShutdownActive.Set(nil, 0)
}

func (m *StepGenMetrics) updateProcess() {
	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)
	m.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	m.GoMemoryHeap.Set(nil, float64(ms.HeapAlloc))
	m.Uptime.Set(nil, time.Since(m.startTime).Seconds())
}

// Gather returns all metrics in Prometheus text format.
func (m *StepGenMetrics) Gather() string {
	m.updateProcess()
	return m.registry.Gather()
}

// Registry returns the internal registry.
func (m *StepGenMetrics) Registry() *Registry {
	return m.registry
}

// Step generation pass driver
//
// A Manager owns the steppers fed from one or more move queues. Each
// pass runs the flush callbacks, generates every stepper up to the flush
// time under the queue read locks, then retires moves no stepper can
// query anymore. A failed pass halts generation until Reset.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package steppersync

import (
	"fmt"
	"sync"
	"time"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/itersolve"
	"klipper-stepgen/pkg/log"
	"klipper-stepgen/pkg/metrics"
	"klipper-stepgen/pkg/trapq"
)

// FlushFunc is called at the start of every pass with the flush time.
type FlushFunc func(flushTime float64)

type flushCB struct {
	id int
	fn FlushFunc
}

type queue struct {
	name string
	tq   *trapq.TrapQ
}

// stepper counts the steps passing to its sink during one pass.
type stepper struct {
	sk       *itersolve.StepperKinematics
	sink     itersolve.StepSink
	forward  uint64
	backward uint64

	active      bool
	activeSince float64 // start of the first move that moved it
}

func (s *stepper) AppendStep(dir int, printTime float64) error {
	if err := s.sink.AppendStep(dir, printTime); err != nil {
		return err
	}
	if dir > 0 {
		s.forward++
	} else {
		s.backward++
	}
	return nil
}

// Manager drives generation passes over a set of steppers.
type Manager struct {
	mu            sync.Mutex
	steppers      []*stepper
	queues        []queue
	callbacks     []flushCB
	nextCBID      int
	lastFlushTime float64
	err           error

	metrics *metrics.StepGenMetrics
	logger  *log.Logger
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{logger: log.GetLogger("steppersync")}
}

// SetMetrics attaches a metrics sink. nil disables metrics.
func (m *Manager) SetMetrics(sm *metrics.StepGenMetrics) {
	m.mu.Lock()
	m.metrics = sm
	m.mu.Unlock()
}

// AddTrapQ registers a move queue under name. Registering the same queue
// twice is a no-op.
func (m *Manager) AddTrapQ(name string, tq *trapq.TrapQ) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addTrapQ(name, tq)
}

func (m *Manager) addTrapQ(name string, tq *trapq.TrapQ) {
	if tq == nil {
		return
	}
	for _, q := range m.queues {
		if q.tq == tq {
			return
		}
	}
	m.queues = append(m.queues, queue{name: name, tq: tq})
}

// AddStepper adds a stepper whose steps go to sink. Its move queue is
// registered under the stepper name if it is not known yet.
func (m *Manager) AddStepper(sk *itersolve.StepperKinematics, sink itersolve.StepSink) error {
	if sk == nil || sink == nil {
		return errors.New(errors.ErrConfigValidation, "stepper and step sink are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steppers {
		if s.sk == sk || s.sk.Name() == sk.Name() {
			return errors.New(errors.ErrConfigValidation,
				fmt.Sprintf("stepper '%s' already added", sk.Name())).SetSection(sk.Name())
		}
	}
	m.steppers = append(m.steppers, &stepper{sk: sk, sink: sink})
	m.addTrapQ(sk.Name(), sk.TrapQ())
	return nil
}

// Steppers returns the stepper names in the order they were added.
func (m *Manager) Steppers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.steppers))
	for i, s := range m.steppers {
		names[i] = s.sk.Name()
	}
	return names
}

// ActiveSince returns the print time of the first move that moved the
// named stepper. ok is false while it has not moved.
func (m *Manager) ActiveSince(name string) (printTime float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steppers {
		if s.sk.Name() == name {
			return s.activeSince, s.active
		}
	}
	return 0, false
}

// RegisterFlushCallback adds fn to every pass and returns its id.
func (m *Manager) RegisterFlushCallback(fn FlushFunc) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCBID++
	m.callbacks = append(m.callbacks, flushCB{id: m.nextCBID, fn: fn})
	return m.nextCBID
}

// UnregisterFlushCallback removes a callback by id.
func (m *Manager) UnregisterFlushCallback(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cb := range m.callbacks {
		if cb.id == id {
			m.callbacks = append(m.callbacks[:i], m.callbacks[i+1:]...)
			return
		}
	}
}

// LastFlushTime returns the time up to which steps have been generated.
func (m *Manager) LastFlushTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFlushTime
}

// Err returns the error that halted generation, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// IsShutdown reports whether generation is halted.
func (m *Manager) IsShutdown() bool {
	return m.Err() != nil
}

// Reset leaves the shutdown state.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil {
		return
	}
	m.logger.WithError(m.err).Warn("step generation reset after shutdown")
	m.err = nil
	if m.metrics != nil {
		m.metrics.ClearShutdown()
	}
}

// GenSteps generates every stepper up to flushTime. A flush time before
// the last one is raised to it.
func (m *Manager) GenSteps(flushTime float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.genSteps(flushTime)
}

func (m *Manager) genSteps(flushTime float64) error {
	if m.err != nil {
		return errors.Wrap(m.err, errors.ErrStepGenShutdown, "step generation is shut down")
	}
	if flushTime < m.lastFlushTime {
		flushTime = m.lastFlushTime
	}
	for _, cb := range m.callbacks {
		cb.fn(flushTime)
	}

	start := time.Now()
	for _, q := range m.queues {
		q.tq.RLock()
	}
	var failed *stepper
	var err error
	for _, s := range m.steppers {
		s.forward, s.backward = 0, 0
		if !s.active {
			var at float64
			if at, s.active, err = s.sk.CheckActive(flushTime); err != nil {
				failed = s
				break
			}
			if s.active {
				s.activeSince = at
				m.logger.WithFields(log.Fields{
					"stepper":    s.sk.Name(),
					"print_time": at,
				}).Info("stepper active")
			}
		}
		if err = s.sk.GenerateSteps(flushTime, s); err != nil {
			failed = s
			break
		}
	}
	for _, q := range m.queues {
		q.tq.RUnlock()
	}
	if err != nil {
		m.shutdown(failed.sk.Name(), flushTime, err)
		return err
	}
	m.lastFlushTime = flushTime

	pruned := 0
	for _, q := range m.queues {
		n := q.tq.Prune()
		pruned += n
		if m.metrics != nil {
			m.metrics.SetQueue(q.name, q.tq.Len(), n)
		}
	}
	elapsed := time.Since(start)
	if m.metrics != nil {
		m.metrics.RecordPass(flushTime, elapsed)
		for _, s := range m.steppers {
			m.metrics.RecordSteps(s.sk.Name(), s.forward, s.backward)
			w := s.sk.Kinematics().Load().Window()
			m.metrics.SetWindow(s.sk.Name(), w.PreActive, w.PostActive)
		}
	}
	if m.logger.Enabled(log.DEBUG) {
		m.logger.WithFields(log.Fields{
			"flush_time": flushTime,
			"pruned":     pruned,
			"elapsed":    elapsed,
		}).Debug("generation pass")
	}
	return nil
}

func (m *Manager) shutdown(name string, flushTime float64, err error) {
	m.err = err
	m.logger.WithFields(log.Fields{
		"stepper":    name,
		"flush_time": flushTime,
		"fatal":      errors.IsFatal(err),
	}).WithError(err).Error("step generation halted")
	if m.metrics != nil {
		m.metrics.RecordFatal(name)
	}
}

// Reconfigure applies fn once every step up to effectiveTime has been
// generated, so that fn only affects later steps. kind labels the change
// in logs and metrics. A change effective before the last flush applies
// from the last flush.
func (m *Manager) Reconfigure(effectiveTime float64, kind string, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if effectiveTime > m.lastFlushTime {
		if err := m.genSteps(effectiveTime); err != nil {
			return err
		}
	} else if m.err != nil {
		return errors.Wrap(m.err, errors.ErrStepGenShutdown, "step generation is shut down")
	}
	if err := fn(); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordReconfigure(kind)
	}
	m.logger.WithFields(log.Fields{
		"kind":           kind,
		"effective_time": m.lastFlushTime,
	}).Info("reconfigured")
	return nil
}

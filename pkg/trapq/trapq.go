// Trapezoidal velocity move queue
//
// Moves live in a preallocated arena addressed by monotonically increasing
// references. Retiring moves advances the low-water reference and compacts
// the arena in place; a reference below it is retired and touching it is a
// fatal error.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package trapq

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"klipper-stepgen/pkg/errors"
)

// joinTolerance is the largest overlap (s) treated as a contiguous append.
const joinTolerance = 1e-9

// HeadHold is how long (s) the head sentinel holds the initial position
// before the first move. Keeping it finite keeps local times precise.
const HeadHold = 1000.0

// Ref addresses a move. References stay valid until the move is pruned.
type Ref int64

// HeadRef addresses the head sentinel, valid until the first prune.
const HeadRef Ref = 0

// RetentionError reports a query outside the retained part of the queue.
// It is raised as a panic during a generation pass. Retired and Ref are
// set when a retired reference was dereferenced; Time is then NaN until
// the caller that knows the query time fills it in.
type RetentionError struct {
	Time          float64
	Retired       bool
	Ref           Ref
	RetainedStart float64
	RetainedEnd   float64
}

func (e *RetentionError) Error() string {
	if e.Retired {
		return fmt.Sprintf("move queue access to retired move %d at time %.6f outside retained window [%.6f, %.6f]",
			e.Ref, e.Time, e.RetainedStart, e.RetainedEnd)
	}
	return fmt.Sprintf("move queue access at time %.6f outside retained window [%.6f, %.6f]",
		e.Time, e.RetainedStart, e.RetainedEnd)
}

// TrapQ is the ordered, gapless queue of moves for one motion group
// (toolhead or extruder).
//
// Append, SetPosition and Prune take the write lock. Query methods do not
// lock; a generation pass must hold RLock for its whole duration.
type TrapQ struct {
	mu    sync.RWMutex
	moves []Move
	base  Ref // reference of moves[0]

	head Move
	tail Move

	tailTime float64
	tailPos  Coord

	cmu       sync.Mutex
	consumers map[*Consumer]struct{}
}

// New allocates a queue with room for capacity moves, holding origin
// until the first move.
func New(capacity int, origin Coord) *TrapQ {
	if capacity < 1 {
		capacity = 1
	}
	tq := &TrapQ{
		moves:     make([]Move, 0, capacity),
		base:      1,
		tailPos:   origin,
		consumers: make(map[*Consumer]struct{}),
	}
	tq.updateSentinels()
	return tq
}

// RLock acquires the read lock for a generation pass.
func (tq *TrapQ) RLock() { tq.mu.RLock() }

// RUnlock releases the generation pass read lock.
func (tq *TrapQ) RUnlock() { tq.mu.RUnlock() }

// Capacity returns the arena size in moves.
func (tq *TrapQ) Capacity() int {
	return cap(tq.moves)
}

// Len returns the number of retained moves, excluding sentinels.
func (tq *TrapQ) Len() int {
	tq.mu.RLock()
	defer tq.mu.RUnlock()
	return len(tq.moves)
}

// TailTime returns the end time of the last appended move.
func (tq *TrapQ) TailTime() float64 {
	tq.mu.RLock()
	defer tq.mu.RUnlock()
	return tq.tailTime
}

// Append queues a trapezoidal move starting at printTime, split into its
// acceleration, cruise and deceleration segments. Zero length phases are
// skipped.
func (tq *TrapQ) Append(printTime, accelT, cruiseT, decelT float64,
	start, axesR Coord, startV, cruiseV, accel float64) error {
	for _, v := range [...]float64{printTime, accelT, cruiseT, decelT, startV, cruiseV, accel} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New(errors.ErrTrapQOrder, "non-finite move parameter")
		}
	}
	if accelT < 0 || cruiseT < 0 || decelT < 0 {
		return errors.New(errors.ErrTrapQOrder,
			fmt.Sprintf("negative phase duration (%g, %g, %g)", accelT, cruiseT, decelT))
	}

	tq.mu.Lock()
	defer tq.mu.Unlock()

	need := 0
	for _, d := range [...]float64{accelT, cruiseT, decelT} {
		if d > 0 {
			need++
		}
	}
	if printTime-tq.tailTime > joinTolerance {
		need++
	}
	if len(tq.moves)+need > cap(tq.moves) {
		return tq.capacityError()
	}

	segments := [...]Move{
		{MoveTime: accelT, StartV: startV, HalfAccel: .5 * accel},
		{MoveTime: cruiseT, StartV: cruiseV},
		{MoveTime: decelT, StartV: cruiseV, HalfAccel: -.5 * accel},
	}
	pos := start
	for _, seg := range segments {
		if seg.MoveTime <= 0 {
			continue
		}
		seg.PrintTime = printTime
		seg.StartPos = pos
		seg.AxesR = axesR
		if err := tq.add(seg); err != nil {
			return err
		}
		printTime += seg.MoveTime
		pos = seg.Coord(seg.MoveTime)
	}
	return nil
}

// AppendMove queues a single constant-acceleration segment.
func (tq *TrapQ) AppendMove(m Move) error {
	if math.IsNaN(m.PrintTime) || math.IsNaN(m.MoveTime) || math.IsInf(m.MoveTime, 0) {
		return errors.New(errors.ErrTrapQOrder, "non-finite move timing")
	}
	if m.MoveTime <= 0 {
		return errors.New(errors.ErrTrapQOrder,
			fmt.Sprintf("move duration must be positive, got %g", m.MoveTime))
	}
	tq.mu.Lock()
	defer tq.mu.Unlock()
	need := 1
	if m.PrintTime-tq.tailTime > joinTolerance {
		need++
	}
	if len(tq.moves)+need > cap(tq.moves) {
		return tq.capacityError()
	}
	return tq.add(m)
}

// SetPosition resets the queue position at printTime, as after homing.
// Moves appended later start from pos.
func (tq *TrapQ) SetPosition(printTime float64, pos Coord) error {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	gap := printTime - tq.tailTime
	if gap < -joinTolerance {
		return tq.orderError(printTime)
	}
	if gap > joinTolerance {
		if len(tq.moves) >= cap(tq.moves) {
			return tq.capacityError()
		}
		tq.moves = append(tq.moves, Move{PrintTime: tq.tailTime, MoveTime: gap, StartPos: pos})
		tq.tailTime = printTime
	}
	tq.tailPos = pos
	tq.updateSentinels()
	return nil
}

// add appends m after the tail, filling any gap with a stationary move.
// Capacity has been checked by the caller.
func (tq *TrapQ) add(m Move) error {
	gap := m.PrintTime - tq.tailTime
	switch {
	case gap < -joinTolerance:
		return tq.orderError(m.PrintTime)
	case gap > joinTolerance:
		tq.moves = append(tq.moves, Move{
			PrintTime: tq.tailTime,
			MoveTime:  gap,
			StartPos:  m.StartPos,
		})
	default:
		m.PrintTime = tq.tailTime
	}
	tq.moves = append(tq.moves, m)
	tq.tailTime = m.EndTime()
	tq.tailPos = m.Coord(m.MoveTime)
	tq.updateSentinels()
	return nil
}

func (tq *TrapQ) orderError(printTime float64) *errors.HostError {
	return errors.New(errors.ErrTrapQOrder,
		fmt.Sprintf("move at %.6f overlaps queue tail at %.6f", printTime, tq.tailTime)).
		SetContext("print_time", printTime).
		SetContext("tail_time", tq.tailTime)
}

func (tq *TrapQ) capacityError() *errors.HostError {
	return errors.New(errors.ErrTrapQCapacity,
		fmt.Sprintf("move queue full (%d moves retained)", len(tq.moves))).
		SetContext("capacity", cap(tq.moves))
}

// updateSentinels refreshes the stationary holds at both ends.
func (tq *TrapQ) updateSentinels() {
	headEnd, headPos := tq.tailTime, tq.tailPos
	if len(tq.moves) > 0 {
		headEnd, headPos = tq.moves[0].PrintTime, tq.moves[0].StartPos
	}
	tq.head = Move{PrintTime: headEnd - HeadHold, MoveTime: HeadHold, StartPos: headPos}
	tq.tail = Move{PrintTime: tq.tailTime, MoveTime: NeverTime, StartPos: tq.tailPos}
}

func (tq *TrapQ) tailRef() Ref {
	return tq.base + Ref(len(tq.moves))
}

func (tq *TrapQ) headValid() bool {
	return tq.base == 1
}

// retainedStart is the earliest time still answerable.
func (tq *TrapQ) retainedStart() float64 {
	if tq.headValid() {
		return tq.head.PrintTime
	}
	if len(tq.moves) > 0 {
		return tq.moves[0].PrintTime
	}
	return tq.tailTime
}

func (tq *TrapQ) retentionError(t float64) *RetentionError {
	return &RetentionError{Time: t, RetainedStart: tq.retainedStart(), RetainedEnd: tq.tailTime}
}

// At returns the move for ref. Sentinels are returned for HeadRef and for
// the reference one past the last move. A retired reference panics with
// *RetentionError.
func (tq *TrapQ) At(ref Ref) *Move {
	switch {
	case ref >= tq.base && ref < tq.tailRef():
		return &tq.moves[ref-tq.base]
	case ref == tq.tailRef():
		return &tq.tail
	case ref == HeadRef && tq.headValid():
		return &tq.head
	}
	re := tq.retentionError(math.NaN())
	re.Retired, re.Ref = true, ref
	panic(re)
}

// Prev returns the reference of the move before ref.
func (tq *TrapQ) Prev(ref Ref) Ref {
	switch {
	case ref == HeadRef:
	case ref-1 >= tq.base:
		return ref - 1
	case tq.headValid():
		return HeadRef
	}
	panic(tq.retentionError(tq.At(ref).PrintTime))
}

// Next returns the reference of the move after ref. The tail sentinel is
// its own successor.
func (tq *TrapQ) Next(ref Ref) Ref {
	tail := tq.tailRef()
	switch {
	case ref == HeadRef:
		return tq.base
	case ref < tail:
		return ref + 1
	}
	return tail
}

// Seek moves from ref to the move containing local time moveTime, which
// may lie before or after ref's own move. It returns the new reference and
// the time local to it, in [0, MoveTime).
func (tq *TrapQ) Seek(ref Ref, moveTime float64) (Ref, float64) {
	m := tq.At(ref)
	for moveTime < 0 {
		if ref == HeadRef || (ref == tq.base && !tq.headValid()) {
			panic(tq.retentionError(m.PrintTime + moveTime))
		}
		ref = tq.Prev(ref)
		m = tq.At(ref)
		moveTime += m.MoveTime
	}
	for moveTime >= m.MoveTime && ref != tq.tailRef() {
		moveTime -= m.MoveTime
		ref = tq.Next(ref)
		m = tq.At(ref)
	}
	return ref, moveTime
}

// Locate returns the move containing absolute time printTime. It panics
// with *RetentionError if that time has been retired.
func (tq *TrapQ) Locate(printTime float64) Ref {
	ref, err := tq.locate(printTime)
	if err != nil {
		panic(err)
	}
	return ref
}

func (tq *TrapQ) locate(t float64) (Ref, *RetentionError) {
	if t >= tq.tailTime {
		return tq.tailRef(), nil
	}
	n := len(tq.moves)
	if n == 0 || t < tq.moves[0].PrintTime {
		if tq.headValid() && t >= tq.head.PrintTime {
			return HeadRef, nil
		}
		return 0, tq.retentionError(t)
	}
	i := sort.Search(n, func(i int) bool { return tq.moves[i].PrintTime > t }) - 1
	return tq.base + Ref(i), nil
}

// PositionAt returns the commanded position at printTime. It takes the
// read lock and must not be called from inside a generation pass.
func (tq *TrapQ) PositionAt(printTime float64) (Coord, error) {
	tq.mu.RLock()
	defer tq.mu.RUnlock()
	ref, rerr := tq.locate(printTime)
	if rerr != nil {
		return Coord{}, errors.Wrap(rerr, errors.ErrTrapQRetention, rerr.Error())
	}
	m := tq.At(ref)
	return m.Coord(printTime - m.PrintTime), nil
}

// Consumer is a registered reader of the queue. Moves are retired only
// once they end at or before every consumer's low-water time.
type Consumer struct {
	name     string
	tq       *TrapQ
	lowWater float64
}

// Register adds a consumer. Until it reports a low-water time it pins the
// whole queue.
func (tq *TrapQ) Register(name string) *Consumer {
	c := &Consumer{name: name, tq: tq, lowWater: -NeverTime}
	tq.cmu.Lock()
	tq.consumers[c] = struct{}{}
	tq.cmu.Unlock()
	return c
}

// Name returns the consumer name.
func (c *Consumer) Name() string { return c.name }

// SetLowWater reports that the consumer no longer needs moves ending at
// or before t. The mark never moves backwards.
func (c *Consumer) SetLowWater(t float64) {
	c.tq.cmu.Lock()
	defer c.tq.cmu.Unlock()
	if t > c.lowWater {
		c.lowWater = t
	}
}

// LowWater returns the current low-water time.
func (c *Consumer) LowWater() float64 {
	c.tq.cmu.Lock()
	defer c.tq.cmu.Unlock()
	return c.lowWater
}

// Close unregisters the consumer.
func (c *Consumer) Close() {
	c.tq.cmu.Lock()
	delete(c.tq.consumers, c)
	c.tq.cmu.Unlock()
}

// minLowWater returns the smallest low-water time over all consumers.
func (tq *TrapQ) minLowWater() (float64, bool) {
	tq.cmu.Lock()
	defer tq.cmu.Unlock()
	if len(tq.consumers) == 0 {
		return 0, false
	}
	lw := math.Inf(1)
	for c := range tq.consumers {
		lw = math.Min(lw, c.lowWater)
	}
	return lw, true
}

// Prune retires every move ending at or before the minimum consumer
// low-water time and returns how many were retired. Without consumers
// nothing is retired.
func (tq *TrapQ) Prune() int {
	lw, ok := tq.minLowWater()
	if !ok {
		return 0
	}
	tq.mu.Lock()
	defer tq.mu.Unlock()
	k := 0
	for k < len(tq.moves) && tq.moves[k].EndTime() <= lw {
		k++
	}
	if k == 0 {
		return 0
	}
	n := copy(tq.moves, tq.moves[k:])
	tq.moves = tq.moves[:n]
	tq.base += Ref(k)
	tq.updateSentinels()
	return k
}

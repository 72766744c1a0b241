// Step generation pipeline assembled from printer.cfg
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"klipper-stepgen/pkg/config"
	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/extruder"
	"klipper-stepgen/pkg/gcode"
	"klipper-stepgen/pkg/inputshaper"
	"klipper-stepgen/pkg/itersolve"
	"klipper-stepgen/pkg/kinematics"
	"klipper-stepgen/pkg/log"
	"klipper-stepgen/pkg/planfile"
	"klipper-stepgen/pkg/pool"
	"klipper-stepgen/pkg/smoother"
	"klipper-stepgen/pkg/steppersync"
	"klipper-stepgen/pkg/trapq"
)

const (
	toolheadQueue = "toolhead"
	extruderQueue = "extruder"
)

// smoothable is a stepper kinematics accepting per-axis smoothers.
type smoothable interface {
	SetSmootherParams(axis trapq.Axis, coeffs []float64, smoothTime, timeOffset float64) error
}

// printer owns the queues, steppers and runtime controls of one run.
type printer struct {
	mgr      *steppersync.Manager
	queues   map[string]*trapq.TrapQ
	steppers map[string][]*itersolve.StepperKinematics // by queue
	outputs  []*itersolve.StepQueue
	shaper   *inputshaper.InputShaper
	extruder *extruder.Kinematics
	commands *gcode.Executor
	kin      kinematics.Kinematics
	logger   *log.Logger
	// writeErr is the first output error seen by the flush callback.
	writeErr error
}

func newPrinter(sg *config.StepGen, capacity int, mgr *steppersync.Manager) (*printer, error) {
	p := &printer{
		mgr:      mgr,
		queues:   make(map[string]*trapq.TrapQ),
		steppers: make(map[string][]*itersolve.StepperKinematics),
		commands: gcode.NewExecutor(),
		logger:   log.GetLogger("printer"),
	}
	shaperCfg := inputshaper.DefaultConfig()
	if sg.InputShaper != nil {
		shaperCfg = *sg.InputShaper
	}
	var err error
	if p.shaper, err = inputshaper.NewInputShaper(shaperCfg); err != nil {
		return nil, err
	}

	kin, err := kinematics.NewFromConfig(sg.Kinematics)
	if err != nil {
		return nil, err
	}
	p.kin = kin
	toolhead := trapq.New(capacity, trapq.Coord{})
	p.queues[toolheadQueue] = toolhead
	mgr.AddTrapQ(toolheadQueue, toolhead)
	for _, rail := range kin.Rails() {
		sk := inputshaper.NewKinematics(rail.Mapper)
		if err := applySmoother(sk, sg.Smoother); err != nil {
			return nil, err
		}
		p.shaper.AddTarget(sk)
		if err := p.addStepper(rail.Name, toolheadQueue, sk, rail.StepDist); err != nil {
			return nil, err
		}
	}

	if ec := sg.Extruder; ec != nil {
		ek := extruder.New("extruder")
		ek.SetPressureAdvanceOnZ(ec.AdvanceOnZ)
		if err := ek.SetPressureAdvance(ec.Model, ec.SmoothTime, ec.TimeOffset); err != nil {
			return nil, err
		}
		if err := applySmoother(ek, sg.Smoother); err != nil {
			return nil, err
		}
		p.extruder = ek
		p.shaper.AddTarget(ek)
		eq := trapq.New(capacity, trapq.Coord{})
		p.queues[extruderQueue] = eq
		mgr.AddTrapQ(extruderQueue, eq)
		if err := p.addStepper("extruder", extruderQueue, ek, ec.Stepper.StepDist()); err != nil {
			return nil, err
		}
	}

	if err := p.shaper.Apply(); err != nil {
		return nil, err
	}
	if err := p.registerCommands(); err != nil {
		return nil, err
	}
	p.logger.WithField("commands", p.commands.Commands()).Debug("printer ready")
	return p, nil
}

func applySmoother(target smoothable, sc *config.SmootherConfig) error {
	if !sc.Enabled() {
		return nil
	}
	coeffs, err := smoother.Coefficients(sc.Type)
	if err != nil {
		return err
	}
	for i, a := range [...]trapq.Axis{trapq.AxisX, trapq.AxisY, trapq.AxisZ} {
		if sc.SmoothTime[i] == 0 {
			continue
		}
		if err := target.SetSmootherParams(a, coeffs, sc.SmoothTime[i], 0); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) addStepper(name, queue string, kin itersolve.Kinematics, stepDist float64) error {
	sk, err := itersolve.New(name, kin, stepDist)
	if err != nil {
		return err
	}
	sk.SetTrapQ(p.queues[queue])
	out := itersolve.NewStepQueue(name, 1024)
	if err := p.mgr.AddStepper(sk, out); err != nil {
		return err
	}
	p.steppers[queue] = append(p.steppers[queue], sk)
	p.outputs = append(p.outputs, out)
	return nil
}

// run feeds the plan through the pipeline and writes one
// "stepper,dir,time" line per step. Each generation pass first writes the
// steps of the pass before it. Steps generated before an error are still
// written.
func (p *printer) run(plan io.Reader, out io.Writer) error {
	w := bufio.NewWriter(out)
	id := p.mgr.RegisterFlushCallback(func(float64) {
		if p.writeErr == nil {
			p.writeErr = p.drain(w)
		}
	})
	err := p.feed(planfile.NewReader(plan))
	p.mgr.UnregisterFlushCallback(id)
	if p.writeErr == nil {
		p.writeErr = p.drain(w)
	}
	if ferr := w.Flush(); p.writeErr == nil {
		p.writeErr = ferr
	}
	if err == nil {
		err = p.writeErr
	}
	return err
}

func (p *printer) feed(rd *planfile.Reader) error {
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := p.apply(rec); err != nil {
			return fmt.Errorf("line %d: %w", rec.Line, err)
		}
		if p.writeErr != nil {
			return p.writeErr
		}
	}

	// Generate through the end of the last move and its trailing window
	end := p.mgr.LastFlushTime()
	for _, tq := range p.queues {
		end = math.Max(end, tq.TailTime()+itersolve.MaxWindow)
	}
	if err := p.mgr.GenSteps(end); err != nil {
		return err
	}
	if p.writeErr != nil {
		return p.writeErr
	}
	for _, name := range p.mgr.Steppers() {
		if at, ok := p.mgr.ActiveSince(name); ok {
			p.logger.WithFields(log.Fields{"stepper": name, "print_time": at}).Debug("stepper first moved")
		} else {
			p.logger.WithField("stepper", name).Debug("stepper never moved")
		}
	}
	return nil
}

func (p *printer) queue(name string) (*trapq.TrapQ, error) {
	tq, ok := p.queues[name]
	if !ok {
		return nil, fmt.Errorf("unknown queue '%s'", name)
	}
	return tq, nil
}

func (p *printer) apply(rec *planfile.Record) error {
	switch rec.Kind {
	case planfile.KindMove:
		tq, err := p.queue(rec.Queue)
		if err != nil {
			return err
		}
		return rec.Move.AppendTo(tq)
	case planfile.KindPosition:
		tq, err := p.queue(rec.Queue)
		if err != nil {
			return err
		}
		return p.mgr.Reconfigure(rec.Time, "position", func() error {
			if rec.Queue == toolheadQueue {
				if err := p.checkPosition(tq, rec.Time, rec.Pos); err != nil {
					return err
				}
			}
			if err := tq.SetPosition(rec.Time, rec.Pos); err != nil {
				return err
			}
			for _, sk := range p.steppers[rec.Queue] {
				sk.SetPosition(rec.Pos)
			}
			return nil
		})
	case planfile.KindFlush:
		return p.mgr.GenSteps(rec.Time)
	case planfile.KindCommand:
		defer rec.Cmd.Release()
		return p.commands.Execute(rec.Cmd)
	}
	return nil
}

// toolheadPosition returns the toolhead position implied by the
// toolhead steppers' commanded positions.
func (p *printer) toolheadPosition() trapq.Coord {
	pos := make(map[string]float64)
	for _, sk := range p.steppers[toolheadQueue] {
		pos[sk.Name()] = sk.CommandedPos()
	}
	return p.kin.CalcPosition(pos)
}

// checkPosition logs the planned and measured toolhead position before a
// reset and warns when they are more than one step apart.
func (p *printer) checkPosition(tq *trapq.TrapQ, printTime float64, to trapq.Coord) error {
	planned, err := tq.PositionAt(printTime)
	if err != nil {
		return err
	}
	measured := p.toolheadPosition()
	tol := 0.
	for _, r := range p.kin.Rails() {
		tol = math.Max(tol, r.StepDist)
	}
	entry := p.logger.WithFields(log.Fields{
		"print_time": printTime,
		"planned":    formatCoord(planned),
		"measured":   formatCoord(measured),
		"to":         formatCoord(to),
	})
	if math.Abs(planned.X-measured.X) > tol || math.Abs(planned.Y-measured.Y) > tol ||
		math.Abs(planned.Z-measured.Z) > tol {
		entry.Warn("steppers disagree with the planned position")
		return nil
	}
	entry.Info("position reset")
	return nil
}

func formatCoord(c trapq.Coord) string {
	return fmt.Sprintf("%.3f,%.3f,%.3f", c.X, c.Y, c.Z)
}

// registerCommands installs the runtime commands. Each takes effect from
// the last flush on.
func (p *printer) registerCommands() error {
	if err := p.commands.Register("SET_INPUT_SHAPER", "Set the input shaper parameters",
		func(cmd *gcode.Command) error {
			if len(cmd.Args) > 0 {
				err := p.mgr.Reconfigure(p.mgr.LastFlushTime(), "input_shaper", func() error {
					return p.shaper.SetInputShaper(cmd)
				})
				if err != nil {
					return err
				}
			}
			p.logger.WithFields(log.Fields(p.shaper.GetStatus())).Info(p.shaper.Report())
			return nil
		}); err != nil {
		return err
	}
	return p.commands.Register("SET_PRESSURE_ADVANCE", "Set the pressure advance parameters",
		func(cmd *gcode.Command) error {
			if p.extruder == nil {
				return errors.New(errors.ErrCommandParse, "SET_PRESSURE_ADVANCE without [extruder]")
			}
			if len(cmd.Args) > 0 {
				err := p.mgr.Reconfigure(p.mgr.LastFlushTime(), "pressure_advance", func() error {
					return p.extruder.HandleSetPressureAdvance(cmd)
				})
				if err != nil {
					return err
				}
			}
			p.logger.WithFields(log.Fields(p.extruder.GetStatus())).Info("pressure advance")
			return nil
		})
}

func (p *printer) drain(w io.Writer) error {
	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)
	for _, q := range p.outputs {
		var err error
		q.Drain(func(s itersolve.Step) {
			buf.Reset()
			buf.WriteString(q.Name())
			buf.WriteByte(',')
			buf.AppendInt(int64(s.Dir))
			buf.WriteByte(',')
			buf.AppendFloat(s.Time, 9)
			buf.WriteByte('\n')
			if err == nil {
				_, err = w.Write(buf.Bytes())
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

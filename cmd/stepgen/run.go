package main

import (
	"io"
	"strings"

	"klipper-stepgen/pkg/config"
	"klipper-stepgen/pkg/log"
	"klipper-stepgen/pkg/metrics"
	"klipper-stepgen/pkg/steppersync"
)

// moveCapacity bounds each move queue; pruning keeps it well below this.
const moveCapacity = 4096

type options struct {
	ConfigPath string
	// Config, when set, is used instead of reading ConfigPath.
	Config  *config.Config
	Metrics *metrics.StepGenMetrics
	// OnManager is called with the manager health check once the
	// pipeline is built.
	OnManager func(health func() error)
}

func run(opts options, plan io.Reader, out io.Writer) error {
	logger := log.GetLogger("main")
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return err
		}
	}
	sg, err := config.LoadStepGen(cfg)
	if err != nil {
		return err
	}
	if err := cfg.CheckUnusedOptions(); err != nil {
		logger.WithError(err).Warn("config has unused options")
	}

	mgr := steppersync.NewManager()
	if opts.Metrics != nil {
		mgr.SetMetrics(opts.Metrics)
	}
	p, err := newPrinter(sg, moveCapacity, mgr)
	if err != nil {
		return err
	}
	if opts.OnManager != nil {
		opts.OnManager(mgr.Err)
	}
	logger.WithFields(log.Fields{
		"kinematics": sg.Kinematics.Type,
		"steppers":   strings.Join(mgr.Steppers(), ","),
	}).Info("step generation ready")
	return p.run(plan, out)
}

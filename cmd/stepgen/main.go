// stepgen turns a planned motion stream into stepper step times.
//
// Usage:
//
//	stepgen -config ~/printer.cfg [options]
//
// Options:
//
//	-config string    Printer configuration file (required)
//	-plan string      Motion plan file (default: stdin)
//	-o string         Step output file (default: stdout)
//	-metrics string   Serve Prometheus metrics on this address
//	-loglevel string  DEBUG, INFO, WARN or ERROR
//
// Examples:
//
//	# Generate steps for a recorded plan
//	stepgen -config ~/printer.cfg -plan print.plan -o steps.csv
//
//	# Keep serving metrics after the plan is done
//	stepgen -config ~/printer.cfg -plan print.plan -metrics :9100
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klipper-stepgen/pkg/log"
	"klipper-stepgen/pkg/metrics"
)

func main() {
	os.Exit(realMain())
}

// realMain runs the command and returns the exit code, so that deferred
// closes run before the process exits.
func realMain() int {
	configFile := flag.String("config", "", "Printer configuration file (required)")
	planFile := flag.String("plan", "", "Motion plan file (default: stdin)")
	outFile := flag.String("o", "", "Step output file (default: stdout)")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	logLevel := flag.String("loglevel", "", "Log level: DEBUG, INFO, WARN, ERROR")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		return 1
	}

	if *logLevel != "" {
		l := log.New("stepgen")
		log.ConfigureFromEnv(l)
		l.SetLevel(log.ParseLevel(*logLevel))
		log.SetDefaultLogger(l)
	}
	logger := log.GetLogger("main")

	var plan io.Reader = os.Stdin
	if *planFile != "" {
		f, err := os.Open(*planFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening plan: %v\n", err)
			return 1
		}
		defer f.Close()
		plan = f
	}
	var out io.Writer = os.Stdout
	if *outFile != "" {
		f, err := os.Create(*outFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	opts := options{ConfigPath: *configFile}
	var srv *metrics.MetricsServer
	if *metricsAddr != "" {
		opts.Metrics = metrics.NewStepGenMetrics()
		opts.OnManager = func(h func() error) {
			cfg := metrics.DefaultMetricsServerConfig()
			cfg.Address = *metricsAddr
			cfg.Health = h
			srv = metrics.NewMetricsServerWithConfig(opts.Metrics, cfg)
			errCh := srv.StartAsync()
			go func() {
				if err := <-errCh; err != nil {
					logger.WithError(err).Error("metrics server failed")
				}
			}()
			logger.WithField("address", *metricsAddr).Info("serving metrics")
		}
	}

	runErr := run(opts, plan, out)
	if runErr != nil {
		logger.WithError(runErr).Error("step generation failed")
	}

	if srv != nil {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		logger.Info("plan done, press Ctrl+C to stop the metrics server")
		<-sigChan
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("metrics server shutdown")
		}
		cancel()
	}
	if runErr != nil {
		return 1
	}
	return 0
}

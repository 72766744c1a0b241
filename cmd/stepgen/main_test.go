package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func runMain(t *testing.T, args ...string) int {
	t.Helper()
	oldArgs, oldFlags := os.Args, flag.CommandLine
	t.Cleanup(func() { os.Args, flag.CommandLine = oldArgs, oldFlags })
	os.Args = append([]string{"stepgen"}, args...)
	flag.CommandLine = flag.NewFlagSet("stepgen", flag.ContinueOnError)
	return realMain()
}

func writeFile(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRealMainExitCodes(t *testing.T) {
	captureLog(t)
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "printer.cfg", printerCfg)
	tests := []struct {
		name string
		plan string
		code int
		net  int
	}{
		{"success", plan, 0, 400},
		{"failed run keeps output", "move toolhead 0 0.1 0 0.1 0 0 0 1 0 0 0 50 500\nflush 0.5\nG28\n", 1, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planPath := writeFile(t, dir, "print.plan", tt.plan)
			outPath := filepath.Join(t.TempDir(), "steps.csv")
			if code := runMain(t, "-config", cfgPath, "-plan", planPath, "-o", outPath); code != tt.code {
				t.Fatalf("exit code = %d, want %d", code, tt.code)
			}
			data, err := os.ReadFile(outPath)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			net := 0
			for _, s := range parseOutput(t, string(data)) {
				if s.stepper == "stepper_x" {
					net += s.dir
				}
			}
			if net != tt.net {
				t.Errorf("stepper_x net = %d, want %d", net, tt.net)
			}
		})
	}
}

func TestRealMainRequiresConfig(t *testing.T) {
	captureLog(t)
	if code := runMain(t); code != 1 {
		t.Errorf("exit code = %d without -config, want 1", code)
	}
	if code := runMain(t, "-config", filepath.Join(t.TempDir(), "printer.cfg"), "-plan", "/nonexistent/print.plan"); code != 1 {
		t.Errorf("exit code = %d for a missing plan, want 1", code)
	}
}

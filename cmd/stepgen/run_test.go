package main

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"klipper-stepgen/pkg/config"
	"klipper-stepgen/pkg/log"
	"klipper-stepgen/pkg/metrics"
)

const printerCfg = `
[printer]
kinematics: cartesian
[stepper_x]
rotation_distance: 40
microsteps: 16
[stepper_y]
rotation_distance: 40
microsteps: 16
[stepper_z]
rotation_distance: 8
microsteps: 16
[extruder]
rotation_distance: 33.5
microsteps: 16
pressure_advance: 0.02
`

// 5mm along X (and 5mm of filament) in 0.2s
const plan = `# toolhead then extruder
move toolhead 0 0.1 0 0.1 0 0 0 1 0 0 0 50 500
move extruder 0 0.1 0 0.1 0 0 0 1 0 0 0 50 500
flush 0.1
flush 0.5
SET_PRESSURE_ADVANCE ADVANCE=0.03
`

type stepLine struct {
	stepper string
	dir     int
	time    float64
}

func parseOutput(t *testing.T, out string) []stepLine {
	t.Helper()
	var lines []stepLine
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		if l == "" {
			continue
		}
		f := strings.Split(l, ",")
		if len(f) != 3 {
			t.Fatalf("malformed line %q", l)
		}
		dir, err := strconv.Atoi(f[1])
		if err != nil {
			t.Fatalf("bad dir in %q", l)
		}
		tm, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			t.Fatalf("bad time in %q", l)
		}
		lines = append(lines, stepLine{f[0], dir, tm})
	}
	return lines
}

func runString(t *testing.T, cfgText, planText string, m *metrics.StepGenMetrics) (string, error) {
	t.Helper()
	cfg, err := config.LoadString(cfgText)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	var out bytes.Buffer
	err = run(options{Config: cfg, Metrics: m}, strings.NewReader(planText), &out)
	return out.String(), err
}

func TestRunWritesSteps(t *testing.T) {
	m := metrics.NewStepGenMetrics()
	out, err := runString(t, printerCfg, plan, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	net := map[string]int{}
	last := map[string]float64{}
	for _, s := range parseOutput(t, out) {
		if s.dir != 1 && s.dir != -1 {
			t.Fatalf("dir = %d", s.dir)
		}
		if prev, ok := last[s.stepper]; ok && s.time <= prev {
			t.Fatalf("%s: step at %v after %v", s.stepper, s.time, prev)
		}
		last[s.stepper] = s.time
		net[s.stepper] += s.dir
	}
	if net["stepper_x"] != 400 {
		t.Errorf("stepper_x net = %d, want 400", net["stepper_x"])
	}
	if net["stepper_y"] != 0 || net["stepper_z"] != 0 {
		t.Errorf("idle steppers moved: %v", net)
	}
	// 5mm / (33.5/3200) = 477.6 steps, rounded at the half step
	if net["extruder"] != 478 {
		t.Errorf("extruder net = %d, want 478", net["extruder"])
	}
	if last["stepper_x"] > 0.2 {
		t.Errorf("last stepper_x step at %v, past the move end", last["stepper_x"])
	}
	gathered := m.Gather()
	if !strings.Contains(gathered, `kind="pressure_advance"`) {
		t.Errorf("reconfigure not recorded:\n%s", gathered)
	}
}

func TestRunFlushOrdersOutput(t *testing.T) {
	out, err := runString(t, printerCfg, plan, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Steps drained at the 0.1s flush come before later ones
	seenLate := false
	for _, s := range parseOutput(t, out) {
		if s.stepper != "stepper_x" {
			continue
		}
		if s.time > 0.1 {
			seenLate = true
		} else if seenLate {
			t.Fatalf("step at %v written after steps past the flush", s.time)
		}
	}
	if !seenLate {
		t.Fatal("no steps after the flush")
	}
}

func TestRunErrors(t *testing.T) {
	noExtruder := strings.Split(printerCfg, "[extruder]")[0]
	tests := []struct {
		name string
		cfg  string
		plan string
		want string
	}{
		{"unknown queue", printerCfg, "move bed 0 0.1 0 0.1 0 0 0 1 0 0 0 50 500\n", "unknown queue 'bed'"},
		{"unknown command", printerCfg, "G28\n", "unknown command 'G28'"},
		{"pressure advance without extruder", noExtruder, "SET_PRESSURE_ADVANCE ADVANCE=0.1\n", "without [extruder]"},
		{"bad record", printerCfg, "flush\n", "line 1"},
		{"bad shaper", printerCfg, "SET_INPUT_SHAPER SHAPER_TYPE=bogus\n", "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runString(t, tt.cfg, tt.plan, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	_, err := runString(t, "[printer]\nkinematics: delta\n", "", nil)
	if err == nil || !strings.Contains(err.Error(), "'kinematics'") {
		t.Fatalf("err = %v, want a kinematics choice error", err)
	}
}

func TestRunPositionRecord(t *testing.T) {
	text := `move toolhead 0 0.1 0 0.1 0 0 0 1 0 0 0 50 500
position toolhead 0.5 0 0 0
move toolhead 1 0.1 0 0.1 0 0 0 1 0 0 0 50 500
`
	logs := captureLog(t)
	out, err := runString(t, printerCfg, text, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// 400 steps of 0.0125mm put the carriage at the planned X=5
	got := logs.String()
	for _, want := range []string{"position reset", "planned=5.000,0.000,0.000",
		"measured=5.000,0.000,0.000", "to=0.000,0.000,0.000"} {
		if !strings.Contains(got, want) {
			t.Errorf("log lacks %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "disagree") {
		t.Errorf("unexpected position mismatch:\n%s", got)
	}
	net := 0
	for _, s := range parseOutput(t, out) {
		if s.stepper == "stepper_x" {
			net += s.dir
		}
	}
	// The second move starts again from 0 after the position reset, so it
	// repeats the first move's 400 steps
	if net != 800 {
		t.Errorf("stepper_x net = %d, want 800", net)
	}
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	l := log.New("stepgen")
	l.SetWriter(&buf)
	log.SetDefaultLogger(l)
	t.Cleanup(func() { log.SetDefaultLogger(log.New("stepgen")) })
	return &buf
}

func TestRunBareCommandsReport(t *testing.T) {
	logs := captureLog(t)
	m := metrics.NewStepGenMetrics()
	_, err := runString(t, printerCfg, "SET_INPUT_SHAPER\nSET_PRESSURE_ADVANCE\n", m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := logs.String()
	for _, want := range []string{"shaper_type_x:mzv shaper_freq_x:0.000", "shaper_type_y:mzv",
		"pressure_advance=0.02", "pressure_advance_model=linear"} {
		if !strings.Contains(got, want) {
			t.Errorf("log lacks %q:\n%s", want, got)
		}
	}
	if g := m.Gather(); strings.Contains(g, `kind="input_shaper"`) || strings.Contains(g, `kind="pressure_advance"`) {
		t.Errorf("bare command reconfigured:\n%s", g)
	}
}

func TestRunReportsAfterUpdate(t *testing.T) {
	logs := captureLog(t)
	_, err := runString(t, printerCfg, "SET_INPUT_SHAPER SHAPER_FREQ_X=40\n", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := logs.String(); !strings.Contains(got, "shaper_freq_x:40.000") {
		t.Errorf("updated shaper not reported:\n%s", got)
	}
}

func TestRunKeepsOutputBeforeError(t *testing.T) {
	text := `move toolhead 0 0.1 0 0.1 0 0 0 1 0 0 0 50 500
flush 0.5
G28
`
	out, err := runString(t, printerCfg, text, nil)
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("err = %v, want a line 3 error", err)
	}
	net := 0
	for _, s := range parseOutput(t, out) {
		if s.stepper == "stepper_x" {
			net += s.dir
		}
	}
	if net != 400 {
		t.Errorf("stepper_x net = %d before the error, want 400", net)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, fmt.Errorf("disk full") }

func TestRunReportsWriteError(t *testing.T) {
	cfg, err := config.LoadString(printerCfg)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	err = run(options{Config: cfg}, strings.NewReader(plan), failingWriter{})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v, want the write error", err)
	}
}

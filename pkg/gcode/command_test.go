package gcode

import (
	"testing"

	"klipper-stepgen/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		name string
		args map[string]string
	}{
		{"SET_PRESSURE_ADVANCE ADVANCE=0.04 smooth_time=0.02", "SET_PRESSURE_ADVANCE",
			map[string]string{"ADVANCE": "0.04", "SMOOTH_TIME": "0.02"}},
		{"set_input_shaper SHAPER_FREQ_X=42.5 ; tuned", "SET_INPUT_SHAPER",
			map[string]string{"SHAPER_FREQ_X": "42.5"}},
		{"G1 X10 Y-2.5 (travel) F3000", "G1",
			map[string]string{"X": "10", "Y": "-2.5", "F": "3000"}},
		{"SET_INPUT_SHAPER", "SET_INPUT_SHAPER", map[string]string{}},
	}
	for _, tt := range tests {
		cmd, err := Parse(tt.line)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.line, err)
		}
		if cmd.Name != tt.name {
			t.Errorf("Parse(%q).Name = %q, want %q", tt.line, cmd.Name, tt.name)
		}
		if len(cmd.Args) != len(tt.args) {
			t.Errorf("Parse(%q).Args = %v, want %v", tt.line, cmd.Args, tt.args)
		}
		for k, v := range tt.args {
			if cmd.Args[k] != v {
				t.Errorf("Parse(%q) %s = %q, want %q", tt.line, k, cmd.Args[k], v)
			}
		}
		cmd.Release()
	}
}

func TestParseBlank(t *testing.T) {
	for _, line := range []string{"", "   ", "; comment", "(only a comment)"} {
		cmd, err := Parse(line)
		if cmd != nil || err != nil {
			t.Errorf("Parse(%q) = %v, %v", line, cmd, err)
		}
	}
	if _, err := Parse("SET_PRESSURE_ADVANCE =0.1"); !errors.Is(err, errors.ErrCommandParse) {
		t.Errorf("empty key accepted: %v", err)
	}
}

func TestFloatAccessors(t *testing.T) {
	cmd, err := Parse("SET_PRESSURE_ADVANCE ADVANCE=0.04 SMOOTH_TIME=abc TIME_OFFSET=-0.01 X=inf")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer cmd.Release()

	if v, err := cmd.Float("ADVANCE", 0); err != nil || v != 0.04 {
		t.Errorf("Float(ADVANCE) = %v, %v", v, err)
	}
	if v, err := cmd.Float("LINEAR_OFFSET", 0.5); err != nil || v != 0.5 {
		t.Errorf("Float default = %v, %v", v, err)
	}
	if _, err := cmd.Float("SMOOTH_TIME", 0); !errors.Is(err, errors.ErrCommandInvalidParam) {
		t.Errorf("non-numeric accepted: %v", err)
	}
	if _, err := cmd.Float("X", 0); err == nil {
		t.Errorf("infinite value accepted")
	}
	if _, err := cmd.FloatMin("TIME_OFFSET", 0, 0); err == nil {
		t.Errorf("negative value accepted by FloatMin")
	}
	if _, ok, _ := cmd.OptFloat("MODEL"); ok {
		t.Errorf("OptFloat reported absent parameter")
	}
	if !cmd.Has("ADVANCE") || cmd.Get("MODEL", "linear") != "linear" {
		t.Errorf("Has/Get wrong")
	}
}

func TestString(t *testing.T) {
	cmd, _ := Parse("set_pressure_advance smooth_time=0.02 advance=0.04")
	defer cmd.Release()
	if got := cmd.String(); got != "SET_PRESSURE_ADVANCE ADVANCE=0.04 SMOOTH_TIME=0.02" {
		t.Errorf("String = %q", got)
	}
}

func TestExecutor(t *testing.T) {
	e := NewExecutor()
	var got []float64
	err := e.Register("set_pressure_advance", "Set pressure advance", func(cmd *Command) error {
		v, err := cmd.Float("ADVANCE", 0)
		got = append(got, v)
		return err
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := e.Register("SET_PRESSURE_ADVANCE", "", nil); err == nil {
		t.Error("duplicate registration accepted")
	}
	if err := e.Run("SET_PRESSURE_ADVANCE ADVANCE=0.05"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := e.Run("; comment only"); err != nil {
		t.Fatalf("Run comment: %v", err)
	}
	if len(got) != 1 || got[0] != 0.05 {
		t.Errorf("handler saw %v", got)
	}
	if err := e.Run("G28"); !errors.Is(err, errors.ErrCommandParse) {
		t.Errorf("unknown command err = %v", err)
	}
	if err := e.Run("SET_PRESSURE_ADVANCE ADVANCE=abc"); err == nil {
		t.Error("bad parameter accepted")
	}
	if names := e.Commands(); len(names) != 1 || names[0] != "SET_PRESSURE_ADVANCE" {
		t.Errorf("Commands = %v", names)
	}
	if e.Help("set_pressure_advance") != "Set pressure advance" {
		t.Errorf("Help = %q", e.Help("set_pressure_advance"))
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
boards:
  - address: 0x40
    channels: 4
  - address: 0x41
    channels: 4
`

func TestLoad_MinimalAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Boards) != 2 || cfg.Boards[0].Address != 0x40 || cfg.Boards[1].Address != 0x41 {
		t.Errorf("boards = %+v", cfg.Boards)
	}
	if cfg.PWM.FrequencyHz != 50 {
		t.Errorf("FrequencyHz = %v, want default 50", cfg.PWM.FrequencyHz)
	}
	if cfg.PWM.Resolution != 65536 {
		t.Errorf("Resolution = %v, want default 65536", cfg.PWM.Resolution)
	}
	if cfg.Servo.MinPulseUs != 500 || cfg.Servo.MidPulseUs != 1500 || cfg.Servo.MaxPulseUs != 2500 {
		t.Errorf("pulse bounds = %g/%g/%g, want 500/1500/2500", cfg.Servo.MinPulseUs, cfg.Servo.MidPulseUs, cfg.Servo.MaxPulseUs)
	}
	if cfg.Servo.MaxAngleDeg != 270 {
		t.Errorf("MaxAngleDeg = %v, want default 270", cfg.Servo.MaxAngleDeg)
	}
	if cfg.Servo.SpeedMinDps != 10 || cfg.Servo.SpeedMaxDps != 270 || cfg.Servo.SpeedDefaultDps != 90 {
		t.Errorf("speeds = %g/%g/%g, want 10/270/90", cfg.Servo.SpeedMinDps, cfg.Servo.SpeedMaxDps, cfg.Servo.SpeedDefaultDps)
	}
	if cfg.CenterAngle() != 135 {
		t.Errorf("CenterAngle() = %v, want 135", cfg.CenterAngle())
	}
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
boards:
  - address: 0x40
    channels: 2
pwm:
  frequency_hz: 60
  resolution: 4096
servo:
  min_pulse_us: 1000
  mid_pulse_us: 1500
  max_pulse_us: 2000
  max_angle_deg: 180
  speed_min_dps: 5
  speed_max_dps: 180
  speed_default_dps: 60
bus:
  device: "/dev/i2c-1"
  oe_pin: 17
  mock_i2c: true
  mock_gpio: true
defaults:
  debug_level: 2
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PWM.FrequencyHz != 60 || cfg.PWM.Resolution != 4096 {
		t.Errorf("pwm = %+v", cfg.PWM)
	}
	if cfg.Servo.MaxAngleDeg != 180 || cfg.CenterAngle() != 90 {
		t.Errorf("MaxAngleDeg = %v, CenterAngle = %v", cfg.Servo.MaxAngleDeg, cfg.CenterAngle())
	}
	if cfg.Bus.Device != "/dev/i2c-1" || cfg.Bus.OEPin != 17 || !cfg.Bus.MockI2C || !cfg.Bus.MockGPIO {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	if cfg.Defaults.DebugLevel != 2 {
		t.Errorf("DebugLevel = %d, want 2", cfg.Defaults.DebugLevel)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no_boards", `defaults: {debug_level: 1}`},
		{"duplicate_address", `
boards:
  - {address: 0x40, channels: 4}
  - {address: 0x40, channels: 4}
`},
		{"address_out_of_7bit", `
boards:
  - {address: 0x90, channels: 4}
`},
		{"zero_channels", `
boards:
  - {address: 0x40, channels: 0}
`},
		{"seventeen_channels", `
boards:
  - {address: 0x40, channels: 17}
`},
		{"bad_frequency", minimalConfig + `
pwm: {frequency_hz: 10}
`},
		{"tiny_resolution", minimalConfig + `
pwm: {resolution: 256}
`},
		{"inverted_pulses", minimalConfig + `
servo: {min_pulse_us: 2500, max_pulse_us: 500}
`},
		{"mid_outside_bounds", minimalConfig + `
servo: {min_pulse_us: 1000, mid_pulse_us: 400, max_pulse_us: 2000}
`},
		{"angle_too_wide", minimalConfig + `
servo: {max_angle_deg: 400}
`},
		{"default_speed_outside", minimalConfig + `
servo: {speed_min_dps: 50, speed_max_dps: 100, speed_default_dps: 10}
`},
		{"bad_debug_level", minimalConfig + `
defaults: {debug_level: 9}
`},
		{"not_yaml", `{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

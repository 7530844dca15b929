package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BoardConfig describes one PCA9685 board on the bus.
type BoardConfig struct {
	Address  int `yaml:"address"`  // I2C address, e.g. 0x40
	Channels int `yaml:"channels"` // number of local outputs in use (1-16)
}

// PWMConfig holds the shared PWM characteristics.
type PWMConfig struct {
	FrequencyHz float64 `yaml:"frequency_hz"` // PWM frequency, typically 50 for servos
	Resolution  int     `yaml:"resolution"`   // duty counter resolution (65536 for 16-bit)
}

// ServoConfig describes the servos attached to the boards. All channels
// share the same model of servo, so one set of bounds applies everywhere.
type ServoConfig struct {
	MinPulseUs  float64 `yaml:"min_pulse_us"`
	MidPulseUs  float64 `yaml:"mid_pulse_us"`
	MaxPulseUs  float64 `yaml:"max_pulse_us"`
	MaxAngleDeg float64 `yaml:"max_angle_deg"` // 180 or 270 depending on the servo

	SpeedMinDps     float64 `yaml:"speed_min_dps"`
	SpeedMaxDps     float64 `yaml:"speed_max_dps"`
	SpeedDefaultDps float64 `yaml:"speed_default_dps"`
}

// BusConfig selects the hardware backends.
type BusConfig struct {
	Device   string `yaml:"device"`    // periph.io bus name; "" = first available
	OEPin    int    `yaml:"oe_pin"`    // GPIO (BCM) wired to the boards' /OE line; 0 = not wired
	MockI2C  bool   `yaml:"mock_i2c"`  // use mock I2C bus (true=dev/test, false=real hardware)
	MockGPIO bool   `yaml:"mock_gpio"` // use mock GPIO driver
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Boards   []BoardConfig  `yaml:"boards"`
	PWM      PWMConfig      `yaml:"pwm"`
	Servo    ServoConfig    `yaml:"servo"`
	Bus      BusConfig      `yaml:"bus"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	if len(cfg.Boards) == 0 {
		return nil, fmt.Errorf("at least one board is required")
	}
	seen := make(map[int]bool)
	for _, b := range cfg.Boards {
		if b.Address < 0x03 || b.Address > 0x77 {
			return nil, fmt.Errorf("board address 0x%02X outside the 7-bit I2C range", b.Address)
		}
		if seen[b.Address] {
			return nil, fmt.Errorf("duplicate board address 0x%02X", b.Address)
		}
		seen[b.Address] = true
		if b.Channels < 1 || b.Channels > 16 {
			return nil, fmt.Errorf("board 0x%02X: channels must be 1-16, got %d", b.Address, b.Channels)
		}
	}

	if cfg.PWM.FrequencyHz == 0 {
		cfg.PWM.FrequencyHz = 50
	}
	if cfg.PWM.FrequencyHz < 24 || cfg.PWM.FrequencyHz > 1526 {
		return nil, fmt.Errorf("pwm.frequency_hz must be 24-1526, got %g", cfg.PWM.FrequencyHz)
	}
	if cfg.PWM.Resolution == 0 {
		cfg.PWM.Resolution = 65536
	}
	if cfg.PWM.Resolution < 4096 {
		return nil, fmt.Errorf("pwm.resolution must be at least 4096, got %d", cfg.PWM.Resolution)
	}

	if cfg.Servo.MinPulseUs == 0 {
		cfg.Servo.MinPulseUs = 500
	}
	if cfg.Servo.MidPulseUs == 0 {
		cfg.Servo.MidPulseUs = 1500
	}
	if cfg.Servo.MaxPulseUs == 0 {
		cfg.Servo.MaxPulseUs = 2500
	}
	if cfg.Servo.MinPulseUs >= cfg.Servo.MaxPulseUs {
		return nil, fmt.Errorf("servo.min_pulse_us (%g) must be below max_pulse_us (%g)", cfg.Servo.MinPulseUs, cfg.Servo.MaxPulseUs)
	}
	if cfg.Servo.MidPulseUs < cfg.Servo.MinPulseUs || cfg.Servo.MidPulseUs > cfg.Servo.MaxPulseUs {
		return nil, fmt.Errorf("servo.mid_pulse_us (%g) must be within [%g, %g]", cfg.Servo.MidPulseUs, cfg.Servo.MinPulseUs, cfg.Servo.MaxPulseUs)
	}
	if cfg.Servo.MaxAngleDeg == 0 {
		cfg.Servo.MaxAngleDeg = 270
	}
	if cfg.Servo.MaxAngleDeg < 0 || cfg.Servo.MaxAngleDeg > 360 {
		return nil, fmt.Errorf("servo.max_angle_deg must be in (0, 360], got %g", cfg.Servo.MaxAngleDeg)
	}

	if cfg.Servo.SpeedMinDps == 0 {
		cfg.Servo.SpeedMinDps = 10
	}
	if cfg.Servo.SpeedMaxDps == 0 {
		cfg.Servo.SpeedMaxDps = 270
	}
	if cfg.Servo.SpeedDefaultDps == 0 {
		cfg.Servo.SpeedDefaultDps = 90
	}
	if cfg.Servo.SpeedMinDps <= 0 || cfg.Servo.SpeedMinDps >= cfg.Servo.SpeedMaxDps {
		return nil, fmt.Errorf("servo speed bounds invalid: min %g, max %g", cfg.Servo.SpeedMinDps, cfg.Servo.SpeedMaxDps)
	}
	if cfg.Servo.SpeedDefaultDps < cfg.Servo.SpeedMinDps || cfg.Servo.SpeedDefaultDps > cfg.Servo.SpeedMaxDps {
		return nil, fmt.Errorf("servo.speed_default_dps (%g) outside [%g, %g]", cfg.Servo.SpeedDefaultDps, cfg.Servo.SpeedMinDps, cfg.Servo.SpeedMaxDps)
	}

	if cfg.Bus.OEPin < 0 {
		return nil, fmt.Errorf("bus.oe_pin must be >= 0, got %d", cfg.Bus.OEPin)
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be 0-4, got %d", cfg.Defaults.DebugLevel)
	}

	return &cfg, nil
}

// CenterAngle returns the angle servos are driven to at start-up.
func (c *Config) CenterAngle() float64 {
	return c.Servo.MaxAngleDeg / 2
}

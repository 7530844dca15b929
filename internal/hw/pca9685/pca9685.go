package pca9685

import (
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/ServoGo/internal/debug"
	"github.com/cjeanneret/ServoGo/internal/hw/i2c"
)

const (
	RegMode1 = 0x00
	RegMode2 = 0x01

	// Each PWM output has two 16-bit (low byte first) register pairs.
	// First pair is the on count, second is the off count.
	RegLEDBase = 0x06

	RegPreScale = 0xfe // Pre-scaler for PWM frequency.

	mode1Restart = 0x80
	mode1AutoInc = 0x20
	mode1Sleep   = 0x10

	// Internal oscillator and 12-bit counter, per datasheet.
	oscillatorHz = 25_000_000
	counterTicks = 4096

	fullOnOff = 1 << 12 // LEDn_ON_H / LEDn_OFF_H bit 4

	NumChannels = 16
)

// Config holds the per-board settings.
type Config struct {
	Address     uint16
	FrequencyHz float64
	// Resolution is the range duty values are expressed in (0..Resolution-1).
	// The chip counter has 4096 ticks; duties are scaled down to it.
	Resolution int
}

// Device drives a single PCA9685 board over a shared I2C bus.
// It performs no locking itself; callers serialize access to the bus.
type Device struct {
	bus i2c.Bus
	cfg Config
}

// New creates a driver and configures the board: sleep, set the pre-scaler
// for the requested PWM frequency, then restart with auto-increment enabled.
func New(bus i2c.Bus, cfg Config) (*Device, error) {
	if cfg.FrequencyHz <= 0 {
		cfg.FrequencyHz = 50
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = 65536
	}
	d := &Device{bus: bus, cfg: cfg}
	if err := d.configure(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) configure() error {
	prescale := int(math.Round(oscillatorHz/(counterTicks*d.cfg.FrequencyHz))) - 1
	if prescale < 3 {
		prescale = 3
	} else if prescale > 255 {
		prescale = 255
	}
	debug.Verbose("PCA9685 0x%02X: configuring %.0f Hz (prescale %d)", d.cfg.Address, d.cfg.FrequencyHz, prescale)

	// The pre-scaler can only be written while the chip sleeps.
	if err := d.writeReg(RegMode1, mode1Sleep); err != nil {
		return err
	}
	if err := d.writeReg(RegPreScale, byte(prescale)); err != nil {
		return err
	}
	if err := d.writeReg(RegMode1, mode1AutoInc); err != nil {
		return err
	}
	// Required delay for the oscillator after leaving sleep.
	time.Sleep(1 * time.Millisecond)
	return d.writeReg(RegMode1, mode1Restart|mode1AutoInc)
}

// SetDuty sets one output. duty is expressed in the configured resolution
// (0..Resolution-1) and scaled down to the chip's 12-bit counter; 0 turns
// the output full off, the top value full on.
func (d *Device) SetDuty(channel int, duty int) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("pca9685 0x%02X: channel %d out of range 0..%d", d.cfg.Address, channel, NumChannels-1)
	}
	top := d.cfg.Resolution - 1
	if duty < 0 {
		duty = 0
	} else if duty > top {
		duty = top
	}

	var on, off uint16
	switch {
	case duty == 0:
		off = fullOnOff
	case duty >= top:
		on = fullOnOff
	default:
		off = uint16(duty * counterTicks / d.cfg.Resolution)
	}

	reg := byte(RegLEDBase + 4*channel)
	buf := []byte{reg, byte(on), byte(on >> 8), byte(off), byte(off >> 8)}
	if err := d.bus.Tx(d.cfg.Address, buf, nil); err != nil {
		return fmt.Errorf("pca9685 0x%02X: write channel %d: %w", d.cfg.Address, channel, err)
	}
	return nil
}

// Sleep stops the oscillator, halting all outputs. Used on teardown and
// before dropping a driver after a fault.
func (d *Device) Sleep() error {
	debug.Verbose("PCA9685 0x%02X: sleep", d.cfg.Address)
	return d.writeReg(RegMode1, mode1Sleep)
}

// Address returns the board's I2C address.
func (d *Device) Address() uint16 {
	return d.cfg.Address
}

func (d *Device) writeReg(reg, val byte) error {
	if err := d.bus.Tx(d.cfg.Address, []byte{reg, val}, nil); err != nil {
		return fmt.Errorf("pca9685 0x%02X: write reg 0x%02X: %w", d.cfg.Address, reg, err)
	}
	return nil
}

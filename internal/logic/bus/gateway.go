package bus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/ServoGo/internal/debug"
	"github.com/cjeanneret/ServoGo/internal/hw/i2c"
	"github.com/cjeanneret/ServoGo/internal/hw/pca9685"
	"github.com/cjeanneret/ServoGo/internal/logic/registry"
)

// ErrBoardNotReady means a write was attempted before (or after) a driver
// existed for the resolved board address.
var ErrBoardNotReady = errors.New("board driver not initialized")

// Error marks a transport-level I2C failure during a write or configure.
type Error struct {
	Address uint16
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bus write to board 0x%02X failed: %v", e.Address, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Gateway owns the shared I2C connection and one PCA9685 driver per board
// address. Every write goes through a single mutex: the bus protocol is not
// safe for concurrent access, so no two writes may interleave at the
// transport level, whichever channel or lifecycle path they come from.
type Gateway struct {
	mu         sync.Mutex
	bus        i2c.Bus
	reg        *registry.Registry
	freqHz     float64
	resolution int
	boards     map[uint16]*pca9685.Device
}

// NewGateway wraps an open bus. resolution is the duty range callers work
// in; the board drivers scale it to the chip counter. Boards are configured
// separately via ConfigureBoard so start-up failures stay attributable per
// address.
func NewGateway(b i2c.Bus, reg *registry.Registry, freqHz float64, resolution int) *Gateway {
	return &Gateway{
		bus:        b,
		reg:        reg,
		freqHz:     freqHz,
		resolution: resolution,
		boards:     make(map[uint16]*pca9685.Device),
	}
}

// WriteDuty resolves a logical channel and writes the duty value to the
// owning board. Registry errors pass through untouched so callers can map
// them to a rejected request.
func (g *Gateway) WriteDuty(logicalID, duty int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, err := g.reg.Resolve(logicalID)
	if err != nil {
		return err
	}
	dev, ok := g.boards[ch.Address]
	if !ok {
		return fmt.Errorf("channel %d (board 0x%02X): %w", logicalID, ch.Address, ErrBoardNotReady)
	}
	if err := dev.SetDuty(ch.Local, duty); err != nil {
		return &Error{Address: ch.Address, Err: err}
	}
	return nil
}

// ConfigureBoard creates and configures a driver for one board address.
// Invoked once per distinct address at start-up.
func (g *Gateway) ConfigureBoard(addr uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.configureLocked(addr)
}

// ReinitBoard tears down the driver for addr (best-effort) and configures a
// fresh one. Used for recovery after a transient bus error.
func (g *Gateway) ReinitBoard(addr uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if dev, ok := g.boards[addr]; ok {
		if err := dev.Sleep(); err != nil {
			debug.Verbose("board 0x%02X: sleep before reinit failed: %v", addr, err)
		}
		delete(g.boards, addr)
	}
	debug.Info("Reinitializing board 0x%02X", addr)
	return g.configureLocked(addr)
}

func (g *Gateway) configureLocked(addr uint16) error {
	dev, err := pca9685.New(g.bus, pca9685.Config{Address: addr, FrequencyHz: g.freqHz, Resolution: g.resolution})
	if err != nil {
		return &Error{Address: addr, Err: err}
	}
	g.boards[addr] = dev
	return nil
}

// Close puts every board to sleep (best-effort, continuing past failures),
// drops the drivers and closes the underlying bus connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for addr, dev := range g.boards {
		if err := dev.Sleep(); err != nil {
			debug.Warn("board 0x%02X: deinit failed: %v", addr, err)
		}
		delete(g.boards, addr)
	}
	if err := g.bus.Close(); err != nil {
		debug.Warn("closing I2C bus failed: %v", err)
		return err
	}
	return nil
}

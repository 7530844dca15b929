package i2c

import (
	"fmt"

	pio "periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"

	"github.com/cjeanneret/ServoGo/internal/debug"
)

// PeriphBus is the real implementation backed by periph.io host drivers.
type PeriphBus struct {
	bus pio.BusCloser
}

// NewPeriphBus opens the named I2C bus. Requires running on a host with an
// I2C controller exposed (e.g. /dev/i2c-1 on a Raspberry Pi).
func NewPeriphBus(device string) (*PeriphBus, error) {
	debug.Info("Initializing real I2C bus (periph.io)")

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to init host drivers: %w", err)
	}

	bus, err := i2creg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w (is I2C enabled on this host?)", device, err)
	}

	debug.Verbose("I2C bus %q opened", bus.String())

	return &PeriphBus{bus: bus}, nil
}

func (b *PeriphBus) Tx(addr uint16, w, r []byte) error {
	debug.Bus("Tx", addr, w)
	return b.bus.Tx(addr, w, r)
}

func (b *PeriphBus) Close() error {
	debug.Trace("I2C Close (real bus)")
	return b.bus.Close()
}

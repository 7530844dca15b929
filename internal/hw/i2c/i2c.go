package i2c

import (
	"sync"

	"github.com/cjeanneret/ServoGo/internal/debug"
)

// Bus defines the abstract interface for a shared I2C bus.
// This allows plugging in the real periph.io implementation
// or a mock for development on PC.
type Bus interface {
	// Tx writes w to the device at addr, then reads len(r) bytes into r.
	// Either buffer may be nil for a pure write or pure read.
	Tx(addr uint16, w, r []byte) error
	Close() error
}

// NewBus creates an I2C bus based on the chosen mode.
// If mock is true, returns a MockBus (for dev/test).
// If mock is false, returns the real periph.io bus named by device
// ("" selects the first available bus, e.g. /dev/i2c-1 on a Raspberry Pi).
func NewBus(mock bool, device string) (Bus, error) {
	if mock {
		debug.Info("Using MOCK I2C bus (development mode)")
		return NewMockBus(), nil
	}
	return NewPeriphBus(device)
}

// Write records a single write transaction seen by the mock bus.
type Write struct {
	Addr uint16
	Data []byte
}

// MockBus is a test implementation that records every transaction.
// Errors can be queued to simulate transient transport failures.
type MockBus struct {
	mu       sync.Mutex
	writes   []Write
	errs     []error
	addrErrs map[uint16][]error
	closed   bool
}

// NewMockBus creates an empty mock bus.
func NewMockBus() *MockBus {
	return &MockBus{}
}

func (m *MockBus) Tx(addr uint16, w, r []byte) error {
	debug.Bus("Tx", addr, w)

	m.mu.Lock()
	defer m.mu.Unlock()

	if queue := m.addrErrs[addr]; len(queue) > 0 {
		err := queue[0]
		m.addrErrs[addr] = queue[1:]
		return err
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return err
	}
	if len(w) > 0 {
		data := make([]byte, len(w))
		copy(data, w)
		m.writes = append(m.writes, Write{Addr: addr, Data: data})
	}
	for i := range r {
		r[i] = 0
	}
	return nil
}

func (m *MockBus) Close() error {
	debug.Trace("I2C Close (mock)")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// QueueTxError makes the next Tx call fail with err (FIFO if called
// repeatedly). Recorded writes are unaffected.
func (m *MockBus) QueueTxError(err error) {
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.mu.Unlock()
}

// QueueTxErrorFor makes the next Tx addressed to addr fail with err,
// leaving traffic to other devices untouched.
func (m *MockBus) QueueTxErrorFor(addr uint16, err error) {
	m.mu.Lock()
	if m.addrErrs == nil {
		m.addrErrs = make(map[uint16][]error)
	}
	m.addrErrs[addr] = append(m.addrErrs[addr], err)
	m.mu.Unlock()
}

// Writes returns a copy of all recorded write transactions.
func (m *MockBus) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// WritesTo returns the recorded writes addressed to addr.
func (m *MockBus) WritesTo(addr uint16) []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Write
	for _, w := range m.writes {
		if w.Addr == addr {
			out = append(out, w)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (m *MockBus) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

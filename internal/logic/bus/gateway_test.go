package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/cjeanneret/ServoGo/internal/hw/i2c"
	"github.com/cjeanneret/ServoGo/internal/hw/pca9685"
	"github.com/cjeanneret/ServoGo/internal/logic/registry"
)

func newTestGateway(t *testing.T) (*Gateway, *i2c.MockBus) {
	t.Helper()
	reg, err := registry.New([]registry.Board{
		{Address: 0x40, Channels: 4},
		{Address: 0x41, Channels: 4},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	mock := i2c.NewMockBus()
	return NewGateway(mock, reg, 50, 65536), mock
}

func configureAll(t *testing.T, g *Gateway) {
	t.Helper()
	for _, addr := range []uint16{0x40, 0x41} {
		if err := g.ConfigureBoard(addr); err != nil {
			t.Fatalf("ConfigureBoard(0x%02X): %v", addr, err)
		}
	}
}

func TestWriteDuty_RoutesToOwningBoard(t *testing.T) {
	g, mock := newTestGateway(t)
	configureAll(t, g)
	before40 := len(mock.WritesTo(0x40))
	before41 := len(mock.WritesTo(0x41))

	// Logical channel 5 lives on board 0x41, local channel 1.
	if err := g.WriteDuty(5, 4915); err != nil {
		t.Fatalf("WriteDuty: %v", err)
	}

	if got := len(mock.WritesTo(0x40)) - before40; got != 0 {
		t.Errorf("board 0x40 received %d writes, want 0", got)
	}
	writes := mock.WritesTo(0x41)[before41:]
	if len(writes) != 1 {
		t.Fatalf("board 0x41 received %d writes, want 1", len(writes))
	}
	wantReg := byte(pca9685.RegLEDBase + 4*1)
	if writes[0].Data[0] != wantReg {
		t.Errorf("wrote register 0x%02X, want 0x%02X", writes[0].Data[0], wantReg)
	}
}

func TestWriteDuty_BoardNotReady(t *testing.T) {
	g, _ := newTestGateway(t)
	// No ConfigureBoard calls yet.
	err := g.WriteDuty(0, 1000)
	if !errors.Is(err, ErrBoardNotReady) {
		t.Errorf("err = %v, want ErrBoardNotReady", err)
	}
}

func TestWriteDuty_RegistryErrorsPassThrough(t *testing.T) {
	g, _ := newTestGateway(t)
	configureAll(t, g)

	if err := g.WriteDuty(16, 1000); !errors.Is(err, registry.ErrChannelOutOfRange) {
		t.Errorf("err = %v, want ErrChannelOutOfRange", err)
	}
	if err := g.WriteDuty(9, 1000); !errors.Is(err, registry.ErrChannelNotFound) {
		t.Errorf("err = %v, want ErrChannelNotFound", err)
	}
}

func TestWriteDuty_WrapsTransportError(t *testing.T) {
	g, mock := newTestGateway(t)
	configureAll(t, g)

	ioErr := errors.New("remote I/O error")
	mock.QueueTxError(ioErr)

	err := g.WriteDuty(0, 1000)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var busErr *Error
	if !errors.As(err, &busErr) {
		t.Fatalf("err = %v, want *bus.Error", err)
	}
	if busErr.Address != 0x40 {
		t.Errorf("Address = 0x%02X, want 0x40", busErr.Address)
	}
	if !errors.Is(err, ioErr) {
		t.Error("wrapped error must unwrap to the transport error")
	}
}

func TestConfigureBoard_FailureDoesNotRegisterDriver(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.QueueTxError(errors.New("remote I/O error"))

	if err := g.ConfigureBoard(0x40); err == nil {
		t.Fatal("expected configure error, got nil")
	}
	if err := g.WriteDuty(0, 1000); !errors.Is(err, ErrBoardNotReady) {
		t.Errorf("after failed configure, err = %v, want ErrBoardNotReady", err)
	}
}

func TestReinitBoard_ReplacesDriver(t *testing.T) {
	g, mock := newTestGateway(t)
	configureAll(t, g)
	before := len(mock.WritesTo(0x40))

	if err := g.ReinitBoard(0x40); err != nil {
		t.Fatalf("ReinitBoard: %v", err)
	}

	// Sleep of the old driver + 4-write configure sequence of the new one.
	writes := mock.WritesTo(0x40)[before:]
	if len(writes) != 5 {
		t.Fatalf("reinit produced %d writes, want 5", len(writes))
	}
	if writes[0].Data[0] != pca9685.RegMode1 {
		t.Errorf("first reinit write should target MODE1, got 0x%02X", writes[0].Data[0])
	}

	if err := g.WriteDuty(0, 1000); err != nil {
		t.Errorf("WriteDuty after reinit: %v", err)
	}
}

func TestClose_BestEffortAndClosesBus(t *testing.T) {
	g, mock := newTestGateway(t)
	configureAll(t, g)

	// A failing sleep on one board must not prevent closing the bus.
	mock.QueueTxError(errors.New("remote I/O error"))

	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !mock.Closed() {
		t.Error("Close must close the underlying bus")
	}
	if err := g.WriteDuty(0, 0); !errors.Is(err, ErrBoardNotReady) {
		t.Errorf("after Close, err = %v, want ErrBoardNotReady", err)
	}
}

func TestWriteDuty_SerializedUnderConcurrency(t *testing.T) {
	g, mock := newTestGateway(t)
	configureAll(t, g)
	before := len(mock.Writes())

	var wg sync.WaitGroup
	const perChannel = 20
	for id := 0; id < 8; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perChannel; i++ {
				if err := g.WriteDuty(id, 1000+i); err != nil {
					t.Errorf("WriteDuty(%d): %v", id, err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	if got := len(mock.Writes()) - before; got != 8*perChannel {
		t.Errorf("recorded %d writes, want %d", got, 8*perChannel)
	}
}

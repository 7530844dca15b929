package motion

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/ServoGo/internal/debug"
	"github.com/cjeanneret/ServoGo/internal/hw/gpio"
	"github.com/cjeanneret/ServoGo/internal/logic/bus"
	"github.com/cjeanneret/ServoGo/internal/logic/registry"
	"github.com/cjeanneret/ServoGo/internal/logic/units"
)

// ErrNotRunning is returned by commands issued before Start or after Stop.
var ErrNotRunning = errors.New("controller not running")

// Params holds the servo and PWM characteristics shared by all channels.
type Params struct {
	MinPulseUs  float64
	MidPulseUs  float64
	MaxPulseUs  float64
	MaxAngleDeg float64

	SpeedMinDps     float64
	SpeedMaxDps     float64
	SpeedDefaultDps float64

	FrequencyHz float64
	Resolution  int

	// OEPin is the GPIO driving the boards' shared /OE line; 0 = not wired.
	OEPin int
}

// channelState is the per-channel mutable record. angle and speed are
// guarded by Controller.mu; startMu serializes cancel-and-replace so two
// concurrent commands can never leave two movers racing on one channel.
type channelState struct {
	angle float64
	speed float64
	move  *moveHandle

	startMu sync.Mutex
}

// moveHandle identifies one running mover goroutine.
type moveHandle struct {
	stop chan struct{} // closed to request cancellation
	done chan struct{} // closed by the mover when it has fully stopped
}

// Controller orchestrates all servo channels. It is the single entry point
// for external callers (HTTP handlers, CLI): set angle, set speed, center,
// release, status, and the start/stop lifecycle of the whole subsystem.
type Controller struct {
	gw  *bus.Gateway
	reg *registry.Registry
	oe  gpio.Driver // nil when the /OE line is not wired
	p   Params

	mu      sync.Mutex
	states  map[int]*channelState
	started bool
	stopped bool
}

// NewController wires the facade. oe may be nil (no /OE line).
func NewController(gw *bus.Gateway, reg *registry.Registry, oe gpio.Driver, p Params) *Controller {
	return &Controller{
		gw:     gw,
		reg:    reg,
		oe:     oe,
		p:      p,
		states: make(map[int]*channelState),
	}
}

// CenterAngle returns the angle servos are driven to at start-up.
func (c *Controller) CenterAngle() float64 {
	return c.p.MaxAngleDeg / 2
}

// MaxAngle returns the configured upper angle bound.
func (c *Controller) MaxAngle() float64 {
	return c.p.MaxAngleDeg
}

// Start configures one driver per distinct board address, writes a center
// pulse synchronously to every configured channel (no paced move: this is
// the initialization write) and seeds per-channel state. Any failure here is
// fatal and leaves the subsystem not ready.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New("controller already started")
	}

	if c.oe != nil && c.p.OEPin > 0 {
		if err := c.oe.SetupOutput(c.p.OEPin); err != nil {
			return fmt.Errorf("setup /OE pin %d: %w", c.p.OEPin, err)
		}
		// /OE is active low: low enables the PWM outputs.
		if err := c.oe.WritePin(c.p.OEPin, gpio.Low); err != nil {
			return fmt.Errorf("enable /OE pin %d: %w", c.p.OEPin, err)
		}
	}

	addrs := c.reg.Addresses()
	debug.Info("Configuring %d PCA9685 board(s)", len(addrs))
	for _, addr := range addrs {
		if err := c.gw.ConfigureBoard(addr); err != nil {
			return fmt.Errorf("configure board 0x%02X: %w", addr, err)
		}
	}

	// The initial write drives the configured mid pulse directly rather
	// than deriving it from the center angle, so a trimmed mid_pulse_us
	// (one that is not the min/max midpoint) reaches the servos.
	center := c.CenterAngle()
	duty := units.PulseWidthToDuty(c.p.MidPulseUs, c.p.FrequencyHz, c.p.Resolution)
	for _, ch := range c.reg.Channels() {
		if err := c.gw.WriteDuty(ch.ID, duty); err != nil {
			return fmt.Errorf("center channel %d: %w", ch.ID, err)
		}
		c.states[ch.ID] = &channelState{
			angle: center,
			speed: c.p.SpeedDefaultDps,
		}
	}

	c.started = true
	debug.Info("Controller started: %d channel(s) centered at %.1f deg", c.reg.Len(), center)
	return nil
}

// Stop cancels every running move, zeroes every output (best-effort),
// disables /OE and tears the bus down. It is idempotent and safe to invoke
// from a termination signal as well as from normal shutdown; teardown never
// propagates errors past its own boundary.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	handles := c.detachAllMovesLocked()
	ids := make([]int, 0, len(c.states))
	for _, ch := range c.reg.Channels() {
		ids = append(ids, ch.ID)
	}
	c.mu.Unlock()

	debug.Info("Stopping controller: releasing all channels")
	awaitAll(handles)

	for _, id := range ids {
		if err := c.gw.WriteDuty(id, 0); err != nil {
			debug.Warn("release channel %d on shutdown: %v", id, err)
		}
	}

	if c.oe != nil && c.p.OEPin > 0 {
		// High disables all PWM outputs even if a zero-duty write failed.
		if err := c.oe.WritePin(c.p.OEPin, gpio.High); err != nil {
			debug.Warn("disable /OE pin %d: %v", c.p.OEPin, err)
		}
	}

	if err := c.gw.Close(); err != nil {
		debug.Warn("bus teardown: %v", err)
	}

	c.mu.Lock()
	c.states = make(map[int]*channelState)
	c.mu.Unlock()
}

// SetAngle validates the channel, clamps the target and replaces any
// in-flight move with a fresh paced one. It returns the clamped target
// immediately; convergence happens asynchronously.
func (c *Controller) SetAngle(id int, angleDeg float64) (float64, error) {
	ch, err := c.reg.Resolve(id)
	if err != nil {
		return 0, err
	}
	target := units.ClampAngle(angleDeg, c.p.MaxAngleDeg)
	if err := c.startMove(ch, target); err != nil {
		return 0, err
	}
	return target, nil
}

// SetSpeed clamps and stores the channel's angular speed. The value is read
// live by a running mover, so it also affects the current move.
func (c *Controller) SetSpeed(id int, dps float64) (float64, error) {
	if _, err := c.reg.Resolve(id); err != nil {
		return 0, err
	}
	clamped := units.ClampSpeed(dps, c.p.SpeedMinDps, c.p.SpeedMaxDps)

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[id]
	if !ok {
		return 0, ErrNotRunning
	}
	st.speed = clamped
	debug.Live("Channel %d: speed set to %.0f deg/s", id, clamped)
	return clamped, nil
}

// CenterAll starts a move to the center angle on every configured channel
// concurrently. It waits for the move starts to be issued, not for
// convergence; individual failures are collected without aborting the rest.
func (c *Controller) CenterAll() (float64, error) {
	center := c.CenterAngle()
	chans := c.reg.Channels()

	var wg sync.WaitGroup
	errs := make([]error, len(chans))
	for i, ch := range chans {
		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()
			if _, err := c.SetAngle(id, center); err != nil {
				errs[i] = fmt.Errorf("channel %d: %w", id, err)
			}
		}(i, ch.ID)
	}
	wg.Wait()

	return center, errors.Join(errs...)
}

// ReleaseAll cancels every running move, writes a zero duty value to every
// channel (best-effort) and resets the stored angles to 0, de-energizing
// the servos.
func (c *Controller) ReleaseAll() error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return ErrNotRunning
	}
	chans := c.reg.Channels()
	states := make([]*channelState, 0, len(chans))
	for _, ch := range chans {
		if st, ok := c.states[ch.ID]; ok {
			states = append(states, st)
		}
	}
	c.mu.Unlock()

	// Hold every channel's start lock for the whole release so a concurrent
	// SetAngle cannot re-energize an output between the cancellation and its
	// zero-duty write; pending commands proceed once the release is done.
	for _, st := range states {
		st.startMu.Lock()
	}
	defer func() {
		for _, st := range states {
			st.startMu.Unlock()
		}
	}()

	c.mu.Lock()
	handles := c.detachAllMovesLocked()
	c.mu.Unlock()

	awaitAll(handles)

	var errs []error
	for _, ch := range chans {
		if err := c.gw.WriteDuty(ch.ID, 0); err != nil {
			debug.Warn("release channel %d: %v", ch.ID, err)
			errs = append(errs, fmt.Errorf("channel %d: %w", ch.ID, err))
		}
		c.mu.Lock()
		if st, ok := c.states[ch.ID]; ok {
			st.angle = 0
		}
		c.mu.Unlock()
	}
	debug.Live("All channels released")
	return errors.Join(errs...)
}

// Cancel stops the running move for one channel, if any. Idempotent.
func (c *Controller) Cancel(id int) error {
	if _, err := c.reg.Resolve(id); err != nil {
		return err
	}

	c.mu.Lock()
	st, ok := c.states[id]
	if !ok {
		c.mu.Unlock()
		return ErrNotRunning
	}
	h := st.move
	st.move = nil
	c.mu.Unlock()

	if h != nil {
		close(h.stop)
		<-h.done
	}
	return nil
}

// ChannelStatus is one channel's entry in a state snapshot.
type ChannelStatus struct {
	Angle      float64 `json:"angle"`
	Speed      float64 `json:"speed"`
	Address    uint16  `json:"address"`
	AddressHex string  `json:"address_hex"`
	Local      int     `json:"channel"`
	Moving     bool    `json:"moving"`
}

// Snapshot is a read-only view of all configured channels.
type Snapshot struct {
	MaxAngleDeg float64
	Channels    map[int]ChannelStatus
}

// CurrentState returns a snapshot of every channel's angle, speed and board
// metadata. Read-only, no side effects.
func (c *Controller) CurrentState() Snapshot {
	snap := Snapshot{
		MaxAngleDeg: c.p.MaxAngleDeg,
		Channels:    make(map[int]ChannelStatus),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.reg.Channels() {
		st, ok := c.states[ch.ID]
		if !ok {
			continue
		}
		snap.Channels[ch.ID] = ChannelStatus{
			Angle:      st.angle,
			Speed:      st.speed,
			Address:    ch.Address,
			AddressHex: fmt.Sprintf("0x%02X", ch.Address),
			Local:      ch.Local,
			Moving:     st.move != nil,
		}
	}
	return snap
}

// detachAllMovesLocked clears every recorded move handle and returns them
// for the caller to cancel and await outside the lock.
func (c *Controller) detachAllMovesLocked() []*moveHandle {
	var handles []*moveHandle
	for _, st := range c.states {
		if st.move != nil {
			handles = append(handles, st.move)
			st.move = nil
		}
	}
	return handles
}

func awaitAll(handles []*moveHandle) {
	for _, h := range handles {
		close(h.stop)
	}
	for _, h := range handles {
		<-h.done
	}
}

func (c *Controller) dutyForAngle(angleDeg float64) int {
	us := units.AngleToPulseWidth(angleDeg, c.p.MinPulseUs, c.p.MaxPulseUs, c.p.MaxAngleDeg)
	return units.PulseWidthToDuty(us, c.p.FrequencyHz, c.p.Resolution)
}

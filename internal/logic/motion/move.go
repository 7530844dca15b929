package motion

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/ServoGo/internal/debug"
	"github.com/cjeanneret/ServoGo/internal/logic/bus"
	"github.com/cjeanneret/ServoGo/internal/logic/registry"
)

const (
	// StepPeriod is the pacing interval of a move loop.
	StepPeriod = 20 * time.Millisecond
	// Epsilon is the convergence threshold in degrees.
	Epsilon = 0.2
)

// startMove implements replace-in-place semantics: cancel and await any
// running mover for the channel, then launch a fresh one. The newest command
// always wins; intermediate targets are never queued. The per-channel
// startMu makes the cancel-await-replace sequence atomic with respect to
// concurrent commands on the same channel.
func (c *Controller) startMove(ch registry.Channel, target float64) error {
	c.mu.Lock()
	st, ok := c.states[ch.ID]
	if !ok || !c.started || c.stopped {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.mu.Unlock()

	st.startMu.Lock()
	defer st.startMu.Unlock()

	c.mu.Lock()
	prev := st.move
	st.move = nil
	speed := st.speed
	c.mu.Unlock()

	if prev != nil {
		close(prev.stop)
		<-prev.done
	}

	h := &moveHandle{stop: make(chan struct{}), done: make(chan struct{})}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrNotRunning
	}
	st.move = h
	c.mu.Unlock()

	debug.Move(ch.ID, target, speed)
	go c.move(ch, st, h, target)
	return nil
}

// move is the paced interpolation loop for one channel. It advances the
// current angle toward target at the configured speed, writing each step
// through the gateway, until converged, cancelled or faulted. Cancellation
// is cooperative: the stop channel is checked between steps and during the
// per-step wait, and once signalled no further write is issued.
func (c *Controller) move(ch registry.Channel, st *channelState, h *moveHandle, target float64) {
	defer close(h.done)
	defer func() {
		c.mu.Lock()
		if st.move == h {
			st.move = nil
		}
		c.mu.Unlock()
	}()

	c.mu.Lock()
	cur := st.angle
	c.mu.Unlock()

	for {
		select {
		case <-h.stop:
			debug.Live("Channel %d: move cancelled at %.1f deg", ch.ID, cur)
			return
		default:
		}

		// Speed is read live each step so SetSpeed affects the current move.
		c.mu.Lock()
		speed := st.speed
		c.mu.Unlock()
		if speed <= 0 {
			speed = c.p.SpeedMinDps
		}

		diff := target - cur
		if math.Abs(diff) <= Epsilon {
			cur = target
			if err := c.writeAngle(ch, cur); err != nil {
				c.fault(ch, err)
				return
			}
			c.storeAngle(st, cur)
			debug.Converged(ch.ID, cur)
			return
		}

		step := speed * StepPeriod.Seconds()
		if math.Abs(diff) < step {
			cur = target
		} else if diff > 0 {
			cur += step
		} else {
			cur -= step
		}

		if err := c.writeAngle(ch, cur); err != nil {
			c.fault(ch, err)
			return
		}
		c.storeAngle(st, cur)

		select {
		case <-h.stop:
			debug.Live("Channel %d: move cancelled at %.1f deg", ch.ID, cur)
			return
		case <-time.After(StepPeriod):
		}
	}
}

func (c *Controller) storeAngle(st *channelState, angle float64) {
	c.mu.Lock()
	st.angle = angle
	c.mu.Unlock()
}

func (c *Controller) writeAngle(ch registry.Channel, angleDeg float64) error {
	duty := c.dutyForAngle(angleDeg)
	debug.Step(ch.ID, angleDeg, duty)
	return c.gw.WriteDuty(ch.ID, duty)
}

// fault handles a failed bus write: log a warning with channel and board
// address, attempt exactly one board re-initialization, then give up. The
// interrupted move is not resumed; the angle last successfully written
// remains the recorded state.
func (c *Controller) fault(ch registry.Channel, err error) {
	if errors.Is(err, bus.ErrBoardNotReady) {
		debug.Warn("Channel %d (board 0x%02X): write without a driver: %v", ch.ID, ch.Address, err)
		return
	}

	debug.Warn("Bus error during move (ch=%d addr=0x%02X): %v", ch.ID, ch.Address, err)
	if rerr := c.gw.ReinitBoard(ch.Address); rerr != nil {
		debug.Error(fmt.Errorf("reinit of board 0x%02X failed: %w", ch.Address, rerr))
		return
	}
	debug.Info("Board 0x%02X reinitialized; move abandoned", ch.Address)
}

package registry

import (
	"errors"
	"fmt"
	"sort"
)

// MaxChannels is the protocol-level bound on logical channel ids: callers
// address channels 0..15 regardless of how many are actually configured.
const MaxChannels = 16

var (
	// ErrChannelOutOfRange means the id is outside the protocol bound [0,15].
	ErrChannelOutOfRange = errors.New("channel out of range 0..15")
	// ErrChannelNotFound means the id is valid but not present in the layout.
	ErrChannelNotFound = errors.New("channel not configured")
)

// Board describes one PCA9685 board and how many of its outputs are used.
// Local channel indices 0..Channels-1 are assigned in order.
type Board struct {
	Address  uint16
	Channels int
}

// Channel is one assigned logical channel.
type Channel struct {
	ID      int
	Address uint16
	Local   int
}

// Registry maps logical channel ids to (board address, local channel) pairs.
// It is built once from the static layout and immutable afterwards.
type Registry struct {
	channels []Channel
}

// New builds the registry from the board layout. Board addresses are visited
// in ascending numeric order and local indices in order, so logical ids are
// assigned deterministically: 0,1,2,... External callers depend on this
// ordering staying stable across restarts.
func New(boards []Board) (*Registry, error) {
	if len(boards) == 0 {
		return nil, errors.New("registry: no boards configured")
	}

	sorted := make([]Board, len(boards))
	copy(sorted, boards)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	r := &Registry{}
	for i, b := range sorted {
		if i > 0 && b.Address == sorted[i-1].Address {
			return nil, fmt.Errorf("registry: duplicate board address 0x%02X", b.Address)
		}
		if b.Channels < 1 || b.Channels > MaxChannels {
			return nil, fmt.Errorf("registry: board 0x%02X: channels must be 1..%d, got %d", b.Address, MaxChannels, b.Channels)
		}
		for local := 0; local < b.Channels; local++ {
			if len(r.channels) >= MaxChannels {
				return nil, fmt.Errorf("registry: layout exceeds %d logical channels", MaxChannels)
			}
			r.channels = append(r.channels, Channel{
				ID:      len(r.channels),
				Address: b.Address,
				Local:   local,
			})
		}
	}
	return r, nil
}

// Resolve maps a logical channel id to its board address and local index.
func (r *Registry) Resolve(id int) (Channel, error) {
	if id < 0 || id >= MaxChannels {
		return Channel{}, fmt.Errorf("channel %d: %w", id, ErrChannelOutOfRange)
	}
	if id >= len(r.channels) {
		return Channel{}, fmt.Errorf("channel %d: %w", id, ErrChannelNotFound)
	}
	return r.channels[id], nil
}

// Channels returns all assigned channels in logical id order.
func (r *Registry) Channels() []Channel {
	out := make([]Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Addresses returns the distinct board addresses in ascending order.
func (r *Registry) Addresses() []uint16 {
	var out []uint16
	for _, ch := range r.channels {
		if len(out) == 0 || out[len(out)-1] != ch.Address {
			out = append(out, ch.Address)
		}
	}
	return out
}

// Len returns the number of assigned logical channels.
func (r *Registry) Len() int {
	return len(r.channels)
}

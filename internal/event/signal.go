// Package event provides the cross-goroutine event bitmask and the duty-cycle
// timer that feed the session controller.
//
// Producers (BLE stack callbacks, timer expiries) set flags from their own
// goroutines and never block. The controller waits on a subset of flags with
// a timeout; matched flags are cleared atomically with the wake decision so
// every signal is consumed exactly once.
package event

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Event is a set of event flags.
type Event uint32

const (
	TimerExpiry Event = 1 << iota
	PeerAckReceived
	NotificationsEnabled
	PeerConnected
	PeerDisconnected
)

// Forever makes WaitAny block until a flag arrives or the context ends.
const Forever time.Duration = -1

// ErrTimeout is returned by WaitAny when no requested flag arrived in time.
var ErrTimeout = errors.New("event: wait timed out")

var names = []struct {
	ev   Event
	name string
}{
	{TimerExpiry, "TIMER_EXPIRY"},
	{PeerAckReceived, "PEER_ACK"},
	{NotificationsEnabled, "NOTIFICATIONS_ENABLED"},
	{PeerConnected, "PEER_CONNECTED"},
	{PeerDisconnected, "PEER_DISCONNECTED"},
}

// String renders the set as NAME|NAME, or NONE when empty.
func (e Event) String() string {
	if e == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range names {
		if e&n.ev != 0 {
			parts = append(parts, n.name)
		}
	}
	if rest := e &^ (TimerExpiry | PeerAckReceived | NotificationsEnabled | PeerConnected | PeerDisconnected); rest != 0 {
		parts = append(parts, "UNKNOWN")
	}
	return strings.Join(parts, "|")
}

// Signal is a bitmask of pending events.
type Signal struct {
	mu    sync.Mutex
	flags Event
	// wake is closed and replaced on every Set, releasing all waiters so they
	// can re-check the flags under the lock.
	wake chan struct{}
}

// NewSignal returns an empty Signal.
func NewSignal() *Signal {
	return &Signal{wake: make(chan struct{})}
}

// Set raises flags. Safe from any goroutine; never blocks.
func (s *Signal) Set(flags Event) {
	if flags == 0 {
		return
	}
	s.mu.Lock()
	s.flags |= flags
	close(s.wake)
	s.wake = make(chan struct{})
	s.mu.Unlock()
}

// Clear drops flags without waking anyone.
func (s *Signal) Clear(flags Event) {
	s.mu.Lock()
	s.flags &^= flags
	s.mu.Unlock()
}

// Pending returns the currently raised flags.
func (s *Signal) Pending() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// WaitAny blocks until at least one flag in mask is raised, the timeout
// elapses or ctx is done.
//
// On success the matched flags are cleared and returned. On timeout it
// returns ErrTimeout and leaves every flag untouched. A zero timeout polls,
// Forever waits without a deadline.
func (s *Signal) WaitAny(ctx context.Context, mask Event, timeout time.Duration) (Event, error) {
	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		s.mu.Lock()
		if matched := s.flags & mask; matched != 0 {
			s.flags &^= matched
			s.mu.Unlock()
			return matched, nil
		}
		if timeout == 0 {
			s.mu.Unlock()
			return 0, ErrTimeout
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-deadline:
			return 0, ErrTimeout
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

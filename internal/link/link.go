// Package link tracks the BLE connection/subscription state and abstracts
// the external Bluetooth stack.
// The real implementation exports a GATT application to BlueZ over D-Bus.
// The fake implementation allows testing without a radio.
package link

import (
	"sync/atomic"

	"github.com/sweeney/climate-sensor/internal/event"
)

// Handlers are the callbacks a Stack invokes from its own goroutines.
// They must not block.
type Handlers struct {
	OnConnect            func(peer string)
	OnDisconnect         func(peer string)
	OnSubscriptionChange func(enabled bool)
	OnWrite              func(data []byte)
}

// Stack is the external BLE peripheral collaborator.
type Stack interface {
	// SetHandlers installs the callbacks. Must be called before advertising.
	SetHandlers(h Handlers)

	// StartAdvertising makes the peripheral discoverable and connectable.
	StartAdvertising() error

	// StopAdvertising stops advertising. No-op when not advertising.
	StopAdvertising() error

	// Notify sends data to the subscribed client on the TX characteristic.
	Notify(data []byte) error

	// Disconnect asks the current peer to drop the link.
	Disconnect() error

	// Close releases stack resources.
	Close() error
}

// Gate holds the link state derived from stack callbacks. Each field has a
// single writer (the stack callback goroutine) and is read tear-free by the
// controller.
type Gate struct {
	signal    *event.Signal
	connected atomic.Bool
	notifying atomic.Bool
	peer      atomic.Value // string
}

// NewGate creates a disconnected Gate posting to s.
func NewGate(s *event.Signal) *Gate {
	g := &Gate{signal: s}
	g.peer.Store("")
	return g
}

// IsConnected reports whether a peer is connected.
func (g *Gate) IsConnected() bool {
	return g.connected.Load()
}

// NotificationsEnabled reports whether the peer subscribed to TX.
func (g *Gate) NotificationsEnabled() bool {
	return g.notifying.Load()
}

// Peer returns the address of the connected peer, or "".
func (g *Gate) Peer() string {
	return g.peer.Load().(string)
}

// OnConnect marks the link connected and posts PeerConnected.
func (g *Gate) OnConnect(peer string) {
	g.peer.Store(peer)
	g.connected.Store(true)
	g.signal.Set(event.PeerConnected)
}

// OnDisconnect marks the link down, drops the subscription and posts
// PeerDisconnected.
func (g *Gate) OnDisconnect(peer string) {
	g.notifying.Store(false)
	g.connected.Store(false)
	g.peer.Store("")
	g.signal.Set(event.PeerDisconnected)
}

// OnSubscriptionChange records a CCC write. Only enabling posts
// NotificationsEnabled. A subscription while disconnected is ignored.
func (g *Gate) OnSubscriptionChange(enabled bool) {
	if enabled && !g.connected.Load() {
		return
	}
	g.notifying.Store(enabled)
	if enabled {
		g.signal.Set(event.NotificationsEnabled)
	}
}

package link

import (
	"errors"
	"sync"
)

// ErrNotSubscribed is returned by FakeStack.Notify when no client subscribed.
var ErrNotSubscribed = errors.New("link: no subscribed client")

// FakeStack records stack calls and lets tests drive the peer side.
//
// Peer behaviour can be scripted with the On* hooks, which run on a new
// goroutine after the corresponding call returns, the same way a real stack
// reports events from its own context.
type FakeStack struct {
	mu       sync.Mutex
	handlers Handlers

	advertising bool
	connected   bool
	subscribed  bool
	peer        string

	// Notifications contains every payload passed to Notify successfully.
	notifications [][]byte

	advertiseStarts int
	advertiseStops  int
	disconnects     int
	closed          bool

	// Scripted failures.
	AdvertiseError  error
	NotifyError     error
	DisconnectError error

	// Hooks for scripting the peer.
	OnAdvertise  func(f *FakeStack)
	OnNotify     func(f *FakeStack, data []byte)
	OnDisconnect func(f *FakeStack)
}

// NewFakeStack creates an idle FakeStack.
func NewFakeStack() *FakeStack {
	return &FakeStack{}
}

// SetHandlers installs the callbacks.
func (f *FakeStack) SetHandlers(h Handlers) {
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
}

// StartAdvertising records the call.
func (f *FakeStack) StartAdvertising() error {
	f.mu.Lock()
	if f.AdvertiseError != nil {
		err := f.AdvertiseError
		f.mu.Unlock()
		return err
	}
	f.advertising = true
	f.advertiseStarts++
	hook := f.OnAdvertise
	f.mu.Unlock()

	if hook != nil {
		go hook(f)
	}
	return nil
}

// StopAdvertising records the call.
func (f *FakeStack) StopAdvertising() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advertising {
		f.advertiseStops++
	}
	f.advertising = false
	return nil
}

// Notify records data if a client is subscribed.
func (f *FakeStack) Notify(data []byte) error {
	f.mu.Lock()
	if f.NotifyError != nil {
		err := f.NotifyError
		f.mu.Unlock()
		return err
	}
	if !f.subscribed {
		f.mu.Unlock()
		return ErrNotSubscribed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.notifications = append(f.notifications, cp)
	hook := f.OnNotify
	f.mu.Unlock()

	if hook != nil {
		go hook(f, cp)
	}
	return nil
}

// Disconnect records the call. The disconnect callback is delivered by the
// OnDisconnect hook, or by SimulateDisconnect.
func (f *FakeStack) Disconnect() error {
	f.mu.Lock()
	if f.DisconnectError != nil {
		err := f.DisconnectError
		f.mu.Unlock()
		return err
	}
	f.disconnects++
	hook := f.OnDisconnect
	f.mu.Unlock()

	if hook != nil {
		go hook(f)
	}
	return nil
}

// Close marks the stack closed.
func (f *FakeStack) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// SimulateConnect invokes OnConnect as the stack would.
func (f *FakeStack) SimulateConnect(peer string) {
	f.mu.Lock()
	f.connected = true
	f.peer = peer
	cb := f.handlers.OnConnect
	f.mu.Unlock()
	if cb != nil {
		cb(peer)
	}
}

// SimulateDisconnect drops the link and its subscription.
func (f *FakeStack) SimulateDisconnect() {
	f.mu.Lock()
	peer := f.peer
	f.connected = false
	f.subscribed = false
	f.peer = ""
	cb := f.handlers.OnDisconnect
	f.mu.Unlock()
	if cb != nil {
		cb(peer)
	}
}

// SimulateSubscribe writes the CCC descriptor as the peer would.
func (f *FakeStack) SimulateSubscribe(enabled bool) {
	f.mu.Lock()
	f.subscribed = enabled && f.connected
	cb := f.handlers.OnSubscriptionChange
	f.mu.Unlock()
	if cb != nil {
		cb(enabled)
	}
}

// SimulateWrite delivers a peer write to the RX characteristic.
func (f *FakeStack) SimulateWrite(data []byte) {
	f.mu.Lock()
	cb := f.handlers.OnWrite
	f.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Advertising reports whether advertising is active.
func (f *FakeStack) Advertising() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advertising
}

// AdvertiseStarts returns how many times advertising was started.
func (f *FakeStack) AdvertiseStarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advertiseStarts
}

// AdvertiseStops returns how many times active advertising was stopped.
func (f *FakeStack) AdvertiseStops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advertiseStops
}

// Disconnects returns how many disconnects were requested successfully.
func (f *FakeStack) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// Notifications returns a copy of the delivered payloads.
func (f *FakeStack) Notifications() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.notifications))
	copy(out, f.notifications)
	return out
}

// Closed reports whether Close was called.
func (f *FakeStack) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SetNotifyError changes the scripted Notify failure while running.
func (f *FakeStack) SetNotifyError(err error) {
	f.mu.Lock()
	f.NotifyError = err
	f.mu.Unlock()
}

// SetAdvertiseError changes the scripted StartAdvertising failure while running.
func (f *FakeStack) SetAdvertiseError(err error) {
	f.mu.Lock()
	f.AdvertiseError = err
	f.mu.Unlock()
}

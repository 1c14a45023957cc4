package central

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweeney/climate-sensor/internal/protocol"
)

// mockCharacteristic records writes and holds the subscriber.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	callback func([]byte)
	onWrite  func(data []byte)
	writeErr error
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		go hook(cp)
	}
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

// Notify delivers data to the subscriber.
func (c *mockCharacteristic) Notify(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// mockConnection simulates the sensor side of a link.
type mockConnection struct {
	mu           sync.Mutex
	rx           *mockCharacteristic
	tx           *mockCharacteristic
	disconnectCb func()
	disconnected bool
	missing      string // characteristic UUID that discovery fails for
	onSubscribed func(c *mockConnection)
}

func newMockConnection() *mockConnection {
	return &mockConnection{rx: &mockCharacteristic{}, tx: &mockCharacteristic{}}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	if serviceUUID != protocol.ServiceUUID || charUUID == c.missing {
		return nil, fmt.Errorf("mock: characteristic %s not found", charUUID)
	}
	switch charUUID {
	case protocol.RXCharUUID:
		return c.rx, nil
	case protocol.TXCharUUID:
		return &subscribeHook{mockCharacteristic: c.tx, conn: c}, nil
	}
	return nil, fmt.Errorf("mock: unknown characteristic %q", charUUID)
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect drops the link from the sensor side.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConnection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// subscribeHook runs the connection's onSubscribed script after Subscribe.
type subscribeHook struct {
	*mockCharacteristic
	conn *mockConnection
}

func (s *subscribeHook) Subscribe(cb func([]byte)) error {
	if err := s.mockCharacteristic.Subscribe(cb); err != nil {
		return err
	}
	if hook := s.conn.onSubscribed; hook != nil {
		go hook(s.conn)
	}
	return nil
}

// mockAdapter serves scripted devices and connections.
type mockAdapter struct {
	mu         sync.Mutex
	devices    []Device
	connection *mockConnection
	connectErr error
	enableErr  error
	connects   []string
}

func newMockAdapter(devices ...Device) *mockAdapter {
	return &mockAdapter{devices: devices, connection: newMockConnection()}
}

func (a *mockAdapter) Enable() error { return a.enableErr }

func (a *mockAdapter) Scan(ctx context.Context, serviceUUID string) (Device, error) {
	a.mu.Lock()
	if len(a.devices) > 0 {
		d := a.devices[0]
		a.devices = a.devices[1:]
		a.mu.Unlock()
		return d, nil
	}
	a.mu.Unlock()
	<-ctx.Done()
	return Device{}, ErrNotFound
}

func (a *mockAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects = append(a.connects, address)
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	return a.connection, nil
}

func (a *mockAdapter) Connects() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.connects...)
}

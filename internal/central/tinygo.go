package central

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinygoAdapter drives a local controller through tinygo.org/x/bluetooth
// (BlueZ on Linux, CoreBluetooth on macOS).
type TinygoAdapter struct {
	adapter *bluetooth.Adapter

	mu    sync.Mutex
	seen  map[string]bluetooth.Address // scan results by address string
	conns map[string]*tinygoConnection
}

// NewTinygoAdapter wraps the default adapter.
func NewTinygoAdapter() *TinygoAdapter {
	return &TinygoAdapter{
		adapter: bluetooth.DefaultAdapter,
		seen:    make(map[string]bluetooth.Address),
		conns:   make(map[string]*tinygoConnection),
	}
}

func (a *TinygoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.conns[id]
		delete(a.conns, id)
		a.mu.Unlock()
		if ok {
			conn.dropped()
		}
	})
	return nil
}

func (a *TinygoAdapter) Scan(ctx context.Context, serviceUUID string) (Device, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return Device{}, fmt.Errorf("central: parse service UUID: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	var found *Device
	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if found != nil || !result.HasServiceUUID(uuid) {
			return
		}
		addr := result.Address.String()
		a.mu.Lock()
		a.seen[addr] = result.Address
		a.mu.Unlock()
		found = &Device{Name: result.LocalName(), Address: addr, RSSI: int(result.RSSI)}
		_ = adapter.StopScan()
	})
	close(done)

	if found != nil {
		return *found, nil
	}
	if err != nil && ctx.Err() == nil {
		return Device{}, fmt.Errorf("central: scan: %w", err)
	}
	return Device{}, ErrNotFound
}

func (a *TinygoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	a.mu.Lock()
	addr, ok := a.seen[address]
	a.mu.Unlock()
	if !ok {
		addr.Set(address)
	}

	// Connect blocks with its own timeout; ctx only bounds our wait.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("central: connect to %s: %w", address, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("central: connect to %s: %w", address, r.err)
		}
		conn := &tinygoConnection{device: r.device}
		a.mu.Lock()
		a.conns[address] = conn
		a.mu.Unlock()
		return conn, nil
	}
}

var _ Adapter = (*TinygoAdapter)(nil)

type tinygoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinygoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	chUUID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("central: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("central: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{chUUID})
	if err != nil {
		return nil, fmt.Errorf("central: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("central: characteristic %s not found", charUUID)
	}
	return &tinygoCharacteristic{char: chars[0]}, nil
}

func (c *tinygoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	c.mu.Unlock()
}

func (c *tinygoConnection) dropped() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinygoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinygoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinygoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(cb)
}

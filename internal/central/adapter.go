// Package central implements the companion collector: it scans for climate
// sensors, subscribes to their readings, publishes them and acknowledges
// each delivery over the RX characteristic.
package central

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Adapter.Scan when no sensor advertised before
// the context expired.
var ErrNotFound = errors.New("central: no sensor found")

// Device is a discovered peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Characteristic is a remote GATT characteristic.
type Characteristic interface {
	// Write sends data without response.
	Write(data []byte) error
	// Subscribe enables notifications and delivers them to cb.
	Subscribe(cb func(data []byte)) error
}

// Connection is an established link to a peripheral.
type Connection interface {
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	Disconnect() error
	// OnDisconnect registers cb for when the peripheral drops the link.
	OnDisconnect(cb func())
}

// Adapter abstracts the local Bluetooth controller for testing.
type Adapter interface {
	Enable() error
	// Scan returns the first device advertising serviceUUID, or ErrNotFound
	// once ctx is done.
	Scan(ctx context.Context, serviceUUID string) (Device, error)
	Connect(ctx context.Context, address string) (Connection, error)
}

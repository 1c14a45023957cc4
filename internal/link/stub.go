//go:build !linux

package link

import "errors"

// BlueZConfig selects the controller and the advertised name.
type BlueZConfig struct {
	Adapter   string
	LocalName string
}

// BlueZStack is not available on non-Linux platforms.
type BlueZStack struct{}

// NewBlueZStack returns an error on non-Linux platforms.
func NewBlueZStack(cfg BlueZConfig) (*BlueZStack, error) {
	return nil, errors.New("link: bluez not supported on this platform (requires Linux)")
}

// SetHandlers is not implemented on non-Linux platforms.
func (s *BlueZStack) SetHandlers(h Handlers) {}

// StartAdvertising is not implemented on non-Linux platforms.
func (s *BlueZStack) StartAdvertising() error {
	return errors.New("link: not supported")
}

// StopAdvertising is not implemented on non-Linux platforms.
func (s *BlueZStack) StopAdvertising() error {
	return nil
}

// Notify is not implemented on non-Linux platforms.
func (s *BlueZStack) Notify(data []byte) error {
	return errors.New("link: not supported")
}

// Disconnect is not implemented on non-Linux platforms.
func (s *BlueZStack) Disconnect() error {
	return errors.New("link: not supported")
}

// Close is not implemented on non-Linux platforms.
func (s *BlueZStack) Close() error {
	return nil
}

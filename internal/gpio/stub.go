//go:build !linux

package gpio

import "errors"

// RealPowerLine is not available on non-Linux platforms.
type RealPowerLine struct{}

// NewRealPowerLine returns an error on non-Linux platforms.
func NewRealPowerLine(chipName string, pin int) (*RealPowerLine, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// On is not implemented on non-Linux platforms.
func (r *RealPowerLine) On() error {
	return errors.New("gpio: not supported")
}

// Off is not implemented on non-Linux platforms.
func (r *RealPowerLine) Off() error {
	return errors.New("gpio: not supported")
}

// IsOn is not implemented on non-Linux platforms.
func (r *RealPowerLine) IsOn() (bool, error) {
	return false, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealPowerLine) Close() error {
	return nil
}

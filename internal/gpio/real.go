//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealPowerLine drives a power-enable output using the Linux GPIO character device.
type RealPowerLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealPowerLine requests pin on chip as an output, initially inactive.
func NewRealPowerLine(chipName string, pin int) (*RealPowerLine, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("climate-sensor"))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request power pin %d: %w", pin, err)
	}

	return &RealPowerLine{chip: chip, line: line}, nil
}

// On drives the power pin high.
func (r *RealPowerLine) On() error {
	if err := r.line.SetValue(1); err != nil {
		return fmt.Errorf("set power pin: %w", err)
	}
	return nil
}

// Off drives the power pin low.
func (r *RealPowerLine) Off() error {
	if err := r.line.SetValue(0); err != nil {
		return fmt.Errorf("clear power pin: %w", err)
	}
	return nil
}

// IsOn reads back the power pin.
func (r *RealPowerLine) IsOn() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read power pin: %w", err)
	}
	return v == 1, nil
}

// Close releases GPIO resources.
// Reconfigures the pin to input with pull-down (matching Pi boot defaults)
// before closing so the sensor is left unpowered.
func (r *RealPowerLine) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure power pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close power pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

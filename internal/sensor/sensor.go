// Package sensor fetches temperature/humidity readings from an external driver.
// The real implementation reads the Linux hwmon interface of the kernel driver.
// The fake implementation allows testing without hardware.
package sensor

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrUnavailable means the driver is not ready (missing device, power off).
	ErrUnavailable = errors.New("sensor: device not ready")
	// ErrRead means triggering a sample or reading a channel failed.
	ErrRead = errors.New("sensor: read failed")
)

// Reading is one temperature/humidity sample. It is replaced wholesale on
// every successful fetch and never partially updated.
type Reading struct {
	Temperature float64 // °C
	Humidity    float64 // %RH
	Time        time.Time
}

// Hundredths returns the reading as transport values: ×100, rounded to the
// nearest integer and saturated to the int16 range.
func (r Reading) Hundredths() (temp, rh int16) {
	return toHundredths(r.Temperature), toHundredths(r.Humidity)
}

// FromHundredths rebuilds a Reading from its transport values.
func FromHundredths(temp, rh int16) Reading {
	return Reading{
		Temperature: float64(temp) / 100,
		Humidity:    float64(rh) / 100,
	}
}

func toHundredths(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	scaled := math.Round(v * 100)
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}

// Source fetches readings from a temperature/humidity part.
type Source interface {
	// Ready reports whether the driver can be sampled. Returns an error
	// wrapping ErrUnavailable otherwise.
	Ready() error

	// Fetch triggers a sample and reads back both channels. Either both
	// channels are obtained or an error wrapping ErrRead is returned.
	Fetch() (Reading, error)

	// Close releases driver resources.
	Close() error
}

// Package gpio drives the sensor power-enable line with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// PowerLine switches the supply of an external part.
type PowerLine interface {
	// On drives the line active.
	On() error

	// Off drives the line inactive.
	Off() error

	// IsOn reports the current logical level of the line.
	IsOn() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Defaults for the sensor power-enable line (BCM numbering).
const (
	DefaultChip     = "gpiochip0"
	DefaultPowerPin = 17
)

package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/climate-sensor/internal/gpio"
)

// Hwmon defaults for a Sensirion SHT4x bound to the kernel sht4x driver.
const (
	DefaultHwmonRoot = "/sys/class/hwmon"
	DefaultHwmonName = "sht4x"
)

const (
	tempChannel     = "temp1_input"
	humidityChannel = "humidity1_input"
)

// HwmonSource reads a temperature/humidity part through the Linux hwmon
// sysfs interface. The kernel driver performs the bus transaction; reading
// the temperature channel triggers a fresh measurement.
type HwmonSource struct {
	root  string
	name  string
	power gpio.PowerLine // optional
	now   func() time.Time

	// settle is how long to wait after switching power on.
	settle time.Duration
}

// HwmonOption configures a HwmonSource.
type HwmonOption func(*HwmonSource)

// WithPowerLine gates the sensor supply through line; Ready switches it on
// and waits settle before probing the device.
func WithPowerLine(line gpio.PowerLine, settle time.Duration) HwmonOption {
	return func(h *HwmonSource) {
		h.power = line
		h.settle = settle
	}
}

// WithClock overrides the time source used to stamp readings.
func WithClock(now func() time.Time) HwmonOption {
	return func(h *HwmonSource) {
		h.now = now
	}
}

// NewHwmonSource creates a source for the hwmon device called name under root.
// Discovery happens on every Ready call so a late-probing driver is picked up.
func NewHwmonSource(root, name string, opts ...HwmonOption) *HwmonSource {
	h := &HwmonSource{root: root, name: name, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Ready powers the part (when a power line is configured) and checks the
// driver has bound.
func (h *HwmonSource) Ready() error {
	if h.power != nil {
		on, err := h.power.IsOn()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !on {
			if err := h.power.On(); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			time.Sleep(h.settle)
		}
	}

	if _, err := h.device(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Fetch triggers a measurement and reads both channels.
func (h *HwmonSource) Fetch() (Reading, error) {
	dir, err := h.device()
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrRead, err)
	}

	temp, err := readMilli(filepath.Join(dir, tempChannel))
	if err != nil {
		return Reading{}, fmt.Errorf("%w: temperature: %v", ErrRead, err)
	}
	rh, err := readMilli(filepath.Join(dir, humidityChannel))
	if err != nil {
		return Reading{}, fmt.Errorf("%w: humidity: %v", ErrRead, err)
	}

	return Reading{Temperature: temp, Humidity: rh, Time: h.now()}, nil
}

// Close switches the part off and releases the power line.
func (h *HwmonSource) Close() error {
	if h.power == nil {
		return nil
	}
	return h.power.Close()
}

// device locates the hwmon directory whose name file matches h.name.
func (h *HwmonSource) device() (string, error) {
	entries, err := os.ReadDir(h.root)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", h.root, err)
	}
	for _, e := range entries {
		dir := filepath.Join(h.root, e.Name())
		b, err := os.ReadFile(filepath.Join(dir, "name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(b)) == h.name {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no hwmon device named %q under %s", h.name, h.root)
}

// readMilli parses a hwmon milli-unit value (e.g. "21340" = 21.34).
func readMilli(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return float64(v) / 1000, nil
}

package gpio

import "sync"

// FakePowerLine is a test double that records switching.
type FakePowerLine struct {
	mu sync.Mutex

	on bool

	// switches counts On/Off calls that changed the level
	switches int

	// closed tracks if Close was called
	closed bool

	// SetError, if set, will be returned by On and Off.
	SetError error

	// ReadError, if set, will be returned by IsOn.
	ReadError error
}

// NewFakePowerLine creates an inactive FakePowerLine.
func NewFakePowerLine() *FakePowerLine {
	return &FakePowerLine{}
}

// On drives the fake line active.
func (f *FakePowerLine) On() error {
	return f.set(true)
}

// Off drives the fake line inactive.
func (f *FakePowerLine) Off() error {
	return f.set(false)
}

func (f *FakePowerLine) set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	if f.on != on {
		f.switches++
	}
	f.on = on
	return nil
}

// IsOn returns the fake level.
func (f *FakePowerLine) IsOn() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return false, f.ReadError
	}
	return f.on, nil
}

// Close marks the line as closed and drops it to inactive.
func (f *FakePowerLine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.on = false
	return nil
}

// Switches returns how many times the level changed.
func (f *FakePowerLine) Switches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.switches
}

// Closed reports whether Close was called.
func (f *FakePowerLine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

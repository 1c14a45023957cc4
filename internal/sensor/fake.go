package sensor

import (
	"fmt"
	"sync"
	"time"
)

// FakeSource is a test double that returns scripted readings.
type FakeSource struct {
	mu sync.Mutex

	// Readings contains scripted readings. Each successful Fetch consumes
	// the next one; the last reading repeats once exhausted.
	Readings []Reading

	// FetchErrors, if non-empty, are returned by successive Fetch calls
	// before any reading is served. A nil entry lets that call succeed.
	FetchErrors []error

	// ReadyError, if set, is returned by Ready.
	ReadyError error

	index    int
	errIndex int
	fetches  int
	readies  int
	closed   bool
	now      func() time.Time
}

// NewFakeSource creates a FakeSource serving the given readings.
func NewFakeSource(readings ...Reading) *FakeSource {
	return &FakeSource{Readings: readings, now: time.Now}
}

// Ready returns ReadyError wrapped in ErrUnavailable.
func (f *FakeSource) Ready() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readies++
	if f.ReadyError != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, f.ReadyError)
	}
	return nil
}

// Fetch returns the next scripted error or reading.
func (f *FakeSource) Fetch() (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++

	if f.errIndex < len(f.FetchErrors) {
		err := f.FetchErrors[f.errIndex]
		f.errIndex++
		if err != nil {
			return Reading{}, fmt.Errorf("%w: %v", ErrRead, err)
		}
	}

	if len(f.Readings) == 0 {
		return Reading{}, fmt.Errorf("%w: no readings configured", ErrRead)
	}

	r := f.Readings[f.index]
	if f.index < len(f.Readings)-1 {
		f.index++
	}
	if r.Time.IsZero() {
		r.Time = f.now()
	}
	return r, nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Fetches returns how many times Fetch was called.
func (f *FakeSource) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// Readies returns how many times Ready was called.
func (f *FakeSource) Readies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readies
}

// Closed reports whether Close was called.
func (f *FakeSource) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Package status provides a thread-safe status tracker for the climate-sensor daemon.
// It is read by the HTTP handlers and used to build MQTT system payloads.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/climate-sensor/internal/sensor"
	"github.com/sweeney/climate-sensor/internal/session"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	ReportPeriod time.Duration
	IdleDelay    time.Duration
	HeartbeatMs  int64
	Adapter      string
	LocalName    string
	Broker       string
	HTTPAddr     string
	WSBroker     string // Websocket broker URL for browser MQTT (empty = disabled)
	CycleTopic   string // Topic the status page subscribes to for live updates
}

// LinkInfo is the BLE link state as seen by the daemon.
type LinkInfo struct {
	Connected  bool
	Subscribed bool
	Peer       string
}

// Counts summarises cycle outcomes since startup.
type Counts struct {
	Cycles    int
	Delivered int
	Failed    int
}

// LastCycle describes the most recent finished cycle.
type LastCycle struct {
	Number   uint64
	Finished time.Time
	State    session.State
	Error    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State         session.State
	Link          LinkInfo
	Reading       *sensor.Reading
	LastCycle     *LastCycle
	NextWake      time.Time
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetState records the controller state.
func (t *Tracker) SetState(s session.State) {
	t.mu.Lock()
	t.snap.State = s
	t.mu.Unlock()
}

// SetLink records the BLE link state.
func (t *Tracker) SetLink(info LinkInfo) {
	t.mu.Lock()
	t.snap.Link = info
	t.mu.Unlock()
}

// RecordOutcome folds a finished cycle into the counters.
func (t *Tracker) RecordOutcome(o session.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Counts.Cycles++
	if o.OK() {
		t.snap.Counts.Delivered++
	} else {
		t.snap.Counts.Failed++
	}
	if o.Reading != nil {
		r := *o.Reading
		t.snap.Reading = &r
	}
	last := &LastCycle{Number: o.Cycle, Finished: o.Finished, State: o.State}
	if o.Err != nil {
		last.Error = o.Err.Error()
	}
	t.snap.LastCycle = last
	t.snap.NextWake = o.NextWake
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/climate-sensor/internal/sensor"
	"github.com/sweeney/climate-sensor/internal/session"
)

// DefaultTopicPrefix is the topic root used when none is configured.
const DefaultTopicPrefix = "climate/sensor"

// Topics holds the topics a publisher writes to.
type Topics struct {
	Readings string // readings received by the collector
	Cycles   string // per-cycle outcomes from the peripheral
	System   string // lifecycle events and last will
}

// NewTopics derives the topic set from a prefix such as "climate/sensor".
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Readings: prefix + "/readings",
		Cycles:   prefix + "/cycles",
		System:   prefix + "/system",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishReading sends a reading received from peer.
	// Returns error if publishing fails (should not crash the process).
	PublishReading(peer string, r sensor.Reading) error

	// PublishCycle sends the outcome of one duty cycle.
	PublishCycle(o session.Outcome) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// ReadingJSON is a temperature/humidity pair.
type ReadingJSON struct {
	Temperature float64 `json:"temperature_c"`
	Humidity    float64 `json:"humidity_rh"`
}

// ReadingPayload represents the MQTT message payload for a reading.
type ReadingPayload struct {
	Reading ReadingInner `json:"reading"`
}

// ReadingInner contains the reading details.
type ReadingInner struct {
	Timestamp string `json:"timestamp"`
	Peer      string `json:"peer"`
	ReadingJSON
}

// FormatReadingPayload creates the JSON payload for a reading.
func FormatReadingPayload(peer string, r sensor.Reading) ([]byte, error) {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	payload := ReadingPayload{
		Reading: ReadingInner{
			Timestamp:   ts.UTC().Format(time.RFC3339),
			Peer:        peer,
			ReadingJSON: ReadingJSON{Temperature: r.Temperature, Humidity: r.Humidity},
		},
	}
	return json.Marshal(payload)
}

// CyclePayload represents the MQTT message payload for a cycle outcome.
type CyclePayload struct {
	Cycle CycleInner `json:"cycle"`
}

// CycleInner contains the cycle details.
type CycleInner struct {
	Timestamp           string       `json:"timestamp"`
	Number              uint64       `json:"number"`
	Result              string       `json:"result"`
	State               string       `json:"state"`
	Error               string       `json:"error,omitempty"`
	Peer                string       `json:"peer,omitempty"`
	DurationMs          int64        `json:"duration_ms"`
	Reading             *ReadingJSON `json:"reading,omitempty"`
	Acked               bool         `json:"acked"`
	DisconnectConfirmed bool         `json:"disconnect_confirmed"`
	NextWake            string       `json:"next_wake,omitempty"`
}

// FormatCyclePayload creates the JSON payload for a cycle outcome.
func FormatCyclePayload(o session.Outcome) ([]byte, error) {
	inner := CycleInner{
		Timestamp:           o.Finished.UTC().Format(time.RFC3339),
		Number:              o.Cycle,
		Result:              "OK",
		State:               o.State.String(),
		Peer:                o.Peer,
		DurationMs:          o.Finished.Sub(o.Started).Milliseconds(),
		Acked:               o.Acked,
		DisconnectConfirmed: o.DisconnectConfirmed,
	}
	if o.Err != nil {
		inner.Result = "FAILED"
		inner.Error = o.Err.Error()
	}
	if o.Reading != nil {
		inner.Reading = &ReadingJSON{Temperature: o.Reading.Temperature, Humidity: o.Reading.Humidity}
	}
	if !o.NextWake.IsZero() {
		inner.NextWake = o.NextWake.UTC().Format(time.RFC3339)
	}
	return json.Marshal(CyclePayload{Cycle: inner})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

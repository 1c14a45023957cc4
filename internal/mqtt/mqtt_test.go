package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/climate-sensor/internal/sensor"
	"github.com/sweeney/climate-sensor/internal/session"
)

func TestNewTopics(t *testing.T) {
	tests := []struct {
		prefix string
		want   Topics
	}{
		{"", Topics{"climate/sensor/readings", "climate/sensor/cycles", "climate/sensor/system"}},
		{"home/attic", Topics{"home/attic/readings", "home/attic/cycles", "home/attic/system"}},
		{"home/attic/", Topics{"home/attic/readings", "home/attic/cycles", "home/attic/system"}},
	}
	for _, tt := range tests {
		if got := NewTopics(tt.prefix); got != tt.want {
			t.Errorf("NewTopics(%q): got %+v, want %+v", tt.prefix, got, tt.want)
		}
	}
}

func TestFormatReadingPayload(t *testing.T) {
	r := sensor.Reading{
		Temperature: 21.34,
		Humidity:    55.12,
		Time:        time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
	}

	payload, err := FormatReadingPayload("AA:BB:CC:DD:EE:FF", r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"reading":{"timestamp":"2026-02-02T22:18:12Z","peer":"AA:BB:CC:DD:EE:FF","temperature_c":21.34,"humidity_rh":55.12}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatReadingPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	r := sensor.Reading{Temperature: -5, Time: time.Date(2026, 2, 2, 12, 0, 0, 0, loc)}

	payload, err := FormatReadingPayload("peer", r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed ReadingPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Reading.Timestamp != "2026-02-02T10:00:00Z" {
		t.Errorf("timestamp should be UTC, got %s", parsed.Reading.Timestamp)
	}
	if parsed.Reading.Temperature != -5 {
		t.Errorf("temperature: got %v, want -5", parsed.Reading.Temperature)
	}
}

func TestFormatCyclePayloadSuccess(t *testing.T) {
	started := time.Date(2026, 2, 3, 19, 5, 50, 0, time.UTC)
	o := session.Outcome{
		Cycle:               42,
		Started:             started,
		Finished:            started.Add(1500 * time.Millisecond),
		State:               session.Teardown,
		Peer:                "AA:BB",
		Reading:             &sensor.Reading{Temperature: 21.5, Humidity: 40},
		Acked:               true,
		DisconnectConfirmed: true,
		NextWake:            started.Add(16500 * time.Millisecond),
	}

	payload, err := FormatCyclePayload(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"cycle":{"timestamp":"2026-02-03T19:05:51Z","number":42,"result":"OK","state":"TEARDOWN","peer":"AA:BB","duration_ms":1500,"reading":{"temperature_c":21.5,"humidity_rh":40},"acked":true,"disconnect_confirmed":true,"next_wake":"2026-02-03T19:06:06Z"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatCyclePayloadFailure(t *testing.T) {
	finished := time.Date(2026, 2, 3, 19, 10, 0, 0, time.UTC)
	o := session.Outcome{
		Cycle:    7,
		Started:  finished.Add(-time.Minute),
		Finished: finished,
		State:    session.AwaitPeerReady,
		Err:      session.ErrConnectionTimeout,
	}

	payload, err := FormatCyclePayload(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	cycle := parsed["cycle"].(map[string]interface{})
	if cycle["result"] != "FAILED" {
		t.Errorf("result: got %v, want FAILED", cycle["result"])
	}
	if cycle["error"] != "timed out waiting for connection" {
		t.Errorf("error: got %v", cycle["error"])
	}
	for _, key := range []string{"reading", "peer", "next_wake"} {
		if _, exists := cycle[key]; exists {
			t.Errorf("%s should be omitted for a cycle that never connected", key)
		}
	}
}

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 19, 10, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T19:10:00Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload should pass through, got %s", payload)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"OFFLINE","reason":"MQTT_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadReconnectedOmitsReason(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	system := parsed["system"].(map[string]interface{})
	if _, exists := system["reason"]; exists {
		t.Error("RECONNECTED should not have reason field")
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	if err := f.PublishReading("peer", sensor.Reading{Temperature: 20}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishCycle(session.Outcome{Cycle: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.ReadingCount() != 1 || f.Peers[0] != "peer" {
		t.Errorf("readings: got %d, peers %v", f.ReadingCount(), f.Peers)
	}
	if f.CycleCount() != 1 || f.Cycles[0].Cycle != 1 {
		t.Errorf("cycles: got %d", f.CycleCount())
	}
	if len(f.Payloads) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(f.Payloads))
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.SetPublishError(errors.New("broker down"))

	if err := f.PublishReading("peer", sensor.Reading{}); err == nil {
		t.Error("expected error")
	}
	if err := f.PublishCycle(session.Outcome{}); err == nil {
		t.Error("expected error")
	}
	if f.ReadingCount() != 0 || f.CycleCount() != 0 {
		t.Error("failed publishes must not be recorded")
	}
}

func TestFakePublisherPublishSystem(t *testing.T) {
	f := NewFakePublisher()

	f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true})
	f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "HEARTBEAT"})

	names := f.SystemEventNames()
	if len(names) != 2 || names[0] != "STARTUP" || names[1] != "HEARTBEAT" {
		t.Errorf("system events: got %v", names)
	}
	if !f.SystemEvents[0].Retained || f.SystemEvents[1].Retained {
		t.Error("retained flag not preserved")
	}
	if len(f.SystemPayloads) != 2 {
		t.Errorf("expected 2 system payloads, got %d", len(f.SystemPayloads))
	}

	f.PublishSystemError = errors.New("broker down")
	if err := f.PublishSystem(SystemEvent{Event: "SHUTDOWN"}); err == nil {
		t.Error("expected error")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.PublishReading("peer", sensor.Reading{})
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.Close()
	f.Connected = true

	f.Reset()

	if f.ReadingCount() != 0 || len(f.SystemEvents) != 0 || len(f.Payloads) != 0 {
		t.Error("expected recorded events cleared")
	}
	if f.Closed || f.IsConnected() {
		t.Error("expected flags cleared")
	}
}

func TestPublisherInterfaces(t *testing.T) {
	var _ Publisher = (*FakePublisher)(nil)
	var _ ConnectionStatus = (*FakePublisher)(nil)
	var _ Publisher = (*RealPublisher)(nil)
	var _ ConnectionStatus = (*RealPublisher)(nil)
}

func TestNewRealPublisherRequiresBroker(t *testing.T) {
	if _, err := NewRealPublisher(Options{}); err == nil {
		t.Error("expected error for empty broker")
	}
}

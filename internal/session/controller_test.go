package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/climate-sensor/internal/event"
	"github.com/sweeney/climate-sensor/internal/link"
	"github.com/sweeney/climate-sensor/internal/notify"
	"github.com/sweeney/climate-sensor/internal/sensor"
)

// recorder is an Observer that records everything it sees.
type recorder struct {
	mu       sync.Mutex
	states   []State
	outcomes []Outcome
	done     chan Outcome
}

func newRecorder() *recorder {
	return &recorder{done: make(chan Outcome, 16)}
}

func (r *recorder) StateChanged(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) CycleComplete(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
	select {
	case r.done <- o:
	default:
	}
}

func (r *recorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func testTimings() Timings {
	t := DefaultTimings()
	t.ConnectWait = 200 * time.Millisecond
	t.SubscribeWait = 100 * time.Millisecond
	t.AckWait = 100 * time.Millisecond
	t.DisconnectWait = 100 * time.Millisecond
	return t
}

type harness struct {
	sc     *Context
	stack  *link.FakeStack
	source *sensor.FakeSource
	rec    *recorder
	ctrl   *Controller
}

func newHarness(t *testing.T, timings Timings, readings ...sensor.Reading) *harness {
	t.Helper()
	h := &harness{
		sc:     NewContext(timings),
		stack:  link.NewFakeStack(),
		source: sensor.NewFakeSource(readings...),
		rec:    newRecorder(),
	}
	h.ctrl = NewController(h.sc, h.stack, h.source, WithObserver(h.rec))
	t.Cleanup(h.sc.Timer.Stop)
	return h
}

// cooperativePeer scripts a central that connects, subscribes, acks every
// Ok notification and disconnects when asked.
func (h *harness) cooperativePeer() {
	h.stack.OnAdvertise = func(f *link.FakeStack) {
		f.SimulateConnect("AA:BB:CC:DD:EE:FF")
		f.SimulateSubscribe(true)
	}
	h.stack.OnNotify = func(f *link.FakeStack, data []byte) {
		if data[0] == 0x00 {
			f.SimulateWrite([]byte{0x00})
		}
	}
	h.stack.OnDisconnect = func(f *link.FakeStack) {
		f.SimulateDisconnect()
	}
}

func (h *harness) runCycle(t *testing.T) Outcome {
	t.Helper()
	h.sc.Signal.Set(event.TimerExpiry)
	out, err := h.ctrl.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	return out
}

func assertNextWake(t *testing.T, tm *event.Timer, after, period time.Duration) {
	t.Helper()
	if !tm.Armed() {
		t.Fatalf("expected timer armed for %s", after)
	}
	if d := time.Until(tm.Deadline()); d > after || d < after-time.Second {
		t.Errorf("next wake in %s, want ~%s", d, after)
	}
	if p := tm.Period(); p != period {
		t.Errorf("period: got %s, want %s", p, period)
	}
}

func TestCycleSuccess(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{Temperature: 21.34, Humidity: 55.12})
	h.cooperativePeer()

	out := h.runCycle(t)

	if !out.OK() {
		t.Fatalf("expected success, got %v", out.Err)
	}
	if !out.Acked || !out.DisconnectConfirmed {
		t.Errorf("acked=%v confirmed=%v, want both true", out.Acked, out.DisconnectConfirmed)
	}
	if out.State != Teardown {
		t.Errorf("final state: got %v, want TEARDOWN", out.State)
	}
	if out.Peer != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("peer: got %q", out.Peer)
	}
	if out.Reading == nil || out.Reading.Temperature != 21.34 {
		t.Errorf("reading: got %+v", out.Reading)
	}

	n := h.stack.Notifications()
	if len(n) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(n))
	}
	want := []byte{0x00, 0x08, 0x56, 0x15, 0x88}
	if string(n[0]) != string(want) {
		t.Errorf("payload: got % X, want % X", n[0], want)
	}
	if h.stack.Disconnects() != 1 {
		t.Errorf("disconnects: got %d, want 1", h.stack.Disconnects())
	}
	if h.stack.Advertising() {
		t.Error("advertising should be stopped after the cycle")
	}
	assertNextWake(t, h.sc.Timer, 15*time.Second, 0)

	if r := h.ctrl.LastReading(); r == nil || r.Humidity != 55.12 {
		t.Errorf("LastReading: got %+v", r)
	}
	if h.ctrl.State() != AwaitWake {
		t.Errorf("state after cycle: got %v, want AWAIT_WAKE", h.ctrl.State())
	}
}

func TestCycleStateSequence(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{Temperature: 20, Humidity: 50})
	h.cooperativePeer()

	h.runCycle(t)

	want := []State{Advertise, AwaitPeerReady, AwaitSensorReady, Sample, Deliver, AwaitAck, Teardown, AwaitWake}
	got := h.rec.States()
	if len(got) != len(want) {
		t.Fatalf("states: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCycleSensorFetchFailsThenRetries(t *testing.T) {
	timings := testTimings()
	timings.SensorRetry = 100 * time.Millisecond
	h := newHarness(t, timings, sensor.Reading{Temperature: 19.5, Humidity: 40})
	h.source.FetchErrors = []error{errors.New("crc mismatch")}

	var mu sync.Mutex
	subscribes := 0
	h.stack.OnAdvertise = func(f *link.FakeStack) {
		mu.Lock()
		first := subscribes == 0
		subscribes++
		mu.Unlock()
		if first {
			f.SimulateConnect("peer")
			f.SimulateSubscribe(true)
		}
	}
	h.stack.OnNotify = func(f *link.FakeStack, data []byte) {
		if data[0] == 0x00 {
			f.SimulateWrite([]byte{0x00})
		}
	}
	h.stack.OnDisconnect = func(f *link.FakeStack) { f.SimulateDisconnect() }

	first := h.runCycle(t)
	if !errors.Is(first.Err, ErrSensorRead) || !errors.Is(first.Err, sensor.ErrRead) {
		t.Fatalf("expected ErrSensorRead, got %v", first.Err)
	}
	n := h.stack.Notifications()
	if len(n) != 1 || len(n[0]) != 1 || n[0][0] != 0x01 {
		t.Fatalf("expected a single WAIT notification, got % X", n)
	}
	if p := h.sc.Timer.Period(); p != 0 || !h.sc.Timer.Armed() {
		t.Errorf("expected one-shot retry, armed=%v period=%s", h.sc.Timer.Armed(), p)
	}
	if !h.sc.Gate.NotificationsEnabled() {
		t.Fatal("subscription should survive a sensor failure")
	}

	// The retry timer provides the next wake; no new subscription is made.
	second, err := h.ctrl.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !second.OK() {
		t.Fatalf("expected success on retry, got %v", second.Err)
	}
	if h.source.Fetches() != 2 {
		t.Errorf("fetches: got %d, want 2", h.source.Fetches())
	}
	if len(h.stack.Notifications()) != 2 {
		t.Errorf("notifications: got %d, want 2", len(h.stack.Notifications()))
	}
}

func TestCycleNoPeerConnects(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{})

	start := time.Now()
	out := h.runCycle(t)
	elapsed := time.Since(start)

	if !errors.Is(out.Err, ErrConnectionTimeout) {
		t.Fatalf("expected ErrConnectionTimeout, got %v", out.Err)
	}
	if elapsed < 200*time.Millisecond {
		t.Errorf("gave up after %s, before the connect wait", elapsed)
	}
	if h.source.Readies() != 0 || h.source.Fetches() != 0 {
		t.Error("sensor must not be touched without a peer")
	}
	if h.stack.Advertising() || h.stack.AdvertiseStops() != 1 {
		t.Errorf("expected advertising stopped once, stops=%d", h.stack.AdvertiseStops())
	}
	if h.sc.Timer.Armed() {
		t.Error("timer should stay idle")
	}
}

func TestCycleStaleConnectEventIgnored(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{})
	// Left over from a peer that has since gone away.
	h.sc.Signal.Set(event.PeerConnected)

	out := h.runCycle(t)
	if !errors.Is(out.Err, ErrConnectionTimeout) {
		t.Fatalf("expected ErrConnectionTimeout, got %v", out.Err)
	}
}

func TestCycleSubscriptionTimeout(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{})
	h.stack.OnAdvertise = func(f *link.FakeStack) { f.SimulateConnect("peer") }

	out := h.runCycle(t)

	if !errors.Is(out.Err, ErrSubscriptionTimeout) {
		t.Fatalf("expected ErrSubscriptionTimeout, got %v", out.Err)
	}
	if out.State != AwaitPeerReady {
		t.Errorf("final state: got %v, want AWAIT_PEER_READY", out.State)
	}
	if h.stack.Advertising() {
		t.Error("advertising should be stopped")
	}
	if h.source.Readies() != 0 {
		t.Error("sensor must not be touched without a subscription")
	}
}

func TestCycleSensorUnavailable(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{})
	h.cooperativePeer()
	h.source.ReadyError = errors.New("no device")

	out := h.runCycle(t)

	if !errors.Is(out.Err, ErrSensorUnavailable) || !errors.Is(out.Err, sensor.ErrUnavailable) {
		t.Fatalf("expected ErrSensorUnavailable, got %v", out.Err)
	}
	n := h.stack.Notifications()
	if len(n) != 1 || n[0][0] != 0xFF {
		t.Errorf("expected ERROR notification, got % X", n)
	}
	if h.source.Fetches() != 0 {
		t.Error("fetch must not run when the sensor is not ready")
	}
	if h.sc.Timer.Armed() {
		t.Error("timer should stay idle without a stall retry")
	}
}

func TestCycleDeliveryFailure(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{Temperature: 20})
	h.cooperativePeer()
	h.stack.NotifyError = errors.New("link busy")

	out := h.runCycle(t)

	if !errors.Is(out.Err, ErrDelivery) || !errors.Is(out.Err, notify.ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", out.Err)
	}
	if out.Reading == nil {
		t.Error("reading should be recorded even when delivery fails")
	}
	assertNextWake(t, h.sc.Timer, 15*time.Second, 15*time.Second)
}

func TestCycleAckTimeout(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{Temperature: 20})
	h.cooperativePeer()
	h.stack.OnNotify = nil
	// An ack from a previous exchange must not count.
	h.sc.Signal.Set(event.PeerAckReceived)

	out := h.runCycle(t)

	if !errors.Is(out.Err, ErrAckTimeout) {
		t.Fatalf("expected ErrAckTimeout, got %v", out.Err)
	}
	if h.stack.Disconnects() != 0 {
		t.Error("no disconnect without an acknowledgement")
	}
	assertNextWake(t, h.sc.Timer, 15*time.Second, 15*time.Second)
}

func TestCycleAdvertiseFailure(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{})
	h.stack.AdvertiseError = errors.New("controller busy")

	out := h.runCycle(t)

	if !errors.Is(out.Err, ErrAdvertise) {
		t.Fatalf("expected ErrAdvertise, got %v", out.Err)
	}
	if h.sc.Timer.Armed() {
		t.Error("advertise failure leaves the timer idle by default")
	}
}

func TestCycleStallRetry(t *testing.T) {
	timings := testTimings()
	timings.StallRetry = 10 * time.Second
	h := newHarness(t, timings, sensor.Reading{})
	h.stack.AdvertiseError = errors.New("controller busy")

	out := h.runCycle(t)

	if !errors.Is(out.Err, ErrAdvertise) {
		t.Fatalf("expected ErrAdvertise, got %v", out.Err)
	}
	assertNextWake(t, h.sc.Timer, 10*time.Second, 0)
	if out.NextWake.IsZero() {
		t.Error("outcome should report the next wake")
	}
}

func TestCycleDisconnectFailure(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{Temperature: 20})
	h.cooperativePeer()
	h.stack.DisconnectError = errors.New("not connected")

	out := h.runCycle(t)

	if !errors.Is(out.Err, ErrDisconnect) {
		t.Fatalf("expected ErrDisconnect, got %v", out.Err)
	}
	if !out.Acked {
		t.Error("reading was acknowledged before the disconnect failed")
	}
	// The acknowledgement already restored the report period.
	assertNextWake(t, h.sc.Timer, time.Minute, time.Minute)
}

func TestCycleDisconnectConfirmTimeout(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{Temperature: 20})
	h.cooperativePeer()
	h.stack.OnDisconnect = nil

	out := h.runCycle(t)

	if !out.OK() {
		t.Fatalf("missing confirmation should not fail the cycle: %v", out.Err)
	}
	if out.DisconnectConfirmed {
		t.Error("expected unconfirmed disconnect")
	}
	if h.stack.Advertising() {
		t.Error("advertising should be stopped")
	}
	assertNextWake(t, h.sc.Timer, 15*time.Second, 0)
}

func TestRunCycleCancelledWhileIdle(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := h.ctrl.RunCycle(ctx)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunCycle did not return after cancel")
	}
	if h.stack.AdvertiseStarts() != 0 {
		t.Error("no advertising without a wake")
	}
}

func TestRunArmsStartupWakeAndStops(t *testing.T) {
	h := newHarness(t, testTimings(), sensor.Reading{Temperature: 22, Humidity: 45})
	h.cooperativePeer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- h.ctrl.Run(ctx) }()

	select {
	case out := <-h.rec.done:
		if !out.OK() {
			t.Errorf("first cycle failed: %v", out.Err)
		}
		if out.Cycle != 1 {
			t.Errorf("cycle number: got %d, want 1", out.Cycle)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle completed after startup")
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if h.sc.Timer.Armed() {
		t.Error("timer should be stopped after Run")
	}
	if h.stack.Advertising() {
		t.Error("advertising should be stopped after Run")
	}
}

func TestStateString(t *testing.T) {
	if AwaitAck.String() != "AWAIT_ACK" {
		t.Errorf("got %q", AwaitAck.String())
	}
	if State(42).String() != "STATE(42)" {
		t.Errorf("got %q", State(42).String())
	}
}

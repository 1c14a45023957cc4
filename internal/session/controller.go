package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/climate-sensor/internal/event"
	"github.com/sweeney/climate-sensor/internal/link"
	"github.com/sweeney/climate-sensor/internal/notify"
	"github.com/sweeney/climate-sensor/internal/protocol"
	"github.com/sweeney/climate-sensor/internal/sensor"
)

// State is a step of the duty cycle.
type State int

const (
	AwaitWake State = iota
	Advertise
	AwaitPeerReady
	AwaitSensorReady
	Sample
	Deliver
	AwaitAck
	Teardown
)

func (s State) String() string {
	switch s {
	case AwaitWake:
		return "AWAIT_WAKE"
	case Advertise:
		return "ADVERTISE"
	case AwaitPeerReady:
		return "AWAIT_PEER_READY"
	case AwaitSensorReady:
		return "AWAIT_SENSOR_READY"
	case Sample:
		return "SAMPLE"
	case Deliver:
		return "DELIVER"
	case AwaitAck:
		return "AWAIT_ACK"
	case Teardown:
		return "TEARDOWN"
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// Cycle errors. All of them are recovered by the controller.
var (
	ErrAdvertise                = errors.New("advertise failed")
	ErrConnectionTimeout        = errors.New("timed out waiting for connection")
	ErrSubscriptionTimeout      = errors.New("timed out waiting for notification enable")
	ErrSensorUnavailable        = errors.New("sensor not available")
	ErrSensorRead               = errors.New("sensor read failed")
	ErrDelivery                 = errors.New("notification delivery failed")
	ErrAckTimeout               = errors.New("timed out waiting for acknowledgement")
	ErrDisconnect               = errors.New("disconnect request failed")
	ErrDisconnectConfirmTimeout = errors.New("timed out waiting for disconnect")
)

// Outcome summarises one duty cycle.
type Outcome struct {
	Cycle    uint64
	Started  time.Time
	Finished time.Time

	// State is the last state the cycle reached.
	State State
	Err   error

	Peer    string
	Reading *sensor.Reading
	Acked   bool

	// DisconnectConfirmed is false when the peer did not confirm the
	// disconnect in time; the cycle still counts as a success.
	DisconnectConfirmed bool

	// NextWake is the timer deadline after the cycle, zero if idle.
	NextWake time.Time
}

// OK reports whether the reading was delivered and acknowledged.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Observer receives controller progress. Calls happen on the controller
// goroutine and must not block.
type Observer interface {
	StateChanged(s State)
	CycleComplete(o Outcome)
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers o for state and outcome updates.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// Controller runs the duty cycle on a single goroutine.
type Controller struct {
	sc      *Context
	stack   link.Stack
	source  sensor.Source
	channel *notify.Channel

	observer Observer

	mu      sync.RWMutex
	state   State
	reading *sensor.Reading
	cycles  uint64
}

// NewController wires the controller to its collaborators and attaches the
// stack's callbacks to sc.
func NewController(sc *Context, stack link.Stack, source sensor.Source, opts ...Option) *Controller {
	c := &Controller{
		sc:      sc,
		stack:   stack,
		source:  source,
		channel: notify.NewChannel(stack, sc.Gate),
	}
	for _, opt := range opts {
		opt(c)
	}
	sc.Attach(stack)
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastReading returns the most recent successful reading, or nil.
func (c *Controller) LastReading() *sensor.Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reading
}

// Run arms the first wake and runs cycles until ctx is done. On return
// advertising and the timer are stopped.
func (c *Controller) Run(ctx context.Context) error {
	c.sc.Timer.Arm(c.sc.Timings.StartupDelay, 0)
	defer func() {
		c.sc.Timer.Stop()
		if err := c.stack.StopAdvertising(); err != nil {
			log.Printf("session: stop advertising: %v", err)
		}
	}()

	for {
		if _, err := c.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// RunCycle waits for the next timer expiry and runs one cycle. The
// returned error is non-nil only when ctx ends; cycle failures are reported
// in the Outcome.
func (c *Controller) RunCycle(ctx context.Context) (Outcome, error) {
	c.setState(AwaitWake)
	if _, err := c.sc.Signal.WaitAny(ctx, event.TimerExpiry, event.Forever); err != nil {
		return Outcome{}, err
	}

	c.mu.Lock()
	c.cycles++
	out := Outcome{Cycle: c.cycles, Started: time.Now()}
	c.mu.Unlock()

	out.Err = c.cycle(ctx, &out)
	if err := ctx.Err(); err != nil {
		return out, err
	}

	if out.Err != nil {
		log.Printf("session: cycle %d failed in %s: %v", out.Cycle, out.State, out.Err)
		if !c.sc.Timer.Armed() && c.sc.Timings.StallRetry > 0 {
			log.Printf("session: timer idle, next wake in %s", c.sc.Timings.StallRetry)
			c.sc.Timer.Arm(c.sc.Timings.StallRetry, 0)
		}
	}

	out.Finished = time.Now()
	out.NextWake = c.sc.Timer.Deadline()
	c.setState(AwaitWake)
	if c.observer != nil {
		c.observer.CycleComplete(out)
	}
	return out, nil
}

func (c *Controller) cycle(ctx context.Context, out *Outcome) error {
	t := c.sc.Timings

	c.enter(out, Advertise)
	if err := c.stack.StartAdvertising(); err != nil {
		return fmt.Errorf("%w: %w", ErrAdvertise, err)
	}

	c.enter(out, AwaitPeerReady)
	if err := c.waitUntil(ctx, event.PeerConnected, t.ConnectWait, c.sc.Gate.IsConnected); err != nil {
		c.stopAdvertising()
		return timeoutAs(err, ErrConnectionTimeout)
	}
	out.Peer = c.sc.Gate.Peer()
	if err := c.waitUntil(ctx, event.NotificationsEnabled, t.SubscribeWait, c.sc.Gate.NotificationsEnabled); err != nil {
		c.stopAdvertising()
		return timeoutAs(err, ErrSubscriptionTimeout)
	}

	c.enter(out, AwaitSensorReady)
	if err := c.source.Ready(); err != nil {
		c.sendBestEffort(protocol.StatusError)
		return fmt.Errorf("%w: %w", ErrSensorUnavailable, err)
	}

	c.enter(out, Sample)
	reading, err := c.source.Fetch()
	if err != nil {
		c.sendBestEffort(protocol.StatusWait)
		c.sc.Timer.Arm(t.SensorRetry, 0)
		return fmt.Errorf("%w: %w", ErrSensorRead, err)
	}
	out.Reading = &reading
	c.mu.Lock()
	c.reading = &reading
	c.mu.Unlock()

	c.enter(out, Deliver)
	// An ack left over from an earlier cycle must not satisfy this one.
	c.sc.Signal.Clear(event.PeerAckReceived)
	if err := c.channel.Send(protocol.StatusOK, &reading); err != nil {
		c.sc.Timer.Arm(t.DeliveryRetry, t.DeliveryRetry)
		return errors.Join(ErrDelivery, err)
	}
	log.Printf("session: sent %.2f°C %.2f%%RH", reading.Temperature, reading.Humidity)

	c.enter(out, AwaitAck)
	if _, err := c.sc.Signal.WaitAny(ctx, event.PeerAckReceived, t.AckWait); err != nil {
		if ctx.Err() == nil {
			c.sc.Timer.Arm(t.DeliveryRetry, t.DeliveryRetry)
		}
		return timeoutAs(err, ErrAckTimeout)
	}
	out.Acked = true

	c.enter(out, Teardown)
	c.sc.Signal.Clear(event.PeerDisconnected)
	if err := c.stack.Disconnect(); err != nil {
		return fmt.Errorf("%w: %w", ErrDisconnect, err)
	}
	disconnected := func() bool { return !c.sc.Gate.IsConnected() }
	switch err := c.waitUntil(ctx, event.PeerDisconnected, t.DisconnectWait, disconnected); {
	case err == nil:
		out.DisconnectConfirmed = true
	case ctx.Err() != nil:
		return err
	default:
		log.Printf("session: %v, continuing", ErrDisconnectConfirmTimeout)
	}
	c.stopAdvertising()
	c.sc.Timer.Arm(t.IdleDelay, 0)
	return nil
}

// waitUntil waits up to timeout for cond to hold, re-checking it each time
// ev is posted. A stale ev with cond still false keeps waiting.
func (c *Controller) waitUntil(ctx context.Context, ev event.Event, timeout time.Duration, cond func() bool) error {
	deadline := time.Now().Add(timeout)
	for !cond() {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		if _, err := c.sc.Signal.WaitAny(ctx, ev, remaining); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) enter(out *Outcome, s State) {
	out.State = s
	c.setState(s)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.observer != nil {
		c.observer.StateChanged(s)
	}
}

func (c *Controller) stopAdvertising() {
	if err := c.stack.StopAdvertising(); err != nil {
		log.Printf("session: stop advertising: %v", err)
	}
}

func (c *Controller) sendBestEffort(status protocol.Status) {
	if err := c.channel.Send(status, nil); err != nil {
		log.Printf("session: send %s: %v", status, err)
	}
}

// timeoutAs maps event.ErrTimeout to the cycle sentinel and passes context
// errors through.
func timeoutAs(err, sentinel error) error {
	if errors.Is(err, event.ErrTimeout) {
		return sentinel
	}
	return err
}

// Package session runs the peripheral's duty cycle: wake, advertise, wait
// for a subscribed peer, sample, deliver, wait for the acknowledgement and
// tear the link down again.
//
// All state shared with stack callbacks lives in one Context. Callbacks only
// update the link Gate, post events and reprogram the timer; everything that
// blocks runs on the controller goroutine.
package session

import (
	"log"
	"time"

	"github.com/sweeney/climate-sensor/internal/event"
	"github.com/sweeney/climate-sensor/internal/link"
	"github.com/sweeney/climate-sensor/internal/protocol"
)

// Timings holds every wait and re-arm interval used by the controller.
type Timings struct {
	ConnectWait    time.Duration // advertise → peer connected
	SubscribeWait  time.Duration // connected → notifications enabled
	AckWait        time.Duration // notification → peer acknowledgement
	DisconnectWait time.Duration // disconnect request → confirmation
	SensorRetry    time.Duration // one-shot after a failed fetch
	DeliveryRetry  time.Duration // periodic after a failed send or missing ack
	IdleDelay      time.Duration // one-shot after a complete cycle
	RetryDelay     time.Duration // first wake after a peer retry request
	ReportPeriod   time.Duration // nominal reporting period
	StartupDelay   time.Duration // first wake after Run starts

	// StallRetry re-arms a one-shot wake when a cycle fails and leaves the
	// timer idle. Zero keeps the timer idle until a peer write re-arms it.
	StallRetry time.Duration
}

// DefaultTimings returns the firmware timings.
func DefaultTimings() Timings {
	return Timings{
		ConnectWait:    60 * time.Second,
		SubscribeWait:  5 * time.Second,
		AckWait:        5 * time.Second,
		DisconnectWait: 5 * time.Second,
		SensorRetry:    5 * time.Second,
		DeliveryRetry:  15 * time.Second,
		IdleDelay:      15 * time.Second,
		RetryDelay:     1 * time.Second,
		ReportPeriod:   1 * time.Minute,
	}
}

// Context owns the process-wide session state: the event signal, the
// duty-cycle timer and the link gate. It is created once and reused by
// every cycle.
type Context struct {
	Signal  *event.Signal
	Timer   *event.Timer
	Gate    *link.Gate
	Timings Timings
}

// NewContext creates an idle Context.
func NewContext(t Timings) *Context {
	s := event.NewSignal()
	return &Context{
		Signal:  s,
		Timer:   event.NewTimer(s),
		Gate:    link.NewGate(s),
		Timings: t,
	}
}

// Attach routes the stack's callbacks into this Context.
func (c *Context) Attach(stack link.Stack) {
	stack.SetHandlers(link.Handlers{
		OnConnect: func(peer string) {
			log.Printf("session: peer %s connected", peer)
			c.Gate.OnConnect(peer)
		},
		OnDisconnect: func(peer string) {
			log.Printf("session: peer %s disconnected", peer)
			c.Gate.OnDisconnect(peer)
		},
		OnSubscriptionChange: func(enabled bool) {
			if enabled {
				log.Printf("session: notifications enabled")
			} else {
				log.Printf("session: notifications disabled")
			}
			c.Gate.OnSubscriptionChange(enabled)
		},
		OnWrite: c.HandleWrite,
	})
}

// HandleWrite processes a peer write to the inbound characteristic.
//
// An acknowledgement posts PeerAckReceived and restores the nominal report
// period. A retry request schedules a wake after RetryDelay, then resumes the
// report period. Anything else is ignored.
func (c *Context) HandleWrite(data []byte) {
	ack, err := protocol.DecodeAck(data)
	if err != nil {
		log.Printf("session: ignoring peer write: %v", err)
		return
	}

	switch ack {
	case protocol.AckReceived:
		// Re-arm before posting so the controller's post-cycle schedule
		// always lands after this one.
		c.Timer.Arm(c.Timings.ReportPeriod, c.Timings.ReportPeriod)
		c.Signal.Set(event.PeerAckReceived)
	case protocol.AckRetry:
		log.Printf("session: peer requested retry in %s", c.Timings.RetryDelay)
		c.Timer.Arm(c.Timings.RetryDelay, c.Timings.ReportPeriod)
	}
}

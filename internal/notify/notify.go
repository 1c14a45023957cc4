// Package notify builds status+reading payloads and hands them to the link
// for delivery to the one subscribed client.
package notify

import (
	"errors"
	"fmt"

	"github.com/sweeney/climate-sensor/internal/protocol"
	"github.com/sweeney/climate-sensor/internal/sensor"
)

var (
	// ErrDelivery wraps every transmission failure.
	ErrDelivery = errors.New("notify: delivery failed")

	// ErrNoSubscriber is returned when no client has enabled notifications.
	ErrNoSubscriber = errors.New("notify: no subscribed client")
)

// Sender transmits bytes on the outbound characteristic.
type Sender interface {
	Notify(data []byte) error
}

// Subscription reports whether the peer enabled notifications.
type Subscription interface {
	NotificationsEnabled() bool
}

// Channel is the outbound notification path. It never retries.
type Channel struct {
	sender Sender
	sub    Subscription
}

// NewChannel creates a Channel sending through s, gated on sub.
func NewChannel(s Sender, sub Subscription) *Channel {
	return &Channel{sender: s, sub: sub}
}

// Send encodes status and, for StatusOK, the reading, and transmits it.
// An Ok send without a reading returns protocol.ErrMissingReading unwrapped
// since it is a caller bug rather than a delivery failure.
func (c *Channel) Send(status protocol.Status, r *sensor.Reading) error {
	payload, err := protocol.EncodeNotification(status, r)
	if err != nil {
		return err
	}
	if !c.sub.NotificationsEnabled() {
		return fmt.Errorf("%w: %s: %w", ErrDelivery, status, ErrNoSubscriber)
	}
	if err := c.sender.Notify(payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDelivery, status, err)
	}
	return nil
}

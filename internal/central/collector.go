package central

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/climate-sensor/internal/protocol"
	"github.com/sweeney/climate-sensor/internal/sensor"
)

// ErrSessionTimeout is returned by Collect when the sensor neither reported
// nor disconnected within Options.SessionTimeout.
var ErrSessionTimeout = errors.New("central: session timed out")

// ReadingPublisher forwards decoded readings. mqtt.Publisher satisfies it.
type ReadingPublisher interface {
	PublishReading(peer string, r sensor.Reading) error
}

// Options configures the collector.
type Options struct {
	ScanWindow     time.Duration // how long one scan runs before rescanning
	SessionTimeout time.Duration // bound on one connection
	Name           string        // only collect from this local name when set
}

// DefaultOptions returns the collector defaults.
func DefaultOptions() Options {
	return Options{
		ScanWindow:     10 * time.Second,
		SessionTimeout: 30 * time.Second,
	}
}

// Reply is the collector's decision for one notification.
type Reply struct {
	Status  protocol.Status
	Reading *sensor.Reading
	Ack     protocol.Ack
	Send    bool // whether Ack is written back
}

// Result summarises one connection.
type Result struct {
	Peer      string
	Readings  int
	Retries   int
	LastState protocol.Status
}

// Collector drives sensors through one report each.
type Collector struct {
	adapter Adapter
	pub     ReadingPublisher
	opts    Options
}

// NewCollector creates a Collector. Zero option fields take defaults.
func NewCollector(a Adapter, pub ReadingPublisher, opts Options) *Collector {
	def := DefaultOptions()
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = def.ScanWindow
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = def.SessionTimeout
	}
	return &Collector{adapter: a, pub: pub, opts: opts}
}

// Respond decodes a notification from peer and decides the reply. Ok
// readings are published and acknowledged, or retried when publishing
// fails. Wait and Error are logged and not answered.
func (c *Collector) Respond(peer string, data []byte) Reply {
	status, r, err := protocol.DecodeNotification(data)
	if err != nil {
		log.Printf("central: %s: bad notification % X: %v", peer, data, err)
		return Reply{Status: status}
	}

	switch status {
	case protocol.StatusWait:
		log.Printf("central: %s: sensor busy, waiting", peer)
		return Reply{Status: status}
	case protocol.StatusError:
		log.Printf("central: %s: sensor reports error", peer)
		return Reply{Status: status}
	}

	log.Printf("central: %s: %.2f°C %.2f%%RH", peer, r.Temperature, r.Humidity)
	reply := Reply{Status: status, Reading: r, Ack: protocol.AckReceived, Send: true}
	if c.pub == nil {
		return reply
	}
	if err := c.pub.PublishReading(peer, *r); err != nil {
		log.Printf("central: %s: publish failed, requesting retry: %v", peer, err)
		reply.Ack = protocol.AckRetry
	}
	return reply
}

// Collect connects to address and serves notifications until the sensor
// disconnects, reports an error, or the session times out.
func (c *Collector) Collect(ctx context.Context, address string) (Result, error) {
	res := Result{Peer: address}

	conn, err := c.adapter.Connect(ctx, address)
	if err != nil {
		return res, err
	}

	dropped := make(chan struct{})
	var once sync.Once
	conn.OnDisconnect(func() { once.Do(func() { close(dropped) }) })

	rx, err := conn.DiscoverCharacteristic(protocol.ServiceUUID, protocol.RXCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return res, fmt.Errorf("central: rx characteristic: %w", err)
	}
	tx, err := conn.DiscoverCharacteristic(protocol.ServiceUUID, protocol.TXCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return res, fmt.Errorf("central: tx characteristic: %w", err)
	}

	notes := make(chan []byte, 8)
	err = tx.Subscribe(func(data []byte) {
		cp := make([]byte, len(data))
		copy(cp, data)
		select {
		case notes <- cp:
		default:
			log.Printf("central: %s: notification dropped, queue full", address)
		}
	})
	if err != nil {
		_ = conn.Disconnect()
		return res, fmt.Errorf("central: subscribe: %w", err)
	}
	log.Printf("central: %s: subscribed", address)

	timeout := time.NewTimer(c.opts.SessionTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Disconnect()
			return res, ctx.Err()
		case <-dropped:
			log.Printf("central: %s: disconnected", address)
			return res, nil
		case <-timeout.C:
			_ = conn.Disconnect()
			return res, ErrSessionTimeout
		case data := <-notes:
			reply := c.Respond(address, data)
			res.LastState = reply.Status
			if reply.Send {
				if reply.Ack == protocol.AckRetry {
					res.Retries++
				} else {
					res.Readings++
				}
				if err := rx.Write([]byte{byte(reply.Ack)}); err != nil {
					log.Printf("central: %s: write %s failed: %v", address, reply.Ack, err)
				}
			}
			if reply.Status == protocol.StatusError {
				_ = conn.Disconnect()
				return res, nil
			}
		}
	}
}

// Run scans and collects until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("central: enable adapter: %w", err)
	}
	log.Printf("central: scanning for %s", protocol.ServiceUUID)

	for ctx.Err() == nil {
		scanCtx, cancel := context.WithTimeout(ctx, c.opts.ScanWindow)
		dev, err := c.adapter.Scan(scanCtx, protocol.ServiceUUID)
		cancel()
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			log.Printf("central: scan: %v", err)
			if !sleepCtx(ctx, time.Second) {
				break
			}
			continue
		}
		if c.opts.Name != "" && dev.Name != c.opts.Name {
			continue
		}

		log.Printf("central: found %q at %s (rssi %d)", dev.Name, dev.Address, dev.RSSI)
		res, err := c.Collect(ctx, dev.Address)
		if err != nil && ctx.Err() == nil {
			log.Printf("central: %s: %v", dev.Address, err)
			continue
		}
		log.Printf("central: %s: session done, %d readings, %d retries", res.Peer, res.Readings, res.Retries)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

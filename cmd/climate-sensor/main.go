// Command climate-sensor runs the BLE temperature/humidity peripheral: it
// wakes periodically, hands one reading to a connected collector and
// publishes cycle telemetry to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/climate-sensor/internal/config"
	"github.com/sweeney/climate-sensor/internal/gpio"
	"github.com/sweeney/climate-sensor/internal/link"
	"github.com/sweeney/climate-sensor/internal/mqtt"
	"github.com/sweeney/climate-sensor/internal/sensor"
	"github.com/sweeney/climate-sensor/internal/session"
	"github.com/sweeney/climate-sensor/internal/status"
	"github.com/sweeney/climate-sensor/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (default "+config.DefaultPath+" if present)")
	printReading := flag.Bool("print-reading", false, "Read the sensor once, print it and exit")
	printConfig := flag.Bool("print-config", false, "Print the effective config and exit")

	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if *printConfig {
		out, err := cfg.Marshal()
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		os.Stdout.Write(out)
		return
	}

	if err := run(cfg, *printReading); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig reads path, or DefaultPath when path is empty and the file
// exists, falling back to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config, printReading bool) error {
	// Sensor, with its optional power-enable line
	var opts []sensor.HwmonOption
	if cfg.Sensor.PowerPin >= 0 {
		line, err := gpio.NewRealPowerLine(cfg.Sensor.PowerChip, cfg.Sensor.PowerPin)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer line.Close()
		opts = append(opts, sensor.WithPowerLine(line, cfg.Sensor.PowerSettle))
	}
	source := sensor.NewHwmonSource(cfg.Sensor.HwmonRoot, cfg.Sensor.HwmonName, opts...)
	defer source.Close()

	if printReading {
		if err := source.Ready(); err != nil {
			return err
		}
		r, err := source.Fetch()
		if err != nil {
			return err
		}
		temp, rh := r.Hundredths()
		fmt.Printf("Temperature: %.2f°C (%d), Humidity: %.2f%%RH (%d)\n", r.Temperature, temp, r.Humidity, rh)
		return nil
	}

	stack, err := link.NewBlueZStack(link.BlueZConfig{
		Adapter:   cfg.BLE.Adapter,
		LocalName: cfg.BLE.LocalName,
	})
	if err != nil {
		return fmt.Errorf("init bluetooth: %w", err)
	}
	defer stack.Close()

	// MQTT is optional; an empty broker disables it.
	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	cycleTopic := ""
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
		cycleTopic = p.Topics().Cycles
	}

	// Status tracker (before STARTUP so the snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		ReportPeriod: cfg.Session.ReportPeriod,
		IdleDelay:    cfg.Session.IdleDelay,
		HeartbeatMs:  cfg.Heartbeat.Milliseconds(),
		Adapter:      cfg.BLE.Adapter,
		LocalName:    cfg.BLE.LocalName,
		Broker:       cfg.MQTT.Broker,
		HTTPAddr:     cfg.HTTPAddr,
		WSBroker:     cfg.WSBrokerURL(),
		CycleTopic:   cycleTopic,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	sc := session.NewContext(cfg.Timings())
	obs := newLoopObserver()
	ctrl := session.NewController(sc, stack, source, session.WithObserver(obs))

	publishSystem(publisher, tracker, mqttStatus, "STARTUP", "")

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	log.Printf("started: adapter=%s name=%q period=%v broker=%s heartbeat=%v",
		cfg.BLE.Adapter, cfg.BLE.LocalName, cfg.Session.ReportPeriod, cfg.MQTT.Broker, cfg.Heartbeat)

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	loopErr := runLoop(obs, sc.Gate, publisher, mqttStatus, tracker, heartbeat, sigCh)

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("controller stopped: %v", err)
	}
	return loopErr
}

// loopObserver forwards controller progress to runLoop without blocking
// the controller goroutine.
type loopObserver struct {
	states   chan session.State
	outcomes chan session.Outcome
}

func newLoopObserver() *loopObserver {
	return &loopObserver{
		states:   make(chan session.State, 16),
		outcomes: make(chan session.Outcome, 4),
	}
}

func (o *loopObserver) StateChanged(s session.State) {
	select {
	case o.states <- s:
	default:
	}
}

func (o *loopObserver) CycleComplete(out session.Outcome) {
	select {
	case o.outcomes <- out:
	default:
		log.Printf("cycle %d outcome dropped, status loop busy", out.Cycle)
	}
}

func runLoop(obs *loopObserver, gate *link.Gate, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			publishSystem(publisher, tracker, mqttStatus, "SHUTDOWN", signalName)
			return nil

		case s := <-obs.states:
			tracker.SetState(s)
			tracker.SetLink(linkInfo(gate))

		case o := <-obs.outcomes:
			if o.OK() {
				r := o.Reading
				log.Printf("cycle %d: delivered %.2f°C %.2f%%RH to %s", o.Cycle, r.Temperature, r.Humidity, o.Peer)
			} else {
				log.Printf("cycle %d: failed in %s: %v", o.Cycle, o.State, o.Err)
			}
			tracker.RecordOutcome(o)
			tracker.SetLink(linkInfo(gate))
			if publisher != nil {
				if err := publisher.PublishCycle(o); err != nil {
					// Don't crash on publish failure
					log.Printf("publish error: %v", err)
				}
			}

		case <-heartbeat:
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				tracker.SetNetwork(net)
			}
			tracker.SetLink(linkInfo(gate))
			snap := tracker.Snapshot()
			log.Printf("heartbeat: uptime=%v state=%s cycles=%d delivered=%d failed=%d",
				snap.Uptime().Truncate(time.Second), snap.State, snap.Counts.Cycles, snap.Counts.Delivered, snap.Counts.Failed)
			publishSystem(publisher, tracker, mqttStatus, "HEARTBEAT", "")
		}
	}
}

// publishSystem sends a lifecycle event carrying the full status snapshot.
// STARTUP and SHUTDOWN are retained; heartbeats are not.
func publishSystem(publisher mqtt.Publisher, tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus, name, reason string) {
	if publisher == nil {
		return
	}
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	snap := tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      name,
		Reason:     reason,
		Retained:   name != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, name, reason),
	}
	if err := publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish %s event: %v", name, err)
		return
	}
	if name != "HEARTBEAT" {
		log.Printf("published %s event", name)
	}
}

func linkInfo(g *link.Gate) status.LinkInfo {
	return status.LinkInfo{
		Connected:  g.IsConnected(),
		Subscribed: g.NotificationsEnabled(),
		Peer:       g.Peer(),
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// Command climate-collector is the central side of the climate sensor link:
// it scans for sensors, receives their readings, publishes them to MQTT and
// acknowledges each delivery.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/sweeney/climate-sensor/internal/central"
	"github.com/sweeney/climate-sensor/internal/mqtt"
)

// CLI is the collector's command line.
type CLI struct {
	Broker      string        `help:"MQTT broker address (empty logs readings only)." default:"tcp://192.168.1.200:1883" env:"COLLECTOR_BROKER"`
	ClientID    string        `help:"MQTT client ID." default:"climate-collector"`
	TopicPrefix string        `help:"MQTT topic prefix." default:"climate/sensor"`
	Name        string        `help:"Only collect from sensors advertising this local name."`
	ScanWindow  time.Duration `help:"Length of one scan before rescanning." default:"10s"`
	Timeout     time.Duration `help:"Maximum length of one sensor session." default:"30s"`
}

// options converts the flags for central.NewCollector.
func (c *CLI) options() central.Options {
	return central.Options{
		ScanWindow:     c.ScanWindow,
		SessionTimeout: c.Timeout,
		Name:           c.Name,
	}
}

// Run is invoked by kong after parsing.
func (c *CLI) Run() error {
	var pub central.ReadingPublisher
	if c.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      c.Broker,
			ClientID:    c.ClientID,
			TopicPrefix: c.TopicPrefix,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		pub = p
		log.Printf("publishing readings to %s on %s", c.Broker, p.Topics().Readings)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := central.NewCollector(central.NewTinygoAdapter(), pub, c.options())
	if err := collector.Run(ctx); err != nil {
		return err
	}
	log.Printf("shutting down")
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("climate-collector"),
		kong.Description("Collect readings from climate sensors over BLE and publish them to MQTT."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run())
}

// Package config loads the climate-sensor daemon configuration from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/climate-sensor/internal/gpio"
	"github.com/sweeney/climate-sensor/internal/sensor"
	"github.com/sweeney/climate-sensor/internal/session"
)

// DefaultPath is where the daemon looks for its config file.
const DefaultPath = "/etc/climate-sensor/config.yaml"

// maxLocalName is the longest name that fits the advertising payload next
// to the 128-bit service UUID.
const maxLocalName = 29

// Config holds all daemon configuration.
type Config struct {
	BLE       BLEConfig     `yaml:"ble"`
	Sensor    SensorConfig  `yaml:"sensor"`
	Session   SessionConfig `yaml:"session"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	HTTPAddr  string        `yaml:"http_addr"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// BLEConfig selects the Bluetooth controller.
type BLEConfig struct {
	Adapter   string `yaml:"adapter"`
	LocalName string `yaml:"local_name"`
}

// SensorConfig locates the hwmon device and its power line.
type SensorConfig struct {
	HwmonRoot   string        `yaml:"hwmon_root"`
	HwmonName   string        `yaml:"hwmon_name"`
	PowerChip   string        `yaml:"power_chip"`
	PowerPin    int           `yaml:"power_pin"` // -1 disables the power line
	PowerSettle time.Duration `yaml:"power_settle"`
}

// SessionConfig holds the duty-cycle timings.
type SessionConfig struct {
	ReportPeriod   time.Duration `yaml:"report_period"`
	StartupDelay   time.Duration `yaml:"startup_delay"`
	ConnectWait    time.Duration `yaml:"connect_wait"`
	SubscribeWait  time.Duration `yaml:"subscribe_wait"`
	AckWait        time.Duration `yaml:"ack_wait"`
	DisconnectWait time.Duration `yaml:"disconnect_wait"`
	SensorRetry    time.Duration `yaml:"sensor_retry"`
	DeliveryRetry  time.Duration `yaml:"delivery_retry"`
	IdleDelay      time.Duration `yaml:"idle_delay"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	StallRetry     time.Duration `yaml:"stall_retry"` // 0 disables
}

// MQTTConfig holds broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	WSBroker    string `yaml:"ws_broker"` // "=broker" derives from broker, "" disables
}

// Default returns a Config with the firmware timings and Raspberry Pi
// hardware defaults.
func Default() *Config {
	t := session.DefaultTimings()
	return &Config{
		BLE: BLEConfig{
			Adapter:   "hci0",
			LocalName: "climate-sensor",
		},
		Sensor: SensorConfig{
			HwmonRoot:   sensor.DefaultHwmonRoot,
			HwmonName:   sensor.DefaultHwmonName,
			PowerChip:   gpio.DefaultChip,
			PowerPin:    gpio.DefaultPowerPin,
			PowerSettle: 10 * time.Millisecond,
		},
		Session: SessionConfig{
			ReportPeriod:   t.ReportPeriod,
			StartupDelay:   t.StartupDelay,
			ConnectWait:    t.ConnectWait,
			SubscribeWait:  t.SubscribeWait,
			AckWait:        t.AckWait,
			DisconnectWait: t.DisconnectWait,
			SensorRetry:    t.SensorRetry,
			DeliveryRetry:  t.DeliveryRetry,
			IdleDelay:      t.IdleDelay,
			RetryDelay:     t.RetryDelay,
			StallRetry:     t.ReportPeriod,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://192.168.1.200:1883",
			ClientID:    "climate-sensor",
			TopicPrefix: "climate/sensor",
			WSBroker:    "=broker",
		},
		HTTPAddr:  ":80",
		Heartbeat: 15 * time.Minute,
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.BLE.Adapter == "" {
		return fmt.Errorf("ble.adapter must not be empty")
	}
	if c.BLE.LocalName == "" || len(c.BLE.LocalName) > maxLocalName {
		return fmt.Errorf("ble.local_name must be 1-%d bytes, got %q", maxLocalName, c.BLE.LocalName)
	}

	if c.Sensor.HwmonRoot == "" || c.Sensor.HwmonName == "" {
		return fmt.Errorf("sensor.hwmon_root and sensor.hwmon_name must not be empty")
	}
	if c.Sensor.PowerPin < -1 {
		return fmt.Errorf("sensor.power_pin must be >= -1, got %d", c.Sensor.PowerPin)
	}
	if c.Sensor.PowerSettle < 0 {
		return fmt.Errorf("sensor.power_settle must be >= 0")
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"session.report_period", c.Session.ReportPeriod},
		{"session.connect_wait", c.Session.ConnectWait},
		{"session.subscribe_wait", c.Session.SubscribeWait},
		{"session.ack_wait", c.Session.AckWait},
		{"session.disconnect_wait", c.Session.DisconnectWait},
		{"session.sensor_retry", c.Session.SensorRetry},
		{"session.delivery_retry", c.Session.DeliveryRetry},
		{"session.idle_delay", c.Session.IdleDelay},
		{"session.retry_delay", c.Session.RetryDelay},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be > 0, got %s", p.name, p.d)
		}
	}
	if c.Session.StartupDelay < 0 {
		return fmt.Errorf("session.startup_delay must be >= 0")
	}
	if c.Session.StallRetry < 0 {
		return fmt.Errorf("session.stall_retry must be >= 0")
	}

	if c.MQTT.Broker != "" {
		if _, err := url.Parse(c.MQTT.Broker); err != nil {
			return fmt.Errorf("mqtt.broker: %w", err)
		}
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must be >= 0")
	}
	return nil
}

// Timings converts the session section for the controller.
func (c *Config) Timings() session.Timings {
	s := c.Session
	return session.Timings{
		ConnectWait:    s.ConnectWait,
		SubscribeWait:  s.SubscribeWait,
		AckWait:        s.AckWait,
		DisconnectWait: s.DisconnectWait,
		SensorRetry:    s.SensorRetry,
		DeliveryRetry:  s.DeliveryRetry,
		IdleDelay:      s.IdleDelay,
		RetryDelay:     s.RetryDelay,
		ReportPeriod:   s.ReportPeriod,
		StartupDelay:   s.StartupDelay,
		StallRetry:     s.StallRetry,
	}
}

// WSBrokerURL converts mqtt.ws_broker into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; empty or
// "off" disables.
func (c *Config) WSBrokerURL() string {
	ws := c.MQTT.WSBroker
	if ws == "" || ws == "off" || c.MQTT.Broker == "" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(c.MQTT.Broker)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}

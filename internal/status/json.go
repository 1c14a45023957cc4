package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	State         string         `json:"state"`
	Link          LinkJSON       `json:"link"`
	Reading       *ReadingJSON   `json:"reading,omitempty"`
	LastCycle     *LastCycleJSON `json:"last_cycle,omitempty"`
	NextWake      string         `json:"next_wake,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        CountsJSON     `json:"cycle_counts"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// LinkJSON is the JSON representation of the BLE link.
type LinkJSON struct {
	Connected  bool   `json:"connected"`
	Subscribed bool   `json:"subscribed"`
	Peer       string `json:"peer,omitempty"`
}

// ReadingJSON is the JSON representation of the last reading.
type ReadingJSON struct {
	Temperature float64 `json:"temperature_c"`
	Humidity    float64 `json:"humidity_rh"`
	Timestamp   string  `json:"timestamp"`
}

// LastCycleJSON is the JSON representation of the last cycle.
type LastCycleJSON struct {
	Number   uint64 `json:"number"`
	Finished string `json:"finished"`
	State    string `json:"state"`
	Error    string `json:"error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of cycle counts.
type CountsJSON struct {
	Cycles    int `json:"cycles"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	ReportPeriodSeconds int64  `json:"report_period_seconds"`
	IdleDelaySeconds    int64  `json:"idle_delay_seconds"`
	HeartbeatMs         int64  `json:"heartbeat_ms"`
	Adapter             string `json:"adapter"`
	LocalName           string `json:"local_name"`
	Broker              string `json:"broker"`
	HTTPAddr            string `json:"http_addr"`
	WSBroker            string `json:"ws_broker,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		State: snap.State.String(),
		Link: LinkJSON{
			Connected:  snap.Link.Connected,
			Subscribed: snap.Link.Subscribed,
			Peer:       snap.Link.Peer,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Cycles:    snap.Counts.Cycles,
			Delivered: snap.Counts.Delivered,
			Failed:    snap.Counts.Failed,
		},
		Config: ConfigJSON{
			ReportPeriodSeconds: int64(snap.Config.ReportPeriod.Seconds()),
			IdleDelaySeconds:    int64(snap.Config.IdleDelay.Seconds()),
			HeartbeatMs:         snap.Config.HeartbeatMs,
			Adapter:             snap.Config.Adapter,
			LocalName:           snap.Config.LocalName,
			Broker:              snap.Config.Broker,
			HTTPAddr:            snap.Config.HTTPAddr,
			WSBroker:            snap.Config.WSBroker,
		},
	}
	if !snap.NextWake.IsZero() {
		inner.NextWake = snap.NextWake.UTC().Format(time.RFC3339)
	}
	if r := snap.Reading; r != nil {
		inner.Reading = &ReadingJSON{
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Timestamp:   r.Time.UTC().Format(time.RFC3339),
		}
	}
	if c := snap.LastCycle; c != nil {
		inner.LastCycle = &LastCycleJSON{
			Number:   c.Number,
			Finished: c.Finished.UTC().Format(time.RFC3339),
			State:    c.State.String(),
			Error:    c.Error,
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

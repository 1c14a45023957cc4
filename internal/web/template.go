package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/climate-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Climate Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.failed { color: red; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Climate Sensor{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Reading</h2>
<table>
{{if .Reading}}<tr><th>Temperature</th><td id="temperature">{{printf "%.2f" .Reading.Temperature}} &deg;C</td></tr>
<tr><th>Humidity</th><td id="humidity">{{printf "%.2f" .Reading.Humidity}} %RH</td></tr>
<tr><th>Sampled</th><td id="sampled">{{stamp .Reading.Time}}</td></tr>
{{else}}<tr><th>Temperature</th><td id="temperature" class="unknown">UNKNOWN</td></tr>
<tr><th>Humidity</th><td id="humidity" class="unknown">UNKNOWN</td></tr>
{{end}}</table>

<h2>Session</h2>
<table>
<tr><th>State</th><td id="state">{{.State}}</td></tr>
<tr><th>Next wake</th><td>{{stamp .NextWake}}</td></tr>
{{if .LastCycle}}<tr><th>Last cycle</th><td id="last-cycle" class="{{if .LastCycle.Error}}failed{{else}}ok{{end}}">#{{.LastCycle.Number}} {{if .LastCycle.Error}}{{.LastCycle.Error}}{{else}}OK{{end}}</td></tr>
<tr><th>Finished</th><td>{{stamp .LastCycle.Finished}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>BLE peer</th><td class="{{if .Link.Connected}}connected{{else}}disconnected{{end}}">{{if .Link.Connected}}{{.Link.Peer}}{{if .Link.Subscribed}} (subscribed){{end}}{{else}}none{{end}}</td></tr>
<tr><th>Adapter</th><td>{{.Config.Adapter}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Cycle Counts</h2>
<table>
<tr><th>Cycles</th><td>{{.Counts.Cycles}}</td></tr>
<tr><th>Delivered</th><td>{{.Counts.Delivered}}</td></tr>
<tr><th>Failed</th><td>{{.Counts.Failed}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Report period</th><td>{{.Config.ReportPeriod}}</td></tr>
<tr><th>Idle delay</th><td>{{.Config.IdleDelay}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">status JSON</a> &middot; <a href="/reading.json">reading JSON</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.Config.CycleTopic}}";
  var dot = document.getElementById("live-dot");
  var tempEl = document.getElementById("temperature");
  var rhEl = document.getElementById("humidity");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.cycle && msg.cycle.reading) {
        tempEl.textContent = msg.cycle.reading.temperature_c.toFixed(2) + " °C";
        rhEl.textContent = msg.cycle.reading.humidity_rh.toFixed(2) + " %RH";
        tempEl.className = "";
        rhEl.className = "";
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render: %v", err)
	}
}

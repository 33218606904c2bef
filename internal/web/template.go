package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/coldwatch/internal/logic"
	"github.com/sweeney/coldwatch/internal/status"
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
	"level": func(l logic.Level) string {
		if l == "" {
			return "unknown"
		}
		return string(l)
	},
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>ColdWatch</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.normal { color: green; }
.warning { color: orange; font-weight: bold; }
.critical { color: red; font-weight: bold; }
.unknown { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>ColdWatch<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Sensors</h2>
{{if .HasReading}}
<table>
<tr><th>Overall</th><td id="overall" class="{{level .Status.Overall}}">{{level .Status.Overall}}</td></tr>
<tr><th>Temperature</th><td id="temperature" class="{{level .Status.Temperature}}">{{printf "%.1f" .Reading.Temperature}}°C</td></tr>
<tr><th>Humidity</th><td id="humidity" class="{{level .Status.Humidity}}">{{printf "%.1f" .Reading.Humidity}}%</td></tr>
<tr><th>Gas</th><td id="gas" class="{{level .Status.Gas}}">{{.Reading.Gas}} ppm</td></tr>
<tr><th>Entry</th><td id="entry">{{.Reading.EntryID}}</td></tr>
<tr><th>Last update</th><td id="last-update">{{stamp .LastUpdate}}</td></tr>
</table>
{{else}}
<p class="unknown">No reading yet.</p>
{{end}}

<h2>Thresholds</h2>
<table>
<tr><th></th><th>Warning</th><th>Critical</th></tr>
<tr><th>Temperature</th><td>{{.Thresholds.Temperature.Warning}}</td><td>{{.Thresholds.Temperature.Critical}}</td></tr>
<tr><th>Humidity</th><td>{{.Thresholds.Humidity.Warning}}</td><td>{{.Thresholds.Humidity.Critical}}</td></tr>
<tr><th>Gas</th><td>{{.Thresholds.Gas.Warning}}</td><td>{{.Thresholds.Gas.Critical}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Monitoring</th><td>{{if .Running}}running{{else}}stopped{{end}}</td></tr>
<tr><th>ThingSpeak</th><td class="{{if .Connected}}connected{{else}}disconnected{{end}}">{{if .Connected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Activity</h2>
<table>
<tr><th>Readings</th><td>{{.Counts.Readings}}</td></tr>
<tr><th>Breaches</th><td>{{.Counts.Breaches}}</td></tr>
<tr><th>Alerts</th><td>{{.Counts.Alerts}}</td></tr>
<tr><th>Last alert</th><td>{{stamp .LastAlert}}</td></tr>
<tr><th>Sessions</th><td>{{.Sessions}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Channel</th><td>{{.Config.Channel}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Store</th><td>{{.Config.StoreBackend}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var fields = ["temperature", "humidity", "gas", "overall"];

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss:" : "ws:";
    var ws = new WebSocket(proto + "//" + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        var p = msg.payload;
        if (!p || !p.reading) { return; }
        var values = {
          temperature: p.reading.temperature.toFixed(1) + "°C",
          humidity: p.reading.humidity.toFixed(1) + "%",
          gas: p.reading.gas + " ppm",
          overall: p.status.overall
        };
        fields.forEach(function(f) {
          var el = document.getElementById(f);
          if (!el) { return; }
          el.textContent = values[f];
          el.className = p.status[f];
        });
      } catch (e) {}
    };
  }
  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Live   bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Live:     live,
	}
	indexTmpl.Execute(w, data)
}

package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/sonoff-relay/internal/logic"
	"github.com/sweeney/sonoff-relay/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime":  formatUptime,
	"celsius": formatCelsius,
}).Parse(indexHTML))

func formatCelsius(c *float64) string {
	if c == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f °C", *c)
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d.Hours()) / 24
	h := int(d.Hours()) % 24
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Config.Name}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
button { font-family: monospace; margin-right: 0.5em; }
</style>
</head>
<body>
<h1>{{.Config.Name}}</h1>

<h2>Relay</h2>
<table>
<tr><th>State</th><td id="relay-state" class="{{.StateClass}}">{{.StateText}}</td></tr>
<tr><th>Ready</th><td>{{if .Initialised}}yes{{else}}no{{end}}</td></tr>
<tr><th>Discovery</th><td>{{if .Discovered}}announced{{else}}pending{{end}}</td></tr>
{{if .Temperature}}<tr><th>Temperature</th><td>{{celsius .Temperature}}</td></tr>{{end}}
</table>
<p>
<button onclick="relay('ON')">ON</button>
<button onclick="relay('OFF')">OFF</button>
<button onclick="relay('TOGGLE')">TOGGLE</button>
</p>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counts</h2>
<table>
<tr><th>Button presses</th><td>{{.Counts.ButtonPresses}}</td></tr>
<tr><th>Suppressed presses</th><td>{{.Counts.SuppressedPushes}}</td></tr>
<tr><th>Remote commands</th><td>{{.Counts.RemoteCommands}}</td></tr>
<tr><th>Relay ON</th><td>{{.Counts.RelayOn}}</td></tr>
<tr><th>Relay OFF</th><td>{{.Counts.RelayOff}}</td></tr>
<tr><th>Saves</th><td>{{.Counts.Saves}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>GPIO</th><td>{{.Config.GPIOBackend}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Suppress</th><td>{{.Config.SuppressMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
function relay(cmd) {
  fetch("/relay", { method: "POST", body: cmd }).then(function() {
    setTimeout(function() { location.reload(); }, 300);
  });
}
</script>
</body>
</html>
`

type pageData struct {
	status.Snapshot
	Uptime     time.Duration
	StateText  string
	StateClass string
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := pageData{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		StateText:  "UNKNOWN",
		StateClass: "unknown",
	}
	if snap.Initialised && snap.Relay != "" {
		data.StateText = string(snap.Relay)
		if snap.Relay == logic.StateOn {
			data.StateClass = "on"
		} else {
			data.StateClass = "off"
		}
	}
	return indexTmpl.Execute(w, data)
}

package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/status"
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
	"seconds": func(d time.Duration) int64 {
		return int64(d / time.Second)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sprinkler Controller</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Sprinkler Controller</h1>

<h2>Controller</h2>
<table>
<tr><th>Mode</th><td id="mode">{{.Mode}}</td></tr>
<tr><th>Schedules</th><td class="{{if .Enabled}}on{{else}}off{{end}}">{{if .Enabled}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>Next event</th><td id="pending">{{if .Pending.IsNone}}none{{else}}zone{{.Pending.ZoneID}} {{.Pending.Type}} at {{stamp .Pending.FireAt}}{{end}}</td></tr>
<tr><th>Next wake</th><td>{{stamp .NextWake}}</td></tr>
<tr><th>Last pass</th><td>{{stamp .LastPass}}</td></tr>
</table>

<h2>Zones</h2>
<table>
<tr><th>Zone</th><th>Pin</th><th>State</th><th>Schedule</th><th>Duration</th><th>Stops</th></tr>
{{range .Zones}}<tr id="{{.Name}}">
<td>{{.Name}}</td><td>{{.Pin}}</td>
<td class="{{if .Active}}on{{else}}off{{end}}">{{if .Active}}on{{else}}off{{end}}</td>
<td>{{if .Cron}}{{.Cron}}{{else}}-{{end}}</td>
<td>{{seconds .Duration}}s</td>
<td>{{if .Active}}{{stamp .StopsAt}}{{else}}-{{end}}</td>
</tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Topics</th><td>{{.Config.TopicPrefix}}/#</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Activations</th><td>{{.Counts.Activations}}</td></tr>
<tr><th>Discarded starts</th><td>{{.Counts.Discarded}}</td></tr>
<tr><th>Tick</th><td>{{seconds .Config.TickInterval}}s</td></tr>
<tr><th>Max sleep</th><td>{{seconds .Config.MaxSleep}}s</td></tr>
<tr><th>Store</th><td>{{.Config.Store}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
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
	indexTmpl.Execute(w, data)
}

package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/droplet/internal/status"
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
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Droplet</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.controls { display: flex; gap: 1em; align-items: center; margin: 1em 0; }
.controls button { font-family: monospace; font-size: 1.1em; padding: 0.4em 1.2em; }
#panel-status { font-size: 1.3em; font-weight: bold; }
.open { color: green; font-weight: bold; }
.closed { color: #888; }
.error { color: red; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Droplet</h1>

<div class="controls">
<label><input type="checkbox" id="priming" name="on" value="true"{{if .Panel.Priming}} checked{{end}}> Priming</label>
<button id="droplet" type="button"{{if not .Panel.DropletEnabled}} disabled{{end}}>Droplet</button>
<span id="panel-status">{{.Panel.Status}}</span>
</div>
<p id="panel-error" class="error">{{.Panel.Error}}</p>

<h2>Valve</h2>
<table>
<tr><th>State</th><td id="valve-state" class="{{if eq (printf "%s" .Valve) "OPEN"}}open{{else}}closed{{end}}">{{.Valve}}</td></tr>
<tr><th>Pulse</th><td>{{.Config.PulseMs}}ms</td></tr>
<tr><th>Opens</th><td>{{.Counts.Opens}}</td></tr>
<tr><th>Closes</th><td>{{.Counts.Closes}}</td></tr>
<tr><th>Droplets</th><td>{{.Counts.Pulses}}</td></tr>
<tr><th>Write errors</th><td>{{.Counts.WriteErrors}}</td></tr>
{{if .LastError}}<tr><th>Last error</th><td class="error">{{.LastError}}</td></tr>{{end}}
</table>

<h2>Board</h2>
<table>
<tr><th>Driver</th><td>{{.Board.Driver}}</td></tr>
{{if .Board.Port}}<tr><th>Port</th><td>{{.Board.Port}}</td></tr>{{end}}
<tr><th>Pin</th><td>{{.Board.Pin}}</td></tr>
{{if .Board.Firmware}}<tr><th>Firmware</th><td>{{.Board.Firmware}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/metrics">metrics</a></p>
<script>
(function() {
  var priming = document.getElementById("priming");
  var droplet = document.getElementById("droplet");
  var statusEl = document.getElementById("panel-status");
  var errorEl = document.getElementById("panel-error");

  function render(body) {
    var p = body.panel;
    priming.checked = p.priming;
    droplet.disabled = !p.droplet_enabled;
    statusEl.textContent = p.status;
    errorEl.textContent = body.error || p.error || "";
  }

  function post(path, payload) {
    var opts = { method: "POST" };
    if (payload) {
      opts.headers = { "Content-Type": "application/json" };
      opts.body = JSON.stringify(payload);
    }
    return fetch(path, opts).then(function(r) { return r.json(); }).then(render);
  }

  priming.addEventListener("change", function() {
    post("/api/priming", { on: priming.checked });
  });

  droplet.addEventListener("click", function() {
    droplet.disabled = true;
    statusEl.textContent = "Dropping";
    post("/api/droplet");
  });

  setInterval(function() {
    fetch("/api/panel").then(function(r) { return r.json(); }).then(render);
  }, 2000);
})();
</script>
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

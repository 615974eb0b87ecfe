package api

import (
	"html/template"
	"net/http"
	"time"

	"github.com/bryanchriswhite/galaxycam/internal/device"
)

var statsPage = template.Must(template.New("stats").Funcs(template.FuncMap{
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return time.Since(t).Round(time.Millisecond).String() + " ago"
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
    <title>galaxycam - {{.Device.Serial}}</title>
    <meta http-equiv="refresh" content="2">
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        table { border-collapse: collapse; }
        td { padding: 3px 16px 3px 0; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
        .bad { color: #ce9178; }
        h2 { margin-top: 24px; color: #dcdcaa; }
    </style>
</head>
<body>
    <h1>{{.Device.Model}} {{.Device.Serial}}</h1>
    <table>
        <tr><td class="label">Session</td><td class="value">{{.Stats.Capture.SessionID}}</td></tr>
        <tr><td class="label">State</td><td class="value">{{.Stats.Capture.State}}</td></tr>
        <tr><td class="label">Pixel format</td><td class="value">{{.Applied.FormatName}}</td></tr>
        <tr><td class="label">Exposure</td><td class="value">{{printf "%.0f" .Applied.ExposureUS}} µs</td></tr>
        <tr><td class="label">Gain</td><td class="value">{{printf "%.2f" .Applied.Gain}} dB</td></tr>
        {{range .Applied.Warnings}}<tr><td class="label">Warning</td><td class="bad">{{.}}</td></tr>{{end}}
    </table>

    <h2>Capture</h2>
    <table>
        <tr><td class="label">Delivered</td><td class="value">{{.Stats.Capture.Delivered}} ({{printf "%.2f" .Stats.Capture.AverageFPS}} fps)</td></tr>
        <tr><td class="label">Queued</td><td class="value">{{.Stats.Capture.Queued}} / {{.Stats.Capture.Capacity}}</td></tr>
        <tr><td class="label">Timeouts</td><td class="value">{{.Stats.Capture.Timeouts}}</td></tr>
        <tr><td class="label">Incomplete</td><td class="{{if .Stats.Capture.Incomplete}}bad{{else}}value{{end}}">{{.Stats.Capture.Incomplete}}</td></tr>
        <tr><td class="label">Acquire errors</td><td class="{{if .Stats.Capture.AcquireErrors}}bad{{else}}value{{end}}">{{.Stats.Capture.AcquireErrors}}</td></tr>
        <tr><td class="label">Convert errors</td><td class="{{if .Stats.Capture.ConvertErrors}}bad{{else}}value{{end}}">{{.Stats.Capture.ConvertErrors}}</td></tr>
        <tr><td class="label">Dropped</td><td class="value">{{.Stats.Capture.Dropped}}</td></tr>
    </table>

    <h2>Stream</h2>
    <table>
        <tr><td class="label">Published</td><td class="value">{{.Stats.Stream.Published}} ({{printf "%.2f" .Stats.Stream.FPS}} fps)</td></tr>
        <tr><td class="label">Throttled</td><td class="value">{{.Stats.Stream.Throttled}}</td></tr>
        <tr><td class="label">Clients</td><td class="value">{{.Stats.MJPEG.Clients}}</td></tr>
        <tr><td class="label">Last frame</td><td class="value">{{ago .Stats.MJPEG.LastUpdate}}</td></tr>
    </table>
    <p><a href="/" style="color: #569cd6;">View Stream</a></p>
</body>
</html>`))

func (s *Server) handleStatsPage(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Device  device.Info
		Applied device.Applied
		Stats   statsResponse
	}{
		Device:  s.opts.Camera.Info(),
		Applied: s.opts.Camera.Applied(),
		Stats:   s.stats(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statsPage.Execute(w, data); err != nil {
		s.log.Warn().Err(err).Msg("Failed to render stats page")
	}
}

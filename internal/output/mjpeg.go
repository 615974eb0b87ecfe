package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/galaxycam/internal/logger"
)

// ErrNotRunning is returned by WriteFrame before Start or after Stop.
var ErrNotRunning = errors.New("MJPEG output not running")

// MJPEGOutput streams frames as Motion JPEG over HTTP and keeps the most
// recent JPEG around for snapshot requests
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex
	log     *zerolog.Logger

	// Latest encoded frame
	frameMu    sync.RWMutex
	current    []byte
	lastUpdate time.Time

	// Connected clients, keyed by a per-connection ID
	clientsMu sync.RWMutex
	clients   map[string]chan []byte

	// Stats
	frameCount uint64
	skipped    uint64
	startTime  time.Time
}

// Stats is a point-in-time view of the stream
type Stats struct {
	Running    bool      `json:"running"`
	Frames     uint64    `json:"frames"`
	Skipped    uint64    `json:"skipped"`
	Clients    int       `json:"clients"`
	FPS        float64   `json:"fps"`
	LastUpdate time.Time `json:"last_update"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = jpeg.DefaultQuality
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[string]chan []byte),
		log:     logger.WithComponent("mjpeg"),
	}
}

// Start initializes the MJPEG output
// Note: the HTTP handlers are mounted separately via StreamHandler() and friends
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0
	m.skipped = 0

	m.log.Info().Int("fps", m.config.FPS).Int("quality", m.config.Quality).Msg("MJPEG output started")
	return nil
}

// Stop cleanly shuts down the output and disconnects every client
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false

	m.clientsMu.Lock()
	for _, ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[string]chan []byte)
	m.clientsMu.Unlock()

	m.log.Info().Uint64("frames", m.frameCount).Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes the frame and hands it to every connected client.
// Slow clients miss frames rather than stalling the stream.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	// Held for the whole call so Stop cannot close a channel mid-send.
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return errors.Wrap(err, "failed to encode JPEG")
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.current = jpegData
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.frameCount++

	m.clientsMu.RLock()
	for _, ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			m.skipped++
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount returns the number of connected stream clients
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Snapshot returns the most recent JPEG and when it was encoded. The slice
// must not be modified.
func (m *MJPEGOutput) Snapshot() ([]byte, time.Time) {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.current, m.lastUpdate
}

// Stats reports frame and client counters
func (m *MJPEGOutput) Stats() Stats {
	m.mu.RLock()
	s := Stats{Running: m.running, Frames: m.frameCount, Skipped: m.skipped}
	startTime := m.startTime
	m.mu.RUnlock()

	if s.Running && !startTime.IsZero() {
		if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
			s.FPS = float64(s.Frames) / elapsed
		}
	}
	_, s.LastUpdate = m.Snapshot()
	s.Clients = m.ClientCount()
	return s
}

func (m *MJPEGOutput) subscribe() (string, chan []byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return "", nil, false
	}

	id := uuid.NewString()
	ch := make(chan []byte, 2) // Buffer 2 frames

	m.clientsMu.Lock()
	m.clients[id] = ch
	total := len(m.clients)
	m.clientsMu.Unlock()

	m.log.Info().Str("client", id).Int("total", total).Msg("Stream client connected")
	return id, ch, true
}

func (m *MJPEGOutput) unsubscribe(id string) {
	m.clientsMu.Lock()
	delete(m.clients, id)
	remaining := len(m.clients)
	m.clientsMu.Unlock()
	m.log.Info().Str("client", id).Int("remaining", remaining).Msg("Stream client disconnected")
}

// StreamHandler returns an http.Handler for the multipart MJPEG stream.
// Mount this at /stream or similar endpoint.
func (m *MJPEGOutput) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, frameChan, ok := m.subscribe()
		if !ok {
			http.Error(w, ErrNotRunning.Error(), http.StatusServiceUnavailable)
			return
		}
		defer m.unsubscribe(id)

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")
		flusher, _ := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		if flusher != nil {
			flusher.Flush()
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
					return
				}
				if _, err := w.Write(jpegData); err != nil {
					return
				}
				if _, err := w.Write([]byte("\r\n")); err != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
	}
}

// SnapshotHandler serves the latest frame as a single JPEG
func (m *MJPEGOutput) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, at := m.Snapshot()
		if len(data) == 0 {
			http.Error(w, "no frame available yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
		w.Write(data)
	}
}

// ViewerHandler returns an HTTP handler with a full-window stream viewer
func (m *MJPEGOutput) ViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>galaxycam</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { background: #000; overflow: hidden; }
        img { width: 100vw; height: 100vh; object-fit: contain; display: block; }
        .stats {
            position: fixed; bottom: 12px; left: 12px;
            padding: 6px 12px; border-radius: 14px;
            background: rgba(40, 40, 40, 0.85); color: #ccc;
            font: 12px monospace; opacity: 0; transition: opacity 0.2s ease;
        }
        body:hover .stats { opacity: 1; }
        .stats a { color: #8ab4f8; margin-left: 8px; }
    </style>
</head>
<body>
    <img src="/stream" alt="camera stream">
    <div class="stats"><span id="stats">connecting…</span><a href="/api/snapshot.jpg">snapshot</a><a href="/stats">stats</a></div>
    <script>
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/events');
        ws.onmessage = (e) => {
            const s = JSON.parse(e.data);
            document.getElementById('stats').textContent =
                s.state + ' ' + s.delivered + ' frames, ' + s.average_fps.toFixed(1) + ' fps, ' + s.dropped + ' dropped';
        };
    </script>
</body>
</html>`

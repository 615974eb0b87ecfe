package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/galaxycam/internal/capture"
	"github.com/bryanchriswhite/galaxycam/internal/config"
	"github.com/bryanchriswhite/galaxycam/internal/device"
	"github.com/bryanchriswhite/galaxycam/internal/logger"
	"github.com/bryanchriswhite/galaxycam/internal/output"
	"github.com/bryanchriswhite/galaxycam/internal/overlay"
	"github.com/bryanchriswhite/galaxycam/internal/record"
	"github.com/bryanchriswhite/galaxycam/internal/stream"
)

// Version is reported by /api/health
const Version = "0.1.0"

// Camera is the part of capture.Camera the API reports on
type Camera interface {
	ID() string
	Info() device.Info
	Applied() device.Applied
	Stats() capture.Stats
}

// Options wires the server to the running pipeline. Overlay and Saver may
// be nil; their endpoints then answer 404.
type Options struct {
	Camera  Camera
	Pump    *stream.Pump
	MJPEG   *output.MJPEGOutput
	Overlay *overlay.Manager
	Saver   *record.Saver
	Config  *config.Manager
	// EventInterval is how often /api/events pushes stats. Defaults to 1s.
	EventInterval time.Duration
}

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	opts       Options
	upgrader   websocket.Upgrader
	httpServer *http.Server
	log        *zerolog.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.EventInterval <= 0 {
		opts.EventInterval = time.Second
	}
	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // The viewer may be served from another host
			},
		},
		log: logger.WithComponent("api"),
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Camera
	api.HandleFunc("/camera", s.handleCamera).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)
	api.HandleFunc("/snapshot.jpg", s.opts.MJPEG.SnapshotHandler()).Methods("GET")
	api.HandleFunc("/record", s.handleRecord).Methods("POST")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	// Overlay
	api.HandleFunc("/overlay/widgets", s.handleListWidgets).Methods("GET")
	api.HandleFunc("/overlay/widgets", s.handleCreateWidget).Methods("POST")
	api.HandleFunc("/overlay/widgets/{id}", s.handleUpdateWidget).Methods("PUT")
	api.HandleFunc("/overlay/widgets/{id}", s.handleDeleteWidget).Methods("DELETE")
	api.HandleFunc("/overlay/types", s.handleWidgetTypes).Methods("GET")
	api.HandleFunc("/overlay/enabled", s.handleOverlayEnabled).Methods("PUT")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Stream and pages
	s.router.HandleFunc("/stream", s.opts.MJPEG.StreamHandler()).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStatsPage).Methods("GET")
	s.router.HandleFunc("/", s.opts.MJPEG.ViewerHandler()).Methods("GET")
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start listens on port and serves until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.Wrapf(err, "listen on port %d", port)
	}
	return s.Serve(ln)
}

// Serve is Start on an existing listener. After Shutdown it returns nil
// without serving.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP server")
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Long-lived
// stream and event connections end when their context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func success(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// HTTP Handlers

type cameraResponse struct {
	SessionID string         `json:"session_id"`
	Device    device.Info    `json:"device"`
	Applied   device.Applied `json:"applied"`
	State     string         `json:"state"`
}

func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cameraResponse{
		SessionID: s.opts.Camera.ID(),
		Device:    s.opts.Camera.Info(),
		Applied:   s.opts.Camera.Applied(),
		State:     s.opts.Camera.Stats().State,
	})
}

type statsResponse struct {
	Capture capture.Stats `json:"capture"`
	Stream  stream.Stats  `json:"stream"`
	MJPEG   output.Stats  `json:"mjpeg"`
}

func (s *Server) stats() statsResponse {
	resp := statsResponse{Capture: s.opts.Camera.Stats()}
	if s.opts.Pump != nil {
		resp.Stream = s.opts.Pump.Stats()
	}
	if s.opts.MJPEG != nil {
		resp.MJPEG = s.opts.MJPEG.Stats()
	}
	return resp
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

// handleEvents pushes capture stats over a websocket until the client goes
// away or the request context ends
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reading is the only way to notice a close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.EventInterval)
	defer ticker.Stop()
	for {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.opts.Camera.Stats()); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if s.opts.Saver == nil || s.opts.Pump == nil {
		http.Error(w, "recording not configured", http.StatusNotFound)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	f, err := s.opts.Pump.Grab(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer f.Close()

	path, err := s.opts.Saver.Save(s.opts.Camera.Info().Serial, f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info().Str("path", path).Uint64("seq", f.Seq).Msg("Frame recorded")
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "seq": f.Seq})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Config.Get())
}

// handleUpdateConfig stores a new configuration. The running camera keeps
// its settings until restart.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.opts.Config.Update(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "restart_required": true})
}

func (s *Server) overlayOr404(w http.ResponseWriter) (*overlay.Manager, bool) {
	if s.opts.Overlay == nil {
		http.Error(w, "overlay not configured", http.StatusNotFound)
		return nil, false
	}
	return s.opts.Overlay, true
}

func (s *Server) handleListWidgets(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.overlayOr404(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": ov.IsEnabled(),
		"widgets": ov.ExportConfig(),
	})
}

func (s *Server) handleCreateWidget(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.overlayOr404(w)
	if !ok {
		return
	}
	var cfg map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	widgetType, _ := cfg["type"].(string)
	id, _ := cfg["id"].(string)
	if widgetType == "" || id == "" {
		http.Error(w, "type and id are required", http.StatusBadRequest)
		return
	}

	widget, err := ov.CreateWidget(widgetType, id, cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := ov.AddWidget(widget); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, widget.GetConfig())
}

func (s *Server) handleUpdateWidget(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.overlayOr404(w)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	var cfg map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, exists := ov.GetWidget(id); !exists {
		http.Error(w, "widget not found", http.StatusNotFound)
		return
	}
	if err := ov.UpdateWidget(id, cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	success(w)
}

func (s *Server) handleDeleteWidget(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.overlayOr404(w)
	if !ok {
		return
	}
	if err := ov.RemoveWidget(mux.Vars(r)["id"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	success(w)
}

func (s *Server) handleWidgetTypes(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.overlayOr404(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ov.GetAvailableWidgetTypes())
}

func (s *Server) handleOverlayEnabled(w http.ResponseWriter, r *http.Request) {
	ov, ok := s.overlayOr404(w)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ov.SetEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if s.opts.Camera.Stats().State != capture.Running.String() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"version": Version,
	})
}

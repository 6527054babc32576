// Package api is the rig's control surface: a localhost HTTP server with a
// JSON API, per-stream MJPEG previews, a WebSocket status feed and the
// Prometheus endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fieldscan/fieldscan/internal/capture"
	"github.com/fieldscan/fieldscan/internal/config"
	"github.com/fieldscan/fieldscan/internal/frame"
	"github.com/fieldscan/fieldscan/internal/logger"
	"github.com/fieldscan/fieldscan/internal/rig"
	"github.com/fieldscan/fieldscan/internal/storage"
)

const (
	apiVersion = "0.1.0"

	// eventPollInterval is how often the events socket samples rig status;
	// eventHeartbeat forces a push even when nothing changed.
	eventPollInterval = 250 * time.Millisecond
	eventHeartbeat    = time.Second
)

// Server is the HTTP control server over one rig.
type Server struct {
	router   *mux.Router
	rig      *rig.Manager
	cfg      *config.Manager
	hub      *streamHub
	upgrader websocket.Upgrader
	log      *zerolog.Logger

	srv *http.Server
}

// NewServer builds the server and its routes.
func NewServer(rigMgr *rig.Manager, cfgMgr *config.Manager) *Server {
	s := &Server{
		router: mux.NewRouter(),
		rig:    rigMgr,
		cfg:    cfgMgr,
		hub:    newStreamHub(rigMgr),
		upgrader: websocket.Upgrader{
			// the server binds to localhost, the origin check buys nothing
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.WithComponent("api"),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Rig lifecycle
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/start", s.handleStart).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")

	// Devices
	api.HandleFunc("/devices", s.handleDevices).Methods("GET")
	api.HandleFunc("/devices/refresh", s.handleDevices).Methods("POST")
	api.HandleFunc("/device", s.handleSelectDevice).Methods("POST")

	// Capture behavior
	api.HandleFunc("/savedir", s.handleSaveDir).Methods("POST")
	api.HandleFunc("/mask", s.handleMask).Methods("POST")
	api.HandleFunc("/gps", s.handleGPS).Methods("POST")
	api.HandleFunc("/trigger", s.handleTrigger).Methods("POST")
	api.HandleFunc("/recording", s.handleStartRecording).Methods("POST")
	api.HandleFunc("/recording", s.handleStopRecording).Methods("DELETE")
	api.HandleFunc("/capture", s.handleCapture).Methods("POST")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	// Live feeds
	api.HandleFunc("/stream/{stream}", s.handleStream).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start(port int) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.enableCORS(s.router),
	}
	s.log.Info().Int("port", port).Msg("Control server listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown disconnects the preview viewers and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

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

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusFrom maps operation errors to HTTP codes: lifecycle refusals are
// conflicts, parameter problems are bad requests, the rest is internal.
func statusFrom(err error) int {
	switch {
	case errors.Is(err, rig.ErrNotRunning),
		errors.Is(err, rig.ErrAlreadyRunning),
		errors.Is(err, capture.ErrAlreadyRecording),
		errors.Is(err, storage.ErrEmptyBundle):
		return http.StatusConflict
	case errors.Is(err, capture.ErrVideoNeedsContinuous):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HTTP handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rig.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.rig.Start(); err != nil {
		writeError(w, statusFrom(err), err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.rig.Stop(); err != nil {
		writeError(w, statusFrom(err), err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rig.Devices())
}

func (s *Server) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Driver   string `json:"driver"`
		DeviceID string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rig.SelectDevice(req.Driver, req.DeviceID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleSaveDir(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rig.SetSaveDir(req.Path); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var mask config.MaskConfig
	if err := json.NewDecoder(r.Body).Decode(&mask); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rig.SetMask(mask); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleGPS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rig.SetGPSEnabled(req.Enabled); err != nil {
		writeError(w, statusFrom(err), err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var trigger config.TriggerConfig
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rig.SetTrigger(trigger); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Continuous bool `json:"continuous"`
		Video      bool `json:"video"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rig.StartRecording(req.Continuous, req.Video); err != nil {
		writeError(w, statusFrom(err), err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.rig.StopRecording(); err != nil {
		writeError(w, statusFrom(err), err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	paths, err := s.rig.CaptureNow()
	if err != nil {
		writeError(w, statusFrom(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"paths":  paths,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Get())
}

// handleUpdateConfig replaces the whole configuration. Changes to devices,
// geometry or ports take effect on the next rig start.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.Update(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": apiVersion,
	})
}

// handleStream serves one stream as multipart MJPEG until the client goes
// away or the server shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	stream := frame.Stream(mux.Vars(r)["stream"])
	if !stream.Valid() {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown stream %q", string(stream)))
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "close")

	frames := s.hub.subscribe(stream)
	defer s.hub.unsubscribe(stream, frames)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// handleEvents pushes status snapshots over a WebSocket: immediately on
// change, and at least once per heartbeat.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()

	var last []byte
	var lastSent time.Time
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		payload, err := json.Marshal(s.rig.Status())
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to marshal status event")
			continue
		}
		if bytes.Equal(payload, last) && time.Since(lastSent) < eventHeartbeat {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
		last = payload
		lastSent = time.Now()
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

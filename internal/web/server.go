// Package web serves the climate-sensor status page, its JSON form and the
// last reading on its own.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/sweeney/climate-sensor/internal/status"
)

// Server is the status HTTP server. All handlers read from the tracker
// and never block the controller.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New builds a Server on addr reading from tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleStatus)
	mux.HandleFunc("GET /reading.json", s.handleReading)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown stops the server, waiting for active requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, status.FormatJSON(s.tracker.Snapshot()))
}

// handleReading returns just the last reading, or 503 until the first
// successful sample.
func (s *Server) handleReading(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	if snap.Reading == nil {
		writeJSON(w, http.StatusServiceUnavailable, []byte(`{"error":"no reading yet"}`))
		return
	}
	body, err := json.Marshal(status.ReadingJSON{
		Temperature: snap.Reading.Temperature,
		Humidity:    snap.Reading.Humidity,
		Timestamp:   snap.Reading.Time.UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("web: encode reading: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	w.Write(body)
}

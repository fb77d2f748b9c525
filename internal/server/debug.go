package server

import (
	"context"
	"io"
	"net/http"
	"time"
)

// maxDebugAppend bounds the body accepted by POST /debug/log.
const maxDebugAppend = 64 << 10

// DebugLogHandler exposes the log file: GET reads it whole, POST appends the
// request body verbatim, DELETE removes it.
func (s *Server) DebugLogHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.store.ReadAll()
		if err != nil {
			s.log.WithError(err).Error("Debug read failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDebugAppend))
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		if err := s.store.AppendRaw(body); err != nil {
			s.log.WithError(err).Error("Debug append failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.log.WithField("bytes", len(body)).Info("Debug append to log")
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := s.store.Clear(); err != nil {
			s.log.WithError(err).Error("Debug clear failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.log.Info("Log cleared")
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// StatsHandler reports hub counters.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stats, err := s.hub.Stats(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, stats)
}

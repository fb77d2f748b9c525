package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

//go:embed web/index.html
var webFS embed.FS

// pageData is substituted into the client page. MaxTextLength is empty when
// the relay does not restrict size, which the page reads as "no limit".
type pageData struct {
	MaxTextLength   string
	MaxSenderLength int
}

// clientConfig is the JSON form of the page settings served at /config.
type clientConfig struct {
	MaxTextLength   *int `json:"maxTextLength"`
	MaxSenderLength int  `json:"maxSenderLength"`
}

// WebSocketHandler upgrades GET requests to WebSocket connections and hands
// the resulting client to the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	s.start(NewClient(conn, s, r.RemoteAddr, s.cfg.SendBuffer))
}

// PageHandler serves the chat page with the text length limit filled in.
func (s *Server) PageHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}

	data := pageData{MaxSenderLength: s.cfg.MaxSenderLength}
	if n, ok := s.cfg.MaxTextLength(); ok {
		data.MaxTextLength = strconv.Itoa(n)
	}

	var buf bytes.Buffer
	if err := s.page.Execute(&buf, data); err != nil {
		s.log.WithError(err).Error("Error rendering page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		s.log.WithError(err).Debug("Error writing page")
	}
}

// ConfigHandler reports the limits a client should apply before sending.
func (s *Server) ConfigHandler(w http.ResponseWriter, _ *http.Request) {
	resp := clientConfig{MaxSenderLength: s.cfg.MaxSenderLength}
	if n, ok := s.cfg.MaxTextLength(); ok {
		resp.MaxTextLength = &n
	}
	writeJSON(w, resp)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "portalchat is running with %d clients", s.ClientCount())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

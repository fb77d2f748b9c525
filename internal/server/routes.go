package server

import "net/http"

// Routes returns a ServeMux with all application routes. The debug routes
// are only registered when enabled in the configuration.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.PageHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/config", s.ConfigHandler)
	mux.HandleFunc("/health", s.HealthHandler)
	if s.cfg.DebugEndpoints {
		mux.HandleFunc("/debug/log", s.DebugLogHandler)
		mux.HandleFunc("/debug/stats", s.StatsHandler)
	}
	return mux
}

package server

import (
	"context"
	"html/template"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/logstore"
	"github.com/Tyrowin/portalchat/internal/relay"
)

// Server connects WebSocket clients to the relay hub and serves the client
// page and debug endpoints.
type Server struct {
	cfg      config.Config
	hub      *relay.Hub
	store    *logstore.Log
	log      logrus.FieldLogger
	origins  originPolicy
	upgrader websocket.Upgrader
	page     *template.Template

	mu      sync.Mutex
	clients map[*Client]struct{}
	wg      sync.WaitGroup
}

// New creates a Server. The hub must be running for connections to be served.
func New(cfg config.Config, hub *relay.Hub, store *logstore.Log, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		store:   store,
		log:     log.WithField("component", "server"),
		page:    template.Must(template.ParseFS(webFS, "web/index.html")),
		clients: make(map[*Client]struct{}),
	}
	s.origins = newOriginPolicy(cfg.Origins(), s.log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// start registers c and launches its pumps.
func (s *Server) start(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	c.log.WithField("clients", count).Info("Client connected")

	s.hub.OnChannelOpened(c)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
}

func (s *Server) forget(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// CloseClients closes every open connection and waits for their pumps to
// exit or ctx to end.
func (s *Server) CloseClients(ctx context.Context) error {
	s.mu.Lock()
	clients := lo.Keys(s.clients)
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	s.log.WithField("clients", len(clients)).Info("Closed client connections")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warn("Timed out waiting for client goroutines")
		return ctx.Err()
	}
}

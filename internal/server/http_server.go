package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// CreateServer creates an HTTP server for addr and handler. The write
// timeout is left unset because upgraded WebSocket connections manage their
// own deadlines.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer listens on server.Addr and blocks until the server stops. A
// normal shutdown returns nil.
func StartServer(server *http.Server, log logrus.FieldLogger) error {
	log.WithField("addr", server.Addr).Info("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting requests and waits for in-flight HTTP
// requests, then closes WebSocket clients, all within timeout.
func ShutdownServer(httpServer *http.Server, srv *Server, timeout time.Duration) error {
	srv.log.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		srv.log.WithError(err).Error("HTTP server shutdown error")
		return err
	}
	if err := srv.CloseClients(ctx); err != nil {
		return err
	}

	srv.log.Info("HTTP server shutdown completed")
	return nil
}

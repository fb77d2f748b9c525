package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/portalchat/internal/relay"
	"github.com/Tyrowin/portalchat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	log := logrus.StandardLogger()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("Error closing log store")
		}
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := relay.NewHub(cfg.Codec(), store, log, relay.Options{
		ReplayHistory: cfg.ReplayHistory,
		AnonymousName: cfg.AnonymousName,
	})
	go hub.Run(hubCtx)

	srv := server.New(cfg, hub, store, log)
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	if n, ok := cfg.MaxTextLength(); ok {
		log.WithFields(logrus.Fields{
			"maxWireMessageSize": cfg.MaxWireMessageSize,
			"maxTextLength":      n,
		}).Info("Message size limit active")
	} else {
		log.Info("Message size unrestricted")
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.StartServer(httpServer, log)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	if err := server.ShutdownServer(httpServer, srv, shutdownTimeout); err != nil {
		log.WithError(err).Warn("Shutdown incomplete")
	}
	stopHub()
	<-hub.Done()
	log.Info("Program stopped cleanly")
	return nil
}

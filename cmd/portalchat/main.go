// Command portalchat runs the captive portal chat relay and offers
// maintenance commands for its message log.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/logstore"
)

var (
	configPath string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "portalchat",
		Short: "Public chat relay for a captive portal",
		Long: `portalchat serves a single public chat room over WebSocket.
Every accepted message is appended to an on-device log and relayed to all
connected clients.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(newServeCmd(), newLogCmd())
	return root
}

// loadConfig reads configuration and sets up the standard logger from it.
func loadConfig() (config.Config, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	closer, err := logging.Setup(logrus.StandardLogger(), cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, closer, nil
}

// openStore opens the log backend selected by cfg.
func openStore(cfg config.Config) (*logstore.Log, error) {
	var (
		backend logstore.Backend
		err     error
	)
	switch cfg.StoreDriver {
	case config.DriverBadger:
		backend, err = logstore.OpenBadgerBackend(cfg.StorePath)
	default:
		backend, err = logstore.NewFileBackend(cfg.StorePath)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store at %s: %w", cfg.StoreDriver, cfg.StorePath, err)
	}
	return logstore.New(backend), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

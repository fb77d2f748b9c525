package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect or maintain the message log",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "dump",
			Short: "Print the raw log",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(func(data storeOps) error {
					raw, err := data.ReadAll()
					if err != nil {
						return err
					}
					_, err = cmd.OutOrStdout().Write(raw)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "append [text]",
			Short: "Append raw text to the log (reads stdin without an argument)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var text []byte
				if len(args) == 1 {
					text = []byte(args[0])
				} else {
					var err error
					if text, err = io.ReadAll(cmd.InOrStdin()); err != nil {
						return err
					}
				}
				return withStore(func(data storeOps) error {
					return data.AppendRaw(text)
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the log",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(func(data storeOps) error {
					if err := data.Clear(); err != nil {
						return err
					}
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "log cleared")
					return err
				})
			},
		},
	)
	return cmd
}

type storeOps interface {
	ReadAll() ([]byte, error)
	AppendRaw([]byte) error
	Clear() error
}

func withStore(fn func(storeOps) error) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close store: %v\n", err)
		}
	}()
	return fn(store)
}

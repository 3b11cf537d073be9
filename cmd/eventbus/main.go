// Command eventbus drives the event bus against any configured transport.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/next-trace/scg-event-bus/internal/config"
	"github.com/next-trace/scg-event-bus/internal/log"
)

var version = "dev"

// app holds the state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger zerolog.Logger
	out    io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()

	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out, logOut io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:          "eventbus",
		Short:        "Publish, consume and dispatch banking messages over the event bus",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if a.logLevel != "" {
				log.Reconfigure(log.Config{Level: a.logLevel, Output: logOut})
			}

			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}

			level := cfg.Log.Level
			if a.logLevel != "" {
				level = a.logLevel
			}

			log.Reconfigure(log.Config{Level: level, Output: logOut, Service: cfg.Service})
			a.cfg = cfg
			a.logger = log.WithComponent("cli")

			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(a.publishCmd())
	root.AddCommand(a.subscribeCmd())
	root.AddCommand(a.transferCmd())
	root.AddCommand(a.configCmd())

	return root
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			data, err := a.cfg.YAML()
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}

			_, err = a.out.Write(data)

			return err
		},
	}
}

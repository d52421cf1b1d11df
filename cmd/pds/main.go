// Package main provides the pds command line: persona enrollment, manual dispatch,
// original post generation and the long-running scheduler.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/config"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/db"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness"
)

var version = "dev"

type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pds",
		Short:         "Public Discourse Sandbox persona pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(logOut, cfg.Log, a.verbose)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default searches ./config.yaml and /etc/pds)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.migrateCmd(),
		a.personasCmd(),
		a.postCmd(),
		a.dispatchCmd(),
		a.generatePostCmd(),
		a.serveCmd(),
	)
	return root
}

func newLogger(out io.Writer, cfg config.LogConfig, verbose bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// runtime opens the database and wires the pipeline.
func (a *app) runtime() (*harness.Runtime, func(), error) {
	conn, err := db.ConnectToDBWithConfig(&db.LibSQLConfig{
		DSN:          a.cfg.PDS.Database.DSN,
		AuthToken:    a.cfg.PDS.Database.AuthToken,
		MaxOpenConns: a.cfg.PDS.Database.MaxOpenConns,
	}, a.logger)
	if err != nil {
		return nil, nil, err
	}

	rt, err := harness.NewFactory(a.cfg, conn, a.logger).Build()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := rt.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Shutdown error")
		}
		conn.Close()
	}
	return rt, cleanup, nil
}

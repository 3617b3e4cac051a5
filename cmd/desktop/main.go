// Package main provides the local sync server for desktop platforms.
// Desktop clients communicate via REST/WebSocket on localhost.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/catalogsync/internal/app"
	"github.com/kimhsiao/catalogsync/internal/config"
	"github.com/kimhsiao/catalogsync/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:           "catalogsync-desktop",
		Short:         "Serve the catalog sync core to the local desktop UI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			if err := config.LoadDotEnv(files...); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			initLogging(cfg.Logging)

			ctr, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer ctr.Close()
			return serve(cmd.Context(), ctr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default ./catalogsync.yaml)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")
	return cmd
}

func initLogging(cfg config.LoggingConfig) {
	level := logging.ParseLevel(cfg.Level)
	if cfg.File == "" {
		logging.Init(os.Stdout, level)
		return
	}
	logging.InitWithFile(logging.FileOptions{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	}, level)
}

// serve runs the sync core and the HTTP server until ctx is done.
func serve(ctx context.Context, ctr *app.Container) error {
	hub := NewWSHub()
	detach := hub.Attach(ctr.Bus)
	defer detach()

	srv := &http.Server{
		Addr:              ctr.Config.Server.Addr(),
		Handler:           newRouter(ctr, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return ctr.Run(ctx)
	})
	g.Go(func() error {
		logging.Info("Desktop server starting", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logging.Info("Desktop server shutting down", nil)
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

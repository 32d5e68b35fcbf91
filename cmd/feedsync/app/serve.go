package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	feedsync "github.com/stacklok/feedsync/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler and the HTTP API",
	Long: `Start feedsync as a long-running service.

A bulk run over every enabled source happens after the configured initial delay
and then once per interval. POST /v1/sources/{id}/fetch requests an on-demand
run; it executes at once when no run is active and is queued otherwise.

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

// Kubernetes-friendly shutdown time
const defaultGracefulTimeout = 30 * time.Second

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	address := viper.GetString("address")
	opts := append(appOptions(cfg), feedsync.WithAddress(address))

	feedsyncApp, err := feedsync.NewFeedsyncApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- feedsyncApp.Start()
	}()

	select {
	case err := <-errCh:
		// Start failed on its own; still release the store and telemetry
		if stopErr := feedsyncApp.Stop(defaultGracefulTimeout); stopErr != nil {
			slog.Error("Shutdown after failure did not complete", "error", stopErr)
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Received shutdown signal")
	if err := feedsyncApp.Stop(defaultGracefulTimeout); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()
	select {
	case err := <-errCh:
		return err
	case <-shutdownCtx.Done():
		return fmt.Errorf("server did not stop within %s", defaultGracefulTimeout)
	}
}

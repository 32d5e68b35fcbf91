// Package app provides application lifecycle management for feedsync.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/feedsync/internal/config"
	"github.com/stacklok/feedsync/internal/sync/coordinator"
)

// FeedsyncApp encapsulates all components needed to run the feedsync server.
// It provides lifecycle management and graceful shutdown capabilities
type FeedsyncApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
	listener   net.Listener
}

// Start recovers a lock left by a previous process, then runs the scheduler and the HTTP server.
// It blocks until both have stopped; the first failure stops the other.
func (app *FeedsyncApp) Start() error {
	if err := app.components.Coordinator.Recover(app.ctx); err != nil {
		return fmt.Errorf("failed to recover run lock: %w", err)
	}

	listener := app.listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", app.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		if err := app.components.Coordinator.Start(gctx); err != nil {
			return fmt.Errorf("run coordinator failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("Server listening", "address", listener.Addr().String())
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	// Shut the server down when the group context ends so Serve returns
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), defaultIdleTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown did not complete", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout.
// It stops the coordinator, shuts down the HTTP server and releases the store.
func (app *FeedsyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if err := app.components.Coordinator.Stop(); err != nil {
		slog.Error("Failed to stop run coordinator", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	if err := app.components.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	slog.Info("Server shutdown complete")
	return errors.Join(errs...)
}

// GetConfig returns the application configuration
func (app *FeedsyncApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *FeedsyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// GetCoordinator returns the run coordinator
func (app *FeedsyncApp) GetCoordinator() coordinator.Coordinator {
	return app.components.Coordinator
}

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/feedsync/internal/sources"
	"github.com/stacklok/feedsync/internal/sync/coordinator"
	"github.com/stacklok/feedsync/internal/sync/state"
	"github.com/stacklok/feedsync/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Coordinator owns the run lock and the wait queue
	Coordinator coordinator.Coordinator

	// Store persists lock, queue and retrieved items
	Store state.Store

	// Catalog is the read-only set of configured sources
	Catalog sources.Catalog

	// Telemetry holds the tracer and meter providers
	Telemetry *telemetry.Telemetry
}

// Close stops the coordinator, closes the store and flushes telemetry
func (c *AppComponents) Close(ctx context.Context) error {
	var errs []error

	if c.Coordinator != nil {
		if err := c.Coordinator.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop coordinator: %w", err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown telemetry: %w", err))
		}
	}

	return errors.Join(errs...)
}

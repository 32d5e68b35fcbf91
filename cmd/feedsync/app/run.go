package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	feedsync "github.com/stacklok/feedsync/internal/app"
	"github.com/stacklok/feedsync/internal/sync/coordinator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every enabled source once and exit",
	Long: `Perform one bulk run over every enabled source in configuration order,
then drain requests that were queued meanwhile. Fails when another process
holds the run lock.`,
	Args: cobra.NoArgs,
	RunE: runBulk,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <source>",
	Short: "Request an on-demand run of one source",
	Long: `Run one source now if no run is active, otherwise add it to the wait queue
and print its position. A queued request is executed by whichever process
holds the lock when it finishes its current work.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the run lock and the wait queue",
	Args:  cobra.NoArgs,
	RunE:  runQueue,
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, fetchCmd, queueCmd} {
		cmd.Flags().String("format", formatTable, "Output format (table or json)")
	}
	fetchCmd.Flags().String("requester", "cli", "Requester recorded with the request")
}

// withComponents loads configuration, builds the coordinator and closes everything afterwards
func withComponents(cmd *cobra.Command, fn func(ctx context.Context, c *feedsync.AppComponents) error) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	components, err := feedsync.NewComponents(ctx, appOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to build components: %w", err)
	}
	defer func() {
		// Close waits for drains started by this process
		if closeErr := components.Close(context.WithoutCancel(ctx)); closeErr != nil {
			slog.Error("Failed to release resources", "error", closeErr)
			err = errors.Join(err, closeErr)
		}
	}()

	return fn(ctx, components)
}

func runBulk(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}

	return withComponents(cmd, func(ctx context.Context, c *feedsync.AppComponents) error {
		outcomes, err := c.Coordinator.RunBulk(ctx)
		if errors.Is(err, coordinator.ErrRunInProgress) {
			return fmt.Errorf("cannot start a bulk run: %w", err)
		}
		if err != nil && len(outcomes) == 0 {
			return fmt.Errorf("bulk run failed: %w", err)
		}

		if format == formatJSON {
			if encErr := writeJSON(cmd.OutOrStdout(), outcomes); encErr != nil {
				return encErr
			}
		} else if renderErr := writeOutcomes(cmd.OutOrStdout(), outcomes); renderErr != nil {
			return renderErr
		}
		return err
	})
}

func runFetch(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	requester, err := cmd.Flags().GetString("requester")
	if err != nil {
		return fmt.Errorf("failed to get requester flag: %w", err)
	}

	return withComponents(cmd, func(ctx context.Context, c *feedsync.AppComponents) error {
		resp, err := c.Coordinator.RequestFetch(ctx, args[0], requester)
		if err != nil {
			return fmt.Errorf("fetch request failed: %w", err)
		}

		if format == formatJSON {
			return writeJSON(cmd.OutOrStdout(), resp)
		}

		if resp.Status == coordinator.StatusQueued {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Queued %s at position %d\n", args[0], resp.Position)
			return err
		}
		return writeOutcomes(cmd.OutOrStdout(), []coordinator.SourceOutcome{*resp.Outcome})
	})
}

func runQueue(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}

	return withComponents(cmd, func(ctx context.Context, c *feedsync.AppComponents) error {
		st, err := c.Coordinator.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}
		if format == formatJSON {
			return writeJSON(cmd.OutOrStdout(), st)
		}
		return writeStatus(cmd.OutOrStdout(), st)
	})
}

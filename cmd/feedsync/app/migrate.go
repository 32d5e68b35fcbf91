package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/feedsync/database"
	"github.com/stacklok/feedsync/internal/sync/state"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long: `Database migration tool for the sqlite and postgres storage backends.
Use with 'up' or 'down' subcommands. The file backend has no schema.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending migrations to the database named by the storage section
of the configuration. serve, run, fetch and queue also do this on startup.`,
	Args: cobra.NoArgs,
	RunE: runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert database migrations",
	Long: `Revert applied migrations.
WARNING: This operation drops the run lock, the wait queue and the retrieved item ledger.

Examples:
  # Revert one step
  feedsync migrate down --config config.yaml --num-steps 1 --yes

  # Revert everything
  feedsync migrate down --config config.yaml --yes`,
	Args: cobra.NoArgs,
	RunE: runMigrateDown,
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateDownCmd.Flags().UintP("num-steps", "n", 0, "Number of steps to revert (0 = all)")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// migrationTarget resolves the database to migrate from the loaded configuration
func migrationTarget() (dialect, dsn string, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", "", err
	}
	// --data-dir moves the default sqlite path along with everything else
	if dir := viper.GetString("data-dir"); dir != "" {
		cfg = cfg.WithDataDir(dir)
	}

	return state.DatabaseTarget(cfg)
}

func runMigrateUp(_ *cobra.Command, _ []string) error {
	dialect, dsn, err := migrationTarget()
	if err != nil {
		return err
	}

	slog.Info("Applying database migrations", "dialect", dialect)
	if err := database.MigrateUp(dialect, dsn); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	reportVersion(dialect, dsn)
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	dialect, dsn, err := migrationTarget()
	if err != nil {
		return err
	}

	confirmed, err := confirm(cmd, downPrompt(numSteps))
	if err != nil {
		return err
	}
	if !confirmed {
		slog.Info("Migration cancelled by user")
		return nil
	}

	if err := database.MigrateDown(dialect, dsn, int(numSteps)); err != nil {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}

	reportVersion(dialect, dsn)
	return nil
}

func downPrompt(numSteps uint) string {
	if numSteps == 0 {
		return "WARNING: This will revert ALL migrations and delete all coordination state. Continue?"
	}
	return fmt.Sprintf("This will revert %d migration step(s). Continue?", numSteps)
}

// confirm asks for a yes/no answer unless --yes was given
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}

	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s (yes/no): ", prompt); err != nil {
		return false, err
	}
	var response string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &response); err != nil {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "yes" || response == "y", nil
}

func reportVersion(dialect, dsn string) {
	version, dirty, err := database.Version(dialect, dsn)
	switch {
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state", "version", version)
	default:
		slog.Info("Database schema version", "version", version)
	}
}

// Package app provides the command line interface of feedsync.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	feedsync "github.com/stacklok/feedsync/internal/app"
	"github.com/stacklok/feedsync/internal/config"
	"github.com/stacklok/feedsync/internal/versions"
)

var rootCmd = &cobra.Command{
	Use:               "feedsync",
	DisableAutoGenTag: true,
	Short:             "Periodically retrieve the newest items from configured sources",
	Long: `feedsync discovers the newest items published by each configured source through
an ordered list of strategies (feeds, JSON APIs, HTML pages) and downloads the ones
not retrieved before. Runs happen on a schedule, on demand through the HTTP API, or
from the command line.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory for downloaded items and file-backed state")
	for _, name := range []string{"config", "data-dir"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return fmt.Errorf("failed to get format flag: %w", err)
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to format version info: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return err
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "feedsync %s (commit %s, built %s, %s, %s)\n",
			info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		return err
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file and summarize its sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if _, err := fmt.Fprintf(out, "Valid configuration: %d source(s), storage %s, interval %s\n",
			len(cfg.Sources), cfg.GetStorageType(), cfg.GetInterval()); err != nil {
			return err
		}
		for i := range cfg.Sources {
			src := &cfg.Sources[i]
			types := make([]string, 0, len(src.Strategies))
			for _, st := range src.Strategies {
				types = append(types, st.Type)
			}
			state := "enabled"
			if !src.IsEnabled() {
				state = "disabled"
			}
			if _, err := fmt.Fprintf(out, "  %s: %s, limit %d, strategies %s\n",
				src.ID, state, cfg.GetSourceLimit(src), strings.Join(types, " > ")); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}

// loadConfig reads the configuration named by --config or FEEDSYNC_CONFIG
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		return nil, fmt.Errorf("a configuration file is required (--config or %s_CONFIG)", config.EnvPrefix)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("Loaded configuration",
		"path", path,
		"sources", len(cfg.Sources),
		"storage", cfg.GetStorageType())
	return cfg, nil
}

// appOptions turns the loaded configuration and global flags into builder options
func appOptions(cfg *config.Config) []feedsync.FeedsyncAppOptions {
	opts := []feedsync.FeedsyncAppOptions{feedsync.WithConfig(cfg)}
	if dir := viper.GetString("data-dir"); dir != "" {
		opts = append(opts, feedsync.WithDataDirectory(dir))
	}
	return opts
}

// Command arbor is a small CLI around the arbor engine and its SQLite
// store: manage libraries, ingest chunks, run kNN queries, and move
// snapshots between stores.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arbordb/arbor"
	"github.com/arbordb/arbor/store/sqlite"
)

var (
	version = "dev"

	flagConfig string
	flagDB     string

	cfg Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "arbor",
		Short:         "Exact vector similarity search over SQLite-backed libraries",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = LoadConfig(flagConfig)
			if err != nil {
				return err
			}
			if flagDB != "" {
				cfg.DBPath = flagDB
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "path to the SQLite database (overrides config)")

	rootCmd.AddCommand(
		newLibraryCmd(),
		newAddCmd(),
		newSearchCmd(),
		newStatsCmd(),
		newExportCmd(),
		newImportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore opens the configured database.
func openStore() (*sqlite.Store, error) {
	return sqlite.Open(cfg.DBPath)
}

// newManager builds a manager configured from the CLI config.
func newManager() (*arbor.Manager, error) {
	level := slog.LevelWarn
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning", "":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return arbor.NewManager(arbor.WithLogger(arbor.NewTextLogger(level))), nil
}

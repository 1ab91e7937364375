// Package cli implements the planproof command line over the same operations
// the HTTP API exposes, for local single-user use.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/planproof/planproof/internal/config"
	"github.com/planproof/planproof/internal/query"
	"github.com/planproof/planproof/internal/snapshot"
	"github.com/planproof/planproof/internal/store"
)

var (
	cfgPath     string
	storeRoot   string
	projectFlag string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "planproof",
	Short: "Ingest, index and query construction drawing sets",
	Long: `planproof turns a directory of drawing set PDFs into a searchable
document store: pages are rasterized and read by a vision model in two
stages, then indexed by material, keyword and sheet cross-reference.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&storeRoot, "store", "", "document store root (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "", "project slug when the store holds several")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func logger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, err
	}
	if storeRoot != "" {
		cfg.StoreRoot = storeRoot
	}
	return cfg, nil
}

func openStore() (*store.Store, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	return store.Open(cfg.StoreRoot), cfg, nil
}

func openSnapshot() (*snapshot.Snapshot, error) {
	st, _, err := openStore()
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.Load(st.Root(), projectFlag, logger())
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	return snap, nil
}

func openEngine() (*query.Engine, error) {
	snap, err := openSnapshot()
	if err != nil {
		return nil, err
	}
	return query.New(snap), nil
}

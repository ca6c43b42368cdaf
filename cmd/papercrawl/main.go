package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pevans/papercrawl/config"
	"github.com/pevans/papercrawl/logging"
)

// Flags shared by every command
type rootFlags struct {
	ConfigPath string
	Yes        bool
	Verbose    bool
}

var flags rootFlags

// app carries what PersistentPreRunE prepared for the command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

var current app

var rootCmd = &cobra.Command{
	Use:   "papercrawl",
	Short: "Acquire articles from a daily newspaper index",
	Long: `papercrawl reads the daily article index of a newspaper site, fetches
every article page under adaptive pacing, and stores the extracted content
as one JSON file per article. Articles that already have a valid stored
record are never fetched again.`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags.ConfigPath)
		if err != nil {
			return err
		}
		if flags.Verbose {
			cfg.Log.Level = "debug"
		}

		logger, closer, err := logging.New(cfg.Log, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		slog.SetDefault(logger)

		current = app{cfg: cfg, logger: logger, closer: closer}
		return nil
	},

	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if current.closer != nil {
			return current.closer.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "",
		"config file (default $PAPERCRAWL_CONFIG or ~/.papercrawl/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.Yes, "yes", "y", false,
		"do not ask for confirmation before large runs")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false,
		"log at debug level")

	rootCmd.AddCommand(runCmd, pendingCmd, statusCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

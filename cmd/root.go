package main

import (
	"fmt"
	"io"

	"github.com/cwbudde/marchingcubes/internal/config"
	"github.com/cwbudde/marchingcubes/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	dataDir    string

	cfg       = config.Default()
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "marchingcubes",
	Short: "Isosurface extraction from byte volumes with marching cubes",
	Long: `marchingcubes extracts triangle meshes from 3D byte volumes using a
data-parallel marching cubes pipeline (classify, scan, compact, generate),
with raw geometry dumps, a run store and an HTTP job server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := applyRootFlags(cmd, loaded); err != nil {
			return err
		}
		cfg = loaded

		closer, err := logging.Setup(logging.Options{
			Level:   cfg.Logging.Level,
			File:    cfg.Logging.File,
			MaxSize: cfg.Logging.MaxSize,
			MaxAge:  cfg.Logging.MaxAge,
		})
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		logCloser = closer
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory of the run store")
}

// applyRootFlags overrides config values with the persistent flags the user
// set and validates the result.
func applyRootFlags(cmd *cobra.Command, c *config.Config) error {
	if cmd.Flags().Changed("log-level") {
		c.Logging.Level = logLevel
	}
	if cmd.Flags().Changed("data-dir") {
		c.Store.DataDir = dataDir
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func closeLogging() {
	if logCloser != nil {
		logCloser.Close()
	}
}

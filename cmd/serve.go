package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwbudde/marchingcubes/internal/server"
	"github.com/cwbudde/marchingcubes/internal/store"
	"github.com/spf13/cobra"
)

var (
	serveAddr string
	volumeDir string
	noPersist bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Starts the extraction job server. Jobs are submitted as JSON to
POST /api/v1/jobs; completed runs are persisted to the run store unless
--no-persist is given. Jobs may only name volume files inside --volume-dir,
and every grid axis is capped by server.max_grid_log2.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&volumeDir, "volume-dir", "", "Directory jobs may read volume files from (default: volume files disabled)")
	serveCmd.Flags().BoolVar(&noPersist, "no-persist", false, "Keep results in memory only")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := cfg.Server.Addr
	if cmd.Flags().Changed("addr") {
		addr = serveAddr
	}
	limits := server.Limits{VolumeDir: cfg.Server.VolumeDir, MaxGridLog2: cfg.Server.MaxGridLog2}
	if cmd.Flags().Changed("volume-dir") {
		limits.VolumeDir = volumeDir
	}
	for axis, l := range cfg.Extract.GridLog2 {
		if l > limits.MaxGridLog2 {
			return fmt.Errorf("extract.grid_log2[%d] = %d exceeds server.max_grid_log2 = %d", axis, l, limits.MaxGridLog2)
		}
	}

	var runStore store.Store
	if !noPersist {
		fsStore, err := openStore()
		if err != nil {
			return err
		}
		runStore = fsStore
	}

	srv := server.NewServer(addr, runStore)
	defaults := server.DefaultJobConfig()
	defaults.GridLog2 = cfg.Extract.GridLog2
	defaults.IsoValue = cfg.Extract.IsoValue
	defaults.Dense = !cfg.Extract.SkipEmpty
	defaults.Backend = cfg.Extract.Backend
	defaults.Workers = cfg.Extract.Workers
	defaults.MaxVerts = cfg.Extract.MaxVerts
	srv.SetDefaults(defaults)
	srv.SetLimits(limits)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Signal received, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

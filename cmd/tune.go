package main

import (
	"fmt"

	"github.com/cwbudde/marchingcubes/internal/mc"
	"github.com/cwbudde/marchingcubes/internal/opt"
	"github.com/cwbudde/marchingcubes/internal/runner"
	"github.com/spf13/cobra"
)

var (
	tuneTarget int
	tuneLower  float32
	tuneUpper  float32
	tuneIters  int
	tunePop    int
	tuneSeed   int64
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Find the isovalue that yields a target triangle count",
	Long: `Searches the isovalue range with the mayfly optimizer, rerunning the
pipeline for every candidate, and reports the isovalue whose surface has the
triangle count closest to --target.`,
	RunE: runTune,
}

func init() {
	addVolumeFlags(tuneCmd)
	tuneCmd.Flags().IntVar(&tuneTarget, "target", 10000, "Target triangle count")
	tuneCmd.Flags().Float32Var(&tuneLower, "lower", 0.01, "Lowest isovalue to try")
	tuneCmd.Flags().Float32Var(&tuneUpper, "upper", 0.99, "Highest isovalue to try")
	tuneCmd.Flags().IntVar(&tuneIters, "iters", 20, "Optimizer iterations")
	tuneCmd.Flags().IntVar(&tunePop, "pop", 20, "Optimizer population size")
	tuneCmd.Flags().Int64Var(&tuneSeed, "seed", 42, "Random seed")
	rootCmd.AddCommand(tuneCmd)
}

func runTune(cmd *cobra.Command, args []string) error {
	ec, err := extractConfig(cmd)
	if err != nil {
		return err
	}
	if tuneTarget < 0 {
		return fmt.Errorf("--target cannot be negative")
	}

	grid, err := runner.Grid(ec)
	if err != nil {
		return err
	}
	vol, err := runner.LoadVolume(ec, grid)
	if err != nil {
		return fmt.Errorf("failed to load volume: %w", err)
	}
	ext, cleanup, err := mc.NewExtractorForBackend(ec.Backend, grid, runner.ExtractorOptions(ec))
	if err != nil {
		return err
	}
	defer cleanup()

	optimizer := opt.NewMayfly(tuneIters, tunePop, tuneSeed)
	res, err := mc.TuneIsoValue(cmd.Context(), ext, vol, tuneTarget, optimizer, tuneLower, tuneUpper)
	if err != nil {
		return err
	}

	fmt.Printf("Isovalue %.4f -> %d triangles (target %d, cost %.4f, %d evaluations)\n",
		res.IsoValue, res.Triangles, res.Target, res.Cost, res.Evaluations)
	return nil
}

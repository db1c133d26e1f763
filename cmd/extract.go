package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/cwbudde/marchingcubes/internal/mc"
	"github.com/cwbudde/marchingcubes/internal/runner"
	"github.com/cwbudde/marchingcubes/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	volumeFile   string
	shapeName    string
	shapeSize    float64
	gridLog2     uint
	gridLog2X    uint
	gridLog2Y    uint
	gridLog2Z    uint
	isoValue     float32
	isoStep      float32
	steps        int
	skipEmpty    bool
	backendName  string
	workers      int
	maxVerts     int
	dumpKind     string
	debugBuffers bool
	outDir       string
	saveRun      bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract an isosurface from a volume",
	Long: `Runs the marching cubes pipeline on a raw byte volume (--file) or a
synthetic shape (--shape) and reports the active voxel and vertex counts.
With --iso-step and --steps the isovalue is stepped and the pipeline rerun.`,
	RunE: runExtract,
}

func init() {
	addVolumeFlags(extractCmd)
	extractCmd.Flags().Float32Var(&isoValue, "iso", 0.2, "Isovalue in [0,1]")
	extractCmd.Flags().Float32Var(&isoStep, "iso-step", 0.005, "Isovalue increment between steps")
	extractCmd.Flags().IntVar(&steps, "steps", 1, "Number of isovalue steps")
	extractCmd.Flags().BoolVar(&skipEmpty, "skip-empty", true, "Compact active voxels before generating triangles")
	extractCmd.Flags().StringVar(&dumpKind, "dump", "", "Write raw dumps: pos, normal, voxel or all")
	extractCmd.Flags().BoolVar(&debugBuffers, "debug-buffers", false, "Also dump the per-voxel scratch buffers")
	extractCmd.Flags().StringVar(&outDir, "out", ".", "Directory for raw dumps")
	extractCmd.Flags().BoolVar(&saveRun, "save", false, "Persist the run and its stage trace to the run store")
	rootCmd.AddCommand(extractCmd)
}

// addVolumeFlags registers the volume source, grid and backend flags shared
// by extract and tune.
func addVolumeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&volumeFile, "file", "", "Raw byte volume")
	cmd.Flags().StringVar(&shapeName, "shape", "", "Synthetic shape: sphere, box, cylinder, hollow-cube")
	cmd.Flags().Float64Var(&shapeSize, "shape-size", 0, "Shape radius or half edge (0 = default)")
	cmd.Flags().UintVar(&gridLog2, "grid", 5, "log2 grid size for all axes")
	cmd.Flags().UintVar(&gridLog2X, "gridx", 5, "log2 grid size along x")
	cmd.Flags().UintVar(&gridLog2Y, "gridy", 5, "log2 grid size along y")
	cmd.Flags().UintVar(&gridLog2Z, "gridz", 5, "log2 grid size along z")
	cmd.Flags().StringVar(&backendName, "backend", "cpu", "Extractor backend: cpu, serial")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker goroutines (0 = GOMAXPROCS)")
	cmd.Flags().IntVar(&maxVerts, "max-verts", 0, "Vertex budget (0 = exact sizing)")
}

// extractConfig merges the config file with explicitly set flags.
func extractConfig(cmd *cobra.Command) (store.ExtractConfig, error) {
	flags := cmd.Flags()
	ec := store.ExtractConfig{
		GridLog2: cfg.Extract.GridLog2,
		IsoValue: cfg.Extract.IsoValue,
		Dense:    !cfg.Extract.SkipEmpty,
		Backend:  cfg.Extract.Backend,
		Workers:  cfg.Extract.Workers,
		MaxVerts: cfg.Extract.MaxVerts,
	}

	if volumeFile == "" && shapeName == "" {
		return ec, fmt.Errorf("either --file or --shape is required")
	}
	ec.VolumePath = volumeFile
	ec.Shape = shapeName
	ec.ShapeSize = shapeSize

	if flags.Changed("grid") {
		ec.GridLog2 = [3]uint{gridLog2, gridLog2, gridLog2}
	}
	for axis, name := range []string{"gridx", "gridy", "gridz"} {
		if flags.Changed(name) {
			ec.GridLog2[axis] = []uint{gridLog2X, gridLog2Y, gridLog2Z}[axis]
		}
	}
	if flags.Changed("iso") {
		ec.IsoValue = isoValue
	}
	if flags.Changed("skip-empty") {
		ec.Dense = !skipEmpty
	}
	if flags.Changed("backend") {
		ec.Backend = backendName
	}
	if flags.Changed("workers") {
		ec.Workers = workers
	}
	if flags.Changed("max-verts") {
		ec.MaxVerts = maxVerts
	}
	return ec, ec.Validate()
}

func runExtract(cmd *cobra.Command, args []string) error {
	ec, err := extractConfig(cmd)
	if err != nil {
		return err
	}
	kinds, err := parseDumpKind(dumpKind)
	if err != nil {
		return err
	}
	step := cfg.Extract.IsoStep
	if cmd.Flags().Changed("iso-step") {
		step = isoStep
	}

	opts := runner.Options{IsoStep: step, Steps: steps}

	var fsStore *store.FSStore
	runID := ""
	if saveRun {
		fsStore, err = store.NewFSStore(cfg.Store.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		runID = runner.NewRunID()
		tw, err := store.NewTraceWriter(fsStore.BaseDir(), runID, false)
		if err != nil {
			return fmt.Errorf("failed to create trace: %w", err)
		}
		defer tw.Close()
		opts.Observer = runner.TraceObserver(tw)
	}

	out, err := runner.Run(cmd.Context(), ec, opts)
	if err != nil {
		return err
	}

	if len(kinds) > 0 || debugBuffers {
		if err := writeDumps(out, kinds, debugBuffers, outDir); err != nil {
			return err
		}
	}

	if fsStore != nil {
		manifest := runner.Manifest(runID, out)
		if err := fsStore.SaveRun(manifest, runner.Artifacts(out, debugBuffers)); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		slog.Info("Run saved", "run_id", runID, "dir", fsStore.RunDir(runID))
	}

	printSummary(out, runID)
	return nil
}

func parseDumpKind(kind string) ([]string, error) {
	switch kind {
	case "":
		return nil, nil
	case "pos":
		return []string{runner.PositionsFile}, nil
	case "normal":
		return []string{runner.NormalsFile}, nil
	case "voxel":
		return []string{runner.CompactedFile}, nil
	case "all":
		return []string{runner.PositionsFile, runner.NormalsFile, runner.CompactedFile}, nil
	default:
		return nil, fmt.Errorf("unknown dump kind %q (want pos, normal, voxel or all)", kind)
	}
}

func writeDumps(out *runner.Outcome, kinds []string, debug bool, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}
	write := func(name string, fn func(path string) error) error {
		path := filepath.Join(dir, name)
		if err := fn(path); err != nil {
			return err
		}
		slog.Info("Dump written", "path", path)
		return nil
	}
	vec4 := func(vs []mc.Vec4) func(string) error {
		return func(path string) error { return mc.WriteVec4File(path, vs) }
	}
	u32 := func(vs []uint32) func(string) error {
		return func(path string) error { return mc.WriteUint32File(path, vs) }
	}

	for _, name := range kinds {
		var err error
		switch name {
		case runner.PositionsFile:
			err = write(name, vec4(out.Result.Positions))
		case runner.NormalsFile:
			err = write(name, vec4(out.Result.Normals))
		case runner.CompactedFile:
			if out.Config.Dense {
				slog.Warn("No compacted voxel array without --skip-empty")
				continue
			}
			err = write(name, u32(out.Buffers.Compacted))
		}
		if err != nil {
			return err
		}
	}
	if !debug {
		return nil
	}
	debugDumps := []struct {
		name string
		data []uint32
	}{
		{runner.VoxelVertsFile, out.Buffers.VoxelVerts},
		{runner.VoxelVertsScanFile, out.Buffers.VoxelVertsScan},
		{runner.VoxelOccupiedFile, out.Buffers.VoxelOccupied},
		{runner.OccupiedScanFile, out.Buffers.VoxelOccupiedScan},
	}
	for _, d := range debugDumps {
		if err := write(d.name, u32(d.data)); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(out *runner.Outcome, runID string) {
	if len(out.Steps) > 1 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STEP\tISO\tACTIVE\tVERTS\tTRIANGLES")
		for _, s := range out.Steps {
			fmt.Fprintf(w, "%d\t%.4f\t%d\t%d\t%d\n", s.Step, s.IsoValue, s.ActiveVoxels, s.TotalVerts, s.Triangles)
		}
		w.Flush()
		fmt.Println()
	}

	res := out.Result
	fmt.Printf("Grid %s, iso %.4f, backend %s\n", out.Grid, res.IsoValue, out.Backend)
	fmt.Printf("  Active voxels: %s of %s\n", humanize.Comma(int64(res.ActiveVoxels)), humanize.Comma(int64(out.Grid.NumVoxels)))
	fmt.Printf("  Vertices:      %s (%s triangles)\n", humanize.Comma(int64(res.TotalVerts)), humanize.Comma(int64(res.Triangles())))
	fmt.Printf("  Geometry:      %s\n", humanize.Bytes(uint64(res.TotalVerts)*32))
	fmt.Printf("  Elapsed:       %s\n", out.Elapsed)
	if runID != "" {
		fmt.Printf("  Run ID:        %s\n", runID)
	}
}

// Package runner turns an extraction config into a finished run: it builds
// the grid, loads or synthesizes the volume, runs the chosen backend and
// packages the results for the run store.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/marchingcubes/internal/mc"
	"github.com/cwbudde/marchingcubes/internal/store"
	"github.com/cwbudde/marchingcubes/internal/synth"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Artifact names written for a run.
const (
	PositionsFile      = "positions.bin"
	NormalsFile        = "normals.bin"
	CompactedFile      = "compVoxelArray.bin"
	VoxelVertsFile     = "voxelVerts.bin"
	VoxelVertsScanFile = "voxelVertsScan.bin"
	VoxelOccupiedFile  = "voxelOccupied.bin"
	OccupiedScanFile   = "voxelOccupiedScan.bin"
)

// Options control stepping and observation of a run.
type Options struct {
	// IsoStep is added to the isovalue between steps.
	IsoStep float32
	// Steps is the number of extractions. Values below 1 mean one.
	Steps int
	// Observer receives every stage event tagged with its step.
	Observer func(step int, iso float32, ev mc.StageEvent)
}

// StepSummary records the counts of one isovalue step.
type StepSummary struct {
	Step         int     `json:"step"`
	IsoValue     float32 `json:"isoValue"`
	ActiveVoxels uint32  `json:"activeVoxels"`
	TotalVerts   uint32  `json:"totalVerts"`
	Triangles    int     `json:"triangles"`
}

// Outcome is the result of a run. Result and Buffers belong to the last step.
type Outcome struct {
	Config  store.ExtractConfig
	Backend mc.Backend
	Grid    mc.Grid
	Result  *mc.Result
	Buffers mc.Buffers
	Steps   []StepSummary
	Elapsed time.Duration
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// Grid builds the grid geometry of a config.
func Grid(cfg store.ExtractConfig) (mc.Grid, error) {
	return mc.NewGrid(cfg.GridLog2[0], cfg.GridLog2[1], cfg.GridLog2[2])
}

// LoadVolume reads the raw volume or synthesizes the shape named by cfg.
func LoadVolume(cfg store.ExtractConfig, grid mc.Grid) (*mc.Volume, error) {
	if cfg.VolumePath != "" {
		return mc.LoadRawVolume(cfg.VolumePath, grid)
	}
	shape, err := synth.ParseShape(cfg.Shape)
	if err != nil {
		return nil, err
	}
	params := synth.DefaultParams(shape)
	if cfg.ShapeSize > 0 {
		params.Size = cfg.ShapeSize
	}
	return synth.Generate(grid, params)
}

// ExtractorOptions maps a config onto extractor options.
func ExtractorOptions(cfg store.ExtractConfig) mc.Options {
	return mc.Options{
		SkipEmpty: !cfg.Dense,
		Workers:   cfg.Workers,
		MaxVerts:  cfg.MaxVerts,
	}
}

func clampIso(iso float32) float32 {
	return min(max(iso, 0), 1)
}

// Run executes the pipeline described by cfg.
func Run(ctx context.Context, cfg store.ExtractConfig, opts Options) (*Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	grid, err := Grid(cfg)
	if err != nil {
		return nil, err
	}
	vol, err := LoadVolume(cfg, grid)
	if err != nil {
		return nil, fmt.Errorf("failed to load volume: %w", err)
	}

	steps := max(opts.Steps, 1)
	step := 0
	iso := cfg.IsoValue

	extOpts := ExtractorOptions(cfg)
	if opts.Observer != nil {
		extOpts.Observer = func(ev mc.StageEvent) { opts.Observer(step, iso, ev) }
	}
	ext, cleanup, err := mc.NewExtractorForBackend(cfg.Backend, grid, extOpts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	slog.Info("Starting extraction",
		"source", cfg.Source(),
		"grid", grid.String(),
		"volume", humanize.Bytes(uint64(grid.Bytes())),
		"backend", mc.NormalizeBackend(cfg.Backend),
		"skip_empty", extOpts.SkipEmpty,
		"steps", steps)

	out := &Outcome{Config: cfg, Backend: mc.NormalizeBackend(cfg.Backend), Grid: grid}
	start := time.Now()
	for step = 0; step < steps; step++ {
		iso = clampIso(cfg.IsoValue + float32(step)*opts.IsoStep)
		res, err := ext.Extract(ctx, vol, iso)
		if err != nil {
			return nil, fmt.Errorf("step %d (iso %g): %w", step, iso, err)
		}
		out.Result = res
		out.Steps = append(out.Steps, StepSummary{
			Step:         step,
			IsoValue:     iso,
			ActiveVoxels: res.ActiveVoxels,
			TotalVerts:   res.TotalVerts,
			Triangles:    res.Triangles(),
		})
		slog.Debug("Step complete", "step", step, "iso", iso, "triangles", res.Triangles())
	}
	out.Elapsed = time.Since(start)
	out.Buffers = ext.Buffers()
	out.Config.IsoValue = out.Result.IsoValue

	slog.Info("Extraction complete",
		"active_voxels", out.Result.ActiveVoxels,
		"total_verts", out.Result.TotalVerts,
		"triangles", out.Result.Triangles(),
		"elapsed", out.Elapsed)
	return out, nil
}

// Artifacts encodes the geometry of an outcome as raw dumps. Debug adds the
// per-voxel scratch buffers.
func Artifacts(out *Outcome, debug bool) map[string][]byte {
	artifacts := map[string][]byte{
		PositionsFile: mc.Vec4Bytes(out.Result.Positions),
		NormalsFile:   mc.Vec4Bytes(out.Result.Normals),
	}
	if !out.Config.Dense {
		artifacts[CompactedFile] = mc.Uint32Bytes(out.Buffers.Compacted)
	}
	if debug {
		artifacts[VoxelVertsFile] = mc.Uint32Bytes(out.Buffers.VoxelVerts)
		artifacts[VoxelVertsScanFile] = mc.Uint32Bytes(out.Buffers.VoxelVertsScan)
		artifacts[VoxelOccupiedFile] = mc.Uint32Bytes(out.Buffers.VoxelOccupied)
		artifacts[OccupiedScanFile] = mc.Uint32Bytes(out.Buffers.VoxelOccupiedScan)
	}
	return artifacts
}

// Manifest describes an outcome for the run store.
func Manifest(runID string, out *Outcome) *store.RunManifest {
	return &store.RunManifest{
		RunID:        runID,
		Config:       out.Config,
		Backend:      string(out.Backend),
		Timestamp:    time.Now(),
		Elapsed:      out.Elapsed,
		ActiveVoxels: out.Result.ActiveVoxels,
		TotalVerts:   out.Result.TotalVerts,
		Triangles:    out.Result.Triangles(),
	}
}

// TraceObserver returns an observer that records every stage in tw. Write
// errors are logged and do not stop the run.
func TraceObserver(tw *store.TraceWriter) func(step int, iso float32, ev mc.StageEvent) {
	return func(step int, iso float32, ev mc.StageEvent) {
		err := tw.Write(store.StageEntry{
			Step:     step,
			IsoValue: iso,
			Stage:    ev.Stage,
			Items:    ev.Items,
			Groups:   ev.Groups,
			Total:    ev.Total,
			Duration: ev.Duration,
		})
		if err != nil {
			slog.Warn("Failed to write trace entry", "error", err)
		}
	}
}

package mc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var errExtractorClosed = errors.New("extractor closed")

// hostExtractor runs the pipeline on the host through an Executor. Scratch
// buffers are sized to the grid once and reused across Extract calls.
type hostExtractor struct {
	mu   sync.Mutex
	grid Grid
	opts Options
	exec Executor

	voxelVerts        []uint32
	voxelVertsScan    []uint32
	voxelOccupied     []uint32
	voxelOccupiedScan []uint32
	compVoxelArray    []uint32
	activeVoxels      uint32
	closed            bool
}

// NewExtractor creates a host extractor that runs its stages on exec.
func NewExtractor(grid Grid, exec Executor, opts Options) Extractor {
	n := grid.NumVoxels
	return &hostExtractor{
		grid:              grid,
		opts:              opts,
		exec:              exec,
		voxelVerts:        make([]uint32, n),
		voxelVertsScan:    make([]uint32, n),
		voxelOccupied:     make([]uint32, n),
		voxelOccupiedScan: make([]uint32, n),
		compVoxelArray:    make([]uint32, n),
	}
}

// NewCPUExtractor creates an extractor backed by the parallel executor.
func NewCPUExtractor(grid Grid, opts Options) Extractor {
	return NewExtractor(grid, NewParallelExecutor(opts.Workers), opts)
}

// NewSerialExtractor creates an extractor that runs every stage on the calling goroutine.
func NewSerialExtractor(grid Grid, opts Options) Extractor {
	return NewExtractor(grid, SerialExecutor{}, opts)
}

func (e *hostExtractor) Grid() Grid { return e.grid }

func (e *hostExtractor) Buffers() Buffers {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := Buffers{
		VoxelVerts:        e.voxelVerts,
		VoxelVertsScan:    e.voxelVertsScan,
		VoxelOccupied:     e.voxelOccupied,
		VoxelOccupiedScan: e.voxelOccupiedScan,
	}
	if e.opts.SkipEmpty && e.compVoxelArray != nil {
		b.Compacted = e.compVoxelArray[:e.activeVoxels]
	}
	return b
}

func (e *hostExtractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.voxelVerts = nil
	e.voxelVertsScan = nil
	e.voxelOccupied = nil
	e.voxelOccupiedScan = nil
	e.compVoxelArray = nil
	e.activeVoxels = 0
}

// stageRecorder times stages and forwards them to the observer.
type stageRecorder struct {
	observer func(StageEvent)
	stages   []StageTiming
	start    time.Time
}

func (r *stageRecorder) begin() { r.start = time.Now() }

func (r *stageRecorder) end(stage string, geom LaunchGeometry, total uint32) {
	d := time.Since(r.start)
	r.stages = append(r.stages, StageTiming{Stage: stage, Duration: d})
	slog.Debug("Stage complete", "stage", stage, "items", geom.N, "groups", geom.Groups(), "duration", d)
	if r.observer != nil {
		r.observer(StageEvent{Stage: stage, Items: geom.N, Groups: geom.Groups(), Duration: d, Total: total})
	}
}

func (e *hostExtractor) Extract(ctx context.Context, vol *Volume, iso float32) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errExtractorClosed
	}
	if !vol.Grid().Equal(e.grid) {
		return nil, fmt.Errorf("%w: volume %s, extractor %s", ErrGridMismatch, vol.Grid(), e.grid)
	}

	start := time.Now()
	args := fieldArgs{grid: e.grid, vol: vol, iso: iso}
	rec := &stageRecorder{observer: e.opts.Observer}
	res := &Result{Grid: e.grid, IsoValue: iso}
	numVoxels := e.grid.NumVoxels
	voxelGeom := NewLaunchGeometry(numVoxels, ClassifyThreads)
	e.activeVoxels = 0

	rec.begin()
	if err := e.exec.Launch(ctx, voxelGeom, classifyKernel(&args, e.voxelVerts, e.voxelOccupied)); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	rec.end(StageClassify, voxelGeom, 0)

	rec.begin()
	if _, err := ParallelExclusiveScan(ctx, e.exec, e.voxelOccupiedScan, e.voxelOccupied); err != nil {
		return nil, fmt.Errorf("scan occupied: %w", err)
	}
	active := Total(e.voxelOccupied, e.voxelOccupiedScan)
	rec.end(StageScanOccupied, voxelGeom, active)
	res.ActiveVoxels = active

	if active == 0 {
		// Every vertex count is zero, so the vertex scan is all zeros too.
		clear(e.voxelVertsScan)
		res.Stages = rec.stages
		slog.Debug("No active voxels", "iso", iso, "grid", e.grid.String())
		return res, nil
	}

	if e.opts.SkipEmpty {
		rec.begin()
		if err := e.exec.Launch(ctx, voxelGeom, compactKernel(e.compVoxelArray, e.voxelOccupied, e.voxelOccupiedScan)); err != nil {
			return nil, fmt.Errorf("compact: %w", err)
		}
		rec.end(StageCompact, voxelGeom, active)
	}
	e.activeVoxels = active

	rec.begin()
	if _, err := ParallelExclusiveScan(ctx, e.exec, e.voxelVertsScan, e.voxelVerts); err != nil {
		return nil, fmt.Errorf("scan verts: %w", err)
	}
	totalVerts := Total(e.voxelVerts, e.voxelVertsScan)
	rec.end(StageScanVerts, voxelGeom, totalVerts)

	if e.opts.MaxVerts > 0 && int(totalVerts) > e.opts.MaxVerts {
		return nil, fmt.Errorf("%w: need %d vertices, cap is %d", ErrVertexBudgetExceeded, totalVerts, e.opts.MaxVerts)
	}

	gen := &generateArgs{
		fieldArgs: args,
		vertsScan: e.voxelVertsScan,
		positions: make([]Vec4, totalVerts),
		normals:   make([]Vec4, totalVerts),
	}
	items := numVoxels
	if e.opts.SkipEmpty {
		gen.active = e.compVoxelArray[:active]
		items = active
	}
	genGeom := NewLaunchGeometry(items, GenerateThreads)

	rec.begin()
	if err := e.exec.Launch(ctx, genGeom, generateKernel(gen)); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	rec.end(StageGenerate, genGeom, totalVerts)

	res.TotalVerts = totalVerts
	res.Positions = gen.positions
	res.Normals = gen.normals
	res.Stages = rec.stages

	slog.Debug("Extraction complete",
		"executor", e.exec.Name(),
		"iso", iso,
		"active_voxels", active,
		"total_verts", totalVerts,
		"elapsed", time.Since(start))
	return res, nil
}

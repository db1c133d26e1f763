package mc

import (
	"context"
	"errors"
	"time"
)

// ErrVertexBudgetExceeded is returned when a run needs more vertices than the configured cap.
var ErrVertexBudgetExceeded = errors.New("vertex budget exceeded")

// Vec4 is a packed homogeneous vector. Positions carry w=1, normals w=0.
type Vec4 [4]float32

// Stage names reported in StageEvent and StageTiming.
const (
	StageClassify     = "classify"
	StageScanOccupied = "scan_occupied"
	StageCompact      = "compact"
	StageScanVerts    = "scan_verts"
	StageGenerate     = "generate"
)

// Extractor runs the isosurface pipeline over volumes of one grid.
type Extractor interface {
	// Extract computes the isosurface of vol at iso.
	Extract(ctx context.Context, vol *Volume, iso float32) (*Result, error)

	// Grid returns the geometry the extractor was built for.
	Grid() Grid

	// Buffers exposes the scratch arrays left by the last Extract call.
	Buffers() Buffers

	// Close releases scratch buffers. The extractor must not be used afterwards.
	Close()
}

// Options configure an extractor.
type Options struct {
	// SkipEmpty compacts occupied voxels before triangle generation. When
	// false, generation runs over every voxel.
	SkipEmpty bool
	// Workers bounds the parallel executor. Zero means GOMAXPROCS.
	Workers int
	// MaxVerts caps the vertex total of a run. Zero sizes output exactly.
	MaxVerts int
	// Observer, when set, receives an event after every stage.
	Observer func(StageEvent)
}

// DefaultOptions returns options with compaction enabled and exact sizing.
func DefaultOptions() Options {
	return Options{SkipEmpty: true}
}

// StageEvent describes one completed pipeline stage.
type StageEvent struct {
	Stage    string        `json:"stage"`
	Items    uint32        `json:"items"`
	Groups   uint64        `json:"groups"`
	Duration time.Duration `json:"duration"`
	// Total is the scan total for scan stages.
	Total uint32 `json:"total,omitempty"`
}

// StageTiming records how long a stage took.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// Result is the output geometry of one extraction.
type Result struct {
	Grid         Grid          `json:"grid"`
	IsoValue     float32       `json:"isoValue"`
	ActiveVoxels uint32        `json:"activeVoxels"`
	TotalVerts   uint32        `json:"totalVerts"`
	Positions    []Vec4        `json:"-"`
	Normals      []Vec4        `json:"-"`
	Stages       []StageTiming `json:"stages"`
}

// Triangles is the number of emitted triangles.
func (r *Result) Triangles() int {
	return int(r.TotalVerts) / 3
}

// Empty reports whether the run produced no geometry.
func (r *Result) Empty() bool {
	return r.TotalVerts == 0
}

// Buffers is a read-only view of the per-voxel scratch arrays. Compacted
// holds only the active prefix and is empty when compaction is skipped.
type Buffers struct {
	VoxelVerts        []uint32
	VoxelVertsScan    []uint32
	VoxelOccupied     []uint32
	VoxelOccupiedScan []uint32
	Compacted         []uint32
}

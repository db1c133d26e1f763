package mc

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const (
	// ClassifyThreads is the work-group size of the classification and compaction stages.
	ClassifyThreads = 128
	// GenerateThreads is the work-group size of triangle generation.
	GenerateThreads = 32
	// MaxGroupsPerDim is the largest number of work-groups along one launch dimension.
	MaxGroupsPerDim = 65535
)

// LaunchGeometry describes how N work-items are grouped for a stage.
//
// Work-item (gx, gy, t) handles id (gy*GroupsX+gx)*Threads + t. Ids at or
// beyond N do nothing.
type LaunchGeometry struct {
	N       uint32
	Threads uint32
	GroupsX uint32
	GroupsY uint32
}

// NewLaunchGeometry covers n work-items with groups of the given size. When
// more than MaxGroupsPerDim groups are needed the X dimension is halved
// (rounding up) and Y doubled until it fits, so no work-item is lost.
func NewLaunchGeometry(n, threads uint32) LaunchGeometry {
	if threads == 0 {
		threads = 1
	}
	groups := uint32((uint64(n) + uint64(threads) - 1) / uint64(threads))
	geom := LaunchGeometry{N: n, Threads: threads, GroupsX: groups, GroupsY: 1}
	for geom.GroupsX > MaxGroupsPerDim {
		geom.GroupsX = (geom.GroupsX + 1) / 2
		geom.GroupsY *= 2
	}
	return geom
}

// Groups is the total number of launched work-groups.
func (g LaunchGeometry) Groups() uint64 {
	return uint64(g.GroupsX) * uint64(g.GroupsY)
}

// Capacity is the number of work-item slots launched, including idle ones.
func (g LaunchGeometry) Capacity() uint64 {
	return g.Groups() * uint64(g.Threads)
}

// runGroup executes the in-range work-items of linear group index gi.
func (g LaunchGeometry) runGroup(gi uint64, kernel Kernel) {
	base := gi * uint64(g.Threads)
	for t := uint64(0); t < uint64(g.Threads); t++ {
		id := base + t
		if id >= uint64(g.N) {
			return
		}
		kernel(uint32(id))
	}
}

// Kernel is the body of one work-item.
type Kernel func(id uint32)

// Executor runs a kernel over a launch geometry. Launch returns only after
// every work-item has finished.
type Executor interface {
	Launch(ctx context.Context, geom LaunchGeometry, kernel Kernel) error
	Name() string
}

// SerialExecutor runs work-groups one after another on the calling goroutine.
type SerialExecutor struct{}

func (SerialExecutor) Name() string { return "serial" }

func (SerialExecutor) Launch(ctx context.Context, geom LaunchGeometry, kernel Kernel) error {
	for gy := uint32(0); gy < geom.GroupsY; gy++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for gx := uint32(0); gx < geom.GroupsX; gx++ {
			geom.runGroup(uint64(gy)*uint64(geom.GroupsX)+uint64(gx), kernel)
		}
	}
	return nil
}

// ParallelExecutor spreads work-groups over a bounded set of goroutines.
// Kernels must only write to slots owned by their own id.
type ParallelExecutor struct {
	workers int
}

// chunksPerWorker controls how finely groups are split between goroutines.
const chunksPerWorker = 4

// NewParallelExecutor creates an executor with the given worker limit.
// Zero or negative means GOMAXPROCS.
func NewParallelExecutor(workers int) *ParallelExecutor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &ParallelExecutor{workers: workers}
}

func (p *ParallelExecutor) Name() string { return "parallel" }

// Workers returns the goroutine limit.
func (p *ParallelExecutor) Workers() int { return p.workers }

func (p *ParallelExecutor) Launch(ctx context.Context, geom LaunchGeometry, kernel Kernel) error {
	total := geom.Groups()
	if total == 0 {
		return ctx.Err()
	}

	chunks := uint64(p.workers * chunksPerWorker)
	if chunks > total {
		chunks = total
	}
	per := (total + chunks - 1) / chunks

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for lo := uint64(0); lo < total; lo += per {
		hi := min(lo+per, total)
		g.Go(func() error {
			for gi := lo; gi < hi; gi++ {
				if gi&63 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				geom.runGroup(gi, kernel)
			}
			return nil
		})
	}
	return g.Wait()
}

package mc

import (
	"context"
	"fmt"
)

// scanBlockSize is the number of elements each work-item scans in the
// parallel prefix sum.
const scanBlockSize = 4096

// ExclusiveScan writes the exclusive prefix sum of src into dst and returns
// the grand total. dst and src must have the same length; they may alias.
func ExclusiveScan(dst, src []uint32) uint32 {
	if len(dst) != len(src) {
		panic(fmt.Sprintf("mc: scan length mismatch %d != %d", len(dst), len(src)))
	}
	var sum uint32
	for i, v := range src {
		dst[i] = sum
		sum += v
	}
	return sum
}

// Total derives the grand total of a completed exclusive scan from the last
// input and scan elements.
func Total(input, scan []uint32) uint32 {
	n := len(input)
	if n == 0 {
		return 0
	}
	return input[n-1] + scan[n-1]
}

// ParallelExclusiveScan computes the same result as ExclusiveScan using the
// executor. Blocks are summed in parallel, the block sums are scanned
// sequentially, and each block is then scanned from its offset. The function
// returns only after all three passes have completed.
func ParallelExclusiveScan(ctx context.Context, exec Executor, dst, src []uint32) (uint32, error) {
	if len(dst) != len(src) {
		return 0, fmt.Errorf("scan length mismatch: dst %d, src %d", len(dst), len(src))
	}
	n := len(src)
	blocks := (n + scanBlockSize - 1) / scanBlockSize
	if blocks <= 1 {
		return ExclusiveScan(dst, src), ctx.Err()
	}

	sums := make([]uint32, blocks)
	geom := NewLaunchGeometry(uint32(blocks), 1)

	err := exec.Launch(ctx, geom, func(b uint32) {
		lo, hi := blockRange(int(b), n)
		var s uint32
		for _, v := range src[lo:hi] {
			s += v
		}
		sums[b] = s
	})
	if err != nil {
		return 0, err
	}

	total := ExclusiveScan(sums, sums)

	err = exec.Launch(ctx, geom, func(b uint32) {
		lo, hi := blockRange(int(b), n)
		s := sums[b]
		for i := lo; i < hi; i++ {
			v := src[i]
			dst[i] = s
			s += v
		}
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func blockRange(b, n int) (lo, hi int) {
	lo = b * scanBlockSize
	hi = min(lo+scanBlockSize, n)
	return lo, hi
}

package mc

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/marchingcubes/internal/opt"
)

// TuneResult is the outcome of an isovalue search.
type TuneResult struct {
	IsoValue    float32 `json:"isoValue"`
	Triangles   int     `json:"triangles"`
	Target      int     `json:"target"`
	Cost        float64 `json:"cost"`
	Evaluations int     `json:"evaluations"`
}

// TuneIsoValue searches [lower, upper] for the isovalue whose surface has a
// triangle count closest to target. The cost of an isovalue is
// |triangles - target| / max(target, 1).
func TuneIsoValue(ctx context.Context, ext Extractor, vol *Volume, target int, optimizer opt.Optimizer, lower, upper float32) (*TuneResult, error) {
	if lower > upper {
		return nil, fmt.Errorf("invalid isovalue range [%g, %g]", lower, upper)
	}
	denom := float64(max(target, 1))

	var evals int
	var evalErr error
	cost := func(iso float32) (float64, int) {
		evals++
		res, err := ext.Extract(ctx, vol, iso)
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return math.Inf(1), 0
		}
		tris := res.Triangles()
		return math.Abs(float64(tris-target)) / denom, tris
	}

	best, _ := optimizer.Run(func(x []float64) float64 {
		c, _ := cost(float32(x[0]))
		return c
	}, []float64{float64(lower)}, []float64{float64(upper)}, 1)

	if evalErr != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("tune: %w", ctx.Err())
	}

	iso := float32(best[0])
	c, tris := cost(iso)
	if math.IsInf(c, 1) {
		return nil, fmt.Errorf("tune: %w", evalErr)
	}

	slog.Info("Isovalue tuned", "iso", iso, "triangles", tris, "target", target, "evaluations", evals)
	return &TuneResult{IsoValue: iso, Triangles: tris, Target: target, Cost: c, Evaluations: evals}, nil
}

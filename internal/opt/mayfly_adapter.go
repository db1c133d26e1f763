package opt

import (
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// minPopulation is the smallest population mayfly accepts.
const minPopulation = 20

// MayflyAdapter runs the mayfly algorithm behind the Optimizer interface.
//
// mayfly only supports a single scalar bound for all dimensions, so the
// adapter searches the unit cube and maps positions onto the caller's
// per-dimension bounds.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a mayfly optimizer. Population sizes below the library
// minimum are raised to it.
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  max(popSize, minPopulation),
		seed:     seed,
	}
}

func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	scale := func(unit []float64) []float64 {
		params := make([]float64, dim)
		for i := range params {
			params[i] = lower[i] + unit[i]*(upper[i]-lower[i])
		}
		return Clamp(params, lower, upper)
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(unit []float64) float64 { return eval(scale(unit)) }
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		slog.Warn("Mayfly optimization failed, using lower bounds", "error", err)
		params := make([]float64, dim)
		copy(params, lower)
		return params, eval(params)
	}

	return scale(result.GlobalBest.Position), result.GlobalBest.Cost
}

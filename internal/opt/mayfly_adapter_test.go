package opt

import (
	"math"
	"testing"
)

// shiftedSphere has its minimum at (1, -2, ...) repeated.
func shiftedSphere(x []float64) float64 {
	var sum float64
	for i, v := range x {
		c := 1.0
		if i%2 == 1 {
			c = -2
		}
		sum += (v - c) * (v - c)
	}
	return sum
}

func TestMayflyAdapterOnShiftedSphere(t *testing.T) {
	optimizer := NewMayfly(100, 20, 42)

	dim := 2
	lower := []float64{-10, -5}
	upper := []float64{10, 5}

	best, cost := optimizer.Run(shiftedSphere, lower, upper, dim)

	if len(best) != dim {
		t.Fatalf("Expected %d parameters, got %d", dim, len(best))
	}
	if cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", cost)
	}
	want := []float64{1, -2}
	for i, v := range best {
		if math.Abs(v-want[i]) > 0.5 {
			t.Errorf("Parameter %d = %f, want near %f", i, v, want[i])
		}
	}
}

func TestMayflyAdapterRespectsBounds(t *testing.T) {
	optimizer := NewMayfly(30, 20, 7)
	lower := []float64{0.25}
	upper := []float64{0.5}

	// Unconstrained minimum lies outside the box at 2.
	best, _ := optimizer.Run(func(x []float64) float64 {
		if x[0] < lower[0] || x[0] > upper[0] {
			t.Errorf("objective evaluated outside bounds: %f", x[0])
		}
		return (x[0] - 2) * (x[0] - 2)
	}, lower, upper, 1)

	if best[0] < lower[0] || best[0] > upper[0] {
		t.Errorf("best = %f, want within [%f, %f]", best[0], lower[0], upper[0])
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	dim := 2
	lower := []float64{-5, -5}
	upper := []float64{5, 5}

	optimizer1 := NewMayfly(50, 20, 123)
	_, cost1 := optimizer1.Run(shiftedSphere, lower, upper, dim)

	optimizer2 := NewMayfly(50, 20, 123)
	_, cost2 := optimizer2.Run(shiftedSphere, lower, upper, dim)

	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", cost1, cost2)
	}
}

func TestNewMayflyRaisesSmallPopulation(t *testing.T) {
	m := NewMayfly(10, 5, 1).(*MayflyAdapter)
	if m.popSize != minPopulation {
		t.Errorf("popSize = %d, want %d", m.popSize, minPopulation)
	}
}

func TestClamp(t *testing.T) {
	got := Clamp([]float64{-1, 0.5, 3}, []float64{0, 0, 0}, []float64{1, 1, 1})
	want := []float64{0, 0.5, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Clamp[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

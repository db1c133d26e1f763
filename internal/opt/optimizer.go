package opt

// Optimizer minimizes an objective over a bounded box.
type Optimizer interface {
	// Run minimizes eval over [lower[i], upper[i]] for each of dim
	// parameters and returns the best parameters and their cost.
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// Clamp limits each parameter to its bounds in place and returns params.
func Clamp(params, lower, upper []float64) []float64 {
	for i := range params {
		if params[i] < lower[i] {
			params[i] = lower[i]
		}
		if params[i] > upper[i] {
			params[i] = upper[i]
		}
	}
	return params
}

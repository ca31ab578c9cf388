package stats

import (
	"fmt"
	"math"
)

// Asymptotic quantiles of the Dickey-Fuller tau distribution (regression with
// constant, no trend). p-values between entries are linearly interpolated;
// beyond the tails they clamp to [0.001, 0.999].
var dfTauQuantiles = []struct {
	p   float64
	tau float64
}{
	{0.01, -3.43},
	{0.025, -3.12},
	{0.05, -2.86},
	{0.10, -2.57},
	{0.25, -2.07},
	{0.50, -1.57},
	{0.75, -1.00},
	{0.90, -0.44},
	{0.95, -0.07},
	{0.99, 0.60},
}

// Engle-Granger tau quantiles for two cointegrating variables with constant.
var egTauQuantiles = []struct {
	p   float64
	tau float64
}{
	{0.01, -3.90},
	{0.025, -3.59},
	{0.05, -3.34},
	{0.10, -3.04},
	{0.25, -2.58},
	{0.50, -2.03},
	{0.75, -1.51},
	{0.90, -1.00},
	{0.95, -0.70},
	{0.99, -0.15},
}

// StationarityTest runs an augmented Dickey-Fuller test (constant, no trend)
// on the series and returns the approximate p-value. Low p-value rejects the
// unit root, i.e. the series is stationary.
func (Native) StationarityTest(series []float64) (float64, error) {
	tau, err := adfTau(series)
	if err != nil {
		return 0, fmt.Errorf("stats.StationarityTest: %w", err)
	}
	return interpolatePValue(tau, dfTauQuantiles), nil
}

// CointegrationTest runs the Engle-Granger two-step test: OLS of a on b, then
// a unit-root test on the residual against the cointegration quantiles.
func (n Native) CointegrationTest(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("stats.CointegrationTest: length mismatch %d vs %d", len(a), len(b))
	}
	fit, err := n.OLS(a, b)
	if err != nil {
		return 0, fmt.Errorf("stats.CointegrationTest: %w", err)
	}
	tau, err := adfTau(fit.Residuals)
	if err != nil {
		return 0, fmt.Errorf("stats.CointegrationTest: %w", err)
	}
	return interpolatePValue(tau, egTauQuantiles), nil
}

// adfTau computes the ADF t-statistic: the regression
//
//	Δy_t = c + γ·y_{t-1} + Σ φ_i·Δy_{t-i} + ε_t
//
// with lag order floor(cbrt(n)), returning t(γ) = γ/se(γ).
func adfTau(y []float64) (float64, error) {
	n := len(y)
	if n < 10 {
		return 0, fmt.Errorf("%w (n=%d, need 10)", errTooShort, n)
	}

	lags := int(math.Cbrt(float64(n)))
	if lags < 1 {
		lags = 1
	}
	// La regresión necesita n - 1 - lags filas y lags + 2 regresores
	for n-1-lags <= lags+2 && lags > 0 {
		lags--
	}

	diff := make([]float64, n-1)
	for i := 1; i < n; i++ {
		diff[i-1] = y[i] - y[i-1]
	}

	start := lags // primer índice de diff utilizable
	rows := make([][]float64, 0, len(diff)-start)
	dep := make([]float64, 0, len(diff)-start)
	for t := start; t < len(diff); t++ {
		row := make([]float64, 0, lags+2)
		row = append(row, 1)    // constante
		row = append(row, y[t]) // y_{t-1} (nivel rezagado)
		for i := 1; i <= lags; i++ {
			row = append(row, diff[t-i])
		}
		rows = append(rows, row)
		dep = append(dep, diff[t])
	}

	coef, stderr, err := multiOLS(dep, rows)
	if err != nil {
		return 0, err
	}
	if stderr[1] == 0 || math.IsNaN(stderr[1]) {
		return 0, fmt.Errorf("degenerate regression (zero stderr)")
	}
	return coef[1] / stderr[1], nil
}

// interpolatePValue maps a tau statistic to a p-value by piecewise-linear
// interpolation over the quantile table.
func interpolatePValue(tau float64, table []struct{ p, tau float64 }) float64 {
	if tau <= table[0].tau {
		return 0.001
	}
	last := table[len(table)-1]
	if tau >= last.tau {
		return 0.999
	}
	for i := 1; i < len(table); i++ {
		lo, hi := table[i-1], table[i]
		if tau <= hi.tau {
			frac := (tau - lo.tau) / (hi.tau - lo.tau)
			return lo.p + frac*(hi.p-lo.p)
		}
	}
	return 0.999
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Sqrt(x)
}

package ports

// OLSResult is the output of an ordinary least squares fit y ~ alpha + beta·x.
type OLSResult struct {
	Alpha     float64
	Beta      float64
	RSquared  float64
	Residuals []float64
}

// Statistics is the numeric library the analyzer consumes. The engine only
// uses the outputs; the tests behind them are an external concern.
type Statistics interface {
	// OLS fits y ~ alpha + beta·x. len(y) == len(x) >= 3.
	OLS(y, x []float64) (OLSResult, error)

	// StationarityTest returns the p-value of a unit-root test on the series
	// (low p-value = stationary).
	StationarityTest(series []float64) (float64, error)

	// CointegrationTest returns the p-value of a cointegration test between
	// the two raw series (low p-value = cointegrated).
	CointegrationTest(a, b []float64) (float64, error)
}

package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOLSExactLinearFit(t *testing.T) {
	x := make([]float64, 12)
	y := make([]float64, 12)
	for i := range x {
		x[i] = float64(i)
		y[i] = 2.0 + 3.0*x[i]
	}

	res, err := Native{}.OLS(y, x)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, res.Alpha, 1e-9)
	assert.InDelta(t, 3.0, res.Beta, 1e-9)
	assert.InDelta(t, 1.0, res.RSquared, 1e-9)
	require.Len(t, res.Residuals, 12)
	for _, r := range res.Residuals {
		assert.InDelta(t, 0.0, r, 1e-9)
	}
}

func TestOLSNegativeBeta(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{10, 8, 6, 4, 2}

	res, err := Native{}.OLS(y, x)
	require.NoError(t, err)
	assert.InDelta(t, -2.0, res.Beta, 1e-9)
	assert.InDelta(t, 12.0, res.Alpha, 1e-9)
}

func TestOLSConstantDependentIsPerfectFit(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{7, 7, 7, 7}

	res, err := Native{}.OLS(y, x)
	require.NoError(t, err)
	assert.Zero(t, res.Beta)
	assert.InDelta(t, 7.0, res.Alpha, 1e-9)
	assert.Equal(t, 1.0, res.RSquared)
}

func TestOLSZeroVarianceRegressor(t *testing.T) {
	x := []float64{5, 5, 5, 5}
	y := []float64{1, 2, 3, 4}

	_, err := Native{}.OLS(y, x)
	assert.Error(t, err)
}

func TestOLSLengthMismatch(t *testing.T) {
	_, err := Native{}.OLS([]float64{1, 2, 3}, []float64{1, 2})
	assert.Error(t, err)
}

func TestOLSTooShort(t *testing.T) {
	_, err := Native{}.OLS([]float64{1, 2}, []float64{3, 4})
	assert.ErrorIs(t, err, errTooShort)
}

package stats

import (
	"errors"
	"fmt"
	"math"

	"github.com/marquinhogomes/pairtrader/internal/ports"
)

// Native implements ports.Statistics with closed-form regressions.
// No global state: every method is a pure function of its inputs.
type Native struct{}

// New returns the default statistics implementation.
func New() *Native { return &Native{} }

var errTooShort = errors.New("stats: series too short")

// OLS fits y ~ alpha + beta·x by ordinary least squares.
func (Native) OLS(y, x []float64) (ports.OLSResult, error) {
	n := len(y)
	if n != len(x) {
		return ports.OLSResult{}, fmt.Errorf("stats.OLS: length mismatch %d vs %d", n, len(x))
	}
	if n < 3 {
		return ports.OLSResult{}, fmt.Errorf("stats.OLS: %w (n=%d)", errTooShort, n)
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var covXY, varX float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		covXY += dx * (y[i] - meanY)
		varX += dx * dx
	}
	if varX == 0 {
		return ports.OLSResult{}, fmt.Errorf("stats.OLS: regressor has zero variance")
	}

	beta := covXY / varX
	alpha := meanY - beta*meanX

	res := ports.OLSResult{
		Alpha:     alpha,
		Beta:      beta,
		Residuals: make([]float64, n),
	}

	var ssr, sst float64
	for i := 0; i < n; i++ {
		fitted := alpha + beta*x[i]
		r := y[i] - fitted
		res.Residuals[i] = r
		ssr += r * r
		dy := y[i] - meanY
		sst += dy * dy
	}
	if sst > 0 {
		res.RSquared = 1 - ssr/sst
	} else {
		// y constante: el ajuste es exacto por construcción
		res.RSquared = 1
	}
	return res, nil
}

// multiOLS solves a k-regressor least squares fit via the normal equations
// (X'X)b = X'y with Gaussian elimination and partial pivoting. rows[i] is one
// observation's regressor vector. Returns the coefficients and the standard
// error of each coefficient.
func multiOLS(y []float64, rows [][]float64) (coef, stderr []float64, err error) {
	n := len(y)
	if n == 0 || len(rows) != n {
		return nil, nil, errors.New("stats.multiOLS: bad dimensions")
	}
	k := len(rows[0])
	if n <= k {
		return nil, nil, errTooShort
	}

	// X'X y X'y
	xtx := make([][]float64, k)
	xty := make([]float64, k)
	for i := range xtx {
		xtx[i] = make([]float64, k)
	}
	for r := 0; r < n; r++ {
		for i := 0; i < k; i++ {
			xty[i] += rows[r][i] * y[r]
			for j := 0; j < k; j++ {
				xtx[i][j] += rows[r][i] * rows[r][j]
			}
		}
	}

	inv, err := invert(xtx)
	if err != nil {
		return nil, nil, err
	}

	coef = make([]float64, k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			coef[i] += inv[i][j] * xty[j]
		}
	}

	var ssr float64
	for r := 0; r < n; r++ {
		fitted := 0.0
		for i := 0; i < k; i++ {
			fitted += coef[i] * rows[r][i]
		}
		d := y[r] - fitted
		ssr += d * d
	}
	sigma2 := ssr / float64(n-k)

	stderr = make([]float64, k)
	for i := 0; i < k; i++ {
		stderr[i] = sqrt(sigma2 * inv[i][i])
	}
	return coef, stderr, nil
}

// invert inverts a small symmetric positive matrix by Gauss-Jordan with
// partial pivoting.
func invert(m [][]float64) ([][]float64, error) {
	k := len(m)
	a := make([][]float64, k)
	inv := make([][]float64, k)
	for i := 0; i < k; i++ {
		a[i] = append([]float64(nil), m[i]...)
		inv[i] = make([]float64, k)
		inv[i][i] = 1
	}

	for col := 0; col < k; col++ {
		pivot := col
		for r := col + 1; r < k; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, errors.New("stats.invert: singular matrix")
		}
		a[col], a[pivot] = a[pivot], a[col]
		inv[col], inv[pivot] = inv[pivot], inv[col]

		p := a[col][col]
		for j := 0; j < k; j++ {
			a[col][j] /= p
			inv[col][j] /= p
		}
		for r := 0; r < k; r++ {
			if r == col {
				continue
			}
			f := a[r][col]
			for j := 0; j < k; j++ {
				a[r][j] -= f * a[col][j]
				inv[r][j] -= f * inv[col][j]
			}
		}
	}
	return inv, nil
}

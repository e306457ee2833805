package control

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cubic(a, b, c, d, x float64) float64 {
	return a*x*x*x + b*x*x + c*x + d
}

func residualSumSquares(xs, ys []float64, p Polynomial) float64 {
	rss := 0.0
	for i := range xs {
		r := ys[i] - p.Eval(xs[i])
		rss += r * r
	}
	return rss
}

func TestFitReferencePolynomial(t *testing.T) {
	t.Parallel()

	t.Run("recovers exact cubic coefficients", func(t *testing.T) {
		t.Parallel()
		a, b, c, d := 0.02, -0.3, 1.5, -4.0
		xs := []float64{-6, -3, -1, 0, 2, 4, 7, 11}
		ys := make([]float64, len(xs))
		for i, x := range xs {
			ys[i] = cubic(a, b, c, d, x)
		}

		p, err := FitReferencePolynomial(xs, ys, 3)
		require.NoError(t, err)

		coeffs := p.Coefficients()
		require.Len(t, coeffs, 4)
		assert.InDelta(t, d, coeffs[0], 1e-8)
		assert.InDelta(t, c, coeffs[1], 1e-8)
		assert.InDelta(t, b, coeffs[2], 1e-8)
		assert.InDelta(t, a, coeffs[3], 1e-8)
	})

	t.Run("noisy fit beats a brute-force coefficient grid", func(t *testing.T) {
		t.Parallel()
		rng := rand.New(rand.NewSource(7))
		xs := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8}
		ys := make([]float64, len(xs))
		for i, x := range xs {
			ys[i] = cubic(0.05, -0.2, 0.8, 1.0, x) + (rng.Float64()-0.5)*0.4
		}

		p, err := FitReferencePolynomial(xs, ys, 3)
		require.NoError(t, err)
		fitted := residualSumSquares(xs, ys, p)

		// Coarse grid around the generating coefficients; least squares must
		// do at least as well as every grid point.
		for _, da := range []float64{-0.02, 0, 0.02} {
			for _, db := range []float64{-0.1, 0, 0.1} {
				for _, dc := range []float64{-0.2, 0, 0.2} {
					for _, dd := range []float64{-0.5, 0, 0.5} {
						candidate := Polynomial{coeffs: []float64{1.0 + dd, 0.8 + dc, -0.2 + db, 0.05 + da}}
						assert.LessOrEqual(t, fitted, residualSumSquares(xs, ys, candidate)+1e-9)
					}
				}
			}
		}
	})

	t.Run("eval and slope agree with coefficients", func(t *testing.T) {
		t.Parallel()
		p := Polynomial{coeffs: []float64{-4.0, 1.5, -0.3, 0.02}}
		x := 3.0
		assert.InDelta(t, cubic(0.02, -0.3, 1.5, -4.0, x), p.Eval(x), 1e-12)
		assert.InDelta(t, 3*0.02*x*x+2*(-0.3)*x+1.5, p.Slope(x), 1e-12)
	})

	t.Run("identical x values yield degenerate fit, not a wrong curve", func(t *testing.T) {
		t.Parallel()
		xs := []float64{5, 5, 5, 5, 5}
		ys := []float64{0, 1, 2, 3, 4}

		_, err := FitReferencePolynomial(xs, ys, 3)
		assert.ErrorIs(t, err, ErrDegenerateFit)
	})

	t.Run("too few distinct x values for the degree fails", func(t *testing.T) {
		t.Parallel()
		xs := []float64{0, 1, 2, 0, 1}
		ys := []float64{0, 1, 2, 0, 1}

		_, err := FitReferencePolynomial(xs, ys, 3)
		assert.ErrorIs(t, err, ErrDegenerateFit)
	})
}

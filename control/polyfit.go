package control

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Polynomial is the reference curve for one cycle, coefficients in ascending
// order. Immutable once fit.
type Polynomial struct {
	coeffs []float64
}

// Coefficients returns a copy of the coefficients, constant term first.
func (p Polynomial) Coefficients() []float64 {
	out := make([]float64, len(p.coeffs))
	copy(out, p.coeffs)
	return out
}

// Eval evaluates the polynomial at x.
func (p Polynomial) Eval(x float64) float64 {
	v := 0.0
	for i := len(p.coeffs) - 1; i >= 0; i-- {
		v = v*x + p.coeffs[i]
	}
	return v
}

// Slope evaluates the first derivative at x.
func (p Polynomial) Slope(x float64) float64 {
	v := 0.0
	for i := len(p.coeffs) - 1; i >= 1; i-- {
		v = v*x + float64(i)*p.coeffs[i]
	}
	return v
}

// FitReferencePolynomial computes the least-squares polynomial of the given
// degree through local-frame samples, minimizing squared residuals in y. The
// solve goes through a QR factorization of the Vandermonde matrix rather
// than the normal equations, which would square the condition number.
//
// A near-vertical path segment in the local frame collapses the x spread and
// makes the system rank-deficient; that case returns ErrDegenerateFit
// instead of a silently wrong curve.
func FitReferencePolynomial(xs, ys []float64, degree int) (Polynomial, error) {
	if len(xs) != len(ys) {
		return Polynomial{}, ErrMalformedTelemetry
	}
	if distinctCount(xs) < degree+1 {
		return Polynomial{}, ErrDegenerateFit
	}

	n := len(xs)
	a := mat.NewDense(n, degree+1, nil)
	for i := 0; i < n; i++ {
		v := 1.0
		for j := 0; j <= degree; j++ {
			a.Set(i, j, v)
			v *= xs[i]
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), ys...))

	var qr mat.QR
	qr.Factorize(a)

	coeffs := mat.NewDense(degree+1, 1, nil)
	if err := qr.SolveTo(coeffs, false, b); err != nil {
		// gonum reports an ill-conditioned or singular system here.
		return Polynomial{}, errors.Wrap(ErrDegenerateFit, err.Error())
	}

	out := make([]float64, degree+1)
	for j := 0; j <= degree; j++ {
		c := coeffs.At(j, 0)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Polynomial{}, ErrDegenerateFit
		}
		out[j] = c
	}
	return Polynomial{coeffs: out}, nil
}

func distinctCount(xs []float64) int {
	const eps = 1e-9
	distinct := 0
	for i, x := range xs {
		repeat := false
		for j := 0; j < i; j++ {
			if math.Abs(xs[j]-x) < eps {
				repeat = true
				break
			}
		}
		if !repeat {
			distinct++
		}
	}
	return distinct
}

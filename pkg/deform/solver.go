package deform

import "math"

// SolveCG solves A*x = b for a symmetric positive semi-definite A using
// Jacobi-preconditioned conjugate gradient (§4.6 step 3's named fallback to
// direct sparse Cholesky — no sparse-Cholesky library is available, so CG is
// the implementation here). Returns the approximate solution after either
// convergence (residual norm below tol) or maxIter steps.
func SolveCG(a *CSRMatrix, b []float64, maxIter int, tol float64) []float64 {
	n := a.N
	x := make([]float64, n)
	diag := a.Diag()
	precond := make([]float64, n)
	for i, d := range diag {
		if d != 0 {
			precond[i] = 1 / d
		} else {
			precond[i] = 1
		}
	}

	r := make([]float64, n)
	copy(r, b) // r = b - A*x, x starts at 0
	z := applyPrecond(precond, r)
	p := make([]float64, n)
	copy(p, z)
	rz := dot(r, z)

	if math.Sqrt(dot(r, r)) < tol {
		return x
	}

	for iter := 0; iter < maxIter; iter++ {
		ap := a.MulVec(p)
		denom := dot(p, ap)
		if denom == 0 {
			break
		}
		alpha := rz / denom
		for i := range x {
			x[i] += alpha * p[i]
			r[i] -= alpha * ap[i]
		}
		if math.Sqrt(dot(r, r)) < tol {
			break
		}
		z = applyPrecond(precond, r)
		rzNew := dot(r, z)
		beta := rzNew / rz
		for i := range p {
			p[i] = z[i] + beta*p[i]
		}
		rz = rzNew
	}
	return x
}

func applyPrecond(precond, r []float64) []float64 {
	out := make([]float64, len(r))
	for i := range r {
		out[i] = precond[i] * r[i]
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

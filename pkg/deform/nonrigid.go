package deform

import (
	"math"
	"sort"

	"github.com/facefit/facefit/pkg/facefit"
	"github.com/facefit/facefit/pkg/geometry"
)

// Config controls the non-rigid deformer (§4.6), field names mirroring
// `backend/nonrigid_icp.py`'s NonRigidConfig.
type Config struct {
	MaxIterations          int
	Stiffness              float64 // alpha
	LandmarkWeight         float64
	ConvergenceThreshold   float64
	MaxCorrespondDist      float64
}

// DefaultConfig mirrors the §6 table's non-rigid deformer defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        80,
		Stiffness:            5,
		LandmarkWeight:       50,
		ConvergenceThreshold: 1e-5,
		MaxCorrespondDist:    0.03,
	}
}

// LandmarkPin binds a template vertex to a fixed target position, pulling
// the solve toward it via a diagonal weight on that row (§4.6 step 2).
type LandmarkPin struct {
	VertexIndex int
	Target      facefit.Point3D
}

// Deform runs Laplacian-regularized non-rigid ICP (§4.6): starting from the
// rigidly aligned template (v0, faces), iteratively finds nearest-neighbor
// correspondences in target and solves a per-coordinate sparse SPD system
// blending data fidelity, Laplacian smoothness, and optional landmark pins.
func Deform(v0 []facefit.Point3D, faces []facefit.Face, target facefit.PointCloud, pins []LandmarkPin, cfg Config) (facefit.NonRigidResult, error) {
	if len(v0) == 0 {
		return facefit.NonRigidResult{}, facefit.ErrEmptyInput
	}
	if target.Len() == 0 {
		return facefit.NonRigidResult{}, facefit.ErrEmptyInput
	}

	targetTree, err := geometry.Build(target.Points)
	if err != nil {
		return facefit.NonRigidResult{}, err
	}

	n := len(v0)
	laplacian := BuildLaplacian(n, faces)
	ltl := LtL(laplacian, cfg.Stiffness)

	landmarkWeight := make([]float64, n)
	landmarkTarget := [3][]float64{make([]float64, n), make([]float64, n), make([]float64, n)}
	for _, pin := range pins {
		if pin.VertexIndex < 0 || pin.VertexIndex >= n {
			continue
		}
		landmarkWeight[pin.VertexIndex] = cfg.LandmarkWeight
		landmarkTarget[0][pin.VertexIndex] = cfg.LandmarkWeight * pin.Target.X
		landmarkTarget[1][pin.VertexIndex] = cfg.LandmarkWeight * pin.Target.Y
		landmarkTarget[2][pin.VertexIndex] = cfg.LandmarkWeight * pin.Target.Z
	}

	current := make([]facefit.Point3D, n)
	copy(current, v0)

	result := facefit.NonRigidResult{}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	for iter := 0; iter < maxIter; iter++ {
		mask := make([]float64, n)
		px, py, pz := make([]float64, n), make([]float64, n), make([]float64, n)
		for i, v := range current {
			idx, dist := targetTree.Nearest(v)
			if idx < 0 || dist > cfg.MaxCorrespondDist {
				continue
			}
			mask[i] = 1
			tp := target.Points[idx]
			px[i], py[i], pz[i] = tp.X, tp.Y, tp.Z
		}

		diagExtra := make([]float64, n)
		for i := 0; i < n; i++ {
			diagExtra[i] = mask[i] + landmarkWeight[i]
		}
		a := AddDiagonal(ltl, diagExtra)

		xCur, yCur, zCur := make([]float64, n), make([]float64, n), make([]float64, n)
		for i, v := range current {
			xCur[i], yCur[i], zCur[i] = v.X, v.Y, v.Z
		}

		bx := rhsVector(mask, px, ltl, xCur, landmarkTarget[0])
		by := rhsVector(mask, py, ltl, yCur, landmarkTarget[1])
		bz := rhsVector(mask, pz, ltl, zCur, landmarkTarget[2])

		newX := SolveCG(a, bx, 200, 1e-8)
		newY := SolveCG(a, by, 200, 1e-8)
		newZ := SolveCG(a, bz, 200, 1e-8)

		var sqSum float64
		next := make([]facefit.Point3D, n)
		for i := 0; i < n; i++ {
			next[i] = facefit.Point3D{X: newX[i], Y: newY[i], Z: newZ[i]}
			d := next[i].Sub(current[i])
			sqSum += d.Dot(d)
		}
		rms := math.Sqrt(sqSum / float64(n))
		current = next
		result.IterationsUsed = iter + 1

		if rms < cfg.ConvergenceThreshold {
			result.Converged = true
			break
		}
	}

	errs := make([]float64, n)
	reportRadius := 2 * cfg.MaxCorrespondDist
	var validErrs []float64
	for i, v := range current {
		_, dist := targetTree.Nearest(v)
		errs[i] = dist
		if dist <= reportRadius {
			validErrs = append(validErrs, dist)
		}
	}
	if len(validErrs) == 0 {
		validErrs = errs
	}

	disp := make([]facefit.Point3D, n)
	for i := range current {
		disp[i] = current[i].Sub(v0[i])
	}

	result.DeformedVertices = current
	result.Displacement = facefit.DisplacementField{Values: disp}
	result.VertexErrors = errs
	result.MeanErrorM = mean(validErrs)
	result.P95ErrorM = percentile(validErrs, 0.95)
	result.MaxErrorM = maxOf(validErrs)

	return result, nil
}

// rhsVector assembles one coordinate's right-hand side:
// W*p + alpha*L^T*L*x_current + landmark_target (the alpha*LtL*x term is the
// "keep smooth relative to current" regularization the fixed-point iteration
// uses, since A already carries alpha*LtL on the left — so the RHS
// contribution is the same product evaluated at x_current, matching
// `nonrigid_icp.py`'s iterative reweighting of the system about the current
// estimate).
func rhsVector(mask, targetCoord []float64, ltl *CSRMatrix, xCurrent, landmarkTarget []float64) []float64 {
	n := len(mask)
	smoothing := ltl.MulVec(xCurrent)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		b[i] = mask[i]*targetCoord[i] + smoothing[i] + landmarkTarget[i]
	}
	return b
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func maxOf(xs []float64) float64 {
	m := 0.0
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

// percentile returns the linear-interpolation percentile of xs (q in
// [0,1]), numpy's default linear convention, as in pkg/lossfn and
// pkg/facefit.
func percentile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

package geometry

import (
	"math"

	"github.com/facefit/facefit/pkg/facefit"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ICPConfig controls rigid point-to-point ICP pre-alignment (§4.1
// `icp_rigid`), grounded on `backend/nonrigid_icp.py`'s rigid_align and
// `backend/flame_fit.py`'s registration_icp call.
type ICPConfig struct {
	MaxIterations      int
	MaxCorrespondDist  float64
	ConvergenceThresh  float64
	TrimPercentile     float64 // drop farthest 1-p fraction of correspondences each iteration
}

// DefaultICPConfig mirrors flame_fit.py's max_correspondence_distance=0.02,
// max_iteration=50.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:     50,
		MaxCorrespondDist: 0.02,
		ConvergenceThresh: 1e-6,
		TrimPercentile:    1.0,
	}
}

// ICPResult reports the estimated rigid alignment and convergence stats.
type ICPResult struct {
	Transform  facefit.RigidTransform
	MeanError  float64
	Iterations int
	Converged  bool
}

// RigidICP estimates the rigid transform (R, t) that best aligns source
// onto the target point cloud, point-to-point, via iterated closest point
// with SVD-based orthogonal Procrustes rotation estimation per iteration
// (§4.1). source is left unmodified; the returned transform maps source
// points into target space.
func RigidICP(source []facefit.Point3D, targetTree *KDTree, targetPoints []facefit.Point3D, cfg ICPConfig) (ICPResult, error) {
	if len(source) == 0 || len(targetPoints) == 0 {
		return ICPResult{}, facefit.ErrEmptyInput
	}

	current := make([]facefit.Point3D, len(source))
	copy(current, source)

	result := ICPResult{Transform: facefit.IdentityRigidTransform()}
	prevError := math.Inf(1)

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		srcMatched, tgtMatched, meanErr := correspond(current, targetTree, targetPoints, cfg)
		if len(srcMatched) < 3 {
			break
		}

		step := estimateRigid(srcMatched, tgtMatched)
		for i, p := range current {
			current[i] = step.Apply(p)
		}
		result.Transform = composeRigid(step, result.Transform)
		result.Iterations = iter + 1
		result.MeanError = meanErr

		if math.Abs(prevError-meanErr) < cfg.ConvergenceThresh {
			result.Converged = true
			break
		}
		prevError = meanErr
	}

	return result, nil
}

// correspond finds nearest-neighbor correspondences and trims the farthest
// tail per cfg.TrimPercentile, mirroring nonrigid_icp.py's find_correspondences
// plus the composite loss's percentile-based trimming.
func correspond(current []facefit.Point3D, tree *KDTree, targetPoints []facefit.Point3D, cfg ICPConfig) (src, tgt []facefit.Point3D, meanErr float64) {
	type pair struct {
		s, t facefit.Point3D
		d    float64
	}
	pairs := make([]pair, 0, len(current))
	for _, p := range current {
		idx, dist := tree.Nearest(p)
		if idx < 0 {
			continue
		}
		if cfg.MaxCorrespondDist > 0 && dist > cfg.MaxCorrespondDist {
			continue
		}
		pairs = append(pairs, pair{s: p, t: targetPoints[idx], d: dist})
	}
	if len(pairs) == 0 {
		return nil, nil, 0
	}

	cutoff := math.Inf(1)
	if cfg.TrimPercentile > 0 && cfg.TrimPercentile < 1 {
		dists := make([]float64, len(pairs))
		for i, p := range pairs {
			dists[i] = p.d
		}
		sortedCopy := append([]float64(nil), dists...)
		sortFloats(sortedCopy)
		cutoff = stat.Quantile(cfg.TrimPercentile, stat.Empirical, sortedCopy, nil)
	}

	src = make([]facefit.Point3D, 0, len(pairs))
	tgt = make([]facefit.Point3D, 0, len(pairs))
	var sum float64
	for _, p := range pairs {
		if p.d > cutoff {
			continue
		}
		src = append(src, p.s)
		tgt = append(tgt, p.t)
		sum += p.d
	}
	if len(src) == 0 {
		return nil, nil, 0
	}
	return src, tgt, sum / float64(len(src))
}

func sortFloats(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// estimateRigid computes the orthogonal Procrustes rotation and translation
// minimizing sum ||R*src_i + t - tgt_i||^2 via SVD, the standard closed-form
// rigid-alignment step used by every ICP variant in the prototype.
func estimateRigid(src, tgt []facefit.Point3D) facefit.RigidTransform {
	n := len(src)
	var srcCentroid, tgtCentroid facefit.Point3D
	for i := 0; i < n; i++ {
		srcCentroid = srcCentroid.Add(src[i])
		tgtCentroid = tgtCentroid.Add(tgt[i])
	}
	srcCentroid = srcCentroid.Scale(1.0 / float64(n))
	tgtCentroid = tgtCentroid.Scale(1.0 / float64(n))

	var h mat.Dense
	h.ReuseAs(3, 3)
	for i := 0; i < n; i++ {
		s := src[i].Sub(srcCentroid)
		t := tgt[i].Sub(tgtCentroid)
		sv := [3]float64{s.X, s.Y, s.Z}
		tv := [3]float64{t.X, t.Y, t.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+sv[r]*tv[c])
			}
		}
	}

	var svd mat.SVD
	ok := svd.Factorize(&h, mat.SVDFull)
	if !ok {
		return facefit.IdentityRigidTransform()
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())

	// Reflection correction: if det(R) < 0, flip the sign of V's last
	// column before recomposing, the standard Kabsch-algorithm fix.
	if mat.Det(&rot) < 0 {
		for r := 0; r < 3; r++ {
			v.Set(r, 2, -v.At(r, 2))
		}
		rot.Mul(&v, u.T())
	}

	var out facefit.RigidTransform
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.R[r][c] = rot.At(r, c)
		}
	}
	rotatedSrcCentroid := facefit.Point3D{
		X: out.R[0][0]*srcCentroid.X + out.R[0][1]*srcCentroid.Y + out.R[0][2]*srcCentroid.Z,
		Y: out.R[1][0]*srcCentroid.X + out.R[1][1]*srcCentroid.Y + out.R[1][2]*srcCentroid.Z,
		Z: out.R[2][0]*srcCentroid.X + out.R[2][1]*srcCentroid.Y + out.R[2][2]*srcCentroid.Z,
	}
	out.T = tgtCentroid.Sub(rotatedSrcCentroid)
	return out
}

// composeRigid returns the transform equivalent to applying `first` then
// `second`: p -> second.R*(first.R*p + first.T) + second.T.
func composeRigid(first, second facefit.RigidTransform) facefit.RigidTransform {
	var out facefit.RigidTransform
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += second.R[r][k] * first.R[k][c]
			}
			out.R[r][c] = sum
		}
	}
	out.T = second.Apply(first.T)
	return out
}

// Package lossfn assembles the composite fitting loss (§4.4, component D):
// chamfer, Huber-robust point-to-plane, landmark (with mouth up-weighting),
// and parameter priors, with percentile-based correspondence trimming and
// nose-region up-weighting. Grounded on spec.md §4.4 and on
// `backend/nonrigid_icp.py`'s correspondence/weight assembly, which performs
// the same nearest-neighbor-then-weight-then-solve shape for its own
// per-iteration linear system.
package lossfn

import (
	"sort"

	"github.com/facefit/facefit/pkg/facefit"
	"github.com/facefit/facefit/pkg/geometry"
)

// Weights bundles the composite loss weights (§6).
type Weights struct {
	Chamfer     float64
	Point2Plane float64
	Landmark    float64
	PriorShape  float64
	PriorExpr   float64
	PriorJaw    float64
}

// RegionConfig controls nose up-weighting and mouth landmark up-weighting.
type RegionConfig struct {
	NoseMultiplier  float64
	NoseRadiusM     float64
	MouthMultiplier float64
}

// RobustConfig controls the Huber knee and correspondence trimming.
type RobustConfig struct {
	HuberDelta     float64
	TrimPercentile float64 // (0,1]; 1 disables trimming
}

// Huber evaluates the Huber robust loss at residual r with knee delta:
// quadratic inside |r| <= delta, linear (L1) beyond it.
func Huber(r, delta float64) float64 {
	ar := r
	if ar < 0 {
		ar = -ar
	}
	if ar <= delta {
		return 0.5 * r * r
	}
	return delta * (ar - 0.5*delta)
}

// Correspondences is the nearest-neighbor pass result for one direction
// (source -> target or target -> source).
type Correspondences struct {
	SourceIdx []int     // index into the source slice that has a match
	TargetIdx []int     // matched index into the target slice, aligned with SourceIdx
	Dist      []float64 // Euclidean distance for each matched pair
}

// FindCorrespondences runs a nearest-neighbor pass from source points
// against a KD-tree built over target points (§4.4 step 1).
func FindCorrespondences(source []facefit.Point3D, targetTree *geometry.KDTree) Correspondences {
	c := Correspondences{}
	for i, p := range source {
		idx, dist := targetTree.Nearest(p)
		if idx < 0 {
			continue
		}
		c.SourceIdx = append(c.SourceIdx, i)
		c.TargetIdx = append(c.TargetIdx, idx)
		c.Dist = append(c.Dist, dist)
	}
	return c
}

// RegionWeights computes per-source-point weights: w_nose_multiplier inside
// a sphere of radius NoseRadiusM around the nose-tip landmark, 1 elsewhere
// (§4.4 step 2).
func RegionWeights(vertices []facefit.Point3D, noseTip facefit.Point3D, cfg RegionConfig) []float64 {
	w := make([]float64, len(vertices))
	for i, v := range vertices {
		if facefit.Distance(v, noseTip) <= cfg.NoseRadiusM {
			w[i] = cfg.NoseMultiplier
		} else {
			w[i] = 1.0
		}
	}
	return w
}

// quantile returns the q-quantile (q in [0,1]) of values using linear
// interpolation between closest ranks (numpy's default convention; gonum's
// stat.Empirical, used by pkg/geometry's ICP trimming, is a step rule
// without interpolation).
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// TrimMask returns, for each element of dist, whether it survives
// percentile trimming: dist[i] <= the trimPercentile-quantile of dist
// (§4.4 step 3). trimPercentile == 1 keeps everything.
func TrimMask(dist []float64, trimPercentile float64) []bool {
	keep := make([]bool, len(dist))
	if trimPercentile <= 0 || trimPercentile >= 1 {
		for i := range keep {
			keep[i] = true
		}
		return keep
	}
	cutoff := quantile(dist, trimPercentile)
	for i, d := range dist {
		keep[i] = d <= cutoff
	}
	return keep
}

// Chamfer computes the weighted chamfer term (§4.4 step 4): mean of
// w_i*d_i over kept source correspondences, plus the mean of kept
// target-side nearest-neighbor distances (symmetric chamfer).
func Chamfer(sourceCorr Correspondences, sourceWeights []float64, sourceKeep []bool, targetCorr Correspondences, targetKeep []bool) float64 {
	var sum, count float64
	for k, i := range sourceCorr.SourceIdx {
		if !sourceKeep[k] {
			continue
		}
		w := 1.0
		if i < len(sourceWeights) {
			w = sourceWeights[i]
		}
		sum += w * sourceCorr.Dist[k]
		count++
	}
	sourceTerm := 0.0
	if count > 0 {
		sourceTerm = sum / count
	}

	var tSum, tCount float64
	for k := range targetCorr.SourceIdx {
		if !targetKeep[k] {
			continue
		}
		tSum += targetCorr.Dist[k]
		tCount++
	}
	targetTerm := 0.0
	if tCount > 0 {
		targetTerm = tSum / tCount
	}

	return sourceTerm + targetTerm
}

// PointToPlane computes the Huber-robust point-to-plane term (§4.4 step 5):
// mean of w_i*Huber((v_i - c)·n, delta) over kept source correspondences.
func PointToPlane(vertices []facefit.Point3D, corr Correspondences, targetPoints, targetNormals []facefit.Point3D, weights []float64, keep []bool, delta float64) float64 {
	var sum, count float64
	for k, i := range corr.SourceIdx {
		if !keep[k] {
			continue
		}
		j := corr.TargetIdx[k]
		if j >= len(targetNormals) {
			continue
		}
		residual := vertices[i].Sub(targetPoints[j]).Dot(targetNormals[j])
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		sum += w * Huber(residual, delta)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

// Landmark computes the Huberized landmark term (§4.4 step 6): distance
// from each predicted landmark to its nearest target point, weighted
// MouthMultiplier for the mouth landmark index set and 1 otherwise.
func Landmark(predicted []facefit.Point3D, targetTree *geometry.KDTree, cfg RegionConfig, delta float64) float64 {
	if len(predicted) == 0 {
		return 0
	}
	var sum float64
	for j, p := range predicted {
		_, dist := targetTree.Nearest(p)
		w := 1.0
		if _, ok := facefit.MouthLandmarkIndices[j]; ok {
			w = cfg.MouthMultiplier
		}
		sum += w * Huber(dist, delta)
	}
	return sum / float64(len(predicted))
}

// Priors computes the L2 parameter regularization term (§4.4 step 7):
// w_prior_shape*mean(shape^2) + w_prior_expr*mean(expr^2) +
// w_prior_jaw*mean(jaw^2), where jaw is pose[3:6].
func Priors(params facefit.ModelParams, w Weights) float64 {
	return w.PriorShape*meanSquare(params.Shape) +
		w.PriorExpr*meanSquare(params.Expression) +
		w.PriorJaw*meanSquare(params.Pose[3:6])
}

func meanSquare(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x * x
	}
	return sum / float64(len(xs))
}

// Composite evaluates the full weighted composite loss (§4.4, final line):
// w_chamfer*Chamfer + w_point2plane*P2P + w_landmark*Landmark + Priors.
// Always non-negative, since every term is either a mean of non-negative
// distances/Huber values or a non-negative L2 penalty, and every weight is
// expected non-negative (§8).
func Composite(chamfer, pointToPlane, landmark, priors float64, w Weights) float64 {
	return w.Chamfer*chamfer + w.Point2Plane*pointToPlane + w.Landmark*landmark + priors
}

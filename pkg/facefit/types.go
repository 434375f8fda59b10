// Package facefit fits a FLAME morphable face model to a noisy 3D point
// cloud scan and optionally refines the result with a non-rigid deformation,
// producing a topology-stable mesh, landmarks, fit metrics, and a QC verdict.
package facefit

import (
	"math"
	"time"
)

// Point3D is a point in meters.
type Point3D struct {
	X, Y, Z float64
}

// Vec3 is a direction or displacement in meters; same shape as Point3D but
// kept distinct so call sites read clearly.
type Vec3 = Point3D

// Add returns the component-wise sum.
func (p Point3D) Add(o Point3D) Point3D {
	return Point3D{p.X + o.X, p.Y + o.Y, p.Z + o.Z}
}

// Sub returns the component-wise difference.
func (p Point3D) Sub(o Point3D) Point3D {
	return Point3D{p.X - o.X, p.Y - o.Y, p.Z - o.Z}
}

// Scale returns p scaled by s.
func (p Point3D) Scale(s float64) Point3D {
	return Point3D{p.X * s, p.Y * s, p.Z * s}
}

// Dot returns the dot product of p and o.
func (p Point3D) Dot(o Point3D) float64 {
	return p.X*o.X + p.Y*o.Y + p.Z*o.Z
}

// Norm returns the Euclidean length of p.
func (p Point3D) Norm() float64 {
	return math.Sqrt(p.Dot(p))
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point3D) float64 {
	return a.Sub(b).Norm()
}

// Color is an RGB triple in [0,1].
type Color struct {
	R, G, B float64
}

// PointCloud is an ordered set of scan points in meters, with optional
// per-point color and unit normal. Invariant: all coordinates finite;
// normals, when present, unit length.
type PointCloud struct {
	Points  []Point3D
	Colors  []Color    // len 0 or len(Points)
	Normals []Point3D  // len 0 or len(Points); unit length when present
}

// HasColors reports whether per-point color is populated.
func (pc *PointCloud) HasColors() bool { return len(pc.Colors) == len(pc.Points) && len(pc.Points) > 0 }

// HasNormals reports whether per-point normals are populated.
func (pc *PointCloud) HasNormals() bool { return len(pc.Normals) == len(pc.Points) && len(pc.Points) > 0 }

// Len returns the number of points.
func (pc *PointCloud) Len() int { return len(pc.Points) }

// Face is a triangle as three vertex indices into a Mesh's Vertices.
type Face [3]int

// LandmarkEmbedding is one barycentric-coordinate binding of a landmark to a
// mesh triangle. Weights sum to 1 and are non-negative. Topology-bound:
// never changes once loaded.
type LandmarkEmbedding struct {
	FaceIndex int
	Weights   [3]float64
}

// Mesh is a fixed-topology triangle mesh: vertex positions, face index
// triples, and a landmark embedding bound to that topology.
type Mesh struct {
	Vertices  []Point3D
	Faces     []Face
	Landmarks []LandmarkEmbedding
}

// NoseTipLandmarkIndex is the landmark index used as the nose-tip anchor for
// region weighting (§4.4) and the nose-p95 metric (§4.7).
const NoseTipLandmarkIndex = 1

// MouthLandmarkIndices are up-weighted in the landmark loss term (§4.4).
var MouthLandmarkIndices = map[int]struct{}{
	0: {}, 13: {}, 14: {}, 17: {}, 61: {}, 78: {}, 291: {}, 308: {},
}

// ModelParams (θ) is the full set of FLAME morphable-model parameters.
type ModelParams struct {
	Shape       []float64 // len 100
	Expression  []float64 // len 50
	Pose        [6]float64 // head rotation (3) ++ jaw rotation (3), axis-angle radians
	Scale       float64
	Translation Point3D
}

// Clone returns a deep copy of p.
func (p ModelParams) Clone() ModelParams {
	out := p
	out.Shape = append([]float64(nil), p.Shape...)
	out.Expression = append([]float64(nil), p.Expression...)
	return out
}

// RigidTransform is the fixed pre-alignment (R, t) estimated once by ICP
// before parametric fitting begins; never re-estimated inside the optimizer.
type RigidTransform struct {
	R [3][3]float64 // orthogonal rotation matrix
	T Point3D
}

// IdentityRigidTransform returns the identity rigid transform.
func IdentityRigidTransform() RigidTransform {
	var rt RigidTransform
	rt.R[0][0], rt.R[1][1], rt.R[2][2] = 1, 1, 1
	return rt
}

// Apply maps p through the rigid transform: R*p + t.
func (rt RigidTransform) Apply(p Point3D) Point3D {
	return Point3D{
		X: rt.R[0][0]*p.X + rt.R[0][1]*p.Y + rt.R[0][2]*p.Z + rt.T.X,
		Y: rt.R[1][0]*p.X + rt.R[1][1]*p.Y + rt.R[1][2]*p.Z + rt.T.Y,
		Z: rt.R[2][0]*p.X + rt.R[2][1]*p.Y + rt.R[2][2]*p.Z + rt.T.Z,
	}
}

// StageRecord is produced per optimizer stage.
type StageRecord struct {
	Name       string  `json:"name"`
	BestLoss   float64 `json:"best_loss"`
	DurationMS float64 `json:"duration_ms"`
	Converged  bool    `json:"converged"`
}

// FitResult is the model-space fitter's output.
type FitResult struct {
	Params      ModelParams
	Vertices    []Point3D
	Landmarks   []Point3D
	Stages      []StageRecord
	SparseMode  bool
	TimedOut    bool
}

// DisplacementField is the per-vertex offset produced by the non-rigid
// deformer: D = V_deformed - V_rigid_transformed_template. Blended at
// render time as V(alpha) = V_base + alpha*D, alpha in [0,1].
type DisplacementField struct {
	Values []Point3D
}

// Blend returns base + alpha*D, clamping alpha to [0,1].
func (d DisplacementField) Blend(base []Point3D, alpha float64) []Point3D {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	out := make([]Point3D, len(base))
	for i, b := range base {
		disp := Point3D{}
		if i < len(d.Values) {
			disp = d.Values[i]
		}
		out[i] = b.Add(disp.Scale(alpha))
	}
	return out
}

// NonRigidResult is the non-rigid deformer's output (§4.6).
type NonRigidResult struct {
	DeformedVertices []Point3D
	Displacement     DisplacementField
	VertexErrors     []float64 // meters, looser correspondence radius
	MeanErrorM       float64
	P95ErrorM        float64
	MaxErrorM        float64
	IterationsUsed   int
	Converged        bool
}

// JobTiming records wall-clock stamps for a pipeline run; useful for
// diagnostics export.
type JobTiming struct {
	Started time.Time
	Ended   time.Time
}

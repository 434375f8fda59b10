// Package flame loads and evaluates the FLAME morphable face model: a
// fixed external operator mapping (shape, expression, pose) coefficients to
// mesh vertices (spec §1, §9 Design Notes). This package does not re-derive
// FLAME's blendshape math from first principles — it consumes a
// pre-trained linear blendshape asset (mean shape + identity/expression
// basis + a simple linear-blend-skinning joint model) the way the rest of
// the corpus consumes opaque third-party model/assets (e.g. the teacher's
// `pkg/mediapipe` wraps a prebuilt MediaPipe graph rather than reimplementing
// face detection).
package flame

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/facefit/facefit/pkg/facefit"
)

// Model is a loaded FLAME asset: a mean template plus linear shape and
// expression bases, and joint pivots for head/jaw rotation.
type Model struct {
	MeanVertices []facefit.Point3D // len N_v
	Faces        []facefit.Face
	ShapeBasis   [][]facefit.Point3D // len 100, each len N_v
	ExprBasis    [][]facefit.Point3D // len 50, each len N_v
	HeadPivot    facefit.Point3D     // rotation pivot for head pose
	JawPivot     facefit.Point3D     // rotation pivot for jaw pose
	JawVertices  map[int]float64     // vertex index -> jaw-influence weight [0,1]
}

// NumVertices returns N_v.
func (m *Model) NumVertices() int { return len(m.MeanVertices) }

// Load reads a FLAME asset from the binary layout written by the companion
// exporter: a small header (vertex count, face count, shape/expr basis
// sizes) followed by flat float32 arrays, mirroring the teacher's own
// `ParseVRMSkeleton`'s "read fixed header, then typed chunks" approach to
// binary asset parsing in `pkg/miface/vrm.go`.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening FLAME asset: %v", facefit.ErrExternalFailure, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a Model from r.
func Parse(r io.Reader) (*Model, error) {
	var header struct {
		NumVertices uint32
		NumFaces    uint32
		NumShape    uint32
		NumExpr     uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: reading FLAME header: %v", facefit.ErrExternalFailure, err)
	}

	m := &Model{JawVertices: make(map[int]float64)}

	m.MeanVertices = make([]facefit.Point3D, header.NumVertices)
	if err := readPoints(r, m.MeanVertices); err != nil {
		return nil, fmt.Errorf("%w: reading mean vertices: %v", facefit.ErrExternalFailure, err)
	}

	m.Faces = make([]facefit.Face, header.NumFaces)
	for i := range m.Faces {
		var tri [3]uint32
		if err := binary.Read(r, binary.LittleEndian, &tri); err != nil {
			return nil, fmt.Errorf("%w: reading face %d: %v", facefit.ErrExternalFailure, i, err)
		}
		m.Faces[i] = facefit.Face{int(tri[0]), int(tri[1]), int(tri[2])}
	}

	m.ShapeBasis = make([][]facefit.Point3D, header.NumShape)
	for i := range m.ShapeBasis {
		m.ShapeBasis[i] = make([]facefit.Point3D, header.NumVertices)
		if err := readPoints(r, m.ShapeBasis[i]); err != nil {
			return nil, fmt.Errorf("%w: reading shape basis %d: %v", facefit.ErrExternalFailure, i, err)
		}
	}

	m.ExprBasis = make([][]facefit.Point3D, header.NumExpr)
	for i := range m.ExprBasis {
		m.ExprBasis[i] = make([]facefit.Point3D, header.NumVertices)
		if err := readPoints(r, m.ExprBasis[i]); err != nil {
			return nil, fmt.Errorf("%w: reading expr basis %d: %v", facefit.ErrExternalFailure, i, err)
		}
	}

	var pivots [2]facefit.Point3D
	if err := readPoints(r, pivots[:1]); err != nil {
		return nil, fmt.Errorf("%w: reading head pivot: %v", facefit.ErrExternalFailure, err)
	}
	if err := readPoints(r, pivots[1:]); err != nil {
		return nil, fmt.Errorf("%w: reading jaw pivot: %v", facefit.ErrExternalFailure, err)
	}
	m.HeadPivot, m.JawPivot = pivots[0], pivots[1]

	var numJawWeights uint32
	if err := binary.Read(r, binary.LittleEndian, &numJawWeights); err != nil {
		return nil, fmt.Errorf("%w: reading jaw weight count: %v", facefit.ErrExternalFailure, err)
	}
	for i := uint32(0); i < numJawWeights; i++ {
		var idx uint32
		var weight float32
		if err := binary.Read(r, binary.LittleEndian, &idx); err != nil {
			return nil, fmt.Errorf("%w: reading jaw weight index: %v", facefit.ErrExternalFailure, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &weight); err != nil {
			return nil, fmt.Errorf("%w: reading jaw weight: %v", facefit.ErrExternalFailure, err)
		}
		m.JawVertices[int(idx)] = float64(weight)
	}

	return m, nil
}

// LoadLandmarkEmbedding reads the landmark embedding file (§6): a face-index
// array and a barycentric-weight-triple array, stored as a count followed by
// interleaved (uint32 face_index, float32 w0, w1, w2) records.
func LoadLandmarkEmbedding(path string) ([]facefit.LandmarkEmbedding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening landmark embedding: %v", facefit.ErrExternalFailure, err)
	}
	defer f.Close()

	var count uint32
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: reading landmark embedding count: %v", facefit.ErrExternalFailure, err)
	}

	out := make([]facefit.LandmarkEmbedding, count)
	for i := range out {
		var faceIdx uint32
		var weights [3]float32
		if err := binary.Read(f, binary.LittleEndian, &faceIdx); err != nil {
			return nil, fmt.Errorf("%w: reading landmark %d face index: %v", facefit.ErrExternalFailure, i, err)
		}
		if err := binary.Read(f, binary.LittleEndian, &weights); err != nil {
			return nil, fmt.Errorf("%w: reading landmark %d weights: %v", facefit.ErrExternalFailure, i, err)
		}
		out[i] = facefit.LandmarkEmbedding{
			FaceIndex: int(faceIdx),
			Weights:   [3]float64{float64(weights[0]), float64(weights[1]), float64(weights[2])},
		}
	}
	return out, nil
}

func readPoints(r io.Reader, out []facefit.Point3D) error {
	for i := range out {
		var v [3]float32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return err
		}
		out[i] = facefit.Point3D{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
	}
	return nil
}

// Evaluate computes vertices for the given parameters: mean template plus
// the linear shape/expression blendshape offsets, with jaw rotation applied
// as a weighted rotation of jaw-influenced vertices about JawPivot and head
// rotation applied globally (the rigid pre-alignment, scale, and
// translation are applied separately by the caller, §3/§4.5's `v = (V·Rᵀ +
// t)·s + τ`). This is the "pre-linearized Jacobian" strategy §9 names as an
// acceptable alternative to taping through a full FLAME graph: the
// evaluator is linear in shape/expression and low-degree in pose, so
// pkg/fitter carries shape/expression through constant basis matrices and
// takes the pose Jacobian by central finite differences of Evaluate.
func (m *Model) Evaluate(params facefit.ModelParams) []facefit.Point3D {
	n := m.NumVertices()
	verts := make([]facefit.Point3D, n)
	copy(verts, m.MeanVertices)

	for i, coeff := range params.Shape {
		if coeff == 0 || i >= len(m.ShapeBasis) {
			continue
		}
		basis := m.ShapeBasis[i]
		for v := 0; v < n; v++ {
			verts[v] = verts[v].Add(basis[v].Scale(coeff))
		}
	}
	for i, coeff := range params.Expression {
		if coeff == 0 || i >= len(m.ExprBasis) {
			continue
		}
		basis := m.ExprBasis[i]
		for v := 0; v < n; v++ {
			verts[v] = verts[v].Add(basis[v].Scale(coeff))
		}
	}

	jawRot := rotationMatrix(params.Pose[3], params.Pose[4], params.Pose[5])
	for idx, weight := range m.JawVertices {
		if idx >= n {
			continue
		}
		local := verts[idx].Sub(m.JawPivot)
		rotated := jawRot.Apply(local).Add(m.JawPivot)
		verts[idx] = blend(verts[idx], rotated, weight)
	}

	headRot := rotationMatrix(params.Pose[0], params.Pose[1], params.Pose[2])
	for v := 0; v < n; v++ {
		local := verts[v].Sub(m.HeadPivot)
		verts[v] = headRot.Apply(local).Add(m.HeadPivot)
	}

	return verts
}

// NewEvaluation computes fully transformed scan-space vertices: the
// template evaluated at params, mapped through the fixed rigid
// prealignment, then scaled and translated, matching §4.4's
// `v = (V·Rᵀ + t)·s + τ`.
func NewEvaluation(m *Model, params facefit.ModelParams, rigid facefit.RigidTransform) []facefit.Point3D {
	verts := m.Evaluate(params)
	out := make([]facefit.Point3D, len(verts))
	scale := params.Scale
	if scale == 0 {
		scale = 1
	}
	for i, v := range verts {
		out[i] = rigid.Apply(v).Scale(scale).Add(params.Translation)
	}
	return out
}

func blend(a, b facefit.Point3D, t float64) facefit.Point3D {
	return a.Scale(1 - t).Add(b.Scale(t))
}

// rotationMatrix builds the rotation for axis-angle components via the
// standard Rodrigues formula (exact for any angle).
func rotationMatrix(rx, ry, rz float64) facefit.RigidTransform {
	angle := facefit.Point3D{X: rx, Y: ry, Z: rz}.Norm()
	rt := facefit.IdentityRigidTransform()
	if angle < 1e-12 {
		return rt
	}
	axis := facefit.Point3D{X: rx / angle, Y: ry / angle, Z: rz / angle}
	c, s := math.Cos(angle), math.Sin(angle)
	t := 1 - c
	x, y, z := axis.X, axis.Y, axis.Z

	rt.R[0][0], rt.R[0][1], rt.R[0][2] = t*x*x+c, t*x*y-s*z, t*x*z+s*y
	rt.R[1][0], rt.R[1][1], rt.R[1][2] = t*x*y+s*z, t*y*y+c, t*y*z-s*x
	rt.R[2][0], rt.R[2][1], rt.R[2][2] = t*x*z-s*y, t*y*z+s*x, t*z*z+c
	return rt
}

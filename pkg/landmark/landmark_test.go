package landmark

import (
	"testing"

	"github.com/facefit/facefit/pkg/facefit"
)

func triangleMesh() (vertices []facefit.Point3D, faces []facefit.Face) {
	vertices = []facefit.Point3D{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
	}
	faces = []facefit.Face{{0, 1, 2}}
	return
}

func TestEvaluate_CentroidWeights(t *testing.T) {
	vertices, faces := triangleMesh()
	embeddings := []facefit.LandmarkEmbedding{
		{FaceIndex: 0, Weights: [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}},
	}
	got := Evaluate(vertices, faces, embeddings)
	want := facefit.Point3D{X: 1.0 / 3, Y: 1.0 / 3, Z: 0}
	if facefit.Distance(got[0], want) > 1e-9 {
		t.Errorf("got %+v, want %+v", got[0], want)
	}
}

func TestEvaluate_VertexWeights(t *testing.T) {
	vertices, faces := triangleMesh()
	embeddings := []facefit.LandmarkEmbedding{
		{FaceIndex: 0, Weights: [3]float64{0, 1, 0}},
	}
	got := Evaluate(vertices, faces, embeddings)
	if facefit.Distance(got[0], vertices[1]) > 1e-9 {
		t.Errorf("got %+v, want vertex 1 %+v", got[0], vertices[1])
	}
}

func TestEvaluate_LinearInVertices(t *testing.T) {
	vertices, faces := triangleMesh()
	embeddings := []facefit.LandmarkEmbedding{
		{FaceIndex: 0, Weights: [3]float64{0.5, 0.3, 0.2}},
	}
	base := Evaluate(vertices, faces, embeddings)[0]

	shift := facefit.Point3D{X: 0.1, Y: -0.2, Z: 0.3}
	shifted := make([]facefit.Point3D, len(vertices))
	for i, v := range vertices {
		shifted[i] = v.Add(shift)
	}
	afterShift := Evaluate(shifted, faces, embeddings)[0]

	// Barycentric interpolation is affine: translating every vertex by the
	// same shift translates the interpolated point by that same shift,
	// since the weights sum to 1.
	want := base.Add(shift)
	if facefit.Distance(afterShift, want) > 1e-9 {
		t.Errorf("got %+v, want %+v", afterShift, want)
	}
}

func TestEvaluateMesh(t *testing.T) {
	vertices, faces := triangleMesh()
	m := facefit.Mesh{
		Vertices:  vertices,
		Faces:     faces,
		Landmarks: []facefit.LandmarkEmbedding{{FaceIndex: 0, Weights: [3]float64{1, 0, 0}}},
	}
	got := EvaluateMesh(m)
	if facefit.Distance(got[0], vertices[0]) > 1e-9 {
		t.Errorf("got %+v, want %+v", got[0], vertices[0])
	}
}

package deform

import (
	"testing"

	"github.com/facefit/facefit/pkg/facefit"
)

func gridMesh() ([]facefit.Point3D, []facefit.Face) {
	// 3x3 grid of vertices in the z=0 plane, triangulated.
	var verts []facefit.Point3D
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			verts = append(verts, facefit.Point3D{X: float64(x) * 0.01, Y: float64(y) * 0.01, Z: 0})
		}
	}
	idx := func(x, y int) int { return y*3 + x }
	var faces []facefit.Face
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			faces = append(faces, facefit.Face{idx(x, y), idx(x+1, y), idx(x, y+1)})
			faces = append(faces, facefit.Face{idx(x+1, y), idx(x+1, y+1), idx(x, y+1)})
		}
	}
	return verts, faces
}

func TestDeform_TargetEqualsTemplateGivesNearZeroDisplacement(t *testing.T) {
	verts, faces := gridMesh()
	target := facefit.PointCloud{Points: append([]facefit.Point3D(nil), verts...)}

	cfg := DefaultConfig()
	cfg.MaxIterations = 10
	result, err := Deform(verts, faces, target, nil, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, d := range result.Displacement.Values {
		if d.Norm() > 1e-3 {
			t.Errorf("vertex %d: displacement %+v too large for already-aligned target", i, d)
		}
	}
	if result.MeanErrorM > 1e-3 {
		t.Errorf("expected near-zero mean error, got %f", result.MeanErrorM)
	}
}

func TestDeform_PullsTowardOffsetTarget(t *testing.T) {
	verts, faces := gridMesh()
	offset := facefit.Point3D{X: 0, Y: 0, Z: 0.005}
	var targetPts []facefit.Point3D
	for _, v := range verts {
		targetPts = append(targetPts, v.Add(offset))
	}
	target := facefit.PointCloud{Points: targetPts}

	cfg := DefaultConfig()
	cfg.MaxIterations = 30
	result, err := Deform(verts, faces, target, nil, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MeanErrorM > 0.003 {
		t.Errorf("expected deformer to track a small uniform offset, mean error %f", result.MeanErrorM)
	}
}

func TestDeform_EmptyTemplateFails(t *testing.T) {
	_, faces := gridMesh()
	target := facefit.PointCloud{Points: []facefit.Point3D{{X: 0, Y: 0, Z: 0}}}
	_, err := Deform(nil, faces, target, nil, DefaultConfig())
	if err != facefit.ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDeform_EmptyTargetFails(t *testing.T) {
	verts, faces := gridMesh()
	_, err := Deform(verts, faces, facefit.PointCloud{}, nil, DefaultConfig())
	if err != facefit.ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDeform_LandmarkPinPullsVertexToTarget(t *testing.T) {
	verts, faces := gridMesh()
	target := facefit.PointCloud{Points: append([]facefit.Point3D(nil), verts...)}
	pinned := facefit.Point3D{X: 0.01, Y: 0.01, Z: 0.02}
	pins := []LandmarkPin{{VertexIndex: 4, Target: pinned}}

	cfg := DefaultConfig()
	cfg.MaxIterations = 40
	result, err := Deform(verts, faces, target, pins, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := result.DeformedVertices[4]
	if facefit.Distance(got, pinned) > 0.01 {
		t.Errorf("pinned vertex 4: got %+v, want close to %+v", got, pinned)
	}
}

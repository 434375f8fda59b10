package geometry

import (
	"testing"

	"github.com/facefit/facefit/pkg/facefit"
)

func TestVoxelDownsample_MergesWithinCell(t *testing.T) {
	pc := facefit.PointCloud{
		Points: []facefit.Point3D{
			{X: 0, Y: 0, Z: 0},
			{X: 0.001, Y: 0, Z: 0},
			{X: 10, Y: 10, Z: 10},
		},
	}
	out := VoxelDownsample(pc, 0.5)
	if len(out.Points) != 2 {
		t.Fatalf("expected 2 points after downsample, got %d", len(out.Points))
	}
}

func TestVoxelDownsample_Idempotent(t *testing.T) {
	pc := facefit.PointCloud{
		Points: []facefit.Point3D{
			{X: 0, Y: 0, Z: 0},
			{X: 0.001, Y: 0, Z: 0},
			{X: 3, Y: 3, Z: 3},
			{X: 3.001, Y: 3, Z: 3},
		},
	}
	once := VoxelDownsample(pc, 0.5)
	twice := VoxelDownsample(once, 0.5)
	if len(twice.Points) != len(once.Points) {
		t.Fatalf("expected idempotent downsample, got %d then %d points", len(once.Points), len(twice.Points))
	}
}

func TestVoxelDownsample_EmptyInput(t *testing.T) {
	out := VoxelDownsample(facefit.PointCloud{}, 0.1)
	if len(out.Points) != 0 {
		t.Errorf("expected empty output, got %d points", len(out.Points))
	}
}

func TestVoxelDownsample_ZeroVoxelSizeIsNoop(t *testing.T) {
	pc := facefit.PointCloud{Points: []facefit.Point3D{{X: 1, Y: 2, Z: 3}}}
	out := VoxelDownsample(pc, 0)
	if len(out.Points) != 1 {
		t.Errorf("expected passthrough with zero voxel size")
	}
}

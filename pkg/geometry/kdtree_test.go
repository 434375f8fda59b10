package geometry

import (
	"testing"

	"github.com/facefit/facefit/pkg/facefit"
)

func TestBuild_EmptyInput(t *testing.T) {
	_, err := Build(nil)
	if err == nil {
		t.Error("expected error for empty input")
	}
}

func TestKNN_FindsExactPoint(t *testing.T) {
	points := []facefit.Point3D{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 5, Y: 5, Z: 5},
	}
	tree, err := Build(points)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idx, dist := tree.Nearest(facefit.Point3D{X: 1, Y: 0, Z: 0})
	if idx != 1 {
		t.Errorf("expected nearest index 1, got %d", idx)
	}
	if dist != 0 {
		t.Errorf("expected distance 0, got %f", dist)
	}
}

func TestKNN_OrdersByDistance(t *testing.T) {
	points := []facefit.Point3D{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 2, Y: 0, Z: 0},
		{X: 3, Y: 0, Z: 0},
	}
	tree, err := Build(points)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idxs, sq := tree.KNN(facefit.Point3D{X: 0.1, Y: 0, Z: 0}, 3)
	if len(idxs) != 3 {
		t.Fatalf("expected 3 results, got %d", len(idxs))
	}
	if idxs[0] != 0 {
		t.Errorf("expected nearest index 0, got %d", idxs[0])
	}
	for i := 1; i < len(sq); i++ {
		if sq[i] < sq[i-1] {
			t.Errorf("results not sorted ascending: %v", sq)
		}
	}
}

func TestKNN_KExceedsPointCount(t *testing.T) {
	points := []facefit.Point3D{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 1}}
	tree, err := Build(points)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idxs, _ := tree.KNN(facefit.Point3D{}, 5)
	if len(idxs) != 5 {
		t.Fatalf("expected padded result of length 5, got %d", len(idxs))
	}
}

package glbio

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/facefit/facefit/pkg/facefit"
)

func squareMeshVertices() []facefit.Point3D {
	return []facefit.Point3D{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 1, Y: 1, Z: 0},
	}
}

func TestBuildOverlayPack_BindsEachPointToNearestVertices(t *testing.T) {
	cloud := facefit.PointCloud{Points: []facefit.Point3D{
		{X: 0.01, Y: 0.01, Z: 0},
		{X: 0.99, Y: 0.99, Z: 0},
	}}
	cfg := DefaultOverlayConfig()
	cfg.KNNK = 2
	pack, err := BuildOverlayPack(cloud, squareMeshVertices(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pack.Indices) != 2 {
		t.Fatalf("expected 2 binding entries, got %d", len(pack.Indices))
	}
	if len(pack.Indices[0]) != 2 || len(pack.Weights[0]) != 2 {
		t.Fatalf("expected k=2 indices/weights per point, got %d/%d", len(pack.Indices[0]), len(pack.Weights[0]))
	}
	var sum float64
	for _, w := range pack.Weights[0] {
		sum += w
	}
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("expected weights to sum to ~1, got %f", sum)
	}
	// First point is near vertex 0 (0,0,0), so vertex 0 should dominate the
	// weighting relative to any vertex it's bound to.
	if pack.Indices[0][0] != 0 {
		t.Errorf("expected nearest vertex to be index 0, got %d", pack.Indices[0][0])
	}
}

func TestBuildOverlayPack_EmptyInputs(t *testing.T) {
	pack, err := BuildOverlayPack(facefit.PointCloud{}, squareMeshVertices(), DefaultOverlayConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pack.Points) != 0 {
		t.Errorf("expected empty pack for empty cloud")
	}
}

func TestWriteOverlayPack_BufferLengthsMatchManifest(t *testing.T) {
	cloud := facefit.PointCloud{Points: []facefit.Point3D{
		{X: 0.01, Y: 0.01, Z: 0},
		{X: 0.5, Y: 0.5, Z: 0},
	}}
	k := 3
	cfg := DefaultOverlayConfig()
	cfg.KNNK = k
	pack, err := BuildOverlayPack(cloud, squareMeshVertices(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var binBuf, manifestBuf bytes.Buffer
	if err := WriteOverlayPack(&binBuf, &manifestBuf, pack, k); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var manifest overlayManifest
	if err := json.Unmarshal(manifestBuf.Bytes(), &manifest); err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}
	if manifest.PointCount != 2 {
		t.Errorf("manifest point_count = %d, want 2", manifest.PointCount)
	}
	if manifest.KNNK != k {
		t.Errorf("manifest knn_k = %d, want %d", manifest.KNNK, k)
	}

	n := manifest.PointCount
	wantLen := n*12 + n*k*4 + n*k*4 + n*12 // positions + indices + weights + offsets, no color
	if manifest.HasColor {
		wantLen += n * 3
	}
	if binBuf.Len() != wantLen {
		t.Errorf("bin buffer length = %d, want %d", binBuf.Len(), wantLen)
	}
}

func TestWriteLandmarks_EmptyList(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLandmarks(&buf, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var doc LandmarkDocument
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(doc.Landmarks) != 0 {
		t.Errorf("expected empty landmarks list")
	}
}

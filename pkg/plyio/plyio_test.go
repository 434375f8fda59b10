package plyio

import (
	"bytes"
	"strings"
	"testing"
)

func TestRead_ASCIIMinimal(t *testing.T) {
	data := strings.Join([]string{
		"ply",
		"format ascii 1.0",
		"element vertex 3",
		"property float x",
		"property float y",
		"property float z",
		"end_header",
		"0 0 0",
		"1 0 0",
		"0 1 0",
		"",
	}, "\n")
	cloud, err := Read(strings.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cloud.Points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(cloud.Points))
	}
	if cloud.Points[1].X != 1 {
		t.Errorf("expected point 1 x=1, got %f", cloud.Points[1].X)
	}
}

func TestRead_ASCIIWithColorAndNormal(t *testing.T) {
	data := strings.Join([]string{
		"ply",
		"format ascii 1.0",
		"element vertex 1",
		"property float x",
		"property float y",
		"property float z",
		"property uchar red",
		"property uchar green",
		"property uchar blue",
		"property float nx",
		"property float ny",
		"property float nz",
		"end_header",
		"1 2 3 255 128 0 0 0 1",
		"",
	}, "\n")
	cloud, err := Read(strings.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cloud.HasColors() || !cloud.HasNormals() {
		t.Fatalf("expected colors and normals to be populated")
	}
	if cloud.Colors[0].R != 1.0 {
		t.Errorf("expected red channel normalized to 1.0, got %f", cloud.Colors[0].R)
	}
	if cloud.Normals[0].Z != 1 {
		t.Errorf("expected normal z=1, got %f", cloud.Normals[0].Z)
	}
}

func TestRead_MissingXYZFails(t *testing.T) {
	data := strings.Join([]string{
		"ply",
		"format ascii 1.0",
		"element vertex 1",
		"property float red",
		"end_header",
		"1",
		"",
	}, "\n")
	_, err := Read(strings.NewReader(data))
	if err == nil {
		t.Fatalf("expected error for missing x,y,z properties")
	}
}

func TestRead_NotPLYFails(t *testing.T) {
	_, err := Read(strings.NewReader("not a ply file"))
	if err == nil {
		t.Fatalf("expected error for non-PLY input")
	}
}

func TestRead_EmptyVertexCountFails(t *testing.T) {
	data := strings.Join([]string{
		"ply",
		"format ascii 1.0",
		"element vertex 0",
		"property float x",
		"property float y",
		"property float z",
		"end_header",
		"",
	}, "\n")
	_, err := Read(strings.NewReader(data))
	if err == nil {
		t.Fatalf("expected error for zero-vertex PLY")
	}
}

func TestRead_BinaryLittleEndian(t *testing.T) {
	header := strings.Join([]string{
		"ply",
		"format binary_little_endian 1.0",
		"element vertex 1",
		"property float x",
		"property float y",
		"property float z",
		"end_header",
		"",
	}, "\n")
	buf := bytes.NewBufferString(header)
	// x=1.0, y=2.0, z=3.0 as little-endian float32.
	buf.Write([]byte{0x00, 0x00, 0x80, 0x3f})
	buf.Write([]byte{0x00, 0x00, 0x00, 0x40})
	buf.Write([]byte{0x00, 0x00, 0x40, 0x40})

	cloud, err := Read(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cloud.Points[0].X != 1 || cloud.Points[0].Y != 2 || cloud.Points[0].Z != 3 {
		t.Errorf("got %+v, want (1,2,3)", cloud.Points[0])
	}
}

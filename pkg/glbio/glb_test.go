package glbio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/facefit/facefit/pkg/facefit"
)

func triangleMesh() facefit.Mesh {
	return facefit.Mesh{
		Vertices: []facefit.Point3D{
			{X: 0, Y: 0, Z: 0},
			{X: 1, Y: 0, Z: 0},
			{X: 0, Y: 1, Z: 0},
		},
		Faces: []facefit.Face{{0, 1, 2}},
	}
}

func TestWriteMesh_HeaderFields(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMesh(&buf, triangleMesh()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := buf.Bytes()
	if len(data) < 28 {
		t.Fatalf("output too short: %d bytes", len(data))
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	version := binary.LittleEndian.Uint32(data[4:8])
	totalLen := binary.LittleEndian.Uint32(data[8:12])
	if magic != glbMagic {
		t.Errorf("magic = %x, want %x", magic, glbMagic)
	}
	if version != glbVersion {
		t.Errorf("version = %d, want %d", version, glbVersion)
	}
	if int(totalLen) != len(data) {
		t.Errorf("declared length %d, actual %d", totalLen, len(data))
	}
}

func TestWriteMesh_JSONChunkTypeAndPadding(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMesh(&buf, triangleMesh()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := buf.Bytes()
	jsonLen := binary.LittleEndian.Uint32(data[12:16])
	jsonType := binary.LittleEndian.Uint32(data[16:20])
	if jsonType != chunkTypeJSON {
		t.Errorf("JSON chunk type = %x, want %x", jsonType, chunkTypeJSON)
	}
	if jsonLen%4 != 0 {
		t.Errorf("JSON chunk length %d not 4-byte aligned", jsonLen)
	}
	jsonStart := 20
	jsonEnd := jsonStart + int(jsonLen)
	if jsonEnd > len(data) {
		t.Fatalf("JSON chunk extends past buffer: end=%d, len=%d", jsonEnd, len(data))
	}
	jsonBody := data[jsonStart:jsonEnd]
	for i := len(jsonBody) - 1; i >= 0 && jsonBody[i] == ' '; i-- {
		// trailing pad bytes must all be spaces; no assertion needed beyond
		// not panicking, this loop just walks them.
	}

	binLenOffset := jsonEnd
	binLen := binary.LittleEndian.Uint32(data[binLenOffset : binLenOffset+4])
	binType := binary.LittleEndian.Uint32(data[binLenOffset+4 : binLenOffset+8])
	if binType != chunkTypeBIN {
		t.Errorf("BIN chunk type = %x, want %x", binType, chunkTypeBIN)
	}
	if binLen%4 != 0 {
		t.Errorf("BIN chunk length %d not 4-byte aligned", binLen)
	}
	binStart := binLenOffset + 8
	binEnd := binStart + int(binLen)
	if binEnd != len(data) {
		t.Errorf("BIN chunk does not reach end of buffer: end=%d, len=%d", binEnd, len(data))
	}
}

func TestWriteMesh_BinChunkContainsExpectedPositionBytes(t *testing.T) {
	var buf bytes.Buffer
	mesh := triangleMesh()
	if err := WriteMesh(&buf, mesh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := buf.Bytes()
	jsonLen := binary.LittleEndian.Uint32(data[12:16])
	binStart := 20 + int(jsonLen) + 8
	// First vertex is (0,0,0): 12 bytes of zero floats.
	for i := 0; i < 12; i++ {
		if data[binStart+i] != 0 {
			t.Fatalf("expected zero bytes for first vertex, got %v", data[binStart:binStart+12])
		}
	}
	// Second vertex x=1.0 as float32 LE: 00 00 80 3f.
	want := []byte{0x00, 0x00, 0x80, 0x3f}
	got := data[binStart+12 : binStart+16]
	if !bytes.Equal(got, want) {
		t.Errorf("second vertex x bytes = %x, want %x", got, want)
	}
}

func TestWriteMesh_EmptyMesh(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMesh(&buf, facefit.Mesh{}); err != nil {
		t.Fatalf("unexpected error for empty mesh: %v", err)
	}
	if buf.Len() < 20 {
		t.Fatalf("expected at least a valid header+JSON chunk start, got %d bytes", buf.Len())
	}
}

func TestWriteLandmarks_RoundTripsCoordinates(t *testing.T) {
	var buf bytes.Buffer
	landmarks := []facefit.Point3D{{X: 1, Y: 2, Z: 3}, {X: -1, Y: 0, Z: 0.5}}
	if err := WriteLandmarks(&buf, landmarks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("landmarks")) {
		t.Errorf("expected JSON to contain 'landmarks' key, got %s", buf.String())
	}
}

func TestWriteDiagnostics_IncludesQCVerdict(t *testing.T) {
	var buf bytes.Buffer
	d := Diagnostics{
		Params:  facefit.ModelParams{Shape: []float64{0.1, 0.2}},
		Metrics: facefit.FitMetrics{MeanMM: 1.2},
		QC:      facefit.QCResult{PassFit: true, Confidence: 0.9},
	}
	if err := WriteDiagnostics(&buf, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("pass_fit")) {
		t.Errorf("expected JSON to contain QC field, got %s", buf.String())
	}
}

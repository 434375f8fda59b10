package flame

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/facefit/facefit/pkg/facefit"
)

// writeTestAsset builds a minimal 3-vertex, 1-face, 1-shape, 1-expr FLAME
// asset in the on-disk binary layout Parse expects.
func writeTestAsset(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	header := struct {
		NumVertices uint32
		NumFaces    uint32
		NumShape    uint32
		NumExpr     uint32
	}{NumVertices: 3, NumFaces: 1, NumShape: 1, NumExpr: 1}
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		t.Fatal(err)
	}

	mean := [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	for _, v := range mean {
		binary.Write(buf, binary.LittleEndian, v)
	}
	binary.Write(buf, binary.LittleEndian, [3]uint32{0, 1, 2})

	shapeBasis := [][3]float32{{1, 0, 0}, {0, 0, 0}, {0, 0, 0}}
	for _, v := range shapeBasis {
		binary.Write(buf, binary.LittleEndian, v)
	}
	exprBasis := [][3]float32{{0, 0, 0}, {0, 1, 0}, {0, 0, 0}}
	for _, v := range exprBasis {
		binary.Write(buf, binary.LittleEndian, v)
	}

	binary.Write(buf, binary.LittleEndian, [3]float32{0, 0, 0}) // head pivot
	binary.Write(buf, binary.LittleEndian, [3]float32{0, 0, 0}) // jaw pivot
	binary.Write(buf, binary.LittleEndian, uint32(0))           // no jaw weights
	return buf
}

func TestParse_ReadsHeaderAndBuffers(t *testing.T) {
	buf := writeTestAsset(t)
	m, err := Parse(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.NumVertices() != 3 {
		t.Fatalf("expected 3 vertices, got %d", m.NumVertices())
	}
	if len(m.Faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(m.Faces))
	}
	if len(m.ShapeBasis) != 1 || len(m.ExprBasis) != 1 {
		t.Fatalf("expected 1 shape + 1 expr basis")
	}
}

func TestEvaluate_ZeroParamsReturnsMean(t *testing.T) {
	buf := writeTestAsset(t)
	m, err := Parse(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := facefit.ModelParams{Shape: make([]float64, 1), Expression: make([]float64, 1)}
	got := m.Evaluate(params)
	for i, v := range got {
		if facefit.Distance(v, m.MeanVertices[i]) > 1e-9 {
			t.Errorf("vertex %d: got %+v, want mean %+v", i, v, m.MeanVertices[i])
		}
	}
}

func TestEvaluate_ShapeCoefficientAddsBasis(t *testing.T) {
	buf := writeTestAsset(t)
	m, err := Parse(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := facefit.ModelParams{Shape: []float64{2.0}, Expression: make([]float64, 1)}
	got := m.Evaluate(params)
	want := facefit.Point3D{X: 2.0, Y: 0, Z: 0} // mean vertex 0 (0,0,0) + 2*shapeBasis[0][0] (1,0,0)
	if facefit.Distance(got[0], want) > 1e-9 {
		t.Errorf("got %+v, want %+v", got[0], want)
	}
}

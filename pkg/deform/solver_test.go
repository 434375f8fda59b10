package deform

import (
	"math"
	"testing"
)

func identityCSR(n int) *CSRMatrix {
	rowStart := make([]int, n+1)
	colIdx := make([]int, n)
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		rowStart[i] = i
		colIdx[i] = i
		values[i] = 1
	}
	rowStart[n] = n
	return &CSRMatrix{N: n, RowStart: rowStart, ColIdx: colIdx, Values: values}
}

func TestSolveCG_IdentitySystemReturnsB(t *testing.T) {
	a := identityCSR(3)
	b := []float64{1, 2, 3}
	x := SolveCG(a, b, 50, 1e-10)
	for i, v := range x {
		if math.Abs(v-b[i]) > 1e-8 {
			t.Errorf("index %d: got %f, want %f", i, v, b[i])
		}
	}
}

func TestSolveCG_DiagonalSystem(t *testing.T) {
	rowStart := []int{0, 1, 2, 3}
	colIdx := []int{0, 1, 2}
	values := []float64{2, 4, 8}
	a := &CSRMatrix{N: 3, RowStart: rowStart, ColIdx: colIdx, Values: values}
	b := []float64{4, 8, 8}
	x := SolveCG(a, b, 50, 1e-10)
	want := []float64{2, 2, 1}
	for i := range x {
		if math.Abs(x[i]-want[i]) > 1e-6 {
			t.Errorf("index %d: got %f, want %f", i, x[i], want[i])
		}
	}
}

func TestSolveCG_LaplacianPlusDiagonalIsWellPosed(t *testing.T) {
	l := BuildLaplacian(4, tetrahedronFaces())
	extra := []float64{1, 1, 1, 1}
	a := AddDiagonal(l, extra)
	b := []float64{1, 2, 3, 4}
	x := SolveCG(a, b, 200, 1e-12)
	got := a.MulVec(x)
	for i := range got {
		if math.Abs(got[i]-b[i]) > 1e-6 {
			t.Errorf("residual at %d: A*x=%f, want %f", i, got[i], b[i])
		}
	}
}

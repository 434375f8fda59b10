package facefit

import (
	"errors"
	"testing"
)

func TestRepeatabilityCheck_ZeroStdForIdenticalRuns(t *testing.T) {
	fixed := []Point3D{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 2, Z: 3}}
	result, err := RepeatabilityCheck(3, func() ([]Point3D, error) {
		return fixed, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["nose_tip_std_mm"] != 0 {
		t.Errorf("expected zero std for identical runs, got %f", result["nose_tip_std_mm"])
	}
}

func TestRepeatabilityCheck_NonZeroStdForVaryingRuns(t *testing.T) {
	calls := 0
	runs := [][]Point3D{
		{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}},
		{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0.002, Z: 0}},
		{{X: 0, Y: 0, Z: 0}, {X: 1, Y: -0.002, Z: 0}},
	}
	result, err := RepeatabilityCheck(3, func() ([]Point3D, error) {
		out := runs[calls]
		calls++
		return out, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["nose_tip_std_mm"] <= 0 {
		t.Errorf("expected non-zero std for varying runs, got %f", result["nose_tip_std_mm"])
	}
}

func TestRepeatabilityCheck_PropagatesFitError(t *testing.T) {
	wantErr := errors.New("fit failed")
	_, err := RepeatabilityCheck(2, func() ([]Point3D, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped fit error, got %v", err)
	}
}

func TestRepeatabilityCheck_ShortLandmarkListFails(t *testing.T) {
	_, err := RepeatabilityCheck(2, func() ([]Point3D, error) {
		return []Point3D{{X: 0, Y: 0, Z: 0}}, nil
	})
	if !errors.Is(err, ErrInputInvalid) {
		t.Fatalf("expected ErrInputInvalid, got %v", err)
	}
}

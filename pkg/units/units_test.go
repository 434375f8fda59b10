package units

import (
	"testing"

	"github.com/facefit/facefit/pkg/facefit"
)

func cloudWithDiagonal(diag float64) facefit.PointCloud {
	return facefit.PointCloud{
		Points: []facefit.Point3D{
			{X: 0, Y: 0, Z: 0},
			{X: diag, Y: 0, Z: 0},
		},
	}
}

func TestNormalize_EmptyCloud(t *testing.T) {
	result := Normalize(facefit.PointCloud{}, 0, "")
	if result.UnitsInferred != Unknown {
		t.Errorf("expected Unknown, got %v", result.UnitsInferred)
	}
	if len(result.Warnings) != 1 || result.Warnings[0] != WarnPointCloudEmpty {
		t.Errorf("expected POINTCLOUD_EMPTY warning, got %v", result.Warnings)
	}
}

func TestNormalize_LargeDiagonalInfersMillimeters(t *testing.T) {
	cloud := cloudWithDiagonal(200) // e.g. a 200mm face scan read as raw units
	result := Normalize(cloud, 0, "")
	if result.UnitsInferred != Millimeters {
		t.Errorf("expected Millimeters, got %v", result.UnitsInferred)
	}
	if result.UnitScaleApplied != 0.001 {
		t.Errorf("expected scale 0.001, got %f", result.UnitScaleApplied)
	}
	if result.Cloud.Points[1].X != 0.2 {
		t.Errorf("expected scaled X 0.2, got %f", result.Cloud.Points[1].X)
	}
}

func TestNormalize_TinyDiagonalIsSuspect(t *testing.T) {
	cloud := cloudWithDiagonal(0.005)
	result := Normalize(cloud, 0, "")
	if result.UnitsInferred != Unknown {
		t.Errorf("expected Unknown, got %v", result.UnitsInferred)
	}
	if len(result.Warnings) != 1 || result.Warnings[0] != WarnUnitSuspect {
		t.Errorf("expected UNIT_SUSPECT warning, got %v", result.Warnings)
	}
}

func TestNormalize_PlausibleDiagonalInfersMeters(t *testing.T) {
	cloud := cloudWithDiagonal(0.2) // a 20cm face scan in meters
	result := Normalize(cloud, 0, "")
	if result.UnitsInferred != Meters {
		t.Errorf("expected Meters, got %v", result.UnitsInferred)
	}
	if result.UnitScaleApplied != 1.0 {
		t.Errorf("expected scale 1.0, got %f", result.UnitScaleApplied)
	}
}

func TestNormalize_OverrideScaleWins(t *testing.T) {
	cloud := cloudWithDiagonal(200)
	result := Normalize(cloud, 2.0, "")
	if result.UnitsInferred != Override {
		t.Errorf("expected Override, got %v", result.UnitsInferred)
	}
	if result.UnitScaleApplied != 2.0 {
		t.Errorf("expected scale 2.0, got %f", result.UnitScaleApplied)
	}
}

func TestNormalize_OverrideUnitsWins(t *testing.T) {
	cloud := cloudWithDiagonal(0.2)
	result := Normalize(cloud, 0, "millimeters")
	if result.UnitsInferred != Millimeters {
		t.Errorf("expected Millimeters, got %v", result.UnitsInferred)
	}
}

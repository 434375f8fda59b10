// Package units infers the physical unit scale of an incoming point cloud
// and rescales it to meters (§4.3, component C), grounded on
// `backend/units.py`'s normalize_units.
package units

import "github.com/facefit/facefit/pkg/facefit"

// Inferred names the unit system a Result was normalized from.
type Inferred string

const (
	Meters      Inferred = "meters"
	Millimeters Inferred = "millimeters"
	Override    Inferred = "override"
	Unknown     Inferred = "unknown"
)

// Warning strings, matching the prototype's literal warning codes.
const (
	WarnPointCloudEmpty = "POINTCLOUD_EMPTY"
	WarnUnitSuspect     = "UNIT_SUSPECT"
)

// Result is the outcome of unit normalization.
type Result struct {
	Cloud           facefit.PointCloud
	UnitsInferred   Inferred
	UnitScaleApplied float64
	Warnings        []string
}

// Normalize infers the unit scale of cloud from its bounding-box diagonal
// and rescales it to meters in place (on a copy), per units.py's thresholds:
// diagonal > 1.0 implies millimeters (scale 0.001), diagonal < 0.02 implies
// an implausibly tiny cloud flagged UNIT_SUSPECT (scale left at 1.0, units
// "unknown"), otherwise the cloud is assumed to already be in meters.
//
// overrideScale, when > 0, takes precedence over inference entirely.
// overrideUnits, when "meters" or "millimeters", takes precedence over
// inference but not over overrideScale.
func Normalize(cloud facefit.PointCloud, overrideScale float64, overrideUnits string) Result {
	if len(cloud.Points) == 0 {
		return Result{
			Cloud:            cloud,
			UnitsInferred:    Unknown,
			UnitScaleApplied: 1.0,
			Warnings:         []string{WarnPointCloudEmpty},
		}
	}

	if overrideScale > 0 {
		return Result{
			Cloud:            scaleCloud(cloud, overrideScale),
			UnitsInferred:    Override,
			UnitScaleApplied: overrideScale,
		}
	}

	switch overrideUnits {
	case "meters":
		return Result{Cloud: cloud, UnitsInferred: Meters, UnitScaleApplied: 1.0}
	case "millimeters":
		return Result{Cloud: scaleCloud(cloud, 0.001), UnitsInferred: Millimeters, UnitScaleApplied: 0.001}
	}

	diag := boundingBoxDiagonal(cloud.Points)
	switch {
	case diag > 1.0:
		return Result{Cloud: scaleCloud(cloud, 0.001), UnitsInferred: Millimeters, UnitScaleApplied: 0.001}
	case diag < 0.02:
		return Result{
			Cloud:            cloud,
			UnitsInferred:    Unknown,
			UnitScaleApplied: 1.0,
			Warnings:         []string{WarnUnitSuspect},
		}
	default:
		return Result{Cloud: cloud, UnitsInferred: Meters, UnitScaleApplied: 1.0}
	}
}

func boundingBoxDiagonal(points []facefit.Point3D) float64 {
	min, max := points[0], points[0]
	for _, p := range points[1:] {
		if p.X < min.X {
			min.X = p.X
		}
		if p.Y < min.Y {
			min.Y = p.Y
		}
		if p.Z < min.Z {
			min.Z = p.Z
		}
		if p.X > max.X {
			max.X = p.X
		}
		if p.Y > max.Y {
			max.Y = p.Y
		}
		if p.Z > max.Z {
			max.Z = p.Z
		}
	}
	return facefit.Distance(min, max)
}

func scaleCloud(cloud facefit.PointCloud, scale float64) facefit.PointCloud {
	out := facefit.PointCloud{
		Points:  make([]facefit.Point3D, len(cloud.Points)),
		Colors:  cloud.Colors,
		Normals: cloud.Normals,
	}
	for i, p := range cloud.Points {
		out.Points[i] = p.Scale(scale)
	}
	return out
}

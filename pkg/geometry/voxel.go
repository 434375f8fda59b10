package geometry

import (
	"math"

	"github.com/facefit/facefit/pkg/facefit"
)

type voxelKey struct{ x, y, z int64 }

// VoxelDownsample reduces a point cloud to at most one representative point
// per voxel cell of the given edge length, per §4.1. Each output point is
// the centroid of the points falling in its cell; colors and normals, when
// present, are averaged the same way (normals are renormalized after
// averaging). Idempotent: downsampling an already-downsampled cloud at the
// same voxel size returns it unchanged (§8).
func VoxelDownsample(pc facefit.PointCloud, voxelSize float64) facefit.PointCloud {
	if voxelSize <= 0 || len(pc.Points) == 0 {
		return pc
	}

	type accum struct {
		sum    facefit.Point3D
		color  facefit.Color
		normal facefit.Point3D
		count  int
	}

	cells := make(map[voxelKey]*accum)
	order := make([]voxelKey, 0)
	hasColor := pc.HasColors()
	hasNormal := pc.HasNormals()

	for i, p := range pc.Points {
		key := voxelKey{
			x: int64(math.Floor(p.X / voxelSize)),
			y: int64(math.Floor(p.Y / voxelSize)),
			z: int64(math.Floor(p.Z / voxelSize)),
		}
		a, ok := cells[key]
		if !ok {
			a = &accum{}
			cells[key] = a
			order = append(order, key)
		}
		a.sum = a.sum.Add(p)
		if hasColor {
			c := pc.Colors[i]
			a.color.R += c.R
			a.color.G += c.G
			a.color.B += c.B
		}
		if hasNormal {
			a.normal = a.normal.Add(pc.Normals[i])
		}
		a.count++
	}

	out := facefit.PointCloud{Points: make([]facefit.Point3D, 0, len(order))}
	if hasColor {
		out.Colors = make([]facefit.Color, 0, len(order))
	}
	if hasNormal {
		out.Normals = make([]facefit.Point3D, 0, len(order))
	}

	for _, key := range order {
		a := cells[key]
		n := float64(a.count)
		out.Points = append(out.Points, a.sum.Scale(1.0/n))
		if hasColor {
			out.Colors = append(out.Colors, facefit.Color{R: a.color.R / n, G: a.color.G / n, B: a.color.B / n})
		}
		if hasNormal {
			avg := a.normal.Scale(1.0 / n)
			if l := avg.Norm(); l > 1e-12 {
				avg = avg.Scale(1.0 / l)
			}
			out.Normals = append(out.Normals, avg)
		}
	}
	return out
}

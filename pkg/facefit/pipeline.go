package facefit

import (
	"math"
	"sort"
)

// Stage labels used for status reporting (§4.8).
const (
	StageRead            = "read"
	StageUnits           = "units"
	StageCrop            = "crop"
	StagePreprocess      = "preprocess"
	StageFit             = "fit"
	StageRefit           = "refit"
	StageNonRigidDeform  = "nonrigid_deform"
	StageMetrics         = "metrics"
	StageExport          = "export"
)

// PipelineOptions bundles every tunable the orchestrator threads through to
// its sub-stages (fitter weights/region/robust config live in their own
// packages; this is only the orchestrator-level policy, §4.8).
type PipelineOptions struct {
	VoxelSize          float64
	SparsePointFloor   int // below this, downsampled cloud fails PointCloudTooSparse
	SparsePointCeiling int // below this, sparse_mode is set
	QC                 QCThresholds
	OverrideScale      float64
	OverrideUnits      string
}

// DefaultPipelineOptions mirrors §4.8's sparse-fallback floor/ceiling and
// §6's QC threshold defaults.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		VoxelSize:          0.005,
		SparsePointFloor:   200,
		SparsePointCeiling: 500,
		QC: QCThresholds{
			MaxLandmarkMM:   4.0,
			MaxSurfaceMMP95: 6.0,
			MaxNoseMMP95:    4.0,
		},
	}
}

// PipelineResult is the final artifact bundle produced by a full run.
type PipelineResult struct {
	Fit        FitResult
	NonRigid   *NonRigidResult // nil if deformation was skipped or discarded
	Metrics    FitMetrics
	QC         QCResult
	SparseMode bool
	TimedOut   bool
	Stage      string // last stage reached
}

// CropToFaceRegion retains points within the 10th-90th percentile in x and
// y, the near 60% of z-depth, and a radial mask around (median x, median y)
// of radius 0.6*max(x-range, y-range); skips cropping if the mask would
// keep fewer than 20% of points (§4.8). Grounded on spec §4.8's face-region
// crop prose (no equivalent crop exists in the prototype's metrics/qc/units
// modules — this is orchestrator-owned logic).
func CropToFaceRegion(cloud PointCloud) PointCloud {
	n := cloud.Len()
	if n == 0 {
		return cloud
	}

	xs, ys, zs := make([]float64, n), make([]float64, n), make([]float64, n)
	for i, p := range cloud.Points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	sortedX, sortedY, sortedZ := sortedCopy(xs), sortedCopy(ys), sortedCopy(zs)

	xLo, xHi := percentileSorted(sortedX, 0.10), percentileSorted(sortedX, 0.90)
	yLo, yHi := percentileSorted(sortedY, 0.10), percentileSorted(sortedY, 0.90)
	zNear := percentileSorted(sortedZ, 0.60)
	medianX, medianY := percentileSorted(sortedX, 0.5), percentileSorted(sortedY, 0.5)

	xRange := xHi - xLo
	yRange := yHi - yLo
	radius := 0.6 * math.Max(xRange, yRange)

	keep := make([]bool, n)
	var kept int
	for i, p := range cloud.Points {
		inBox := p.X >= xLo && p.X <= xHi && p.Y >= yLo && p.Y <= yHi && p.Z <= zNear
		dx, dy := p.X-medianX, p.Y-medianY
		inRadius := math.Hypot(dx, dy) <= radius
		if inBox && inRadius {
			keep[i] = true
			kept++
		}
	}

	if float64(kept)/float64(n) < 0.20 {
		return cloud
	}
	return filterCloud(cloud, keep)
}

func sortedCopy(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}

func filterCloud(cloud PointCloud, keep []bool) PointCloud {
	var out PointCloud
	hasColors, hasNormals := cloud.HasColors(), cloud.HasNormals()
	for i, k := range keep {
		if !k {
			continue
		}
		out.Points = append(out.Points, cloud.Points[i])
		if hasColors {
			out.Colors = append(out.Colors, cloud.Colors[i])
		}
		if hasNormals {
			out.Normals = append(out.Normals, cloud.Normals[i])
		}
	}
	return out
}

// ClassifySparsity applies §4.8's sparse fallback: fewer than floor points
// fails PointCloudTooSparse; fewer than ceiling sets sparse_mode. In sparse
// mode the CLI freezes expression and jaw pose and skips the non-rigid
// deformer; stages S2/S3 are not skipped (they still run, training pose,
// scale and translation, plus shape in S3).
func ClassifySparsity(cloud PointCloud, opts PipelineOptions) (sparse bool, err error) {
	n := cloud.Len()
	if n < opts.SparsePointFloor {
		return false, ErrPointCloudTooSparse
	}
	return n < opts.SparsePointCeiling, nil
}

// ShouldRefit implements the automatic-refit trigger (§4.8): refit when the
// first fit's outlier ratio, landmark RMS, or surface p95 exceed the given
// thresholds.
func ShouldRefit(m FitMetrics) bool {
	return m.OutlierRatio > 0.5 || m.LandmarkRMSMM > 10 || m.P95MM > 25
}

// AdoptRefit reports whether a refit's metrics should replace the original
// fit: only when its surface p95 is strictly lower (§4.8).
func AdoptRefit(original, refit FitMetrics) bool {
	return refit.P95MM < original.P95MM
}

// AcceptNonRigid implements the §4.6 acceptance rule: adopt the deformed
// mesh only when the non-rigid stage converged or its mean error is under
// 10mm; otherwise the caller should discard it and keep the model-space
// mesh.
func AcceptNonRigid(r NonRigidResult) bool {
	return r.Converged || r.MeanErrorM*1000 < 10
}

// SkipNonRigid reports whether the non-rigid stage should be skipped
// outright (§4.8: "non-rigid skipped when sparse or p95 >= 20mm").
func SkipNonRigid(sparse bool, p95MM float64) bool {
	return sparse || p95MM >= 20
}

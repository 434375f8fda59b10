package facefit

import (
	"math"
	"testing"
)

func nearestInSlice(target []Point3D) func(Point3D) float64 {
	return func(p Point3D) float64 {
		best := math.MaxFloat64
		for _, t := range target {
			if d := Distance(p, t); d < best {
				best = d
			}
		}
		return best
	}
}

func TestSurfaceErrorMetrics_ZeroWhenCoincident(t *testing.T) {
	pts := []Point3D{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}}
	mean, median, p95, outlier := SurfaceErrorMetrics(pts, nearestInSlice(pts))
	if mean != 0 || median != 0 || p95 != 0 || outlier != 0 {
		t.Errorf("expected all-zero metrics for coincident clouds, got mean=%f median=%f p95=%f outlier=%f", mean, median, p95, outlier)
	}
}

func TestSurfaceErrorMetrics_EmptyInput(t *testing.T) {
	mean, median, p95, outlier := SurfaceErrorMetrics(nil, nearestInSlice(nil))
	if mean != 0 || median != 0 || p95 != 0 || outlier != 0 {
		t.Errorf("expected zero metrics for empty input")
	}
}

func TestSurfaceErrorMetrics_FlagsOutliers(t *testing.T) {
	target := []Point3D{{X: 0, Y: 0, Z: 0}}
	source := []Point3D{{X: 0, Y: 0, Z: 0}, {X: 0.01, Y: 0, Z: 0}} // 10mm away
	_, _, _, outlier := SurfaceErrorMetrics(source, nearestInSlice(target))
	if outlier != 0.5 {
		t.Errorf("expected outlier_ratio 0.5, got %f", outlier)
	}
}

func TestLandmarkRMSMM_ZeroWhenCoincident(t *testing.T) {
	pts := []Point3D{{X: 0, Y: 0, Z: 0}}
	if got := LandmarkRMSMM(pts, nearestInSlice(pts)); got != 0 {
		t.Errorf("expected 0, got %f", got)
	}
}

func TestBuildQC_PassesWhenBelowAllThresholds(t *testing.T) {
	m := FitMetrics{P95MM: 1, NoseP95MM: 1, LandmarkRMSMM: 1, OutlierRatio: 0}
	thresh := QCThresholds{MaxLandmarkMM: 4, MaxSurfaceMMP95: 6, MaxNoseMMP95: 4}
	qc := BuildQC(m, thresh, false, false)
	if !qc.PassFit {
		t.Errorf("expected pass_fit, got warnings %v", qc.Warnings)
	}
	if len(qc.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", qc.Warnings)
	}
}

func TestBuildQC_HighOutlierRatioWarnsButDoesNotFailAlone(t *testing.T) {
	m := FitMetrics{P95MM: 1, NoseP95MM: 1, LandmarkRMSMM: 1, OutlierRatio: 0.5}
	thresh := QCThresholds{MaxLandmarkMM: 4, MaxSurfaceMMP95: 6, MaxNoseMMP95: 4}
	qc := BuildQC(m, thresh, false, false)
	if !qc.PassFit {
		t.Errorf("HIGH_OUTLIER_RATIO alone must not fail pass_fit, per the prototype")
	}
	found := false
	for _, w := range qc.Warnings {
		if w == WarnHighOutlierRatio {
			found = true
		}
	}
	if !found {
		t.Errorf("expected HIGH_OUTLIER_RATIO warning, got %v", qc.Warnings)
	}
}

func TestBuildQC_HighSurfaceErrorFails(t *testing.T) {
	m := FitMetrics{P95MM: 100, NoseP95MM: 1, LandmarkRMSMM: 1}
	thresh := QCThresholds{MaxLandmarkMM: 4, MaxSurfaceMMP95: 6, MaxNoseMMP95: 4}
	qc := BuildQC(m, thresh, false, false)
	if qc.PassFit {
		t.Errorf("expected pass_fit=false given p95 far over threshold")
	}
}

func TestBuildQC_SparseAndTimeoutForceFail(t *testing.T) {
	m := FitMetrics{}
	thresh := QCThresholds{MaxLandmarkMM: 4, MaxSurfaceMMP95: 6, MaxNoseMMP95: 4}
	if qc := BuildQC(m, thresh, true, false); qc.PassFit {
		t.Errorf("expected sparse mode to force pass_fit=false")
	}
	if qc := BuildQC(m, thresh, false, true); qc.PassFit {
		t.Errorf("expected timeout to force pass_fit=false")
	}
}

func TestBuildQC_ConfidenceClippedToUnitInterval(t *testing.T) {
	m := FitMetrics{P95MM: 1000, NoseP95MM: 1000, LandmarkRMSMM: 1000}
	thresh := QCThresholds{MaxLandmarkMM: 4, MaxSurfaceMMP95: 6, MaxNoseMMP95: 4}
	qc := BuildQC(m, thresh, false, false)
	if qc.Confidence < 0 || qc.Confidence > 1 {
		t.Errorf("confidence out of [0,1]: %f", qc.Confidence)
	}
}

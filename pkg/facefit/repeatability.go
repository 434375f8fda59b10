package facefit

import "math"

// RepeatabilityCheck re-runs fit runs times against the same input and
// reports the standard deviation of the nose-tip landmark position across
// runs, in millimeters. Grounded on `backend/repeatability.py`'s
// repeatability_check: same nose-tip-only metric, same "norm of the
// per-axis std" reduction. fit is a closure over whatever fit invocation
// the caller already has configured (model, cloud, options), so this
// package stays independent of pkg/fitter.
//
// Excluded from pkg/miface/kalman.go's role: that filter performs temporal
// smoothing across a live video stream, which this system's Non-goals rule
// out for point-cloud scans. Repeatability here is a pure statistic over
// independent re-fits, not a recursive smoother.
func RepeatabilityCheck(runs int, fit func() (landmarks []Point3D, err error)) (map[string]float64, error) {
	if runs <= 0 {
		runs = 1
	}
	positions := make([]Point3D, 0, runs)
	for i := 0; i < runs; i++ {
		landmarks, err := fit()
		if err != nil {
			return nil, err
		}
		if NoseTipLandmarkIndex >= len(landmarks) {
			return nil, ErrInputInvalid
		}
		positions = append(positions, landmarks[NoseTipLandmarkIndex])
	}

	var mean Point3D
	for _, p := range positions {
		mean = mean.Add(p)
	}
	mean = mean.Scale(1.0 / float64(len(positions)))

	var varX, varY, varZ float64
	for _, p := range positions {
		d := p.Sub(mean)
		varX += d.X * d.X
		varY += d.Y * d.Y
		varZ += d.Z * d.Z
	}
	n := float64(len(positions))
	stdX := math.Sqrt(varX / n)
	stdY := math.Sqrt(varY / n)
	stdZ := math.Sqrt(varZ / n)

	noseTipStdMM := math.Sqrt(stdX*stdX+stdY*stdY+stdZ*stdZ) * 1000

	return map[string]float64{"nose_tip_std_mm": noseTipStdMM}, nil
}

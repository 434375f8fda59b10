//go:build cgo
// +build cgo

// Package previewer renders a static fit-quality snapshot: an orthographic
// projection of the fitted mesh with each vertex colored by its surface
// error, for debugging a single fit run. Adapted from the teacher's
// `pkg/miface/camera_gocv.go`, which draws its own gocv.Mat overlays
// directly rather than through an abstraction layer; this package does the
// same for a one-shot QC snapshot instead of a live camera frame.
package previewer

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/facefit/facefit/pkg/facefit"
)

// HeatmapConfig controls the error-heatmap projection.
type HeatmapConfig struct {
	Width       int
	Height      int
	PointRadius int
	MaxErrorMM  float64 // errors at or above this map to full red
}

// DefaultHeatmapConfig mirrors the QC thresholds' surface-error ceiling
// (§4.7's max_surface_mm_p95 default) as the heatmap's red point.
func DefaultHeatmapConfig() HeatmapConfig {
	return HeatmapConfig{Width: 640, Height: 640, PointRadius: 2, MaxErrorMM: 6}
}

// RenderErrorHeatmap projects vertices onto the XY plane (orthographic,
// centered and scaled to fill the frame) and draws each as a filled circle
// colored by its corresponding entry in errorsMM on a green-yellow-red scale.
// The caller must Close() the returned Mat.
func RenderErrorHeatmap(vertices []facefit.Point3D, errorsMM []float64, cfg HeatmapConfig) (gocv.Mat, error) {
	if len(vertices) == 0 {
		return gocv.Mat{}, fmt.Errorf("%w: no vertices to render", facefit.ErrEmptyInput)
	}
	if len(errorsMM) != len(vertices) {
		return gocv.Mat{}, fmt.Errorf("%w: errorsMM length %d does not match vertex count %d", facefit.ErrInputInvalid, len(errorsMM), len(vertices))
	}

	img := gocv.NewMatWithSize(cfg.Height, cfg.Width, gocv.MatTypeCV8UC3)
	img.SetTo(gocv.NewScalar(16, 16, 16, 0))

	minX, maxX, minY, maxY := vertices[0].X, vertices[0].X, vertices[0].Y, vertices[0].Y
	for _, v := range vertices[1:] {
		if v.X < minX {
			minX = v.X
		}
		if v.X > maxX {
			maxX = v.X
		}
		if v.Y < minY {
			minY = v.Y
		}
		if v.Y > maxY {
			maxY = v.Y
		}
	}
	spanX, spanY := maxX-minX, maxY-minY
	if spanX <= 0 {
		spanX = 1
	}
	if spanY <= 0 {
		spanY = 1
	}
	margin := 0.9

	for i, v := range vertices {
		u := (v.X - minX) / spanX
		vv := 1 - (v.Y-minY)/spanY // flip so +Y renders upward
		px := int((0.5 + (u-0.5)*margin) * float64(cfg.Width))
		py := int((0.5 + (vv-0.5)*margin) * float64(cfg.Height))

		color := errorColor(errorsMM[i], cfg.MaxErrorMM)
		gocv.Circle(&img, image.Pt(px, py), cfg.PointRadius, color, -1)
	}

	return img, nil
}

// errorColor maps an error in millimeters to a color on a green (0mm) ->
// yellow (half) -> red (MaxErrorMM+) scale.
func errorColor(errMM, maxErrMM float64) color.RGBA {
	if maxErrMM <= 0 {
		maxErrMM = 1
	}
	t := errMM / maxErrMM
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	var r, g float64
	if t < 0.5 {
		r = t * 2
		g = 1
	} else {
		r = 1
		g = 1 - (t-0.5)*2
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: 0, A: 255}
}

// SaveSnapshot writes img to path (format inferred from extension, e.g.
// .png), mirroring `camera_gocv.go`'s direct gocv calls rather than adding
// an abstraction layer.
func SaveSnapshot(path string, img gocv.Mat) error {
	ok := gocv.IMWrite(path, img)
	if !ok {
		return fmt.Errorf("%w: writing snapshot to %s", facefit.ErrExternalFailure, path)
	}
	return nil
}

package glbio

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"

	"github.com/facefit/facefit/pkg/facefit"
	"github.com/facefit/facefit/pkg/geometry"
)

// LandmarkDocument is the §6 landmark JSON export shape:
// {landmarks: [[x,y,z], ...]} in meters.
type LandmarkDocument struct {
	Landmarks [][3]float64 `json:"landmarks"`
}

// WriteLandmarks writes landmarks as the §6 landmark JSON document.
func WriteLandmarks(w io.Writer, landmarks []facefit.Point3D) error {
	doc := LandmarkDocument{Landmarks: make([][3]float64, len(landmarks))}
	for i, p := range landmarks {
		doc.Landmarks[i] = [3]float64{p.X, p.Y, p.Z}
	}
	return json.NewEncoder(w).Encode(doc)
}

// Diagnostics is the §6 diagnostics JSON export: parameter vectors, stage
// records, metrics bundle, QC verdict.
type Diagnostics struct {
	Params  facefit.ModelParams
	Stages  []facefit.StageRecord
	Metrics facefit.FitMetrics
	QC      facefit.QCResult
}

type diagnosticsDoc struct {
	Shape       []float64            `json:"shape"`
	Expression  []float64            `json:"expression"`
	Pose        [6]float64           `json:"pose"`
	Scale       float64              `json:"scale"`
	Translation [3]float64           `json:"translation"`
	Stages      []facefit.StageRecord `json:"stages"`
	Metrics     facefit.FitMetrics   `json:"metrics"`
	QC          facefit.QCResult     `json:"qc"`
}

// WriteDiagnostics writes d as the §6 diagnostics JSON document.
func WriteDiagnostics(w io.Writer, d Diagnostics) error {
	doc := diagnosticsDoc{
		Shape:      d.Params.Shape,
		Expression: d.Params.Expression,
		Pose:       d.Params.Pose,
		Scale:      d.Params.Scale,
		Translation: [3]float64{
			d.Params.Translation.X, d.Params.Translation.Y, d.Params.Translation.Z,
		},
		Stages:  d.Stages,
		Metrics: d.Metrics,
		QC:      d.QC,
	}
	return json.NewEncoder(w).Encode(doc)
}

// OverlayConfig mirrors `backend/overlay.py`'s OverlayConfig, pinned by
// SPEC_FULL.md §4's supplemented-feature note.
type OverlayConfig struct {
	KNNK       int
	MaxDistM   float64
	VoxelSize  float64
	MaxPoints  int
	MinPoints  int
	Epsilon    float64
}

// DefaultOverlayConfig mirrors the prototype's defaults.
func DefaultOverlayConfig() OverlayConfig {
	return OverlayConfig{KNNK: 4, MaxDistM: 0.05, VoxelSize: 0.004, MaxPoints: 80000, MinPoints: 3000, Epsilon: 1e-6}
}

// OverlayPack is the binary overlay pack (§6): per-point position, color,
// k-NN indices into the fitted mesh, inverse-distance barycentric-style
// weights, and the offset between the raw scan point and its weighted
// blend of the nearest k mesh vertices. Grounded on `backend/overlay.py`'s
// build_overlay_pack / _binding_map.
type OverlayPack struct {
	Points  []facefit.Point3D
	Colors  []facefit.Color
	Indices [][]int
	Weights [][]float64
	Offsets []facefit.Point3D
}

// BuildOverlayPack binds cloud points to the k nearest vertices of mesh via
// inverse-distance weighting, then records each point's residual against
// that weighted blend.
func BuildOverlayPack(cloud facefit.PointCloud, meshVertices []facefit.Point3D, cfg OverlayConfig) (OverlayPack, error) {
	if cloud.Len() == 0 || len(meshVertices) == 0 {
		return OverlayPack{}, nil
	}
	tree, err := geometry.Build(meshVertices)
	if err != nil {
		return OverlayPack{}, err
	}

	n := cloud.Len()
	pack := OverlayPack{
		Points:  cloud.Points,
		Indices: make([][]int, n),
		Weights: make([][]float64, n),
		Offsets: make([]facefit.Point3D, n),
	}
	if cloud.HasColors() {
		pack.Colors = cloud.Colors
	}

	k := cfg.KNNK
	if k <= 0 {
		k = 1
	}
	for i, p := range cloud.Points {
		idxs, sqDists := tree.KNN(p, k)
		weights := make([]float64, len(idxs))
		var sum float64
		for j, sq := range sqDists {
			d := math.Sqrt(sq)
			weights[j] = 1 / (d + cfg.Epsilon)
			sum += weights[j]
		}
		var blended facefit.Point3D
		for j, idx := range idxs {
			if sum > 0 {
				weights[j] /= sum
			}
			blended = blended.Add(meshVertices[idx].Scale(weights[j]))
		}
		pack.Indices[i] = idxs
		pack.Weights[i] = weights
		pack.Offsets[i] = p.Sub(blended)
	}

	return pack, nil
}

type overlayManifest struct {
	Version       string  `json:"version"`
	PointCount    int     `json:"point_count"`
	KNNK          int     `json:"knn_k"`
	HasColor      bool    `json:"has_color"`
	BoundingBoxMin [3]float64 `json:"bounding_box_min"`
	BoundingBoxMax [3]float64 `json:"bounding_box_max"`
}

// WriteOverlayPack writes the raw little-endian buffers (positions
// float32, colors uint8, indices uint32, weights float32, offsets
// float32) to binOut and the accompanying JSON manifest to manifestOut
// (§6). The manifest records version, point count, k, color presence and
// bounding box; it does not list the buffers' dtypes.
func WriteOverlayPack(binOut io.Writer, manifestOut io.Writer, pack OverlayPack, k int) error {
	n := len(pack.Points)
	hasColor := len(pack.Colors) == n && n > 0

	for _, p := range pack.Points {
		if err := writeFloat32LE(binOut, float32(p.X), float32(p.Y), float32(p.Z)); err != nil {
			return err
		}
	}
	if hasColor {
		for _, c := range pack.Colors {
			if _, err := binOut.Write([]byte{scaleColorByte(c.R), scaleColorByte(c.G), scaleColorByte(c.B)}); err != nil {
				return err
			}
		}
	}
	for _, idxs := range pack.Indices {
		for _, idx := range padIndices(idxs, k) {
			if err := writeUint32LEToWriter(binOut, uint32(idx)); err != nil {
				return err
			}
		}
	}
	for _, weights := range pack.Weights {
		for _, w := range padWeights(weights, k) {
			if err := writeFloat32LE(binOut, float32(w)); err != nil {
				return err
			}
		}
	}
	for _, o := range pack.Offsets {
		if err := writeFloat32LE(binOut, float32(o.X), float32(o.Y), float32(o.Z)); err != nil {
			return err
		}
	}

	minP, maxP := boundingBox(pack.Points)
	manifest := overlayManifest{
		Version:        "v1",
		PointCount:     n,
		KNNK:           k,
		HasColor:       hasColor,
		BoundingBoxMin: [3]float64{minP.X, minP.Y, minP.Z},
		BoundingBoxMax: [3]float64{maxP.X, maxP.Y, maxP.Z},
	}
	return json.NewEncoder(manifestOut).Encode(manifest)
}

func padIndices(idxs []int, k int) []int {
	out := make([]int, k)
	copy(out, idxs)
	if len(idxs) > 0 {
		for i := len(idxs); i < k; i++ {
			out[i] = idxs[len(idxs)-1]
		}
	}
	return out
}

func padWeights(weights []float64, k int) []float64 {
	out := make([]float64, k)
	copy(out, weights)
	return out
}

func scaleColorByte(v float64) byte {
	scaled := v * 255
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return byte(scaled)
}

func writeFloat32LE(w io.Writer, vs ...float32) error {
	buf := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		buf = appendFloat32LE(buf, v)
	}
	_, err := w.Write(buf)
	return err
}

func writeUint32LEToWriter(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

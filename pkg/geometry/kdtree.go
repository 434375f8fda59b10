// Package geometry is the geometry kernel (§4.1): KD-tree nearest-neighbor
// search, voxel down-sampling, normal estimation, and rigid ICP. It is the
// shared substrate the model fitter and the non-rigid deformer both build
// on, mirroring how the teacher's pkg/mediapipe is the shared vision engine
// consumed by the rest of the tracker.
package geometry

import (
	"math"
	"sort"

	"github.com/facefit/facefit/pkg/facefit"
)

// KDTree is an opaque handle over a point buffer, built once and queried
// many times. Its lifetime is tied to the input buffer: callers must not
// mutate points after Build.
type KDTree struct {
	points []facefit.Point3D
	root   *kdNode
}

type kdNode struct {
	idx         int // index into points
	left, right *kdNode
	axis        int
}

// Build constructs a KD-tree over points. Returns ErrEmptyInput if points is
// empty.
func Build(points []facefit.Point3D) (*KDTree, error) {
	if len(points) == 0 {
		return nil, facefit.ErrEmptyInput
	}
	idxs := make([]int, len(points))
	for i := range idxs {
		idxs[i] = i
	}
	t := &KDTree{points: points}
	t.root = buildNode(points, idxs, 0)
	return t, nil
}

func buildNode(points []facefit.Point3D, idxs []int, depth int) *kdNode {
	if len(idxs) == 0 {
		return nil
	}
	axis := depth % 3
	sort.Slice(idxs, func(i, j int) bool {
		return coord(points[idxs[i]], axis) < coord(points[idxs[j]], axis)
	})
	mid := len(idxs) / 2
	node := &kdNode{idx: idxs[mid], axis: axis}
	node.left = buildNode(points, idxs[:mid], depth+1)
	node.right = buildNode(points, idxs[mid+1:], depth+1)
	return node
}

func coord(p facefit.Point3D, axis int) float64 {
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

func sqDist(a, b facefit.Point3D) float64 {
	d := a.Sub(b)
	return d.X*d.X + d.Y*d.Y + d.Z*d.Z
}

// neighbor is one candidate in a k-NN result, kept in a small bounded,
// unsorted list during the search and sorted by squared distance at the end
// (k stays in the 1..30 range throughout this
// module, so a linear scan for the worst element beats a heap's overhead).
type neighbor struct {
	idx    int
	sqDist float64
}

// KNN returns the k nearest neighbors of query, sorted ascending by
// distance, along with their squared distances. When k exceeds the number
// of points available, the last valid neighbor is repeated to pad the
// result to length k — callers must account for this when deduplicating.
func (t *KDTree) KNN(query facefit.Point3D, k int) (indices []int, sqDistances []float64) {
	if k <= 0 {
		return nil, nil
	}
	cands := make([]neighbor, 0, k+1)
	t.search(t.root, query, k, &cands)

	sort.Slice(cands, func(i, j int) bool { return cands[i].sqDist < cands[j].sqDist })

	indices = make([]int, k)
	sqDistances = make([]float64, k)
	for i := 0; i < k; i++ {
		if i < len(cands) {
			indices[i] = cands[i].idx
			sqDistances[i] = cands[i].sqDist
		} else if len(cands) > 0 {
			indices[i] = cands[len(cands)-1].idx
			sqDistances[i] = cands[len(cands)-1].sqDist
		}
	}
	return indices, sqDistances
}

// RadiusKNN returns the up-to-maxNN nearest neighbors within radius of
// query, matching open3d's KDTreeSearchParamHybrid(radius, max_nn): gather
// everything inside the ball, then keep only the maxNN closest of those.
// Returns fewer than maxNN indices when fewer points fall inside radius.
func (t *KDTree) RadiusKNN(query facefit.Point3D, radius float64, maxNN int) (indices []int, sqDistances []float64) {
	if maxNN <= 0 || maxNN > len(t.points) {
		maxNN = len(t.points)
	}
	all, allSq := t.KNN(query, maxNN)
	radiusSq := radius * radius
	indices = make([]int, 0, len(all))
	sqDistances = make([]float64, 0, len(all))
	for i, sq := range allSq {
		if sq <= radiusSq {
			indices = append(indices, all[i])
			sqDistances = append(sqDistances, sq)
		}
	}
	return indices, sqDistances
}

// search performs a classic KD-tree nearest-neighbor descent, keeping the
// k closest candidates found so far in cands (unsorted, worst-case O(k)
// insertion — fine at the small k this module uses, 1..30).
func (t *KDTree) search(n *kdNode, query facefit.Point3D, k int, cands *[]neighbor) {
	if n == nil {
		return
	}
	d := sqDist(t.points[n.idx], query)
	insertCandidate(cands, neighbor{idx: n.idx, sqDist: d}, k)

	diff := coord(query, n.axis) - coord(t.points[n.idx], n.axis)
	near, far := n.left, n.right
	if diff > 0 {
		near, far = n.right, n.left
	}
	t.search(near, query, k, cands)

	// Only descend into the far branch if it could contain a closer point
	// than the current worst kept candidate.
	if len(*cands) < k || diff*diff < worstSqDist(*cands) {
		t.search(far, query, k, cands)
	}
}

func insertCandidate(cands *[]neighbor, cand neighbor, k int) {
	if len(*cands) < k {
		*cands = append(*cands, cand)
		return
	}
	worstIdx, worstD := 0, (*cands)[0].sqDist
	for i, c := range *cands {
		if c.sqDist > worstD {
			worstIdx, worstD = i, c.sqDist
		}
	}
	if cand.sqDist < worstD {
		(*cands)[worstIdx] = cand
	}
}

func worstSqDist(cands []neighbor) float64 {
	worst := 0.0
	for _, c := range cands {
		if c.sqDist > worst {
			worst = c.sqDist
		}
	}
	return worst
}

// Nearest returns the single nearest neighbor's index and distance
// (not squared).
func (t *KDTree) Nearest(query facefit.Point3D) (idx int, dist float64) {
	idxs, sq := t.KNN(query, 1)
	if len(idxs) == 0 {
		return -1, 0
	}
	return idxs[0], math.Sqrt(sq[0])
}

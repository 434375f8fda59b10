package geometry

import (
	"container/heap"

	"github.com/facefit/facefit/pkg/facefit"
	"gonum.org/v1/gonum/mat"
)

// EstimateNormals computes a unit normal per point via local PCA over its
// neighborhood (the eigenvector of smallest eigenvalue of the local
// covariance), then propagates a globally-consistent sign across a
// minimum-spanning tree of the neighbor graph, matching the orientation
// convention open3d's estimate_normals-plus-MST approach produces for
// `backend/nonrigid_icp.py`'s rigid_align preprocessing step.
//
// The neighborhood itself mirrors `nonrigid_icp.py`'s
// KDTreeSearchParamHybrid(radius=0.02, max_nn=30): every point within
// radius meters of the query contributes to the local covariance, capped at
// maxNN points. radius <= 0 disables the radius cap and falls back to a
// plain maxNN-nearest-neighbor search, since points already culled to a
// sparse cloud (far fewer than maxNN within any reasonable radius) would
// otherwise starve the covariance estimate.
func EstimateNormals(pc facefit.PointCloud, tree *KDTree, radius float64, maxNN int) []facefit.Point3D {
	n := len(pc.Points)
	normals := make([]facefit.Point3D, n)
	if n == 0 {
		return normals
	}
	if maxNN < 3 {
		maxNN = 3
	}
	if maxNN > n {
		maxNN = n
	}

	neighborsOf := func(p facefit.Point3D) []int {
		if radius <= 0 {
			idxs, _ := tree.KNN(p, maxNN)
			return idxs
		}
		idxs, _ := tree.RadiusKNN(p, radius, maxNN)
		if len(idxs) < 3 {
			idxs, _ = tree.KNN(p, maxNN)
		}
		return idxs
	}

	for i, p := range pc.Points {
		normals[i] = localNormal(pc.Points, neighborsOf(p))
	}

	orientNormalsMST(pc.Points, normals, neighborsOf)
	return normals
}

func localNormal(points []facefit.Point3D, idxs []int) facefit.Point3D {
	var centroid facefit.Point3D
	for _, idx := range idxs {
		centroid = centroid.Add(points[idx])
	}
	centroid = centroid.Scale(1.0 / float64(len(idxs)))

	var cov mat.Dense
	cov.ReuseAs(3, 3)
	for _, idx := range idxs {
		d := points[idx].Sub(centroid)
		vals := [3]float64{d.X, d.Y, d.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				cov.Set(r, c, cov.At(r, c)+vals[r]*vals[c])
			}
		}
	}

	var eig mat.EigenSym
	ok := eig.Factorize(&cov, true)
	if !ok {
		return facefit.Point3D{Z: 1}
	}
	values := eig.Values(nil)
	minIdx := 0
	for i := 1; i < len(values); i++ {
		if values[i] < values[minIdx] {
			minIdx = i
		}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	nrm := facefit.Point3D{X: vecs.At(0, minIdx), Y: vecs.At(1, minIdx), Z: vecs.At(2, minIdx)}
	if l := nrm.Norm(); l > 1e-12 {
		nrm = nrm.Scale(1.0 / l)
	} else {
		nrm = facefit.Point3D{Z: 1}
	}
	return nrm
}

// mstEdge is one candidate edge in the neighbor graph used for sign
// propagation, ordered by 1 - |dot| (tightest-aligned pairs connect first).
type mstEdge struct {
	from, to int
	weight   float64
}

type edgeHeap []mstEdge

func (h edgeHeap) Len() int            { return len(h) }
func (h edgeHeap) Less(i, j int) bool  { return h[i].weight < h[j].weight }
func (h edgeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *edgeHeap) Push(x interface{}) { *h = append(*h, x.(mstEdge)) }
func (h *edgeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// orientNormalsMST flips normals in place so neighboring points agree in
// sign, using a Prim-style traversal over the k-NN graph: starting from the
// point with greatest Z (closest to camera for a front-facing scan, by
// convention), each newly visited point inherits its parent's sign if the
// dot product is negative.
func orientNormalsMST(points []facefit.Point3D, normals []facefit.Point3D, neighborsOf func(facefit.Point3D) []int) {
	n := len(points)
	if n == 0 {
		return
	}
	visited := make([]bool, n)

	start := 0
	for i := 1; i < n; i++ {
		if points[i].Z > points[start].Z {
			start = i
		}
	}

	h := &edgeHeap{}
	heap.Init(h)
	visited[start] = true
	pushNeighbors(points, normals, neighborsOf, start, visited, h)

	for h.Len() > 0 {
		e := heap.Pop(h).(mstEdge)
		if visited[e.to] {
			continue
		}
		// Finalize sign only now, against the parent that actually won this
		// node in the traversal, not every candidate parent that touched it.
		if normals[e.from].Dot(normals[e.to]) < 0 {
			normals[e.to] = normals[e.to].Scale(-1)
		}
		visited[e.to] = true
		pushNeighbors(points, normals, neighborsOf, e.to, visited, h)
	}
}

func pushNeighbors(points []facefit.Point3D, normals []facefit.Point3D, neighborsOf func(facefit.Point3D) []int, from int, visited []bool, h *edgeHeap) {
	idxs := neighborsOf(points[from])
	for _, to := range idxs {
		if to == from || visited[to] {
			continue
		}
		heap.Push(h, mstEdge{from: from, to: to, weight: 1 - absf(normals[from].Dot(normals[to]))})
	}
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

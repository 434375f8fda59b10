// Package landmark evaluates the fixed barycentric landmark embedding
// against a mesh's current vertex positions (§4.2, component B). The
// embedding itself never changes: it is bound once to the FLAME template
// topology and carried unmodified through every optimizer stage and the
// non-rigid deformer, since both preserve vertex count and face indexing.
package landmark

import "github.com/facefit/facefit/pkg/facefit"

// Evaluate maps each landmark embedding to a 3D position by barycentric
// interpolation over its bound triangle's current vertices: linear in the
// mesh vertex positions, so it differentiates trivially wherever the mesh
// vertices themselves are a differentiable function of the model
// parameters (§8: "landmark evaluation is linear in mesh vertices").
func Evaluate(vertices []facefit.Point3D, faces []facefit.Face, embeddings []facefit.LandmarkEmbedding) []facefit.Point3D {
	out := make([]facefit.Point3D, len(embeddings))
	for i, e := range embeddings {
		out[i] = evalOne(vertices, faces, e)
	}
	return out
}

func evalOne(vertices []facefit.Point3D, faces []facefit.Face, e facefit.LandmarkEmbedding) facefit.Point3D {
	f := faces[e.FaceIndex]
	v0, v1, v2 := vertices[f[0]], vertices[f[1]], vertices[f[2]]
	return v0.Scale(e.Weights[0]).
		Add(v1.Scale(e.Weights[1])).
		Add(v2.Scale(e.Weights[2]))
}

// EvaluateMesh is a convenience wrapper over a full Mesh.
func EvaluateMesh(m facefit.Mesh) []facefit.Point3D {
	return Evaluate(m.Vertices, m.Faces, m.Landmarks)
}

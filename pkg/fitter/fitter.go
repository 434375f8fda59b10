// Package fitter runs the staged Adam optimizer over FLAME model parameters
// (§4.5, component E). Grounded on gorgonia's training-loop shape in
// `other_examples/8d8bb9c1_invertedv-seafan__nn.go.go`: a fresh expression
// graph per optimization step, `G.Grad` over the trainable parameter nodes,
// a `G.TapeMachine` bound to their dual values, and `G.AdamSolver.Step`
// driving the update.
//
// Pose rotation is differentiated via an explicit Gauss-Newton
// linearization rather than taped trigonometric ops: at the start of each
// step the current rotation (computed once, numerically, by pkg/flame) is
// frozen as a constant, and a small per-step pose delta is the only
// rotation-related trainable quantity in that step's graph, contributing
// through a precomputed constant Jacobian matrix. This is the "pre-linearize
// pose via explicit Jacobians" strategy spec §9's Design Notes calls out as
// an accepted alternative to taping the full nonlinear evaluator, and it
// keeps trigonometric ops out of the graph: the graph is built from matmul,
// elementwise add/sub/Hadamard/abs/sqrt, reshape/slice, broadcasts and
// reductions.
package fitter

import (
	"fmt"
	"math"
	"time"

	"github.com/facefit/facefit/pkg/facefit"
	"github.com/facefit/facefit/pkg/flame"
	"github.com/facefit/facefit/pkg/geometry"
	"github.com/facefit/facefit/pkg/landmark"
	"github.com/facefit/facefit/pkg/lossfn"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// StageName identifies one of the three fitting stages (§4.5).
type StageName string

const (
	StageRigidPose StageName = "rigid"
	StageExpr      StageName = "expression"
	StageShape     StageName = "shape"
)

// Options bundles per-job controls threaded from config (§6).
type Options struct {
	ItersPose, ItersExpr, ItersShape int
	MaxIters                         int
	MaxSeconds                       float64
	Weights                         lossfn.Weights
	Region                          lossfn.RegionConfig
	Robust                          lossfn.RobustConfig
	JawMaxRad                       float64
	FreezeJaw, FreezeExpression     bool
	WarmStartShape                  []float64 // optional opaque shape prior, §4.5
}

// box constraint constants (§4.5).
const (
	boxShapeExpr = 4.0
	boxPoseHead  = 1.0
	boxScaleMin  = 0.5
	boxScaleMax  = 2.0
	earlyStopPatience = 12
	earlyStopMinDelta = 1e-4
)

// Fit runs the full S1/S2/S3 state machine against cloud (already cropped,
// unit-normalized, and with normals estimated) and the rigid prealignment
// already computed by the orchestrator (§4.5 "Rigid initialization
// precedes S1"). model is the loaded FLAME asset.
func Fit(model *flame.Model, embeddings []facefit.LandmarkEmbedding, cloud facefit.PointCloud, rigid facefit.RigidTransform, opts Options) (facefit.FitResult, error) {
	targetTree, err := geometry.Build(cloud.Points)
	if err != nil {
		return facefit.FitResult{}, err
	}

	params := facefit.ModelParams{
		Shape:      make([]float64, len(model.ShapeBasis)),
		Expression: make([]float64, len(model.ExprBasis)),
		Scale:      1.0,
	}
	if len(opts.WarmStartShape) > 0 {
		for i := 0; i < len(params.Shape) && i < len(opts.WarmStartShape); i++ {
			params.Shape[i] = clip(opts.WarmStartShape[i], -boxShapeExpr, boxShapeExpr)
		}
	}

	start := time.Now()
	deadline := start.Add(time.Duration(opts.MaxSeconds * float64(time.Second)))
	result := facefit.FitResult{Params: params}
	totalSteps := 0

	stages := []struct {
		name          StageName
		iters         int
		trainPose     bool
		trainExpr     bool
		trainShape    bool
	}{
		{StageRigidPose, opts.ItersPose, true, false, false},
		{StageExpr, opts.ItersExpr, true, !opts.FreezeExpression, false},
		{StageShape, opts.ItersShape, true, !opts.FreezeExpression, true},
	}

	for _, stage := range stages {
		if totalSteps >= opts.MaxIters || time.Now().After(deadline) {
			result.TimedOut = true
			break
		}
		rec, timedOut, err := runStage(model, embeddings, cloud, targetTree, rigid, &params, opts, stage.name, stage.iters, stage.trainPose, stage.trainExpr, stage.trainShape, deadline, &totalSteps)
		if err != nil {
			return facefit.FitResult{}, err
		}
		result.Stages = append(result.Stages, rec)
		if timedOut {
			result.TimedOut = true
			break
		}
	}

	result.Params = params
	verts := flame.NewEvaluation(model, params, rigid)
	result.Vertices = verts
	result.Landmarks = landmark.Evaluate(verts, model.Faces, embeddings)
	return result, nil
}

func runStage(model *flame.Model, embeddings []facefit.LandmarkEmbedding, cloud facefit.PointCloud, targetTree *geometry.KDTree, rigid facefit.RigidTransform, params *facefit.ModelParams, opts Options, name StageName, maxIters int, trainPose, trainExpr, trainShape bool, deadline time.Time, totalSteps *int) (facefit.StageRecord, bool, error) {
	stageStart := time.Now()
	bestLoss := math.Inf(1)
	noImprove := 0
	converged := false
	timedOut := false

	for step := 0; step < maxIters; step++ {
		if time.Now().After(deadline) || *totalSteps >= opts.MaxIters {
			timedOut = true
			break
		}
		*totalSteps++

		loss, err := gradientStep(model, embeddings, cloud, targetTree, rigid, params, opts, trainPose, trainExpr, trainShape)
		if err != nil {
			return facefit.StageRecord{}, timedOut, err
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return facefit.StageRecord{}, timedOut, facefit.ErrDivergedNonFinite
		}

		projectBoxConstraints(params, opts)
		if opts.FreezeJaw {
			params.Pose[3], params.Pose[4], params.Pose[5] = 0, 0, 0
		}

		if bestLoss-loss >= earlyStopMinDelta {
			bestLoss = loss
			noImprove = 0
		} else {
			noImprove++
			if loss < bestLoss {
				bestLoss = loss
			}
			if noImprove >= earlyStopPatience {
				converged = true
				break
			}
		}
	}

	return facefit.StageRecord{
		Name:       string(name),
		BestLoss:   bestLoss,
		DurationMS: float64(time.Since(stageStart).Microseconds()) / 1000.0,
		Converged:  converged,
	}, timedOut, nil
}

func projectBoxConstraints(p *facefit.ModelParams, opts Options) {
	for i := range p.Shape {
		p.Shape[i] = clip(p.Shape[i], -boxShapeExpr, boxShapeExpr)
	}
	for i := range p.Expression {
		p.Expression[i] = clip(p.Expression[i], -boxShapeExpr, boxShapeExpr)
	}
	for i := 0; i < 3; i++ {
		p.Pose[i] = clip(p.Pose[i], -boxPoseHead, boxPoseHead)
	}
	jawMax := opts.JawMaxRad
	if jawMax <= 0 {
		jawMax = 0.35
	}
	for i := 3; i < 6; i++ {
		p.Pose[i] = clip(p.Pose[i], -jawMax, jawMax)
	}
	p.Scale = clip(p.Scale, boxScaleMin, boxScaleMax)
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// gradientStep builds one step's expression graph, runs the forward and
// backward passes, steps Adam, and writes the updated values back into
// params. Correspondences are found fresh each step against the current
// vertex positions (stop-gradient: the nearest-neighbor index itself is
// never differentiated, only the resulting residual, matching §9's region-
// weight stop-gradient note applied symmetrically to correspondence
// selection).
//
// The composite loss (§4.4) is chamfer + point-to-plane + landmark + priors.
// gorgonia differentiates through graph ops, not through
// calls into pkg/lossfn's plain-float functions, so point-to-plane and
// landmark are rebuilt here as graph nodes using the same Huber-robust
// formula lossfn.PointToPlane and lossfn.Landmark evaluate: per-residual,
// whichever regime (quadratic inside the Huber knee, linear beyond it)
// lossfn.Huber currently selects is frozen as a constant weight for this
// step (the same stop-gradient treatment already applied to correspondence
// selection and trimming), and the graph then carries exactly that branch's
// closed form, so its gradient matches Huber's local slope. The value
// returned for early-stop/NaN checks takes point-to-plane, landmark and
// priors from lossfn.PointToPlane, lossfn.Landmark and lossfn.Priors
// against the pre-step vertices and combines them with lossfn.Composite.
// Its chamfer term is the graph's own chamferCost, not lossfn.Chamfer: the
// mean over all vertices of the region-weighted squared distance to the
// kept correspondence, mesh-to-cloud only, with no cloud-to-mesh term.
func gradientStep(model *flame.Model, embeddings []facefit.LandmarkEmbedding, cloud facefit.PointCloud, targetTree *geometry.KDTree, rigid facefit.RigidTransform, params *facefit.ModelParams, opts Options, trainPose, trainExpr, trainShape bool, ) (float64, error) {
	currentVerts := flame.NewEvaluation(model, *params, rigid)
	currentLandmarks := landmark.Evaluate(currentVerts, model.Faces, embeddings)

	g := G.NewGraph()
	nv := model.NumVertices()

	meanFlat := flattenOffsets(currentVerts) // current evaluation folded into the "mean" constant for this step's linearization
	shapeMat := constBasisMatrix(g, model.ShapeBasis, nv)
	exprMat := constBasisMatrix(g, model.ExprBasis, nv)

	shapeDelta := G.NewMatrix(g, tensor.Float64, G.WithName("shapeDelta"), G.WithShape(len(model.ShapeBasis), 1), G.WithInit(G.Zeroes()))
	exprDelta := G.NewMatrix(g, tensor.Float64, G.WithName("exprDelta"), G.WithShape(len(model.ExprBasis), 1), G.WithInit(G.Zeroes()))
	poseDelta := G.NewMatrix(g, tensor.Float64, G.WithName("poseDelta"), G.WithShape(6, 1), G.WithInit(G.Zeroes()))
	scaleDelta := G.NewScalar(g, tensor.Float64, G.WithName("scaleDelta"), G.WithInit(G.Zeroes()))
	transDelta := G.NewVector(g, tensor.Float64, G.WithName("transDelta"), G.WithShape(3), G.WithInit(G.Zeroes()))

	poseJacobian := poseJacobianMatrix(model, currentVerts, *params)
	poseJacMat := G.NewMatrix(g, tensor.Float64, G.WithName("poseJac"), G.WithShape(nv*3, 6), G.WithValue(tensor.New(tensor.WithShape(nv*3, 6), tensor.WithBacking(poseJacobian))))

	meanNode := G.NewMatrix(g, tensor.Float64, G.WithName("meanVerts"), G.WithShape(nv*3, 1), G.WithValue(tensor.New(tensor.WithShape(nv*3, 1), tensor.WithBacking(meanFlat))))

	shapeTerm := G.Must(G.Mul(shapeMat, shapeDelta))
	exprTerm := G.Must(G.Mul(exprMat, exprDelta))
	poseTerm := G.Must(G.Mul(poseJacMat, poseDelta))

	offsetFlat := G.Must(G.Add(meanNode, shapeTerm))
	offsetFlat = G.Must(G.Add(offsetFlat, exprTerm))
	offsetFlat = G.Must(G.Add(offsetFlat, poseTerm))

	vertsMat := G.Must(G.Reshape(offsetFlat, tensor.Shape{nv, 3}))

	scaleNode := G.NewScalar(g, tensor.Float64, G.WithName("scaleBase"), G.WithValue(params.Scale))
	effScale := G.Must(G.Add(scaleNode, scaleDelta))
	vertsScaled := G.Must(G.BroadcastHadamardProd(vertsMat, effScale, nil, nil))

	transBase := G.NewVector(g, tensor.Float64, G.WithName("transBase"), G.WithShape(3), G.WithValue(tensor.New(tensor.WithShape(3), tensor.WithBacking([]float64{params.Translation.X, params.Translation.Y, params.Translation.Z}))))
	effTrans := G.Must(G.Add(transBase, transDelta))
	vertsFinal := G.Must(G.BroadcastAdd(vertsScaled, effTrans, nil, []byte{0}))

	// Correspondences, region weights, and trimming are computed numerically
	// against the CURRENT vertex positions (stop-gradient), then folded into
	// constant target/weight tensors the graph regresses toward.
	corr := lossfn.FindCorrespondences(currentVerts, targetTree)
	noseTip := currentVerts[0]
	if facefit.NoseTipLandmarkIndex < len(currentLandmarks) {
		noseTip = currentLandmarks[facefit.NoseTipLandmarkIndex]
	}
	regionW := lossfn.RegionWeights(currentVerts, noseTip, opts.Region)
	keep := lossfn.TrimMask(corr.Dist, opts.Robust.TrimPercentile)

	huberDelta := opts.Robust.HuberDelta
	if huberDelta <= 0 {
		huberDelta = 1e-3
	}

	targetFlat := make([]float64, nv*3)
	weightFlat := make([]float64, nv)
	for k, i := range corr.SourceIdx {
		if !keep[k] {
			continue
		}
		j := corr.TargetIdx[k]
		t := cloud.Points[j]
		targetFlat[i*3+0], targetFlat[i*3+1], targetFlat[i*3+2] = t.X, t.Y, t.Z
		weightFlat[i] = regionW[i]
	}

	targetNode := G.NewMatrix(g, tensor.Float64, G.WithName("target"), G.WithShape(nv, 3), G.WithValue(tensor.New(tensor.WithShape(nv, 3), tensor.WithBacking(targetFlat))))
	weightNode := G.NewVector(g, tensor.Float64, G.WithName("weight"), G.WithShape(nv), G.WithValue(tensor.New(tensor.WithShape(nv), tensor.WithBacking(weightFlat))))

	residual := G.Must(G.Sub(vertsFinal, targetNode))
	sq := G.Must(G.HadamardProd(residual, residual))
	sqSum := G.Must(G.Sum(sq, 1)) // per-vertex squared distance, shape (nv,)
	weighted := G.Must(G.HadamardProd(sqSum, weightNode))
	chamferCost := G.Must(G.Mean(weighted))

	// Point-to-plane (§4.4 step 5): residual projected onto the target
	// normal at each kept correspondence, Huber-robust and nose-weighted.
	// The regime (quadratic vs linear side of the Huber knee) is decided
	// numerically against the current, pre-step residual and frozen as a
	// constant per-vertex weight/offset triple; the graph then carries that
	// regime's exact closed form, so the gradient matches Huber's slope.
	normalFlat := make([]float64, nv*3)
	p2pQuadW := make([]float64, nv)
	p2pLinW := make([]float64, nv)
	p2pOffset := make([]float64, nv)
	if cloud.HasNormals() {
		for k, i := range corr.SourceIdx {
			if !keep[k] {
				continue
			}
			j := corr.TargetIdx[k]
			if j >= len(cloud.Normals) {
				continue
			}
			n := cloud.Normals[j]
			normalFlat[i*3+0], normalFlat[i*3+1], normalFlat[i*3+2] = n.X, n.Y, n.Z
			rNumeric := currentVerts[i].Sub(cloud.Points[j]).Dot(n)
			p2pQuadW[i], p2pLinW[i], p2pOffset[i] = huberBranchWeights(rNumeric, huberDelta, regionW[i])
		}
	}
	normalNode := G.NewMatrix(g, tensor.Float64, G.WithName("targetNormal"), G.WithShape(nv, 3), G.WithValue(tensor.New(tensor.WithShape(nv, 3), tensor.WithBacking(normalFlat))))
	planeDot := G.Must(G.Sum(G.Must(G.HadamardProd(residual, normalNode)), 1)) // shape (nv,)
	planeSq := G.Must(G.HadamardProd(planeDot, planeDot))
	planeAbs := G.Must(G.Abs(planeDot))
	p2pQuadWNode := G.NewVector(g, tensor.Float64, G.WithName("p2pQuadW"), G.WithShape(nv), G.WithValue(tensor.New(tensor.WithShape(nv), tensor.WithBacking(p2pQuadW))))
	p2pLinWNode := G.NewVector(g, tensor.Float64, G.WithName("p2pLinW"), G.WithShape(nv), G.WithValue(tensor.New(tensor.WithShape(nv), tensor.WithBacking(p2pLinW))))
	p2pOffsetNode := G.NewVector(g, tensor.Float64, G.WithName("p2pOffset"), G.WithShape(nv), G.WithValue(tensor.New(tensor.WithShape(nv), tensor.WithBacking(p2pOffset))))
	p2pPerPoint := G.Must(G.Add(G.Must(G.Add(G.Must(G.HadamardProd(planeSq, p2pQuadWNode)), G.Must(G.HadamardProd(planeAbs, p2pLinWNode)))), p2pOffsetNode))
	p2pCost := G.Must(G.Mean(p2pPerPoint))

	// Landmark (§4.4 step 6): predicted landmark positions are a constant
	// barycentric selection matrix applied to the final vertex matrix
	// (landmark.Evaluate is linear in vertices, so this reproduces it
	// exactly), matched against their nearest target point and Huber-robust
	// with the mouth multiplier in place of the nose multiplier.
	nL := len(embeddings)
	selFlat := make([]float64, nL*nv)
	for li, e := range embeddings {
		f := model.Faces[e.FaceIndex]
		selFlat[li*nv+f[0]] += e.Weights[0]
		selFlat[li*nv+f[1]] += e.Weights[1]
		selFlat[li*nv+f[2]] += e.Weights[2]
	}
	selNode := G.NewMatrix(g, tensor.Float64, G.WithName("landmarkSel"), G.WithShape(nL, nv), G.WithValue(tensor.New(tensor.WithShape(nL, nv), tensor.WithBacking(selFlat))))
	landmarksMat := G.Must(G.Mul(selNode, vertsFinal))

	lmTargetFlat := make([]float64, nL*3)
	lmQuadW := make([]float64, nL)
	lmLinW := make([]float64, nL)
	lmOffset := make([]float64, nL)
	for li, p := range currentLandmarks {
		idx, dist := targetTree.Nearest(p)
		if idx < 0 {
			continue
		}
		t := cloud.Points[idx]
		lmTargetFlat[li*3+0], lmTargetFlat[li*3+1], lmTargetFlat[li*3+2] = t.X, t.Y, t.Z
		mouthW := 1.0
		if _, ok := facefit.MouthLandmarkIndices[li]; ok {
			mouthW = opts.Region.MouthMultiplier
		}
		lmQuadW[li], lmLinW[li], lmOffset[li] = huberBranchWeights(dist, huberDelta, mouthW)
	}
	lmTargetNode := G.NewMatrix(g, tensor.Float64, G.WithName("landmarkTarget"), G.WithShape(nL, 3), G.WithValue(tensor.New(tensor.WithShape(nL, 3), tensor.WithBacking(lmTargetFlat))))
	lmResidual := G.Must(G.Sub(landmarksMat, lmTargetNode))
	lmSqSum := G.Must(G.Sum(G.Must(G.HadamardProd(lmResidual, lmResidual)), 1)) // (nL,)
	lmDist := G.Must(G.Sqrt(lmSqSum))
	lmQuadWNode := G.NewVector(g, tensor.Float64, G.WithName("lmQuadW"), G.WithShape(nL), G.WithValue(tensor.New(tensor.WithShape(nL), tensor.WithBacking(lmQuadW))))
	lmLinWNode := G.NewVector(g, tensor.Float64, G.WithName("lmLinW"), G.WithShape(nL), G.WithValue(tensor.New(tensor.WithShape(nL), tensor.WithBacking(lmLinW))))
	lmOffsetNode := G.NewVector(g, tensor.Float64, G.WithName("lmOffset"), G.WithShape(nL), G.WithValue(tensor.New(tensor.WithShape(nL), tensor.WithBacking(lmOffset))))
	lmPerPoint := G.Must(G.Add(G.Must(G.Add(G.Must(G.HadamardProd(lmSqSum, lmQuadWNode)), G.Must(G.HadamardProd(lmDist, lmLinWNode)))), lmOffsetNode))
	landmarkCost := G.Must(G.Mean(lmPerPoint))

	shapeBase := G.NewMatrix(g, tensor.Float64, G.WithName("shapeBase"), G.WithShape(len(model.ShapeBasis), 1), G.WithValue(tensor.New(tensor.WithShape(len(model.ShapeBasis), 1), tensor.WithBacking(append([]float64(nil), params.Shape...)))))
	exprBase := G.NewMatrix(g, tensor.Float64, G.WithName("exprBase"), G.WithShape(len(model.ExprBasis), 1), G.WithValue(tensor.New(tensor.WithShape(len(model.ExprBasis), 1), tensor.WithBacking(append([]float64(nil), params.Expression...)))))
	poseBase := G.NewMatrix(g, tensor.Float64, G.WithName("poseBase"), G.WithShape(6, 1), G.WithValue(tensor.New(tensor.WithShape(6, 1), tensor.WithBacking(append([]float64(nil), params.Pose[:]...)))))
	shapeFull := G.Must(G.Add(shapeBase, shapeDelta))
	exprFull := G.Must(G.Add(exprBase, exprDelta))
	priorShape := G.Must(G.Mean(G.Must(G.HadamardProd(shapeFull, shapeFull))))
	priorExpr := G.Must(G.Mean(G.Must(G.HadamardProd(exprFull, exprFull))))
	poseJawNode := G.Must(G.Slice(G.Must(G.Add(poseBase, poseDelta)), G.S(3, 6)))
	priorJaw := G.Must(G.Mean(G.Must(G.HadamardProd(poseJawNode, poseJawNode))))

	wShape := G.NewConstant(opts.Weights.PriorShape)
	wExpr := G.NewConstant(opts.Weights.PriorExpr)
	wJaw := G.NewConstant(opts.Weights.PriorJaw)
	wChamfer := G.NewConstant(opts.Weights.Chamfer)
	wP2P := G.NewConstant(opts.Weights.Point2Plane)
	wLandmark := G.NewConstant(opts.Weights.Landmark)

	cost := G.Must(G.Mul(wChamfer, chamferCost))
	cost = G.Must(G.Add(cost, G.Must(G.Mul(wShape, priorShape))))
	cost = G.Must(G.Add(cost, G.Must(G.Mul(wExpr, priorExpr))))
	cost = G.Must(G.Add(cost, G.Must(G.Mul(wJaw, priorJaw))))
	cost = G.Must(G.Add(cost, G.Must(G.Mul(wP2P, p2pCost))))
	cost = G.Must(G.Add(cost, G.Must(G.Mul(wLandmark, landmarkCost))))

	// The reported loss takes point-to-plane, landmark and priors from
	// pkg/lossfn against the pre-step vertices and parameters, and the
	// chamfer term from the graph's chamferCost (one-sided, squared
	// distances), read while every delta node is still zero-initialized.
	reportedLoss := func() float64 {
		p2pScalar := lossfn.PointToPlane(currentVerts, corr, cloud.Points, cloud.Normals, regionW, keep, huberDelta)
		landmarkScalar := lossfn.Landmark(currentLandmarks, targetTree, opts.Region, huberDelta)
		priorsScalar := lossfn.Priors(*params, opts.Weights)
		return lossfn.Composite(valueOf(chamferCost), p2pScalar, landmarkScalar, priorsScalar, opts.Weights)
	}

	trainable := G.Nodes{}
	if trainPose {
		trainable = append(trainable, poseDelta, transDelta, scaleDelta)
	}
	if trainExpr {
		trainable = append(trainable, exprDelta)
	}
	if trainShape {
		trainable = append(trainable, shapeDelta)
	}
	if len(trainable) == 0 {
		return reportedLoss(), nil
	}

	if _, err := G.Grad(cost, trainable...); err != nil {
		return 0, fmt.Errorf("facefit: computing gradient: %w", err)
	}

	vm := G.NewTapeMachine(g, G.BindDualValues(trainable...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return 0, fmt.Errorf("facefit: running optimizer step: %w", err)
	}

	loss := reportedLoss()

	solv := G.NewAdamSolver(G.WithLearnRate(0.01), G.WithBeta1(0.9), G.WithBeta2(0.999))
	if err := solv.Step(G.NodesToValueGrads(trainable)); err != nil {
		return 0, fmt.Errorf("facefit: adam step: %w", err)
	}
	vm.Reset()

	applyDeltas(params, shapeDelta, exprDelta, poseDelta, scaleDelta, transDelta, trainShape, trainExpr, trainPose)

	return loss, nil
}

// huberBranchWeights decides, from the current (pre-step) residual r, which
// branch of lossfn.Huber applies and returns the constant quadratic weight,
// linear weight, and additive offset that reproduce that branch exactly:
// quadW*r^2 + linW*|r| + offset == outerWeight*lossfn.Huber(r, delta).
func huberBranchWeights(r, delta, outerWeight float64) (quadW, linW, offset float64) {
	ar := r
	if ar < 0 {
		ar = -ar
	}
	if ar <= delta {
		return outerWeight * 0.5, 0, 0
	}
	return 0, outerWeight * delta, -0.5 * delta * delta * outerWeight
}

func valueOf(n *G.Node) float64 {
	v := n.Value()
	if v == nil {
		return math.NaN()
	}
	switch d := v.Data().(type) {
	case float64:
		return d
	case []float64:
		if len(d) > 0 {
			return d[0]
		}
	}
	return math.NaN()
}

func applyDeltas(params *facefit.ModelParams, shapeDelta, exprDelta, poseDelta, scaleDelta, transDelta *G.Node, trainShape, trainExpr, trainPose bool) {
	if trainShape {
		data := shapeDelta.Value().Data().([]float64)
		for i := range params.Shape {
			params.Shape[i] += data[i]
		}
	}
	if trainExpr {
		data := exprDelta.Value().Data().([]float64)
		for i := range params.Expression {
			params.Expression[i] += data[i]
		}
	}
	if trainPose {
		poseData := poseDelta.Value().Data().([]float64)
		for i := 0; i < 6; i++ {
			params.Pose[i] += poseData[i]
		}
		params.Scale += scaleDelta.Value().Data().(float64)
		transData := transDelta.Value().Data().([]float64)
		params.Translation.X += transData[0]
		params.Translation.Y += transData[1]
		params.Translation.Z += transData[2]
	}
}

func flattenOffsets(verts []facefit.Point3D) []float64 {
	out := make([]float64, len(verts)*3)
	for i, v := range verts {
		out[i*3+0], out[i*3+1], out[i*3+2] = v.X, v.Y, v.Z
	}
	return out
}

func constBasisMatrix(g *G.ExprGraph, basis [][]facefit.Point3D, nv int) *G.Node {
	flat := make([]float64, nv*3*len(basis))
	for col, b := range basis {
		for row := 0; row < nv; row++ {
			flat[(row*3+0)*len(basis)+col] = b[row].X
			flat[(row*3+1)*len(basis)+col] = b[row].Y
			flat[(row*3+2)*len(basis)+col] = b[row].Z
		}
	}
	return G.NewMatrix(g, tensor.Float64, G.WithName("basis"), G.WithShape(nv*3, len(basis)), G.WithValue(tensor.New(tensor.WithShape(nv*3, len(basis)), tensor.WithBacking(flat))))
}

// poseJacobianMatrix computes d(vertex_flat)/d(pose) numerically via central
// differences around the current pose, evaluated through the exact
// (nonlinear) flame.Model.Evaluate. This is the explicit-Jacobian
// linearization §9 sanctions: differentiate the real evaluator once per
// step in plain Go, then let the graph regress the small pose_delta
// correction linearly against that frozen Jacobian.
func poseJacobianMatrix(model *flame.Model, baseVerts []facefit.Point3D, params facefit.ModelParams) []float64 {
	const eps = 1e-4
	nv := len(baseVerts)
	jac := make([]float64, nv*3*6)
	for col := 0; col < 6; col++ {
		plus := params.Clone()
		plus.Pose[col] += eps
		minus := params.Clone()
		minus.Pose[col] -= eps
		vPlus := model.Evaluate(plus)
		vMinus := model.Evaluate(minus)
		for row := 0; row < nv; row++ {
			dx := (vPlus[row].X - vMinus[row].X) / (2 * eps)
			dy := (vPlus[row].Y - vMinus[row].Y) / (2 * eps)
			dz := (vPlus[row].Z - vMinus[row].Z) / (2 * eps)
			jac[(row*3+0)*6+col] = dx
			jac[(row*3+1)*6+col] = dy
			jac[(row*3+2)*6+col] = dz
		}
	}
	return jac
}

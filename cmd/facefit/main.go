// Package main provides the CLI wrapper for facefit.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facefit/facefit/internal/config"
	"github.com/facefit/facefit/pkg/deform"
	"github.com/facefit/facefit/pkg/facefit"
	"github.com/facefit/facefit/pkg/flame"
	"github.com/facefit/facefit/pkg/geometry"
	"github.com/facefit/facefit/pkg/glbio"
	"github.com/facefit/facefit/pkg/lossfn"
	"github.com/facefit/facefit/pkg/fitter"
	"github.com/facefit/facefit/pkg/plyio"
	"github.com/facefit/facefit/pkg/units"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	inputPath := flag.String("input", "", "Path to input point cloud (PLY)")
	outputDir := flag.String("output", ".", "Directory to write fit outputs into")
	modelPath := flag.String("model", "", "Path to FLAME model asset")
	landmarksPath := flag.String("landmarks", "", "Path to landmark embedding file")
	overrideScale := flag.Float64("scale", 0, "Override unit scale applied to the input cloud (0 = infer)")
	overrideUnits := flag.String("units", "", "Override inferred units: meters|millimeters")
	overlay := flag.Bool("overlay", false, "Write the binary overlay pack alongside the mesh")
	repeatabilityRuns := flag.Int("repeatability-runs", 0, "Re-run the fit this many times and report nose-tip position std (0 disables)")
	verbose := flag.Bool("verbose", false, "Enable verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "facefit - FLAME parametric face fitting\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -input scan.ply -model flame.bin -landmarks embedding.bin\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config fit.toml -input scan.ply -model flame.bin -landmarks embedding.bin -output out/\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("facefit version %s\n", version)
		os.Exit(0)
	}

	if *inputPath == "" || *modelPath == "" || *landmarksPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *verbose {
		log.Printf("Configuration:")
		log.Printf("  Stages: pose=%d expr=%d shape=%d max_iters=%d max_seconds=%.1f",
			cfg.Stages.ItersPose, cfg.Stages.ItersExpr, cfg.Stages.ItersShape, cfg.Stages.MaxIters, cfg.Stages.MaxSeconds)
		log.Printf("  QC: max_landmark_mm=%.1f max_surface_p95_mm=%.1f max_nose_p95_mm=%.1f",
			cfg.QC.MaxLandmarkMM, cfg.QC.MaxSurfaceMMP95, cfg.QC.MaxNoseMMP95)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("Received signal %v, aborting run...", sig)
			os.Exit(1)
		case <-done:
		}
	}()
	defer close(done)

	started := time.Now()

	model, err := flame.Load(*modelPath)
	if err != nil {
		log.Fatalf("Failed to load FLAME model: %v", err)
	}
	embeddings, err := flame.LoadLandmarkEmbedding(*landmarksPath)
	if err != nil {
		log.Fatalf("Failed to load landmark embedding: %v", err)
	}

	log.Printf("Reading point cloud: %s", *inputPath)
	rawCloud, err := plyio.ReadFile(*inputPath)
	if err != nil {
		log.Fatalf("Failed to read input cloud: %v", err)
	}
	log.Printf("Loaded %d points", rawCloud.Len())

	unitResult := units.Normalize(rawCloud, *overrideScale, *overrideUnits)
	if *verbose {
		log.Printf("Units: inferred=%s scale_applied=%g warnings=%v",
			unitResult.UnitsInferred, unitResult.UnitScaleApplied, unitResult.Warnings)
	}

	opts := facefit.DefaultPipelineOptions()
	opts.OverrideScale = *overrideScale
	opts.OverrideUnits = *overrideUnits
	opts.QC = facefit.QCThresholds{
		MaxLandmarkMM:   cfg.QC.MaxLandmarkMM,
		MaxSurfaceMMP95: cfg.QC.MaxSurfaceMMP95,
		MaxNoseMMP95:    cfg.QC.MaxNoseMMP95,
	}

	cropped := facefit.CropToFaceRegion(unitResult.Cloud)
	log.Printf("Cropped to %d points", cropped.Len())

	sparse, err := facefit.ClassifySparsity(cropped, opts)
	if err != nil {
		log.Fatalf("Point cloud rejected: %v", err)
	}
	if sparse {
		log.Printf("Sparse mode: expression and jaw frozen, non-rigid refinement disabled")
	}

	downsampled := geometry.VoxelDownsample(cropped, opts.VoxelSize)
	tree, err := geometry.Build(downsampled.Points)
	if err != nil {
		log.Fatalf("Failed to build geometry index: %v", err)
	}
	downsampled.Normals = geometry.EstimateNormals(downsampled, tree, cfg.Normals.RadiusM, cfg.Normals.MaxNN)

	icpResult, err := geometry.RigidICP(model.MeanVertices, tree, downsampled.Points, geometry.DefaultICPConfig())
	if err != nil {
		log.Fatalf("Rigid pre-alignment failed: %v", err)
	}
	if *verbose {
		log.Printf("Rigid ICP: iterations=%d mean_error=%g converged=%v",
			icpResult.Iterations, icpResult.MeanError, icpResult.Converged)
	}

	fitOpts := fitter.Options{
		ItersPose:  cfg.Stages.ItersPose,
		ItersExpr:  cfg.Stages.ItersExpr,
		ItersShape: cfg.Stages.ItersShape,
		MaxIters:   cfg.Stages.MaxIters,
		MaxSeconds: cfg.Stages.MaxSeconds,
		Weights: lossfn.Weights{
			Landmark:    cfg.Weights.Landmark,
			Chamfer:     cfg.Weights.Chamfer,
			Point2Plane: cfg.Weights.Point2Plane,
			PriorShape:  cfg.Weights.PriorShape,
			PriorExpr:   cfg.Weights.PriorExpr,
			PriorJaw:    cfg.Weights.PriorJaw,
		},
		Region: lossfn.RegionConfig{
			NoseMultiplier:  cfg.Region.NoseMultiplier,
			NoseRadiusM:     cfg.Region.NoseRadiusMM / 1000,
			MouthMultiplier: cfg.Region.MouthMultiplier,
		},
		Robust: lossfn.RobustConfig{
			HuberDelta:     cfg.Robust.HuberDelta,
			TrimPercentile: cfg.Robust.TrimPercentile,
		},
		JawMaxRad: cfg.Region.JawMaxRad,
	}
	if sparse {
		fitOpts.FreezeJaw = true
		fitOpts.FreezeExpression = true
	}

	fit, err := fitter.Fit(model, embeddings, downsampled, icpResult.Transform, fitOpts)
	if err != nil {
		log.Fatalf("Fit failed: %v", err)
	}
	log.Printf("Fit complete: stages=%d sparse_mode=%v timed_out=%v", len(fit.Stages), sparse, fit.TimedOut)

	nearestFit := nearestFunc(fit.Vertices)
	metrics := facefit.FitMetrics{
		UnitsInferred:    string(unitResult.UnitsInferred),
		UnitScaleApplied: unitResult.UnitScaleApplied,
	}
	metrics.MeanMM, metrics.MedianMM, metrics.P95MM, metrics.OutlierRatio = facefit.SurfaceErrorMetrics(downsampled.Points, nearestFit)
	nearestTarget := nearestFunc(downsampled.Points)
	metrics.LandmarkRMSMM = facefit.LandmarkRMSMM(fit.Landmarks, nearestTarget)
	metrics.NoseP95MM = facefit.NoseP95MM(fit.Landmarks, nearestTarget)

	if facefit.ShouldRefit(metrics) && !sparse {
		log.Printf("Triggering automatic refit (outlier_ratio=%.2f landmark_rms=%.1fmm p95=%.1fmm)",
			metrics.OutlierRatio, metrics.LandmarkRMSMM, metrics.P95MM)
		refitOpts := fitOpts
		refitOpts.FreezeJaw = true
		refitOpts.FreezeExpression = true
		refit, err := fitter.Fit(model, embeddings, downsampled, icpResult.Transform, refitOpts)
		if err == nil {
			nearestRefit := nearestFunc(refit.Vertices)
			var refitMetrics facefit.FitMetrics
			refitMetrics.MeanMM, refitMetrics.MedianMM, refitMetrics.P95MM, refitMetrics.OutlierRatio =
				facefit.SurfaceErrorMetrics(downsampled.Points, nearestRefit)
			if facefit.AdoptRefit(metrics, refitMetrics) {
				log.Printf("Adopting refit result: p95 %.1fmm -> %.1fmm", metrics.P95MM, refitMetrics.P95MM)
				fit = refit
				metrics.MeanMM, metrics.MedianMM, metrics.P95MM, metrics.OutlierRatio =
					refitMetrics.MeanMM, refitMetrics.MedianMM, refitMetrics.P95MM, refitMetrics.OutlierRatio
			}
		}
	}

	var nonRigid *facefit.NonRigidResult
	if !facefit.SkipNonRigid(sparse, metrics.P95MM) {
		log.Printf("Running non-rigid refinement")
		deformCfg := deform.Config{
			MaxIterations:        cfg.NonRigid.MaxIterations,
			Stiffness:            cfg.NonRigid.Stiffness,
			LandmarkWeight:       cfg.NonRigid.LandmarkWeight,
			ConvergenceThreshold: cfg.NonRigid.ConvergenceThreshold,
			MaxCorrespondDist:    cfg.NonRigid.MaxCorrespondenceDistance,
		}
		result, err := deform.Deform(fit.Vertices, model.Faces, downsampled, nil, deformCfg)
		if err != nil {
			log.Printf("Non-rigid deformation failed: %v", err)
		} else if facefit.AcceptNonRigid(result) {
			nonRigid = &result
			log.Printf("Non-rigid accepted: mean_error=%.1fmm p95=%.1fmm converged=%v",
				result.MeanErrorM*1000, result.P95ErrorM*1000, result.Converged)
		} else {
			log.Printf("Non-rigid result rejected (mean_error=%.1fmm, not converged)", result.MeanErrorM*1000)
		}
	} else {
		log.Printf("Skipping non-rigid refinement (sparse=%v, p95=%.1fmm)", sparse, metrics.P95MM)
	}

	if *repeatabilityRuns > 0 {
		log.Printf("Running repeatability check (%d runs)", *repeatabilityRuns)
		std, err := facefit.RepeatabilityCheck(*repeatabilityRuns, func() ([]facefit.Point3D, error) {
			run, err := fitter.Fit(model, embeddings, downsampled, icpResult.Transform, fitOpts)
			if err != nil {
				return nil, err
			}
			return run.Landmarks, nil
		})
		if err != nil {
			log.Printf("Repeatability check failed: %v", err)
		} else {
			metrics.RepeatabilityStdMM = std
			log.Printf("Repeatability: nose_tip_std_mm=%.3f", std["nose_tip_std_mm"])
		}
	}

	qc := facefit.BuildQC(metrics, opts.QC, sparse, fit.TimedOut)
	log.Printf("QC verdict: pass_fit=%v confidence=%.2f warnings=%v", qc.PassFit, qc.Confidence, qc.Warnings)

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	finalVertices := fit.Vertices
	if nonRigid != nil {
		finalVertices = nonRigid.DeformedVertices
	}

	meshPath := *outputDir + "/mesh.glb"
	meshFile, err := os.Create(meshPath)
	if err != nil {
		log.Fatalf("Failed to create mesh output: %v", err)
	}
	if err := glbio.WriteMesh(meshFile, facefit.Mesh{Vertices: finalVertices, Faces: model.Faces}); err != nil {
		meshFile.Close()
		log.Fatalf("Failed to write mesh: %v", err)
	}
	meshFile.Close()
	log.Printf("Wrote mesh: %s", meshPath)

	landmarksOutPath := *outputDir + "/landmarks.json"
	landmarksFile, err := os.Create(landmarksOutPath)
	if err != nil {
		log.Fatalf("Failed to create landmarks output: %v", err)
	}
	if err := glbio.WriteLandmarks(landmarksFile, fit.Landmarks); err != nil {
		landmarksFile.Close()
		log.Fatalf("Failed to write landmarks: %v", err)
	}
	landmarksFile.Close()

	diagPath := *outputDir + "/diagnostics.json"
	diagFile, err := os.Create(diagPath)
	if err != nil {
		log.Fatalf("Failed to create diagnostics output: %v", err)
	}
	diag := glbio.Diagnostics{Params: fit.Params, Stages: fit.Stages, Metrics: metrics, QC: qc}
	if err := glbio.WriteDiagnostics(diagFile, diag); err != nil {
		diagFile.Close()
		log.Fatalf("Failed to write diagnostics: %v", err)
	}
	diagFile.Close()
	log.Printf("Wrote diagnostics: %s", diagPath)

	if *overlay {
		overlayCfg := glbio.DefaultOverlayConfig()
		pack, err := glbio.BuildOverlayPack(downsampled, finalVertices, overlayCfg)
		if err != nil {
			log.Printf("Failed to build overlay pack: %v", err)
		} else {
			binFile, err1 := os.Create(*outputDir + "/overlay.bin")
			manifestFile, err2 := os.Create(*outputDir + "/overlay.json")
			if err1 != nil || err2 != nil {
				log.Printf("Failed to create overlay outputs: %v %v", err1, err2)
			} else {
				if err := glbio.WriteOverlayPack(binFile, manifestFile, pack, overlayCfg.KNNK); err != nil {
					log.Printf("Failed to write overlay pack: %v", err)
				} else {
					log.Printf("Wrote overlay pack: %s/overlay.{bin,json}", *outputDir)
				}
				binFile.Close()
				manifestFile.Close()
			}
		}
	}

	log.Printf("Done in %s", time.Since(started).Round(time.Millisecond))
}

func nearestFunc(meshVertices []facefit.Point3D) func(facefit.Point3D) float64 {
	tree, err := geometry.Build(meshVertices)
	if err != nil {
		return func(facefit.Point3D) float64 { return 0 }
	}
	return func(p facefit.Point3D) float64 {
		_, dist := tree.Nearest(p)
		return dist
	}
}


// Package config provides TOML configuration loading for facefit.
//
// The configuration file supports the following structure:
//
//	[stages]
//	iters_pose = 80
//	iters_expr = 120
//	iters_shape = 160
//	max_iters = 400
//	max_seconds = 30.0
//
//	[weights]
//	landmark = 2.0
//	chamfer = 1.0
//	point2plane = 0.5
//	prior_shape = 0.005
//	prior_expr = 0.005
//	prior_jaw = 0.02
//
//	[robust]
//	huber_delta = 0.01
//	trim_percentile = 0.98
//
//	[region]
//	nose_multiplier = 3.0
//	nose_radius_mm = 30.0
//	mouth_multiplier = 2.5
//	jaw_max_rad = 0.35
//
//	[normals]
//	radius_m = 0.02
//	max_nn = 30
//
//	[qc]
//	max_landmark_mm = 4.0
//	max_surface_mm_p95 = 6.0
//	max_nose_mm_p95 = 4.0
//
//	[nonrigid]
//	max_iterations = 80
//	stiffness = 5.0
//	landmark_weight = 50.0
//	convergence_threshold = 1e-5
//	max_correspondence_distance = 0.03
//
// Example usage:
//
//	cfg, err := config.Load("config.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Landmark weight: %f\n", cfg.Weights.Landmark)
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the complete configuration bundle for a facefit job (§6).
type Config struct {
	Stages   StagesConfig   `toml:"stages"`
	Weights  WeightsConfig  `toml:"weights"`
	Robust   RobustConfig   `toml:"robust"`
	Region   RegionConfig   `toml:"region"`
	Normals  NormalsConfig  `toml:"normals"`
	QC       QCConfig       `toml:"qc"`
	NonRigid NonRigidConfig `toml:"nonrigid"`
}

// StagesConfig holds per-stage iteration caps and the global time budget.
type StagesConfig struct {
	// ItersPose caps Adam steps in stage S1 (default: 80).
	ItersPose int `toml:"iters_pose"`
	// ItersExpr caps Adam steps in stage S2 (default: 120).
	ItersExpr int `toml:"iters_expr"`
	// ItersShape caps Adam steps in stage S3 (default: 160).
	ItersShape int `toml:"iters_shape"`
	// MaxIters is the global step cap across all stages (default: 400).
	MaxIters int `toml:"max_iters"`
	// MaxSeconds is the wall-clock budget for the whole fit (default: 30).
	MaxSeconds float64 `toml:"max_seconds"`
}

// WeightsConfig holds composite loss weights (§4.4).
type WeightsConfig struct {
	// Landmark is the landmark term weight (default: 2.0).
	Landmark float64 `toml:"landmark"`
	// Chamfer is the chamfer term weight (default: 1.0).
	Chamfer float64 `toml:"chamfer"`
	// Point2Plane is the point-to-plane term weight (default: 0.5).
	Point2Plane float64 `toml:"point2plane"`
	// PriorShape regularizes the shape coefficients (default: 0.005).
	PriorShape float64 `toml:"prior_shape"`
	// PriorExpr regularizes the expression coefficients (default: 0.005).
	PriorExpr float64 `toml:"prior_expr"`
	// PriorJaw regularizes the jaw pose coefficients (default: 0.02).
	PriorJaw float64 `toml:"prior_jaw"`
}

// RobustConfig holds robust-loss and trimming parameters.
type RobustConfig struct {
	// HuberDelta is the Huber loss knee in meters (default: 0.01).
	HuberDelta float64 `toml:"huber_delta"`
	// TrimPercentile drops the farthest 1-q fraction of correspondences
	// (default: 0.98). A value of 1.0 disables trimming.
	TrimPercentile float64 `toml:"trim_percentile"`
}

// RegionConfig holds region up-weighting parameters (§4.4).
type RegionConfig struct {
	// NoseMultiplier up-weights points near the nose tip (default: 3.0).
	NoseMultiplier float64 `toml:"nose_multiplier"`
	// NoseRadiusMM is the nose-region sphere radius in millimeters
	// (default: 30.0).
	NoseRadiusMM float64 `toml:"nose_radius_mm"`
	// MouthMultiplier up-weights the mouth landmark set (default: 2.5).
	MouthMultiplier float64 `toml:"mouth_multiplier"`
	// JawMaxRad bounds the jaw rotation box projection, radians
	// (default: 0.35).
	JawMaxRad float64 `toml:"jaw_max_rad"`
}

// NormalsConfig holds the neighborhood search parameters for normal
// estimation, mirroring open3d's KDTreeSearchParamHybrid(radius, max_nn).
type NormalsConfig struct {
	// RadiusM bounds the neighborhood in meters (default: 0.02).
	RadiusM float64 `toml:"radius_m"`
	// MaxNN caps the neighborhood size within RadiusM (default: 30).
	MaxNN int `toml:"max_nn"`
}

// QCConfig holds quality-control thresholds (§4.7).
type QCConfig struct {
	// MaxLandmarkMM is the landmark RMS ceiling in millimeters
	// (default: 4.0).
	MaxLandmarkMM float64 `toml:"max_landmark_mm"`
	// MaxSurfaceMMP95 is the surface p95 ceiling in millimeters
	// (default: 6.0).
	MaxSurfaceMMP95 float64 `toml:"max_surface_mm_p95"`
	// MaxNoseMMP95 is the nose p95 ceiling in millimeters (default: 4.0).
	MaxNoseMMP95 float64 `toml:"max_nose_mm_p95"`
}

// NonRigidConfig holds non-rigid deformer controls (§4.6).
type NonRigidConfig struct {
	// MaxIterations caps non-rigid ICP iterations (default: 80).
	MaxIterations int `toml:"max_iterations"`
	// Stiffness is the Laplacian regularization weight alpha
	// (default: 5.0).
	Stiffness float64 `toml:"stiffness"`
	// LandmarkWeight is the landmark-pin diagonal weight (default: 50.0).
	LandmarkWeight float64 `toml:"landmark_weight"`
	// ConvergenceThreshold is the RMS vertex-change stop criterion
	// (default: 1e-5).
	ConvergenceThreshold float64 `toml:"convergence_threshold"`
	// MaxCorrespondenceDistance bounds valid correspondences, meters
	// (default: 0.03).
	MaxCorrespondenceDistance float64 `toml:"max_correspondence_distance"`
}

// Default returns the default configuration (§6's table).
func Default() *Config {
	return &Config{
		Stages: StagesConfig{
			ItersPose:  80,
			ItersExpr:  120,
			ItersShape: 160,
			MaxIters:   400,
			MaxSeconds: 30.0,
		},
		Weights: WeightsConfig{
			Landmark:    2.0,
			Chamfer:     1.0,
			Point2Plane: 0.5,
			PriorShape:  0.005,
			PriorExpr:   0.005,
			PriorJaw:    0.02,
		},
		Robust: RobustConfig{
			HuberDelta:     0.01,
			TrimPercentile: 0.98,
		},
		Region: RegionConfig{
			NoseMultiplier:  3.0,
			NoseRadiusMM:    30.0,
			MouthMultiplier: 2.5,
			JawMaxRad:       0.35,
		},
		Normals: NormalsConfig{
			RadiusM: 0.02,
			MaxNN:   30,
		},
		QC: QCConfig{
			MaxLandmarkMM:   4.0,
			MaxSurfaceMMP95: 6.0,
			MaxNoseMMP95:    4.0,
		},
		NonRigid: NonRigidConfig{
			MaxIterations:             80,
			Stiffness:                 5.0,
			LandmarkWeight:            50.0,
			ConvergenceThreshold:      1e-5,
			MaxCorrespondenceDistance: 0.03,
		},
	}
}

// Load reads and parses a TOML configuration file.
// If the file does not exist, it returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Stages.ItersPose <= 0 || c.Stages.ItersExpr <= 0 || c.Stages.ItersShape <= 0 {
		return fmt.Errorf("stage iteration caps must be positive")
	}
	if c.Stages.MaxIters <= 0 {
		return fmt.Errorf("max_iters must be positive, got %d", c.Stages.MaxIters)
	}
	if c.Stages.MaxSeconds <= 0 {
		return fmt.Errorf("max_seconds must be positive, got %f", c.Stages.MaxSeconds)
	}
	if c.Robust.TrimPercentile <= 0 || c.Robust.TrimPercentile > 1 {
		return fmt.Errorf("trim_percentile must be in (0,1], got %f", c.Robust.TrimPercentile)
	}
	if c.Robust.HuberDelta <= 0 {
		return fmt.Errorf("huber_delta must be positive, got %f", c.Robust.HuberDelta)
	}
	if c.Region.JawMaxRad <= 0 {
		return fmt.Errorf("jaw_max_rad must be positive, got %f", c.Region.JawMaxRad)
	}
	if c.Normals.MaxNN <= 0 {
		return fmt.Errorf("normals max_nn must be positive, got %d", c.Normals.MaxNN)
	}
	if c.NonRigid.MaxIterations <= 0 {
		return fmt.Errorf("nonrigid max_iterations must be positive, got %d", c.NonRigid.MaxIterations)
	}
	if c.NonRigid.MaxCorrespondenceDistance <= 0 {
		return fmt.Errorf("nonrigid max_correspondence_distance must be positive, got %f", c.NonRigid.MaxCorrespondenceDistance)
	}
	return nil
}

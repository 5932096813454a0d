// Package config holds the immutable session configuration: board geometry,
// image size, guidance thresholds and solver termination criteria.
package config

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
)

const maxFileSize = 1 << 20

// SolverConfig holds the termination criteria passed to the calibration primitive.
type SolverConfig struct {
	MaxIterations int     `json:"max_iterations"`
	Epsilon       float64 `json:"epsilon"`
}

// Config is passed by value to every component constructor. Nothing in the
// engine mutates it after construction.
type Config struct {
	ImageWidth  int     `json:"image_width"`
	ImageHeight int     `json:"image_height"`
	BoardWidth  int     `json:"board_width"`  // squares
	BoardHeight int     `json:"board_height"` // squares
	SquareLen   float64 `json:"square_len"`
	MarkerLen   float64 `json:"marker_len"`

	VarTerminate         float64 `json:"var_terminate"`
	MinCorners           int     `json:"min_corners"`
	MeanFlowMax          float64 `json:"mean_flow_max"`
	PoseCloseToTargetMin float64 `json:"pose_close_to_tgt_min"`
	StillIDMatchMin      float64 `json:"still_id_match_min"`

	MaxOverlap          float64 `json:"max_overlap"`
	Subsample           int     `json:"subsample"`
	RegionThresholdStep float64 `json:"region_threshold_step"`
	MinTargetDivisor    float64 `json:"min_target_divisor"`

	AngleRangeDeg       float64 `json:"angle_range_deg"`
	OrbitalDistance     float64 `json:"orbital_distance"` // board lengths
	OrbitalRoll         float64 `json:"orbital_roll"`     // radians
	PrincipalPointNudge float64 `json:"principal_point_nudge"`
	TranslationScale    float64 `json:"translation_scale"`
	InitialFocalLength  float64 `json:"initial_focal_length"`

	Solver SolverConfig `json:"solver"`
}

// Default returns the stock configuration for a 9x6 board on a 1280x720 camera.
func Default() Config {
	return Config{
		ImageWidth:  1280,
		ImageHeight: 720,
		BoardWidth:  9,
		BoardHeight: 6,
		SquareLen:   280,
		MarkerLen:   182,

		VarTerminate:         0.1,
		MinCorners:           6,
		MeanFlowMax:          2.0,
		PoseCloseToTargetMin: 0.8,
		StillIDMatchMin:      0.9,

		MaxOverlap:          0.9,
		Subsample:           20,
		RegionThresholdStep: 0.05,
		MinTargetDivisor:    3.333,

		AngleRangeDeg:       70,
		OrbitalDistance:     1.6,
		OrbitalRoll:         math.Pi / 8,
		PrincipalPointNudge: 0.05,
		TranslationScale:    10,
		InitialFocalLength:  1000,

		Solver: SolverConfig{
			MaxIterations: 30,
			Epsilon:       2.220446049250313e-16,
		},
	}
}

// Load reads a JSON config file. Fields missing from the file keep their
// Default values. The file must have a .json extension and be under 1 MiB.
func Load(path string) (Config, error) {
	cfg := Default()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Default(), fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as indented JSON.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks ranges of all fields.
func (c Config) Validate() error {
	if c.ImageWidth <= 0 || c.ImageHeight <= 0 {
		return fmt.Errorf("image size must be positive, got %dx%d", c.ImageWidth, c.ImageHeight)
	}
	if c.BoardWidth < 3 || c.BoardHeight < 3 {
		return fmt.Errorf("board must have at least 3x3 squares, got %dx%d", c.BoardWidth, c.BoardHeight)
	}
	if c.SquareLen <= 0 {
		return fmt.Errorf("square_len must be positive, got %f", c.SquareLen)
	}
	if c.MarkerLen < 0 || c.MarkerLen > c.SquareLen {
		return fmt.Errorf("marker_len must be between 0 and square_len, got %f", c.MarkerLen)
	}
	if c.VarTerminate <= 0 || c.VarTerminate >= 1 {
		return fmt.Errorf("var_terminate must be between 0 and 1, got %f", c.VarTerminate)
	}
	if c.MinCorners < 4 {
		return fmt.Errorf("min_corners must be at least 4, got %d", c.MinCorners)
	}
	if c.MeanFlowMax <= 0 {
		return fmt.Errorf("mean_flow_max must be positive, got %f", c.MeanFlowMax)
	}
	if c.PoseCloseToTargetMin <= 0 || c.PoseCloseToTargetMin >= 1 {
		return fmt.Errorf("pose_close_to_tgt_min must be between 0 and 1, got %f", c.PoseCloseToTargetMin)
	}
	if c.StillIDMatchMin < 0 || c.StillIDMatchMin > 1 {
		return fmt.Errorf("still_id_match_min must be between 0 and 1, got %f", c.StillIDMatchMin)
	}
	if c.MaxOverlap <= 0 || c.MaxOverlap > 1 {
		return fmt.Errorf("max_overlap must be in (0, 1], got %f", c.MaxOverlap)
	}
	if c.Subsample <= 0 || c.Subsample > c.ImageWidth || c.Subsample > c.ImageHeight {
		return fmt.Errorf("subsample must be positive and smaller than the image, got %d", c.Subsample)
	}
	if c.RegionThresholdStep <= 0 || c.RegionThresholdStep >= 1 {
		return fmt.Errorf("region_threshold_step must be between 0 and 1, got %f", c.RegionThresholdStep)
	}
	if c.MinTargetDivisor < 1 {
		return fmt.Errorf("min_target_divisor must be at least 1, got %f", c.MinTargetDivisor)
	}
	if c.AngleRangeDeg <= 0 || c.AngleRangeDeg >= 90 {
		return fmt.Errorf("angle_range_deg must be between 0 and 90, got %f", c.AngleRangeDeg)
	}
	if c.OrbitalDistance <= 0 {
		return fmt.Errorf("orbital_distance must be positive, got %f", c.OrbitalDistance)
	}
	if c.TranslationScale <= 0 {
		return fmt.Errorf("translation_scale must be positive, got %f", c.TranslationScale)
	}
	if c.InitialFocalLength <= 0 {
		return fmt.Errorf("initial_focal_length must be positive, got %f", c.InitialFocalLength)
	}
	if c.Solver.MaxIterations <= 0 {
		return fmt.Errorf("solver.max_iterations must be positive, got %d", c.Solver.MaxIterations)
	}
	if c.Solver.Epsilon < 0 {
		return fmt.Errorf("solver.epsilon must be non-negative, got %g", c.Solver.Epsilon)
	}
	return nil
}

// ImageSize returns the image size as a point.
func (c Config) ImageSize() image.Point {
	return image.Pt(c.ImageWidth, c.ImageHeight)
}

// BoardSize returns the number of squares per axis.
func (c Config) BoardSize() image.Point {
	return image.Pt(c.BoardWidth, c.BoardHeight)
}

// AllPoints returns the number of interior corners of the board.
func (c Config) AllPoints() int {
	return (c.BoardWidth - 1) * (c.BoardHeight - 1)
}

// BoardExtent returns the physical board width, height and a notional depth
// equal to the width, used to place orbital poses.
func (c Config) BoardExtent() r3.Vector {
	return r3.Vector{
		X: float64(c.BoardWidth) * c.SquareLen,
		Y: float64(c.BoardHeight) * c.SquareLen,
		Z: float64(c.BoardWidth) * c.SquareLen,
	}
}

// MinTargetWidth is the smallest on-screen board width a coverage target may request.
func (c Config) MinTargetWidth() float64 {
	return math.Floor(float64(c.ImageWidth) / c.MinTargetDivisor)
}

// Package calibrator accumulates keyframes, runs the calibration primitive
// over them and derives the statistics that drive pose selection.
package calibrator

import (
	"errors"
	"fmt"
	"math"

	"pose-calib/internal/camera"
	"pose-calib/internal/config"
	"pose-calib/internal/pose"
	"pose-calib/internal/solver"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInsufficientData is returned when there are no keyframes or too few
	// points to calibrate.
	ErrInsufficientData = errors.New("insufficient calibration data")

	// ErrPrimitiveFailure wraps an error from the calibration primitive.
	ErrPrimitiveFailure = errors.New("calibration primitive failed")
)

// minTotalPoints is the smallest total point count that is rejected.
const minTotalPoints = 4

// Primitive estimates a camera model from planar views.
type Primitive interface {
	Calibrate(req solver.Request) (solver.Result, error)
}

// Stats are the statistics of the latest successful calibration.
type Stats struct {
	RepErr     float64
	Variance   [camera.NumIntrinsics]float64
	PoseVar    [6]float64 // rx, ry, rz in degrees then tx, ty, tz
	Dispersion [camera.NumIntrinsics]float64
}

// HistoryEntry records one successful calibration.
type HistoryEntry struct {
	Keyframes  int                           `json:"keyframes"`
	RepErr     float64                       `json:"reprojection_error"`
	Dispersion [camera.NumIntrinsics]float64 `json:"dispersion"`
}

// Calibrator owns the keyframes and the current camera model.
type Calibrator struct {
	cfg       config.Config
	prim      Primitive
	initial   camera.Matrix
	model     camera.Model
	flags     solver.Flags
	lastFlags solver.Flags
	keyframes []Keyframe
	stats     Stats
	history   []HistoryEntry
}

// New creates a calibrator whose model starts from the configured focal
// length with the principal point at the image center.
func New(cfg config.Config, prim Primitive) *Calibrator {
	k := camera.DefaultMatrix(cfg.InitialFocalLength, cfg.ImageSize())
	c := &Calibrator{
		cfg:     cfg,
		prim:    prim,
		initial: k,
		flags:   solver.UseLU,
	}
	c.Reset()
	return c
}

// Reset drops all keyframes and statistics and restores the initial model.
func (c *Calibrator) Reset() {
	c.model = camera.Model{K: c.initial}
	c.keyframes = nil
	c.history = nil
	c.lastFlags = c.flags
	c.stats = Stats{RepErr: math.NaN()}
	for i := range c.stats.Dispersion {
		c.stats.Dispersion[i] = math.NaN()
	}
}

// AddKeyframe appends an accepted view.
func (c *Calibrator) AddKeyframe(k Keyframe) {
	c.keyframes = append(c.keyframes, k)
}

// Keyframes returns the accepted views.
func (c *Calibrator) Keyframes() []Keyframe {
	return c.keyframes
}

// Model returns the current camera model.
func (c *Calibrator) Model() camera.Model {
	return c.model
}

// Stats returns the statistics of the latest successful calibration.
func (c *Calibrator) Stats() Stats {
	return c.stats
}

// Flags returns the flags passed to the primitive on the latest calibration.
func (c *Calibrator) Flags() solver.Flags {
	return c.lastFlags
}

// History returns one entry per successful calibration.
func (c *Calibrator) History() []HistoryEntry {
	return c.history
}

// Calibrate runs the primitive over keyframes, or over the stored keyframes
// when none are given, and returns the index of dispersion per intrinsic.
// While fewer than two keyframes are used, parameters the bootstrap pose
// kind cannot observe are held fixed. On error the previous model is kept.
func (c *Calibrator) Calibrate(keyframes []Keyframe, initPose pose.Kind) ([camera.NumIntrinsics]float64, error) {
	var disp [camera.NumIntrinsics]float64

	if len(keyframes) == 0 {
		keyframes = c.keyframes
	}
	if len(keyframes) == 0 {
		return disp, fmt.Errorf("no keyframes: %w", ErrInsufficientData)
	}

	flags := c.flags
	if len(keyframes) <= 1 {
		switch initPose {
		case pose.Orbital:
			flags |= solver.FixAspectRatio | solver.ZeroTangentDist | solver.FixK1 | solver.FixK2 | solver.FixK3
		case pose.Planar:
			flags |= solver.FixPrincipalPoint | solver.FixFocalLength
		}
	}

	req := solver.Request{
		ImageSize: c.cfg.ImageSize(),
		InitialK:  c.initial,
		Flags:     flags,
		Criteria: solver.Criteria{
			MaxIterations: c.cfg.Solver.MaxIterations,
			Epsilon:       c.cfg.Solver.Epsilon,
		},
	}
	n := 0
	for _, k := range keyframes {
		req.ObjectPoints = append(req.ObjectPoints, k.ObjectPoints)
		req.ImagePoints = append(req.ImagePoints, k.ImagePoints)
		n += k.Len()
	}
	if n <= minTotalPoints {
		return disp, fmt.Errorf("%d points in %d keyframes: %w", n, len(keyframes), ErrInsufficientData)
	}

	res, err := c.prim.Calibrate(req)
	if err != nil {
		return disp, fmt.Errorf("%w: %v", ErrPrimitiveFailure, err)
	}

	c.model = res.Model
	c.lastFlags = flags

	st := Stats{RepErr: res.RMS}
	for i, sd := range res.StdDev {
		st.Variance[i] = sd * sd
	}
	st.Dispersion = indexOfDispersion(c.model.Intrinsics(), st.Variance)
	st.PoseVar = c.poseVariance(res)
	c.stats = st

	c.history = append(c.history, HistoryEntry{
		Keyframes:  len(keyframes),
		RepErr:     st.RepErr,
		Dispersion: st.Dispersion,
	})

	fmt.Printf("[Calibrator] %d keyframes, %d points: reprojection error %.4f, %s\n",
		len(keyframes), n, st.RepErr, c.model)
	return st.Dispersion, nil
}

// Bootstrap calibrates from a single keyframe and keeps the result only when
// its reprojection error is below best. Otherwise the previous model,
// statistics and history are restored and false is returned.
func (c *Calibrator) Bootstrap(k Keyframe, initPose pose.Kind, best float64) (float64, bool, error) {
	model, stats, flags, n := c.model, c.stats, c.lastFlags, len(c.history)

	if _, err := c.Calibrate([]Keyframe{k}, initPose); err != nil {
		return 0, false, err
	}
	repErr := c.stats.RepErr
	if repErr < best {
		return repErr, true, nil
	}

	c.model, c.stats, c.lastFlags = model, stats, flags
	c.history = c.history[:n]
	return repErr, false, nil
}

// indexOfDispersion is variance over |mean| with the mean floored at 1.
func indexOfDispersion(mean, variance [camera.NumIntrinsics]float64) [camera.NumIntrinsics]float64 {
	var out [camera.NumIntrinsics]float64
	for i := range mean {
		out[i] = variance[i] / math.Max(math.Abs(mean[i]), 1)
	}
	return out
}

// poseVariance returns the population variance of the per-view Euler angles
// and of the scaled translations.
func (c *Calibrator) poseVariance(res solver.Result) [6]float64 {
	n := len(res.Rvecs)
	axes := make([][]float64, 6)
	for i := range axes {
		axes[i] = make([]float64, 0, n)
	}

	for v := 0; v < n; v++ {
		e := camera.EulerAngles(camera.Rodrigues(res.Rvecs[v]))
		rx := math.Mod(e.X, 360)
		if rx < 0 {
			rx += 360
		}
		t := res.Tvecs[v].Mul(1 / c.cfg.TranslationScale)
		for i, x := range []float64{rx, e.Y, e.Z, t.X, t.Y, t.Z} {
			axes[i] = append(axes[i], x)
		}
	}

	var out [6]float64
	if n == 0 {
		return out
	}
	for i, xs := range axes {
		out[i] = stat.PopVariance(xs, nil)
	}
	return out
}

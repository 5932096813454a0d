// Package sim simulates an operator holding a calibration board in front of
// a camera with known intrinsics. It stands in for the live tracker so whole
// sessions can run headless.
package sim

import (
	"image"
	"math"
	"math/rand"

	"pose-calib/internal/camera"
	"pose-calib/internal/config"
	"pose-calib/internal/guidance"
	"pose-calib/internal/pose"
	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
)

// TargetSource provides the pose the operator is asked to reach.
type TargetSource interface {
	Target() (pose.Target, bool)
}

// Options tune the simulated operator.
type Options struct {
	// Truth is the real camera.
	Truth camera.Model
	// Approach is the fraction of the remaining motion covered per frame.
	Approach float64
	// Noise is the standard deviation of corner positions in pixels.
	Noise float64
	// Seed seeds the noise generator.
	Seed int64
}

// DefaultOptions returns a camera that differs noticeably from the initial
// guess, with mild barrel distortion.
func DefaultOptions(cfg config.Config) Options {
	return Options{
		Truth: camera.Model{
			K: camera.Matrix{
				Fx: 910,
				Fy: 905,
				Cx: float64(cfg.ImageWidth)/2 + 12,
				Cy: float64(cfg.ImageHeight)/2 - 8,
			},
			Dist: [5]float64{-0.12, 0.04, 0.0005, -0.0003, 0},
		},
		Approach: 0.35,
		Noise:    0.15,
		Seed:     1,
	}
}

// Operator implements guidance.Tracker over a virtual camera.
type Operator struct {
	cfg     config.Config
	opts    Options
	rng     *rand.Rand
	source  TargetSource
	est     camera.Model
	obj     []r3.Vector
	rvec    r3.Vector
	tvec    r3.Vector
	obs     guidance.Observation
	prev    map[int]geometry.Point2D
	last    pose.Target
	settled int
}

// NewOperator creates an operator holding the board fronto-parallel in the
// middle of the view.
func NewOperator(cfg config.Config, opts Options) *Operator {
	ext := cfg.BoardExtent()
	op := &Operator{
		cfg:  cfg,
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
		est:  camera.NewModel(cfg.InitialFocalLength, cfg.ImageSize()),
		rvec: r3.Vector{X: math.Pi},
		tvec: r3.Vector{X: -ext.X / 2, Y: ext.Y / 2, Z: 2 * ext.Z},
		obs:  guidance.Observation{MeanFlow: math.Inf(1)},
	}

	cols, rows := cfg.BoardWidth-1, cfg.BoardHeight-1
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			op.obj = append(op.obj, r3.Vector{X: float64(c+1) * cfg.SquareLen, Y: float64(r+1) * cfg.SquareLen})
		}
	}
	return op
}

// Follow sets the source of target poses.
func (o *Operator) Follow(src TargetSource) { o.source = src }

// ImageSize returns the virtual image size.
func (o *Operator) ImageSize() image.Point { return o.cfg.ImageSize() }

// BoardSize returns the number of squares per axis.
func (o *Operator) BoardSize() image.Point { return o.cfg.BoardSize() }

// Observation returns the observation of the last Step.
func (o *Operator) Observation() guidance.Observation { return o.obs }

// SetIntrinsics receives the current estimate, which the operator uses to
// interpret targets and estimate the board pose.
func (o *Operator) SetIntrinsics(m camera.Model) { o.est = m }

// Pose returns the true board pose.
func (o *Operator) Pose() (rvec, tvec r3.Vector) { return o.rvec, o.tvec }

// Settled returns the number of frames since the current target was
// requested.
func (o *Operator) Settled() int { return o.settled }

// Step moves the board toward the target and observes it.
func (o *Operator) Step() {
	if o.source != nil {
		if tgt, ok := o.source.Target(); ok {
			if tgt != o.last {
				o.last = tgt
				o.settled = 0
			}
			rvec, tvec := o.aim(tgt)
			o.approach(rvec, tvec)
		}
	}
	o.settled++
	o.observe()
}

// aim finds the true pose whose image matches the target as drawn with the
// current estimate, which is what an operator lining up the overlay does.
func (o *Operator) aim(tgt pose.Target) (rvec, tvec r3.Vector) {
	img := o.est.ProjectPoints(o.obj, tgt.Rvec, tgt.Tvec)
	rvec, tvec, err := o.opts.Truth.SolvePlanarPose(o.obj, img)
	if err != nil || tvec.Z <= 0 {
		return tgt.Rvec, tgt.Tvec
	}
	return rvec, tvec
}

func (o *Operator) approach(rvec, tvec r3.Vector) {
	a := o.opts.Approach
	cur := camera.Rodrigues(o.rvec)
	rel := camera.RotationVector(camera.Rodrigues(rvec).Mul(cur.T()))
	o.rvec = camera.RotationVector(camera.Rodrigues(rel.Mul(a)).Mul(cur))
	o.tvec = o.tvec.Add(tvec.Sub(o.tvec).Mul(a))
}

// observe projects the corners with the true camera, adds noise, keeps the
// corners inside the image and estimates the pose with the current model.
func (o *Operator) observe() {
	R := camera.Rodrigues(o.rvec)
	proj := o.opts.Truth.ProjectPoints(o.obj, o.rvec, o.tvec)
	size := o.cfg.ImageSize()

	obs := guidance.Observation{}
	for i, p := range proj {
		if R.MulVec(o.obj[i]).Add(o.tvec).Z <= 0 {
			continue
		}
		p.X += o.rng.NormFloat64() * o.opts.Noise
		p.Y += o.rng.NormFloat64() * o.opts.Noise
		if p.X < 0 || p.Y < 0 || p.X > float64(size.X-1) || p.Y > float64(size.Y-1) {
			continue
		}
		obs.ObjectPoints = append(obs.ObjectPoints, o.obj[i])
		obs.ImagePoints = append(obs.ImagePoints, p)
		obs.IDs = append(obs.IDs, i)
	}

	if obs.NumPoints() >= 4 {
		if rvec, tvec, err := o.est.SolvePlanarPose(obs.ObjectPoints, obs.ImagePoints); err == nil && tvec.Z > 0 {
			obs.PoseValid = true
			obs.Rvec, obs.Tvec = rvec, tvec
		}
	}

	obs.MeanFlow = math.Inf(1)
	common, sum := 0, 0.0
	for i, id := range obs.IDs {
		if p, ok := o.prev[id]; ok {
			common++
			sum += p.Distance(obs.ImagePoints[i])
		}
	}
	if common > 0 {
		union := len(o.prev) + obs.NumPoints() - common
		if float64(common)/float64(union) >= o.cfg.StillIDMatchMin {
			obs.MeanFlow = sum / float64(common)
		}
	}

	o.prev = make(map[int]geometry.Point2D, obs.NumPoints())
	for i, id := range obs.IDs {
		o.prev[id] = obs.ImagePoints[i]
	}
	o.obs = obs
}

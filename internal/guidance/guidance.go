// Package guidance drives an interactive calibration session. Every frame it
// compares the detected board with the requested target pose, captures
// keyframes once the operator holds the target, recalibrates and picks the
// next target for the least certain intrinsic.
package guidance

import (
	"fmt"
	"io"
	"math"
	"time"

	"pose-calib/internal/calibrator"
	"pose-calib/internal/camera"
	"pose-calib/internal/config"
	"pose-calib/internal/pose"
	"pose-calib/internal/report"
	"pose-calib/internal/version"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
)

// Required corner counts before and after the bootstrap.
const (
	requiredInit = ((camera.NumIntrinsics+2*6)*5 + 3) / 4

	// six pose parameters at two equations per corner, five times over
	requiredAfter = 15
)

// paramGroups are the intrinsics that converge together.
var paramGroups = [][]int{
	{camera.Fx, camera.Fy, camera.Cx, camera.Cy},
	{camera.K1, camera.K2, camera.P1, camera.P2, camera.K3},
}

var poseNames = [6]string{"rx", "ry", "rz", "tx", "ty", "tz"}

// Guidance is the per-session controller.
type Guidance struct {
	cfg     config.Config
	tracker Tracker
	calib   *calibrator.Calibrator
	posegen *pose.Generator
	preview *BoardPreview

	target    pose.Target
	hasTarget bool
	overlay   gocv.Mat

	pconverged    [camera.NumIntrinsics]bool
	converged     bool
	minRepErrInit float64
	tgtParam      int

	poseReached bool
	still       bool
	jaccard     float64
	userInfo    string
}

// New creates a controller and its first target pose. The tracker must
// report the configured image and board size.
func New(cfg config.Config, tracker Tracker, prim calibrator.Primitive) (*Guidance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if tracker.ImageSize() != cfg.ImageSize() {
		return nil, fmt.Errorf("tracker image size %v does not match configured %v", tracker.ImageSize(), cfg.ImageSize())
	}
	if tracker.BoardSize() != cfg.BoardSize() {
		return nil, fmt.Errorf("tracker board size %v does not match configured %v", tracker.BoardSize(), cfg.BoardSize())
	}

	g := &Guidance{
		cfg:           cfg,
		tracker:       tracker,
		calib:         calibrator.New(cfg, prim),
		posegen:       pose.NewGenerator(cfg),
		preview:       NewBoardPreview(cfg.BoardSize(), cfg.SquareLen, cfg.ImageSize()),
		overlay:       gocv.NewMat(),
		minRepErrInit: math.Inf(1),
		tgtParam:      -1,
	}
	g.setNextPose()
	g.updateUserInfo()
	return g, nil
}

// Close releases the target overlay.
func (g *Guidance) Close() {
	g.overlay.Close()
}

// Update processes the current tracker observation. force captures the
// frame as soon as enough corners are visible. It returns true when a
// keyframe was captured.
func (g *Guidance) Update(force bool) bool {
	obs := g.tracker.Observation()
	n := obs.NumPoints()

	if len(g.calib.Keyframes()) == 0 && n >= g.cfg.AllPoints()/2 {
		g.bootstrap(obs)
	}

	g.poseReached = force && n >= g.cfg.MinCorners
	g.jaccard = g.poseCloseToTarget(obs)
	if g.jaccard > g.cfg.PoseCloseToTargetMin {
		g.poseReached = true
	}

	required := requiredInit
	if len(g.calib.Keyframes()) >= 2 {
		required = requiredAfter
	}
	g.still = obs.MeanFlow < g.cfg.MeanFlowMax
	g.poseReached = g.poseReached && n >= required
	capture := g.poseReached && (g.still || force)

	if !capture {
		g.updateUserInfo()
		return false
	}

	kf, err := calibrator.NewKeyframe(g.cfg.ImageSize(), obs.ObjectPoints, obs.ImagePoints, obs.IDs)
	if err != nil {
		fmt.Printf("[Guidance] Rejecting observation: %v\n", err)
		return false
	}
	g.calib.AddKeyframe(kf)
	fmt.Printf("[Guidance] Captured keyframe %d: %d corners, overlap %.2f, force %v\n",
		len(g.calib.Keyframes()), n, g.jaccard, force)

	g.calibrate()
	g.tracker.SetIntrinsics(g.calib.Model())

	g.converged = true
	for _, c := range g.pconverged {
		g.converged = g.converged && c
	}
	if g.converged {
		g.clearTarget()
		fmt.Printf("[Guidance] All intrinsics converged: %s\n", g.calib.Model())
	} else {
		g.setNextPose()
	}

	g.updateUserInfo()
	return true
}

// bootstrap calibrates from the current observation alone until the first
// keyframe is captured, keeping the best estimate for the target rendering
// and the tracker.
func (g *Guidance) bootstrap(obs Observation) {
	kf, err := calibrator.NewKeyframe(g.cfg.ImageSize(), obs.ObjectPoints, obs.ImagePoints, obs.IDs)
	if err != nil {
		fmt.Printf("[Guidance] Bootstrap skipped: %v\n", err)
		return
	}
	repErr, improved, err := g.calib.Bootstrap(kf, g.target.Kind, g.minRepErrInit)
	if err != nil {
		fmt.Printf("[Guidance] Bootstrap calibration failed: %v\n", err)
		return
	}
	if improved {
		g.setNextPose()
		g.tracker.SetIntrinsics(g.calib.Model())
		g.minRepErrInit = repErr
	}
}

// calibrate recalibrates over all keyframes, marks parameters of the
// targeted group whose uncertainty stopped improving as converged and
// selects the next target parameter.
func (g *Guidance) calibrate() {
	nk := len(g.calib.Keyframes())
	if nk < 2 {
		return
	}

	prev := g.calib.Stats().Variance
	first := nk == 2

	disp, err := g.calib.Calibrate(nil, g.target.Kind)
	if err != nil {
		fmt.Printf("[Guidance] Calibration failed: %v\n", err)
		return
	}
	cur := g.calib.Stats().Variance

	if !first {
		var rel [camera.NumIntrinsics]float64
		for i := range rel {
			rel[i] = 1 - math.Sqrt(cur[i])/math.Sqrt(prev[i])
		}
		for _, group := range paramGroups {
			if !contains(group, g.tgtParam) {
				continue
			}
			for _, p := range group {
				if rel[p] > 0 && rel[p] < g.cfg.VarTerminate && !g.pconverged[p] {
					g.pconverged[p] = true
					fmt.Printf("[Guidance] %s converged (relative std improvement %.3f)\n", camera.IntrinsicNames[p], rel[p])
				}
			}
		}
	}

	for i, c := range g.pconverged {
		if c {
			disp[i] = 0
		}
	}
	g.tgtParam = floats.MaxIdx(disp[:])
}

func (g *Guidance) setNextPose() {
	nk := len(g.calib.Keyframes())
	model := g.calib.Model()
	g.target = g.posegen.Pose(nk, g.tgtParam, model)
	g.hasTarget = true

	g.overlay.Close()
	g.overlay = g.preview.Render(model, g.target.Rvec, g.target.Tvec)
}

func (g *Guidance) clearTarget() {
	g.hasTarget = false
	g.overlay.Close()
	g.overlay = gocv.NewMat()
}

// poseCloseToTarget returns the overlap of the target board with the board
// rendered at the tracker's pose estimate.
func (g *Guidance) poseCloseToTarget(obs Observation) float64 {
	if !obs.PoseValid || !g.hasTarget {
		return 0
	}
	shadow := g.preview.Silhouette(g.calib.Model(), obs.Rvec, obs.Tvec)
	defer shadow.Close()
	target := greenMask(g.overlay)
	defer target.Close()
	return Jaccard(target, shadow)
}

// Draw composites the target board and the detected board axes onto img,
// then mirrors it horizontally when requested.
func (g *Guidance) Draw(img *gocv.Mat, mirror bool) {
	if g.hasTarget && !g.overlay.Empty() {
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(g.overlay, &gray, gocv.ColorBGRToGray)

		mask := gocv.NewMat()
		defer mask.Close()
		gocv.Threshold(gray, &mask, 0, 255, gocv.ThresholdBinary)

		g.overlay.CopyToWithMask(img, mask)
	}

	if obs := g.tracker.Observation(); obs.PoseValid {
		g.preview.DrawAxis(img, g.calib.Model(), obs.Rvec, obs.Tvec)
	}

	if mirror {
		gocv.Flip(*img, img, 1)
	}
}

// Report returns the calibration report for the session so far.
func (g *Guidance) Report() report.Report {
	model := g.calib.Model()
	flags := g.calib.Flags()
	return report.Report{
		Version:         version.String(),
		CalibrationTime: time.Now().Format(time.ANSIC),
		Frames:          len(g.calib.Keyframes()),
		ImageWidth:      g.cfg.ImageWidth,
		ImageHeight:     g.cfg.ImageHeight,
		BoardWidth:      g.cfg.BoardWidth,
		BoardHeight:     g.cfg.BoardHeight,
		SquareSize:      g.cfg.SquareLen,
		MarkerSize:      g.cfg.MarkerLen,
		Flags:           int(flags),
		FlagNames:       flags.Names(),
		FisheyeModel:    0,
		CameraMatrix:    model.K.Rows(),
		Distortion:      append([]float64(nil), model.Dist[:]...),
		RepErr:          g.calib.Stats().RepErr,
		Converged:       g.converged,
	}
}

// Write writes the calibration report as JSON.
func (g *Guidance) Write(w io.Writer) error {
	return g.Report().Write(w)
}

// Converged reports whether every intrinsic has converged.
func (g *Guidance) Converged() bool { return g.converged }

// UserInfo is the current instruction for the operator.
func (g *Guidance) UserInfo() string { return g.userInfo }

// Target returns the requested pose. The bool is false once converged.
func (g *Guidance) Target() (pose.Target, bool) { return g.target, g.hasTarget }

// TargetParam is the intrinsic the current target was chosen for, -1 until
// the first calibration over two keyframes.
func (g *Guidance) TargetParam() int { return g.tgtParam }

// Calibrator returns the session calibrator.
func (g *Guidance) Calibrator() *calibrator.Calibrator { return g.calib }

// PoseReached reports whether the last frame matched the target.
func (g *Guidance) PoseReached() bool { return g.poseReached }

// Still reports whether the board was steady in the last frame.
func (g *Guidance) Still() bool { return g.still }

// Overlap is the target overlap of the last frame.
func (g *Guidance) Overlap() float64 { return g.jaccard }

// ConvergedParams returns the per-intrinsic convergence flags.
func (g *Guidance) ConvergedParams() [camera.NumIntrinsics]bool { return g.pconverged }

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

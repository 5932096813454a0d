// Package pose generates the target board poses that guide the operator:
// orbital sweeps for the camera matrix, a full-screen planar pose for the
// bootstrap and distortion-driven poses that cover the image.
package pose

import (
	"fmt"
	"math"

	"pose-calib/internal/camera"
	"pose-calib/internal/config"
	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
)

// Kind tells how a target pose was constructed.
type Kind int

const (
	Orbital Kind = iota
	Planar
	Coverage
)

func (k Kind) String() string {
	switch k {
	case Orbital:
		return "orbital"
	case Planar:
		return "planar"
	case Coverage:
		return "coverage"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Target is a requested board pose.
type Target struct {
	Rvec  r3.Vector
	Tvec  r3.Vector
	Kind  Kind
	Param int              // intrinsic the pose was generated for, -1 during bootstrap
	Rect  geometry.RectInt // image region of a coverage pose
}

// Generator produces target poses. It owns the per-axis angle bins and the
// coverage mask for one session.
type Generator struct {
	cfg    config.Config
	board  r3.Vector
	bins   [2]*AngleBins
	mask   *CoverageMask
	finder RegionFinder
	sgn    float64
}

// NewGenerator creates a generator for the configured board and image.
func NewGenerator(cfg config.Config) *Generator {
	g := &Generator{
		cfg:   cfg,
		board: cfg.BoardExtent(),
		mask:  NewCoverageMask(cfg.ImageSize(), cfg.Subsample),
		finder: RegionFinder{
			Step:       cfg.RegionThresholdStep,
			MaxOverlap: cfg.MaxOverlap,
		},
	}
	g.Reset()
	return g
}

// Reset starts a new session: fresh angle bins and an empty coverage mask.
func (g *Generator) Reset() {
	lim := g.cfg.AngleRangeDeg * math.Pi / 180
	g.bins = [2]*AngleBins{NewAngleBins(-lim, lim), NewAngleBins(-lim, lim)}
	g.mask.Reset()
	g.sgn = 1
}

// Mask returns the coverage mask.
func (g *Generator) Mask() *CoverageMask {
	return g.mask
}

// Pose returns the next target for nk accepted keyframes while tgtParam is
// the intrinsic with the largest index of dispersion.
func (g *Generator) Pose(nk, tgtParam int, model camera.Model) Target {
	switch {
	case nk == 0:
		r, t := OrbitalPose(g.board, 0, math.Pi/4, g.cfg.OrbitalDistance, g.cfg.OrbitalRoll)
		return Target{Rvec: r, Tvec: t, Kind: Orbital, Param: -1}
	case nk == 1:
		r, t := PlanarFullscreen(g.board, model, g.cfg.ImageSize())
		return Target{Rvec: r, Tvec: t, Kind: Planar, Param: -1}
	case tgtParam < camera.K1:
		return g.orbitalSweep(tgtParam, model)
	}

	if tgt, ok := g.coveragePose(tgtParam, model); ok {
		return tgt
	}
	fmt.Printf("[PoseGen] no uncovered distortion region for %s, targeting cy\n", paramName(tgtParam))
	return g.Pose(nk, camera.Cy, model)
}

// orbitalSweep rotates about x when fy is targeted and about y when fx is.
// Principal point targets additionally shift the board off center, to
// alternating sides on successive calls.
func (g *Generator) orbitalSweep(tgtParam int, model camera.Model) Target {
	axis := (tgtParam + 1) % 2
	var angle [2]float64
	angle[axis] = g.bins[axis].Next()

	r, t := OrbitalPose(g.board, angle[0], angle[1], g.cfg.OrbitalDistance, g.cfg.OrbitalRoll)

	if tgtParam == camera.Cx || tgtParam == camera.Cy {
		off := geometry.Point2D{X: model.K.Cx, Y: model.K.Cy}
		if tgtParam == camera.Cx {
			off.X += float64(g.cfg.ImageWidth) * g.cfg.PrincipalPointNudge * g.sgn
		} else {
			off.Y += float64(g.cfg.ImageHeight) * g.cfg.PrincipalPointNudge * g.sgn
		}
		off3d := model.Unproject(off, t.Z)
		off3d.Z = 0
		t = t.Add(off3d)
		g.sgn = -g.sgn
	}

	return Target{Rvec: r, Tvec: t, Kind: Orbital, Param: tgtParam}
}

// coveragePose places the board over the largest strongly distorted region
// that earlier targets have not covered and marks it in the mask.
func (g *Generator) coveragePose(tgtParam int, model camera.Model) (Target, bool) {
	sub := g.cfg.Subsample
	field := ComputeDistortion(model, g.cfg.ImageSize(), sub)

	cells, ok := g.finder.Find(field, g.mask, false, 1.0)
	if !ok {
		return Target{}, false
	}

	rect := geometry.RectFromImage(cells)
	rect = geometry.RectInt{X: rect.X * sub, Y: rect.Y * sub, Width: rect.Width * sub, Height: rect.Height * sub}

	r, t, placed := PoseFromBounds(g.board, rect, model, g.cfg.ImageSize(), g.cfg.MinTargetWidth())
	g.mask.Mark(placed.ToFloat().CellsCovering(float64(sub)))

	fmt.Printf("[PoseGen] %s: target (%d,%d) %dx%d, coverage %d/%d cells\n",
		paramName(tgtParam), placed.X, placed.Y, placed.Width, placed.Height,
		g.mask.Count(), g.mask.Rows()*g.mask.Cols())

	return Target{Rvec: r, Tvec: t, Kind: Coverage, Param: tgtParam, Rect: placed}, true
}

func paramName(i int) string {
	if i >= 0 && i < camera.NumIntrinsics {
		return camera.IntrinsicNames[i]
	}
	return fmt.Sprintf("param %d", i)
}

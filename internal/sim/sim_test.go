package sim

import (
	"math"
	"testing"

	"pose-calib/internal/camera"
	"pose-calib/internal/config"
	"pose-calib/internal/guidance"
	"pose-calib/internal/pose"
	"pose-calib/internal/solver"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedTarget struct {
	tgt pose.Target
}

func (f fixedTarget) Target() (pose.Target, bool) { return f.tgt, true }

func TestOperatorReachesTarget(t *testing.T) {
	cfg := config.Default()
	opts := DefaultOptions(cfg)
	op := NewOperator(cfg, opts)
	op.SetIntrinsics(opts.Truth)

	rvec, tvec := pose.OrbitalPose(cfg.BoardExtent(), 0.2, -0.3, cfg.OrbitalDistance, cfg.OrbitalRoll)
	op.Follow(fixedTarget{pose.Target{Rvec: rvec, Tvec: tvec}})

	for i := 0; i < 60; i++ {
		op.Step()
	}
	assert.Equal(t, 60, op.Settled())

	gotR, gotT := op.Pose()
	assert.Less(t, gotT.Sub(tvec).Norm(), 5.0)
	rel := camera.RotationVector(camera.Rodrigues(rvec).Mul(camera.Rodrigues(gotR).T()))
	assert.Less(t, rel.Norm(), 1e-3)

	obs := op.Observation()
	assert.Equal(t, cfg.AllPoints(), obs.NumPoints())
	assert.True(t, obs.PoseValid)
	assert.Less(t, obs.MeanFlow, 1.0)
	assert.Less(t, obs.Tvec.Sub(tvec).Norm()/tvec.Norm(), 0.01)
}

func TestOperatorDropsCornersOutsideImage(t *testing.T) {
	cfg := config.Default()
	opts := DefaultOptions(cfg)
	opts.Approach = 1
	op := NewOperator(cfg, opts)
	op.SetIntrinsics(opts.Truth)

	rvec, tvec := pose.OrbitalPose(cfg.BoardExtent(), 0, 0, cfg.OrbitalDistance, cfg.OrbitalRoll)
	tvec = tvec.Add(r3.Vector{X: 2000})
	op.Follow(fixedTarget{pose.Target{Rvec: rvec, Tvec: tvec}})
	op.Step()

	obs := op.Observation()
	assert.Greater(t, obs.NumPoints(), 0)
	assert.Less(t, obs.NumPoints(), cfg.AllPoints())
	for _, p := range obs.ImagePoints {
		assert.GreaterOrEqual(t, p.X, 0.0)
		assert.LessOrEqual(t, p.X, float64(cfg.ImageWidth-1))
	}
}

func TestOperatorFlowAfterJump(t *testing.T) {
	cfg := config.Default()
	opts := DefaultOptions(cfg)
	opts.Approach = 1
	op := NewOperator(cfg, opts)

	op.Step()
	assert.True(t, math.IsInf(op.Observation().MeanFlow, 1), "first frame has no history")
	op.Step()
	assert.Less(t, op.Observation().MeanFlow, 1.0)

	rvec, tvec := pose.OrbitalPose(cfg.BoardExtent(), 0, 0.5, cfg.OrbitalDistance, cfg.OrbitalRoll)
	op.Follow(fixedTarget{pose.Target{Rvec: rvec, Tvec: tvec}})
	op.Step()
	assert.Greater(t, op.Observation().MeanFlow, cfg.MeanFlowMax)
}

func TestSimulatedSession(t *testing.T) {
	if testing.Short() {
		t.Skip("full session")
	}
	cfg := config.Default()
	opts := DefaultOptions(cfg)
	op := NewOperator(cfg, opts)

	g, err := guidance.New(cfg, op, solver.NewLM())
	require.NoError(t, err)
	defer g.Close()
	op.Follow(g)

	captured := 0
	sum := Run(g, op, RunOptions{
		MaxFrames:  300,
		ForceAfter: 25,
		OnCapture:  func(int) { captured++ },
	})

	assert.GreaterOrEqual(t, sum.Captures, 3)
	assert.Equal(t, sum.Captures, captured)
	assert.Equal(t, sum.Captures, len(g.Calibrator().Keyframes()))
	assert.LessOrEqual(t, sum.Frames, 300)

	st := g.Calibrator().Stats()
	assert.Less(t, st.RepErr, 1.0)
	fx := g.Calibrator().Model().K.Fx
	assert.InDelta(t, opts.Truth.K.Fx, fx, 0.1*opts.Truth.K.Fx)
	assert.NotEmpty(t, g.Calibrator().History())
}

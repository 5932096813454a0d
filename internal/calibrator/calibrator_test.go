package calibrator

import (
	"errors"
	"image"
	"math"
	"testing"

	"pose-calib/internal/camera"
	"pose-calib/internal/config"
	"pose-calib/internal/pose"
	"pose-calib/internal/solver"
	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrimitive struct {
	result solver.Result
	err    error
	calls  []solver.Request
}

func (f *fakePrimitive) Calibrate(req solver.Request) (solver.Result, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return solver.Result{}, f.err
	}
	res := f.result
	res.Rvecs = make([]r3.Vector, len(req.ObjectPoints))
	res.Tvecs = make([]r3.Vector, len(req.ObjectPoints))
	for i := range req.ObjectPoints {
		res.Rvecs[i] = r3.Vector{X: math.Pi}
		res.Tvecs[i] = r3.Vector{X: float64(i) * 10, Z: 1000}
	}
	return res, nil
}

func keyframe(t *testing.T, n int) Keyframe {
	t.Helper()
	obj := make([]r3.Vector, n)
	img := make([]geometry.Point2D, n)
	ids := make([]int, n)
	for i := range obj {
		obj[i] = r3.Vector{X: float64(i)}
		img[i] = geometry.Point2D{X: float64(i)}
		ids[i] = i
	}
	k, err := NewKeyframe(image.Pt(1280, 720), obj, img, ids)
	require.NoError(t, err)
	return k
}

func solvedModel() camera.Model {
	return camera.Model{
		K:    camera.Matrix{Fx: 1000, Fy: 1000, Cx: 640, Cy: 360},
		Dist: [5]float64{0.1, 0, 0, 0, 0},
	}
}

func TestNewKeyframeRejectsMismatchedLengths(t *testing.T) {
	_, err := NewKeyframe(image.Pt(10, 10), make([]r3.Vector, 3), make([]geometry.Point2D, 2), make([]int, 3))
	assert.Error(t, err)
}

func TestNewKeyframeCopiesInput(t *testing.T) {
	img := []geometry.Point2D{{X: 1}, {X: 2}}
	k, err := NewKeyframe(image.Pt(10, 10), make([]r3.Vector, 2), img, []int{0, 1})
	require.NoError(t, err)
	img[0].X = 99
	assert.Equal(t, 1.0, k.ImagePoints[0].X)
	assert.Equal(t, 2, k.Len())
}

func TestInitialModel(t *testing.T) {
	c := New(config.Default(), &fakePrimitive{})
	m := c.Model()
	assert.Equal(t, 1000.0, m.K.Fx)
	assert.Equal(t, 1000.0, m.K.Fy)
	assert.Equal(t, 639.5, m.K.Cx)
	assert.Equal(t, 359.5, m.K.Cy)
	assert.True(t, math.IsNaN(c.Stats().RepErr))
}

func TestCalibrateWithoutKeyframes(t *testing.T) {
	prim := &fakePrimitive{}
	c := New(config.Default(), prim)
	_, err := c.Calibrate(nil, pose.Orbital)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Empty(t, prim.calls)
}

func TestCalibrateTooFewPoints(t *testing.T) {
	prim := &fakePrimitive{}
	c := New(config.Default(), prim)
	before := c.Model()

	_, err := c.Calibrate([]Keyframe{keyframe(t, 4)}, pose.Orbital)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, before, c.Model())
	assert.Empty(t, prim.calls)
}

func TestCalibrateBootstrapFlags(t *testing.T) {
	tests := []struct {
		name string
		kind pose.Kind
		n    int
		want solver.Flags
	}{
		{"orbital", pose.Orbital, 1, solver.UseLU | solver.FixAspectRatio | solver.ZeroTangentDist | solver.FixK1 | solver.FixK2 | solver.FixK3},
		{"planar", pose.Planar, 1, solver.UseLU | solver.FixPrincipalPoint | solver.FixFocalLength},
		{"coverage", pose.Coverage, 1, solver.UseLU},
		{"two keyframes", pose.Orbital, 2, solver.UseLU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prim := &fakePrimitive{result: solver.Result{RMS: 0.5, Model: solvedModel()}}
			c := New(config.Default(), prim)
			kfs := make([]Keyframe, tt.n)
			for i := range kfs {
				kfs[i] = keyframe(t, 20)
			}
			_, err := c.Calibrate(kfs, tt.kind)
			require.NoError(t, err)
			require.Len(t, prim.calls, 1)
			assert.Equal(t, tt.want, prim.calls[0].Flags)
			assert.Equal(t, tt.want, c.Flags())
			assert.Equal(t, c.initial, prim.calls[0].InitialK)
		})
	}
}

func TestCalibrateUsesStoredKeyframes(t *testing.T) {
	prim := &fakePrimitive{result: solver.Result{RMS: 0.3, Model: solvedModel()}}
	c := New(config.Default(), prim)
	c.AddKeyframe(keyframe(t, 10))
	c.AddKeyframe(keyframe(t, 12))

	_, err := c.Calibrate(nil, pose.Coverage)
	require.NoError(t, err)
	require.Len(t, prim.calls, 1)
	assert.Len(t, prim.calls[0].ObjectPoints, 2)
	assert.Len(t, c.History(), 1)
	assert.Equal(t, 2, c.History()[0].Keyframes)
}

func TestCalibrateStatistics(t *testing.T) {
	var sd [camera.NumIntrinsics]float64
	for i := range sd {
		sd[i] = 2
	}
	prim := &fakePrimitive{result: solver.Result{RMS: 0.25, Model: solvedModel(), StdDev: sd}}
	c := New(config.Default(), prim)

	disp, err := c.Calibrate([]Keyframe{keyframe(t, 20), keyframe(t, 20)}, pose.Orbital)
	require.NoError(t, err)

	st := c.Stats()
	assert.Equal(t, 0.25, st.RepErr)
	assert.Equal(t, 4.0, st.Variance[camera.Fx])
	assert.InDelta(t, 4.0/1000, disp[camera.Fx], 1e-12)
	assert.InDelta(t, 4.0/640, disp[camera.Cx], 1e-12)
	// |mean| below 1 divides by 1
	assert.InDelta(t, 4.0, disp[camera.K1], 1e-12)
	assert.InDelta(t, 4.0, disp[camera.K3], 1e-12)
	assert.Equal(t, disp, st.Dispersion)

	// identical rotations, tx of 0 and 10 scaled by 1/10
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 0, st.PoseVar[i], 1e-9)
	}
	assert.InDelta(t, 0.25, st.PoseVar[3], 1e-12)
	assert.InDelta(t, 0, st.PoseVar[5], 1e-12)
	assert.Equal(t, solvedModel(), c.Model())
}

func TestCalibratePrimitiveFailureKeepsModel(t *testing.T) {
	cause := errors.New("boom")
	prim := &fakePrimitive{err: cause}
	c := New(config.Default(), prim)
	before := c.Model()

	_, err := c.Calibrate([]Keyframe{keyframe(t, 20)}, pose.Orbital)
	assert.ErrorIs(t, err, ErrPrimitiveFailure)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, before, c.Model())
	assert.Empty(t, c.History())
}

func TestBootstrapKeepsModelUnlessImproved(t *testing.T) {
	prim := &fakePrimitive{result: solver.Result{RMS: 0.3, Model: solvedModel()}}
	c := New(config.Default(), prim)

	repErr, ok, err := c.Bootstrap(keyframe(t, 20), pose.Orbital, math.Inf(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.3, repErr)
	assert.Equal(t, solvedModel(), c.Model())
	require.Len(t, c.History(), 1)

	worse := solvedModel()
	worse.K.Fx = 1400
	prim.result = solver.Result{RMS: 0.8, Model: worse}

	repErr, ok, err = c.Bootstrap(keyframe(t, 20), pose.Planar, 0.3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0.8, repErr)
	assert.Equal(t, solvedModel(), c.Model())
	assert.Equal(t, 0.3, c.Stats().RepErr)
	assert.Len(t, c.History(), 1)
	assert.Len(t, prim.calls, 2)

	prim.err = errors.New("boom")
	_, ok, err = c.Bootstrap(keyframe(t, 20), pose.Orbital, 0.3)
	assert.ErrorIs(t, err, ErrPrimitiveFailure)
	assert.False(t, ok)
	assert.Equal(t, solvedModel(), c.Model())
}

func TestIndexOfDispersionZeroMean(t *testing.T) {
	var mean, variance [camera.NumIntrinsics]float64
	variance[camera.P1] = 0.5
	out := indexOfDispersion(mean, variance)
	assert.Equal(t, 0.5, out[camera.P1])
}

func TestReset(t *testing.T) {
	prim := &fakePrimitive{result: solver.Result{RMS: 0.3, Model: solvedModel()}}
	c := New(config.Default(), prim)
	c.AddKeyframe(keyframe(t, 20))
	_, err := c.Calibrate(nil, pose.Planar)
	require.NoError(t, err)

	c.Reset()
	assert.Empty(t, c.Keyframes())
	assert.Empty(t, c.History())
	assert.Equal(t, 639.5, c.Model().K.Cx)
}

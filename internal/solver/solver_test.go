package solver

import (
	"image"
	"math"
	"testing"

	"pose-calib/internal/camera"
	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var imgSize = image.Pt(1280, 720)

func truth() camera.Model {
	return camera.Model{
		K:    camera.Matrix{Fx: 1050, Fy: 1040, Cx: 650, Cy: 350},
		Dist: [5]float64{-0.12, 0.03, 0, 0, 0},
	}
}

func board() []r3.Vector {
	var pts []r3.Vector
	for r := 0; r < 5; r++ {
		for c := 0; c < 8; c++ {
			pts = append(pts, r3.Vector{X: float64(c+1) * 280, Y: float64(r+1) * 280})
		}
	}
	return pts
}

// views returns board observations from a spread of tilted poses.
func views(m camera.Model) ([][]r3.Vector, [][]geometry.Point2D) {
	poses := []struct{ r, t r3.Vector }{
		{r3.Vector{X: math.Pi + 0.3, Y: 0.2, Z: 0.1}, r3.Vector{X: -1200, Y: 800, Z: 4200}},
		{r3.Vector{X: math.Pi - 0.25, Y: -0.3, Z: -0.05}, r3.Vector{X: -1300, Y: 700, Z: 4600}},
		{r3.Vector{X: math.Pi + 0.1, Y: 0.45, Z: 0.3}, r3.Vector{X: -1000, Y: 900, Z: 5000}},
		{r3.Vector{X: math.Pi - 0.4, Y: 0.1, Z: -0.2}, r3.Vector{X: -1400, Y: 600, Z: 3900}},
		{r3.Vector{X: math.Pi, Y: -0.5, Z: 0.4}, r3.Vector{X: -1100, Y: 750, Z: 4400}},
	}
	var obj [][]r3.Vector
	var img [][]geometry.Point2D
	for _, p := range poses {
		obj = append(obj, board())
		img = append(img, m.ProjectPoints(board(), p.r, p.t))
	}
	return obj, img
}

func request(obj [][]r3.Vector, img [][]geometry.Point2D, flags Flags) Request {
	return Request{
		ObjectPoints: obj,
		ImagePoints:  img,
		ImageSize:    imgSize,
		InitialK:     camera.DefaultMatrix(1000, imgSize),
		Flags:        flags,
		Criteria:     Criteria{MaxIterations: 50, Epsilon: 1e-15},
	}
}

func TestCalibrateRecoversSyntheticModel(t *testing.T) {
	want := truth()
	obj, img := views(want)

	res, err := (&LM{}).Calibrate(request(obj, img, UseLU))
	require.NoError(t, err)

	assert.Less(t, res.RMS, 1e-3)
	assert.InDelta(t, want.K.Fx, res.Model.K.Fx, want.K.Fx*0.005)
	assert.InDelta(t, want.K.Fy, res.Model.K.Fy, want.K.Fy*0.005)
	assert.InDelta(t, want.K.Cx, res.Model.K.Cx, 3)
	assert.InDelta(t, want.K.Cy, res.Model.K.Cy, 3)
	assert.InDelta(t, want.Dist[0], res.Model.Dist[0], 0.01)
	assert.Len(t, res.Rvecs, len(obj))
	assert.Len(t, res.Tvecs, len(obj))

	for i, s := range res.StdDev {
		assert.False(t, math.IsNaN(s), "stddev %d", i)
		assert.GreaterOrEqual(t, s, 0.0)
	}
}

func TestCalibrateRespectsFixedParameters(t *testing.T) {
	obj, img := views(truth())

	flags := FixAspectRatio | ZeroTangentDist | FixK1 | FixK2 | FixK3
	res, err := (&LM{}).Calibrate(request(obj[:3], img[:3], flags))
	require.NoError(t, err)

	assert.Equal(t, [5]float64{}, res.Model.Dist)
	assert.InDelta(t, res.Model.K.Fx, res.Model.K.Fy, 1e-9)
	for _, i := range []int{camera.Fy, camera.K1, camera.K2, camera.P1, camera.P2, camera.K3} {
		assert.Zero(t, res.StdDev[i], camera.IntrinsicNames[i])
	}

	flags = FixPrincipalPoint | FixFocalLength
	res, err = (&LM{}).Calibrate(request(obj[:3], img[:3], flags))
	require.NoError(t, err)
	assert.Equal(t, 1000.0, res.Model.K.Fx)
	assert.Equal(t, 639.5, res.Model.K.Cx)
	assert.Zero(t, res.StdDev[camera.Fx])
	assert.Zero(t, res.StdDev[camera.Cy])
}

func TestCalibrateRejectsBadInput(t *testing.T) {
	obj, img := views(truth())

	_, err := (&LM{}).Calibrate(request(nil, nil, 0))
	assert.ErrorIs(t, err, ErrTooFewPoints)

	_, err = (&LM{}).Calibrate(request(obj[:2], img[:1], 0))
	assert.Error(t, err)

	short := [][]r3.Vector{obj[0][:3]}
	shortImg := [][]geometry.Point2D{img[0][:3]}
	_, err = (&LM{}).Calibrate(request(short, shortImg, 0))
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestFlagsString(t *testing.T) {
	f := FixAspectRatio | FixK1 | UseLU
	assert.Equal(t, []string{"fix_aspect_ratio", "fix_k1", "use_lu"}, f.Names())
	assert.Equal(t, "+fix_aspect_ratio+fix_k1+use_lu (131106)", f.String())
	assert.Contains(t, Flags(1<<20).String(), "unknown=1048576")
	assert.True(t, f.Has(FixK1|UseLU))
	assert.False(t, f.Has(FixK2))
}

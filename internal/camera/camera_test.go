package camera

import (
	"image"
	"math"
	"testing"

	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel() Model {
	return Model{
		K:    Matrix{Fx: 900, Fy: 910, Cx: 640, Cy: 360},
		Dist: [5]float64{-0.2, 0.05, 0.001, -0.0005, 0.01},
	}
}

func boardPoints(cols, rows int, sq float64) []r3.Vector {
	var pts []r3.Vector
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			pts = append(pts, r3.Vector{X: float64(c+1) * sq, Y: float64(r+1) * sq})
		}
	}
	return pts
}

func TestRodriguesRoundTrip(t *testing.T) {
	tests := []r3.Vector{
		{X: 0.1, Y: -0.2, Z: 0.3},
		{X: math.Pi, Y: 0, Z: 0},
		{X: 0, Y: math.Pi / 2, Z: 0},
		{X: 1.2, Y: 0.4, Z: -2.0},
		{},
	}
	for _, r := range tests {
		R := Rodrigues(r)
		assert.InDelta(t, 1.0, R.Det(), 1e-12)
		got := RotationVector(R)
		assert.InDelta(t, r.X, got.X, 1e-9, "rvec %v", r)
		assert.InDelta(t, r.Y, got.Y, 1e-9, "rvec %v", r)
		assert.InDelta(t, r.Z, got.Z, 1e-9, "rvec %v", r)
	}
}

func TestCompose(t *testing.T) {
	r := Compose(r3.Vector{X: math.Pi}, r3.Vector{Z: -math.Pi / 2})
	want := RotX(math.Pi).Mul(RotZ(-math.Pi / 2))
	got := Rodrigues(r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, want[i][j], got[i][j], 1e-9)
		}
	}
}

func TestEulerAngles(t *testing.T) {
	deg := math.Pi / 180

	e := EulerAngles(RotX(30 * deg))
	assert.InDelta(t, 30, e.X, 1e-6)
	assert.InDelta(t, 0, e.Y, 1e-6)
	assert.InDelta(t, 0, e.Z, 1e-6)

	e = EulerAngles(RotY(-25 * deg))
	assert.InDelta(t, -25, e.Y, 1e-6)

	e = EulerAngles(RotZ(40 * deg))
	assert.InDelta(t, 40, e.Z, 1e-6)

	e = EulerAngles(RotX(math.Pi))
	assert.InDelta(t, 180, e.X, 1e-6)

	R := RotZ(-15 * deg).Mul(RotY(10 * deg)).Mul(RotX(20 * deg))
	e = EulerAngles(R)
	assert.InDelta(t, 20, e.X, 1e-6)
	assert.InDelta(t, 10, e.Y, 1e-6)
	assert.InDelta(t, -15, e.Z, 1e-6)
}

func TestProjectUndistortRoundTrip(t *testing.T) {
	m := testModel()
	for _, p := range []geometry.Point2D{{X: 640, Y: 360}, {X: 100, Y: 80}, {X: 1200, Y: 650}, {X: 900, Y: 200}} {
		x, y := m.UndistortPoint(p)
		back := m.ProjectCamera(r3.Vector{X: x, Y: y, Z: 1})
		assert.InDelta(t, p.X, back.X, 1e-6)
		assert.InDelta(t, p.Y, back.Y, 1e-6)
	}
}

func TestUnproject(t *testing.T) {
	m := testModel()
	p := geometry.Point2D{X: 300, Y: 500}
	v := m.Unproject(p, 2500)
	assert.Equal(t, 2500.0, v.Z)
	back := m.ProjectCamera(v)
	assert.InDelta(t, p.X, back.X, 1e-6)
	assert.InDelta(t, p.Y, back.Y, 1e-6)
}

func TestDefaultMatrix(t *testing.T) {
	k := DefaultMatrix(1000, image.Pt(1280, 720))
	assert.Equal(t, Matrix{Fx: 1000, Fy: 1000, Cx: 639.5, Cy: 359.5}, k)

	m := ModelFromIntrinsics(testModel().Intrinsics())
	assert.Equal(t, testModel(), m)
}

func TestFindHomographyExact(t *testing.T) {
	want := Mat3{{1.2, 0.1, 30}, {-0.05, 0.9, 12}, {0.0001, 0.0002, 1}}
	var src, dst []geometry.Point2D
	for _, p := range boardPoints(8, 5, 50) {
		s := geometry.Point2D{X: p.X, Y: p.Y}
		src = append(src, s)
		dst = append(dst, ApplyHomography(want, s))
	}
	h, err := FindHomography(src, dst)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, want[i][j], h[i][j], 1e-6*math.Max(1, math.Abs(want[i][j])))
		}
	}

	_, err = FindHomography(src[:3], dst[:3])
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestSolvePlanarPose(t *testing.T) {
	m := testModel()
	obj := boardPoints(8, 5, 280)
	rvec := r3.Vector{X: math.Pi + 0.2, Y: 0.3, Z: 0.1}
	tvec := r3.Vector{X: -1200, Y: -700, Z: 4000}
	img := m.ProjectPoints(obj, rvec, tvec)

	gotR, gotT, err := m.SolvePlanarPose(obj, img)
	require.NoError(t, err)

	reproj := m.ProjectPoints(obj, gotR, gotT)
	for i := range img {
		assert.InDelta(t, img[i].X, reproj[i].X, 1e-3)
		assert.InDelta(t, img[i].Y, reproj[i].Y, 1e-3)
	}
	assert.InDelta(t, tvec.Z, gotT.Z, 1e-3)
}

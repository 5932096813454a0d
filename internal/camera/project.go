package camera

import (
	"math"

	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
)

// undistortIterations bounds the fixed-point undistortion loop.
const undistortIterations = 20

// Distort applies the radial and tangential terms to a normalized image point.
func (m Model) Distort(x, y float64) (float64, float64) {
	k1, k2, p1, p2, k3 := m.Dist[0], m.Dist[1], m.Dist[2], m.Dist[3], m.Dist[4]
	r2 := x*x + y*y
	radial := 1 + r2*(k1+r2*(k2+r2*k3))
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}

// ProjectCamera projects a point given in camera coordinates to pixels.
func (m Model) ProjectCamera(p r3.Vector) geometry.Point2D {
	iz := 1.0
	if p.Z != 0 {
		iz = 1 / p.Z
	}
	xd, yd := m.Distort(p.X*iz, p.Y*iz)
	return geometry.Point2D{X: m.K.Fx*xd + m.K.Cx, Y: m.K.Fy*yd + m.K.Cy}
}

// ProjectPoints transforms object points by the pose (rvec, tvec) and projects
// them to pixels.
func (m Model) ProjectPoints(obj []r3.Vector, rvec, tvec r3.Vector) []geometry.Point2D {
	R := Rodrigues(rvec)
	out := make([]geometry.Point2D, len(obj))
	for i, p := range obj {
		out[i] = m.ProjectCamera(R.MulVec(p).Add(tvec))
	}
	return out
}

// UndistortPoint maps a distorted pixel to normalized, undistorted image
// coordinates by fixed-point iteration on the distortion model.
func (m Model) UndistortPoint(p geometry.Point2D) (float64, float64) {
	x0 := (p.X - m.K.Cx) / m.K.Fx
	y0 := (p.Y - m.K.Cy) / m.K.Fy
	if m.Dist == [5]float64{} {
		return x0, y0
	}

	k1, k2, p1, p2, k3 := m.Dist[0], m.Dist[1], m.Dist[2], m.Dist[3], m.Dist[4]
	x, y := x0, y0
	for i := 0; i < undistortIterations; i++ {
		r2 := x*x + y*y
		icdist := 1 / (1 + r2*(k1+r2*(k2+r2*k3)))
		if icdist < 0 {
			// outside the invertible region of the model
			return x0, y0
		}
		dx := 2*p1*x*y + p2*(r2+2*x*x)
		dy := p1*(r2+2*y*y) + 2*p2*x*y
		nx := (x0 - dx) * icdist
		ny := (y0 - dy) * icdist
		if math.Abs(nx-x) < dblEpsilon && math.Abs(ny-y) < dblEpsilon {
			return nx, ny
		}
		x, y = nx, ny
	}
	return x, y
}

// UndistortPoints maps distorted pixels to normalized image coordinates.
func (m Model) UndistortPoints(pts []geometry.Point2D) []geometry.Point2D {
	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		x, y := m.UndistortPoint(p)
		out[i] = geometry.Point2D{X: x, Y: y}
	}
	return out
}

// Unproject returns the camera-space point at depth z that projects to pixel p.
func (m Model) Unproject(p geometry.Point2D, z float64) r3.Vector {
	x, y := m.UndistortPoint(p)
	return r3.Vector{X: x * z, Y: y * z, Z: z}
}

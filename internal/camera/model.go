// Package camera implements the pinhole camera model with five-term
// Brown-Conrady distortion used throughout calibration: projection,
// undistortion, unprojection, rotation-vector conversion and planar
// homography pose recovery.
package camera

import (
	"fmt"
	"image"
)

// Intrinsic parameter indices, in the order the calibration statistics use.
const (
	Fx = iota
	Fy
	Cx
	Cy
	K1
	K2
	P1
	P2
	K3
	NumIntrinsics
)

// IntrinsicNames labels the intrinsic parameters.
var IntrinsicNames = [NumIntrinsics]string{"fx", "fy", "cx", "cy", "k1", "k2", "p1", "p2", "k3"}

// Matrix is the camera matrix. Skew is always zero.
type Matrix struct {
	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
}

// Mat3 returns the full 3x3 camera matrix.
func (k Matrix) Mat3() Mat3 {
	return Mat3{{k.Fx, 0, k.Cx}, {0, k.Fy, k.Cy}, {0, 0, 1}}
}

// Rows returns the matrix as nested rows, the layout written to reports.
func (k Matrix) Rows() [][]float64 {
	m := k.Mat3()
	return [][]float64{m[0][:], m[1][:], m[2][:]}
}

// Model is a camera matrix plus distortion coefficients k1, k2, p1, p2, k3.
type Model struct {
	K    Matrix     `json:"camera_matrix"`
	Dist [5]float64 `json:"distortion_coefficients"`
}

// DefaultMatrix returns a matrix with the given focal length and the principal
// point at the image center.
func DefaultMatrix(focal float64, size image.Point) Matrix {
	return Matrix{
		Fx: focal,
		Fy: focal,
		Cx: float64(size.X-1) * 0.5,
		Cy: float64(size.Y-1) * 0.5,
	}
}

// NewModel returns a distortion-free model with a default matrix.
func NewModel(focal float64, size image.Point) Model {
	return Model{K: DefaultMatrix(focal, size)}
}

// Intrinsics flattens the model into fx, fy, cx, cy, k1, k2, p1, p2, k3.
func (m Model) Intrinsics() [NumIntrinsics]float64 {
	return [NumIntrinsics]float64{
		m.K.Fx, m.K.Fy, m.K.Cx, m.K.Cy,
		m.Dist[0], m.Dist[1], m.Dist[2], m.Dist[3], m.Dist[4],
	}
}

// ModelFromIntrinsics is the inverse of Intrinsics.
func ModelFromIntrinsics(v [NumIntrinsics]float64) Model {
	return Model{
		K:    Matrix{Fx: v[Fx], Fy: v[Fy], Cx: v[Cx], Cy: v[Cy]},
		Dist: [5]float64{v[K1], v[K2], v[P1], v[P2], v[K3]},
	}
}

// Undistorted returns the model with all distortion terms zeroed.
func (m Model) Undistorted() Model {
	return Model{K: m.K}
}

func (m Model) String() string {
	return fmt.Sprintf("fx=%.2f fy=%.2f cx=%.2f cy=%.2f dist=[%.4f %.4f %.4f %.4f %.4f]",
		m.K.Fx, m.K.Fy, m.K.Cx, m.K.Cy, m.Dist[0], m.Dist[1], m.Dist[2], m.Dist[3], m.Dist[4])
}

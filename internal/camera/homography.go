package camera

import (
	"errors"
	"fmt"
	"math"

	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerate is returned when a homography or pose cannot be recovered
// from the given correspondences.
var ErrDegenerate = errors.New("degenerate point configuration")

// FindHomography estimates H with dst ~ H * src by the normalized direct
// linear transform. At least four correspondences are required.
func FindHomography(src, dst []geometry.Point2D) (Mat3, error) {
	if len(src) != len(dst) {
		return Mat3{}, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return Mat3{}, fmt.Errorf("need at least 4 correspondences, got %d: %w", len(src), ErrDegenerate)
	}

	ts, ok := normalization(src)
	if !ok {
		return Mat3{}, ErrDegenerate
	}
	td, ok := normalization(dst)
	if !ok {
		return Mat3{}, ErrDegenerate
	}

	data := make([]float64, 0, 18*len(src))
	for i := range src {
		s := apply(ts, src[i])
		d := apply(td, dst[i])
		X, Y, x, y := s.X, s.Y, d.X, d.Y
		data = append(data, -X, -Y, -1, 0, 0, 0, x*X, x*Y, x)
		data = append(data, 0, 0, 0, -X, -Y, -1, y*X, y*Y, y)
	}
	A := mat.NewDense(2*len(src), 9, data)

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFull); !ok {
		return Mat3{}, fmt.Errorf("homography SVD failed: %w", ErrDegenerate)
	}
	var v mat.Dense
	svd.VTo(&v)

	// V is returned untransposed, the null vector is its last column.
	var hn Mat3
	for i := 0; i < 9; i++ {
		hn[i/3][i%3] = v.At(i, 8)
	}

	tdInv, ok := td.Inverse()
	if !ok {
		return Mat3{}, ErrDegenerate
	}
	H := tdInv.Mul(hn).Mul(ts)
	if math.Abs(H[2][2]) < dblEpsilon {
		return Mat3{}, fmt.Errorf("homography at infinity: %w", ErrDegenerate)
	}
	scale := 1 / H[2][2]
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			H[i][j] *= scale
		}
	}
	return H, nil
}

// normalization returns the similarity moving the centroid to the origin with
// mean distance sqrt(2).
func normalization(pts []geometry.Point2D) (Mat3, bool) {
	c := geometry.Centroid(pts)
	var mean float64
	for _, p := range pts {
		mean += p.Distance(c)
	}
	mean /= float64(len(pts))
	if mean < dblEpsilon {
		return Mat3{}, false
	}
	s := math.Sqrt2 / mean
	return Mat3{{s, 0, -s * c.X}, {0, s, -s * c.Y}, {0, 0, 1}}, true
}

func apply(h Mat3, p geometry.Point2D) geometry.Point2D {
	v := h.MulVec(r3.Vector{X: p.X, Y: p.Y, Z: 1})
	return geometry.Point2D{X: v.X / v.Z, Y: v.Y / v.Z}
}

// ApplyHomography maps a point through H.
func ApplyHomography(h Mat3, p geometry.Point2D) geometry.Point2D {
	return apply(h, p)
}

// PoseFromHomography decomposes a plane-to-image homography into the pose of
// the Z=0 plane in front of the camera with matrix k.
func PoseFromHomography(h Mat3, k Matrix) (rvec, tvec r3.Vector, err error) {
	kInv, ok := k.Mat3().Inverse()
	if !ok {
		return rvec, tvec, fmt.Errorf("singular camera matrix: %w", ErrDegenerate)
	}
	a := kInv.Mul(h)
	h1, h2, h3 := a.Col(0), a.Col(1), a.Col(2)

	norm := (h1.Norm() + h2.Norm()) / 2
	if norm < dblEpsilon {
		return rvec, tvec, ErrDegenerate
	}
	lambda := 1 / norm
	if h3.Z < 0 {
		lambda = -lambda
	}
	r1 := h1.Mul(lambda)
	r2 := h2.Mul(lambda)
	tvec = h3.Mul(lambda)
	r3v := r1.Cross(r2)

	R := Mat3{
		{r1.X, r2.X, r3v.X},
		{r1.Y, r2.Y, r3v.Y},
		{r1.Z, r2.Z, r3v.Z},
	}
	return RotationVector(R), tvec, nil
}

// SolvePlanarPose estimates the pose of planar object points (Z=0) from their
// distorted image projections.
func (m Model) SolvePlanarPose(obj []r3.Vector, img []geometry.Point2D) (rvec, tvec r3.Vector, err error) {
	if len(obj) != len(img) {
		return rvec, tvec, fmt.Errorf("point count mismatch: %d vs %d", len(obj), len(img))
	}
	src := make([]geometry.Point2D, len(obj))
	for i, p := range obj {
		src[i] = geometry.Point2D{X: p.X, Y: p.Y}
	}
	h, err := FindHomography(src, m.UndistortPoints(img))
	if err != nil {
		return rvec, tvec, err
	}
	return PoseFromHomography(h, Matrix{Fx: 1, Fy: 1})
}

package camera

import (
	"math"

	"github.com/golang/geo/r3"
)

const dblEpsilon = 2.220446049250313e-16

// Rodrigues converts a rotation vector (axis times angle) to a rotation matrix.
func Rodrigues(r r3.Vector) Mat3 {
	theta := r.Norm()
	if theta < dblEpsilon {
		return Identity3()
	}
	k := r.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	c1 := 1 - c
	return Mat3{
		{c + c1*k.X*k.X, c1*k.X*k.Y - s*k.Z, c1*k.X*k.Z + s*k.Y},
		{c1*k.Y*k.X + s*k.Z, c + c1*k.Y*k.Y, c1*k.Y*k.Z - s*k.X},
		{c1*k.Z*k.X - s*k.Y, c1*k.Z*k.Y + s*k.X, c + c1*k.Z*k.Z},
	}
}

// RotationVector converts a rotation matrix back to a rotation vector. The
// input is first projected onto the closest orthonormal matrix.
func RotationVector(m Mat3) r3.Vector {
	R, ok := m.Orthonormalize()
	if !ok {
		R = m
	}

	rx := R[2][1] - R[1][2]
	ry := R[0][2] - R[2][0]
	rz := R[1][0] - R[0][1]

	s := math.Sqrt((rx*rx + ry*ry + rz*rz) * 0.25)
	c := (R[0][0] + R[1][1] + R[2][2] - 1) * 0.5
	c = math.Max(-1, math.Min(1, c))
	theta := math.Acos(c)

	if s < 1e-5 {
		if c > 0 {
			return r3.Vector{}
		}
		// theta is close to pi, recover the axis from the diagonal
		rx = math.Sqrt(math.Max((R[0][0]+1)*0.5, 0))
		ry = math.Sqrt(math.Max((R[1][1]+1)*0.5, 0)) * signNonZero(R[0][1])
		rz = math.Sqrt(math.Max((R[2][2]+1)*0.5, 0)) * signNonZero(R[0][2])
		if math.Abs(rx) < math.Abs(ry) && math.Abs(rx) < math.Abs(rz) && (R[1][2] > 0) != (ry*rz > 0) {
			rz = -rz
		}
		axis := r3.Vector{X: rx, Y: ry, Z: rz}
		return axis.Mul(theta / axis.Norm())
	}

	vth := theta / (2 * s)
	return r3.Vector{X: rx * vth, Y: ry * vth, Z: rz * vth}
}

func signNonZero(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// Compose returns the rotation vector of Rodrigues(a) * Rodrigues(b).
func Compose(a, b r3.Vector) r3.Vector {
	return RotationVector(Rodrigues(a).Mul(Rodrigues(b)))
}

// RotX returns a rotation of angle radians about the x axis.
func RotX(angle float64) Mat3 {
	return Rodrigues(r3.Vector{X: angle})
}

// RotY returns a rotation of angle radians about the y axis.
func RotY(angle float64) Mat3 {
	return Rodrigues(r3.Vector{Y: angle})
}

// RotZ returns a rotation of angle radians about the z axis.
func RotZ(angle float64) Mat3 {
	return Rodrigues(r3.Vector{Z: angle})
}

// EulerAngles decomposes a rotation matrix by RQ decomposition with Givens
// rotations and returns the x, y and z angles in degrees.
func EulerAngles(m Mat3) r3.Vector {
	givens := func(s, c float64) (float64, float64) {
		z := 1 / math.Sqrt(c*c+s*s+dblEpsilon)
		return s * z, c * z
	}

	s, c := givens(m[2][1], m[2][2])
	qx := Mat3{{1, 0, 0}, {0, c, s}, {0, -s, c}}
	r := m.Mul(qx)
	r[2][1] = 0

	s, c = givens(-r[2][0], r[2][2])
	qy := Mat3{{c, 0, -s}, {0, 1, 0}, {s, 0, c}}
	n := r.Mul(qy)
	n[2][0] = 0

	s, c = givens(n[1][0], n[1][1])
	qz := Mat3{{c, s, 0}, {-s, c, 0}, {0, 0, 1}}
	r = n.Mul(qz)
	r[1][0] = 0

	// Keep the first two diagonal entries of the triangular factor positive.
	if r[0][0] < 0 {
		if r[1][1] < 0 {
			qz[0][0] *= -1
			qz[0][1] *= -1
			qz[1][0] *= -1
			qz[1][1] *= -1
		} else {
			qz = qz.T()
			qy[0][0] *= -1
			qy[0][2] *= -1
			qy[2][0] *= -1
			qy[2][2] *= -1
		}
	} else if r[1][1] < 0 {
		qz = qz.T()
		qy = qy.T()
		qx[1][1] *= -1
		qx[1][2] *= -1
		qx[2][1] *= -1
		qx[2][2] *= -1
	}

	const deg = 180 / math.Pi
	return r3.Vector{
		X: acos(qx[1][1]) * signNonZero(qx[1][2]) * deg,
		Y: acos(qy[0][0]) * signNonZero(qy[2][0]) * deg,
		Z: acos(qz[0][0]) * signNonZero(qz[0][1]) * deg,
	}
}

func acos(v float64) float64 {
	return math.Acos(math.Max(-1, math.Min(1, v)))
}

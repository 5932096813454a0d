package pose

import (
	"image"
	"math"

	"pose-calib/internal/camera"
	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
)

// OrbitalPose places the board center on the optical axis at z board lengths
// (board.Z) and rotates it about its own center by rx (after a half turn
// about x so the board faces the camera), ry and the roll rz.
func OrbitalPose(board r3.Vector, rx, ry, z, rz float64) (rvec, tvec r3.Vector) {
	R := camera.RotY(ry).Mul(camera.RotX(math.Pi + rx)).Mul(camera.RotZ(rz))

	c := r3.Vector{X: -0.5 * board.X, Y: -0.5 * board.Y}
	toAxis := r3.Vector{X: -0.5 * board.X, Y: -0.5 * board.Y, Z: z * board.Z}
	tvec = R.MulVec(c).Sub(c).Add(toAxis)
	return camera.RotationVector(R), tvec
}

// PlanarFullscreen returns a fronto-parallel pose that makes the board as
// large as the image allows, centered, with the board origin at bottom left.
func PlanarFullscreen(board r3.Vector, model camera.Model, size image.Point) (rvec, tvec r3.Vector) {
	kb := r3.Vector{X: model.K.Fx * board.X, Y: model.K.Fy * board.Y}
	z := math.Min(kb.X/float64(size.X), kb.Y/float64(size.Y))
	pb := kb.Mul(1 / z)

	p := geometry.Point2D{
		X: float64(size.X)/2 - pb.X/2,
		Y: float64(size.Y)/2 + pb.Y/2,
	}
	return r3.Vector{X: math.Pi}, model.Unproject(p, z)
}

// PoseFromBounds turns a target rectangle in image pixels into a fronto-parallel
// board pose covering it. The rectangle is enlarged to at least minWidth,
// given the board's aspect ratio and moved inside the image. The adjusted
// rectangle is returned with the pose.
func PoseFromBounds(board r3.Vector, rect geometry.RectInt, model camera.Model, size image.Point, minWidth float64) (rvec, tvec r3.Vector, out geometry.RectInt) {
	ext := [2]float64{board.X, board.Y}
	w, h := rect.Width, rect.Height
	minW := int(minWidth)

	rot90 := h > w && ext[0] > ext[1]
	if rot90 {
		ext[0], ext[1] = ext[1], ext[0]
		if h < minW {
			scale := float64(minW) / float64(h)
			h = minW
			w = int(float64(w) * scale)
		}
	} else if w < minW {
		scale := float64(minW) / float64(w)
		w = minW
		h = int(float64(h) * scale)
	}

	// match the board aspect ratio, keeping the top left corner
	aspect := ext[0] / ext[1]
	if !rot90 {
		h = int(float64(w) / aspect)
	} else {
		w = int(float64(h) * aspect)
	}

	// Shrink oversized targets. Both branches derive the new width from the
	// previous height, not the previous width.
	if w > size.X {
		a := float64(size.X) / float64(w)
		w = int(float64(h) * a)
		h = int(float64(w) * a)
	}
	if h > size.Y {
		a := float64(size.Y) / float64(h)
		w = int(float64(h) * a)
		h = int(float64(w) * a)
	}

	rvec = r3.Vector{X: math.Pi}
	if rot90 {
		// board origin moves from bottom left to top left
		rvec = camera.Compose(rvec, r3.Vector{Z: -math.Pi / 2})
	}

	z := model.K.Fx * ext[0] / float64(w)

	x := clamp(rect.X, 0, size.X-w)
	y := clamp(rect.Y, 0, size.Y-h)
	ref := y
	if !rot90 {
		ref = y + h
	}
	tvec = model.Unproject(geometry.Point2D{X: float64(x), Y: float64(ref)}, z)

	return rvec, tvec, geometry.RectInt{X: x, Y: y, Width: w, Height: h}
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

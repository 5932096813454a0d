package guidance

import (
	"image"
	"image/color"
	"math"

	"pose-calib/internal/camera"
	"pose-calib/pkg/colorutil"
	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
	"gocv.io/x/gocv"
)

// edgeSteps subdivides every square edge so distorted outlines stay curved.
const edgeSteps = 4

// BoardPreview renders the calibration board as seen by a camera model at a
// given pose.
type BoardPreview struct {
	squares image.Point
	sq      float64
	size    image.Point
}

// NewBoardPreview creates a renderer for a board of squares x squares.Y
// squares of side sq into images of the given size.
func NewBoardPreview(squares image.Point, sq float64, size image.Point) *BoardPreview {
	return &BoardPreview{squares: squares, sq: sq, size: size}
}

// Render draws the board in color on a black 3-channel image. The caller
// owns the returned Mat.
func (b *BoardPreview) Render(model camera.Model, rvec, tvec r3.Vector) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), b.size.Y, b.size.X, gocv.MatTypeCV8UC3)
	if !b.inFront(rvec, tvec) {
		return img
	}

	b.fill(&img, model, rvec, tvec, [][]r3.Vector{b.outline()}, colorutil.TargetLight)

	var dark [][]r3.Vector
	for row := 0; row < b.squares.Y; row++ {
		for col := 0; col < b.squares.X; col++ {
			if (row+col)%2 == 0 {
				dark = append(dark, b.square(col, row))
			}
		}
	}
	b.fill(&img, model, rvec, tvec, dark, colorutil.TargetDark)
	return img
}

// Silhouette draws the board area as 255 on a black single-channel image.
// The caller owns the returned Mat.
func (b *BoardPreview) Silhouette(model camera.Model, rvec, tvec r3.Vector) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), b.size.Y, b.size.X, gocv.MatTypeCV8U)
	if b.inFront(rvec, tvec) {
		b.fill(&img, model, rvec, tvec, [][]r3.Vector{b.outline()}, colorutil.White)
	}
	return img
}

// DrawAxis draws the board x, y and z axes in red, green and blue.
func (b *BoardPreview) DrawAxis(img *gocv.Mat, model camera.Model, rvec, tvec r3.Vector) {
	if !b.inFront(rvec, tvec) {
		return
	}
	l := 4 * b.sq
	pts := model.ProjectPoints([]r3.Vector{{}, {X: l}, {Y: l}, {Z: l}}, rvec, tvec)
	o := b.clip(pts[0])
	for i := 0; i < 3; i++ {
		gocv.Line(img, o, b.clip(pts[i+1]), colorutil.AxisColors[i], 3)
	}
}

// inFront reports whether every board corner lies in front of the camera.
func (b *BoardPreview) inFront(rvec, tvec r3.Vector) bool {
	R := camera.Rodrigues(rvec)
	w := float64(b.squares.X) * b.sq
	h := float64(b.squares.Y) * b.sq
	for _, p := range []r3.Vector{{}, {X: w}, {X: w, Y: h}, {Y: h}} {
		if R.MulVec(p).Add(tvec).Z <= 0 {
			return false
		}
	}
	return true
}

// outline returns the board border, counter-clockwise in board coordinates.
func (b *BoardPreview) outline() []r3.Vector {
	w := float64(b.squares.X) * b.sq
	h := float64(b.squares.Y) * b.sq
	corners := []r3.Vector{{}, {X: w}, {X: w, Y: h}, {Y: h}}
	steps := []int{b.squares.X, b.squares.Y, b.squares.X, b.squares.Y}

	var pts []r3.Vector
	for i, c := range corners {
		next := corners[(i+1)%4]
		pts = append(pts, subdivide(c, next, steps[i]*edgeSteps)...)
	}
	return pts
}

// square returns the outline of one board square.
func (b *BoardPreview) square(col, row int) []r3.Vector {
	x0, y0 := float64(col)*b.sq, float64(row)*b.sq
	x1, y1 := x0+b.sq, y0+b.sq
	corners := []r3.Vector{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}

	var pts []r3.Vector
	for i, c := range corners {
		pts = append(pts, subdivide(c, corners[(i+1)%4], edgeSteps)...)
	}
	return pts
}

// subdivide returns n points from a (inclusive) toward b (exclusive).
func subdivide(a, b r3.Vector, n int) []r3.Vector {
	out := make([]r3.Vector, n)
	d := b.Sub(a).Mul(1 / float64(n))
	for i := range out {
		out[i] = a.Add(d.Mul(float64(i)))
	}
	return out
}

func (b *BoardPreview) fill(img *gocv.Mat, model camera.Model, rvec, tvec r3.Vector, polys [][]r3.Vector, c color.RGBA) {
	contours := make([][]image.Point, 0, len(polys))
	for _, poly := range polys {
		proj := model.ProjectPoints(poly, rvec, tvec)
		pts := make([]image.Point, len(proj))
		for i, p := range proj {
			pts[i] = b.clip(p)
		}
		contours = append(contours, pts)
	}

	pv := gocv.NewPointsVectorFromPoints(contours)
	defer pv.Close()
	gocv.FillPoly(img, pv, c)
}

// clip keeps projected points within a few image sizes of the frame so far
// off-screen vertices do not overflow pixel coordinates.
func (b *BoardPreview) clip(p geometry.Point2D) image.Point {
	lim := 4 * float64(max(b.size.X, b.size.Y))
	x := math.Max(-lim, math.Min(lim, p.X))
	y := math.Max(-lim, math.Min(lim, p.Y))
	if math.IsNaN(x) || math.IsNaN(y) {
		return image.Point{}
	}
	return image.Pt(int(math.Round(x)), int(math.Round(y)))
}

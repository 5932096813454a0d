package pose

import (
	"image"

	"pose-calib/internal/camera"
	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
)

// Field is a sparse displacement map: Pts are ideal pixel positions sampled
// every Step pixels and DPts the positions the lens model moves them to.
// Both are row-major with Rows x Cols entries.
type Field struct {
	Rows, Cols, Step int
	Pts              []geometry.Point2D
	DPts             []geometry.Point2D
}

// ComputeDistortion samples the displacement of model over an image of the
// given size. Each sample is undistorted with the camera matrix alone, lifted
// to the z=1 plane and projected again with the full model.
func ComputeDistortion(model camera.Model, size image.Point, step int) Field {
	rows := size.Y / step
	cols := size.X / step
	f := Field{
		Rows: rows,
		Cols: cols,
		Step: step,
		Pts:  make([]geometry.Point2D, 0, rows*cols),
		DPts: make([]geometry.Point2D, 0, rows*cols),
	}

	ideal := model.Undistorted()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			p := geometry.Point2D{X: float64(c * step), Y: float64(r * step)}
			x, y := ideal.UndistortPoint(p)
			f.Pts = append(f.Pts, p)
			f.DPts = append(f.DPts, model.ProjectCamera(r3.Vector{X: x, Y: y, Z: 1}))
		}
	}
	return f
}

// Magnitudes returns |pts - dpts| per cell.
func (f Field) Magnitudes() []float64 {
	out := make([]float64, len(f.Pts))
	for i := range f.Pts {
		out[i] = f.Pts[i].Distance(f.DPts[i])
	}
	return out
}

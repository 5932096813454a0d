package guidance

import (
	"image"

	"pose-calib/internal/camera"
	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
)

// Tracker supplies board observations for the current frame.
type Tracker interface {
	ImageSize() image.Point
	// BoardSize is the number of squares per axis.
	BoardSize() image.Point
	Observation() Observation
	SetIntrinsics(m camera.Model)
}

// Observation is the detector state for one frame. PoseValid tells whether
// Rvec and Tvec hold an estimate of the board pose. MeanFlow is the mean
// corner motion since the previous frame in pixels.
type Observation struct {
	ObjectPoints []r3.Vector
	ImagePoints  []geometry.Point2D
	IDs          []int
	PoseValid    bool
	Rvec, Tvec   r3.Vector
	MeanFlow     float64
}

// NumPoints returns the number of detected corners.
func (o Observation) NumPoints() int {
	return len(o.ImagePoints)
}

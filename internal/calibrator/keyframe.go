package calibrator

import (
	"fmt"
	"image"

	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
)

// Keyframe is one accepted board view. It is never modified after creation.
type Keyframe struct {
	ImageSize    image.Point
	ObjectPoints []r3.Vector
	ImagePoints  []geometry.Point2D
	IDs          []int
}

// NewKeyframe copies the correspondences of one view into a keyframe.
func NewKeyframe(size image.Point, obj []r3.Vector, img []geometry.Point2D, ids []int) (Keyframe, error) {
	if len(obj) != len(img) || len(img) != len(ids) {
		return Keyframe{}, fmt.Errorf("keyframe: %d object points, %d image points, %d ids", len(obj), len(img), len(ids))
	}
	return Keyframe{
		ImageSize:    size,
		ObjectPoints: append([]r3.Vector(nil), obj...),
		ImagePoints:  append([]geometry.Point2D(nil), img...),
		IDs:          append([]int(nil), ids...),
	}, nil
}

// Len returns the number of correspondences.
func (k Keyframe) Len() int {
	return len(k.ImagePoints)
}

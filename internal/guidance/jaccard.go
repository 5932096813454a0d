package guidance

import (
	"gocv.io/x/gocv"
)

// Jaccard returns the intersection over union of the non-zero pixels of two
// single-channel masks of equal size. Two empty masks give 0.
func Jaccard(a, b gocv.Mat) float64 {
	if a.Empty() || b.Empty() {
		return 0
	}

	ba := binary(a)
	defer ba.Close()
	bb := binary(b)
	defer bb.Close()

	na := gocv.CountNonZero(ba)
	nb := gocv.CountNonZero(bb)

	both := gocv.NewMat()
	defer both.Close()
	gocv.BitwiseAnd(ba, bb, &both)
	nab := gocv.CountNonZero(both)

	union := na + nb - nab
	if union == 0 {
		return 0
	}
	return float64(nab) / float64(union)
}

// binary maps every non-zero pixel of mask to 255.
func binary(mask gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	gocv.Threshold(mask, &out, 0, 255, gocv.ThresholdBinary)
	return out
}

// greenMask returns the green channel of a 3-channel board rendering, which is
// non-zero exactly where the board is. The caller owns the returned Mat.
func greenMask(img gocv.Mat) gocv.Mat {
	if img.Empty() || img.Channels() < 3 {
		return gocv.NewMat()
	}
	channels := gocv.Split(img)
	for i, c := range channels {
		if i != 1 {
			c.Close()
		}
	}
	return channels[1]
}

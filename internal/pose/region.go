package pose

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// RegionFinder searches a distortion field for the largest region of strong
// (or weak) distortion that is not yet covered by earlier targets.
type RegionFinder struct {
	// Step moves the relative threshold before every pass.
	Step float64
	// MaxOverlap is the largest covered fraction a region may have.
	MaxOverlap float64
}

// Find thresholds the normalized displacement magnitudes of field, starting
// one step away from threshold and moving toward more permissive values
// until a region is found or the threshold leaves [0, 1]. The returned
// rectangle is in field cells. The bool is false when no region qualifies.
func (rf RegionFinder) Find(field Field, mask *CoverageMask, preferLow bool, threshold float64) (image.Rectangle, bool) {
	if field.Rows == 0 || field.Cols == 0 {
		return image.Rectangle{}, false
	}

	mag := gocv.NewMatWithSize(field.Rows, field.Cols, gocv.MatTypeCV32F)
	defer mag.Close()
	for i, d := range field.Magnitudes() {
		mag.SetFloatAt(i/field.Cols, i%field.Cols, float32(d))
	}

	norm := gocv.NewMat()
	defer norm.Close()
	gocv.Normalize(mag, &norm, 0, 255, gocv.NormMinMax)

	diff := gocv.NewMat()
	defer diff.Close()
	norm.ConvertTo(&diff, gocv.MatTypeCV8U)

	dir := -1.0
	typ := gocv.ThresholdBinary
	if preferLow {
		dir = 1.0
		typ = gocv.ThresholdBinaryInv
	}

	bin := gocv.NewMat()
	defer bin.Close()

	const tol = 1e-9
	for i := 1; ; i++ {
		t := threshold + dir*float64(i)*rf.Step
		if t < -tol || t > 1+tol {
			break
		}
		gocv.Threshold(diff, &bin, float32(t*255), 255, typ)

		r, ok := rf.bounds(bin, mask)
		if !ok || r.Dx()*r.Dy() == 0 {
			continue
		}
		fmt.Printf("[Region] threshold %.2f: region (%d,%d) %dx%d, overlap %.2f\n",
			t, r.Min.X, r.Min.Y, r.Dx(), r.Dy(), mask.Overlap(r))
		return r, true
	}
	return image.Rectangle{}, false
}

type contourCandidate struct {
	area float64
	rect image.Rectangle
}

// bounds returns the bounding box of the largest external contour whose box
// is not mostly covered by mask.
func (rf RegionFinder) bounds(bin gocv.Mat, mask *CoverageMask) (image.Rectangle, bool) {
	contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	n := contours.Size()
	cands := make([]contourCandidate, 0, n)
	// reversed so that among equal areas the later contour is tried first
	for i := n - 1; i >= 0; i-- {
		pv := contours.At(i)
		cands = append(cands, contourCandidate{
			area: gocv.ContourArea(pv),
			rect: gocv.BoundingRect(pv),
		})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].area > cands[j].area })

	for _, c := range cands {
		if mask != nil && mask.Overlap(c.rect) > rf.MaxOverlap {
			continue
		}
		return c.rect, true
	}
	return image.Rectangle{}, false
}

// Package tracker detects a plain chessboard in camera frames and reports it
// as guidance observations.
package tracker

import (
	"fmt"
	"image"
	"math"

	"pose-calib/internal/camera"
	"pose-calib/internal/config"
	"pose-calib/internal/guidance"
	"pose-calib/pkg/colorutil"
	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
	"gocv.io/x/gocv"
)

// Chessboard tracks the interior corners of a chessboard between frames.
type Chessboard struct {
	size      image.Point
	board     image.Point
	sq        float64
	idMatch   float64
	model     camera.Model
	obs       guidance.Observation
	prev      map[int]geometry.Point2D
	lastCount int
}

// NewChessboard creates a tracker for the configured board. Corner ids are
// row-major indices over the (BoardWidth-1) x (BoardHeight-1) interior grid.
func NewChessboard(cfg config.Config) *Chessboard {
	return &Chessboard{
		size:    cfg.ImageSize(),
		board:   cfg.BoardSize(),
		sq:      cfg.SquareLen,
		idMatch: cfg.StillIDMatchMin,
		model:   camera.NewModel(cfg.InitialFocalLength, cfg.ImageSize()),
		obs:     guidance.Observation{MeanFlow: math.Inf(1)},
	}
}

// ImageSize returns the expected frame size.
func (c *Chessboard) ImageSize() image.Point { return c.size }

// BoardSize returns the number of squares per axis.
func (c *Chessboard) BoardSize() image.Point { return c.board }

// Observation returns the result of the last Process call.
func (c *Chessboard) Observation() guidance.Observation { return c.obs }

// SetIntrinsics sets the model used for pose estimation.
func (c *Chessboard) SetIntrinsics(m camera.Model) { c.model = m }

// Process detects the board in frame and updates the observation. It
// returns the number of corners found.
func (c *Chessboard) Process(frame gocv.Mat) (int, error) {
	if frame.Cols() != c.size.X || frame.Rows() != c.size.Y {
		return 0, fmt.Errorf("frame is %dx%d, expected %dx%d", frame.Cols(), frame.Rows(), c.size.X, c.size.Y)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() == 1 {
		frame.CopyTo(&gray)
	} else {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	}

	pattern := image.Pt(c.board.X-1, c.board.Y-1)
	corners := gocv.NewMat()
	defer corners.Close()

	found := gocv.FindChessboardCorners(gray, pattern, &corners,
		gocv.CalibCBAdaptiveThresh|gocv.CalibCBNormalizeImage|gocv.CalibCBFastCheck)
	if !found || corners.Rows() != pattern.X*pattern.Y {
		c.lost()
		return 0, nil
	}

	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, 30, 0.01)
	gocv.CornerSubPix(gray, &corners, image.Pt(5, 5), image.Pt(-1, -1), criteria)

	n := corners.Rows()
	obs := guidance.Observation{
		ObjectPoints: make([]r3.Vector, n),
		ImagePoints:  make([]geometry.Point2D, n),
		IDs:          make([]int, n),
	}
	for i := 0; i < n; i++ {
		v := corners.GetVecfAt(i, 0)
		obs.ImagePoints[i] = geometry.Point2D{X: float64(v[0]), Y: float64(v[1])}
		obs.ObjectPoints[i] = r3.Vector{
			X: float64(i%pattern.X+1) * c.sq,
			Y: float64(i/pattern.X+1) * c.sq,
		}
		obs.IDs[i] = i
	}

	rvec, tvec, err := c.model.SolvePlanarPose(obs.ObjectPoints, obs.ImagePoints)
	if err == nil && tvec.Z > 0 {
		obs.PoseValid = true
		obs.Rvec, obs.Tvec = rvec, tvec
	}

	obs.MeanFlow = c.meanFlow(obs)
	c.obs = obs
	c.prev = make(map[int]geometry.Point2D, n)
	for i, id := range obs.IDs {
		c.prev[id] = obs.ImagePoints[i]
	}

	if c.lastCount == 0 {
		fmt.Printf("[Tracker] Board found: %d corners\n", n)
	}
	c.lastCount = n
	return n, nil
}

func (c *Chessboard) lost() {
	if c.lastCount > 0 {
		fmt.Println("[Tracker] Board lost")
	}
	c.lastCount = 0
	c.obs = guidance.Observation{MeanFlow: math.Inf(1)}
	c.prev = nil
}

// meanFlow is the mean corner displacement since the previous frame, or
// +Inf when too few corner ids are shared.
func (c *Chessboard) meanFlow(obs guidance.Observation) float64 {
	if len(c.prev) == 0 {
		return math.Inf(1)
	}

	common := 0
	sum := 0.0
	for i, id := range obs.IDs {
		if p, ok := c.prev[id]; ok {
			common++
			sum += p.Distance(obs.ImagePoints[i])
		}
	}
	union := len(c.prev) + len(obs.IDs) - common
	if common == 0 || float64(common)/float64(union) < c.idMatch {
		return math.Inf(1)
	}
	return sum / float64(common)
}

// DrawCorners marks the detected corners on img.
func (c *Chessboard) DrawCorners(img *gocv.Mat) {
	for _, p := range c.obs.ImagePoints {
		gocv.Circle(img, p.ToImage(), 3, colorutil.Yellow, 1)
	}
}

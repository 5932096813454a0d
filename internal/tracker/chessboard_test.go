package tracker

import (
	"image"
	"math"
	"testing"

	"pose-calib/internal/config"
	"pose-calib/pkg/colorutil"
	"pose-calib/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const (
	testSquare = 60
	testOrigin = 100
)

// syntheticBoard draws a fronto-parallel board on a white frame.
func syntheticBoard(cfg config.Config, shift int) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), cfg.ImageHeight, cfg.ImageWidth, gocv.MatTypeCV8UC3)
	for row := 0; row < cfg.BoardHeight; row++ {
		for col := 0; col < cfg.BoardWidth; col++ {
			if (row+col)%2 != 0 {
				continue
			}
			x := testOrigin + shift + col*testSquare
			y := testOrigin + row*testSquare
			gocv.Rectangle(&img, image.Rect(x, y, x+testSquare, y+testSquare), colorutil.Black, -1)
		}
	}
	return img
}

func expectedCorners(cfg config.Config, shift int) []geometry.Point2D {
	var pts []geometry.Point2D
	for row := 1; row < cfg.BoardHeight; row++ {
		for col := 1; col < cfg.BoardWidth; col++ {
			pts = append(pts, geometry.Point2D{
				X: float64(testOrigin + shift + col*testSquare),
				Y: float64(testOrigin + row*testSquare),
			})
		}
	}
	return pts
}

func nearest(p geometry.Point2D, pts []geometry.Point2D) float64 {
	best := math.Inf(1)
	for _, q := range pts {
		best = math.Min(best, p.Distance(q))
	}
	return best
}

func TestChessboardDetectsSyntheticBoard(t *testing.T) {
	cfg := config.Default()
	tr := NewChessboard(cfg)

	frame := syntheticBoard(cfg, 0)
	defer frame.Close()

	n, err := tr.Process(frame)
	require.NoError(t, err)
	require.Equal(t, cfg.AllPoints(), n)

	obs := tr.Observation()
	require.Len(t, obs.ImagePoints, n)
	require.Len(t, obs.ObjectPoints, n)
	want := expectedCorners(cfg, 0)
	for _, p := range obs.ImagePoints {
		assert.Less(t, nearest(p, want), 1.5)
	}
	assert.True(t, obs.PoseValid)
	assert.Greater(t, obs.Tvec.Z, 0.0)
	assert.True(t, math.IsInf(obs.MeanFlow, 1), "no previous frame")

	// unchanged frame has no motion
	_, err = tr.Process(frame)
	require.NoError(t, err)
	assert.Less(t, tr.Observation().MeanFlow, 0.5)

	moved := syntheticBoard(cfg, 4)
	defer moved.Close()
	_, err = tr.Process(moved)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, tr.Observation().MeanFlow, 1.0)
}

func TestChessboardLostBoard(t *testing.T) {
	cfg := config.Default()
	tr := NewChessboard(cfg)

	blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), cfg.ImageHeight, cfg.ImageWidth, gocv.MatTypeCV8UC3)
	defer blank.Close()

	n, err := tr.Process(blank)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, tr.Observation().NumPoints())
	assert.False(t, tr.Observation().PoseValid)
	assert.True(t, math.IsInf(tr.Observation().MeanFlow, 1))
}

func TestChessboardRejectsWrongFrameSize(t *testing.T) {
	tr := NewChessboard(config.Default())
	small := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer small.Close()
	_, err := tr.Process(small)
	assert.Error(t, err)
}

func TestMeanFlowNeedsMatchingIDs(t *testing.T) {
	tr := NewChessboard(config.Default())
	tr.prev = map[int]geometry.Point2D{0: {X: 0}, 1: {X: 10}, 2: {X: 20}}

	obs := tr.obs
	obs.IDs = []int{0, 1, 2}
	obs.ImagePoints = []geometry.Point2D{{X: 1}, {X: 11}, {X: 21}}
	assert.InDelta(t, 1.0, tr.meanFlow(obs), 1e-12)

	obs.IDs = []int{0, 1, 5}
	assert.True(t, math.IsInf(tr.meanFlow(obs), 1))
}

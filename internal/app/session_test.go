package app

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"pose-calib/internal/camera"
	"pose-calib/internal/config"
	"pose-calib/internal/report"
	"pose-calib/internal/solver"
	"pose-calib/pkg/colorutil"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// stubPrimitive returns a fixed model and one pose per view.
type stubPrimitive struct {
	calls int
}

func (p *stubPrimitive) Calibrate(req solver.Request) (solver.Result, error) {
	p.calls++
	res := solver.Result{
		RMS:   0.3,
		Model: camera.Model{K: camera.Matrix{Fx: 900, Fy: 900, Cx: 640, Cy: 360}},
	}
	for i := range res.StdDev {
		res.StdDev[i] = 1
	}
	for range req.ObjectPoints {
		res.Rvecs = append(res.Rvecs, r3.Vector{X: 3.1})
		res.Tvecs = append(res.Tvecs, r3.Vector{Z: 500})
	}
	return res, nil
}

func boardFrame(cfg config.Config) gocv.Mat {
	const sq, origin = 60, 100
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), cfg.ImageHeight, cfg.ImageWidth, gocv.MatTypeCV8UC3)
	for row := 0; row < cfg.BoardHeight; row++ {
		for col := 0; col < cfg.BoardWidth; col++ {
			if (row+col)%2 != 0 {
				continue
			}
			x, y := origin+col*sq, origin+row*sq
			gocv.Rectangle(&img, image.Rect(x, y, x+sq, y+sq), colorutil.Black, -1)
		}
	}
	return img
}

func newSession(t *testing.T) (*Session, *stubPrimitive) {
	t.Helper()
	prim := &stubPrimitive{}
	s, err := NewSession(config.Default(), prim, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, prim
}

func TestNewSessionRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BoardWidth = 0
	_, err := NewSession(cfg, &stubPrimitive{}, t.TempDir())
	assert.Error(t, err)
}

func TestProcessFrameWithoutBoard(t *testing.T) {
	s, prim := newSession(t)
	cfg := s.Config()

	var captures int
	s.On(EventKeyframeCaptured, func(interface{}) { captures++ })

	frame := gocv.NewMatWithSize(cfg.ImageHeight, cfg.ImageWidth, gocv.MatTypeCV8UC3)
	defer frame.Close()

	captured, err := s.ProcessFrame(&frame, true)
	require.NoError(t, err)
	assert.False(t, captured)
	assert.Zero(t, captures)
	assert.Zero(t, prim.calls)
}

func TestProcessFrameForcedCapture(t *testing.T) {
	s, prim := newSession(t)

	var events []CaptureEvent
	s.On(EventKeyframeCaptured, func(data interface{}) {
		events = append(events, data.(CaptureEvent))
	})

	frame := boardFrame(s.Config())
	defer frame.Close()

	captured, err := s.ProcessFrame(&frame, true)
	require.NoError(t, err)
	require.True(t, captured)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Frame)
	assert.Equal(t, 1, events[0].Keyframes)
	assert.True(t, events[0].Forced)
	assert.Positive(t, prim.calls)
}

func TestProcessFrameRejectsWrongSize(t *testing.T) {
	s, _ := newSession(t)
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	_, err := s.ProcessFrame(&frame, false)
	assert.Error(t, err)
}

func TestRestartEmitsReset(t *testing.T) {
	s, _ := newSession(t)
	frame := boardFrame(s.Config())
	defer frame.Close()
	_, err := s.ProcessFrame(&frame, true)
	require.NoError(t, err)
	require.NotEmpty(t, s.Guidance.Calibrator().Keyframes())

	var got config.Config
	s.On(EventSessionReset, func(data interface{}) { got = data.(config.Config) })

	cfg := config.Default()
	cfg.MeanFlowMax = 3
	require.NoError(t, s.Restart(cfg))

	assert.Equal(t, 3.0, got.MeanFlowMax)
	assert.Equal(t, 3.0, s.Config().MeanFlowMax)
	assert.Empty(t, s.Guidance.Calibrator().Keyframes())
}

func TestRestartKeepsSessionOnInvalidConfig(t *testing.T) {
	s, _ := newSession(t)
	g := s.Guidance

	cfg := config.Default()
	cfg.ImageWidth = -1
	assert.Error(t, s.Restart(cfg))
	assert.Same(t, g, s.Guidance)
}

func TestSaveResults(t *testing.T) {
	s, _ := newSession(t)
	frame := boardFrame(s.Config())
	defer frame.Close()
	_, err := s.ProcessFrame(&frame, true)
	require.NoError(t, err)

	var saved string
	s.On(EventResultsSaved, func(data interface{}) { saved = data.(string) })

	path, err := s.SaveResults()
	require.NoError(t, err)
	assert.Equal(t, path, saved)

	r, err := report.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Frames)
	assert.Equal(t, 1280, r.ImageWidth)
}

func TestSaveSnapshotNumbering(t *testing.T) {
	s, _ := newSession(t)
	frame := gocv.NewMatWithSize(72, 128, gocv.MatTypeCV8UC3)
	defer frame.Close()

	first, err := s.SaveSnapshot(frame)
	require.NoError(t, err)
	second, err := s.SaveSnapshot(frame)
	require.NoError(t, err)

	assert.Equal(t, "snapshot_001.png", filepath.Base(first))
	assert.Equal(t, "snapshot_002.png", filepath.Base(second))
	_, err = os.Stat(second)
	assert.NoError(t, err)
}

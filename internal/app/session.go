// Package app provides live session lifecycle management, results output and events.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pose-calib/internal/calibrator"
	"pose-calib/internal/config"
	"pose-calib/internal/guidance"
	"pose-calib/internal/report"
	"pose-calib/internal/tracker"

	"gocv.io/x/gocv"
)

// Session holds one live calibration session: the tracker, the guidance
// controller and where results go.
type Session struct {
	mu sync.RWMutex

	cfg  config.Config
	prim calibrator.Primitive

	Tracker  *tracker.Chessboard
	Guidance *guidance.Guidance

	// Mirror flips the displayed frame horizontally.
	Mirror bool
	// OutputDir receives the report, the convergence chart and snapshots.
	OutputDir string

	frames    int
	snapshots int
	converged bool

	// Event listeners
	listeners map[EventType][]EventListener
}

// EventType identifies different session events.
type EventType int

const (
	EventKeyframeCaptured EventType = iota
	EventConverged
	EventSessionReset
	EventResultsSaved
	EventSnapshotSaved
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// CaptureEvent is the data of EventKeyframeCaptured.
type CaptureEvent struct {
	Frame     int
	Keyframes int
	Forced    bool
	UserInfo  string
}

// NewSession creates a session for cfg.
func NewSession(cfg config.Config, prim calibrator.Primitive, outputDir string) (*Session, error) {
	s := &Session{
		prim:      prim,
		OutputDir: outputDir,
		listeners: make(map[EventType][]EventListener),
	}
	if err := s.start(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) start(cfg config.Config) error {
	tr := tracker.NewChessboard(cfg)
	g, err := guidance.New(cfg, tr, s.prim)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	s.cfg = cfg
	s.Tracker = tr
	s.Guidance = g
	s.frames = 0
	s.converged = false
	return nil
}

// Config returns the session configuration.
func (s *Session) Config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// On registers a listener for the specified event type.
func (s *Session) On(event EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (s *Session) Emit(event EventType, data interface{}) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// ProcessFrame tracks the board in frame, updates the guidance and draws the
// overlay onto frame. It returns true when a keyframe was captured.
func (s *Session) ProcessFrame(frame *gocv.Mat, force bool) (bool, error) {
	s.mu.Lock()
	s.frames++
	n := s.frames
	g := s.Guidance
	s.mu.Unlock()

	if _, err := s.Tracker.Process(*frame); err != nil {
		return false, err
	}

	captured := g.Update(force)
	if captured {
		s.Emit(EventKeyframeCaptured, CaptureEvent{
			Frame:     n,
			Keyframes: len(g.Calibrator().Keyframes()),
			Forced:    force,
			UserInfo:  g.UserInfo(),
		})
	}
	if g.Converged() && !s.converged {
		s.converged = true
		s.Emit(EventConverged, g.Report())
	}

	s.Tracker.DrawCorners(frame)
	g.Draw(frame, s.Mirror)
	return captured, nil
}

// Lines returns the guidance text split into display lines.
func (s *Session) Lines() []string {
	g := s.Guidance
	lines := strings.Split(g.UserInfo(), "\n")
	return append(lines, fmt.Sprintf("keyframes %d  overlap %.2f", len(g.Calibrator().Keyframes()), g.Overlap()))
}

// Restart discards all keyframes and starts over with cfg.
func (s *Session) Restart(cfg config.Config) error {
	s.mu.Lock()
	old := s.Guidance
	err := s.start(cfg)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	old.Close()
	s.Emit(EventSessionReset, cfg)
	return nil
}

// SaveResults writes the calibration report and, once two or more
// calibrations exist, the convergence chart. It returns the report path.
func (s *Session) SaveResults() (string, error) {
	if err := os.MkdirAll(s.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(s.OutputDir, "calibration.json")
	if err := s.Guidance.Report().Save(path); err != nil {
		return "", err
	}

	if h := s.Guidance.Calibrator().History(); len(h) > 1 {
		if err := report.PlotConvergence(h, filepath.Join(s.OutputDir, "convergence.png")); err != nil {
			return path, err
		}
	}

	s.Emit(EventResultsSaved, path)
	return path, nil
}

// SaveSnapshot writes frame, annotated with the guidance text, as the next
// numbered PNG in the output directory.
func (s *Session) SaveSnapshot(frame gocv.Mat) (string, error) {
	if err := os.MkdirAll(s.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	s.snapshots++
	path := filepath.Join(s.OutputDir, fmt.Sprintf("snapshot_%03d.png", s.snapshots))
	if err := report.SaveSnapshot(frame, s.Lines(), path); err != nil {
		return "", err
	}
	s.Emit(EventSnapshotSaved, path)
	return path, nil
}

// Close releases the session resources.
func (s *Session) Close() {
	s.Guidance.Close()
}

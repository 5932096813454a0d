package sim

import (
	"fmt"

	"pose-calib/internal/guidance"
)

// RunOptions bound a simulated session.
type RunOptions struct {
	// MaxFrames stops the session when reached.
	MaxFrames int
	// ForceAfter forces a capture once a target has been held for this many
	// frames without being accepted. Zero disables forcing.
	ForceAfter int
	// OnCapture is called after every captured keyframe.
	OnCapture func(frame int)
}

// Summary describes a finished simulated session.
type Summary struct {
	Frames    int
	Captures  int
	Forced    int
	Converged bool
}

// Run steps the operator and the controller until the session converges or
// MaxFrames is reached.
func Run(g *guidance.Guidance, op *Operator, opts RunOptions) Summary {
	var s Summary
	for s.Frames < opts.MaxFrames && !g.Converged() {
		s.Frames++
		op.Step()

		force := opts.ForceAfter > 0 && op.Settled() > opts.ForceAfter
		if !g.Update(force) {
			continue
		}

		s.Captures++
		if force {
			s.Forced++
		}
		fmt.Printf("[Sim] frame %d: keyframe %d captured (forced %v), %s\n",
			s.Frames, s.Captures, force, g.UserInfo())
		if opts.OnCapture != nil {
			opts.OnCapture(s.Frames)
		}
	}
	s.Converged = g.Converged()
	return s
}

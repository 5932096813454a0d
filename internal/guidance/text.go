package guidance

import (
	"fmt"

	"pose-calib/internal/camera"

	"gonum.org/v1/gonum/floats"
)

func (g *Guidance) updateUserInfo() {
	g.userInfo = instruction(len(g.calib.Keyframes()), g.converged, g.tgtParam, g.calib.Stats().PoseVar, g.calib.Stats().RepErr)
	if g.poseReached && !g.still {
		g.userInfo += "\nhold camera steady"
	}
}

// instruction names the motion that best reduces the uncertainty of tgt:
// rotation about the least varied of x and y for the camera matrix, or
// translation along the least varied axis for the distortion terms.
func instruction(nk int, converged bool, tgt int, poseVar [6]float64, repErr float64) string {
	switch {
	case converged:
		return fmt.Sprintf("converged at MSE: %.4f", repErr)
	case nk < 2 || tgt < 0 || tgt >= camera.NumIntrinsics:
		return "initializing"
	}

	action := "translate"
	var axis int
	if tgt < camera.K1 {
		action = "rotate"
		axis = floats.MinIdx(poseVar[:2])
	} else {
		axis = floats.MinIdx(poseVar[3:6]) + 3
	}
	return fmt.Sprintf("%s %s to minimize %s", action, poseNames[axis], camera.IntrinsicNames[tgt])
}

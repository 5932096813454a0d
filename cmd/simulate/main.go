// Command simulate runs a headless calibration session against a virtual
// camera and writes the report, the convergence chart and keyframe snapshots.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pose-calib/internal/config"
	"pose-calib/internal/guidance"
	"pose-calib/internal/report"
	"pose-calib/internal/sim"
	"pose-calib/internal/solver"
	"pose-calib/pkg/colorutil"

	"gocv.io/x/gocv"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON session configuration (defaults are used when empty)")
	frames := flag.Int("frames", 3000, "Maximum number of simulated frames")
	forceAfter := flag.Int("force-after", 60, "Force a capture after holding a target this many frames (0 disables)")
	noise := flag.Float64("noise", -1, "Corner noise in pixels (negative keeps the default)")
	seed := flag.Int64("seed", 1, "Noise seed")
	outDir := flag.String("out", "", "Directory for the report, chart and snapshots (stdout report only when empty)")
	snapshots := flag.Bool("snapshots", false, "Save an annotated frame for every captured keyframe")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}

	opts := sim.DefaultOptions(cfg)
	opts.Seed = *seed
	if *noise >= 0 {
		opts.Noise = *noise
	}
	fmt.Printf("Simulated camera: %s\n", opts.Truth)

	op := sim.NewOperator(cfg, opts)
	g, err := guidance.New(cfg, op, solver.NewLM())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start session: %v\n", err)
		os.Exit(1)
	}
	defer g.Close()
	op.Follow(g)

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
			os.Exit(1)
		}
	}

	runOpts := sim.RunOptions{MaxFrames: *frames, ForceAfter: *forceAfter}
	if *snapshots && *outDir != "" {
		preview := guidance.NewBoardPreview(cfg.BoardSize(), cfg.SquareLen, cfg.ImageSize())
		runOpts.OnCapture = func(frame int) {
			path := filepath.Join(*outDir, fmt.Sprintf("keyframe_%05d.png", frame))
			if err := saveFrame(g, op, preview, opts, path); err != nil {
				fmt.Printf("[Sim] snapshot failed: %v\n", err)
			}
		}
	}

	sum := sim.Run(g, op, runOpts)
	fmt.Printf("\n%d frames, %d keyframes (%d forced), converged %v\n",
		sum.Frames, sum.Captures, sum.Forced, sum.Converged)
	fmt.Printf("Estimated camera: %s\n", g.Calibrator().Model())

	if *outDir == "" {
		if err := g.Write(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
			os.Exit(1)
		}
		return
	}

	reportPath := filepath.Join(*outDir, "calibration.json")
	if err := g.Report().Save(reportPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save report: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Saved %s\n", reportPath)

	if h := g.Calibrator().History(); len(h) > 1 {
		plotPath := filepath.Join(*outDir, "convergence.png")
		if err := report.PlotConvergence(h, plotPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to plot convergence: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Saved %s\n", plotPath)
	}
}

// saveFrame renders what the virtual camera sees, overlays the guidance and
// writes it as an annotated PNG.
func saveFrame(g *guidance.Guidance, op *sim.Operator, preview *guidance.BoardPreview, opts sim.Options, path string) error {
	size := op.ImageSize()
	b, gr, r := colorutil.ToScalarBGR(colorutil.Gray)
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, gr, r, 0), size.Y, size.X, gocv.MatTypeCV8UC3)
	defer frame.Close()

	rvec, tvec := op.Pose()
	board := preview.Render(opts.Truth, rvec, tvec)
	defer board.Close()
	mask := preview.Silhouette(opts.Truth, rvec, tvec)
	defer mask.Close()
	board.CopyToWithMask(&frame, mask)

	g.Draw(&frame, false)
	lines := strings.Split(g.UserInfo(), "\n")
	return report.SaveSnapshot(frame, lines, path)
}

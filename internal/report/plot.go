package report

import (
	"fmt"
	"image/color"
	"math"

	"pose-calib/internal/calibrator"
	"pose-calib/internal/camera"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var paramColors = [camera.NumIntrinsics]color.RGBA{
	{R: 228, G: 26, B: 28, A: 255},
	{R: 55, G: 126, B: 184, A: 255},
	{R: 77, G: 175, B: 74, A: 255},
	{R: 152, G: 78, B: 163, A: 255},
	{R: 255, G: 127, B: 0, A: 255},
	{R: 166, G: 86, B: 40, A: 255},
	{R: 247, G: 129, B: 191, A: 255},
	{R: 153, G: 153, B: 153, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// PlotConvergence saves a chart of log10 index of dispersion per intrinsic
// against the keyframe count. Converged (zero) values are left out.
func PlotConvergence(history []calibrator.HistoryEntry, path string) error {
	if len(history) == 0 {
		return fmt.Errorf("no calibration history to plot")
	}

	p := plot.New()
	p.Title.Text = "Calibration convergence"
	p.X.Label.Text = "Keyframes"
	p.Y.Label.Text = "log10 index of dispersion"

	for i, name := range camera.IntrinsicNames {
		pts := make(plotter.XYs, 0, len(history))
		for _, h := range history {
			d := h.Dispersion[i]
			if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(h.Keyframes), Y: math.Log10(d)})
		}
		if len(pts) == 0 {
			continue
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = paramColors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save convergence plot: %w", err)
	}
	return nil
}

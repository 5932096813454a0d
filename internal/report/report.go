// Package report writes the calibration result and session artifacts:
// the JSON report, a convergence chart and annotated snapshots.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"pose-calib/internal/camera"
)

// Report is the final calibration result of a session.
type Report struct {
	Version         string      `json:"version"`
	CalibrationTime string      `json:"calibration_time"`
	Frames          int         `json:"nr_of_frames"`
	ImageWidth      int         `json:"image_width"`
	ImageHeight     int         `json:"image_height"`
	BoardWidth      int         `json:"board_width"`
	BoardHeight     int         `json:"board_height"`
	SquareSize      float64     `json:"square_size"`
	MarkerSize      float64     `json:"marker_size"`
	Flags           int         `json:"flags"`
	FlagNames       []string    `json:"flag_names"`
	FisheyeModel    int         `json:"fisheye_model"`
	CameraMatrix    [][]float64 `json:"camera_matrix"`
	Distortion      []float64   `json:"distortion_coefficients"`
	RepErr          float64     `json:"avg_reprojection_error"`
	Converged       bool        `json:"converged"`
}

// Write encodes the report as indented JSON.
func (r Report) Write(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Save writes the report to path.
func (r Report) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := r.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a report written by Save.
func Load(path string) (Report, error) {
	var r Report
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("failed to read report: %w", err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("failed to parse report: %w", err)
	}
	return r, nil
}

// CameraModel rebuilds the camera model stored in the report.
func (r Report) CameraModel() (camera.Model, error) {
	var m camera.Model
	if len(r.CameraMatrix) != 3 || len(r.CameraMatrix[0]) != 3 || len(r.CameraMatrix[1]) != 3 {
		return m, fmt.Errorf("camera matrix must be 3x3")
	}
	if len(r.Distortion) != len(m.Dist) {
		return m, fmt.Errorf("expected %d distortion coefficients, got %d", len(m.Dist), len(r.Distortion))
	}
	m.K = camera.Matrix{
		Fx: r.CameraMatrix[0][0],
		Fy: r.CameraMatrix[1][1],
		Cx: r.CameraMatrix[0][2],
		Cy: r.CameraMatrix[1][2],
	}
	copy(m.Dist[:], r.Distortion)
	return m, nil
}

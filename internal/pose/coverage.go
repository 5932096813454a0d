package pose

import (
	"image"

	"pose-calib/pkg/geometry"
)

// CoverageMask is a binary occupancy grid at 1/subsample of the image
// resolution. Cells are only ever set, never cleared, until Reset.
type CoverageMask struct {
	cells []byte // 1=covered, 0=free (row-major)
	rows  int
	cols  int
}

// NewCoverageMask creates an empty mask for an image of the given size.
func NewCoverageMask(size image.Point, subsample int) *CoverageMask {
	rows := size.Y / subsample
	cols := size.X / subsample
	return &CoverageMask{
		cells: make([]byte, rows*cols),
		rows:  rows,
		cols:  cols,
	}
}

// Rows returns the grid height.
func (m *CoverageMask) Rows() int { return m.rows }

// Cols returns the grid width.
func (m *CoverageMask) Cols() int { return m.cols }

// At reports whether a cell is covered. Out of range cells are free.
func (m *CoverageMask) At(row, col int) bool {
	if row < 0 || row >= m.rows || col < 0 || col >= m.cols {
		return false
	}
	return m.cells[row*m.cols+col] != 0
}

// Mark covers every cell of r that lies inside the grid.
func (m *CoverageMask) Mark(r geometry.RectInt) {
	b := r.Image().Intersect(image.Rect(0, 0, m.cols, m.rows))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			m.cells[y*m.cols+x] = 1
		}
	}
}

// Fill covers the whole grid.
func (m *CoverageMask) Fill() {
	for i := range m.cells {
		m.cells[i] = 1
	}
}

// Count returns the number of covered cells.
func (m *CoverageMask) Count() int {
	n := 0
	for _, c := range m.cells {
		if c != 0 {
			n++
		}
	}
	return n
}

// Overlap returns the fraction of covered cells inside r. Cells of r outside
// the grid count as free.
func (m *CoverageMask) Overlap(r image.Rectangle) float64 {
	area := r.Dx() * r.Dy()
	if area <= 0 {
		return 0
	}
	b := r.Intersect(image.Rect(0, 0, m.cols, m.rows))
	covered := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if m.cells[y*m.cols+x] != 0 {
				covered++
			}
		}
	}
	return float64(covered) / float64(area)
}

// Reset clears the mask for a new session.
func (m *CoverageMask) Reset() {
	for i := range m.cells {
		m.cells[i] = 0
	}
}

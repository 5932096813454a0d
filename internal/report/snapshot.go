package report

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const lineHeight = 13

// MatToImage converts an 8-bit BGR or grayscale Mat to an RGBA image (parallelized).
func MatToImage(mat gocv.Mat) (*image.RGBA, error) {
	h := mat.Rows()
	w := mat.Cols()
	ch := mat.Channels()
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	if ch != 1 && ch != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", ch)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stride := img.Stride

	// Parallelize by horizontal stripes
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (h + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for worker := 0; worker < numWorkers; worker++ {
		startY := worker * rowsPerWorker
		endY := startY + rowsPerWorker
		if endY > h {
			endY = h
		}
		if startY >= h {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				rowOffset := y * stride
				for x := 0; x < w; x++ {
					pixOffset := rowOffset + x*4
					if ch == 1 {
						v := mat.GetUCharAt(y, x)
						img.Pix[pixOffset+0] = v
						img.Pix[pixOffset+1] = v
						img.Pix[pixOffset+2] = v
					} else {
						// OpenCV uses BGR order
						img.Pix[pixOffset+0] = mat.GetUCharAt(y, x*3+2)
						img.Pix[pixOffset+1] = mat.GetUCharAt(y, x*3+1)
						img.Pix[pixOffset+2] = mat.GetUCharAt(y, x*3+0)
					}
					img.Pix[pixOffset+3] = 255
				}
			}
		}(startY, endY)
	}
	wg.Wait()

	return img, nil
}

// Annotate draws lines of text in the top left corner of img on a dark
// backing box so they stay readable over the camera frame.
func Annotate(img draw.Image, lines []string) {
	if len(lines) == 0 {
		return
	}

	face := basicfont.Face7x13
	width := 0
	for _, l := range lines {
		if adv := font.MeasureString(face, l).Ceil(); adv > width {
			width = adv
		}
	}
	box := image.Rect(0, 0, width+8, len(lines)*lineHeight+8).Add(img.Bounds().Min)
	draw.Draw(img, box, &image.Uniform{C: color.RGBA{A: 160}}, image.Point{}, draw.Over)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
	}
	for i, l := range lines {
		drawer.Dot = fixed.P(box.Min.X+4, box.Min.Y+4+(i+1)*lineHeight-3)
		drawer.DrawString(l)
	}
}

// SaveSnapshot writes frame as a PNG with the given text lines drawn on it.
func SaveSnapshot(frame gocv.Mat, lines []string, path string) error {
	img, err := MatToImage(frame)
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	Annotate(img, lines)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return f.Close()
}

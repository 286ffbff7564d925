// Package testdata synthesizes camera frames for tests.
package testdata

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Default frame dimensions, matching the camera defaults.
const (
	Width  = 640
	Height = 480
)

// Solid returns a frame filled with a single grey level.
func Solid(width, height int, level uint8) *gocv.Mat {
	v := float64(level)
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), height, width, gocv.MatTypeCV8UC3)
	return &mat
}

// Checkerboard returns a black and white checkerboard with square cells.
// It is sharp, has mid-range brightness and strong contrast.
func Checkerboard(width, height, cell int) *gocv.Mat {
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	white := color.RGBA{R: 255, G: 255, B: 255, A: 0}

	for y := 0; y < height; y += cell {
		for x := 0; x < width; x += cell {
			if (x/cell+y/cell)%2 == 0 {
				continue
			}
			gocv.Rectangle(&mat, image.Rect(x, y, x+cell, y+cell), white, -1)
		}
	}
	return &mat
}

// Sequence returns n distinct checkerboard frames. Cell sizes differ so that
// consecutive frames are not pixel-identical.
func Sequence(n int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		frames[i] = Checkerboard(Width, Height, 8+2*(i%8))
	}
	return frames
}

// Encode JPEG-encodes a frame.
func Encode(mat *gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// CloseAll releases every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}

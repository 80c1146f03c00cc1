package classifier

import (
	"fmt"
	"image"
)

// Preprocess resizes img to width x height with nearest-neighbour sampling and scales each
// channel into [0,1]. The result is laid out row-major, channels last.
func Preprocess(img image.Image, width, height, channels int) ([]float32, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInputShape, width, height)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("%w: %d channels", ErrInputShape, channels)
	}
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, fmt.Errorf("empty image")
	}
	out := make([]float32, width*height*channels)
	i := 0
	for y := 0; y < height; y++ {
		sy := b.Min.Y + y*srcH/height
		for x := 0; x < width; x++ {
			sx := b.Min.X + x*srcW/width
			r, g, bl, _ := img.At(sx, sy).RGBA()
			rf := float32(r>>8) / 255
			gf := float32(g>>8) / 255
			bf := float32(bl>>8) / 255
			if channels == 1 {
				out[i] = 0.299*rf + 0.587*gf + 0.114*bf
				i++
				continue
			}
			out[i] = rf
			out[i+1] = gf
			out[i+2] = bf
			i += 3
		}
	}
	return out, nil
}

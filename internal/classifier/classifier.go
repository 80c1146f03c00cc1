// Package classifier turns a decoded frame into a sign label.
package classifier

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG frames from the camera.
	_ "image/png"  // PNG frames from directory sources.
	"math"

	"github.com/verte-zerg/signdrill/internal/model"
)

// ErrInputShape is returned when a tensor does not fit the model input.
var ErrInputShape = errors.New("input shape mismatch")

// ErrFrameTooLarge is returned for frames whose header declares more than MaxFramePixels.
var ErrFrameTooLarge = errors.New("frame too large")

// MaxFramePixels bounds width*height of a decoded frame.
const MaxFramePixels = 4096 * 4096

// Model is an opaque function from a fixed-size image tensor to class probabilities.
type Model interface {
	InputShape() (width, height, channels int)
	NumClasses() int
	Forward(input []float32) ([]float32, error)
}

// Result is the outcome of one classification.
type Result struct {
	Label      model.Label
	Confidence float64
	Index      int
}

// Decode parses an encoded frame after checking its declared dimensions.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxFramePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// Classify runs one forward pass and maps the arg-max class onto labels.
// The label is Unknown when the index falls outside labels or the top probability is
// below minConfidence.
func Classify(m Model, img image.Image, labels string, minConfidence float64) (Result, error) {
	w, h, c := m.InputShape()
	input, err := Preprocess(img, w, h, c)
	if err != nil {
		return Result{}, err
	}
	probs, err := m.Forward(input)
	if err != nil {
		return Result{}, err
	}
	idx, conf := argmax(probs)
	if idx < 0 {
		return Result{}, fmt.Errorf("model returned no scores")
	}
	res := Result{Label: model.LabelAt(labels, idx), Confidence: conf, Index: idx}
	if conf < minConfidence {
		res.Label = model.Unknown
	}
	return res, nil
}

func argmax(values []float32) (int, float64) {
	idx := -1
	best := math.Inf(-1)
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) {
			continue
		}
		if f > best {
			best = f
			idx = i
		}
	}
	if idx < 0 {
		return -1, 0
	}
	return idx, clamp01(best)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package classifier

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Dense is a single fully connected layer followed by softmax.
type Dense struct {
	width    int
	height   int
	channels int
	classes  int
	kernel   []float32 // [inputs][classes]
	bias     []float32
}

// NewDense builds a dense classifier from its flat parameter vector: the kernel
// (inputs x classes, row-major) followed by one bias per class.
func NewDense(width, height, channels, classes int, params []float32) (*Dense, error) {
	if width <= 0 || height <= 0 || channels <= 0 || classes <= 0 {
		return nil, fmt.Errorf("%w: %dx%dx%d -> %d", ErrInputShape, width, height, channels, classes)
	}
	inputs := width * height * channels
	want := inputs*classes + classes
	if len(params) != want {
		return nil, fmt.Errorf("expected %d parameters, got %d", want, len(params))
	}
	return &Dense{
		width:    width,
		height:   height,
		channels: channels,
		classes:  classes,
		kernel:   params[:inputs*classes],
		bias:     params[inputs*classes:],
	}, nil
}

// DecodeFloat32s reads little-endian float32 values.
func DecodeFloat32s(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("weight data length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// InputShape implements Model.
func (d *Dense) InputShape() (int, int, int) {
	return d.width, d.height, d.channels
}

// NumClasses implements Model.
func (d *Dense) NumClasses() int {
	return d.classes
}

// Forward implements Model.
func (d *Dense) Forward(input []float32) ([]float32, error) {
	inputs := d.width * d.height * d.channels
	if len(input) != inputs {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInputShape, inputs, len(input))
	}
	logits := make([]float64, d.classes)
	for k := range logits {
		logits[k] = float64(d.bias[k])
	}
	for i, x := range input {
		if x == 0 {
			continue
		}
		row := d.kernel[i*d.classes : (i+1)*d.classes]
		for k, w := range row {
			logits[k] += float64(x) * float64(w)
		}
	}
	return softmax(logits), nil
}

func softmax(logits []float64) []float32 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(v - maxLogit)
		sum += exps[i]
	}
	out := make([]float32, len(logits))
	for i, e := range exps {
		out[i] = float32(e / sum)
	}
	return out
}

package loader

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/verte-zerg/signdrill/internal/model"
)

// FormatDenseSoftmax is the only weight layout the loader can build.
const FormatDenseSoftmax = "dense-softmax"

// DefaultMinConfidence applies when neither the caller nor the descriptor sets a floor.
const DefaultMinConfidence = 0.1

// Descriptor is the metadata file that accompanies the weight shards.
type Descriptor struct {
	Format          string         `json:"format"`
	InputShape      []int          `json:"inputShape"`
	Labels          string         `json:"labels,omitempty"`
	Classes         int            `json:"classes,omitempty"`
	MinConfidence   *float64       `json:"minConfidence,omitempty"`
	WeightsManifest []WeightsGroup `json:"weightsManifest"`
}

// WeightsGroup lists shard files relative to the descriptor.
type WeightsGroup struct {
	Paths []string `json:"paths"`
}

// ParseDescriptor decodes and validates a descriptor.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("%w: invalid descriptor: %v", ErrLoadMalformed, err)
	}
	if desc.Format == "" {
		desc.Format = FormatDenseSoftmax
	}
	if desc.Labels == "" {
		desc.Labels = model.Alphabet
	}
	labels, err := normalizeLabels(desc.Labels)
	if err != nil {
		return Descriptor{}, err
	}
	desc.Labels = labels
	if desc.Classes == 0 {
		desc.Classes = len(desc.Labels)
	}
	if err := desc.validate(); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

// normalizeLabels upper-cases labels and rejects anything that is not a letter.
func normalizeLabels(labels string) (string, error) {
	var b strings.Builder
	for i, r := range labels {
		label, ok := model.ParseLabel(string(r))
		if !ok {
			return "", fmt.Errorf("%w: label %q at %d is not a letter", ErrLoadMalformed, r, i)
		}
		b.WriteString(string(label))
	}
	return b.String(), nil
}

func (d Descriptor) validate() error {
	if d.Format != FormatDenseSoftmax {
		return fmt.Errorf("%w: unsupported format %q", ErrLoadMalformed, d.Format)
	}
	if len(d.InputShape) != 3 {
		return fmt.Errorf("%w: inputShape must have 3 dimensions, got %v", ErrLoadMalformed, d.InputShape)
	}
	for _, dim := range d.InputShape {
		if dim <= 0 {
			return fmt.Errorf("%w: inputShape has non-positive dimension %v", ErrLoadMalformed, d.InputShape)
		}
	}
	if d.Classes < 0 {
		return fmt.Errorf("%w: classes must be positive", ErrLoadMalformed)
	}
	if d.MinConfidence != nil && (*d.MinConfidence < 0 || *d.MinConfidence > 1) {
		return fmt.Errorf("%w: minConfidence must be within [0,1]", ErrLoadMalformed)
	}
	if len(d.ShardPaths()) == 0 {
		return fmt.Errorf("%w: weightsManifest lists no shards", ErrLoadMalformed)
	}
	return nil
}

// ShardPaths returns every shard path in manifest order.
func (d Descriptor) ShardPaths() []string {
	var out []string
	for _, group := range d.WeightsManifest {
		for _, p := range group.Paths {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Input returns width, height and channels.
func (d Descriptor) Input() (int, int, int) {
	return d.InputShape[0], d.InputShape[1], d.InputShape[2]
}

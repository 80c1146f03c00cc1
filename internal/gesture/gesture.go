// Package gesture matches predictions against the practice prompt.
package gesture

import (
	"strings"
	"sync"

	"github.com/verte-zerg/signdrill/internal/model"
)

// Match reports whether the predicted label equals the prompt, ignoring case.
// Unknown never matches.
func Match(pred model.Prediction, prompt model.Label) bool {
	if pred.Label == model.Unknown || pred.Label == "" {
		return false
	}
	return strings.EqualFold(string(pred.Label), string(prompt))
}

// Picker draws the next prompt letter.
type Picker interface {
	Next() model.Label
}

// Prompt holds the current target sign. It is changed by the UI independently of any
// running session.
type Prompt struct {
	mu      sync.RWMutex
	current model.Label
	picker  Picker
}

// NewPrompt returns a prompt initialized with the picker's first draw.
func NewPrompt(picker Picker) *Prompt {
	return &Prompt{current: picker.Next(), picker: picker}
}

// Current returns the target sign.
func (p *Prompt) Current() model.Label {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Next replaces the target with a fresh draw and returns it.
func (p *Prompt) Next() model.Label {
	p.mu.RLock()
	picker := p.picker
	p.mu.RUnlock()
	next := picker.Next()
	p.mu.Lock()
	p.current = next
	p.mu.Unlock()
	return next
}

// Set replaces the target with a specific letter.
func (p *Prompt) Set(l model.Label) {
	p.mu.Lock()
	p.current = l
	p.mu.Unlock()
}

// SetPicker swaps the draw strategy used by Next.
func (p *Prompt) SetPicker(picker Picker) {
	p.mu.Lock()
	p.picker = picker
	p.mu.Unlock()
}

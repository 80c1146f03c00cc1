// Package generator picks practice prompts.
package generator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/verte-zerg/signdrill/internal/model"
)

// Generator produces randomized sign prompts.
type Generator struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	letters []model.Label
}

// New returns a Generator seeded with the current time.
func New() *Generator {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded returns a Generator with a fixed seed.
func NewSeeded(seed int64) *Generator {
	return &Generator{
		rnd:     rand.New(rand.NewSource(seed)),
		letters: model.Letters(),
	}
}

// Next selects a letter uniformly.
func (g *Generator) Next() model.Label {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.letters[g.rnd.Intn(len(g.letters))]
}

// NextWeighted selects a letter with a bias toward weak signs.
func (g *Generator) NextWeighted(weakSet map[model.Label]struct{}, factor float64) model.Label {
	if len(weakSet) == 0 || factor <= 0 {
		return g.Next()
	}
	weights := make([]float64, len(g.letters))
	total := 0.0
	for i, l := range g.letters {
		w := 1.0
		if _, ok := weakSet[l]; ok {
			w += factor
		}
		weights[i] = w
		total += w
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.rnd.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return g.letters[i]
		}
	}
	return g.letters[len(g.letters)-1]
}

// Weighted draws through NextWeighted with a fixed weak set.
type Weighted struct {
	gen     *Generator
	weakSet map[model.Label]struct{}
	factor  float64
}

// Weighted returns a picker biased toward the given weak signs.
func (g *Generator) Weighted(weakSet map[model.Label]struct{}, factor float64) *Weighted {
	return &Weighted{gen: g, weakSet: weakSet, factor: factor}
}

// Next implements the prompt picker.
func (w *Weighted) Next() model.Label {
	return w.gen.NextWeighted(w.weakSet, w.factor)
}

// Package loader fetches model assets and builds the classifier.
//
// A Loader owns exactly one model instance. Concurrent Load calls share one pending
// attempt, a Ready loader answers from its cache, and a Failed loader keeps returning
// its error until Reset is called.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/signdrill/internal/classifier"
)

// DefaultTimeout bounds a whole load attempt.
const DefaultTimeout = 60 * time.Second

// State is the lifecycle state of the loaded model.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle is a constructed model ready for inference.
type Handle struct {
	Model         classifier.Model
	Labels        string
	MinConfidence float64
	Descriptor    Descriptor
	Bytes         int
	LoadedAt      time.Time
}

// Options configures a Loader.
type Options struct {
	// Ref is the descriptor URL or path.
	Ref     string
	Fetcher Fetcher
	Timeout time.Duration
	// MinConfidence overrides the descriptor floor when > 0.
	MinConfidence float64
	Logger        *slog.Logger
}

// Loader loads one model with shared-attempt, cache and timeout semantics.
type Loader struct {
	ref           string
	fetcher       Fetcher
	timeout       time.Duration
	minConfidence float64
	logger        *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	state   State
	handle  *Handle
	err     error
	pending *attempt
}

type attempt struct {
	done   chan struct{}
	handle *Handle
	err    error
}

// New constructs a Loader in the Unloaded state.
func New(opts Options) *Loader {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		ref:           opts.Ref,
		fetcher:       fetcher,
		timeout:       timeout,
		minConfidence: opts.MinConfidence,
		logger:        logger,
		baseCtx:       ctx,
		cancel:        cancel,
	}
}

// Load returns the model, starting a load attempt if none has been made.
// ctx only bounds how long this caller waits; the attempt itself is bounded by the
// loader timeout and shared with every other caller.
func (l *Loader) Load(ctx context.Context) (*Handle, error) {
	l.mu.Lock()
	switch l.state {
	case StateReady:
		h := l.handle
		l.mu.Unlock()
		return h, nil
	case StateFailed:
		err := l.err
		l.mu.Unlock()
		return nil, err
	case StateLoading:
		a := l.pending
		l.mu.Unlock()
		return wait(ctx, a)
	}
	a := &attempt{done: make(chan struct{})}
	l.pending = a
	l.state = StateLoading
	l.mu.Unlock()

	go l.run(a)
	return wait(ctx, a)
}

// Reset returns a Ready or Failed loader to Unloaded so the next Load refetches.
// It reports false while a load is in progress.
func (l *Loader) Reset() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateLoading {
		return false
	}
	l.state = StateUnloaded
	l.handle = nil
	l.err = nil
	return true
}

// State returns the current state and, when Failed, the reason.
func (l *Loader) State() (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.err
}

// Handle returns the loaded model when Ready.
func (l *Loader) Handle() (*Handle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateReady {
		return nil, false
	}
	return l.handle, true
}

// Close aborts any in-flight fetch. The loader must not be used afterwards.
func (l *Loader) Close() {
	l.cancel()
}

func wait(ctx context.Context, a *attempt) (*Handle, error) {
	select {
	case <-a.done:
		return a.handle, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type loadResult struct {
	handle *Handle
	err    error
}

func (l *Loader) run(a *attempt) {
	started := time.Now()
	ctx, cancel := context.WithCancel(l.baseCtx)
	defer cancel()

	results := make(chan loadResult, 1)
	go func() {
		h, err := l.build(ctx)
		results <- loadResult{handle: h, err: err}
	}()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	var res loadResult
	select {
	case res = <-results:
	case <-timer.C:
		// The fetch goroutine may still finish; its result is dropped.
		res = loadResult{err: fmt.Errorf("%w: not ready after %s", ErrLoadTimeout, l.timeout)}
	}

	l.mu.Lock()
	if l.pending == a {
		l.pending = nil
		if res.err != nil {
			l.state = StateFailed
			l.err = res.err
		} else {
			l.state = StateReady
			l.handle = res.handle
		}
	}
	l.mu.Unlock()

	a.handle, a.err = res.handle, res.err
	close(a.done)

	if res.err != nil {
		l.logger.Error("model load failed", "ref", l.ref, "err", res.err, "took", time.Since(started))
		return
	}
	l.logger.Info("model loaded",
		"ref", l.ref,
		"shards", len(res.handle.Descriptor.ShardPaths()),
		"bytes", res.handle.Bytes,
		"took", time.Since(started))
}

func (l *Loader) build(ctx context.Context) (*Handle, error) {
	raw, err := l.fetcher.Fetch(ctx, l.ref)
	if err != nil {
		return nil, fmt.Errorf("%w: descriptor %s: %w", ErrLoadNetwork, l.ref, err)
	}
	desc, err := ParseDescriptor(raw)
	if err != nil {
		return nil, err
	}

	paths := desc.ShardPaths()
	shards := make([][]byte, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			data, err := l.fetcher.Fetch(gctx, ResolveRef(l.ref, p))
			if err != nil {
				return fmt.Errorf("%w: shard %s: %w", ErrLoadNetwork, p, err)
			}
			shards[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, s := range shards {
		total += len(s)
	}
	weights := make([]byte, 0, total)
	for _, s := range shards {
		weights = append(weights, s...)
	}
	params, err := classifier.DecodeFloat32s(weights)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadMalformed, err)
	}
	w, h, c := desc.Input()
	m, err := classifier.NewDense(w, h, c, desc.Classes, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadMalformed, err)
	}
	if _, err := m.Forward(make([]float32, w*h*c)); err != nil {
		return nil, fmt.Errorf("%w: warmup failed: %v", ErrLoadMalformed, err)
	}

	minConf := DefaultMinConfidence
	if desc.MinConfidence != nil {
		minConf = *desc.MinConfidence
	}
	if l.minConfidence > 0 {
		minConf = l.minConfidence
	}
	return &Handle{
		Model:         m,
		Labels:        desc.Labels,
		MinConfidence: minConf,
		Descriptor:    desc,
		Bytes:         total,
		LoadedAt:      time.Now(),
	}, nil
}

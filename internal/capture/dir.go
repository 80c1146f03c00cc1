package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/verte-zerg/signdrill/internal/model"
)

// DirSource replays the images of a directory in name order, looping forever.
type DirSource struct {
	dir     string
	fps     int
	logger  *slog.Logger
	mailbox Mailbox

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDirSource creates a replay source publishing fps frames per second.
func NewDirSource(dir string, fps int, logger *slog.Logger) *DirSource {
	if fps <= 0 {
		fps = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSource{dir: dir, fps: fps, logger: logger.With("source", KindDir)}
}

// Start reads the images and begins publishing.
func (d *DirSource) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return fmt.Errorf("dir source already started")
	}
	frames, err := loadImages(d.dir)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithCancel(ctx)
	d.started = true
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(cctx, frames)
	d.logger.Info("dir source started", "dir", d.dir, "images", len(frames), "fps", d.fps)
	return nil
}

func (d *DirSource) loop(ctx context.Context, images [][]byte) {
	defer d.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(d.fps))
	defer ticker.Stop()
	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.mailbox.Publish(&model.Frame{Timestamp: now, Data: images[i%len(images)]})
			i++
		}
	}
}

func loadImages(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.Strings(names)
	out := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// Poll implements Source.
func (d *DirSource) Poll() (*model.Frame, bool) {
	return d.mailbox.Poll()
}

// Ready implements Source.
func (d *DirSource) Ready() error {
	return d.mailbox.Ready()
}

// Stop halts publishing. It is safe to call more than once.
func (d *DirSource) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.stopped = true
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	d.mailbox.Close()
	return nil
}

// Stats implements Source.
func (d *DirSource) Stats() Stats {
	st := d.mailbox.Stats()
	d.mu.Lock()
	st.Running = d.started
	d.mu.Unlock()
	return st
}

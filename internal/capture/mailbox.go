package capture

import (
	"sync"

	"github.com/verte-zerg/signdrill/internal/model"
)

// Mailbox holds at most one frame. Publishing replaces an unread frame, polling
// consumes it. Nothing older than the latest frame is ever retained.
type Mailbox struct {
	mu     sync.Mutex
	frame  *model.Frame
	seq    uint64
	stats  Stats
	closed bool
}

// Publish stores f as the latest frame and assigns its sequence number.
// Ownership of f passes to the mailbox.
func (m *Mailbox) Publish(f *model.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.frame != nil {
		m.stats.Overwritten++
	}
	m.seq++
	f.Seq = m.seq
	m.frame = f
	m.stats.Published++
	m.stats.LastFrameAt = f.Timestamp
}

// Poll returns the frame published since the last poll, if any.
func (m *Mailbox) Poll() (*model.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame == nil {
		return nil, false
	}
	f := m.frame
	m.frame = nil
	m.stats.Polled++
	return f, true
}

// Ready reports ErrNotReady until the first frame arrives.
func (m *Mailbox) Ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats.Published == 0 {
		return ErrNotReady
	}
	return nil
}

// Close drops the pending frame and ignores later publishes.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.frame = nil
}

// Stats returns a snapshot of the counters.
func (m *Mailbox) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

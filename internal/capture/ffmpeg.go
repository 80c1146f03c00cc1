package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/verte-zerg/signdrill/internal/model"
)

const maxJPEGSize = 8 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FFmpegCamera streams MJPEG frames from a camera through an ffmpeg subprocess.
type FFmpegCamera struct {
	opts    Options
	logger  *slog.Logger
	mailbox Mailbox

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFFmpegCamera creates a camera source; the subprocess starts on Start.
func NewFFmpegCamera(opts Options) *FFmpegCamera {
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.InputFormat == "" {
		opts.InputFormat = defaultInputFormat(runtime.GOOS)
	}
	if opts.Device == "" {
		opts.Device = defaultDevice(opts.InputFormat)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegCamera{opts: opts, logger: logger.With("source", KindCamera)}
}

func defaultInputFormat(goos string) string {
	switch goos {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "v4l2"
	}
}

func defaultDevice(format string) string {
	switch format {
	case "avfoundation":
		return "0"
	case "dshow":
		return "video=USB Camera"
	default:
		return "/dev/video0"
	}
}

// Args returns the ffmpeg command line used for capture.
func (c *FFmpegCamera) Args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", c.opts.InputFormat,
		"-video_size", fmt.Sprintf("%dx%d", c.opts.Width, c.opts.Height),
		"-framerate", strconv.Itoa(c.opts.FPS),
		"-i", c.opts.Device,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}
}

// Start launches ffmpeg and begins publishing frames.
func (c *FFmpegCamera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return fmt.Errorf("camera already started")
	}
	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, c.opts.FFmpegPath, c.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	c.started = true
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readFrames(stdout)
		if err := cmd.Wait(); err != nil && cctx.Err() == nil {
			c.logger.Error("ffmpeg exited", "err", err)
		}
	}()
	c.logger.Info("camera started",
		"format", c.opts.InputFormat,
		"device", c.opts.Device,
		"size", fmt.Sprintf("%dx%d", c.opts.Width, c.opts.Height),
		"fps", c.opts.FPS)
	return nil
}

func (c *FFmpegCamera) readFrames(r io.Reader) {
	published := PumpJPEG(r, &c.mailbox, c.opts.Width, c.opts.Height)
	c.logger.Debug("camera stream ended", "frames", published)
}

// PumpJPEG splits an MJPEG byte stream into frames and publishes each one.
// It returns the number of frames published when the stream ends.
func PumpJPEG(r io.Reader, mb *Mailbox, width, height int) int {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), maxJPEGSize)
	scanner.Split(ScanJPEG)
	n := 0
	for scanner.Scan() {
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())
		mb.Publish(&model.Frame{
			Timestamp: time.Now(),
			Width:     width,
			Height:    height,
			Data:      data,
		})
		n++
	}
	return n
}

// ScanJPEG is a bufio.SplitFunc yielding complete JPEG images from a concatenated
// stream. Bytes outside SOI..EOI are discarded.
func ScanJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if len(data) <= 1 {
			return 0, nil, nil
		}
		// Keep the last byte; it may be the first half of a marker.
		return len(data) - 1, nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// Poll implements Source.
func (c *FFmpegCamera) Poll() (*model.Frame, bool) {
	return c.mailbox.Poll()
}

// Ready implements Source.
func (c *FFmpegCamera) Ready() error {
	return c.mailbox.Ready()
}

// Stop terminates ffmpeg. It is safe to call more than once; a stopped camera
// cannot be started again.
func (c *FFmpegCamera) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	c.mailbox.Close()
	c.logger.Info("camera stopped")
	return nil
}

// Stats implements Source.
func (c *FFmpegCamera) Stats() Stats {
	st := c.mailbox.Stats()
	c.mu.Lock()
	st.Running = c.started
	c.mu.Unlock()
	return st
}

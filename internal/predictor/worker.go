package predictor

import (
	"context"
	"log/slog"
	"time"

	"github.com/verte-zerg/signdrill/internal/classifier"
	"github.com/verte-zerg/signdrill/internal/loader"
	"github.com/verte-zerg/signdrill/internal/model"
)

// Worker classifies frames in-process with a model owned by its loader.
type Worker struct {
	*runner
	loader *loader.Loader
	now    func() time.Time

	// handle is only touched by the runner goroutine.
	handle *loader.Handle
}

// NewWorker creates a local backend. The worker owns l and closes it on Stop.
func NewWorker(l *loader.Loader, logger *slog.Logger) *Worker {
	w := &Worker{loader: l, now: time.Now}
	w.runner = newRunner(BackendLocal, w, logger)
	return w
}

func (w *Worker) load(ctx context.Context) error {
	if state, _ := w.loader.State(); state == loader.StateFailed {
		w.loader.Reset()
	}
	h, err := w.loader.Load(ctx)
	if err != nil {
		return err
	}
	w.handle = h
	return nil
}

func (w *Worker) predict(_ context.Context, frame *model.Frame, _ model.Label) (model.Prediction, error) {
	if w.handle == nil {
		return model.Prediction{}, ErrModelNotReady
	}
	img, err := classifier.Decode(frame.Data)
	if err != nil {
		return model.Prediction{}, err
	}
	res, err := classifier.Classify(w.handle.Model, img, w.handle.Labels, w.handle.MinConfidence)
	if err != nil {
		return model.Prediction{}, err
	}
	return model.Prediction{
		Label:      res.Label,
		Confidence: res.Confidence,
		Timestamp:  w.now(),
		FrameSeq:   frame.Seq,
	}, nil
}

// Stop ends the worker and releases the model.
func (w *Worker) Stop() error {
	err := w.runner.Stop()
	w.loader.Close()
	w.handle = nil
	return err
}

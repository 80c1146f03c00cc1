package predictor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verte-zerg/signdrill/internal/loader"
	"github.com/verte-zerg/signdrill/internal/model"
)

const testDescriptor = `{
	"inputShape": [1, 1, 3],
	"labels": "AB",
	"weightsManifest": [{"paths": ["weights.bin"]}]
}`

// writeModel writes a 1x1x3 model voting B in proportion to brightness.
func writeModel(t *testing.T, dir string) string {
	t.Helper()
	params := []float32{0, 1, 0, 1, 0, 1, 0, 0}
	buf := make([]byte, len(params)*4)
	for i, v := range params {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if err := os.WriteFile(filepath.Join(dir, "weights.bin"), buf, 0o644); err != nil {
		t.Fatalf("write weights: %v", err)
	}
	path := filepath.Join(dir, "model.json")
	if err := os.WriteFile(path, []byte(testDescriptor), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	return path
}

func pngFrame(t *testing.T, seq uint64, c color.Color) *model.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &model.Frame{Seq: seq, Width: 4, Height: 4, Data: buf.Bytes()}
}

func nextEvent(t *testing.T, b Backend) Event {
	t.Helper()
	select {
	case ev, ok := <-b.Events():
		if !ok {
			t.Fatalf("events closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func startBackend(t *testing.T, b Backend) {
	t.Helper()
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = b.Stop()
	})
}

func TestWorkerPredictBeforeLoad(t *testing.T) {
	l := loader.New(loader.Options{Ref: writeModel(t, t.TempDir())})
	w := NewWorker(l, nil)
	startBackend(t, w)

	if !w.Predict(pngFrame(t, 1, color.White), "B") {
		t.Fatalf("predict rejected")
	}
	ev := nextEvent(t, w)
	if ev.Kind != EventPredictionError || !errors.Is(ev.Err, ErrModelNotReady) || !errors.Is(ev.Err, ErrPrediction) {
		t.Fatalf("expected not-ready prediction error, got %+v", ev)
	}
	if ev.FrameSeq != 1 || !ev.Completes() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestWorkerLoadsAndPredicts(t *testing.T) {
	l := loader.New(loader.Options{Ref: writeModel(t, t.TempDir())})
	w := NewWorker(l, nil)
	startBackend(t, w)

	w.LoadModel()
	if ev := nextEvent(t, w); ev.Kind != EventModelLoaded {
		t.Fatalf("expected model loaded, got %+v", ev)
	}
	w.Predict(pngFrame(t, 7, color.White), "B")
	ev := nextEvent(t, w)
	if ev.Kind != EventPrediction {
		t.Fatalf("expected prediction, got %+v", ev)
	}
	if ev.Prediction.Label != "B" || ev.Prediction.FrameSeq != 7 {
		t.Fatalf("unexpected prediction %+v", ev.Prediction)
	}
	if ev.Prediction.Confidence < 0.9 || ev.Prediction.Confidence > 1 {
		t.Fatalf("unexpected confidence %v", ev.Prediction.Confidence)
	}

	w.Predict(&model.Frame{Seq: 8, Data: []byte("not an image")}, "B")
	if ev := nextEvent(t, w); ev.Kind != EventPredictionError || !errors.Is(ev.Err, ErrPrediction) {
		t.Fatalf("expected prediction error, got %+v", ev)
	}

	w.Predict(pngFrame(t, 9, color.Black), "A")
	if ev := nextEvent(t, w); ev.Kind != EventPrediction || ev.Prediction.Label != "A" {
		t.Fatalf("worker must survive a bad frame, got %+v", ev)
	}
	if st := w.Stats(); st.Predictions != 2 || st.Failures != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestWorkerRetriesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "model.json")
	l := loader.New(loader.Options{Ref: ref})
	w := NewWorker(l, nil)
	startBackend(t, w)

	w.LoadModel()
	ev := nextEvent(t, w)
	if ev.Kind != EventModelError || !errors.Is(ev.Err, loader.ErrLoadNetwork) {
		t.Fatalf("expected network model error, got %+v", ev)
	}

	writeModel(t, dir)
	w.LoadModel()
	if ev := nextEvent(t, w); ev.Kind != EventModelLoaded {
		t.Fatalf("expected retry to load, got %+v", ev)
	}
}

// flakyHandler panics on its first prediction and answers every later one.
type flakyHandler struct {
	calls atomic.Int32
}

func (h *flakyHandler) load(context.Context) error { return nil }

func (h *flakyHandler) predict(_ context.Context, frame *model.Frame, target model.Label) (model.Prediction, error) {
	if h.calls.Add(1) == 1 {
		panic("tensor shape mismatch")
	}
	return model.Prediction{Label: target, Confidence: 1, FrameSeq: frame.Seq}, nil
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	r := newRunner("test", &flakyHandler{}, nil)
	startBackend(t, r)

	r.Predict(pngFrame(t, 1, color.White), "A")
	ev := nextEvent(t, r)
	if ev.Kind != EventPredictionError || !errors.Is(ev.Err, ErrPrediction) || ev.FrameSeq != 1 {
		t.Fatalf("expected prediction error from panic, got %+v", ev)
	}

	r.Predict(pngFrame(t, 2, color.White), "B")
	ev = nextEvent(t, r)
	if ev.Kind != EventPrediction || ev.Prediction.Label != "B" || ev.FrameSeq != 2 {
		t.Fatalf("runner must keep serving after a panic, got %+v", ev)
	}
	if st := r.Stats(); st.Predictions != 1 || st.Failures != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestStopClosesEventsAndRejects(t *testing.T) {
	l := loader.New(loader.Options{Ref: writeModel(t, t.TempDir())})
	w := NewWorker(l, nil)
	if w.LoadModel() {
		t.Fatalf("commands before start must be rejected")
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Fatalf("expected closed events")
	}
	if w.Predict(pngFrame(t, 1, color.White), "A") {
		t.Fatalf("predict after stop must be rejected")
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatalf("restart after stop must fail")
	}
}

func newPredictServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var health atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/predict", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &health
}

func TestRemotePredicts(t *testing.T) {
	var got PredictRequest
	srv, health := newPredictServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		conf := 0.82
		_ = json.NewEncoder(w).Encode(PredictResponse{PredictedSign: "b", Confidence: &conf, IsCorrect: true})
	})
	r := NewRemote(RemoteOptions{URL: srv.URL + "/predict", Client: srv.Client()})
	startBackend(t, r)

	r.LoadModel()
	if ev := nextEvent(t, r); ev.Kind != EventModelLoaded {
		t.Fatalf("expected model loaded, got %+v", ev)
	}
	if health.Load() != 1 {
		t.Fatalf("expected a health check")
	}

	frame := &model.Frame{Seq: 3, Data: []byte("jpeg-bytes")}
	r.Predict(frame, "B")
	ev := nextEvent(t, r)
	if ev.Kind != EventPrediction || ev.Prediction.Label != "B" || ev.Prediction.Confidence != 0.82 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if got.TargetSign != "B" {
		t.Fatalf("expected target sign in request, got %q", got.TargetSign)
	}
	raw, err := base64.StdEncoding.DecodeString(got.Image)
	if err != nil || string(raw) != "jpeg-bytes" {
		t.Fatalf("unexpected image payload %q", got.Image)
	}
}

func TestRemoteUnknownSign(t *testing.T) {
	srv, _ := newPredictServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"predictedSign":"No hand detected","confidence":0,"isCorrect":false}`))
	})
	r := NewRemote(RemoteOptions{URL: srv.URL + "/predict", Client: srv.Client()})
	startBackend(t, r)

	r.Predict(&model.Frame{Seq: 1, Data: []byte("x")}, "A")
	ev := nextEvent(t, r)
	if ev.Kind != EventPrediction || ev.Prediction.Label != model.Unknown {
		t.Fatalf("expected unknown prediction, got %+v", ev)
	}
}

func TestRemoteServiceErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		}},
		{"malformed", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}},
		{"confidence", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"predictedSign":"A","confidence":1.5}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newPredictServer(t, tc.handler)
			r := NewRemote(RemoteOptions{URL: srv.URL + "/predict", Client: srv.Client()})
			startBackend(t, r)

			r.Predict(&model.Frame{Seq: 1, Data: []byte("x")}, "A")
			ev := nextEvent(t, r)
			if ev.Kind != EventPredictionError {
				t.Fatalf("expected prediction error, got %+v", ev)
			}
			if !errors.Is(ev.Err, ErrRemoteService) || !errors.Is(ev.Err, ErrPrediction) {
				t.Fatalf("expected remote service error, got %v", ev.Err)
			}
		})
	}
}

func TestRemoteHealthFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	r := NewRemote(RemoteOptions{URL: srv.URL + "/predict", Client: srv.Client()})
	startBackend(t, r)

	r.LoadModel()
	ev := nextEvent(t, r)
	if ev.Kind != EventModelError || !errors.Is(ev.Err, ErrRemoteService) {
		t.Fatalf("expected model error, got %+v", ev)
	}
}

func TestHealthURLFor(t *testing.T) {
	cases := map[string]string{
		"http://h:8090/predict":  "http://h:8090/healthz",
		"http://h:8090/predict/": "http://h:8090/healthz",
		"http://h:8090":          "http://h:8090/healthz",
	}
	for in, want := range cases {
		if got := healthURLFor(in); got != want {
			t.Fatalf("healthURLFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewSelectsBackend(t *testing.T) {
	l := loader.New(loader.Options{Ref: "model.json"})
	defer l.Close()
	b, err := New(Options{Loader: l})
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if _, ok := b.(*Worker); !ok {
		t.Fatalf("expected worker, got %T", b)
	}
	b, err = New(Options{Backend: BackendRemote, Remote: RemoteOptions{URL: "http://h/predict"}})
	if err != nil {
		t.Fatalf("remote: %v", err)
	}
	if _, ok := b.(*Remote); !ok {
		t.Fatalf("expected remote, got %T", b)
	}
	if _, err := New(Options{Backend: BackendRemote}); err == nil {
		t.Fatalf("expected error without URL")
	}
	if _, err := New(Options{Backend: "gpu"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

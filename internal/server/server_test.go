package server

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
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/signdrill/internal/classifier"
	"github.com/verte-zerg/signdrill/internal/loader"
	"github.com/verte-zerg/signdrill/internal/model"
	"github.com/verte-zerg/signdrill/internal/predictor"
)

const testDescriptor = `{
	"inputShape": [1, 1, 3],
	"labels": "AB",
	"weightsManifest": [{"paths": ["weights.bin"]}]
}`

// writeTestModel writes a 1x1x3 model into dir that answers B for bright frames and
// A for dark ones, and returns the descriptor path.
func writeTestModel(t *testing.T, dir string) string {
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

func newTestLoader(t *testing.T) *loader.Loader {
	t.Helper()
	l := loader.New(loader.Options{Ref: writeTestModel(t, t.TempDir())})
	t.Cleanup(l.Close)
	return l
}

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func postPredict(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func predictBody(t *testing.T, img []byte, target string) string {
	t.Helper()
	data, err := json.Marshal(predictor.PredictRequest{
		Image:      base64.StdEncoding.EncodeToString(img),
		TargetSign: target,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestHealthReflectsModelState(t *testing.T) {
	srv := New(Options{Loader: newTestLoader(t)})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before load, got %d", rec.Code)
	}
	if err := srv.LoadModel(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ready"`) {
		t.Fatalf("expected ready health, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestPredictRequiresLoadedModel(t *testing.T) {
	srv := New(Options{Loader: newTestLoader(t)})
	rec := postPredict(t, srv.Handler(), predictBody(t, pngBytes(t, color.White), "B"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestPredictRejectsBadRequests(t *testing.T) {
	srv := New(Options{Loader: newTestLoader(t)})
	if err := srv.LoadModel(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	cases := map[string]string{
		"invalid json": "{",
		"no image":     `{"target_sign":"A"}`,
		"bad base64":   `{"image":"***"}`,
		"not an image": predictBody(t, []byte("hello"), "A"),
	}
	for name, body := range cases {
		rec := postPredict(t, srv.Handler(), body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
		var out predictor.ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out.Error == "" {
			t.Fatalf("%s: expected error body, got %s", name, rec.Body.String())
		}
	}
}

func TestPredictClassifiesFrame(t *testing.T) {
	srv := New(Options{Loader: newTestLoader(t)})
	if err := srv.LoadModel(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	rec := postPredict(t, srv.Handler(), predictBody(t, pngBytes(t, color.White), "b"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var out predictor.PredictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.PredictedSign != "B" || !out.IsCorrect || out.Confidence == nil || *out.Confidence < 0.5 {
		t.Fatalf("unexpected response %+v", out)
	}
	if out.Threshold == nil || *out.Threshold != loader.DefaultMinConfidence {
		t.Fatalf("expected default threshold, got %v", out.Threshold)
	}

	rec = postPredict(t, srv.Handler(), predictBody(t, pngBytes(t, color.White), "A"))
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.IsCorrect {
		t.Fatalf("B for target A must not be correct")
	}
}

func TestPredictAcceptsDataURL(t *testing.T) {
	srv := New(Options{Loader: newTestLoader(t)})
	if err := srv.LoadModel(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	body := `{"image":"data:image/png;base64,` + base64.StdEncoding.EncodeToString(pngBytes(t, color.Black)) + `"}`
	rec := postPredict(t, srv.Handler(), body)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"predictedSign":"A"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestPredictResponseWithoutHand(t *testing.T) {
	out := predictResponse(classifier.Result{Label: model.Unknown, Confidence: 0.05}, "A", 0.1)
	if out.PredictedSign != NoHandMessage || *out.Confidence != 0 || out.IsCorrect {
		t.Fatalf("unexpected response %+v", out)
	}
	out = predictResponse(classifier.Result{Label: "A", Confidence: 0.08}, "A", 0.1)
	if out.IsCorrect {
		t.Fatalf("match below threshold must not be correct")
	}
}

func TestRemoteBackendAgainstServer(t *testing.T) {
	srv := New(Options{Loader: newTestLoader(t)})
	if err := srv.LoadModel(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	remote := predictor.NewRemote(predictor.RemoteOptions{URL: ts.URL + "/predict"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := remote.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := remote.Stop(); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	if !remote.LoadModel() {
		t.Fatalf("load rejected")
	}
	if ev := nextEvent(t, remote); ev.Kind != predictor.EventModelLoaded {
		t.Fatalf("expected model loaded, got %v (%v)", ev.Kind, ev.Err)
	}
	frame := &model.Frame{Seq: 1, Data: pngBytes(t, color.White)}
	if !remote.Predict(frame, "B") {
		t.Fatalf("predict rejected")
	}
	ev := nextEvent(t, remote)
	if ev.Kind != predictor.EventPrediction || ev.Prediction.Label != "B" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestReloadRecoversFailedModel(t *testing.T) {
	dir := t.TempDir()
	l := loader.New(loader.Options{Ref: filepath.Join(dir, "model.json")})
	t.Cleanup(l.Close)
	srv := New(Options{Loader: l})
	if err := srv.LoadModel(context.Background()); !errors.Is(err, loader.ErrLoadNetwork) {
		t.Fatalf("expected missing model to fail, got %v", err)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"failed"`) {
		t.Fatalf("expected failed health, got %d %s", rec.Code, rec.Body.String())
	}

	writeTestModel(t, dir)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", rec.Code, rec.Body.String())
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("model never became ready: %d %s", rec.Code, rec.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), `"ready"`) {
		t.Fatalf("expected 409 for a ready model, got %d %s", rec.Code, rec.Body.String())
	}
}

func nextEvent(t *testing.T, b predictor.Backend) predictor.Event {
	t.Helper()
	select {
	case ev := <-b.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return predictor.Event{}
}

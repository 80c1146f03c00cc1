// Package server exposes the classifier as an HTTP prediction service and streams
// practice events to WebSocket clients.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/verte-zerg/signdrill/internal/app"
	"github.com/verte-zerg/signdrill/internal/classifier"
	"github.com/verte-zerg/signdrill/internal/gesture"
	"github.com/verte-zerg/signdrill/internal/loader"
	"github.com/verte-zerg/signdrill/internal/model"
	"github.com/verte-zerg/signdrill/internal/predictor"
	"github.com/verte-zerg/signdrill/internal/session"
)

// NoHandMessage is returned as the predicted sign when nothing was recognized.
const NoHandMessage = "No hand detected"

const (
	defaultMaxBody  = 8 << 20
	shutdownTimeout = 5 * time.Second
)

// Practice is the pipeline surface driven over the WebSocket feed.
type Practice interface {
	Subscribe(fn func(app.Event)) func()
	StartSession(username string) (session.Run, error)
	StopSession() (model.SessionSummary, bool)
	NextPrompt() model.Label
	RetryModel() bool
	Snapshot() app.Snapshot
}

// Options configures a Server.
type Options struct {
	// Loader owns the model behind /predict and /healthz.
	Loader *loader.Loader
	// Practice enables /ws when set.
	Practice Practice
	MaxBody  int64
	Logger   *slog.Logger
}

// Server serves /predict, /healthz, /reload and /ws.
type Server struct {
	loader   *loader.Loader
	practice Practice
	hub      *Hub
	maxBody  int64
	logger   *slog.Logger
	mux      *http.ServeMux
	now      func() time.Time
}

// New builds a server. Call LoadModel to make /predict available.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := opts.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	s := &Server{
		loader:   opts.Loader,
		practice: opts.Practice,
		maxBody:  maxBody,
		logger:   logger,
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	s.mux.HandleFunc("POST /predict", s.handlePredict)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /reload", s.handleReload)
	if s.practice != nil {
		s.hub = NewHub(s.practice, logger)
		s.mux.HandleFunc("GET /ws", s.hub.ServeHTTP)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// LoadModel loads the model behind /predict.
func (s *Server) LoadModel(ctx context.Context) error {
	if s.loader == nil {
		return errors.New("server has no model loader")
	}
	start := s.now()
	h, err := s.loader.Load(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("model loaded", "labels", len(h.Labels), "bytes", h.Bytes, "took", s.now().Sub(start))
	return nil
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down server")
	if s.hub != nil {
		s.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictor.PredictRequest
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	data, err := decodeImage(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image must be base64 encoded")
		return
	}
	h, ok := s.handle()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}
	img, err := classifier.Decode(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := classifier.Classify(h.Model, img, h.Labels, h.MinConfidence)
	if err != nil {
		s.logger.Error("prediction failed", "err", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("prediction failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, predictResponse(res, req.TargetSign, h.MinConfidence))
}

func predictResponse(res classifier.Result, target string, threshold float64) predictor.PredictResponse {
	confidence := res.Confidence
	sign := string(res.Label)
	if !res.Label.IsLetter() {
		sign = NoHandMessage
		confidence = 0
	}
	correct := false
	if label, ok := model.ParseLabel(target); ok {
		pred := model.Prediction{Label: res.Label, Confidence: confidence}
		correct = gesture.Match(pred, label) && confidence >= threshold
	}
	return predictor.PredictResponse{
		PredictedSign: sign,
		Confidence:    &confidence,
		IsCorrect:     correct,
		Threshold:     &threshold,
	}
}

func (s *Server) handle() (*loader.Handle, bool) {
	if s.loader == nil {
		return nil, false
	}
	return s.loader.Handle()
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.loader == nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	state, _ := s.loader.State()
	code := http.StatusServiceUnavailable
	if state == loader.StateReady {
		code = http.StatusOK
	}
	s.writeState(w, code)
}

// handleReload starts a new model load after a failure. With a practice pipeline
// the retry goes through it so its model state follows the reload.
func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	if s.loader == nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	if s.practice != nil {
		if !s.practice.RetryModel() {
			s.writeState(w, http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusAccepted, healthResponse{Status: loader.StateLoading.String()})
		return
	}
	state, _ := s.loader.State()
	if state != loader.StateFailed && state != loader.StateUnloaded {
		s.writeState(w, http.StatusConflict)
		return
	}
	if !s.loader.Reset() {
		s.writeState(w, http.StatusConflict)
		return
	}
	s.logger.Info("reloading model")
	go func() {
		if err := s.LoadModel(context.Background()); err != nil {
			s.logger.Error("model reload failed", "err", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, healthResponse{Status: loader.StateLoading.String()})
}

func (s *Server) writeState(w http.ResponseWriter, code int) {
	state, err := s.loader.State()
	resp := healthResponse{Status: state.String()}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, code, resp)
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, predictor.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort: the status line is already written.
		_ = err
	}
}

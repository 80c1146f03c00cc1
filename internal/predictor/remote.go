package predictor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/verte-zerg/signdrill/internal/model"
)

// PredictRequest is the body accepted by a prediction service.
type PredictRequest struct {
	Image      string `json:"image"`
	TargetSign string `json:"target_sign,omitempty"`
}

// PredictResponse is the body returned by a prediction service.
type PredictResponse struct {
	PredictedSign string   `json:"predictedSign"`
	Confidence    *float64 `json:"confidence"`
	IsCorrect     bool     `json:"isCorrect"`
	Threshold     *float64 `json:"threshold,omitempty"`
}

// ErrorResponse is returned by a prediction service on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RemoteOptions configures a Remote backend.
type RemoteOptions struct {
	// URL is the predict endpoint, e.g. http://host:8090/predict.
	URL string
	// HealthURL is checked by LoadModel. Derived from URL when empty.
	HealthURL string
	Client    *http.Client
	// Timeout bounds a single request; zero means none.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Remote delegates classification to an HTTP prediction service.
type Remote struct {
	*runner
	url       string
	healthURL string
	client    *http.Client
	timeout   time.Duration
	now       func() time.Time
}

// NewRemote creates a remote backend.
func NewRemote(opts RemoteOptions) *Remote {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	health := opts.HealthURL
	if health == "" {
		health = healthURLFor(opts.URL)
	}
	r := &Remote{
		url:       opts.URL,
		healthURL: health,
		client:    client,
		timeout:   opts.Timeout,
		now:       time.Now,
	}
	r.runner = newRunner(BackendRemote, r, opts.Logger)
	return r
}

func healthURLFor(predictURL string) string {
	base := strings.TrimSuffix(strings.TrimRight(predictURL, "/"), "/predict")
	return base + "/healthz"
}

func (r *Remote) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

func (r *Remote) load(ctx context.Context) error {
	ctx, cancel := r.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.healthURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteService, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteService, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %s", ErrRemoteService, resp.Status)
	}
	return nil
}

func (r *Remote) predict(ctx context.Context, frame *model.Frame, target model.Label) (model.Prediction, error) {
	body, err := json.Marshal(PredictRequest{
		Image:      base64.StdEncoding.EncodeToString(frame.Data),
		TargetSign: string(target),
	})
	if err != nil {
		return model.Prediction{}, err
	}
	ctx, cancel := r.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return model.Prediction{}, fmt.Errorf("%w: %w", ErrRemoteService, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("%w: %w", ErrRemoteService, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.Prediction{}, fmt.Errorf("%w: %s: %s", ErrRemoteService, resp.Status, strings.TrimSpace(string(snippet)))
	}
	var out PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Prediction{}, fmt.Errorf("%w: malformed response: %w", ErrRemoteService, err)
	}
	if out.Confidence == nil || *out.Confidence < 0 || *out.Confidence > 1 {
		return model.Prediction{}, fmt.Errorf("%w: confidence missing or out of range", ErrRemoteService)
	}
	label, ok := model.ParseLabel(out.PredictedSign)
	if !ok {
		label = model.Unknown
	}
	return model.Prediction{
		Label:      label,
		Confidence: *out.Confidence,
		Timestamp:  r.now(),
		FrameSeq:   frame.Seq,
	}, nil
}

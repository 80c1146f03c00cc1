package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verte-zerg/signdrill/internal/app"
	"github.com/verte-zerg/signdrill/internal/model"
	"github.com/verte-zerg/signdrill/internal/predictor"
	"github.com/verte-zerg/signdrill/internal/session"
)

type fakePractice struct {
	mu       sync.Mutex
	observer func(app.Event)
	starts   []string
	stops    int
	nexts    int
	retries  int
	ready    bool
	failed   bool
}

func (f *fakePractice) Subscribe(fn func(app.Event)) func() {
	f.mu.Lock()
	f.observer = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.observer = nil
		f.mu.Unlock()
	}
}

func (f *fakePractice) emit(ev app.Event) {
	f.mu.Lock()
	fn := f.observer
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (f *fakePractice) StartSession(username string) (session.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return session.Run{}, predictor.ErrModelNotReady
	}
	f.starts = append(f.starts, username)
	return session.Run{Username: username, Sign: "C"}, nil
}

func (f *fakePractice) StopSession() (model.SessionSummary, bool) {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return model.SessionSummary{}, false
}

func (f *fakePractice) NextPrompt() model.Label {
	f.mu.Lock()
	f.nexts++
	f.mu.Unlock()
	return "D"
}

func (f *fakePractice) RetryModel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.failed {
		return false
	}
	f.failed = false
	f.retries++
	return true
}

func (f *fakePractice) retryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retries
}

func (f *fakePractice) Snapshot() app.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := app.ModelLoading
	if f.ready {
		state = app.ModelReady
	}
	return app.Snapshot{Model: state, Prompt: "C"}
}

func (f *fakePractice) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

type rawMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func dial(t *testing.T, practice *fakePractice) (*websocket.Conn, *Server) {
	t.Helper()
	srv := New(Options{Practice: practice})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, srv
}

func readMessage(t *testing.T, conn *websocket.Conn) rawMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	var msg rawMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHubSendsStateOnConnect(t *testing.T) {
	conn, _ := dial(t, &fakePractice{})
	msg := readMessage(t, conn)
	if msg.Type != TypeState || msg.Data["model"] != "loading" || msg.Data["prompt"] != "C" {
		t.Fatalf("unexpected first message %+v", msg)
	}
}

func TestHubCommands(t *testing.T) {
	practice := &fakePractice{}
	conn, _ := dial(t, practice)
	readMessage(t, conn)

	if err := conn.WriteJSON(ClientMessage{Type: TypePing}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != TypePong {
		t.Fatalf("expected pong, got %+v", msg)
	}

	if err := conn.WriteJSON(ClientMessage{Type: TypeStart, Username: "ana"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != TypeError || msg.Data["error"] != "model is still loading" {
		t.Fatalf("expected loading error, got %+v", msg)
	}

	practice.mu.Lock()
	practice.ready = true
	practice.mu.Unlock()
	if err := conn.WriteJSON(ClientMessage{Type: TypeStart, Username: "ana"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(ClientMessage{Type: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = readMessage(t, conn)
	if msg.Type != TypeError || !strings.Contains(msg.Data["error"].(string), "dance") {
		t.Fatalf("expected unknown type error, got %+v", msg)
	}
	if practice.startCount() != 1 {
		t.Fatalf("expected one started session, got %d", practice.startCount())
	}
}

func TestHubRetryCommand(t *testing.T) {
	practice := &fakePractice{failed: true}
	conn, _ := dial(t, practice)
	readMessage(t, conn)

	if err := conn.WriteJSON(ClientMessage{Type: TypeRetry}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(ClientMessage{Type: TypePing}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != TypePong {
		t.Fatalf("accepted retry should not answer, got %+v", msg)
	}
	if practice.retryCount() != 1 {
		t.Fatalf("expected one retry, got %d", practice.retryCount())
	}

	if err := conn.WriteJSON(ClientMessage{Type: TypeRetry}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != TypeError || msg.Data["error"] != "model is not in a failed state" {
		t.Fatalf("expected refused retry, got %+v", msg)
	}
}

func TestReloadDelegatesToPractice(t *testing.T) {
	practice := &fakePractice{failed: true}
	srv := New(Options{Loader: newTestLoader(t), Practice: practice})
	t.Cleanup(srv.hub.Close)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	if rec.Code != http.StatusAccepted || practice.retryCount() != 1 {
		t.Fatalf("expected accepted retry, got %d (%d retries)", rec.Code, practice.retryCount())
	}
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 once the pipeline is no longer failed, got %d", rec.Code)
	}
}

func TestHubBroadcastsPipelineEvents(t *testing.T) {
	practice := &fakePractice{ready: true}
	conn, srv := dial(t, practice)
	readMessage(t, conn)

	practice.emit(app.Event{
		Kind:       app.EventPrediction,
		Prediction: model.Prediction{Label: "C", Confidence: 0.75},
		Target:     "C",
		Match:      true,
	})
	msg := readMessage(t, conn)
	if msg.Type != TypePrediction || msg.Data["predictedSign"] != "C" || msg.Data["match"] != true {
		t.Fatalf("unexpected prediction message %+v", msg)
	}

	practice.emit(app.Event{Kind: app.EventSessionFinished, Summary: model.SessionSummary{ID: "s1", Username: "ana", Sign: "C"}})
	msg = readMessage(t, conn)
	if msg.Type != TypeSummary || msg.Data["message"] != session.NoSamplesMessage || msg.Data["accuracy"] != nil {
		t.Fatalf("unexpected summary message %+v", msg)
	}
	if msg := readMessage(t, conn); msg.Type != TypeState {
		t.Fatalf("expected state after summary, got %+v", msg)
	}

	if srv.hub.Clients() != 1 {
		t.Fatalf("expected one client, got %d", srv.hub.Clients())
	}
	srv.hub.Close()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	var rest rawMessage
	if err := conn.ReadJSON(&rest); err == nil {
		t.Fatalf("expected connection to close, got %+v", rest)
	}
}

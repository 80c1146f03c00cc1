package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verte-zerg/signdrill/internal/app"
	"github.com/verte-zerg/signdrill/internal/predictor"
	"github.com/verte-zerg/signdrill/internal/session"
)

// Message types exchanged on /ws.
const (
	TypeStart      = "start"
	TypeStop       = "stop"
	TypeNext       = "next"
	TypeRetry      = "retry"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeState      = "state"
	TypePrompt     = "prompt"
	TypePrediction = "prediction"
	TypeSummary    = "summary"
	TypeModel      = "model"
	TypeError      = "error"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

// ClientMessage is a command sent by a WebSocket client.
type ClientMessage struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
}

// ServerMessage is pushed to WebSocket clients.
type ServerMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateData describes the practice state.
type StateData struct {
	Model     string  `json:"model"`
	Error     string  `json:"error,omitempty"`
	Prompt    string  `json:"prompt"`
	Session   string  `json:"session"`
	Remaining float64 `json:"remainingSeconds"`
	Samples   int     `json:"samples"`
	Correct   int     `json:"correct"`
}

// PredictionData describes one classified frame.
type PredictionData struct {
	PredictedSign string  `json:"predictedSign"`
	Confidence    float64 `json:"confidence"`
	Target        string  `json:"target"`
	Match         bool    `json:"match"`
}

// SummaryData describes a finished session.
type SummaryData struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Sign          string   `json:"sign"`
	SampleCount   int      `json:"sampleCount"`
	CorrectCount  int      `json:"correctCount"`
	Accuracy      *float64 `json:"accuracy"`
	AvgConfidence *float64 `json:"avgConfidence"`
	Message       string   `json:"message"`
}

// ModelData describes the model readiness.
type ModelData struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// ErrorData carries a failed command.
type ErrorData struct {
	Error string `json:"error"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans pipeline events out to WebSocket clients and forwards their commands.
type Hub struct {
	practice    Practice
	logger      *slog.Logger
	now         func() time.Time
	unsubscribe func()

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan ServerMessage

	mu     sync.Mutex
	closed bool
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// offer queues msg without blocking and reports whether it was queued.
func (c *client) offer(msg ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// NewHub subscribes to practice and returns a hub ready to accept connections.
func NewHub(practice Practice, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		practice: practice,
		logger:   logger,
		now:      time.Now,
		clients:  map[*client]struct{}{},
	}
	h.unsubscribe = practice.Subscribe(h.onEvent)
	return h
}

// ServeHTTP upgrades the connection and serves one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade to websocket", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan ServerMessage, sendBuffer)}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.logger.Info("websocket client connected", "remote", r.RemoteAddr)
	go h.writePump(c)
	h.deliver(c, h.stateMessage())
	h.readPump(c)
	h.unregister(c)
	h.logger.Info("websocket client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops listening to the pipeline.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = map[*client]struct{}{}
	h.mu.Unlock()

	h.unsubscribe()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) readPump(c *client) {
	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "err", err)
			}
			return
		}
		h.handleCommand(c, msg)
	}
}

func (h *Hub) writePump(c *client) {
	defer func() {
		if err := c.conn.Close(); err != nil {
			_ = err
		}
	}()
	for msg := range c.send {
		if err := c.conn.SetWriteDeadline(h.now().Add(writeWait)); err != nil {
			return
		}
		if err := c.conn.WriteJSON(msg); err != nil {
			h.logger.Warn("websocket write failed", "err", err)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		h.now().Add(writeWait))
}

func (h *Hub) handleCommand(c *client, msg ClientMessage) {
	switch msg.Type {
	case TypeStart:
		if _, err := h.practice.StartSession(msg.Username); err != nil {
			h.deliver(c, h.errorMessage(startError(err)))
		}
	case TypeStop:
		h.practice.StopSession()
	case TypeNext:
		h.practice.NextPrompt()
	case TypeRetry:
		if !h.practice.RetryModel() {
			h.deliver(c, h.errorMessage("model is not in a failed state"))
		}
	case TypePing:
		h.deliver(c, h.message(TypePong, nil))
	default:
		h.deliver(c, h.errorMessage("unknown message type "+msg.Type))
	}
}

func startError(err error) string {
	if errors.Is(err, predictor.ErrModelNotReady) {
		return "model is still loading"
	}
	return err.Error()
}

// deliver queues msg for c without blocking. Messages for a full client are dropped.
func (h *Hub) deliver(c *client, msg ServerMessage) {
	if !c.offer(msg) {
		h.logger.Warn("websocket client too slow; message dropped", "type", msg.Type)
	}
}

// Broadcast queues msg for every connected client.
func (h *Hub) Broadcast(msg ServerMessage) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.deliver(c, msg)
	}
}

func (h *Hub) onEvent(ev app.Event) {
	switch ev.Kind {
	case app.EventModel:
		data := ModelData{State: ev.Model.String()}
		if ev.Err != nil {
			data.Error = ev.Err.Error()
		}
		h.Broadcast(h.message(TypeModel, data))
	case app.EventPrompt:
		h.Broadcast(h.message(TypePrompt, map[string]string{"sign": string(ev.Prompt)}))
	case app.EventPrediction:
		h.Broadcast(h.message(TypePrediction, PredictionData{
			PredictedSign: string(ev.Prediction.Label),
			Confidence:    ev.Prediction.Confidence,
			Target:        string(ev.Target),
			Match:         ev.Match,
		}))
	case app.EventSessionStarted, app.EventSessionStopped:
		h.Broadcast(h.stateMessage())
	case app.EventSessionFinished:
		sum := ev.Summary
		h.Broadcast(h.message(TypeSummary, SummaryData{
			ID:            sum.ID,
			Username:      sum.Username,
			Sign:          string(sum.Sign),
			SampleCount:   sum.SampleCount,
			CorrectCount:  sum.CorrectCount,
			Accuracy:      sum.Accuracy,
			AvgConfidence: sum.AvgConfidence,
			Message:       session.Describe(sum),
		}))
		h.Broadcast(h.stateMessage())
	case app.EventSaveError:
		h.Broadcast(h.errorMessage("failed to save session: " + ev.Err.Error()))
	}
}

func (h *Hub) stateMessage() ServerMessage {
	snap := h.practice.Snapshot()
	data := StateData{
		Model:     snap.Model.String(),
		Prompt:    string(snap.Prompt),
		Session:   snap.Session.State.String(),
		Remaining: snap.Session.Remaining.Seconds(),
		Samples:   len(snap.Session.Results),
		Correct:   snap.Session.Correct,
	}
	if snap.ModelErr != nil {
		data.Error = snap.ModelErr.Error()
	}
	return h.message(TypeState, data)
}

func (h *Hub) errorMessage(msg string) ServerMessage {
	return h.message(TypeError, ErrorData{Error: msg})
}

func (h *Hub) message(kind string, data any) ServerMessage {
	return ServerMessage{Type: kind, Data: data, Timestamp: h.now()}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brensch/twenty48/executor/orchestrator"
	"github.com/brensch/twenty48/executor/search"
	"github.com/brensch/twenty48/game"
)

const (
	wsIdlePingInterval = 30 * time.Second
	maxMoveTime        = 10 * time.Second
)

// MoveRequest is the body of POST /move and of "board" websocket messages.
// Depth and TimeMs override the server budget for this board only.
type MoveRequest struct {
	Board  game.Grid `json:"board"`
	Depth  int       `json:"depth,omitempty"`
	TimeMs int       `json:"time_ms,omitempty"`
}

type MoveResponse struct {
	Move       string  `json:"move"`
	Direction  int     `json:"direction"`
	Valid      bool    `json:"valid"`
	Score      float64 `json:"score"`
	Depth      int     `json:"depth"`
	Nodes      int64   `json:"nodes"`
	Generation uint64  `json:"generation,omitempty"`
}

type wsMessage struct {
	Type    string        `json:"type"`
	Session string        `json:"session,omitempty"`
	Error   string        `json:"error,omitempty"`
	Move    *MoveResponse `json:"move,omitempty"`
}

// Server answers move requests with one shared engine. Each websocket
// session gets its own orchestrator so a new board from a client supersedes
// that client's previous search without touching anyone else's.
type Server struct {
	engine search.Engine
	budget search.Budget
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*orchestrator.Orchestrator
}

func NewServer(engine search.Engine, budget search.Budget, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		budget:   budget,
		logger:   logger,
		sessions: map[string]*orchestrator.Orchestrator{},
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/move", s.handleMove)
	r.Get("/ws", s.handleWS)
	return r
}

// budgetFor applies per-request overrides to the server budget.
func (s *Server) budgetFor(req MoveRequest) search.Budget {
	b := s.budget
	if req.Depth > 0 {
		b.Depth = req.Depth
	}
	if req.TimeMs > 0 {
		b.Time = min(time.Duration(req.TimeMs)*time.Millisecond, maxMoveTime)
	}
	return b
}

func toResponse(res search.Result, gen uint64) MoveResponse {
	return MoveResponse{
		Move:       res.Direction.String(),
		Direction:  int(res.Direction),
		Valid:      res.Valid,
		Score:      res.Score,
		Depth:      res.Depth,
		Nodes:      res.Nodes,
		Generation: gen,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": n})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	board, err := game.FromGrid(req.Board)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	budget := s.budgetFor(req)
	ctx := r.Context()
	if budget.Time > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*budget.Time)
		defer cancel()
	}

	start := time.Now()
	res, err := s.engine.BestMove(ctx, board, budget)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("move", "request_id", middleware.GetReqID(ctx), "move", res.Direction, "score", res.Score, "depth", res.Depth, "elapsed", time.Since(start))
	writeJSON(w, http.StatusOK, toResponse(res, 0))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	session := uuid.NewString()
	orch := orchestrator.New(s.engine, s.logger.With("session", session))
	s.mu.Lock()
	s.sessions[session] = orch
	s.mu.Unlock()

	send := make(chan []byte, 16)
	closed := make(chan struct{})
	push := func(msg wsMessage) {
		select {
		case send <- mustMarshal(msg):
		case <-closed:
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := writeWSWithHeartbeat(conn, send, closed); err != nil {
			s.logger.Debug("websocket write failed", "session", session, "error", err)
		}
		_ = conn.Close()
	}()

	defer func() {
		close(closed)
		_ = orch.Close()
		s.mu.Lock()
		delete(s.sessions, session)
		s.mu.Unlock()
		<-writerDone
	}()

	s.logger.Debug("websocket session opened", "session", session)
	push(wsMessage{Type: "hello", Session: session})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("websocket session closed", "session", session, "error", err)
			return
		}
		var msg struct {
			Type string `json:"type"`
			MoveRequest
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			push(wsMessage{Type: "error", Error: "invalid payload"})
			continue
		}
		switch msg.Type {
		case "board":
			board, err := game.FromGrid(msg.Board)
			if err != nil {
				push(wsMessage{Type: "error", Error: err.Error()})
				continue
			}
			orch.SubmitFunc(board, s.budgetFor(msg.MoveRequest), func(d orchestrator.Delivery) {
				resp := toResponse(d.Result, d.Generation)
				push(wsMessage{Type: "move", Move: &resp})
			})
		case "cancel":
			orch.Cancel(orch.Generation())
		case "ping":
			push(wsMessage{Type: "pong"})
		default:
			push(wsMessage{Type: "error", Error: "unknown message type " + msg.Type})
		}
	}
}

// writeWSWithHeartbeat drains send onto conn until closed, pinging when the
// connection has been idle.
func writeWSWithHeartbeat(conn *websocket.Conn, send <-chan []byte, closed <-chan struct{}) error {
	ticker := time.NewTicker(wsIdlePingInterval)
	defer ticker.Stop()
	lastWrite := time.Now()
	pingPayload := mustMarshal(wsMessage{Type: "ping"})

	for {
		select {
		case <-closed:
			return nil
		case msg := <-send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if time.Since(lastWrite) < wsIdlePingInterval {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, pingPayload); err != nil {
				return err
			}
			lastWrite = time.Now()
		}
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

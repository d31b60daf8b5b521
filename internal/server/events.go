package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/Njaecha/manga-helper/internal/session"
	"github.com/Njaecha/manga-helper/internal/state"
)

const eventWriteTimeout = 5 * time.Second

// Event is one frame of the state stream.
type Event struct {
	Type  string          `json:"type"`
	State *state.Snapshot `json:"state"`
}

// Events streams state snapshots to websocket clients. Each client gets the
// current snapshot on connect and a fresh one after every burst of changes;
// bursts that arrive while a frame is being written collapse into one frame.
type Events struct {
	session *session.Session
	logger  *slog.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func NewEvents(s *session.Session, logger *slog.Logger) (*Events, error) {
	if s == nil {
		return nil, errors.New("server: session required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Events{
		session: s,
		logger:  logger.With(slog.String("agent", "events")),
		conns:   make(map[*websocket.Conn]struct{}),
	}, nil
}

func (e *Events) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		e.logger.Warn("websocket accept failed", slog.Any("error", err))
		return
	}
	if !e.track(conn) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer e.untrack(conn)

	dirty := make(chan struct{}, 1)
	unsubscribe := e.session.State().Subscribe(func(state.Change) {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// Clients never send frames; CloseRead handles their close handshake.
	ctx := conn.CloseRead(r.Context())
	e.logger.Debug("event stream opened", slog.String("remote", r.RemoteAddr))

	if err := e.send(ctx, conn); err != nil {
		e.logger.Debug("event stream closed", slog.Any("error", err))
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			e.logger.Debug("event stream closed", slog.String("remote", r.RemoteAddr))
			return
		case <-dirty:
			if err := e.send(ctx, conn); err != nil {
				e.logger.Debug("event stream closed", slog.Any("error", err))
				return
			}
		}
	}
}

func (e *Events) send(ctx context.Context, conn *websocket.Conn) error {
	writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, Event{Type: "state", State: e.session.Snapshot()})
}

// Close ends every open stream and refuses new ones.
func (e *Events) Close() {
	e.mu.Lock()
	e.closed = true
	conns := make([]*websocket.Conn, 0, len(e.conns))
	for conn := range e.conns {
		conns = append(conns, conn)
	}
	e.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// Clients reports the number of open streams.
func (e *Events) Clients() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

func (e *Events) track(conn *websocket.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.conns[conn] = struct{}{}
	return true
}

func (e *Events) untrack(conn *websocket.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, conn)
}

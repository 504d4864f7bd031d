// Package websocket serves the page connection: one websocket per open
// page carries fan-out events, toasts, tracker state and the notification
// inbox to the browser, and activity signals back.
package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/loggo"

	"academia-backend/internal/changestream"
	"academia-backend/internal/metrics"
	"academia-backend/internal/middleware"
	"academia-backend/internal/realtime"
	"academia-backend/internal/tracker"
)

var logger = loggo.GetLogger("academia.websocket")

// Config carries the Hub's collaborators.
type Config struct {
	Auth          *middleware.JWTAuth
	Stream        changestream.Stream
	Recorder      tracker.Recorder
	Notifications realtime.NotificationStore
	Tracker       tracker.Config
	Clock         clock.Clock
	Metrics       *metrics.Metrics
	// AllowedOrigin is the frontend origin. Empty allows any origin.
	AllowedOrigin string
}

type Hub struct {
	auth          *middleware.JWTAuth
	stream        changestream.Stream
	recorder      tracker.Recorder
	notifications realtime.NotificationStore
	trackerCfg    tracker.Config
	clock         clock.Clock
	metrics       *metrics.Metrics
	upgrader      websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	sessions map[*session]struct{}
}

func NewHub(cfg Config) *Hub {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		auth:          cfg.Auth,
		stream:        cfg.Stream,
		recorder:      cfg.Recorder,
		notifications: cfg.Notifications,
		trackerCfg:    cfg.Tracker,
		clock:         clk,
		metrics:       cfg.Metrics,
		ctx:           ctx,
		cancel:        cancel,
		sessions:      make(map[*session]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return cfg.AllowedOrigin == "" || origin == "" || origin == cfg.AllowedOrigin
		},
	}
	return h
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := h.auth.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warningf("websocket upgrade failed: %v", err)
		return
	}

	s := newSession(h, conn, userID)
	if !h.register(s) {
		conn.Close()
		return
	}

	go s.writePump()
	if err := s.start(h.ctx); err != nil {
		logger.Errorf("user %s: starting session: %v", userID, err)
		conn.Close()
	}

	go func() {
		defer h.unregister(s)
		s.readPump(h.ctx)
	}()
}

func (h *Hub) register(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	logger.Infof("websocket connected: user %s (pages: %d)", s.userID, h.countLocked(s.userID))
	return true
}

func (h *Hub) unregister(s *session) {
	defer h.wg.Done()
	s.stop()

	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	logger.Infof("websocket disconnected: user %s", s.userID)
}

func (h *Hub) countLocked(userID uuid.UUID) int {
	n := 0
	for s := range h.sessions {
		if s.userID == userID {
			n++
		}
	}
	return n
}

// Connections reports how many pages are connected.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close disconnects every page and waits for their final saves.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for s := range h.sessions {
		s.conn.Close()
	}
	h.mu.Unlock()

	h.wg.Wait()
	h.cancel()
}

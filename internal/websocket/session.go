package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"academia-backend/internal/events"
	"academia-backend/internal/models"
	"academia-backend/internal/realtime"
	"academia-backend/internal/tracker"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
	finalSaveWait  = 10 * time.Second
)

// session is everything that lives for one open page: its event bus,
// change router, study tracker and notification mirror. Closing the
// connection tears all of it down.
type session struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  uuid.UUID
	bus     *events.Bus
	router  *realtime.Router
	tracker *tracker.Tracker
	inbox   *realtime.Inbox

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newSession(h *Hub, conn *websocket.Conn, userID uuid.UUID) *session {
	s := &session{
		hub:    h,
		conn:   conn,
		userID: userID,
		bus:    events.NewBus(),
		send:   make(chan []byte, sendBuffer),
	}
	s.router = realtime.NewRouter(h.stream, s.bus, realtime.ToasterFunc(s.toast), h.metrics)
	s.tracker = tracker.New(h.trackerCfg, h.clock, h.recorder, h.metrics)
	s.inbox = realtime.NewInbox(userID, h.notifications, h.clock, s.pushInbox)
	return s
}

// start wires the listeners and opens the change subscription.
func (s *session) start(ctx context.Context) error {
	if _, err := s.bus.SubscribeAll(s.forward); err != nil {
		return errors.Trace(err)
	}
	if _, err := s.bus.Subscribe(events.NotificationUpdate, s.inbox.Apply); err != nil {
		return errors.Trace(err)
	}

	s.router.Setup(ctx, s.userID)
	if err := s.inbox.Load(ctx); err != nil {
		logger.Warningf("user %s: %v", s.userID, err)
	}
	return nil
}

// stop ends the page lifecycle: the tracker gets its final save before
// the subscription and the bus go away.
func (s *session) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), finalSaveWait)
	defer cancel()

	s.tracker.StopTracking(ctx)
	s.router.Teardown()
	s.bus.Close()

	s.mu.Lock()
	s.closed = true
	close(s.send)
	s.mu.Unlock()
}

// readPump handles page messages until the connection fails.
func (s *session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("user %s: websocket read: %v", s.userID, err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("", "invalid message")
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *session) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case MsgStartTracking:
		var p startTrackingPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.sendError(msg.Type, "invalid payload")
			return
		}
		res := s.tracker.StartTracking(ctx, s.userID, models.ResourceRef{CourseID: p.CourseID, LessonID: p.LessonID})
		s.pushTracking(&res, s.tracker.Snapshot())

	case MsgStopTracking:
		s.pushTracking(nil, s.tracker.StopTracking(ctx))

	case MsgActivity:
		s.tracker.Touch()

	case MsgVisibility:
		var p visibilityPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.sendError(msg.Type, "invalid payload")
			return
		}
		if p.Visible {
			s.tracker.ResumeTracking()
		} else {
			s.tracker.PauseTracking()
		}
		s.pushTracking(nil, s.tracker.Snapshot())

	case MsgMarkRead:
		var p markReadPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.sendError(msg.Type, "invalid payload")
			return
		}
		if _, err := s.inbox.MarkAsRead(ctx, p.ID); err != nil {
			if errors.Is(err, errors.NotFound) {
				s.sendError(msg.Type, "notification not found")
				return
			}
			logger.Errorf("user %s: %v", s.userID, err)
			s.sendError(msg.Type, "failed to mark notification read")
		}

	default:
		s.sendError(msg.Type, "unknown message type")
	}
}

func (s *session) forward(ev events.Event) {
	s.enqueue(MsgEvent, ev)
}

func (s *session) toast(t models.Toast) {
	s.enqueue(MsgToast, t)
}

func (s *session) pushInbox() {
	s.enqueue(MsgInbox, inboxPayload{
		UnreadCount:   s.inbox.UnreadCount(),
		Notifications: s.inbox.Items(),
	})
}

func (s *session) pushTracking(res *tracker.StartResult, snap tracker.Snapshot) {
	s.enqueue(MsgTracking, trackingPayload{
		State:    snap.State.String(),
		Result:   res,
		Snapshot: snap,
	})
}

func (s *session) sendError(request, message string) {
	s.enqueue(MsgError, errorPayload{Request: request, Message: message})
}

// enqueue queues a message for the write pump. Messages for a page that
// cannot keep up are dropped.
func (s *session) enqueue(msgType string, payload interface{}) {
	data, err := json.Marshal(models.WSMessage{Type: msgType, Payload: payload})
	if err != nil {
		logger.Errorf("encoding %s message: %v", msgType, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
		logger.Warningf("user %s: send buffer full, dropping %s message", s.userID, msgType)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

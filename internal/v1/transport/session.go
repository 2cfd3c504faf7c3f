package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/moli-green/relay/internal/v1/admission"
	"github.com/moli-green/relay/internal/v1/logging"
	"github.com/moli-green/relay/internal/v1/metrics"
	"github.com/moli-green/relay/internal/v1/ratelimit"
	"github.com/moli-green/relay/internal/v1/room"
)

const (
	// MaxMessageSize caps inbound text frames. Enforced both at the
	// application layer and as the WebSocket read limit.
	MaxMessageSize = 16 * 1024

	writeWait = 10 * time.Second
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
}

// controlFrame is the shape of server-originated frames (identity, leave).
type controlFrame struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId"`
}

// Session is the state machine for one relayed connection: identity issuance,
// inbound validate/rewrite/publish, outbound self-filtered forwarding, and
// exactly-once cleanup.
type Session struct {
	id     string
	conn   wsConnection
	ticket *admission.Ticket
	hub    *Hub

	room *room.Room
	sub  <-chan *room.Message

	window *ratelimit.Window

	done chan struct{}
	once sync.Once
}

func newSession(conn wsConnection, ticket *admission.Ticket, hub *Hub) *Session {
	return &Session{
		id:     uuid.New().String(),
		conn:   conn,
		ticket: ticket,
		hub:    hub,
		window: ratelimit.NewWindow(),
		done:   make(chan struct{}),
	}
}

// ID returns the server-assigned connection identity.
func (s *Session) ID() string {
	return s.id
}

// run drives the session from Identified through Closed. Cleanup is bound to
// every exit path via shutdown.
func (s *Session) run() {
	defer s.shutdown()

	s.conn.SetReadLimit(MaxMessageSize)

	// Identity is the first server-to-client frame; if it cannot be
	// delivered the session drains immediately.
	if err := s.sendIdentity(); err != nil {
		logging.Warn(context.Background(), "identity send failed",
			zap.String("connectionId", s.id), zap.Error(err))
		return
	}

	go s.writePump()
	s.readPump()
}

func (s *Session) sendIdentity() error {
	frame, err := json.Marshal(controlFrame{Type: "identity", SenderID: s.id})
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// readPump validates inbound frames and publishes them to the room. Returning
// drains the session.
func (s *Session) readPump() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			// Close frames, read errors, and read-limit breaches all land here.
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		switch s.window.Count() {
		case ratelimit.Disconnect:
			logging.Warn(context.Background(), "hard rate limit breached, disconnecting",
				zap.String("connectionId", s.id))
			return
		case ratelimit.Drop:
			metrics.MessagesDropped.WithLabelValues("rate_soft").Inc()
			continue
		case ratelimit.Proceed:
		}

		payload, ok := s.rewriteSender(data)
		if !ok {
			continue
		}

		s.room.Publish(&room.Message{SenderID: s.id, Payload: payload})
		metrics.MessagesRelayed.Inc()
	}
}

// rewriteSender enforces the anti-spoofing invariant: the relayed object's
// top-level senderId is always the server-assigned identity, regardless of
// what the client sent. Oversized, malformed, and non-object payloads are
// dropped without disconnecting.
func (s *Session) rewriteSender(data []byte) ([]byte, bool) {
	if len(data) > MaxMessageSize {
		metrics.MessagesDropped.WithLabelValues("too_large").Inc()
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		return nil, false
	}
	if obj == nil {
		// Valid JSON but "null"; not an object.
		metrics.MessagesDropped.WithLabelValues("not_object").Inc()
		return nil, false
	}

	obj["senderId"] = s.id
	out, err := json.Marshal(obj)
	if err != nil {
		metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		return nil, false
	}
	return out, true
}

// writePump forwards room broadcasts to the peer, filtering out the session's
// own messages. A write failure closes the connection, which in turn unblocks
// the read side so cleanup runs.
func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sub:
			if msg.SenderID == s.id {
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				logging.Warn(context.Background(), "outbound write failed",
					zap.String("connectionId", s.id), zap.Error(err))
				_ = s.conn.Close()
				return
			}
		}
	}
}

// Close sends a going-away frame and runs cleanup. Used by hub shutdown.
func (s *Session) Close(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.shutdown()
}

// shutdown runs the cleanup sequence exactly once, on every termination path:
//  1. publish the leave announcement while the room still holds this member
//  2. decrement room occupancy
//  3. prune the room if it emptied
//  4. decrement the global session counter
//  5. release the admission ticket
func (s *Session) shutdown() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()

		if leave, err := json.Marshal(controlFrame{Type: "leave", SenderID: s.id}); err == nil {
			s.room.Publish(&room.Message{SenderID: s.id, Payload: leave})
		}
		s.room.Unsubscribe(s.id)
		s.room.Leave()
		s.hub.registry.Prune(s.room.ID())

		s.hub.admission.SessionEnded()
		metrics.DecConnection()
		s.ticket.Release()

		s.hub.forget(s)

		logging.Info(context.Background(), "session closed",
			zap.String("connectionId", s.id), zap.String("roomId", s.room.ID()))
	})
}

// Package transport binds the admission layer, the room registry, and the
// per-connection relay sessions to the WebSocket endpoint.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/moli-green/relay/internal/v1/admission"
	"github.com/moli-green/relay/internal/v1/logging"
	"github.com/moli-green/relay/internal/v1/metrics"
	"github.com/moli-green/relay/internal/v1/room"
)

// Hub owns the process-wide relay state and serves WebSocket upgrades.
type Hub struct {
	registry  *room.Registry
	admission *admission.Controller
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[*Session]struct{}
	wg       sync.WaitGroup
}

// NewHub creates a Hub wired to the given admission controller and registry.
func NewHub(ctrl *admission.Controller, registry *room.Registry) *Hub {
	return &Hub{
		registry:  registry,
		admission: ctrl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Admission already vetted the Origin header before the upgrade.
			CheckOrigin: func(r *http.Request) bool {
				return ctrl.OriginAllowed(r.Header.Get("Origin"))
			},
		},
		sessions: make(map[*Session]struct{}),
	}
}

// ServeWs handles GET /ws: admission, upgrade, then session start. The
// admission ticket moves into the session and is released when it ends.
func (h *Hub) ServeWs(c *gin.Context) {
	remoteIP := c.ClientIP()

	ticket, err := h.admission.Admit(remoteIP, c.GetHeader("Origin"))
	if err != nil {
		status, body, reason := rejectionResponse(err)
		metrics.AdmissionRejections.WithLabelValues(reason).Inc()
		logging.Warn(c.Request.Context(), "upgrade rejected",
			zap.String("remoteIp", remoteIP), zap.String("reason", reason))
		c.String(status, body)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote its handshake error; just undo the reservation.
		ticket.Release()
		logging.Warn(c.Request.Context(), "upgrade failed",
			zap.String("remoteIp", remoteIP), zap.Error(err))
		return
	}

	h.startSession(conn, ticket)
}

// rejectionResponse maps an admission error onto the HTTP contract.
func rejectionResponse(err error) (status int, body, reason string) {
	switch {
	case errors.Is(err, admission.ErrOriginForbidden):
		return http.StatusForbidden, "Forbidden Origin", "origin"
	case errors.Is(err, admission.ErrTooManyPerIP):
		return http.StatusTooManyRequests, "Rate Limit Exceeded", "ip"
	case errors.Is(err, admission.ErrServerBusy):
		return http.StatusServiceUnavailable, "Server Busy", "global"
	default:
		return http.StatusInternalServerError, "Lock Poisoned", "internal"
	}
}

// startSession assigns the connection to a room and runs its duplex loop.
func (h *Hub) startSession(conn wsConnection, ticket *admission.Ticket) *Session {
	s := newSession(conn, ticket, h)

	h.admission.SessionStarted()
	metrics.IncConnection()

	s.room = h.registry.Assign(s.id)
	s.sub = s.room.Subscribe(s.id)

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.wg.Add(1)

	logging.Info(context.Background(), "session started",
		zap.String("connectionId", s.id), zap.String("roomId", s.room.ID()))

	go s.run()
	return s
}

// forget drops a finished session from the live set.
func (h *Hub) forget(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown stops admitting, closes every live session with a going-away
// frame, and waits for their cleanup to finish or the context to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.admission.Close()

	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close("server shutting down")
	}
	logging.Info(ctx, "closed live sessions", zap.Int("count", len(sessions)))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

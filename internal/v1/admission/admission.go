// Package admission gates WebSocket upgrade attempts behind origin, global,
// and per-IP concurrent connection limits. Admission hands out a Ticket that
// must be released on every termination path.
package admission

import (
	"errors"
	"sync"
	"sync/atomic"
)

const (
	// MaxGlobalConnections is the process-wide live session ceiling.
	MaxGlobalConnections = 1000

	// MaxConnsPerIP is the concurrent connection ceiling per remote IP.
	MaxConnsPerIP = 10
)

var (
	// ErrOriginForbidden means the Origin header did not match the configured allow-list.
	ErrOriginForbidden = errors.New("admission: origin forbidden")

	// ErrServerBusy means the global connection ceiling is reached.
	ErrServerBusy = errors.New("admission: server busy")

	// ErrTooManyPerIP means the remote IP already holds the maximum number of connections.
	ErrTooManyPerIP = errors.New("admission: too many connections from ip")

	// ErrUnavailable means the controller no longer admits connections (shutdown).
	ErrUnavailable = errors.New("admission: controller unavailable")
)

// Controller holds the admission state shared by all upgrade attempts.
type Controller struct {
	allowedOrigin string
	maxGlobal     int64
	maxPerIP      int

	sessions atomic.Int64 // live sessions; incremented only after setup begins
	closed   atomic.Bool

	mu    sync.Mutex // guards perIP; never held across blocking calls
	perIP map[string]int
}

// NewController creates a Controller with production limits. An empty
// allowedOrigin disables the origin check.
func NewController(allowedOrigin string) *Controller {
	return NewControllerWithLimits(allowedOrigin, MaxGlobalConnections, MaxConnsPerIP)
}

// NewControllerWithLimits creates a Controller with explicit ceilings.
func NewControllerWithLimits(allowedOrigin string, maxGlobal int64, maxPerIP int) *Controller {
	return &Controller{
		allowedOrigin: allowedOrigin,
		maxGlobal:     maxGlobal,
		maxPerIP:      maxPerIP,
		perIP:         make(map[string]int),
	}
}

// OriginAllowed reports whether an upgrade with the given Origin header may
// proceed. An absent header is admitted even when an allow-list is configured,
// so non-browser clients keep working.
func (c *Controller) OriginAllowed(origin string) bool {
	if c.allowedOrigin == "" || origin == "" {
		return true
	}
	return origin == c.allowedOrigin
}

// Admit runs the ordered admission checks for one upgrade attempt and, on
// success, reserves a per-IP slot. First failure wins:
//  1. origin mismatch      -> ErrOriginForbidden
//  2. global ceiling       -> ErrServerBusy
//  3. per-IP ceiling       -> ErrTooManyPerIP
//
// The returned Ticket holds the per-IP reservation and must be released
// exactly once when the connection terminates, on every exit path.
func (c *Controller) Admit(remoteIP, origin string) (*Ticket, error) {
	if c.closed.Load() {
		return nil, ErrUnavailable
	}

	if !c.OriginAllowed(origin) {
		return nil, ErrOriginForbidden
	}

	if c.sessions.Load() >= c.maxGlobal {
		return nil, ErrServerBusy
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.perIP[remoteIP] >= c.maxPerIP {
		return nil, ErrTooManyPerIP
	}
	c.perIP[remoteIP]++

	return &Ticket{ip: remoteIP, ctrl: c}, nil
}

// SessionStarted increments the global live session counter. Called once per
// admitted connection when session setup begins, after Admit succeeded.
func (c *Controller) SessionStarted() {
	c.sessions.Add(1)
}

// SessionEnded decrements the global live session counter. Callers guard
// against double invocation; the counter still saturates at zero as a last
// line of defense.
func (c *Controller) SessionEnded() {
	if c.sessions.Add(-1) < 0 {
		c.sessions.Store(0)
	}
}

// LiveSessions returns the current global session count. Advisory; admission
// serialization happens in Admit.
func (c *Controller) LiveSessions() int64 {
	return c.sessions.Load()
}

// ConnectionsFor returns the number of reserved slots for an IP.
func (c *Controller) ConnectionsFor(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perIP[ip]
}

// TrackedIPs returns how many IPs currently hold at least one slot.
func (c *Controller) TrackedIPs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.perIP)
}

// Close stops admitting new connections. Existing tickets stay valid.
func (c *Controller) Close() {
	c.closed.Store(true)
}

// Ticket is the scoped capability for one admitted connection's per-IP slot.
type Ticket struct {
	ip   string
	ctrl *Controller
	once sync.Once
}

// IP returns the remote address the ticket was issued for.
func (t *Ticket) IP() string {
	return t.ip
}

// Release returns the per-IP slot. Idempotent; the counter saturates at zero
// and the map entry is removed when the count reaches zero.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.ctrl.mu.Lock()
		defer t.ctrl.mu.Unlock()
		if n, ok := t.ctrl.perIP[t.ip]; ok {
			if n <= 1 {
				delete(t.ctrl.perIP, t.ip)
			} else {
				t.ctrl.perIP[t.ip] = n - 1
			}
		}
	})
}

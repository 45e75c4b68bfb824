package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patricou/PATTOOL2-sub002/internal/auth"
	"github.com/patricou/PATTOOL2-sub002/internal/wire"
	"github.com/patricou/PATTOOL2-sub002/pkg/logger"
)

const (
	// DefaultConnectTimeout is the advisory window for a connect attempt.
	// Crossing it surfaces a TimedOut status but never aborts the transport.
	DefaultConnectTimeout = 15 * time.Second

	// defaultPath is the socket endpoint path on the server.
	defaultPath = "/v1/updates"

	// eventBuffer bounds the undelivered event queue.
	eventBuffer = 256

	// statusBuffer bounds each subscriber's undelivered status queue.
	statusBuffer = 16
)

// Conn is an established realtime connection handle.
type Conn interface {
	// Connected reports whether the transport is currently live.
	Connected() bool
	// Close releases the connection.
	Close()
}

// ConnHandlers carries the callbacks a dialer must register on the transport
// before connecting.
type ConnHandlers struct {
	// OnConnect fires when the transport handshake completes.
	OnConnect func()
	// OnDisconnect fires when the transport drops, with the close reason.
	OnDisconnect func(reason string)
	// OnConnectError fires when a handshake attempt is rejected.
	OnConnectError func(reason string)
	// OnEvent fires for every raw discussion frame.
	OnEvent func(payload any)
}

// Dialer establishes one realtime connection. The production implementation
// is DialSocketIO; tests substitute a fake.
type Dialer func(serverURL, path string, authPayload map[string]any, handlers ConnHandlers) (Conn, error)

// Config controls a Manager.
type Config struct {
	// ServerURL is the realtime server base URL.
	ServerURL string
	// Path overrides the socket endpoint path.
	Path string
	// Tokens supplies the bearer credential for the handshake.
	Tokens auth.TokenSource
	// ConnectTimeout overrides DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// Dial overrides the transport dialer.
	Dial Dialer
}

// Manager owns the lifecycle of one realtime subscription to one discussion
// topic at a time.
//
// Transport failures never surface as errors to callers: they become status
// transitions on the status stream, and the transport retries on its own. An
// explicit Disconnect is the only terminal transition.
type Manager struct {
	cfg  Config
	dial Dialer

	mu           sync.Mutex
	discussionID string
	conn         Conn
	userClosed   bool
	attempt      int
	status       Status
	subs         map[int]chan Status
	nextSub      int
	timer        *time.Timer

	// dialSeq invalidates callbacks from a torn-down connection.
	dialSeq int

	events chan wire.Event
}

// NewManager creates an idle Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	dial := cfg.Dial
	if dial == nil {
		dial = DialSocketIO
	}
	return &Manager{
		cfg:    cfg,
		dial:   dial,
		status: Status{State: StateIdle},
		subs:   make(map[int]chan Status),
		events: make(chan wire.Event, eventBuffer),
	}
}

// Connect subscribes to a discussion topic.
//
// Calling it again with the same id while the subscription is live re-emits
// Connected and leaves the single existing subscription in place. A lost
// handle for the same id is re-established. A different id tears down the old
// subscription first.
func (m *Manager) Connect(discussionID string) error {
	if discussionID == "" {
		return fmt.Errorf("discussionID required")
	}

	m.mu.Lock()
	if m.discussionID == discussionID && m.conn != nil && m.conn.Connected() {
		m.setStatusLocked(Status{State: StateConnected})
		m.mu.Unlock()
		return nil
	}
	m.teardownLocked()
	m.discussionID = discussionID
	m.userClosed = false
	m.attempt = 0
	m.dialSeq++
	seq := m.dialSeq
	m.setStatusLocked(Status{State: StateConnecting})
	m.mu.Unlock()

	// A failed token fetch still attempts the handshake without a
	// credential so the server rejects it uniformly.
	token, err := m.cfg.Tokens.Token(context.Background())
	if err != nil {
		logger.Warnf("token unavailable, connecting unauthenticated: %v", err)
		token = ""
	}
	authPayload := map[string]any{
		"clientType":   "discussion-scoped",
		"discussionId": discussionID,
	}
	if token != "" {
		authPayload["token"] = token
	}

	handlers := ConnHandlers{
		OnConnect:      func() { m.handleConnect(seq) },
		OnDisconnect:   func(reason string) { m.handleDisconnect(seq, reason) },
		OnConnectError: func(reason string) { m.handleConnectError(seq, reason) },
		OnEvent:        func(payload any) { m.handleEvent(seq, payload) },
	}

	conn, err := m.dial(m.cfg.ServerURL, m.cfg.Path, authPayload, handlers)
	if err != nil {
		m.mu.Lock()
		if m.dialSeq == seq {
			m.setStatusLocked(Status{State: StateError, Reason: err.Error()})
		}
		m.mu.Unlock()
		return fmt.Errorf("connect %s: %w", discussionID, err)
	}

	m.mu.Lock()
	if m.dialSeq != seq {
		// Disconnect (or a newer Connect) raced us.
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.armTimeoutLocked(seq)
	live := conn.Connected()
	m.mu.Unlock()

	if live {
		m.handleConnect(seq)
	}
	return nil
}

// Disconnect releases the subscription and the transport session. Idempotent
// and always safe to call.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.userClosed = true
	m.dialSeq++
	m.stopTimerLocked()
	conn := m.conn
	m.conn = nil
	m.discussionID = ""
	if m.status.State != StateIdle && m.status.State != StateDisconnected {
		m.setStatusLocked(Status{State: StateDisconnected})
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Status returns the last-known status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// DiscussionID returns the currently subscribed discussion id, if any.
func (m *Manager) DiscussionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discussionID
}

// StatusChanges subscribes to status transitions. The last-known status is
// redelivered first so late subscribers see the current state. The returned
// cancel func releases the subscription.
func (m *Manager) StatusChanges() (<-chan Status, func()) {
	ch := make(chan Status, statusBuffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	if m.status.State != StateIdle {
		ch <- m.status
	}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
	return ch, cancel
}

// Events returns the stream of typed discussion events. Valid for the
// lifetime of the Manager; frames arriving while no subscription is live are
// simply absent.
func (m *Manager) Events() <-chan wire.Event {
	return m.events
}

func (m *Manager) handleConnect(seq int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dialSeq != seq || m.userClosed {
		return
	}
	m.attempt = 0
	m.stopTimerLocked()
	m.setStatusLocked(Status{State: StateConnected})
}

func (m *Manager) handleDisconnect(seq int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dialSeq != seq {
		return
	}
	if m.userClosed {
		m.setStatusLocked(Status{State: StateDisconnected})
		return
	}
	// Unexpected close: the transport retries on a fixed delay. Surface the
	// attempt counter for operator visibility.
	m.attempt++
	logger.Debugf("connection to %s dropped (%s), reconnect attempt %d", m.discussionID, reason, m.attempt)
	m.setStatusLocked(Status{State: StateReconnecting, Attempt: m.attempt})
	m.armTimeoutLocked(seq)
}

func (m *Manager) handleConnectError(seq int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dialSeq != seq {
		return
	}
	if isAuthFailure(reason) {
		// Drop a cached credential the server just refused so the next
		// attempt fetches a fresh one.
		if inv, ok := m.cfg.Tokens.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
		m.setStatusLocked(Status{State: StateError, Reason: reason})
		return
	}
	logger.Debugf("connect error for %s: %s", m.discussionID, reason)
}

func (m *Manager) handleEvent(seq int, payload any) {
	m.mu.Lock()
	if m.dialSeq != seq {
		m.mu.Unlock()
		return
	}
	current := m.discussionID
	m.mu.Unlock()

	ev, err := wire.ParseEventFrame(payload)
	if err != nil {
		// One malformed frame is dropped; the stream continues.
		logger.Warnf("dropping malformed event: %v", err)
		return
	}
	if ev.DiscussionID == "" {
		// Status frames may omit the id; they apply to the active topic.
		ev.DiscussionID = current
	}
	if ev.DiscussionID != current {
		logger.Debugf("dropping event for inactive discussion %s", ev.DiscussionID)
		return
	}

	select {
	case m.events <- *ev:
	default:
		logger.Warnf("event queue full, dropping %s event", ev.Action)
	}
}

// armTimeoutLocked starts the advisory connect window for the current
// attempt.
func (m *Manager) armTimeoutLocked(seq int) {
	m.stopTimerLocked()
	m.timer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.dialSeq != seq {
			return
		}
		if m.status.State == StateConnecting || m.status.State == StateReconnecting {
			m.setStatusLocked(Status{State: StateTimedOut})
		}
	})
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// teardownLocked releases any existing connection without emitting a status.
func (m *Manager) teardownLocked() {
	m.stopTimerLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) setStatusLocked(status Status) {
	m.status = status
	logger.Tracef("connection status: %s", status)
	for _, ch := range m.subs {
		select {
		case ch <- status:
		default:
			// Slow subscriber; it can re-poll Status().
		}
	}
}

func isAuthFailure(reason string) bool {
	lower := strings.ToLower(reason)
	return strings.Contains(lower, "401") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "authentication")
}

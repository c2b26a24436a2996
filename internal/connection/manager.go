package connection

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/topicmux/topicmux/internal/wire"
)

// Manager owns the single WebSocket connection and its lifecycle.
//
// All other components observe it read-only: the Sink receives decoded
// messages, the SubscriptionSource is consulted on every open, and consumers
// watch Events().
type Manager struct {
	cfg    Config
	logger *slog.Logger

	sink Sink
	subs SubscriptionSource

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	queue      []wire.Request
	attempts   int
	generation uint64
	closed     bool
	lastPing   time.Time
	retryTimer *time.Timer

	// writeMu serializes frames and fences the open-time replay: subscription
	// replay and queue flush finish before any post-open traffic is written.
	writeMu sync.Mutex

	events chan Event

	messages   atomic.Uint64
	reconnects atomic.Uint64
	dropped    atomic.Uint64
}

// NewManager creates a manager. Bind must be called before Connect.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Manager{
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
		events: make(chan Event, cfg.EventBufferSize),
	}
}

// Bind wires the message sink and the subscription source. Separate from the
// constructor because both sides need the manager first.
func (m *Manager) Bind(sink Sink, subs SubscriptionSource) {
	m.sink = sink
	m.subs = subs
}

// Connect opens the socket if it is not already open or connecting. An
// explicit call also resets an exhausted retry budget.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.attempts = 0
	gen := m.generation
	m.mu.Unlock()

	m.emit(Event{Type: EventStateChanged, State: StateConnecting, Generation: gen})
	go m.dial()
	return nil
}

// Close tears the connection down for good. Further Connect calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.state = StateClosed
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
	return nil
}

// Send writes the request if the socket is open; otherwise it queues the
// request FIFO and triggers a connect so the message is delivered once a
// connection is established.
func (m *Manager) Send(req wire.Request) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.state == StateOpen && m.conn != nil {
		conn := m.conn
		m.mu.Unlock()
		if err := m.write(conn, req); err != nil {
			// Socket died mid-write; keep the message for the next open.
			m.logger.Warn("send failed, queueing", "topic", req.Topic, "error", err)
			m.mu.Lock()
			m.queue = append(m.queue, req)
			m.mu.Unlock()
		}
		return
	}

	m.queue = append(m.queue, req)
	idle := m.state == StateClosed
	if idle {
		m.state = StateConnecting
		m.attempts = 0
	}
	gen := m.generation
	m.mu.Unlock()

	if idle {
		m.emit(Event{Type: EventStateChanged, State: StateConnecting, Generation: gen})
		go m.dial()
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOpen reports whether the socket is currently open.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateOpen
}

// Generation returns the connection generation: a counter incremented on
// every fresh socket attempt, used to detect "a reconnect happened since I
// last acted".
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Events returns the lifecycle event channel. Events are dropped, not
// blocked on, when the consumer falls behind.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{
		State:      m.state,
		Generation: m.generation,
		QueueLen:   len(m.queue),
	}
	m.mu.Unlock()
	st.Messages = m.messages.Load()
	st.Reconnects = m.reconnects.Load()
	st.Dropped = m.dropped.Load()
	return st
}

// dial performs one connection attempt.
func (m *Manager) dial() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(m.cfg.URL, nil)
	if err != nil {
		m.logger.Warn("dial failed", "url", m.cfg.URL, "error", err)
		m.scheduleRetry()
		return
	}

	// Fence out post-open traffic until replay and flush are done.
	m.writeMu.Lock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.writeMu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.state = StateOpen
	m.attempts = 0
	m.lastPing = time.Now()
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()

	// Resubscribe every active topic, then drain the queue oldest first.
	// Ordering of requests across the disconnect is preserved.
	if m.subs != nil {
		for _, topic := range m.subs.Active() {
			m.writeLocked(conn, wire.Sub(topic))
		}
	}
	for _, req := range queued {
		m.writeLocked(conn, req)
	}
	m.writeMu.Unlock()

	m.logger.Info("connected", "url", m.cfg.URL, "generation", gen, "replayed_queue", len(queued))
	m.emit(Event{Type: EventStateChanged, State: StateOpen, Generation: gen})

	go m.readLoop(conn)
	if m.cfg.StaleTimeout > 0 {
		go m.watchdog(conn)
	}
}

// scheduleRetry arms the backoff timer for the next attempt, or gives up
// once the budget is spent.
func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.attempts++
	if m.attempts > m.cfg.MaxReconnectTries {
		m.state = StateClosed
		attempts := m.attempts
		gen := m.generation
		m.mu.Unlock()

		m.logger.Error("reconnect budget exhausted", "attempts", attempts-1)
		if m.sink != nil {
			m.sink.Reset(ResetRetriesExhausted)
		}
		m.emit(Event{Type: EventStateChanged, State: StateClosed, Generation: gen})
		m.emit(Event{Type: EventReloadRequired, State: StateClosed, Generation: gen})
		return
	}

	delay := m.cfg.ReconnectBaseDelay << (m.attempts - 1)
	if delay > m.cfg.ReconnectMaxDelay || delay <= 0 {
		delay = m.cfg.ReconnectMaxDelay
	}
	m.state = StateReconnecting
	m.retryTimer = time.AfterFunc(delay, m.dial)
	attempt := m.attempts
	gen := m.generation
	m.mu.Unlock()

	m.reconnects.Add(1)
	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	m.emit(Event{Type: EventStateChanged, State: StateReconnecting, Generation: gen})
}

// readLoop reads frames until the socket dies, answering heartbeats and
// dispatching decoded messages.
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, err)
			return
		}

		if string(data) == wire.Ping {
			m.mu.Lock()
			m.lastPing = time.Now()
			m.mu.Unlock()
			if err := m.writeRaw(conn, []byte(wire.Pong)); err != nil {
				m.logger.Warn("heartbeat reply failed", "error", err)
			}
			continue
		}

		var resp wire.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			// Malformed frames are dropped; the dispatch loop never dies.
			m.dropped.Add(1)
			m.logger.Warn("malformed message dropped", "error", err)
			continue
		}

		m.messages.Add(1)
		if m.sink != nil {
			m.sink.Dispatch(resp)
		}
	}
}

// handleClose classifies the close and decides between retry and hand-off.
func (m *Manager) handleClose(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// A stale read loop from a replaced socket.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	gen := m.generation
	m.mu.Unlock()

	conn.Close()
	m.emit(Event{Type: EventStateChanged, State: StateClosed, Generation: gen})

	code := 0
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}

	switch {
	case code == CloseAuthFailed:
		m.logger.Warn("authentication failure close", "code", code)
		if m.sink != nil {
			m.sink.Reset(ResetAuthFailed)
		}
		m.emit(Event{Type: EventAuthFailed, State: StateClosed, Code: code, Generation: gen})

	case code >= CloseUnrecoverable:
		m.logger.Error("unrecoverable server close", "code", code)
		if m.sink != nil {
			m.sink.Reset(ResetServerError)
		}
		m.emit(Event{Type: EventReloadRequired, State: StateClosed, Code: code, Generation: gen})

	default:
		m.logger.Warn("connection lost", "code", code, "error", err)
		m.scheduleRetry()
	}
}

// watchdog closes the socket when the server stops sending heartbeats. The
// resulting read error drives the normal reconnect path.
func (m *Manager) watchdog(conn *websocket.Conn) {
	interval := m.cfg.StaleTimeout / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		current := m.conn == conn
		lastPing := m.lastPing
		m.mu.Unlock()

		if !current {
			return
		}
		if time.Since(lastPing) > m.cfg.StaleTimeout {
			m.logger.Warn("no heartbeat received, closing stale connection",
				"last_ping", lastPing,
				"timeout", m.cfg.StaleTimeout,
			)
			conn.Close()
			return
		}
	}
}

func (m *Manager) write(conn *websocket.Conn, req wire.Request) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.writeLocked(conn, req)
}

func (m *Manager) writeLocked(conn *websocket.Conn, req wire.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) writeRaw(conn *websocket.Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// emit delivers an event without ever blocking the socket path.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Debug("event buffer full, dropping", "type", string(ev.Type))
	}
}

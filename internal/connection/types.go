package connection

import (
	"errors"
	"time"

	"github.com/topicmux/topicmux/internal/wire"
)

// Errors
var (
	ErrClosed = errors.New("connection manager closed")
)

// Reserved close codes in the application protocol. Everything else is
// retryable.
const (
	// CloseAuthFailed means the server rejected the session's credentials.
	// The client clears local state and hands off to the login flow.
	CloseAuthFailed = 4001

	// CloseUnrecoverable is the lower bound of the server-error code range.
	// Codes at or above it clear local state and force a full reload.
	CloseUnrecoverable = 4500
)

// State is the connection lifecycle state.
type State string

const (
	StateClosed       State = "closed"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
)

// EventType classifies lifecycle events surfaced to consumers.
type EventType string

const (
	// EventStateChanged reports every lifecycle state transition.
	EventStateChanged EventType = "state_changed"

	// EventAuthFailed means the server closed with the auth-failure code.
	// No retry follows; the consumer redirects to authentication.
	EventAuthFailed EventType = "auth_failed"

	// EventReloadRequired means local data was cleared (unrecoverable close
	// code or exhausted retry budget) and the consumer must reload.
	EventReloadRequired EventType = "reload_required"
)

// Event is a lifecycle notification.
type Event struct {
	Type       EventType
	State      State
	Code       int // close code when relevant, else 0
	Generation uint64
}

// ResetReason tells the Sink why local topic state must be dropped.
type ResetReason string

const (
	ResetAuthFailed       ResetReason = "auth_failed"
	ResetServerError      ResetReason = "server_error"
	ResetRetriesExhausted ResetReason = "retries_exhausted"
)

// Sink receives every decoded inbound message and reset notifications. It is
// the narrow seam between the socket and the rest of the client.
type Sink interface {
	// Dispatch is called once per decoded non-heartbeat frame.
	Dispatch(resp wire.Response)

	// Reset is called when the connection is abandoned for good so
	// dependents can drop local topic state.
	Reset(reason ResetReason)
}

// SubscriptionSource lists the topics to replay on every successful open.
type SubscriptionSource interface {
	Active() []string
}

// Config configures the Connection Manager.
type Config struct {
	URL              string        // WebSocket endpoint
	HandshakeTimeout time.Duration // Dial handshake limit
	WriteTimeout     time.Duration // Write deadline per frame
	StaleTimeout     time.Duration // Max silence between server pings; 0 disables the watchdog

	ReconnectBaseDelay time.Duration // First backoff delay
	ReconnectMaxDelay  time.Duration // Backoff ceiling
	MaxReconnectTries  int           // Consecutive failures before giving up

	EventBufferSize int // Lifecycle event channel capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:   10 * time.Second,
		WriteTimeout:       5 * time.Second,
		StaleTimeout:       60 * time.Second,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		MaxReconnectTries:  5,
		EventBufferSize:    16,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.MaxReconnectTries == 0 {
		c.MaxReconnectTries = def.MaxReconnectTries
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = def.EventBufferSize
	}
}

// Stats is a point-in-time snapshot of manager counters.
type Stats struct {
	State      State
	Generation uint64
	QueueLen   int
	Messages   uint64 // decoded inbound messages
	Reconnects uint64 // scheduled reconnect attempts
	Dropped    uint64 // malformed inbound frames dropped
}

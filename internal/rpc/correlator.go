package rpc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/topicmux/topicmux/internal/wire"
)

// Errors
var (
	ErrTimeout = errors.New("call timed out")
)

// Defaults for per-call timers.
const (
	DefaultTimeout      = 5 * time.Second
	DefaultPendingDelay = 300 * time.Millisecond
)

// Transport is the narrow slice of the connection manager the correlator
// depends on, instead of the full client type.
type Transport interface {
	Send(req wire.Request)
	Generation() uint64
}

// Callbacks deliver a call's outcome. Nil members are skipped. OnPending is
// raised (true) when the call outlives the pending delay and lowered (false)
// when it resolves.
type Callbacks struct {
	OnSuccess func()
	OnError   func(err error)
	OnPending func(raised bool)
}

// CallOption overrides per-call timer settings.
type CallOption func(*callSettings)

type callSettings struct {
	timeout      time.Duration
	pendingDelay time.Duration
}

// WithTimeout overrides the call timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(s *callSettings) { s.timeout = d }
}

// WithPendingDelay overrides the delay before the pending flag is raised.
func WithPendingDelay(d time.Duration) CallOption {
	return func(s *callSettings) { s.pendingDelay = d }
}

type pendingCall struct {
	id    string
	topic string
	fn    string
	cb    Callbacks

	timeoutTimer *time.Timer
	pendingTimer *time.Timer

	pendingRaised bool
}

// Correlator tracks in-flight RPC calls by id.
type Correlator struct {
	transport Transport
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
}

// NewCorrelator creates a correlator over the given transport.
func NewCorrelator(transport Transport, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		transport: transport,
		logger:    logger,
		pending:   make(map[string]*pendingCall),
	}
}

// Call issues an rpc request and registers its callbacks. It returns the
// call id, which can be used to Cancel. Uniqueness within the client's
// lifetime is all the id needs; no global coordination.
func (c *Correlator) Call(topic, fn string, args any, cb Callbacks, opts ...CallOption) string {
	settings := callSettings{timeout: DefaultTimeout, pendingDelay: DefaultPendingDelay}
	for _, opt := range opts {
		opt(&settings)
	}

	id := uuid.NewString()
	call := &pendingCall{id: id, topic: topic, fn: fn, cb: cb}

	c.mu.Lock()
	c.pending[id] = call
	call.pendingTimer = time.AfterFunc(settings.pendingDelay, func() { c.raisePending(id) })
	call.timeoutTimer = time.AfterFunc(settings.timeout, func() { c.expire(id) })
	c.mu.Unlock()

	c.transport.Send(wire.RPC(topic, fn, args, id))
	return id
}

// Resolve delivers a server reply. An unknown id (already timed out,
// cancelled, or never issued) is inert, not an error: exactly one outcome
// fires per call, first writer wins.
func (c *Correlator) Resolve(resp wire.Response) {
	call := c.take(resp.CallID)
	if call == nil {
		c.logger.Debug("reply for unknown call discarded", "id", resp.CallID)
		return
	}

	if resp.HasValue() {
		c.fail(call, errors.New(resp.ErrorString()))
		return
	}
	c.lowerPending(call)
	if call.cb.OnSuccess != nil {
		call.cb.OnSuccess()
	}
}

// Cancel drops a pending call without firing its outcome callbacks, e.g.
// when the owning consumer goes away. A late reply is then discarded.
func (c *Correlator) Cancel(id string) {
	if call := c.take(id); call != nil {
		c.lowerPending(call)
	}
}

// HasPending reports whether any call is still in flight.
func (c *Correlator) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

// PendingCount returns the number of in-flight calls.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns a pending call, stopping its timers. It is the
// single point of removal, which is what makes outcomes exactly-once.
func (c *Correlator) take(id string) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	call.timeoutTimer.Stop()
	call.pendingTimer.Stop()
	return call
}

func (c *Correlator) expire(id string) {
	call := c.take(id)
	if call == nil {
		return
	}
	c.fail(call, fmt.Errorf("%s.%s: %w", call.topic, call.fn, ErrTimeout))
}

func (c *Correlator) fail(call *pendingCall, err error) {
	c.lowerPending(call)
	if call.cb.OnError != nil {
		call.cb.OnError(err)
	}
}

func (c *Correlator) raisePending(id string) {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		call.pendingRaised = true
	}
	c.mu.Unlock()

	if ok && call.cb.OnPending != nil {
		call.cb.OnPending(true)
	}
}

func (c *Correlator) lowerPending(call *pendingCall) {
	c.mu.Lock()
	raised := call.pendingRaised
	call.pendingRaised = false
	c.mu.Unlock()

	if raised && call.cb.OnPending != nil {
		call.cb.OnPending(false)
	}
}

package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/topicmux/topicmux/internal/connection"
	"github.com/topicmux/topicmux/internal/rpc"
	"github.com/topicmux/topicmux/internal/topic"
	"github.com/topicmux/topicmux/internal/wire"
)

// Config configures a client instance.
type Config struct {
	Connection connection.Config

	// DefaultTopics are always-on subscriptions that bypass ref-counting.
	DefaultTopics []string

	// ScrollTopics maps scroll-feed topic names to their retained length.
	ScrollTopics map[string]int

	// UpdateBufferSize is the capacity of the Updates channel. Updates are
	// dropped, not blocked on, when the observer falls behind.
	UpdateBufferSize int
}

// Update notifies observers that a topic's stored value changed.
type Update struct {
	Topic string
	Op    wire.Op
	Value any // snapshot after the operation applied; read-only
	At    time.Time
}

// Client is the consumer-facing surface of the topic connection.
type Client struct {
	logger *slog.Logger

	conn  *connection.Manager
	store *topic.Store
	subs  *topic.Registry
	calls *rpc.Correlator

	mu        sync.Mutex
	resilient map[string][]*rpc.Resilient

	updates chan Update
}

// New builds a client. Call Connect to bring the connection up.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UpdateBufferSize == 0 {
		cfg.UpdateBufferSize = 256
	}

	conn := connection.NewManager(cfg.Connection, logger)
	store := topic.NewStore(cfg.ScrollTopics, logger)
	subs := topic.NewRegistry(cfg.DefaultTopics, conn, store, logger)

	c := &Client{
		logger:    logger,
		conn:      conn,
		store:     store,
		subs:      subs,
		calls:     rpc.NewCorrelator(conn, logger),
		resilient: make(map[string][]*rpc.Resilient),
		updates:   make(chan Update, cfg.UpdateBufferSize),
	}
	conn.Bind(c, subs)
	return c
}

// Connect opens the connection.
func (c *Client) Connect() error {
	return c.conn.Connect()
}

// Close unsubscribes everything and tears the connection down.
func (c *Client) Close() error {
	c.subs.UnsubscribeAll()
	return c.conn.Close()
}

// Subscribe registers a consumer for a topic and returns a handle for
// reading its value and issuing calls against it.
func (c *Client) Subscribe(name string) *Handle {
	c.subs.Subscribe(name)
	return &Handle{topic: name, c: c}
}

// Unsubscribe releases one consumer reference for a topic.
func (c *Client) Unsubscribe(name string) {
	c.subs.Unsubscribe(name)
}

// Send pushes a raw request onto the wire (or the queue while disconnected).
// Escape hatch for diagnostic tooling; normal traffic goes through Subscribe
// and Handle.Call.
func (c *Client) Send(req wire.Request) {
	c.conn.Send(req)
}

// Snapshot returns a topic's current value. The tree is shared and must be
// treated as read-only.
func (c *Client) Snapshot(name string) any {
	return c.store.Snapshot(name)
}

// State returns the connection lifecycle state.
func (c *Client) State() connection.State {
	return c.conn.State()
}

// DefaultTopics returns the always-on subscription list.
func (c *Client) DefaultTopics() []string {
	return c.subs.Defaults()
}

// Events surfaces connection lifecycle events.
func (c *Client) Events() <-chan connection.Event {
	return c.conn.Events()
}

// Updates surfaces one notification per applied topic operation.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Stats returns connection counters.
func (c *Client) Stats() connection.Stats {
	return c.conn.Stats()
}

// PendingCalls returns the number of in-flight RPC calls.
func (c *Client) PendingCalls() int {
	return c.calls.PendingCount()
}

// Dispatch routes one decoded inbound message: replies to the correlator,
// topic data to the store, gated on the subscription registry.
// It implements connection.Sink.
func (c *Client) Dispatch(resp wire.Response) {
	if resp.IsReply() {
		c.calls.Resolve(resp)
		return
	}

	if !c.subs.Wants(resp.Topic) {
		c.logger.Debug("update for unwanted topic discarded", "topic", resp.Topic)
		return
	}

	value, err := resp.DecodeValue()
	if err != nil {
		c.logger.Warn("undecodable topic value dropped", "topic", resp.Topic, "error", err)
		return
	}

	op := resp.Operation()
	c.store.Apply(resp.Topic, op, resp.Path, value)

	c.notifyResilient(resp.Topic)
	c.publish(Update{Topic: resp.Topic, Op: op, Value: c.store.Snapshot(resp.Topic), At: time.Now()})
}

// Reset drops all stored topic data. It implements connection.Sink and runs
// when the connection is judged unrecoverable.
func (c *Client) Reset(reason connection.ResetReason) {
	c.logger.Warn("clearing topic data", "reason", string(reason))
	c.store.DropAll()
}

func (c *Client) notifyResilient(name string) {
	c.mu.Lock()
	watchers := append([]*rpc.Resilient(nil), c.resilient[name]...)
	c.mu.Unlock()

	if len(watchers) == 0 {
		return
	}
	gen := c.conn.Generation()
	for _, r := range watchers {
		r.TopicActive(gen)
	}
}

func (c *Client) publish(u Update) {
	select {
	case c.updates <- u:
	default:
	}
}

// Handle is a consumer's view of one subscribed topic.
type Handle struct {
	topic   string
	c       *Client
	release sync.Once
}

// Topic returns the topic name.
func (h *Handle) Topic() string {
	return h.topic
}

// Value returns the topic's current value (read-only snapshot).
func (h *Handle) Value() any {
	return h.c.store.Snapshot(h.topic)
}

// Call issues an RPC against this topic.
func (h *Handle) Call(fn string, args any, cb rpc.Callbacks, opts ...rpc.CallOption) string {
	return h.c.calls.Call(h.topic, fn, args, cb, opts...)
}

// Cancel drops a pending call issued through this handle.
func (h *Handle) Cancel(id string) {
	h.c.calls.Cancel(id)
}

// Resilient returns a caller whose last call is replayed after reconnects,
// once this topic is confirmed active again.
func (h *Handle) Resilient() *rpc.Resilient {
	r := rpc.NewResilient(h.c.calls, h.topic, h.c.logger)
	h.c.mu.Lock()
	h.c.resilient[h.topic] = append(h.c.resilient[h.topic], r)
	h.c.mu.Unlock()
	return r
}

// Release unsubscribes this handle's reference. Safe to call more than once;
// only the first call releases.
func (h *Handle) Release() {
	h.release.Do(func() { h.c.Unsubscribe(h.topic) })
}

package topic

import (
	"log/slog"
	"sync"

	"github.com/topicmux/topicmux/internal/wire"
)

// Wire is the slice of the connection manager the registry needs. Sub and
// unsub requests only go out when the connection is currently open; during a
// disconnect the reconnection replay re-emits the active set instead, so the
// registry never queues.
type Wire interface {
	IsOpen() bool
	Send(req wire.Request)
}

// Registry reference-counts topic subscriptions per logical consumer.
//
// Topics in the default set are implicitly always subscribed: they bypass
// counting and never emit unsub.
type Registry struct {
	conn     Wire
	store    *Store
	logger   *slog.Logger
	defaults map[string]struct{}

	mu     sync.Mutex
	counts map[string]int
}

// NewRegistry creates a registry over the given wire and store.
func NewRegistry(defaults []string, conn Wire, store *Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	def := make(map[string]struct{}, len(defaults))
	for _, t := range defaults {
		def[t] = struct{}{}
	}
	return &Registry{
		conn:     conn,
		store:    store,
		logger:   logger,
		defaults: def,
		counts:   make(map[string]int),
	}
}

// Subscribe registers one more consumer for a topic. The count is bumped
// before any wire side-effect so a concurrent open-replay cannot miss it.
func (r *Registry) Subscribe(topic string) {
	if r.isDefault(topic) {
		return
	}

	r.mu.Lock()
	r.counts[topic]++
	first := r.counts[topic] == 1
	r.mu.Unlock()

	if first && r.conn.IsOpen() {
		r.conn.Send(wire.Sub(topic))
	}
}

// Unsubscribe drops one consumer for a topic. When the last consumer leaves,
// an unsub goes on the wire and the stored value is deleted so a later
// resubscribe never shows stale data.
func (r *Registry) Unsubscribe(topic string) {
	if r.isDefault(topic) {
		return
	}

	r.mu.Lock()
	n, ok := r.counts[topic]
	if !ok {
		r.mu.Unlock()
		return
	}
	n--
	last := n <= 0
	if last {
		delete(r.counts, topic)
	} else {
		r.counts[topic] = n
	}
	r.mu.Unlock()

	if !last {
		return
	}
	if r.conn.IsOpen() {
		r.conn.Send(wire.Unsub(topic))
	}
	r.store.Drop(topic)
}

// UnsubscribeAll unsubscribes every tracked topic. Teardown convenience.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	topics := make([]string, 0, len(r.counts))
	for t := range r.counts {
		topics = append(topics, t)
	}
	r.mu.Unlock()

	for _, t := range topics {
		r.mu.Lock()
		delete(r.counts, t)
		r.mu.Unlock()

		if r.conn.IsOpen() {
			r.conn.Send(wire.Unsub(t))
		}
		r.store.Drop(t)
	}
}

// Wants reports whether incoming data for the topic should be applied.
// Updates for unwanted topics are discarded so a consumer that already
// unsubscribed never sees stale writes.
func (r *Registry) Wants(topic string) bool {
	if r.isDefault(topic) {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[topic] > 0
}

// Active lists every topic that should be (re)subscribed on a fresh
// connection: the default set plus everything with a positive ref-count.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make([]string, 0, len(r.defaults)+len(r.counts))
	for t := range r.defaults {
		topics = append(topics, t)
	}
	for t := range r.counts {
		if _, dup := r.defaults[t]; !dup {
			topics = append(topics, t)
		}
	}
	return topics
}

// Defaults returns the always-on topic list.
func (r *Registry) Defaults() []string {
	topics := make([]string, 0, len(r.defaults))
	for t := range r.defaults {
		topics = append(topics, t)
	}
	return topics
}

// Count returns the current ref-count for a topic (0 for defaults).
func (r *Registry) Count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[topic]
}

func (r *Registry) isDefault(topic string) bool {
	_, ok := r.defaults[topic]
	return ok
}

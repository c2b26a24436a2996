package rpc

import (
	"log/slog"
	"sync"
)

// Resilient wraps a Correlator for idempotent "sync current state to server"
// calls (e.g. "set my active language") that must survive a dropped
// connection without the consumer re-triggering them.
//
// It remembers the most recent call and the connection generation it was
// issued under. After a reconnect, once the dependent topic is seen active
// again and nothing is in flight, the call is re-issued exactly once per
// generation change.
type Resilient struct {
	base   *Correlator
	topic  string
	logger *slog.Logger

	mu         sync.Mutex
	fn         string
	args       any
	cb         Callbacks
	opts       []CallOption
	generation uint64
	hasLast    bool
}

// NewResilient creates a resilient caller bound to one topic.
func NewResilient(base *Correlator, topic string, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resilient{base: base, topic: topic, logger: logger}
}

// Topic returns the topic whose subscription gates replays.
func (r *Resilient) Topic() string {
	return r.topic
}

// Call issues the call and remembers it for replay.
func (r *Resilient) Call(fn string, args any, cb Callbacks, opts ...CallOption) string {
	r.mu.Lock()
	r.fn = fn
	r.args = args
	r.cb = cb
	r.opts = opts
	r.generation = r.base.transport.Generation()
	r.hasLast = true
	r.mu.Unlock()

	return r.base.Call(r.topic, fn, args, cb, opts...)
}

// TopicActive tells the wrapper its topic produced data under the given
// generation, i.e. the server has re-acknowledged the subscription. When the
// generation moved past the one the last call was issued under and no call
// is in flight, the last call is re-issued. Repeat notifications for the
// same generation are no-ops.
func (r *Resilient) TopicActive(generation uint64) {
	r.mu.Lock()
	if !r.hasLast || generation == r.generation {
		r.mu.Unlock()
		return
	}
	if r.base.HasPending() {
		// Something is in flight; replay on a later notification.
		r.mu.Unlock()
		return
	}
	r.generation = generation
	fn, args, cb, opts := r.fn, r.args, r.cb, r.opts
	r.mu.Unlock()

	r.logger.Info("replaying call after reconnect", "topic", r.topic, "func", fn, "generation", generation)
	r.base.Call(r.topic, fn, args, cb, opts...)
}

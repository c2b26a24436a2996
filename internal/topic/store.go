package topic

import (
	"log/slog"
	"sync"

	"github.com/topicmux/topicmux/internal/patch"
	"github.com/topicmux/topicmux/internal/wire"
)

// Store holds the last-known value for each topic.
//
// Scroll topics (present in the caps map) are bounded append-only lists for
// high-frequency feeds such as log lines: full sets the list, add appends
// and drops the oldest entry past the cap, set and del are ignored.
type Store struct {
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]any
	caps   map[string]int
}

// NewStore creates a store. scrollCaps maps scroll-topic names to their
// maximum retained element count; nil means no scroll topics.
func NewStore(scrollCaps map[string]int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	caps := make(map[string]int, len(scrollCaps))
	for name, n := range scrollCaps {
		caps[name] = n
	}
	return &Store{
		logger: logger,
		values: make(map[string]any),
		caps:   caps,
	}
}

// Apply mutates a topic's value according to a server operation. Callers
// gate on the subscription registry first; the store applies whatever it is
// handed.
func (s *Store) Apply(topic string, op wire.Op, path wire.Path, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit, ok := s.caps[topic]; ok {
		s.applyScroll(topic, op, value, limit)
		return
	}

	switch op {
	case wire.OpFull:
		s.values[topic] = value

	case wire.OpAdd, wire.OpSet:
		if len(path) == 0 {
			s.values[topic] = value
			return
		}
		root, ok := s.values[topic]
		if !ok || root == nil {
			root = make(map[string]any)
		}
		s.values[topic] = patch.Set(root, path, value)

	case wire.OpDel:
		root, ok := s.values[topic]
		if !ok || len(path) == 0 {
			// Root delete has no defined wire semantics; ignore.
			return
		}
		s.values[topic] = patch.Delete(root, path)

	default:
		s.logger.Warn("unknown topic operation", "topic", topic, "op", string(op))
	}
}

// applyScroll applies the bounded-list rules for scroll topics.
func (s *Store) applyScroll(topic string, op wire.Op, value any, limit int) {
	switch op {
	case wire.OpFull:
		list, ok := value.([]any)
		if !ok {
			s.values[topic] = []any{}
			return
		}
		if len(list) > limit {
			list = list[len(list)-limit:]
		}
		s.values[topic] = list

	case wire.OpAdd:
		list, _ := s.values[topic].([]any)
		list = append(list, value)
		if len(list) > limit {
			list = list[len(list)-limit:]
		}
		s.values[topic] = list
	}
	// set/del carry path semantics scroll topics do not have.
}

// Snapshot returns the current value for a topic, or nil if none is stored.
// The returned tree is shared; callers must not mutate it.
func (s *Store) Snapshot(topic string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[topic]
}

// Has reports whether a value is stored for the topic.
func (s *Store) Has(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[topic]
	return ok
}

// Drop removes a topic's stored value so a later resubscribe starts clean.
func (s *Store) Drop(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, topic)
}

// DropAll removes every stored value. Used when the connection is judged
// unrecoverable and the consumer will reload from scratch.
func (s *Store) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]any)
}

// Len returns the number of topics with a stored value.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// IsScroll reports whether the topic is configured as a scroll feed.
func (s *Store) IsScroll(topic string) bool {
	_, ok := s.caps[topic]
	return ok
}

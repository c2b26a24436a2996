// Package topic holds the client-side view of server topics.
//
// Store keeps the last-known value per topic and applies incoming server
// operations (full replace, incremental add/set/del, capped append for
// scroll feeds). Registry reference-counts subscriptions per consumer and
// decides when sub/unsub requests go on the wire.
//
// Consumers must treat everything read out of a Store as a read-only
// snapshot; only the connection dispatch path writes to it.
package topic

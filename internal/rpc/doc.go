// Package rpc correlates request/response calls multiplexed over the topic
// connection.
//
// Each call gets a unique id, a pending-delay timer (so UIs can defer
// spinners for near-instant calls), and a timeout. Exactly one of success,
// error, or timeout is delivered per id; late or unknown responses are
// silently discarded.
//
// The Resilient wrapper re-issues the most recent call after a reconnect,
// once its topic is confirmed active again, for idempotent sync-state
// operations that must survive a dropped connection.
package rpc

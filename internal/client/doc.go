// Package client assembles the topic client: one connection manager, a topic
// store, a subscription registry, and an RPC correlator behind a single
// consumer-facing surface.
//
// A Client is an explicit instance with an explicit lifecycle; construct it,
// Connect, hand it to consumers, Close. There is no package-level singleton.
package client

// Package wire defines the message shapes exchanged with the topic server.
//
// Both directions carry JSON text frames over a single WebSocket. Field
// omission carries default semantics: an absent field is not the same as an
// explicit value, so decoded messages keep raw payloads until the caller
// asks for them.
package wire

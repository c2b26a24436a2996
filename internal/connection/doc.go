// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single physical WebSocket to the topic server
//   - Answers the server's "ping" heartbeat frames with "pong"
//   - Queues outbound requests across the disconnected window (FIFO)
//   - Reconnects with exponential backoff, replaying active subscriptions
//     and then the queue on every successful open
//   - Routes decoded messages to a Sink and surfaces lifecycle events
package connection

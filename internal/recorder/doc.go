// Package recorder persists topic updates and periodic snapshots to
// PostgreSQL. Updates are drained from the client into a growable buffer so a
// slow database never backs up into the connection read loop, then batched
// and flushed on a size threshold or interval tick.
package recorder

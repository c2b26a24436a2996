// Package database provides the PostgreSQL connection pool for the topic
// recorder.
package database

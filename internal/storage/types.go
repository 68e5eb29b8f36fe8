package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (build tag "sqlite")
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery records one notification attempt outcome.
type Delivery struct {
	At       time.Time `json:"at"`
	Session  string    `json:"session,omitempty"`
	Channel  string    `json:"channel"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Silent   bool      `json:"silent,omitempty"`
	OK       bool      `json:"ok"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}

// Package stats records rate limit decisions for later inspection.
//
// Recording is best-effort: callers log failures and never reject a request
// because a decision could not be stored.
package stats

import (
	"context"
	"time"
)

// Event is one rate limit decision.
type Event struct {
	Identity string
	Allowed  bool
	Method   string
	Path     string
	At       time.Time
}

// Store persists decision events.
type Store interface {
	Record(ctx context.Context, ev Event) error
}

// Reader serves the aggregated counters back.
type Reader interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// Snapshot is the aggregate view of recorded decisions. Routes are keyed by "METHOD /path".
type Snapshot struct {
	Total  Counters            `json:"total"`
	Routes map[string]Counters `json:"routes"`
}

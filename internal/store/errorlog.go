package store

import (
	"sync"

	"github.com/trendwatch-io/trendwatch/internal/models"
)

// ErrorLog is a capped in-memory ring of recent error entries. It is kept
// alongside, and independent of, the durable crawler_errors table so the
// operator surface keeps working when the database is down or absent.
type ErrorLog struct {
	mu      sync.Mutex
	max     int
	entries []models.ErrorLogEntry
}

// NewErrorLog creates a ring holding at most max entries.
func NewErrorLog(max int) *ErrorLog {
	if max <= 0 {
		max = 1000
	}
	return &ErrorLog{max: max}
}

// Append records an entry, evicting the oldest when the ring is full.
func (l *ErrorLog) Append(e models.ErrorLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// Recent returns up to limit entries, newest last, optionally restricted to
// one source or to unresolved entries.
func (l *ErrorLog) Recent(sourceID string, unresolvedOnly bool, limit int) []models.ErrorLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.ErrorLogEntry
	for _, e := range l.entries {
		if sourceID != "" && e.SourceID != sourceID {
			continue
		}
		if unresolvedOnly && e.Resolved {
			continue
		}
		out = append(out, e)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len reports the current number of buffered entries.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

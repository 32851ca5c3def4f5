// Package audit keeps the append-only rollout/stability event log. The log
// itself is unbounded and fully persisted; external consumers only ever see
// a bounded newest-first view of it.
package audit

import (
	"fmt"
	"sync"
)

// RecentLimit is how many entries the stats API exposes.
const RecentLimit = 20

// Log is the in-memory audit trail. Append order is time order; entries are
// free-text messages tagged with a category prefix (ALERT, RECOVERY,
// BLOCKED, SKIPPED, DEPLOYING, SUCCESS, FAILED).
type Log struct {
	mu      sync.RWMutex
	entries []string
}

func NewLog() *Log {
	return &Log{}
}

// Append records one entry. It never fails.
func (l *Log) Append(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.entries = append(l.entries, msg)
	l.mu.Unlock()
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]string, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// All returns the full log in append order. Used by the persistence
// gateway when building a snapshot.
func (l *Log) All() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Replace swaps in a restored log. Only the persistence gateway calls this,
// and only when the snapshot actually carried entries.
func (l *Log) Replace(entries []string) {
	l.mu.Lock()
	l.entries = append([]string(nil), entries...)
	l.mu.Unlock()
}

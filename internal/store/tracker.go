// Package store provides incremental detection and durable persistence for
// crawled items: a per-source seen-set tracker, conflict-safe upserts into
// PostgreSQL, filtered-item snapshots, the error log, and retention sweeps.
//
// The durable side assumes a single writer process; the tracker is scoped to
// one Manager instance and is safe for concurrent use within it.
package store

import (
	"sync"

	"github.com/trendwatch-io/trendwatch/internal/models"
)

// Tracker holds the in-memory seen-sets used for O(1) new-item detection.
// Detection mutates the set immediately, so an item is classified "new" at
// most once per process lifetime; restart safety comes from reseeding the
// set out of crawler_raw on registration.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]map[string]struct{})}
}

// Register initializes the seen-set for a source, seeding it with the seqs
// already present in durable storage.
func (t *Tracker) Register(sourceID string, seqs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := make(map[string]struct{}, len(seqs))
	for _, s := range seqs {
		set[s] = struct{}{}
	}
	t.seen[sourceID] = set
}

// Unregister drops the seen-set for a source.
func (t *Tracker) Unregister(sourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, sourceID)
}

// DetectNew returns the items whose seq is not yet in the source's seen-set,
// preserving input order, and marks them seen. Items with an empty seq are
// never classified as new.
func (t *Tracker) DetectNew(sourceID string, items []*models.NewsItem) []*models.NewsItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.seen[sourceID]
	if !ok {
		set = make(map[string]struct{})
		t.seen[sourceID] = set
	}

	var fresh []*models.NewsItem
	for _, item := range items {
		if item.Seq == "" {
			continue
		}
		if _, dup := set[item.Seq]; dup {
			continue
		}
		set[item.Seq] = struct{}{}
		fresh = append(fresh, item)
	}
	return fresh
}

// SeenCount reports the size of a source's seen-set.
func (t *Tracker) SeenCount(sourceID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen[sourceID])
}

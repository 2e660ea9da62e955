package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/trendwatch-io/trendwatch/internal/filter"
	"github.com/trendwatch-io/trendwatch/internal/models"
	"github.com/trendwatch-io/trendwatch/internal/store"
)

// Store is the persistence surface the Manager depends on. *store.Store
// satisfies it; tests substitute an in-memory fake. A nil Store puts the
// Manager in memory-only mode: dedup still works per process lifetime but
// nothing survives a restart.
type Store interface {
	LoadSeen(ctx context.Context, sourceID string) ([]string, error)
	UpsertItems(ctx context.Context, sourceID, sourceName string, items []*models.NewsItem) error
	UpdateItemContent(ctx context.Context, sourceID string, item *models.NewsItem) error
	SaveFiltered(ctx context.Context, sourceID, sourceName string, items []*models.NewsItem) error
	AppendError(ctx context.Context, e *models.ErrorLogEntry) error
	QueryErrors(ctx context.Context, sourceID string, unresolvedOnly bool, limit int) ([]models.ErrorLogEntry, error)
	Items(ctx context.Context, sourceID string, limit, offset int, filteredOnly bool) ([]*models.NewsItem, error)
	CleanupOldData(ctx context.Context, maxItems, maxDays int) (int64, error)
}

// NewItemsFunc receives the newly seen items of one poll cycle.
type NewItemsFunc func(sourceID string, items []*models.NewsItem)

// ContentFetchedFunc receives each item whose full-content fetch finished.
type ContentFetchedFunc func(sourceID string, item *models.NewsItem)

// ErrorFunc receives every error log entry as it is recorded.
type ErrorFunc func(entry models.ErrorLogEntry)

// Options configures Manager behavior.
type Options struct {
	// ContentFetchEnabled dispatches full-content retrieval for new items
	// after each successful poll.
	ContentFetchEnabled bool
	// ContentFetchAsync runs that retrieval in a detached goroutine.
	ContentFetchAsync bool
	// ContentFetchDelay is the pause between consecutive article fetches.
	ContentFetchDelay time.Duration
	// MaxErrorLog caps the in-memory error ring.
	MaxErrorLog int
}

// Manager owns the registered sources, the seen-set tracker, the store
// handle and the error log, and runs the poll orchestration. Its public
// methods never panic and never return errors from source failures; those
// are contained per source and surfaced through results, stats and the
// error log.
type Manager struct {
	db      Store
	tracker *store.Tracker
	errlog  *store.ErrorLog
	opts    Options

	mu      sync.Mutex
	order   []string
	sources map[string]Source
	stats   map[string]*models.SourceStats
	engine  *filter.Engine

	onNewItems       []NewItemsFunc
	onContentFetched []ContentFetchedFunc
	onError          []ErrorFunc

	fetchWG sync.WaitGroup
}

// NewManager creates a Manager. db may be nil for memory-only operation.
func NewManager(db Store, opts Options) *Manager {
	return &Manager{
		db:      db,
		tracker: store.NewTracker(),
		errlog:  store.NewErrorLog(opts.MaxErrorLog),
		opts:    opts,
		sources: make(map[string]Source),
		stats:   make(map[string]*models.SourceStats),
	}
}

// SetFilter installs the keyword engine applied during poll cycles. A nil or
// empty engine disables filtering.
func (m *Manager) SetFilter(e *filter.Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine = e
}

// Register adds a source and seeds its seen-set from the store, so items
// persisted by earlier runs are not re-announced as new.
func (m *Manager) Register(ctx context.Context, src Source) {
	id := src.SourceID()

	var seqs []string
	if m.db != nil {
		var err error
		seqs, err = m.db.LoadSeen(ctx, id)
		if err != nil {
			m.logError(ctx, id, "load_seen", "", err.Error(), "unknown")
		}
	}
	m.tracker.Register(id, seqs)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sources[id]; !exists {
		m.order = append(m.order, id)
	}
	m.sources[id] = src
	m.stats[id] = &models.SourceStats{SourceID: id}

	slog.Info("source registered", "source", id, "seen", len(seqs))
}

// Unregister removes a source and drops its in-memory state.
func (m *Manager) Unregister(sourceID string) {
	m.mu.Lock()
	delete(m.sources, sourceID)
	delete(m.stats, sourceID)
	for i, id := range m.order {
		if id == sourceID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.tracker.Unregister(sourceID)
}

// CrawlAll polls every registered source once, in registration order, and
// returns the per-source results. A failing source never blocks the others.
func (m *Manager) CrawlAll(ctx context.Context) map[string]*models.CrawlResult {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	sources := make(map[string]Source, len(m.sources))
	for id, src := range m.sources {
		sources[id] = src
	}
	m.mu.Unlock()

	results := make(map[string]*models.CrawlResult, len(order))
	for _, id := range order {
		results[id] = m.crawlSource(ctx, sources[id])
	}
	return results
}

// CrawlSingle polls one source. The second return is false for an unknown
// source ID.
func (m *Manager) CrawlSingle(ctx context.Context, sourceID string) (*models.CrawlResult, bool) {
	m.mu.Lock()
	src, ok := m.sources[sourceID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return m.crawlSource(ctx, src), true
}

func (m *Manager) crawlSource(ctx context.Context, src Source) (result *models.CrawlResult) {
	id := src.SourceID()

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			m.logErrorTrace(ctx, id, "crawl", "", msg, "unknown_error", string(debug.Stack()))
			result = models.NewCrawlResult(id, src.SourceName(), nil, models.StatusUnknownError, msg)

			m.mu.Lock()
			if st := m.stats[id]; st != nil {
				st.FailedFetches++
				st.LastError = msg
			}
			m.mu.Unlock()
		}
	}()

	result = src.FetchList(ctx)

	m.mu.Lock()
	st := m.stats[id]
	if st == nil {
		st = &models.SourceStats{SourceID: id}
		m.stats[id] = st
	}
	st.TotalFetches++
	st.LastFetchTime = time.Now()
	m.mu.Unlock()

	if result.Status != models.StatusSuccess {
		m.mu.Lock()
		st.FailedFetches++
		st.LastError = result.ErrorMessage
		m.mu.Unlock()

		m.logError(ctx, id, "fetch_list", "", result.ErrorMessage, string(result.Status))
		return result
	}

	newItems := m.tracker.DetectNew(id, result.Items)
	result.NewCount = len(newItems)

	m.mu.Lock()
	st.SuccessfulFetches++
	st.LastSuccessTime = time.Now()
	st.TotalItems += len(result.Items)
	st.NewItems += len(newItems)
	engine := m.engine
	m.mu.Unlock()

	if m.db != nil && len(result.Items) > 0 {
		if err := m.db.UpsertItems(ctx, id, src.SourceName(), result.Items); err != nil {
			// The seen-set is not rolled back: the items stay classified
			// as seen even though persistence failed.
			m.logError(ctx, id, "save_items", "", err.Error(), "unknown")
		}
	}

	if !engine.Empty() {
		engine.ApplyAll(result.Items)
		var passedNew []*models.NewsItem
		for _, item := range newItems {
			if !item.FilteredOut {
				passedNew = append(passedNew, item)
			}
		}
		if m.db != nil && len(passedNew) > 0 {
			if err := m.db.SaveFiltered(ctx, id, src.SourceName(), passedNew); err != nil {
				m.logError(ctx, id, "save_filtered", "", err.Error(), "unknown")
			}
		}
	}

	if len(newItems) > 0 {
		m.mu.Lock()
		callbacks := append([]NewItemsFunc(nil), m.onNewItems...)
		m.mu.Unlock()
		for _, cb := range callbacks {
			invokeSafely(func() { cb(id, newItems) }, "new items callback")
		}
	}

	// Content fetch is dispatched last, after the filter and the callbacks
	// are done reading this cycle's items; the fetcher works on copies, so
	// an async batch never races the readers above.
	if m.opts.ContentFetchEnabled && src.SupportsFullContent() {
		var pending []*models.NewsItem
		for _, item := range newItems {
			if !item.ContentFetched && item.URL != "" {
				pending = append(pending, item)
			}
		}
		if len(pending) > 0 {
			m.FetchFullContent(ctx, id, pending, m.opts.ContentFetchAsync)
		}
	}

	slog.Info("source polled",
		"source", id, "items", result.TotalCount, "new", result.NewCount)
	return result
}

// FetchFullContent retrieves full bodies for the given items, writing each
// outcome to the store as it lands. The batch works on copies of the items:
// fetched content reaches consumers through the store and the content
// callbacks, never by mutating the caller's items. With async set the batch
// runs in a detached goroutine; Close waits for those.
func (m *Manager) FetchFullContent(ctx context.Context, sourceID string, items []*models.NewsItem, async bool) {
	m.mu.Lock()
	src, ok := m.sources[sourceID]
	m.mu.Unlock()
	if !ok || !src.SupportsFullContent() {
		return
	}

	var pending []*models.NewsItem
	for _, item := range items {
		if item.ContentFetched {
			continue
		}
		pending = append(pending, item.Clone())
	}
	if len(pending) == 0 {
		return
	}

	task := func() {
		for i, item := range pending {
			content, status := src.FetchFullContent(ctx, item)
			item.FullContent = content
			item.ContentFetched = status == models.StatusSuccess
			item.ContentFetchTime = time.Now()
			if status != models.StatusSuccess {
				item.ContentFetchError = string(status)
				m.logError(ctx, sourceID, "fetch_content", item.URL, string(status), string(status))
			}

			if m.db != nil {
				if err := m.db.UpdateItemContent(ctx, sourceID, item); err != nil {
					m.logError(ctx, sourceID, "update_content", item.URL, err.Error(), "unknown")
				}
			}

			m.mu.Lock()
			callbacks := append([]ContentFetchedFunc(nil), m.onContentFetched...)
			m.mu.Unlock()
			for _, cb := range callbacks {
				invokeSafely(func() { cb(sourceID, item) }, "content fetched callback")
			}

			if i < len(pending)-1 && m.opts.ContentFetchDelay > 0 {
				select {
				case <-time.After(m.opts.ContentFetchDelay):
				case <-ctx.Done():
					return
				}
			}
		}
	}

	if async {
		m.fetchWG.Add(1)
		go func() {
			defer m.fetchWG.Done()
			task()
		}()
	} else {
		task()
	}
}

// OnNewItems registers a callback invoked with each cycle's newly seen items.
func (m *Manager) OnNewItems(cb NewItemsFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNewItems = append(m.onNewItems, cb)
}

// OnContentFetched registers a callback invoked per completed content fetch.
func (m *Manager) OnContentFetched(cb ContentFetchedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onContentFetched = append(m.onContentFetched, cb)
}

// OnError registers a callback invoked for every recorded error.
func (m *Manager) OnError(cb ErrorFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = append(m.onError, cb)
}

// GetStats returns a copy of the per-source counters, or a single source's
// when sourceID is non-empty.
func (m *Manager) GetStats(sourceID string) map[string]models.SourceStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.SourceStats)
	if sourceID != "" {
		if st, ok := m.stats[sourceID]; ok {
			out[sourceID] = *st
		}
		return out
	}
	for id, st := range m.stats {
		out[id] = *st
	}
	return out
}

// GetErrors reads recent errors from the store, falling back to the
// in-memory ring when the store is absent or failing.
func (m *Manager) GetErrors(ctx context.Context, sourceID string, unresolvedOnly bool, limit int) []models.ErrorLogEntry {
	if limit <= 0 {
		limit = 100
	}
	if m.db != nil {
		entries, err := m.db.QueryErrors(ctx, sourceID, unresolvedOnly, limit)
		if err == nil {
			return entries
		}
		slog.Warn("error log query failed, using ring", "error", err)
	}
	return m.errlog.Recent(sourceID, unresolvedOnly, limit)
}

// GetItems reads stored items. Memory-only mode has nothing to return.
func (m *Manager) GetItems(ctx context.Context, sourceID string, limit, offset int, filteredOnly bool) []*models.NewsItem {
	if m.db == nil {
		return nil
	}
	items, err := m.db.Items(ctx, sourceID, limit, offset, filteredOnly)
	if err != nil {
		m.logError(ctx, "", "get_items", "", err.Error(), "unknown")
		return nil
	}
	return items
}

// CleanupOldData applies the retention bounds to the store.
func (m *Manager) CleanupOldData(ctx context.Context, maxItems, maxDays int) int64 {
	if m.db == nil {
		return 0
	}
	deleted, err := m.db.CleanupOldData(ctx, maxItems, maxDays)
	if err != nil {
		m.logError(ctx, "", "cleanup", "", err.Error(), "unknown")
	}
	return deleted
}

// Close waits for detached content-fetch goroutines, up to timeout.
func (m *Manager) Close(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		m.fetchWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("content fetch workers still running at close", "timeout", timeout)
	}
}

func (m *Manager) logError(ctx context.Context, sourceID, operation, url, message, errType string) {
	m.logErrorTrace(ctx, sourceID, operation, url, message, errType, "")
}

// logErrorTrace records an entry in the ring, best-effort in the store, and
// fans it out to error callbacks. It must never fail or recurse.
func (m *Manager) logErrorTrace(ctx context.Context, sourceID, operation, url, message, errType, stack string) {
	entry := models.ErrorLogEntry{
		Timestamp:    time.Now(),
		SourceID:     sourceID,
		Operation:    operation,
		URL:          url,
		ErrorType:    errType,
		ErrorMessage: message,
		StackTrace:   stack,
	}

	m.errlog.Append(entry)

	if m.db != nil {
		if err := m.db.AppendError(ctx, &entry); err != nil {
			slog.Warn("error log write failed", "error", err)
		}
	}

	slog.Warn("crawl error",
		"source", sourceID, "operation", operation, "type", errType, "message", message)

	m.mu.Lock()
	callbacks := append([]ErrorFunc(nil), m.onError...)
	m.mu.Unlock()
	for _, cb := range callbacks {
		invokeSafely(func() { cb(entry) }, "error callback")
	}
}

func invokeSafely(fn func(), what string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("callback panic", "callback", what, "panic", r)
		}
	}()
	fn()
}

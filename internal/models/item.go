// Package models defines the data types shared across the crawling pipeline:
// news items, crawl results, fetch statuses, and error log entries.
package models

import "time"

// FetchStatus classifies the outcome of a fetch operation.
type FetchStatus string

const (
	StatusSuccess      FetchStatus = "success"
	StatusNetworkError FetchStatus = "network_error"
	StatusParseError   FetchStatus = "parse_error"
	StatusTimeout      FetchStatus = "timeout"
	StatusEmptyResult  FetchStatus = "empty_result"
	StatusUnknownError FetchStatus = "unknown_error"
)

// NewsItem is one crawled unit. Seq is the source-scoped unique key used for
// incremental detection and the store's (source_id, seq) constraint; it never
// changes once assigned.
type NewsItem struct {
	Seq         string    `json:"seq"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	FullContent string    `json:"full_content"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	SourceName  string    `json:"source_name"`
	Author      string    `json:"author,omitempty"`

	// Extra carries source-specific attributes (related stocks, tags,
	// importance level, ...).
	Extra map[string]any `json:"extra,omitempty"`

	// Content fetch state. ContentFetched is monotonic: once true it never
	// reverts, in memory or in the store.
	ContentFetched    bool      `json:"content_fetched"`
	ContentFetchError string    `json:"content_fetch_error,omitempty"`
	ContentFetchTime  time.Time `json:"content_fetch_time,omitempty"`

	// Filter state, recomputed every crawl cycle.
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	FilteredOut     bool     `json:"filtered_out"`
	FilterReason    string   `json:"filter_reason,omitempty"`

	// AI enrichment, written back by the analysis queue's result callback.
	AIAnalysis     string    `json:"ai_analysis,omitempty"`
	AIAnalysisTime time.Time `json:"ai_analysis_time,omitempty"`
}

// Clone returns a deep copy. Stages that run concurrently get their own
// copy, so each goroutine is the sole writer of the items it holds.
func (n *NewsItem) Clone() *NewsItem {
	c := *n
	if n.Extra != nil {
		c.Extra = make(map[string]any, len(n.Extra))
		for k, v := range n.Extra {
			c.Extra[k] = v
		}
	}
	if n.MatchedKeywords != nil {
		c.MatchedKeywords = append([]string(nil), n.MatchedKeywords...)
	}
	return &c
}

// CrawlResult is the outcome of one poll of one source. When Status is
// StatusSuccess the first NewCount entries of Items are the newly seen ones;
// sources return items ordered most-recent-first, which downstream "what's
// new" logic relies on.
type CrawlResult struct {
	SourceID     string      `json:"source_id"`
	SourceName   string      `json:"source_name"`
	Items        []*NewsItem `json:"items"`
	Status       FetchStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	FetchTime    time.Time   `json:"fetch_time"`
	// DataTime is the upstream-reported data timestamp, distinct from the
	// local FetchTime.
	DataTime   string `json:"data_time,omitempty"`
	TotalCount int    `json:"total_count"`
	NewCount   int    `json:"new_count"`
}

// NewCrawlResult builds a result with FetchTime and TotalCount filled in.
func NewCrawlResult(sourceID, sourceName string, items []*NewsItem, status FetchStatus, errMsg string) *CrawlResult {
	return &CrawlResult{
		SourceID:     sourceID,
		SourceName:   sourceName,
		Items:        items,
		Status:       status,
		ErrorMessage: errMsg,
		FetchTime:    time.Now(),
		TotalCount:   len(items),
	}
}

// ErrorLogEntry records one failed operation. Entries live both in a capped
// in-memory ring and in the crawler_errors table; the two are written
// independently and never reconciled.
type ErrorLogEntry struct {
	ID           int64     `json:"id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	SourceID     string    `json:"source_id"`
	Operation    string    `json:"operation"` // fetch_list, fetch_content, parse, save, ...
	URL          string    `json:"url,omitempty"`
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	StackTrace   string    `json:"stack_trace,omitempty"`
	Resolved     bool      `json:"resolved"`
	ResolveNote  string    `json:"resolve_note,omitempty"`
}

// SourceStats accumulates per-source fetch counters.
type SourceStats struct {
	SourceID          string    `json:"source_id"`
	TotalFetches      int       `json:"total_fetches"`
	SuccessfulFetches int       `json:"successful_fetches"`
	FailedFetches     int       `json:"failed_fetches"`
	TotalItems        int       `json:"total_items"`
	NewItems          int       `json:"new_items"`
	LastFetchTime     time.Time `json:"last_fetch_time"`
	LastSuccessTime   time.Time `json:"last_success_time"`
	LastError         string    `json:"last_error,omitempty"`
}

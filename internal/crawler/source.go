// Package crawler contains the news sources, the article content fetcher and
// the Manager that orchestrates polling, dedup, persistence and filtering.
package crawler

import (
	"context"

	"github.com/trendwatch-io/trendwatch/internal/models"
)

// Source is the contract every news source implements. FetchList never
// returns a Go error; failures are encoded in the CrawlResult status so the
// Manager can treat all outcomes uniformly.
type Source interface {
	SourceID() string
	SourceName() string

	// FetchList polls the upstream endpoint once and returns the current
	// item window.
	FetchList(ctx context.Context) *models.CrawlResult

	// FetchFullContent retrieves the full article body for one item. The
	// returned status is StatusSuccess only when content is non-empty.
	FetchFullContent(ctx context.Context, item *models.NewsItem) (string, models.FetchStatus)

	// SupportsFullContent reports whether FetchFullContent is usable for
	// this source.
	SupportsFullContent() bool
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

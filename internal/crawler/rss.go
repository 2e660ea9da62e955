package crawler

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/trendwatch-io/trendwatch/internal/models"
)

// RSSSource polls an RSS/Atom feed. Item identity (seq) is the feed entry's
// GUID when present, otherwise a hash of the link, so re-fetching the same
// feed yields stable seqs.
type RSSSource struct {
	id       string
	name     string
	feedURL  string
	timeout  time.Duration
	fullText bool
	parser   *gofeed.Parser
	fetcher  *ContentFetcher
}

// NewRSSSource creates a feed source. fullText marks a feed whose entries
// already carry the complete article body; such a source opts out of the
// separate content fetch.
func NewRSSSource(id, name, feedURL string, timeout time.Duration, fullText bool, fetcher *ContentFetcher) *RSSSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RSSSource{
		id:       id,
		name:     name,
		feedURL:  feedURL,
		timeout:  timeout,
		fullText: fullText,
		parser:   gofeed.NewParser(),
		fetcher:  fetcher,
	}
}

func (s *RSSSource) SourceID() string   { return s.id }
func (s *RSSSource) SourceName() string { return s.name }

func (s *RSSSource) SupportsFullContent() bool {
	return !s.fullText && s.fetcher != nil
}

func (s *RSSSource) FetchList(ctx context.Context) *models.CrawlResult {
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	feed, err := s.parser.ParseURLWithContext(s.feedURL, fetchCtx)
	if err != nil {
		return models.NewCrawlResult(s.id, s.name, nil, classifyNetErr(err),
			fmt.Sprintf("parse %s: %v", s.feedURL, err))
	}

	var items []*models.NewsItem
	for _, entry := range feed.Items {
		seq := entry.GUID
		if seq == "" {
			if entry.Link == "" {
				continue
			}
			seq = fmt.Sprintf("%x", sha256.Sum256([]byte(entry.Link)))[:16]
		}

		var published time.Time
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		}

		var author string
		if len(entry.Authors) > 0 {
			author = entry.Authors[0].Name
		}

		var extra map[string]any
		if len(entry.Categories) > 0 {
			extra = map[string]any{"categories": entry.Categories}
		}

		items = append(items, &models.NewsItem{
			Seq:         seq,
			Title:       strings.TrimSpace(entry.Title),
			Summary:     strings.TrimSpace(entry.Description),
			FullContent: strings.TrimSpace(entry.Content),
			URL:         entry.Link,
			PublishedAt: published,
			SourceName:  s.name,
			Author:      author,
			Extra:       extra,
		})
	}

	if len(items) == 0 {
		return models.NewCrawlResult(s.id, s.name, nil, models.StatusEmptyResult, "feed has no entries")
	}

	// Newest first, so a batch's new items form its prefix.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})

	result := models.NewCrawlResult(s.id, s.name, items, models.StatusSuccess, "")
	result.DataTime = feed.Updated
	return result
}

func (s *RSSSource) FetchFullContent(ctx context.Context, item *models.NewsItem) (string, models.FetchStatus) {
	if !s.SupportsFullContent() {
		return "", models.StatusUnknownError
	}
	return s.fetcher.FetchPage(ctx, item.URL)
}

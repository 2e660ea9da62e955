package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/trendwatch-io/trendwatch/internal/models"
)

const (
	thsFeedURL    = "http://stock.10jqka.com.cn/thsgd/realtimenews.js"
	thsSourceID   = "ths-realtime"
	thsSourceName = "同花顺7x24"
)

// THSSource polls the 10jqka realtime-news JSONP endpoint. The feed is a
// GBK-encoded JavaScript assignment whose object literal uses unquoted keys,
// so the body is repaired into valid JSON before decoding.
type THSSource struct {
	id      string
	name    string
	baseURL string
	client  *http.Client
	fetcher *ContentFetcher
}

// NewTHSSource creates the JSONP-based source. fetcher handles full-article
// retrieval; pass nil to disable it.
func NewTHSSource(id, name string, timeout time.Duration, fetcher *ContentFetcher) *THSSource {
	if id == "" {
		id = thsSourceID
	}
	if name == "" {
		name = thsSourceName
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &THSSource{
		id:      id,
		name:    name,
		baseURL: thsFeedURL,
		client:  &http.Client{Timeout: timeout},
		fetcher: fetcher,
	}
}

func (s *THSSource) SourceID() string   { return s.id }
func (s *THSSource) SourceName() string { return s.name }

func (s *THSSource) SupportsFullContent() bool { return s.fetcher != nil }

func (s *THSSource) FetchList(ctx context.Context) *models.CrawlResult {
	// Cache-busting query parameter, the endpoint is aggressively cached.
	url := fmt.Sprintf("%s?v=%d", s.baseURL, time.Now().UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.NewCrawlResult(s.id, s.name, nil, models.StatusUnknownError, err.Error())
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Referer", "http://news.10jqka.com.cn/realtimenews.html")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.NewCrawlResult(s.id, s.name, nil, classifyNetErr(err), err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.NewCrawlResult(s.id, s.name, nil, models.StatusNetworkError,
			fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return models.NewCrawlResult(s.id, s.name, nil, models.StatusNetworkError,
			fmt.Sprintf("read body: %v", err))
	}

	feed, err := parseJSONP(string(body))
	if err != nil {
		return models.NewCrawlResult(s.id, s.name, nil, models.StatusParseError, err.Error())
	}

	items := s.extractItems(feed)
	result := models.NewCrawlResult(s.id, s.name, items, models.StatusSuccess, "")
	result.DataTime = feed.PubDate
	return result
}

func (s *THSSource) FetchFullContent(ctx context.Context, item *models.NewsItem) (string, models.FetchStatus) {
	if s.fetcher == nil {
		return "", models.StatusUnknownError
	}
	return s.fetcher.FetchArticle(ctx, item.URL)
}

// thsFeed is the repaired JSONP payload.
type thsFeed struct {
	PubDate       string        `json:"pubDate"`
	LatestNewsSeq json.Number   `json:"latestNewsSeq"`
	Counter       json.Number   `json:"counter"`
	Item          []thsFeedItem `json:"item"`
}

type thsFeedItem struct {
	Seq       json.Number `json:"seq"`
	Title     string      `json:"title"`
	Content   string      `json:"content"`
	URL       string      `json:"url"`
	PubDate   string      `json:"pubDate"`
	Source    string      `json:"source"`
	StockCode string      `json:"stockCode"`
	Stocks    any         `json:"stocks"`
	Category  string      `json:"category"`
	ImpLevel  json.Number `json:"implevel"`
}

var jsonpKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\{)\s*(pubDate):`),
	regexp.MustCompile(`,\s*(latestNewsSeq):`),
	regexp.MustCompile(`,\s*(counter):`),
	regexp.MustCompile(`,\s*(item):`),
}

// parseJSONP strips the JavaScript wrapper off the feed, quotes the bare
// object keys and decodes the result.
func parseJSONP(raw string) (*thsFeed, error) {
	jsonStr := strings.TrimSpace(raw)

	start := strings.Index(jsonStr, "{")
	if start == -1 {
		return nil, errors.New("crawler: no JSON object in JSONP body")
	}

	if end := strings.LastIndex(jsonStr, "};"); end != -1 {
		jsonStr = jsonStr[start : end+1]
	} else if end := strings.LastIndex(jsonStr, "}"); end != -1 {
		jsonStr = jsonStr[start : end+1]
	} else {
		jsonStr = jsonStr[start:]
	}

	for i, re := range jsonpKeyPatterns {
		if i == 0 {
			jsonStr = re.ReplaceAllString(jsonStr, `$1"$2":`)
		} else {
			jsonStr = re.ReplaceAllString(jsonStr, `,"$1":`)
		}
	}

	var feed thsFeed
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.UseNumber()
	if err := dec.Decode(&feed); err != nil {
		return nil, fmt.Errorf("crawler: decode JSONP: %w", err)
	}
	return &feed, nil
}

func (s *THSSource) extractItems(feed *thsFeed) []*models.NewsItem {
	var items []*models.NewsItem
	for _, raw := range feed.Item {
		seq := raw.Seq.String()
		if seq == "" {
			continue
		}

		extra := map[string]any{}
		if raw.StockCode != "" {
			extra["stock_code"] = raw.StockCode
		}
		if raw.Stocks != nil {
			extra["stocks"] = raw.Stocks
		}
		if raw.Category != "" {
			extra["category"] = raw.Category
		}
		if raw.ImpLevel != "" {
			extra["importance_level"] = raw.ImpLevel.String()
		}
		if len(extra) == 0 {
			extra = nil
		}

		source := raw.Source
		if source == "" {
			source = "同花顺"
		}

		items = append(items, &models.NewsItem{
			Seq:         seq,
			Title:       strings.TrimSpace(raw.Title),
			Summary:     strings.TrimSpace(raw.Content),
			URL:         raw.URL,
			PublishedAt: parseFeedTime(raw.PubDate),
			SourceName:  source,
			Extra:       extra,
		})
	}
	return items
}

// parseFeedTime is lenient: the feed's pubDate format has drifted before, and
// an unparseable time should not drop the item.
func parseFeedTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		time.RFC3339,
		"2006/01/02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, s, shanghaiTZ()); err == nil {
			return t
		}
	}
	return time.Time{}
}

func shanghaiTZ() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.Local
	}
	return loc
}

// classifyNetErr maps a transport error onto the fetch status taxonomy.
func classifyNetErr(err error) models.FetchStatus {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.StatusTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.StatusTimeout
	}
	return models.StatusNetworkError
}

package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/trendwatch-io/trendwatch/internal/models"
)

const thsTappURL = "https://news.10jqka.com.cn/tapp/news/push/stock/"

// THSTappSource polls the 10jqka TAPP endpoint. It serves the same stream as
// the JSONP feed but as native UTF-8 JSON with richer structured fields
// (stocks, sectors, tags, importance), refreshing roughly every 15 seconds.
type THSTappSource struct {
	id       string
	name     string
	baseURL  string
	pageSize int
	client   *http.Client
	fetcher  *ContentFetcher
}

// NewTHSTappSource creates the JSON-API source. fetcher handles full-article
// retrieval; pass nil to disable it.
func NewTHSTappSource(id, name string, timeout time.Duration, fetcher *ContentFetcher) *THSTappSource {
	if id == "" {
		id = thsSourceID
	}
	if name == "" {
		name = thsSourceName
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &THSTappSource{
		id:       id,
		name:     name,
		baseURL:  thsTappURL,
		pageSize: 100,
		client:   &http.Client{Timeout: timeout},
		fetcher:  fetcher,
	}
}

func (s *THSTappSource) SourceID() string   { return s.id }
func (s *THSTappSource) SourceName() string { return s.name }

func (s *THSTappSource) SupportsFullContent() bool { return s.fetcher != nil }

type tappResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Time string `json:"time"`
	Data struct {
		List []tappItem `json:"list"`
	} `json:"data"`
}

type tappItem struct {
	Seq    json.Number `json:"seq"`
	Title  string      `json:"title"`
	Digest string      `json:"digest"`
	Short  string      `json:"short"`
	URL    string      `json:"url"`
	CTime  json.Number `json:"ctime"`
	Source string      `json:"source"`
	Stock  []struct {
		Name        string `json:"name"`
		StockCode   string `json:"stockCode"`
		StockMarket string `json:"stockMarket"`
	} `json:"stock"`
	Field []struct {
		Name      string `json:"name"`
		StockCode string `json:"stockCode"`
	} `json:"field"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Import json.Number `json:"import"`
	Color  json.Number `json:"color"`
}

func (s *THSTappSource) FetchList(ctx context.Context) *models.CrawlResult {
	q := url.Values{}
	q.Set("page_size", fmt.Sprintf("%d", s.pageSize))
	q.Set("track", "website")
	q.Set("sub_tag", "7x24")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return models.NewCrawlResult(s.id, s.name, nil, models.StatusUnknownError, err.Error())
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Referer", "https://news.10jqka.com.cn/7x24/")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.NewCrawlResult(s.id, s.name, nil, classifyNetErr(err), err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.NewCrawlResult(s.id, s.name, nil, models.StatusNetworkError,
			fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NewCrawlResult(s.id, s.name, nil, models.StatusNetworkError,
			fmt.Sprintf("read body: %v", err))
	}

	var payload tappResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.NewCrawlResult(s.id, s.name, nil, models.StatusParseError,
			fmt.Sprintf("decode response: %v", err))
	}
	if payload.Code != "200" {
		msg := payload.Msg
		if msg == "" {
			msg = "unknown"
		}
		return models.NewCrawlResult(s.id, s.name, nil, models.StatusParseError,
			fmt.Sprintf("API error: %s", msg))
	}

	items := s.extractItems(payload.Data.List)
	result := models.NewCrawlResult(s.id, s.name, items, models.StatusSuccess, "")
	result.DataTime = payload.Time
	return result
}

func (s *THSTappSource) extractItems(list []tappItem) []*models.NewsItem {
	type entry struct {
		item  *models.NewsItem
		ctime int64
	}
	var entries []entry

	for _, raw := range list {
		seq := raw.Seq.String()
		if seq == "" {
			continue
		}

		ctime, _ := raw.CTime.Int64()
		var published time.Time
		if ctime > 0 {
			published = time.Unix(ctime, 0).In(shanghaiTZ())
		}

		extra := map[string]any{}
		if len(raw.Stock) > 0 {
			stocks := make([]map[string]any, 0, len(raw.Stock))
			for _, st := range raw.Stock {
				stocks = append(stocks, map[string]any{
					"name": st.Name, "code": st.StockCode, "market": st.StockMarket,
				})
			}
			extra["stocks"] = stocks
		}
		if len(raw.Field) > 0 {
			fields := make([]map[string]any, 0, len(raw.Field))
			for _, f := range raw.Field {
				fields = append(fields, map[string]any{"name": f.Name, "code": f.StockCode})
			}
			extra["fields"] = fields
		}
		if len(raw.Tags) > 0 {
			tags := make([]string, 0, len(raw.Tags))
			for _, t := range raw.Tags {
				tags = append(tags, t.Name)
			}
			extra["tags"] = tags
		}
		if imp, err := raw.Import.Int64(); err == nil && imp > 0 {
			extra["importance"] = imp
		}
		if color, err := raw.Color.Int64(); err == nil && color > 1 {
			extra["highlight"] = true
		}
		if len(extra) == 0 {
			extra = nil
		}

		summary := raw.Digest
		if summary == "" {
			summary = raw.Short
		}
		source := raw.Source
		if source == "" {
			source = "同花顺"
		}

		entries = append(entries, entry{
			item: &models.NewsItem{
				Seq:         seq,
				Title:       strings.TrimSpace(raw.Title),
				Summary:     strings.TrimSpace(summary),
				URL:         raw.URL,
				PublishedAt: published,
				SourceName:  source,
				Extra:       extra,
			},
			ctime: ctime,
		})
	}

	// Newest first.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ctime > entries[j].ctime
	})

	items := make([]*models.NewsItem, len(entries))
	for i, e := range entries {
		items[i] = e.item
	}
	return items
}

func (s *THSTappSource) FetchFullContent(ctx context.Context, item *models.NewsItem) (string, models.FetchStatus) {
	if s.fetcher == nil {
		return "", models.StatusUnknownError
	}
	return s.fetcher.FetchArticle(ctx, item.URL)
}

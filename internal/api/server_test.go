package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trendwatch-io/trendwatch/internal/crawler"
	"github.com/trendwatch-io/trendwatch/internal/models"
	"github.com/trendwatch-io/trendwatch/internal/queue"
)

type staticSource struct {
	items []*models.NewsItem
}

func (s *staticSource) SourceID() string          { return "s1" }
func (s *staticSource) SourceName() string        { return "Source One" }
func (s *staticSource) SupportsFullContent() bool { return false }

func (s *staticSource) FetchList(ctx context.Context) *models.CrawlResult {
	return models.NewCrawlResult("s1", "Source One", s.items, models.StatusSuccess, "")
}

func (s *staticSource) FetchFullContent(ctx context.Context, item *models.NewsItem) (string, models.FetchStatus) {
	return "", models.StatusEmptyResult
}

func testServer(t *testing.T) (*httptest.Server, *crawler.Manager, *queue.Queue) {
	t.Helper()

	m := crawler.NewManager(nil, crawler.Options{})
	m.Register(context.Background(), &staticSource{items: []*models.NewsItem{
		{Seq: "1", Title: "hello"},
	}})
	m.CrawlAll(context.Background())

	q := queue.New(10, 1, 0, time.Millisecond)
	srv := httptest.NewServer(NewServer(m, q).Router())
	t.Cleanup(srv.Close)
	return srv, m, q
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := testServer(t)

	var body map[string]string
	getJSON(t, srv.URL+"/healthz", &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	var stats map[string]models.SourceStats
	getJSON(t, srv.URL+"/api/stats", &stats)
	if stats["s1"].TotalFetches != 1 || stats["s1"].NewItems != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	stats = nil
	getJSON(t, srv.URL+"/api/stats?source_id=absent", &stats)
	if len(stats) != 0 {
		t.Fatalf("expected empty stats for unknown source, got %v", stats)
	}
}

func TestErrorsEndpoint(t *testing.T) {
	srv, m, _ := testServer(t)

	m.Register(context.Background(), &failingSource{})
	m.CrawlAll(context.Background())

	var body struct {
		Count  int                    `json:"count"`
		Errors []models.ErrorLogEntry `json:"errors"`
	}
	getJSON(t, srv.URL+"/api/errors?source_id=down", &body)
	if body.Count != 1 || body.Errors[0].Operation != "fetch_list" {
		t.Fatalf("unexpected errors body: %+v", body)
	}
}

type failingSource struct{}

func (f *failingSource) SourceID() string          { return "down" }
func (f *failingSource) SourceName() string        { return "Down" }
func (f *failingSource) SupportsFullContent() bool { return false }

func (f *failingSource) FetchList(ctx context.Context) *models.CrawlResult {
	return models.NewCrawlResult("down", "Down", nil, models.StatusNetworkError, "unreachable")
}

func (f *failingSource) FetchFullContent(ctx context.Context, item *models.NewsItem) (string, models.FetchStatus) {
	return "", models.StatusEmptyResult
}

func TestQueueStatsEndpoint(t *testing.T) {
	srv, _, q := testServer(t)
	q.Enqueue("task")

	var body struct {
		Enabled bool        `json:"enabled"`
		Running bool        `json:"running"`
		Stats   queue.Stats `json:"stats"`
	}
	getJSON(t, srv.URL+"/api/queue/stats", &body)
	if !body.Enabled || body.Running {
		t.Fatalf("unexpected queue state: %+v", body)
	}
	if body.Stats.Enqueued != 1 || body.Stats.QueueSize != 1 {
		t.Fatalf("unexpected queue stats: %+v", body.Stats)
	}
}

func TestItemsEndpointWithoutStore(t *testing.T) {
	srv, _, _ := testServer(t)

	var body struct {
		Count int `json:"count"`
	}
	getJSON(t, srv.URL+"/api/items", &body)
	if body.Count != 0 {
		t.Fatalf("expected no items in memory-only mode, got %d", body.Count)
	}
}

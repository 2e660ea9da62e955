package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trendwatch-io/trendwatch/internal/models"
)

func TestPushItems(t *testing.T) {
	var got pushPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, time.Second)
	items := []*models.NewsItem{
		{Seq: "1", Title: "chip news", MatchedKeywords: []string{"Tech"}},
		{Seq: "2", Title: "more news"},
	}
	if err := w.PushItems(context.Background(), "s1", "Source One", items); err != nil {
		t.Fatalf("push: %v", err)
	}

	if got.SourceID != "s1" || got.Count != 2 || len(got.Items) != 2 {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.Items[0].MatchedKeywords[0] != "Tech" {
		t.Fatalf("expected keywords forwarded, got %+v", got.Items[0])
	}
}

func TestPushItemsReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, time.Second)
	err := w.PushItems(context.Background(), "s1", "One", []*models.NewsItem{{Seq: "1"}})
	if err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestDisabledWebhookIsNoOp(t *testing.T) {
	w := NewWebhook("", time.Second)
	if w.Enabled() {
		t.Fatal("expected empty URL to disable the webhook")
	}
	if err := w.PushItems(context.Background(), "s1", "One", []*models.NewsItem{{Seq: "1"}}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

// Package notify delivers qualifying new items to an operator-configured
// webhook endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trendwatch-io/trendwatch/internal/models"
)

// Webhook posts item batches as JSON. Message formatting for specific chat
// platforms is left to the receiving end.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a notifier. An empty URL disables delivery.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a target URL is configured.
func (w *Webhook) Enabled() bool {
	return w.url != ""
}

type pushItem struct {
	Seq             string    `json:"seq"`
	Title           string    `json:"title"`
	Summary         string    `json:"summary,omitempty"`
	URL             string    `json:"url,omitempty"`
	PublishedAt     time.Time `json:"published_at,omitempty"`
	MatchedKeywords []string  `json:"matched_keywords,omitempty"`
}

type pushPayload struct {
	SourceID   string     `json:"source_id"`
	SourceName string     `json:"source_name"`
	Count      int        `json:"count"`
	PushedAt   time.Time  `json:"pushed_at"`
	Items      []pushItem `json:"items"`
}

// PushItems delivers one batch of items. Failures are returned, not retried;
// the caller decides whether a missed push matters.
func (w *Webhook) PushItems(ctx context.Context, sourceID, sourceName string, items []*models.NewsItem) error {
	if !w.Enabled() || len(items) == 0 {
		return nil
	}

	payload := pushPayload{
		SourceID:   sourceID,
		SourceName: sourceName,
		Count:      len(items),
		PushedAt:   time.Now(),
		Items:      make([]pushItem, 0, len(items)),
	}
	for _, item := range items {
		payload.Items = append(payload.Items, pushItem{
			Seq:             item.Seq,
			Title:           item.Title,
			Summary:         item.Summary,
			URL:             item.URL,
			PublishedAt:     item.PublishedAt,
			MatchedKeywords: item.MatchedKeywords,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

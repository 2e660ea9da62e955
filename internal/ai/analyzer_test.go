package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func ollamaStub(t *testing.T, response string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"response": response, "done": true})
	}))
}

func TestAnalyze(t *testing.T) {
	srv := ollamaStub(t, `{"summary":"A chip fab opened.","sentiment":"positive","importance":4,"keywords":["chips"],"entities":["TSMC"]}`)
	defer srv.Close()

	a := NewAnalyzer(srv.URL, "test-model")
	result, err := a.Analyze(context.Background(), "chip fab opens", "body text")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Summary != "A chip fab opened." || result.Sentiment != "positive" || result.Importance != 4 {
		t.Fatalf("unexpected analysis: %+v", result)
	}
}

func TestAnalyzeStripsFencesAndClamps(t *testing.T) {
	srv := ollamaStub(t, "```json\n{\"summary\":\"s\",\"sentiment\":\"bullish\",\"importance\":9}\n```")
	defer srv.Close()

	a := NewAnalyzer(srv.URL, "test-model")
	result, err := a.Analyze(context.Background(), "title", "")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Sentiment != "neutral" {
		t.Fatalf("expected invalid sentiment coerced to neutral, got %q", result.Sentiment)
	}
	if result.Importance != 5 {
		t.Fatalf("expected importance clamped to 5, got %d", result.Importance)
	}
}

func TestAnalyzeRejectsNonJSON(t *testing.T) {
	srv := ollamaStub(t, "I cannot analyze this item.")
	defer srv.Close()

	a := NewAnalyzer(srv.URL, "test-model")
	if _, err := a.Analyze(context.Background(), "title", ""); err == nil {
		t.Fatal("expected an error for a non-JSON response")
	}
}

func TestStripJSONFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                         `{"a":1}`,
		"```json\n{\"a\":1}\n```":           `{"a":1}`,
		"Here is the JSON: {\"a\":1} done.": `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripJSONFences(in); got != want {
			t.Errorf("stripJSONFences(%q) = %q, want %q", in, got, want)
		}
	}
}

// Package ai provides the LLM-backed analyzer consumed by the analysis
// queue: item text in, structured analysis out.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const generateTimeout = 60 * time.Second

// Analysis is the structured result produced for one news item.
type Analysis struct {
	Summary    string   `json:"summary"`
	Sentiment  string   `json:"sentiment"`  // positive, negative, neutral
	Importance int      `json:"importance"` // 1-5
	Keywords   []string `json:"keywords,omitempty"`
	Entities   []string `json:"entities,omitempty"`
}

// Analyzer is an HTTP client for the Ollama API that turns news text into an
// Analysis.
type Analyzer struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewAnalyzer creates an analyzer against the given Ollama host and model.
func NewAnalyzer(baseURL, model string) *Analyzer {
	return &Analyzer{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: generateTimeout,
		},
	}
}

// generateRequest is the JSON body sent to POST /api/generate.
type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the non-streaming Ollama response.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

const analyzeSystemPrompt = `You are a financial news analyst. You receive one news item and output ONLY a JSON object, nothing else.

The JSON object has these fields:
- "summary": 1-2 sentence summary in the SAME language as the item
- "sentiment": one of "positive", "negative", "neutral" (market impact)
- "importance": integer 1-5, 5 = market moving
- "keywords": up to 5 topic keywords
- "entities": companies, people and places mentioned

RULES:
- Output ONLY the JSON object, no markdown fences, no commentary
- Be factual; do not speculate beyond the text`

// Analyze produces a structured analysis of one item's text.
func (a *Analyzer) Analyze(ctx context.Context, title, content string) (*Analysis, error) {
	text := title
	if content != "" {
		text = title + "\n\n" + content
	}

	raw, err := a.generate(ctx, analyzeSystemPrompt, text)
	if err != nil {
		return nil, err
	}

	var result Analysis
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &result); err != nil {
		return nil, fmt.Errorf("ai: decode analysis: %w", err)
	}
	if result.Importance < 1 {
		result.Importance = 1
	}
	if result.Importance > 5 {
		result.Importance = 5
	}
	switch result.Sentiment {
	case "positive", "negative", "neutral":
	default:
		result.Sentiment = "neutral"
	}
	return &result, nil
}

// generate performs a POST to /api/generate with stream disabled.
func (a *Analyzer) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:  a.model,
		System: systemPrompt,
		Prompt: userPrompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("ai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ai: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ai: decode response: %w", err)
	}
	return strings.TrimSpace(result.Response), nil
}

// stripJSONFences unwraps a response the model wrapped in markdown code
// fences despite the prompt.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	// Some models prepend chatter before the object; keep the braced part.
	if start := strings.Index(s, "{"); start > 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}

// Package filter implements the layered keyword filter applied to crawled
// items: a global exclusion pass over all text, then per-group keyword
// matching run independently against title, summary and full content.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/trendwatch-io/trendwatch/internal/models"
)

// Group is one keyword group. A group matches a text layer when no excluded
// term is present, every required term is present, and, if plain words or
// patterns exist, at least one of them matches.
type Group struct {
	Name        string
	DisplayName string
	Words       []string
	Required    []string
	Excluded    []string
	Patterns    []*regexp.Regexp
}

// label is the name recorded in matched_keywords when the group matches.
func (g *Group) label() string {
	if g.DisplayName != "" {
		return g.DisplayName
	}
	if len(g.Words) > 0 {
		return g.Words[0]
	}
	if len(g.Required) > 0 {
		return g.Required[0]
	}
	return "unknown"
}

func (g *Group) matches(text string) bool {
	lower := strings.ToLower(text)

	for _, ex := range g.Excluded {
		if strings.Contains(lower, strings.ToLower(ex)) {
			return false
		}
	}
	for _, req := range g.Required {
		if !strings.Contains(lower, strings.ToLower(req)) {
			return false
		}
	}

	if len(g.Words) == 0 && len(g.Patterns) == 0 {
		// Required-only groups match when all required terms are present.
		return len(g.Required) > 0
	}

	for _, w := range g.Words {
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	for _, p := range g.Patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Engine evaluates items against the loaded keyword configuration.
type Engine struct {
	Groups        []*Group
	FilterWords   []string
	GlobalFilters []string
}

// Empty reports whether the engine has no rules at all, in which case callers
// normally skip filtering entirely.
func (e *Engine) Empty() bool {
	return e == nil || (len(e.Groups) == 0 && len(e.GlobalFilters) == 0)
}

// Apply evaluates one item and records the verdict on it: MatchedKeywords,
// FilteredOut and FilterReason. It returns whether the item passed.
//
// Global filter terms are checked first against the concatenation of all
// three text layers; any hit rejects the item outright. Otherwise each layer
// is matched against every group independently, and the item passes when at
// least one group matched at least one layer.
func (e *Engine) Apply(item *models.NewsItem) bool {
	item.MatchedKeywords = nil
	item.FilteredOut = false
	item.FilterReason = ""

	allContent := strings.ToLower(item.Title + " " + item.Summary + " " + item.FullContent)
	for _, term := range e.GlobalFilters {
		if term != "" && strings.Contains(allContent, strings.ToLower(term)) {
			item.FilteredOut = true
			item.FilterReason = fmt.Sprintf("global filter matched: %s", term)
			return false
		}
	}

	var matched []string
	for _, text := range []string{item.Title, item.Summary, item.FullContent} {
		if text == "" {
			continue
		}
		for _, g := range e.Groups {
			if !g.matches(text) {
				continue
			}
			label := g.label()
			if label != "" && !contains(matched, label) {
				matched = append(matched, label)
			}
		}
	}

	item.MatchedKeywords = matched
	if len(matched) == 0 {
		item.FilteredOut = true
		item.FilterReason = "no keyword matched"
		return false
	}
	return true
}

// ApplyAll evaluates a batch, returning passed and rejected items in input
// order.
func (e *Engine) ApplyAll(items []*models.NewsItem) (passed, rejected []*models.NewsItem) {
	for _, item := range items {
		if e.Apply(item) {
			passed = append(passed, item)
		} else {
			rejected = append(rejected, item)
		}
	}
	return passed, rejected
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

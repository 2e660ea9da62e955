package filter_test

import (
	"strings"
	"testing"

	"github.com/trendwatch-io/trendwatch/internal/filter"
	"github.com/trendwatch-io/trendwatch/internal/models"
)

func TestGlobalFilterRejectsAcrossLayers(t *testing.T) {
	e := filter.Parse("[GLOBAL_FILTER]\nspam\n\n[Tech]\nchip\n")

	item := &models.NewsItem{Title: "chip news", FullContent: "contains SPAM inside"}
	if e.Apply(item) {
		t.Fatal("expected global filter to reject the item")
	}
	if item.FilterReason != "global filter matched: spam" {
		t.Fatalf("unexpected reason: %q", item.FilterReason)
	}
	if len(item.MatchedKeywords) != 0 {
		t.Fatal("global rejection should not record keywords")
	}
}

func TestGlobalFilterTakesPrecedence(t *testing.T) {
	e := filter.Parse("[GLOBAL_FILTER]\nadvert\n\n[Tech]\nchip\n")

	// Matches a group, but the global term wins.
	item := &models.NewsItem{Title: "chip advert"}
	if e.Apply(item) {
		t.Fatal("expected global filter to take precedence over group match")
	}
}

func TestPlainWordMatchIsCaseInsensitive(t *testing.T) {
	e := filter.Parse("[Tech]\nChip\n")

	item := &models.NewsItem{Title: "new CHIP factory announced"}
	if !e.Apply(item) {
		t.Fatalf("expected match, got reason %q", item.FilterReason)
	}
	if len(item.MatchedKeywords) != 1 || item.MatchedKeywords[0] != "Tech" {
		t.Fatalf("expected keyword [Tech], got %v", item.MatchedKeywords)
	}
}

func TestRequiredTermsAllMustBePresentPerLayer(t *testing.T) {
	e := filter.Parse("[Deal]\n+merger\n+billion\n")

	// Both terms in one layer: pass.
	item := &models.NewsItem{Title: "merger worth a billion"}
	if !e.Apply(item) {
		t.Fatal("expected required-only group to match when all terms present")
	}

	// Terms split across layers: each layer is checked independently, so no
	// single layer satisfies the group.
	split := &models.NewsItem{Title: "merger talks", Summary: "a billion at stake"}
	if e.Apply(split) {
		t.Fatal("expected no match when required terms span layers")
	}
	if split.FilterReason != "no keyword matched" {
		t.Fatalf("unexpected reason: %q", split.FilterReason)
	}
}

func TestExcludedTermRejectsGroup(t *testing.T) {
	e := filter.Parse("[Tech]\nchip\n!rumor\n")

	item := &models.NewsItem{Title: "chip rumor spreads"}
	if e.Apply(item) {
		t.Fatal("expected excluded term to block the group")
	}

	// The excluded term only blocks the layer it appears in.
	other := &models.NewsItem{Title: "chip factory", Summary: "rumor has it"}
	if !e.Apply(other) {
		t.Fatal("expected title layer to still match")
	}
}

func TestRequiredPlusWordsNeedsBoth(t *testing.T) {
	e := filter.Parse("[AI]\n+model\nrelease\nlaunch\n")

	if item := (&models.NewsItem{Title: "model weights leaked"}); e.Apply(item) {
		t.Fatal("required present but no plain word matched, expected reject")
	}
	if item := (&models.NewsItem{Title: "release notes"}); e.Apply(item) {
		t.Fatal("plain word present but required missing, expected reject")
	}
	if item := (&models.NewsItem{Title: "model release today"}); !e.Apply(item) {
		t.Fatal("expected match when required and a plain word are both present")
	}
}

func TestRegexPattern(t *testing.T) {
	e := filter.Parse("[Funding]\n/\\d{4}亿/\n")

	if item := (&models.NewsItem{Title: "注资1000亿元"}); !e.Apply(item) {
		t.Fatal("expected regex to match")
	}
	if item := (&models.NewsItem{Title: "注资10亿元"}); e.Apply(item) {
		t.Fatal("expected regex not to match three digits")
	}
}

func TestDisplayNameFallbacks(t *testing.T) {
	e := filter.Parse("chip\n")
	item := &models.NewsItem{Title: "chip"}
	e.Apply(item)
	if item.MatchedKeywords[0] != "chip" {
		t.Fatalf("expected first plain word as label, got %v", item.MatchedKeywords)
	}

	e = filter.Parse("chip => Semiconductors\n")
	item = &models.NewsItem{Title: "chip"}
	e.Apply(item)
	if item.MatchedKeywords[0] != "Semiconductors" {
		t.Fatalf("expected display name label, got %v", item.MatchedKeywords)
	}

	e = filter.Parse("+merger\n")
	item = &models.NewsItem{Title: "merger"}
	e.Apply(item)
	if item.MatchedKeywords[0] != "merger" {
		t.Fatalf("expected required term as label, got %v", item.MatchedKeywords)
	}
}

func TestMatchedKeywordsDedupedAcrossLayers(t *testing.T) {
	e := filter.Parse("[Tech]\nchip\n[Energy]\nsolar\n")

	item := &models.NewsItem{
		Title:       "chip and solar news",
		Summary:     "more about chip",
		FullContent: strings.Repeat("solar ", 3),
	}
	if !e.Apply(item) {
		t.Fatal("expected match")
	}
	if len(item.MatchedKeywords) != 2 ||
		item.MatchedKeywords[0] != "Tech" || item.MatchedKeywords[1] != "Energy" {
		t.Fatalf("expected [Tech Energy], got %v", item.MatchedKeywords)
	}
}

func TestApplyAllSplitsBatch(t *testing.T) {
	e := filter.Parse("[Tech]\nchip\n")

	items := []*models.NewsItem{
		{Seq: "1", Title: "chip news"},
		{Seq: "2", Title: "weather report"},
		{Seq: "3", Title: "another chip story"},
	}
	passed, rejected := e.ApplyAll(items)
	if len(passed) != 2 || len(rejected) != 1 {
		t.Fatalf("expected 2 passed / 1 rejected, got %d / %d", len(passed), len(rejected))
	}
	if rejected[0].Seq != "2" || !rejected[0].FilteredOut {
		t.Fatal("expected item 2 to be marked filtered out")
	}
}

func TestEmptyEngine(t *testing.T) {
	e := filter.Parse("")
	if !e.Empty() {
		t.Fatal("expected parsed empty content to yield an empty engine")
	}

	var nilEngine *filter.Engine
	if !nilEngine.Empty() {
		t.Fatal("expected nil engine to report empty")
	}
}

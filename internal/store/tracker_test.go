package store_test

import (
	"testing"

	"github.com/trendwatch-io/trendwatch/internal/models"
	"github.com/trendwatch-io/trendwatch/internal/store"
)

func items(seqs ...string) []*models.NewsItem {
	out := make([]*models.NewsItem, len(seqs))
	for i, s := range seqs {
		out[i] = &models.NewsItem{Seq: s, Title: "t-" + s}
	}
	return out
}

func TestDetectNewFirstSight(t *testing.T) {
	tr := store.NewTracker()
	tr.Register("src", nil)

	fresh := tr.DetectNew("src", items("a", "b", "c"))
	if len(fresh) != 3 {
		t.Fatalf("expected 3 new items, got %d", len(fresh))
	}
	if fresh[0].Seq != "a" || fresh[2].Seq != "c" {
		t.Fatal("expected input order to be preserved")
	}
}

func TestDetectNewIsAtMostOnce(t *testing.T) {
	tr := store.NewTracker()
	tr.Register("src", nil)

	tr.DetectNew("src", items("a", "b"))
	fresh := tr.DetectNew("src", items("a", "b", "c"))

	if len(fresh) != 1 || fresh[0].Seq != "c" {
		t.Fatalf("expected only c to be new, got %v", fresh)
	}

	// Repeat of the same batch yields nothing.
	if again := tr.DetectNew("src", items("a", "b", "c")); len(again) != 0 {
		t.Fatalf("expected no new items on repeat, got %d", len(again))
	}
}

func TestDetectNewDuplicateWithinBatch(t *testing.T) {
	tr := store.NewTracker()
	tr.Register("src", nil)

	fresh := tr.DetectNew("src", items("a", "a", "b"))
	if len(fresh) != 2 {
		t.Fatalf("expected in-batch duplicate to count once, got %d", len(fresh))
	}
}

func TestDetectNewSkipsEmptySeq(t *testing.T) {
	tr := store.NewTracker()
	tr.Register("src", nil)

	fresh := tr.DetectNew("src", items("", "a", ""))
	if len(fresh) != 1 || fresh[0].Seq != "a" {
		t.Fatalf("expected only a, got %v", fresh)
	}
}

func TestRegisterSeedsSeenSet(t *testing.T) {
	tr := store.NewTracker()
	tr.Register("src", []string{"a", "b"})

	fresh := tr.DetectNew("src", items("a", "b", "c"))
	if len(fresh) != 1 || fresh[0].Seq != "c" {
		t.Fatalf("expected seeded seqs to be known, got %v", fresh)
	}
	if tr.SeenCount("src") != 3 {
		t.Fatalf("expected 3 seen, got %d", tr.SeenCount("src"))
	}
}

func TestSourcesAreIndependent(t *testing.T) {
	tr := store.NewTracker()
	tr.Register("one", nil)
	tr.Register("two", nil)

	tr.DetectNew("one", items("a"))
	fresh := tr.DetectNew("two", items("a"))
	if len(fresh) != 1 {
		t.Fatal("expected seen-sets to be per source")
	}
}

func TestUnregisterDropsState(t *testing.T) {
	tr := store.NewTracker()
	tr.Register("src", []string{"a"})
	tr.Unregister("src")

	if tr.SeenCount("src") != 0 {
		t.Fatal("expected empty seen-set after unregister")
	}

	// A source that was never (re)registered still works lazily.
	fresh := tr.DetectNew("src", items("a"))
	if len(fresh) != 1 {
		t.Fatal("expected a to be new again after unregister")
	}
}

package rules

import (
	"testing"
	"time"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

func mkRule(id string, cat domain.RuleCategory, pattern string, created time.Time) domain.FilterRule {
	return domain.FilterRule{
		ID:        id,
		Category:  cat,
		MatchType: domain.MatchSubject,
		MatchMode: domain.ModeContains,
		Pattern:   pattern,
		Enabled:   true,
		CreatedAt: created,
	}
}

func TestCacheReplaceAllOrdersByCreation(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache()
	c.ReplaceAll([]domain.FilterRule{
		mkRule("b", domain.CategoryBlacklist, "two", t0.Add(time.Hour)),
		mkRule("a", domain.CategoryBlacklist, "one", t0),
		mkRule("w", domain.CategoryWhitelist, "ok", t0),
		mkRule("a2", domain.CategoryBlacklist, "tie", t0),
	})

	black := c.Category(domain.CategoryBlacklist)
	if len(black) != 3 {
		t.Fatalf("blacklist size = %d, want 3", len(black))
	}
	// created_at ascending, id as tie-break.
	wantOrder := []string{"a", "a2", "b"}
	for i, id := range wantOrder {
		if black[i].ID != id {
			t.Errorf("blacklist[%d] = %s, want %s", i, black[i].ID, id)
		}
	}
	if got := c.Len(); got != 4 {
		t.Errorf("Len = %d, want 4", got)
	}
}

func TestCacheInsertReplacesByID(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache()
	c.Insert(mkRule("d1", domain.CategoryDynamic, "old pattern", t0))
	c.Insert(mkRule("d1", domain.CategoryDynamic, "new pattern", t0))

	bucket := c.Category(domain.CategoryDynamic)
	if len(bucket) != 1 {
		t.Fatalf("bucket size = %d, want 1", len(bucket))
	}
	if bucket[0].Pattern != "new pattern" {
		t.Errorf("pattern = %q, want replacement", bucket[0].Pattern)
	}
}

func TestCacheRemove(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache()
	c.Insert(mkRule("d1", domain.CategoryDynamic, "p1", t0))
	c.Insert(mkRule("d2", domain.CategoryDynamic, "p2", t0.Add(time.Minute)))

	c.Remove("d1")
	bucket := c.Category(domain.CategoryDynamic)
	if len(bucket) != 1 || bucket[0].ID != "d2" {
		t.Errorf("after remove: %+v", bucket)
	}

	// Removing a missing id is a no-op.
	c.Remove("ghost")
	if c.Len() != 1 {
		t.Errorf("Len = %d after ghost remove", c.Len())
	}
}

func TestCacheFindDynamicByPattern(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache()
	c.Insert(mkRule("d1", domain.CategoryDynamic, "FLASH SALE", t0))
	c.Insert(mkRule("b1", domain.CategoryBlacklist, "FLASH SALE", t0))

	r, ok := c.FindDynamicByPattern("FLASH SALE")
	if !ok || r.ID != "d1" {
		t.Errorf("FindDynamicByPattern = %+v, %v", r, ok)
	}
	if _, ok := c.FindDynamicByPattern("missing"); ok {
		t.Error("unexpected hit for missing pattern")
	}
}

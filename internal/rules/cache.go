package rules

import (
	"context"
	"sort"
	"sync"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

// Cache is the in-memory rule index the synchronous decision path reads.
// Readers get immutable snapshots; every mutation builds a fresh slice under
// the write lock, so the single-writer coherence rule for dynamic rule
// creation holds: a rule inserted before TrackSubject returns is visible to
// the very next (and the current) filter evaluation.
type Cache struct {
	mu         sync.RWMutex
	byCategory map[domain.RuleCategory][]domain.FilterRule
}

// NewCache creates an empty rule cache.
func NewCache() *Cache {
	return &Cache{byCategory: make(map[domain.RuleCategory][]domain.FilterRule)}
}

// LoadFromStore replaces the cache contents with every rule in the store.
func (c *Cache) LoadFromStore(ctx context.Context, store *Store) error {
	all, err := store.ListAll(ctx)
	if err != nil {
		return err
	}
	c.ReplaceAll(all)
	return nil
}

// ReplaceAll swaps in a full rule set, bucketed and ordered.
func (c *Cache) ReplaceAll(all []domain.FilterRule) {
	buckets := make(map[domain.RuleCategory][]domain.FilterRule)
	for _, r := range all {
		buckets[r.Category] = append(buckets[r.Category], r)
	}
	for cat := range buckets {
		sortRules(buckets[cat])
	}
	c.mu.Lock()
	c.byCategory = buckets
	c.mu.Unlock()
}

// Insert adds or replaces one rule, keeping category order.
func (c *Cache) Insert(r domain.FilterRule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.byCategory[r.Category]
	next := make([]domain.FilterRule, 0, len(old)+1)
	for _, existing := range old {
		if existing.ID != r.ID {
			next = append(next, existing)
		}
	}
	next = append(next, r)
	sortRules(next)
	c.byCategory[r.Category] = next
}

// Remove drops a rule by id from every category bucket.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for cat, bucket := range c.byCategory {
		for i, r := range bucket {
			if r.ID == id {
				next := make([]domain.FilterRule, 0, len(bucket)-1)
				next = append(next, bucket[:i]...)
				next = append(next, bucket[i+1:]...)
				c.byCategory[cat] = next
				return
			}
		}
	}
}

// Category returns the ordered rule snapshot for one category. The returned
// slice must not be mutated.
func (c *Cache) Category(cat domain.RuleCategory) []domain.FilterRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byCategory[cat]
}

// FindDynamicByPattern returns the cached dynamic rule with this pattern.
func (c *Cache) FindDynamicByPattern(pattern string) (domain.FilterRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.byCategory[domain.CategoryDynamic] {
		if r.Pattern == pattern {
			return r, true
		}
	}
	return domain.FilterRule{}, false
}

// Len returns the total cached rule count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, bucket := range c.byCategory {
		n += len(bucket)
	}
	return n
}

func sortRules(rs []domain.FilterRule) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].CreatedAt.Before(rs[j].CreatedAt)
	})
}

package sift

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// SummaryEntry is one terminal path of a function explored under fresh
// parameter symbols: the returned value and the exit constraint, both over
// the parameter symbols, plus the names of non-local bindings the path
// wrote.
type SummaryEntry struct {
	Return      Expr // nil when the path raises or falls off the end
	Constraints []Expr
	Raises      bool
	Incomplete  bool
	SideEffects []string
}

// FunctionResult is the cached outcome of exploring one function: its
// summary entries plus the findings discovered along the way. Findings are
// attached here so each function's defects are reported exactly once no
// matter how many call sites pull in its summary.
type FunctionResult struct {
	Fn       *FunctionDef
	Entries  []SummaryEntry
	Findings []Finding
}

// SummaryKey returns the cache key for a function. Summaries are explored
// under fresh parameter symbols and specialized per call site by
// substitution, so the function identity alone keys the cache.
func SummaryKey(fn *FunctionDef) string { return fn.ID() }

// SummaryCache is a concurrent read-through cache of function results.
// Concurrent requests for the same key share a single build.
type SummaryCache struct {
	group   singleflight.Group
	mu      sync.RWMutex
	results map[string]*FunctionResult
	builds  map[string]int
}

// NewSummaryCache returns an empty cache.
func NewSummaryCache() *SummaryCache {
	return &SummaryCache{
		results: make(map[string]*FunctionResult),
		builds:  make(map[string]int),
	}
}

// GetOrBuild returns the cached result for key, building it at most once
// across all concurrent callers.
func (c *SummaryCache) GetOrBuild(key string, build func() (*FunctionResult, error)) (*FunctionResult, error) {
	c.mu.RLock()
	if result, ok := c.results[key]; ok {
		c.mu.RUnlock()
		return result, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		result, ok := c.results[key]
		c.mu.RUnlock()
		if ok {
			return result, nil
		}

		result, err := build()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.results[key] = result
		c.builds[key]++
		c.mu.Unlock()
		return result, nil
	})
	if err != nil {
		return nil, fmt.Errorf("summary %s: %w", key, err)
	}
	return v.(*FunctionResult), nil
}

// Get returns the cached result for key, if present.
func (c *SummaryCache) Get(key string) (*FunctionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.results[key]
	return result, ok
}

// Builds returns how many times key was built. At most one build per key is
// the cache's contract.
func (c *SummaryCache) Builds(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.builds[key]
}

// Len returns the number of cached results.
func (c *SummaryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

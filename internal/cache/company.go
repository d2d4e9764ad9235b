// Package cache implements the approximate-match company cache: exact
// symbol↔name entries in Redis plus an in-process BK-tree over cached
// descriptions so near-miss names still resolve without a provider call.
//
// The store is authoritative; the tree is a projection rebuilt from the
// persisted description index. Every store failure is non-fatal: a failed
// read behaves like a miss and a failed write is logged and dropped.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"ticker-enricher/internal/common/logging"
	"ticker-enricher/internal/fuzzy"
	"ticker-enricher/internal/redis"
)

const (
	symbolNamePrefix  = "symbol_name:"
	nameResultsPrefix = "name_results:"

	// descriptionIndexKey holds the JSON description→symbol map the BK-tree
	// is rebuilt from after a restart.
	descriptionIndexKey = "bk_tree_descriptions"

	// fuzzyRadius bounds how far a cached description may be from a queried
	// name and still count as a hit.
	fuzzyRadius = 3
)

// SymbolResult is one provider search result cached for a name.
type SymbolResult struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
}

// Stats describes the cache contents.
type Stats struct {
	SymbolEntries int `json:"symbol_entries"`
	NameEntries   int `json:"name_entries"`
	IndexSize     int `json:"index_size"`
}

// CompanyCache caches name→search-results and symbol→name lookups with a TTL,
// and answers fuzzy name queries from a BK-tree over every cached description.
type CompanyCache struct {
	store  *redis.Client
	ttl    time.Duration
	logger logging.Logger

	mu           sync.RWMutex
	tree         *fuzzy.BKTree
	descToSymbol map[string]string
}

// NewCompanyCache creates a cache over the given store. The description index
// is loaded from the store if present; a load failure just starts the index
// empty.
func NewCompanyCache(store *redis.Client, ttl time.Duration, logger logging.Logger) *CompanyCache {
	c := &CompanyCache{
		store:        store,
		ttl:          ttl,
		logger:       logger,
		tree:         fuzzy.NewBKTree(),
		descToSymbol: make(map[string]string),
	}
	c.loadIndex(context.Background())
	return c
}

// GetSymbolForName resolves a company name to a ticker symbol. Exact cached
// results are consulted first; on a miss the BK-tree is queried and the
// closest cached description (ties broken lexicographically) supplies the
// symbol. A fuzzy hit is written through as an exact entry for next time.
func (c *CompanyCache) GetSymbolForName(ctx context.Context, name string) (string, bool) {
	n := NormalizeName(name)
	if n == "" {
		return "", false
	}

	if results, ok := c.getResults(ctx, n); ok {
		if symbol, found := BestSymbol(n, results); found {
			return symbol, true
		}
	}

	c.mu.RLock()
	matches := c.tree.Search(n, fuzzyRadius)
	var symbol, matched string
	if len(matches) > 0 {
		matched = matches[0].Item
		symbol = c.descToSymbol[matched]
	}
	c.mu.RUnlock()

	if symbol == "" {
		return "", false
	}

	c.logger.Debug("fuzzy cache hit",
		logging.String("query", n),
		logging.String("matched", matched),
		logging.String("symbol", symbol))

	c.writeResults(ctx, n, []SymbolResult{{Symbol: symbol, Description: matched}})
	return symbol, true
}

// GetNameForSymbol returns the cached company name for a ticker symbol.
// Symbols match exactly only.
func (c *CompanyCache) GetNameForSymbol(ctx context.Context, symbol string) (string, bool) {
	s := NormalizeSymbol(symbol)
	if s == "" {
		return "", false
	}

	data, ok, err := c.store.Get(ctx, symbolNamePrefix+s)
	if err != nil {
		c.logger.Warn("cache read failed, treating as miss",
			logging.String("symbol", s), logging.Err(err))
		return "", false
	}
	if !ok || len(data) == 0 {
		return "", false
	}
	return string(data), true
}

// SetNameToSymbols caches a name's search results, folds every result's
// description into the fuzzy index and persists the updated index. The tree
// rebuild is synchronous so the next query already sees the new entries.
func (c *CompanyCache) SetNameToSymbols(ctx context.Context, name string, results []SymbolResult) {
	n := NormalizeName(name)
	if n == "" || len(results) == 0 {
		return
	}

	c.writeResults(ctx, n, results)

	c.mu.Lock()
	for _, r := range results {
		desc := NormalizeName(r.Description)
		sym := NormalizeSymbol(r.Symbol)
		if desc == "" || sym == "" {
			continue
		}
		c.descToSymbol[desc] = sym
	}
	c.rebuildIndex()
	snapshot := make(map[string]string, len(c.descToSymbol))
	for k, v := range c.descToSymbol {
		snapshot[k] = v
	}
	c.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("failed to encode description index", err)
		return
	}
	if err := c.store.SetWithTTL(ctx, descriptionIndexKey, data, c.ttl); err != nil {
		c.logger.Warn("failed to persist description index", logging.Err(err))
	}
}

// SetSymbolToName caches the company name for a ticker symbol.
func (c *CompanyCache) SetSymbolToName(ctx context.Context, symbol, name string) {
	s := NormalizeSymbol(symbol)
	if s == "" || strings.TrimSpace(name) == "" {
		return
	}
	if err := c.store.SetWithTTL(ctx, symbolNamePrefix+s, []byte(strings.TrimSpace(name)), c.ttl); err != nil {
		c.logger.Warn("cache write failed", logging.String("symbol", s), logging.Err(err))
	}
}

// Clear drops every cache entry and resets the fuzzy index.
func (c *CompanyCache) Clear(ctx context.Context) error {
	var keys []string
	for _, prefix := range []string{symbolNamePrefix, nameResultsPrefix} {
		scanned, err := c.store.ScanKeysByPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		keys = append(keys, scanned...)
	}
	keys = append(keys, descriptionIndexKey)

	if err := c.store.Delete(ctx, keys...); err != nil {
		return err
	}

	c.mu.Lock()
	c.descToSymbol = make(map[string]string)
	c.tree = fuzzy.NewBKTree()
	c.mu.Unlock()

	return nil
}

// Stats reports entry counts and the size of the fuzzy index. Store scan
// failures leave the affected count at zero rather than failing the call.
func (c *CompanyCache) Stats(ctx context.Context) Stats {
	var s Stats

	if n, err := c.store.CountKeysByPrefix(ctx, symbolNamePrefix); err == nil {
		s.SymbolEntries = n
	} else {
		c.logger.Warn("failed to count symbol entries", logging.Err(err))
	}
	if n, err := c.store.CountKeysByPrefix(ctx, nameResultsPrefix); err == nil {
		s.NameEntries = n
	} else {
		c.logger.Warn("failed to count name entries", logging.Err(err))
	}

	c.mu.RLock()
	s.IndexSize = c.tree.Len()
	c.mu.RUnlock()

	return s
}

func (c *CompanyCache) getResults(ctx context.Context, normalized string) ([]SymbolResult, bool) {
	data, ok, err := c.store.Get(ctx, nameResultsPrefix+normalized)
	if err != nil {
		c.logger.Warn("cache read failed, treating as miss",
			logging.String("name", normalized), logging.Err(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var results []SymbolResult
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Warn("corrupt cache entry, treating as miss",
			logging.String("name", normalized), logging.Err(err))
		return nil, false
	}
	return results, true
}

func (c *CompanyCache) writeResults(ctx context.Context, normalized string, results []SymbolResult) {
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("failed to encode cache entry", err, logging.String("name", normalized))
		return
	}
	if err := c.store.SetWithTTL(ctx, nameResultsPrefix+normalized, data, c.ttl); err != nil {
		c.logger.Warn("cache write failed", logging.String("name", normalized), logging.Err(err))
	}
}

// loadIndex restores the description index from the store.
func (c *CompanyCache) loadIndex(ctx context.Context) {
	data, ok, err := c.store.Get(ctx, descriptionIndexKey)
	if err != nil {
		c.logger.Warn("failed to load description index, starting empty", logging.Err(err))
		return
	}
	if !ok {
		return
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		c.logger.Warn("corrupt description index, starting empty", logging.Err(err))
		return
	}

	c.mu.Lock()
	c.descToSymbol = m
	c.rebuildIndex()
	size := c.tree.Len()
	c.mu.Unlock()

	c.logger.Info("fuzzy index restored", logging.Int("descriptions", size))
}

// rebuildIndex reconstructs the BK-tree from descToSymbol. Caller holds mu.
func (c *CompanyCache) rebuildIndex() {
	tree := fuzzy.NewBKTree()
	for desc := range c.descToSymbol {
		tree.Add(desc)
	}
	c.tree = tree
}

// BestSymbol picks the symbol to apply for a name from a result list: an
// exact normalized description match wins, otherwise the result whose
// description is closest by edit distance (ties broken lexicographically).
func BestSymbol(name string, results []SymbolResult) (string, bool) {
	n := NormalizeName(name)
	if n == "" || len(results) == 0 {
		return "", false
	}

	bestSymbol := ""
	bestDesc := ""
	bestDist := -1

	for _, r := range results {
		sym := NormalizeSymbol(r.Symbol)
		if sym == "" {
			continue
		}
		desc := NormalizeName(r.Description)
		if desc == n {
			return sym, true
		}
		d := fuzzy.Distance(n, desc)
		if bestDist == -1 || d < bestDist || (d == bestDist && desc < bestDesc) {
			bestDist = d
			bestDesc = desc
			bestSymbol = sym
		}
	}

	if bestSymbol == "" {
		return "", false
	}
	return bestSymbol, true
}

// NormalizeName lowercases and trims a company name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeSymbol uppercases and trims a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

package enrich

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticker-enricher/internal/cache"
	"ticker-enricher/internal/common/errors"
	"ticker-enricher/internal/common/logging"
	"ticker-enricher/internal/provider"
	"ticker-enricher/internal/redis"
	"ticker-enricher/internal/typo"
)

// fakeLookup is an in-memory provider with programmable responses and
// in-flight tracking for the concurrency tests.
type fakeLookup struct {
	mu        sync.Mutex
	searches  map[string][]provider.SymbolMatch
	searchErr map[string]error
	profiles  map[string]*provider.CompanyProfile

	searchCalls  []string
	profileCalls []string

	delay       time.Duration
	inFlight    int32
	maxInFlight int32
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		searches:  make(map[string][]provider.SymbolMatch),
		searchErr: make(map[string]error),
		profiles:  make(map[string]*provider.CompanyProfile),
	}
}

func (f *fakeLookup) track() func() {
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { atomic.AddInt32(&f.inFlight, -1) }
}

func (f *fakeLookup) SearchByName(ctx context.Context, query string) ([]provider.SymbolMatch, error) {
	defer f.track()()

	f.mu.Lock()
	f.searchCalls = append(f.searchCalls, query)
	err := f.searchErr[query]
	matches := f.searches[query]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (f *fakeLookup) ProfileBySymbol(ctx context.Context, symbol string) (*provider.CompanyProfile, error) {
	defer f.track()()

	f.mu.Lock()
	f.profileCalls = append(f.profileCalls, symbol)
	profile := f.profiles[symbol]
	f.mu.Unlock()

	return profile, nil
}

func setupService(t *testing.T, lookup *fakeLookup, checker *typo.Checker, concurrency int) (*Service, *cache.CompanyCache) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	companyCache := cache.NewCompanyCache(store, time.Hour, logging.GetGlobalLogger())

	s := NewService(lookup, companyCache, checker, concurrency, 2, logging.GetGlobalLogger())
	s.retry.BaseDelay = time.Millisecond
	s.retry.MaxDelay = 5 * time.Millisecond
	return s, companyCache
}

func TestEnrichBatch_MixedRows(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	lookup.searches["Tesla Inc"] = []provider.SymbolMatch{
		{Symbol: "TSLA", Description: "Tesla Inc"},
	}
	lookup.searchErr["Failcorp"] = errors.RateLimitError("provider")

	s, companyCache := setupService(t, lookup, nil, 4)
	companyCache.SetNameToSymbols(ctx, "Apple Inc", []cache.SymbolResult{
		{Symbol: "AAPL", Description: "Apple Inc"},
	})

	rows := []Row{
		{"name": "Complete Corp", "symbol": "CC"},
		{"name": "Apple Inc"},
		{"name": "Tesla Inc"},
		{"name": "Failcorp"},
	}

	result, err := s.EnrichBatch(ctx, rows)
	require.NoError(t, err)

	// Every row short a field counts, including the one that failed.
	assert.Equal(t, 3, result.EnrichedCount)
	assert.Equal(t, 1, result.CacheHitCount)

	// Complete row passes through untouched.
	assert.NotContains(t, rows[0], KeyStatus)

	// Cache hit never reaches the provider.
	assert.Equal(t, "AAPL", rows[1]["symbol"])
	assert.Equal(t, true, rows[1][KeyCacheHit])

	// Provider-resolved row.
	assert.Equal(t, "TSLA", rows[2]["symbol"])
	assert.Equal(t, StatusSuccess, rows[2][KeyStatus])
	assert.Equal(t, false, rows[2][KeyCacheHit])

	// Retry exhaustion fails the row, not the batch.
	assert.Equal(t, StatusFailed, rows[3][KeyStatus])
	assert.Contains(t, rows[3][KeyReason], "max retries exceeded")
}

func TestEnrichBatch_CountsRowsNeedingEnrichment(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	lookup.searchErr["Failcorp"] = errors.RateLimitError("provider")

	s, companyCache := setupService(t, lookup, nil, 2)
	companyCache.SetNameToSymbols(ctx, "Apple Inc", []cache.SymbolResult{
		{Symbol: "AAPL", Description: "Apple Inc"},
	})

	rows := []Row{
		{"name": "Complete Corp", "symbol": "CC"},
		{"name": "Apple Inc"},
		{"name": "Failcorp"},
	}

	result, err := s.EnrichBatch(ctx, rows)
	require.NoError(t, err)

	// Two rows were short a symbol, so two needed enrichment: the cache hit
	// and the one that exhausted its retries. Resolution outcome lives in
	// the row annotations, not in the count.
	assert.Equal(t, 2, result.EnrichedCount)
	assert.Equal(t, 1, result.CacheHitCount)
	assert.Equal(t, StatusSuccess, rows[1][KeyStatus])
	assert.Equal(t, StatusFailed, rows[2][KeyStatus])
}

func TestEnrichBatch_ResultsAreCachedForNextBatch(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	lookup.searches["Tesla Inc"] = []provider.SymbolMatch{
		{Symbol: "TSLA", Description: "Tesla Inc"},
	}

	s, _ := setupService(t, lookup, nil, 2)

	_, err := s.EnrichBatch(ctx, []Row{{"name": "Tesla Inc"}})
	require.NoError(t, err)

	result, err := s.EnrichBatch(ctx, []Row{{"name": "Tesla Inc"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.CacheHitCount)

	// Only the first batch hit the provider.
	assert.Len(t, lookup.searchCalls, 1)
}

func TestEnrichBatch_ProgressiveShortening(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	// Full name misses; the one-word query matches.
	lookup.searches["Tesla"] = []provider.SymbolMatch{
		{Symbol: "TSLA", Description: "Tesla Inc"},
	}

	s, _ := setupService(t, lookup, nil, 2)

	rows := []Row{{"name": "Tesla Motors Holdings"}}
	_, err := s.EnrichBatch(ctx, rows)
	require.NoError(t, err)

	assert.Equal(t, "TSLA", rows[0]["symbol"])
	assert.Equal(t, []string{"Tesla Motors Holding", "Tesla Motors", "Tesla"}, lookup.searchCalls)
}

func TestEnrichBatch_TypoFallback(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	lookup.searches["tesla inc"] = []provider.SymbolMatch{
		{Symbol: "TSLA", Description: "Tesla Inc"},
	}

	checker := typo.NewChecker([]string{"Tesla Inc", "Apple Inc"})
	s, companyCache := setupService(t, lookup, checker, 2)

	rows := []Row{{"name": "telsa inc"}}
	_, err := s.EnrichBatch(ctx, rows)
	require.NoError(t, err)

	assert.Equal(t, "TSLA", rows[0]["symbol"])
	assert.Equal(t, StatusSuccess, rows[0][KeyStatus])

	// The correction is cached under the misspelled name.
	sym, ok := companyCache.GetSymbolForName(ctx, "telsa inc")
	require.True(t, ok)
	assert.Equal(t, "TSLA", sym)
}

func TestEnrichBatch_NoMatchesAnywhere(t *testing.T) {
	ctx := context.Background()
	s, _ := setupService(t, newFakeLookup(), nil, 2)

	rows := []Row{{"name": "Nonexistent Widgets"}}
	_, err := s.EnrichBatch(ctx, rows)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, rows[0][KeyStatus])
	assert.Equal(t, "no matches found for name", rows[0][KeyReason])
}

func TestEnrichBatch_SymbolToName(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	lookup.profiles["AAPL"] = &provider.CompanyProfile{Name: "Apple Inc", Ticker: "AAPL"}

	s, companyCache := setupService(t, lookup, nil, 2)

	t.Run("profile fills in the name", func(t *testing.T) {
		rows := []Row{{"symbol": "AAPL"}}
		result, err := s.EnrichBatch(ctx, rows)
		require.NoError(t, err)

		assert.Equal(t, 1, result.EnrichedCount)
		assert.Equal(t, "Apple Inc", rows[0]["name"])

		name, ok := companyCache.GetNameForSymbol(ctx, "AAPL")
		require.True(t, ok)
		assert.Equal(t, "Apple Inc", name)
	})

	t.Run("second batch is a cache hit", func(t *testing.T) {
		rows := []Row{{"symbol": "AAPL"}}
		result, err := s.EnrichBatch(ctx, rows)
		require.NoError(t, err)
		assert.Equal(t, 1, result.CacheHitCount)
		assert.Len(t, lookup.profileCalls, 1)
	})

	t.Run("implausible ticker skips the provider", func(t *testing.T) {
		rows := []Row{{"symbol": "notaticker"}}
		_, err := s.EnrichBatch(ctx, rows)
		require.NoError(t, err)

		assert.Equal(t, StatusFailed, rows[0][KeyStatus])
		assert.NotContains(t, lookup.profileCalls, "notaticker")
	})

	t.Run("unknown ticker fails the row", func(t *testing.T) {
		rows := []Row{{"symbol": "ZZZZ"}}
		_, err := s.EnrichBatch(ctx, rows)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, rows[0][KeyStatus])
		assert.Equal(t, "symbol not found", rows[0][KeyReason])
	})
}

func TestEnrichBatch_EmptyRowFails(t *testing.T) {
	s, _ := setupService(t, newFakeLookup(), nil, 2)

	rows := []Row{{"other": "column"}}
	result, err := s.EnrichBatch(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, rows[0][KeyStatus])
	assert.Equal(t, 1, result.EnrichedCount)
}

func TestEnrichBatch_ConcurrencyBound(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	lookup.delay = 20 * time.Millisecond

	names := []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot"}
	rows := make([]Row, 0, len(names))
	for _, n := range names {
		lookup.searches[n] = []provider.SymbolMatch{{Symbol: n, Description: n}}
		rows = append(rows, Row{"name": n})
	}

	s, _ := setupService(t, lookup, nil, 2)

	result, err := s.EnrichBatch(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, len(names), result.EnrichedCount)
	assert.LessOrEqual(t, atomic.LoadInt32(&lookup.maxInFlight), int32(2),
		"provider calls must respect the concurrency bound")
}

func TestSearchQueries(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single word", "Tesla", []string{"Tesla"}},
		{"drops trailing words", "Tesla Motors Inc", []string{"Tesla Motors Inc", "Tesla Motors", "Tesla"}},
		{"caps long names", "International Business Machines Corporation",
			[]string{"International Busine", "International"}},
		{"blank", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, searchQueries(tt.in))
		})
	}
}

func TestSearchQueries_CapCountsRunes(t *testing.T) {
	// 20 runes but 24 bytes; a byte-based cap would split the rune at the
	// boundary and produce an invalid query.
	queries := searchQueries("Générale Électricité de France")
	require.NotEmpty(t, queries)
	assert.Equal(t, "Générale Électricité", queries[0])
	for _, q := range queries {
		assert.True(t, utf8.ValidString(q), "query %q is not valid UTF-8", q)
		assert.LessOrEqual(t, len([]rune(q)), maxQueryLen)
	}
}

func TestIsLikelyTicker(t *testing.T) {
	assert.True(t, isLikelyTicker("AAPL"))
	assert.True(t, isLikelyTicker("BRK.A"))
	assert.True(t, isLikelyTicker("A"))
	assert.False(t, isLikelyTicker("aapl"))
	assert.False(t, isLikelyTicker("TOOLONGTICKER"))
	assert.False(t, isLikelyTicker(""))
}

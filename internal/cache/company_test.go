package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticker-enricher/internal/common/logging"
	"ticker-enricher/internal/redis"
)

func setupCache(t *testing.T) (*CompanyCache, *redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := NewCompanyCache(store, time.Hour, logging.GetGlobalLogger())
	return c, store, mr
}

func TestCompanyCache_ExactNameLookup(t *testing.T) {
	c, _, _ := setupCache(t)
	ctx := context.Background()

	c.SetNameToSymbols(ctx, "Apple Inc", []SymbolResult{
		{Symbol: "AAPL", Description: "Apple Inc"},
		{Symbol: "APC.F", Description: "Apple Inc (Frankfurt)"},
	})

	symbol, ok := c.GetSymbolForName(ctx, "apple inc")
	require.True(t, ok)
	assert.Equal(t, "AAPL", symbol)

	// Normalization: case and whitespace do not matter.
	symbol, ok = c.GetSymbolForName(ctx, "  APPLE INC  ")
	require.True(t, ok)
	assert.Equal(t, "AAPL", symbol)
}

func TestCompanyCache_FuzzyNameLookup(t *testing.T) {
	c, store, _ := setupCache(t)
	ctx := context.Background()

	c.SetNameToSymbols(ctx, "Berry Corporation", []SymbolResult{
		{Symbol: "BRY", Description: "Berry Corporation"},
	})

	// One deletion away from the cached description.
	symbol, ok := c.GetSymbolForName(ctx, "bery corporation")
	require.True(t, ok)
	assert.Equal(t, "BRY", symbol)

	// The fuzzy hit is written through as an exact entry.
	_, found, err := store.Get(ctx, nameResultsPrefix+"bery corporation")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCompanyCache_FuzzyTieBreak(t *testing.T) {
	c, _, _ := setupCache(t)
	ctx := context.Background()

	c.SetNameToSymbols(ctx, "aaa", []SymbolResult{{Symbol: "FIRST", Description: "aaa"}})
	c.SetNameToSymbols(ctx, "aab", []SymbolResult{{Symbol: "SECOND", Description: "aab"}})

	// Both descriptions sit at distance 1; the lexicographically smaller
	// one must win, deterministically.
	for i := 0; i < 5; i++ {
		symbol, ok := c.GetSymbolForName(ctx, "aac")
		require.True(t, ok)
		assert.Equal(t, "FIRST", symbol)
	}
}

func TestCompanyCache_NameMiss(t *testing.T) {
	c, _, _ := setupCache(t)

	_, ok := c.GetSymbolForName(context.Background(), "unknown corp")
	assert.False(t, ok)

	_, ok = c.GetSymbolForName(context.Background(), "")
	assert.False(t, ok)
}

func TestCompanyCache_SymbolLookup(t *testing.T) {
	c, _, _ := setupCache(t)
	ctx := context.Background()

	c.SetSymbolToName(ctx, "aapl", "Apple Inc")

	name, ok := c.GetNameForSymbol(ctx, "AAPL")
	require.True(t, ok)
	assert.Equal(t, "Apple Inc", name)

	// Symbols are exact-match only.
	_, ok = c.GetNameForSymbol(ctx, "AAPPL")
	assert.False(t, ok)
}

func TestCompanyCache_IndexSurvivesRestart(t *testing.T) {
	c, store, _ := setupCache(t)
	ctx := context.Background()

	c.SetNameToSymbols(ctx, "Tesla Inc", []SymbolResult{
		{Symbol: "TSLA", Description: "Tesla Inc"},
	})

	// A fresh cache over the same store rebuilds the fuzzy index from the
	// persisted description map.
	restarted := NewCompanyCache(store, time.Hour, logging.GetGlobalLogger())
	symbol, ok := restarted.GetSymbolForName(ctx, "telsa inc")
	require.True(t, ok)
	assert.Equal(t, "TSLA", symbol)
}

func TestCompanyCache_EntriesExpire(t *testing.T) {
	c, _, mr := setupCache(t)
	ctx := context.Background()

	c.SetSymbolToName(ctx, "TSLA", "Tesla Inc")
	_, ok := c.GetNameForSymbol(ctx, "TSLA")
	require.True(t, ok)

	mr.FastForward(2 * time.Hour)

	_, ok = c.GetNameForSymbol(ctx, "TSLA")
	assert.False(t, ok)
}

func TestCompanyCache_Clear(t *testing.T) {
	c, _, _ := setupCache(t)
	ctx := context.Background()

	c.SetNameToSymbols(ctx, "Apple Inc", []SymbolResult{{Symbol: "AAPL", Description: "Apple Inc"}})
	c.SetSymbolToName(ctx, "AAPL", "Apple Inc")

	require.NoError(t, c.Clear(ctx))

	_, ok := c.GetSymbolForName(ctx, "apple inc")
	assert.False(t, ok)
	_, ok = c.GetNameForSymbol(ctx, "AAPL")
	assert.False(t, ok)

	stats := c.Stats(ctx)
	assert.Zero(t, stats.SymbolEntries)
	assert.Zero(t, stats.NameEntries)
	assert.Zero(t, stats.IndexSize)
}

func TestCompanyCache_Stats(t *testing.T) {
	c, _, _ := setupCache(t)
	ctx := context.Background()

	c.SetNameToSymbols(ctx, "Apple Inc", []SymbolResult{{Symbol: "AAPL", Description: "Apple Inc"}})
	c.SetNameToSymbols(ctx, "Tesla Inc", []SymbolResult{{Symbol: "TSLA", Description: "Tesla Inc"}})
	c.SetSymbolToName(ctx, "AAPL", "Apple Inc")

	stats := c.Stats(ctx)
	assert.Equal(t, 1, stats.SymbolEntries)
	assert.Equal(t, 2, stats.NameEntries)
	assert.Equal(t, 2, stats.IndexSize)
}

func TestBestSymbol(t *testing.T) {
	results := []SymbolResult{
		{Symbol: "MSFT", Description: "Microsoft Corporation"},
		{Symbol: "AAPL", Description: "Apple Inc"},
	}

	t.Run("exact description wins", func(t *testing.T) {
		symbol, ok := BestSymbol("Apple Inc", results)
		require.True(t, ok)
		assert.Equal(t, "AAPL", symbol)
	})

	t.Run("closest description otherwise", func(t *testing.T) {
		symbol, ok := BestSymbol("aple inc", results)
		require.True(t, ok)
		assert.Equal(t, "AAPL", symbol)
	})

	t.Run("equidistant ties break lexicographically", func(t *testing.T) {
		tied := []SymbolResult{
			{Symbol: "BBB", Description: "aab"},
			{Symbol: "AAA", Description: "aaa"},
		}
		symbol, ok := BestSymbol("aac", tied)
		require.True(t, ok)
		assert.Equal(t, "AAA", symbol)
	})

	t.Run("empty inputs", func(t *testing.T) {
		_, ok := BestSymbol("", results)
		assert.False(t, ok)
		_, ok = BestSymbol("apple", nil)
		assert.False(t, ok)
	})
}

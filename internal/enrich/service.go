// Package enrich implements the batch enrichment pipeline: rows carrying a
// company name or a ticker symbol get the missing half filled in from the
// cache or, failing that, from the lookup provider under a concurrency bound.
// Failures never cross rows; a row that cannot be resolved is annotated and
// the batch carries on.
package enrich

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"ticker-enricher/internal/cache"
	"ticker-enricher/internal/common/errors"
	"ticker-enricher/internal/common/logging"
	"ticker-enricher/internal/common/utils"
	"ticker-enricher/internal/provider"
	"ticker-enricher/internal/typo"
)

// Row field and annotation keys.
const (
	FieldName   = "name"
	FieldSymbol = "symbol"

	KeyEnriched = "isEnriched"
	KeyStatus   = "lookupStatus"
	KeyReason   = "failureReason"
	KeyCacheHit = "cacheHit"

	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// maxQueryLen caps search queries; the provider matches poorly on long
// strings so names are truncated before the first attempt.
const maxQueryLen = 20

// maxSuggestions bounds how many spelling suggestions are tried after a
// search comes up empty.
const maxSuggestions = 3

// maxTickerLen is the longest string still treated as a plausible ticker.
const maxTickerLen = 9

// Row is one tabular record. Values stay untyped so unknown columns pass
// through unchanged.
type Row map[string]interface{}

// BatchResult is the outcome of enriching one batch. EnrichedCount counts
// every row that entered the enrichment path, whether or not it resolved;
// per-row success lives in the row annotations.
type BatchResult struct {
	Rows          []Row `json:"data"`
	EnrichedCount int   `json:"enriched_count"`
	CacheHitCount int   `json:"cache_hits"`
}

// Lookup is the provider surface the pipeline needs.
type Lookup interface {
	SearchByName(ctx context.Context, query string) ([]provider.SymbolMatch, error)
	ProfileBySymbol(ctx context.Context, symbol string) (*provider.CompanyProfile, error)
}

// Service runs batch enrichment. Rows are processed concurrently; the
// semaphore bounds in-flight provider calls, not goroutines, so cache hits
// never queue behind slow lookups.
type Service struct {
	provider Lookup
	cache    *cache.CompanyCache
	typo     *typo.Checker
	sem      *semaphore.Weighted
	retry    utils.RetryConfig
	logger   logging.Logger
}

// NewService creates the pipeline. typoChecker may be nil, which disables
// spelling suggestions. maxRetries counts retries after the initial attempt.
func NewService(lookup Lookup, companyCache *cache.CompanyCache, typoChecker *typo.Checker, concurrency, maxRetries int, logger logging.Logger) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = maxRetries + 1
	retry.BaseDelay = time.Second
	retry.RetryableErrors = errors.IsRetryable

	return &Service{
		provider: lookup,
		cache:    companyCache,
		typo:     typoChecker,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		retry:    retry,
		logger:   logger,
	}
}

// EnrichBatch fills in missing names and symbols across rows. Rows that
// already carry both fields pass through untouched. There is no ordering
// guarantee between rows; each succeeds or fails on its own.
func (s *Service) EnrichBatch(ctx context.Context, rows []Row) (*BatchResult, error) {
	var enriched, cacheHits int64
	var wg sync.WaitGroup

	for _, row := range rows {
		if row == nil {
			continue
		}
		wg.Add(1)
		go func(r Row) {
			defer wg.Done()
			needed, fromCache := s.enrichRow(ctx, r)
			if needed {
				atomic.AddInt64(&enriched, 1)
			}
			if fromCache {
				atomic.AddInt64(&cacheHits, 1)
			}
		}(row)
	}
	wg.Wait()

	result := &BatchResult{
		Rows:          rows,
		EnrichedCount: int(atomic.LoadInt64(&enriched)),
		CacheHitCount: int(atomic.LoadInt64(&cacheHits)),
	}

	s.logger.Info("batch enriched",
		logging.Int("rows", len(rows)),
		logging.Int("enriched", result.EnrichedCount),
		logging.Int("cache_hits", result.CacheHitCount))

	return result, nil
}

// enrichRow resolves one row, reporting whether the row needed enrichment and
// whether the cache satisfied it. A row that fails still counts as needing
// enrichment; the failure is recorded in its annotations.
func (s *Service) enrichRow(ctx context.Context, row Row) (needed, fromCache bool) {
	name := stringField(row, FieldName)
	symbol := stringField(row, FieldSymbol)

	switch {
	case name != "" && symbol != "":
		return false, false
	case name == "" && symbol == "":
		markFailed(row, "row has neither name nor symbol")
		return true, false
	case symbol == "":
		return true, s.resolveSymbol(ctx, row, name)
	default:
		return true, s.resolveName(ctx, row, symbol)
	}
}

func (s *Service) resolveSymbol(ctx context.Context, row Row, name string) bool {
	if sym, ok := s.cache.GetSymbolForName(ctx, name); ok {
		markEnriched(row, FieldSymbol, sym, true)
		return true
	}

	sym, err := s.lookupSymbol(ctx, name)
	if err != nil {
		s.logger.Warn("symbol lookup failed",
			logging.String("name", name), logging.Err(err))
		markFailed(row, err.Error())
		return false
	}
	if sym == "" {
		markFailed(row, "no matches found for name")
		return false
	}

	markEnriched(row, FieldSymbol, sym, false)
	return false
}

func (s *Service) resolveName(ctx context.Context, row Row, symbol string) bool {
	if name, ok := s.cache.GetNameForSymbol(ctx, symbol); ok {
		markEnriched(row, FieldName, name, true)
		return true
	}

	if !isLikelyTicker(symbol) {
		markFailed(row, "not a plausible ticker symbol")
		return false
	}

	profile, err := s.profileWithRetry(ctx, symbol)
	if err != nil {
		s.logger.Warn("profile lookup failed",
			logging.String("symbol", symbol), logging.Err(err))
		markFailed(row, err.Error())
		return false
	}
	if profile == nil || profile.Name == "" {
		markFailed(row, "symbol not found")
		return false
	}

	s.cache.SetSymbolToName(ctx, symbol, profile.Name)
	markEnriched(row, FieldName, profile.Name, false)
	return false
}

// lookupSymbol searches the provider with progressively shorter queries, then
// with spelling suggestions. The first query with results wins; the results
// are cached under the original name before the best symbol is picked.
func (s *Service) lookupSymbol(ctx context.Context, name string) (string, error) {
	for _, query := range searchQueries(name) {
		matches, err := s.searchWithRetry(ctx, query)
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			return s.applyMatches(ctx, name, matches), nil
		}
	}

	if s.typo == nil {
		return "", nil
	}

	suggestions := s.typo.Suggest(name)
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	for _, sg := range suggestions {
		matches, err := s.searchWithRetry(ctx, sg.Name)
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			s.logger.Info("resolved via spelling suggestion",
				logging.String("name", name),
				logging.String("suggestion", sg.Name))
			return s.applyMatches(ctx, name, matches), nil
		}
	}

	return "", nil
}

// applyMatches caches search results under the queried name and returns the
// best symbol for it.
func (s *Service) applyMatches(ctx context.Context, name string, matches []provider.SymbolMatch) string {
	results := make([]cache.SymbolResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, cache.SymbolResult{Symbol: m.Symbol, Description: m.Description})
	}
	s.cache.SetNameToSymbols(ctx, name, results)

	sym, _ := cache.BestSymbol(name, results)
	return sym
}

func (s *Service) searchWithRetry(ctx context.Context, query string) ([]provider.SymbolMatch, error) {
	var matches []provider.SymbolMatch
	err := utils.RetryWithBackoff(ctx, s.retry, func() error {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return errors.TimeoutError("waiting for provider slot")
		}
		defer s.sem.Release(1)

		var callErr error
		matches, callErr = s.provider.SearchByName(ctx, query)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *Service) profileWithRetry(ctx context.Context, symbol string) (*provider.CompanyProfile, error) {
	var profile *provider.CompanyProfile
	err := utils.RetryWithBackoff(ctx, s.retry, func() error {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return errors.TimeoutError("waiting for provider slot")
		}
		defer s.sem.Release(1)

		var callErr error
		profile, callErr = s.provider.ProfileBySymbol(ctx, symbol)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// searchQueries yields the queries to try for a name: the full name first,
// then progressively dropping trailing words. Every query is capped at
// maxQueryLen characters.
func searchQueries(name string) []string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var queries []string
	for i := len(words); i >= 1; i-- {
		q := strings.Join(words[:i], " ")
		if runes := []rune(q); len(runes) > maxQueryLen {
			q = strings.TrimSpace(string(runes[:maxQueryLen]))
		}
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
	}
	return queries
}

// isLikelyTicker filters out strings that cannot be tickers before spending a
// provider call on them: short, and no lowercase letters.
func isLikelyTicker(symbol string) bool {
	s := strings.TrimSpace(symbol)
	if s == "" || len(s) > maxTickerLen {
		return false
	}
	return s == strings.ToUpper(s)
}

func stringField(row Row, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(str)
}

func markEnriched(row Row, field, value string, fromCache bool) {
	row[field] = value
	row[KeyEnriched] = true
	row[KeyStatus] = StatusSuccess
	row[KeyCacheHit] = fromCache
}

func markFailed(row Row, reason string) {
	row[KeyEnriched] = false
	row[KeyStatus] = StatusFailed
	row[KeyReason] = reason
}

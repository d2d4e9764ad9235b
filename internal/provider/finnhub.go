// Package provider implements the external lookup client. Outbound calls are
// paced with a local rate limiter and guarded by a circuit breaker; response
// statuses map onto the error taxonomy so the retry layer can tell a
// rate-limited call from a terminal one.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"ticker-enricher/internal/circuitbreaker"
	"ticker-enricher/internal/common/errors"
	"ticker-enricher/internal/common/logging"
)

// Provider-side pacing, independent of client admission control. Matches the
// free-tier throughput limits of the lookup API.
const (
	outboundPerSecond = 10
	outboundBurst     = 10
)

// SymbolMatch is one entry from a name search.
type SymbolMatch struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// CompanyProfile is the provider's profile record for a ticker.
type CompanyProfile struct {
	Name     string `json:"name"`
	Ticker   string `json:"ticker"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

type searchResponse struct {
	Count  int           `json:"count"`
	Result []SymbolMatch `json:"result"`
}

// Config holds the provider client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the lookup provider over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	breaker    *circuitbreaker.GoBreakerAdapter
	logger     logging.Logger
}

// NewClient creates a provider client. Timeout applies per call.
func NewClient(config Config, logger logging.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    config.BaseURL,
		apiKey:     config.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(outboundPerSecond), outboundBurst),
		breaker:    circuitbreaker.NewGoBreaker("lookup-provider", circuitbreaker.ProviderConfig, logger),
		logger:     logger,
	}
}

// SearchByName queries the provider's symbol search for a company name.
func (c *Client) SearchByName(ctx context.Context, query string) ([]SymbolMatch, error) {
	if query == "" {
		return nil, errors.ValidationError("search query is empty")
	}

	endpoint := fmt.Sprintf("%s/search?q=%s", c.baseURL, url.QueryEscape(query))

	var resp searchResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("symbol search",
		logging.String("query", query),
		logging.Int("results", len(resp.Result)))

	return resp.Result, nil
}

// ProfileBySymbol fetches the company profile for a ticker. An unknown ticker
// yields (nil, nil): the provider answers 200 with an empty object.
func (c *Client) ProfileBySymbol(ctx context.Context, symbol string) (*CompanyProfile, error) {
	if symbol == "" {
		return nil, errors.ValidationError("symbol is empty")
	}

	endpoint := fmt.Sprintf("%s/stock/profile2?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	var profile CompanyProfile
	if err := c.getJSON(ctx, endpoint, &profile); err != nil {
		return nil, err
	}
	if profile.Name == "" && profile.Ticker == "" {
		return nil, nil
	}
	return &profile, nil
}

// getJSON performs a paced, breaker-guarded GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.TimeoutError("waiting for provider pacing")
	}

	return c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return errors.InternalError("failed to build provider request", err)
		}
		req.Header.Set("X-Finnhub-Token", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return classifyTransportError(err)
		}
		defer resp.Body.Close()

		if err := classifyStatus(resp.StatusCode); err != nil {
			io.Copy(io.Discard, resp.Body)
			return err
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.InternalError("failed to decode provider response", err)
		}
		return nil
	})
}

func classifyTransportError(err error) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return errors.TimeoutError("provider request")
	}
	return errors.ConnectionError("provider request failed", err)
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return errors.RateLimitError("lookup provider")
	case status == http.StatusNotFound:
		return errors.NotFoundError("provider endpoint")
	case status >= 500:
		return errors.InternalError(fmt.Sprintf("provider returned %d", status), nil)
	default:
		return errors.ValidationError(fmt.Sprintf("provider rejected request with %d", status))
	}
}

package oracle

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stock-trader-go/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://www.alphavantage.co"

// Kind classifies a price-lookup failure.
type Kind string

const (
	KindNotFound    Kind = "not_found"    // the symbol is unknown to the provider
	KindRateLimited Kind = "rate_limited" // the provider throttled us, retry later
	KindUnavailable Kind = "unavailable"  // transport failure, timeout or bad payload
)

// Error is a classified price-lookup failure. Callers decide whether and how
// to retry; the client never retries on its own, so a stale or throttled
// price can never be silently reused for a trade.
type Error struct {
	Kind   Kind
	Symbol string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("price lookup for %s failed (%s): %s", e.Symbol, e.Kind, e.Reason)
}

// Oracle resolves a ticker symbol to its most recent known price.
// Implementations return *Error for classified failures. Every call is a
// point-in-time value; there is no caching at this boundary.
type Oracle interface {
	Lookup(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Client fetches quotes from the Alpha Vantage REST API.
// It implements the Oracle interface.
type Client struct {
	client  *resty.Client
	apiKey  string
	logger  *zap.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

// ensure Client implements the interface
var _ Oracle = (*Client)(nil)

// NewClient creates a new Alpha Vantage quote client.
func NewClient(cfg *config.Oracle, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := resty.New().SetBaseURL(baseURL)

	// The free tier is tightly limited, so requests are throttled client-side.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:  client,
		apiKey:  cfg.ApiKey,
		logger:  logger,
		limiter: limiter,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

// globalQuoteResponse mirrors the GLOBAL_QUOTE endpoint. Alpha Vantage
// signals an unknown symbol with an empty quote object and a throttled key
// with a Note/Information message instead of an HTTP error status.
type globalQuoteResponse struct {
	Quote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
	} `json:"Global Quote"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

// Lookup fetches the current price for a symbol. The call is bounded by the
// configured timeout; an expired deadline is reported as KindUnavailable.
func (c *Client) Lookup(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, &Error{Kind: KindUnavailable, Symbol: symbol, Reason: fmt.Sprintf("rate limiter wait failed: %v", err)}
	}

	var result globalQuoteResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"function": "GLOBAL_QUOTE",
			"symbol":   symbol,
			"apikey":   c.apiKey,
		}).
		SetResult(&result).
		SetHeader("Content-Type", "application/json").
		Get("/query")
	if err != nil {
		c.logger.Warn("Price lookup transport failure", zap.String("symbol", symbol), zap.Error(err))
		return decimal.Zero, &Error{Kind: KindUnavailable, Symbol: symbol, Reason: err.Error()}
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		return decimal.Zero, &Error{Kind: KindRateLimited, Symbol: symbol, Reason: "provider returned HTTP 429"}
	}
	if resp.IsError() {
		return decimal.Zero, &Error{Kind: KindUnavailable, Symbol: symbol, Reason: fmt.Sprintf("provider returned status %s", resp.Status())}
	}

	if note := strings.ToLower(result.Note + result.Information); strings.Contains(note, "rate limit") {
		c.logger.Warn("Price provider rate limit hit", zap.String("symbol", symbol))
		return decimal.Zero, &Error{Kind: KindRateLimited, Symbol: symbol, Reason: "provider rate limit exceeded"}
	}

	if result.Quote.Price == "" {
		return decimal.Zero, &Error{Kind: KindNotFound, Symbol: symbol, Reason: "no quote returned for symbol"}
	}

	price, err := decimal.NewFromString(result.Quote.Price)
	if err != nil {
		return decimal.Zero, &Error{Kind: KindUnavailable, Symbol: symbol, Reason: fmt.Sprintf("malformed price %q", result.Quote.Price)}
	}
	if !price.IsPositive() {
		return decimal.Zero, &Error{Kind: KindUnavailable, Symbol: symbol, Reason: fmt.Sprintf("non-positive price %s", price)}
	}

	c.logger.Debug("Resolved price", zap.String("symbol", symbol), zap.String("price", price.String()))
	return price, nil
}

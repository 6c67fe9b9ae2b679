// Package httpapi adapts a JSON market-data gateway to the enrichment
// provider interfaces.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/enrich"
	"squeeze-discovery/internal/logging"
)

// Endpoint paths, relative to the base URL.
const (
	pathQuote         = "/v1/quote/{symbol}"
	pathMomentum      = "/v1/momentum/{symbol}"
	pathShortInterest = "/v1/short-interest/{symbol}"
	pathOptions       = "/v1/options/{symbol}"
	pathSentiment     = "/v1/sentiment/{symbol}"
	pathCatalyst      = "/v1/catalyst/{symbol}"
	pathTechnical     = "/v1/technical/{symbol}"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client calls the gateway. Retries are left to the enricher.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

var (
	_ enrich.QuoteProvider         = (*Client)(nil)
	_ enrich.RelVolumeProvider     = (*Client)(nil)
	_ enrich.ShortInterestProvider = (*Client)(nil)
	_ enrich.OptionsProvider       = (*Client)(nil)
	_ enrich.SentimentProvider     = (*Client)(nil)
	_ enrich.CatalystProvider      = (*Client)(nil)
	_ enrich.TechnicalProvider     = (*Client)(nil)
)

// New creates a new Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("httpapi: base url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 4 * time.Second
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		c.SetAuthToken(opts.APIKey)
	}
	return &Client{http: c, logger: logging.OrNop(opts.Logger)}, nil
}

type quoteResponse struct {
	Symbol    string   `json:"symbol"`
	Price     *float64 `json:"price"`
	Volume    float64  `json:"volume"`
	PrevClose float64  `json:"prev_close"`
}

// Quote returns the authoritative price. A missing symbol or price is NO_PRICE.
func (c *Client) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	q, err := get[quoteResponse](ctx, c, pathQuote, symbol)
	if err != nil {
		return nil, err
	}
	if q == nil || q.Price == nil {
		return nil, &enrich.ProviderError{Code: enrich.CodeNoPrice, Err: fmt.Errorf("no quote for %s", symbol)}
	}
	return &domain.Quote{
		Symbol:    normalize(symbol),
		Price:     *q.Price,
		Volume:    q.Volume,
		PrevClose: q.PrevClose,
	}, nil
}

func (c *Client) Momentum(ctx context.Context, symbol string) (*domain.MomentumData, error) {
	return get[domain.MomentumData](ctx, c, pathMomentum, symbol)
}

func (c *Client) ShortInterest(ctx context.Context, symbol string) (*domain.SqueezeData, error) {
	return get[domain.SqueezeData](ctx, c, pathShortInterest, symbol)
}

func (c *Client) Options(ctx context.Context, symbol string) (*domain.OptionsData, error) {
	return get[domain.OptionsData](ctx, c, pathOptions, symbol)
}

func (c *Client) Sentiment(ctx context.Context, symbol string) (*domain.SocialData, error) {
	return get[domain.SocialData](ctx, c, pathSentiment, symbol)
}

// Catalyst returns nil when the gateway knows of no catalyst.
func (c *Client) Catalyst(ctx context.Context, symbol string) (*domain.CatalystData, error) {
	cat, err := get[domain.CatalystData](ctx, c, pathCatalyst, symbol)
	if err != nil || cat == nil || cat.Type == "" {
		return nil, err
	}
	return cat, nil
}

func (c *Client) Technical(ctx context.Context, symbol string) (*domain.TechnicalData, error) {
	return get[domain.TechnicalData](ctx, c, pathTechnical, symbol)
}

// get fetches one section. 404 and 204 mean no data and yield (nil, nil);
// other non-2xx statuses become *enrich.ProviderError.
func get[T any](ctx context.Context, c *Client, path, symbol string) (*T, error) {
	var out T
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("symbol", normalize(symbol)).
		SetResult(&out).
		Get(path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", path, symbol, ctxErr)
		}
		return nil, fmt.Errorf("%s %s: %w", path, symbol, err)
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusNotFound || status == http.StatusNoContent:
		return nil, nil
	case resp.IsError() || status >= 300:
		c.logger.Debug("provider request failed",
			zap.String("path", path),
			zap.String("symbol", symbol),
			zap.Int("status", status))
		return nil, enrich.NewStatusError(status, fmt.Errorf("%s %s: %s", path, symbol, excerpt(resp.String())))
	}
	return &out, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func excerpt(s string) string {
	const limit = 200
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

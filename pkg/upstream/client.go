// Package upstream provides the conditional-fetch client for the listings
// source. It minimizes bandwidth with ETag-based requests (If-None-Match,
// 304 short-circuiting) and enforces hard per-call timeouts. Failures are
// never retried here: backpressure is the caller's responsibility.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/londonmove/listings-proxy/pkg/kvstore"
	"github.com/londonmove/listings-proxy/pkg/logging"
)

// keyETagPrefix is the store key prefix for persisted ETags, per the
// listings:etag:{resourceKey} layout.
const keyETagPrefix = "listings:etag:"

// Status describes the outcome of a conditional fetch.
type Status int

const (
	// StatusFresh means the upstream returned a new body.
	StatusFresh Status = iota

	// StatusNotModified means the upstream confirmed the caller's cached
	// copy is still current. The Result carries no data.
	StatusNotModified
)

// Result is the outcome of a conditional fetch.
type Result struct {
	Status Status
	Data   []byte
}

// Config holds the client configuration.
type Config struct {
	// Store persists ETags between requests.
	Store kvstore.Store

	// BaseURL is the listings source base URL.
	BaseURL string

	// Token is the decoded upstream bearer token.
	Token string

	// FetchTimeout is the hard wall-clock budget for a listings fetch.
	FetchTimeout time.Duration

	// MediaTimeout is the hard wall-clock budget for a media fetch.
	MediaTimeout time.Duration

	// ETagTTL is how long stored ETags live. Must outlive the data TTL so
	// the conditional optimization survives data expiry.
	ETagTTL time.Duration

	// HTTPClient overrides the default transport (for testing).
	HTTPClient *http.Client
}

// Client fetches from the listings source with conditional requests.
type Client struct {
	httpClient *http.Client
	store      kvstore.Store
	cfg        Config
	logger     zerolog.Logger
}

// New creates a conditional-fetch client.
func New(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 15 * time.Second
	}
	if cfg.ETagTTL <= 0 {
		cfg.ETagTTL = 24 * time.Hour
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		store:      cfg.Store,
		cfg:        cfg,
		logger:     logging.NewLogger("upstream"),
	}, nil
}

// FetchListings performs a conditional GET of the full listings array.
// The stored ETag (if any) is attached as If-None-Match; a 304 returns
// StatusNotModified and the caller must use its own cached copy.
func (c *Client) FetchListings(ctx context.Context) (*Result, error) {
	endpoint := "/propertyadvertising.php"
	target := fmt.Sprintf("%s%s?token=%s", c.cfg.BaseURL, endpoint, url.QueryEscape(c.cfg.Token))

	return c.fetchConditional(ctx, "properties", endpoint, target, c.cfg.FetchTimeout, nil)
}

// FetchMediaList retrieves the media-list JSON for one listing.
func (c *Client) FetchMediaList(ctx context.Context, propref string) ([]byte, error) {
	endpoint := "/propertymedia.php"
	target := fmt.Sprintf("%s%s?propref=%s", c.cfg.BaseURL, endpoint, url.QueryEscape(propref))

	result, err := c.fetchConditional(ctx, "media_list_"+propref, endpoint, target, c.cfg.MediaTimeout, map[string]string{
		"token": c.cfg.Token,
	})
	if err != nil {
		return nil, err
	}
	if result.Status == StatusNotModified {
		// Media lists are re-validated by the caller's own cache entry; a
		// 304 without one is the same inconsistency as for listings.
		return nil, &Error{Endpoint: endpoint, Err: ErrInconsistentState}
	}
	return result.Data, nil
}

// FetchMediaFile retrieves one media file as base64 text.
func (c *Client) FetchMediaFile(ctx context.Context, filename string) ([]byte, error) {
	endpoint := "/propertymedia.php"
	target := fmt.Sprintf("%s%s?filename=%s", c.cfg.BaseURL, endpoint, url.QueryEscape(filename))

	ctx, cancel := context.WithTimeout(ctx, c.cfg.MediaTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("token", c.cfg.Token)
	req.Header.Set("Accept", "application/base64")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &Error{Endpoint: endpoint, Err: fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Endpoint: endpoint, Err: ErrUpstreamUnavailable}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)}
	}
	return body, nil
}

// fetchConditional runs one conditional GET against target. resourceKey
// scopes the stored ETag; headers are added verbatim to the request.
func (c *Client) fetchConditional(ctx context.Context, resourceKey, endpoint, target string, timeout time.Duration, headers map[string]string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	etagKey := keyETagPrefix + resourceKey
	if etag, err := c.store.Get(ctx, etagKey); err == nil && len(etag) > 0 {
		req.Header.Set("If-None-Match", string(etag))
		conditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("etag", string(etag)).
			Msg("Making conditional request")
	} else if err != nil && err != kvstore.ErrNotFound {
		c.logger.Warn().Err(err).Str("key", etagKey).Msg("ETag lookup failed")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Upstream request failed")
		return nil, &Error{Endpoint: endpoint, Err: fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotModified {
		notModifiedResponses.Inc()
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		return &Result{Status: StatusNotModified}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Msg("Upstream request error")
		return nil, &Error{StatusCode: resp.StatusCode, Endpoint: endpoint, Err: ErrUpstreamUnavailable}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)}
	}

	// Persist the new ETag with a TTL longer than the data it validates.
	// ETag storage is best-effort: a store failure must not fail the fetch.
	if etag := resp.Header.Get("ETag"); etag != "" {
		if err := c.store.Put(ctx, etagKey, []byte(etag), c.cfg.ETagTTL); err != nil {
			c.logger.Warn().Err(err).Str("key", etagKey).Msg("Failed to store ETag")
		} else {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Str("etag", etag).
				Msg("Stored new ETag")
		}
	}

	return &Result{Status: StatusFresh, Data: body}, nil
}

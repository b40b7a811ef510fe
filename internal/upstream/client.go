// Package upstream fetches profile documents from the Treehouse profile API.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/observability"
)

// MaxBodyBytes caps the size of a profile document.
const MaxBodyBytes = 5 << 20

// DefaultBaseURL is the public profile endpoint.
const DefaultBaseURL = "https://teamtreehouse.com/profiles"

// Config controls the upstream client.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	RatePerSecond float64
	UserAgent     string
	HTTPClient    *http.Client
	Logger        slog.Logger
}

// StatusError reports a non-2xx response from the profile API.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

func (e *StatusError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client retrieves and validates profile snapshots.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries int
	interval   time.Duration
	limiter    *rate.Limiter
	userAgent  string
	logger     slog.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "points-poller/1.0"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL:    baseURL,
		http:       httpClient,
		maxRetries: maxRetries,
		interval:   interval,
		limiter:    limiter,
		userAgent:  userAgent,
		logger:     cfg.Logger.Named("upstream"),
	}
}

// ProfileURL returns the JSON document URL for username.
func (c *Client) ProfileURL(username string) string {
	return c.baseURL + "/" + url.PathEscape(username) + ".json"
}

// FetchProfile downloads and parses the profile of username.
//
// Transport errors, 429 and 5xx responses are retried with exponential backoff and reported
// as domain.ErrUpstreamUnavailable once retries are exhausted. Other non-2xx responses fail
// immediately with ErrUpstreamUnavailable. A 2xx body without usable points data yields
// domain.ErrInvalidSnapshot.
func (c *Client) FetchProfile(ctx context.Context, username string) (domain.RawProfileSnapshot, error) {
	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		data, err := c.get(ctx, c.ProfileURL(username))
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.retryable() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body = data
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.interval
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Debug(ctx, "retrying profile request",
			slog.F("username", username),
			slog.F("wait", wait),
			slog.Error(err),
		)
	}
	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		return domain.RawProfileSnapshot{}, fmt.Errorf("%w: %s: %w", domain.ErrUpstreamUnavailable, username, err)
	}

	snapshot, err := domain.ParseSnapshot(body)
	if err != nil {
		return domain.RawProfileSnapshot{}, fmt.Errorf("%s: %w", username, err)
	}
	return snapshot, nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.RecordUpstreamRequest(0, start)
		return nil, err
	}
	defer resp.Body.Close()
	observability.RecordUpstreamRequest(resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxBodyBytes {
		return nil, backoff.Permanent(fmt.Errorf("profile document exceeds %d bytes", MaxBodyBytes))
	}
	return data, nil
}

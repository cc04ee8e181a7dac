package metoffice

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"metoffice-climate/internal/config"
	"metoffice-climate/pkg/logging"
	"metoffice-climate/pkg/metrics"
)

// FetchResult carries the raw text of one source file plus its provenance.
type FetchResult struct {
	Text      string
	SourceURL string
	FetchedAt time.Time
}

// FetchError wraps an upstream failure. Always transient: the source file
// itself does not go away, the network or the upstream does.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports that the failure may succeed on retry.
func (e *FetchError) IsTransient() bool { return true }

// Fetcher retrieves raw source text for a (parameter, region) pair.
type Fetcher interface {
	Fetch(ctx context.Context, parameterCode, regionCode string) (*FetchResult, error)
	SourceURL(parameterCode, regionCode string) string
}

// Client fetches MetOffice regional series files over HTTP with bounded
// retries and a circuit breaker in front of the upstream.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	baseURL string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	clock   clockwork.Clock
}

// NewClient creates a MetOffice client from config.
func NewClient(cfg config.MetOfficeConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, clock clockwork.Clock) *Client {
	httpClient := resty.New().
		SetTimeout(cfg.FetchTimeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelay).
		SetHeader("User-Agent", "metoffice-climate/1.0")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "metoffice",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		http:    httpClient,
		breaker: breaker,
		baseURL: cfg.BaseURL,
		logger:  logger,
		metrics: metricsCollector,
		clock:   clock,
	}
}

// SourceURL returns the upstream URL for a (parameter, region) pair.
func (c *Client) SourceURL(parameterCode, regionCode string) string {
	return fmt.Sprintf("%s/%s/date/%s.txt", c.baseURL, parameterCode, regionCode)
}

// Fetch retrieves the raw text for a (parameter, region) pair.
func (c *Client) Fetch(ctx context.Context, parameterCode, regionCode string) (*FetchResult, error) {
	url := c.SourceURL(parameterCode, regionCode)
	start := c.clock.Now()

	c.logger.Info(ctx, "[FETCH_START] Fetching source file", logging.Fields{
		"url":       url,
		"parameter": parameterCode,
		"region":    regionCode,
	})

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.R().SetContext(ctx).Get(url)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
		}
		return resp.String(), nil
	})

	c.metrics.FetchDuration.Observe(c.clock.Since(start).Seconds())

	if err != nil {
		reason := "request_error"
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			reason = "circuit_open"
		}
		c.metrics.RecordFetchError(reason)
		c.logger.Error(ctx, "[FETCH_ERROR] Source fetch failed", logging.Fields{
			"url":    url,
			"reason": reason,
		}, err)
		return nil, &FetchError{URL: url, Err: err}
	}

	text := result.(string)

	c.logger.Info(ctx, "[FETCH_COMPLETE] Source file retrieved", logging.Fields{
		"url":         url,
		"bytes":       len(text),
		"duration_ms": c.clock.Since(start).Milliseconds(),
	})

	return &FetchResult{
		Text:      text,
		SourceURL: url,
		FetchedAt: c.clock.Now().UTC(),
	}, nil
}

package quake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/woozymasta/quakemap/internal/observability"
)

var (
	// ErrFetch wraps transport failures and non-success responses.
	ErrFetch = errors.New("fetch earthquake feed")
	// ErrMalformedPayload wraps bodies that are not a GeoJSON feature collection.
	ErrMalformedPayload = errors.New("malformed feature collection")
)

// Client reads the earthquake feed from a single endpoint.
type Client struct {
	http     *resty.Client
	endpoint string
	metrics  *observability.Metrics
}

// NewClient creates a feed client. A zero timeout waits indefinitely and a
// zero retry count issues exactly one request.
func NewClient(endpoint string, timeout time.Duration, retries int, metrics *observability.Metrics) *Client {
	c := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetHeader("Accept", "application/geo+json, application/json").
		SetHeader("User-Agent", "quakemap")

	return &Client{
		http:     c,
		endpoint: endpoint,
		metrics:  metrics,
	}
}

// Fetch performs one read of the feed and returns its features in document order.
func (c *Client) Fetch(ctx context.Context) ([]Feature, error) {
	start := time.Now()
	features, err := c.fetch(ctx)
	c.metrics.FetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.FetchErrors.Inc()
		return nil, err
	}

	c.metrics.FeaturesFetched.Set(float64(len(features)))
	log.Info().
		Str("endpoint", c.endpoint).
		Int("features", len(features)).
		Dur("duration", time.Since(start)).
		Msg("Earthquake feed fetched")

	return features, nil
}

func (c *Client) fetch(ctx context.Context) ([]Feature, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode())
	}

	features, skipped, err := Decode(resp.Body())
	if err != nil {
		return nil, err
	}

	if skipped > 0 {
		c.metrics.MalformedFeatures.WithLabelValues("position").Add(float64(skipped))
		log.Warn().Int("skipped", skipped).Msg("Features without a position were dropped")
	}

	malformed := 0
	for _, f := range features {
		problems := f.Problems()
		if len(problems) == 0 {
			continue
		}
		malformed++
		for _, p := range problems {
			c.metrics.MalformedFeatures.WithLabelValues(p).Inc()
		}
		log.Debug().
			Str("id", f.ID).
			Strs("invalid", problems).
			Msg("Feature has missing or invalid attributes")
	}
	if malformed > 0 {
		log.Warn().
			Int("count", malformed).
			Msg("Features with missing attributes are rendered as-is")
	}

	return features, nil
}

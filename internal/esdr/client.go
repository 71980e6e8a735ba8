// Package esdr is a client for the ESDR feed/data service: paginated feed
// listings, channel CSV exports and multifeed management.
package esdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/airquality-daily-stats/internal/feed"
)

const (
	// DefaultRootURL is the public ESDR API root.
	DefaultRootURL = "http://esdr.cmucreatelab.org/api/v1"
	// DefaultPageSize is the maximum number of items ESDR returns per query.
	DefaultPageSize = 1000
)

// feedFields are the fields requested for every listed feed.
const feedFields = "id,name,userId,minTimeSecs,maxTimeSecs,latitude,longitude,channelBounds"

var (
	// ErrBadEnvelope is returned when a listing response is not a successful ESDR envelope.
	ErrBadEnvelope = errors.New("unexpected ESDR response")
	// ErrNoChannels is returned when an export is requested without channels.
	ErrNoChannels = errors.New("no channels to export")
)

// Client talks to an ESDR instance.
type Client struct {
	baseURL  string
	pageSize int
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPageSize sets the listing page size.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithBackoff overrides the retry policy.
func WithBackoff(b BackoffConfig) Option {
	return func(c *Client) {
		c.httpCfg.Backoff = b
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for the given API root.
func NewClient(client *http.Client, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultRootURL
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: DefaultPageSize,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: newCircuitBreaker("esdr"),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listEnvelope struct {
	Code   int    `json:"code"`
	Status string `json:"status"`
	Data   *struct {
		TotalCount int         `json:"totalCount"`
		Offset     int         `json:"offset"`
		Limit      int         `json:"limit"`
		Rows       []feed.Feed `json:"rows"`
	} `json:"data"`
}

// ListMultifeedFeeds lists every feed of the named multifeed, ordered by id.
func (c *Client) ListMultifeedFeeds(ctx context.Context, multifeed string) ([]feed.Feed, error) {
	return c.loadFeeds(ctx, func(offset, limit int) string {
		q := url.Values{}
		q.Set("fields", feedFields)
		q.Set("orderBy", "id")
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		return fmt.Sprintf("%s/multifeeds/%s/feeds?%s", c.baseURL, url.PathEscape(multifeed), q.Encode())
	})
}

// ListFeedsByProduct lists the feeds belonging to any of the given products.
func (c *Client) ListFeedsByProduct(ctx context.Context, productIDs []int) ([]feed.Feed, error) {
	where := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		where = append(where, "productId="+strconv.Itoa(id))
	}

	return c.loadFeeds(ctx, func(offset, limit int) string {
		q := url.Values{}
		q.Set("fields", "id,channelBounds")
		q.Set("whereOr", strings.Join(where, ","))
		q.Set("orderBy", "id")
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		return fmt.Sprintf("%s/feeds?%s", c.baseURL, q.Encode())
	})
}

// loadFeeds follows offset pagination until totalCount rows are collected.
func (c *Client) loadFeeds(ctx context.Context, pageURL func(offset, limit int) string) ([]feed.Feed, error) {
	var collection []feed.Feed

	for page := 0; ; page++ {
		u := pageURL(page*c.pageSize, c.pageSize)

		resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, u, nil)
		})
		if err != nil {
			return nil, fmt.Errorf("list feeds: %w", err)
		}

		var payload listEnvelope
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
		}
		if payload.Code != http.StatusOK || payload.Data == nil {
			return nil, fmt.Errorf("%w: code=%d status=%q", ErrBadEnvelope, payload.Code, payload.Status)
		}

		collection = append(collection, payload.Data.Rows...)
		c.logger.Debug("Loaded feed page",
			zap.Int("page", page),
			zap.Int("rows", len(payload.Data.Rows)),
			zap.Int("collected", len(collection)),
			zap.Int("total", payload.Data.TotalCount),
		)

		if len(collection) >= payload.Data.TotalCount {
			return collection, nil
		}
		if len(payload.Data.Rows) == 0 {
			c.logger.Warn("Empty page before reaching totalCount",
				zap.Int("collected", len(collection)),
				zap.Int("total", payload.Data.TotalCount),
			)
			return collection, nil
		}
	}
}

// ExportChannels downloads the CSV export of the given channels of a feed,
// starting at fromSecs (0 for the full history).
func (c *Client) ExportChannels(ctx context.Context, feedID int64, channels []string, fromSecs int64) ([]byte, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	escaped := make([]string, len(channels))
	for i, ch := range channels {
		escaped[i] = url.PathEscape(ch)
	}
	u := fmt.Sprintf("%s/feeds/%d/channels/%s/export?from=%d",
		c.baseURL, feedID, strings.Join(escaped, ","), fromSecs)

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/csv")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("export feed %d: %w", feedID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read export for feed %d: %w", feedID, err)
	}
	return body, nil
}

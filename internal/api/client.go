// Package api implements the gallery services over the media server's
// JSON HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/rescale-gallery/internal/config"
	"github.com/rescale/rescale-gallery/internal/constants"
	"github.com/rescale/rescale-gallery/internal/http"
	"github.com/rescale/rescale-gallery/internal/logging"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/ratelimit"
)

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg("[RETRY] " + msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Only log errors and warnings, not all info
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("[RETRY] " + msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg("[RETRY] " + msg)
}

// apiMetrics tracks API usage statistics
type apiMetrics struct {
	sync.Mutex
	totalCalls    int64
	callsByScope  map[ratelimit.Scope]int64
	windowStart   time.Time
	callsInWindow int64
}

// Client talks to the media server. It implements services.Backend.
type Client struct {
	httpClient *nethttp.Client
	config     *config.Config
	baseURL    string
	apiKey     string
	limiters   *ratelimit.Limiters
	logger     *logging.Logger
	metrics    *apiMetrics
}

// retrySettings are the retryablehttp knobs; tests shorten the waits.
type retrySettings struct {
	max     int
	waitMin time.Duration
	waitMax time.Duration
}

var defaultRetry = retrySettings{max: 5, waitMin: 500 * time.Millisecond, waitMax: 10 * time.Second}

// NewClient creates a new API client
func NewClient(cfg *config.Config) (*Client, error) {
	return newClient(cfg, defaultRetry)
}

func newClient(cfg *config.Config, rs retrySettings) (*Client, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("API base URL is empty: set url in the [server] section or %s", config.EnvServerURL)
	}

	// Proxy-aware client with the pool sized for a page of tier fetches
	httpClient, err := http.NewImageClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	logger := logging.NewLogger("api", nil)

	// Wrap with retry logic
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = rs.max
	retryClient.RetryWaitMin = rs.waitMin
	retryClient.RetryWaitMax = rs.waitMax
	retryClient.Logger = &retryLogger{logger: logger}

	return &Client{
		httpClient: retryClient.StandardClient(),
		config:     cfg,
		baseURL:    strings.TrimSuffix(cfg.APIBaseURL, "/"),
		apiKey:     cfg.APIKey,
		limiters:   ratelimit.NewLimiters(),
		logger:     logger,
		metrics: &apiMetrics{
			callsByScope: make(map[ratelimit.Scope]int64),
			windowStart:  time.Now(),
		},
	}, nil
}

// GetConfig returns the configuration used by this API client
func (c *Client) GetConfig() *config.Config {
	return c.config
}

// SetLogger replaces the client's logger.
func (c *Client) SetLogger(logger *logging.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// doRequest performs an HTTP request with authentication and rate limiting
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*nethttp.Response, error) {
	scope := ratelimit.ScopeFor(method, path)
	if err := c.limiters.Wait(ctx, scope); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	c.metrics.Lock()
	c.metrics.totalCalls++
	c.metrics.callsByScope[scope]++
	c.metrics.callsInWindow++

	// Log stats every 30 seconds
	if time.Since(c.metrics.windowStart) >= 30*time.Second {
		reqPerSec := float64(c.metrics.callsInWindow) / 30.0
		c.logger.Debug().
			Float64("req_per_sec", reqPerSec).
			Int64("total", c.metrics.totalCalls).
			Int64("images", c.metrics.callsByScope[ratelimit.ScopeImage]).
			Msg("API usage")
		c.metrics.callsInWindow = 0
		c.metrics.windowStart = time.Now()
	}
	c.metrics.Unlock()

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("API call failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode == nethttp.StatusTooManyRequests {
		c.logger.Warn().
			Str("method", method).
			Str("path", path).
			Str("scope", string(scope)).
			Str("retry_after", resp.Header.Get("Retry-After")).
			Msg("Throttled by server")
	}

	return resp, nil
}

// checkStatus turns a non-2xx response into an error for op.
func checkStatus(resp *nethttp.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	statusErr := &http.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	switch resp.StatusCode {
	case nethttp.StatusNotFound:
		return fmt.Errorf("%s failed: %w: %w", op, ErrNotFound, statusErr)
	case nethttp.StatusUnauthorized, nethttp.StatusForbidden:
		return fmt.Errorf("%s failed: %w: %w", op, ErrUnauthorized, statusErr)
	default:
		return fmt.Errorf("%s failed: %w", op, statusErr)
	}
}

// Ping checks the server is reachable and the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/ping", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "ping")
}

// listingQuery encodes a listing request.
func listingQuery(path string, filter models.ListingFilter) url.Values {
	q := url.Values{}
	q.Set("path", path)
	for _, k := range filter.Kinds {
		q.Add("kind", k.String())
	}
	if filter.Starred {
		q.Set("starred", "true")
	}
	if filter.Deleted {
		q.Set("deleted", "true")
	}
	if filter.Album != "" {
		q.Set("album", filter.Album)
	}
	if filter.Person != "" {
		q.Set("person", filter.Person)
	}
	if filter.SortBy != "" {
		q.Set("sort", filter.SortBy)
	}
	if filter.Reverse {
		q.Set("reverse", strconv.FormatBool(true))
	}
	return q
}

// FetchListing returns the ordered ids of path plus a first batch of records.
func (c *Client) FetchListing(ctx context.Context, path string, filter models.ListingFilter) (*models.Listing, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/listing?"+listingQuery(path, filter).Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "get listing"); err != nil {
		return nil, err
	}

	var listing models.Listing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}

	if listing.TotalCount != len(listing.OrderedIDs) {
		c.logger.Warn().
			Int("object_count", listing.TotalCount).
			Int("ids", len(listing.OrderedIDs)).
			Msg("Listing count does not match id sequence, using ids")
		listing.TotalCount = len(listing.OrderedIDs)
	}
	if listing.Path == "" {
		listing.Path = path
	}

	return &listing, nil
}

type recordsRequest struct {
	IDs []models.ListingID `json:"ids"`
}

type recordsResponse struct {
	Records []models.Record `json:"records"`
}

// FetchRecords returns records for ids, requesting at most
// constants.MaxRecordsPerRequest per call. Ids the server does not return
// are left out; that is not an error.
func (c *Client) FetchRecords(ctx context.Context, ids []models.ListingID) ([]models.Record, error) {
	records := make([]models.Record, 0, len(ids))
	for start := 0; start < len(ids); start += constants.MaxRecordsPerRequest {
		end := start + constants.MaxRecordsPerRequest
		if end > len(ids) {
			end = len(ids)
		}

		batch, err := c.fetchRecordBatch(ctx, ids[start:end])
		if err != nil {
			return records, err
		}
		records = append(records, batch...)
	}
	return records, nil
}

func (c *Client) fetchRecordBatch(ctx context.Context, ids []models.ListingID) ([]models.Record, error) {
	resp, err := c.doRequest(ctx, "POST", "/api/v1/records", recordsRequest{IDs: ids})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "get records"); err != nil {
		return nil, err
	}

	var out recordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return out.Records, nil
}

type imageURLResponse struct {
	URL string `json:"url"`
}

// FetchImage resolves one tier of ref. Image bodies become data URLs; a
// JSON body carrying a url (a CDN redirect) is returned as that url.
func (c *Client) FetchImage(ctx context.Context, ref models.RecordRef, tier int) (string, error) {
	tiers := c.config.Viewport.Tiers
	if tier < 0 || tier >= len(tiers) {
		return "", fmt.Errorf("%w: %d", ErrUnknownTier, tier)
	}

	path := fmt.Sprintf("/api/v1/files/%s/thumbnail/%s", url.PathEscape(string(ref.ID)), url.PathEscape(tiers[tier]))
	resp, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "get thumbnail"); err != nil {
		return "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var out imageURLResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("failed to decode thumbnail url: %w", err)
		}
		if out.URL == "" {
			return "", fmt.Errorf("thumbnail response for %s has no url", ref.ID)
		}
		return out.URL, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read thumbnail: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty thumbnail for %s tier %s", ref.ID, tiers[tier])
	}
	return DataURL(contentType, data), nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = nethttp.DetectContentType(data)
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Apply performs verb on ref.
func (c *Client) Apply(ctx context.Context, ref models.RecordRef, verb models.Verb) error {
	path := fmt.Sprintf("/api/v1/files/%s/actions", url.PathEscape(string(ref.ID)))
	resp, err := c.doRequest(ctx, "POST", path, verb)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp, string(verb.Action))
}

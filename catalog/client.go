// Package catalog fetches the upstream application catalog.
//
// The catalog is the full list of applications returned by one call to the
// upstream endpoint. Positions in that list are what the checkpoint counts,
// so callers rely on the upstream returning entries in a stable order.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrUpstreamFormat means the response no longer matches the expected shape.
	// It signals a contract change and is not retried.
	ErrUpstreamFormat = errors.New("upstream format error")

	// ErrUpstreamUnavailable covers network failures, timeouts and non-2xx
	// responses. Callers retry on the next cycle.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

const (
	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Entry is one application in the catalog. Fields are pointers so that
// absent values can be told apart from zero values.
type Entry struct {
	AppID *int64  `json:"appid"`
	Name  *string `json:"name"`
}

// NewEntry builds a complete entry
func NewEntry(id int64, name string) Entry {
	return Entry{AppID: &id, Name: &name}
}

// Complete reports whether the entry has an id and a non-empty name
func (e Entry) Complete() bool {
	return e.AppID != nil && e.Name != nil && *e.Name != ""
}

// ID returns the app id or 0 when absent
func (e Entry) ID() int64 {
	if e.AppID == nil {
		return 0
	}
	return *e.AppID
}

// Title returns the name or "" when absent
func (e Entry) Title() string {
	if e.Name == nil {
		return ""
	}
	return *e.Name
}

// appListResponse mirrors {"applist": {"apps": [...]}}. Pointers detect
// missing keys.
type appListResponse struct {
	AppList *struct {
		Apps *[]Entry `json:"apps"`
	} `json:"applist"`
}

// Client fetches the catalog from the upstream HTTP endpoint
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewClient creates a catalog client. A zero timeout uses DefaultTimeout.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.client = hc
}

// Fetch performs one GET against the upstream and returns the catalog in
// upstream order.
func (c *Client) Fetch(ctx context.Context) ([]Entry, error) {
	reqURL, err := c.requestURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstreamUnavailable, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrUpstreamUnavailable, err)
	}

	entries, err := decodeCatalog(body)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("entries", len(entries)).
		Dur("elapsed", time.Since(start)).
		Msg("Fetched upstream catalog")

	return entries, nil
}

func (c *Client) requestURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid upstream url %q: %w", c.endpoint, err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("key", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func decodeCatalog(body []byte) ([]Entry, error) {
	var resp appListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrUpstreamFormat, err)
	}
	if resp.AppList == nil {
		return nil, fmt.Errorf("%w: missing applist in response", ErrUpstreamFormat)
	}
	if resp.AppList.Apps == nil {
		return nil, fmt.Errorf("%w: missing apps in applist", ErrUpstreamFormat)
	}
	return *resp.AppList.Apps, nil
}

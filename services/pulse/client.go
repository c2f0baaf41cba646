package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tracely/pulse/pkg/config"
)

// History page limits enforced by the API.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HTTPDoer is the subset of *http.Client the clients need.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig addresses one project on the TRACELY API.
type ClientConfig struct {
	BaseURL     string
	Token       string
	OrgSlug     string
	ProjectSlug string
}

// ClientConfigFrom extracts the API settings from the service config.
func ClientConfigFrom(cfg *config.Base) ClientConfig {
	return ClientConfig{
		BaseURL:     cfg.APIURL,
		Token:       cfg.APIToken,
		OrgSlug:     cfg.OrgSlug,
		ProjectSlug: cfg.ProjectSlug,
	}
}

// APIClient calls the project REST endpoints.
type APIClient struct {
	cfg    ClientConfig
	http   HTTPDoer
	logger *slog.Logger
}

// NewAPIClient creates an API client.
func NewAPIClient(cfg ClientConfig, httpClient HTTPDoer, logger *slog.Logger) *APIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &APIClient{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With("component", "api_client"),
	}
}

// HistoryQuery selects a page of spans older than Before.
type HistoryQuery struct {
	Before time.Time
	Limit  int
}

// HistoryPage is one page of history in chronological order.
type HistoryPage struct {
	Spans           []Span    `json:"spans"`
	HasMore         bool      `json:"has_more"`
	OldestTimestamp time.Time `json:"oldest_timestamp"`
}

type historyResponse struct {
	Data []Span `json:"data"`
	Meta struct {
		HasMore         bool      `json:"has_more"`
		OldestTimestamp Timestamp `json:"oldest_timestamp"`
	} `json:"meta"`
}

// ClampHistoryLimit bounds a page size to what the API accepts.
func ClampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// History fetches spans older than q.Before. The API returns newest first;
// the page is reversed so it can be prepended to the buffer as is.
func (c *APIClient) History(ctx context.Context, q HistoryQuery) (HistoryPage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(ClampHistoryLimit(q.Limit)))
	if !q.Before.IsZero() {
		params.Set("before", q.Before.UTC().Format(time.RFC3339Nano))
	}

	var resp historyResponse
	if err := c.getJSON(ctx, c.projectPath("spans"), params, &resp); err != nil {
		return HistoryPage{}, err
	}

	spans := resp.Data
	if spans == nil {
		spans = []Span{}
	}
	slices.Reverse(spans)

	page := HistoryPage{
		Spans:           spans,
		HasMore:         resp.Meta.HasMore,
		OldestTimestamp: resp.Meta.OldestTimestamp.Time,
	}
	if page.OldestTimestamp.IsZero() && len(spans) > 0 {
		page.OldestTimestamp = spans[0].StartTime.Time
	}

	c.logger.Debug("history page fetched", "count", len(spans), "has_more", page.HasMore)
	return page, nil
}

// SpanDetail fetches the full record of one span.
func (c *APIClient) SpanDetail(ctx context.Context, spanID string) (SpanDetail, error) {
	var resp struct {
		Data SpanDetail `json:"data"`
	}
	if err := c.getJSON(ctx, c.projectPath("spans", spanID), nil, &resp); err != nil {
		return SpanDetail{}, err
	}
	return resp.Data, nil
}

// DashboardHealth returns the API's own project health summary.
func (c *APIClient) DashboardHealth(ctx context.Context) (map[string]any, error) {
	var resp struct {
		Data map[string]any `json:"data"`
	}
	if err := c.getJSON(ctx, c.projectPath("health"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *APIClient) projectPath(parts ...string) string {
	segs := []string{"api", "orgs", url.PathEscape(c.cfg.OrgSlug), "projects", url.PathEscape(c.cfg.ProjectSlug)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return "/" + strings.Join(segs, "/")
}

func (c *APIClient) getJSON(ctx context.Context, path string, params url.Values, dest any) error {
	if c.cfg.OrgSlug == "" || c.cfg.ProjectSlug == "" {
		return fmt.Errorf("org and project slugs are required")
	}

	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return NetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := ErrorFromResponse(resp)
		c.logger.Warn("api request failed", "path", path, "status", apiErr.Status, "code", apiErr.Code)
		return apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NetworkError(err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return DecodeError(resp.StatusCode, err)
	}
	return nil
}

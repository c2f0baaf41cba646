// Package client talks to a running pulse server's view API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tracely/pulse/pkg/telemetry"
	"github.com/tracely/pulse/services/pulse"
)

// Client is a view API client.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
}

// New creates a client for the server at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, telemetry.HTTPClient(timeout))
}

// NewWithHTTPClient creates a client using hc for plain requests.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// SpanList is the buffered span list with its view state.
type SpanList struct {
	Spans    []pulse.Span       `json:"spans" yaml:"spans"`
	Total    int                `json:"total" yaml:"total"`
	Matched  int                `json:"matched" yaml:"matched"`
	Flags    pulse.Flags        `json:"flags" yaml:"flags"`
	Status   pulse.StreamStatus `json:"status" yaml:"status"`
	Services []string           `json:"services" yaml:"services"`
}

// HistoryResult reports one page of older history merged into the buffer.
type HistoryResult struct {
	Added int         `json:"added" yaml:"added"`
	Flags pulse.Flags `json:"flags" yaml:"flags"`
}

// Liveness is the server's own health check.
type Liveness struct {
	Status string             `json:"status" yaml:"status"`
	Stream pulse.StreamStatus `json:"stream" yaml:"stream"`
}

type envelope[T any] struct {
	Data T               `json:"data"`
	Meta json.RawMessage `json:"meta"`
}

// Spans lists buffered spans matching f, keeping the newest limit when
// limit is positive.
func (c *Client) Spans(ctx context.Context, f pulse.Filters, limit int) (SpanList, error) {
	q := pulse.EncodeFilters(f)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var env envelope[[]pulse.Span]
	if err := c.do(ctx, http.MethodGet, "/api/view/spans", q, nil, &env); err != nil {
		return SpanList{}, err
	}

	list := SpanList{Spans: env.Data}
	if len(env.Meta) > 0 {
		if err := json.Unmarshal(env.Meta, &list); err != nil {
			return SpanList{}, pulse.DecodeError(http.StatusOK, err)
		}
		list.Spans = env.Data
	}
	if list.Spans == nil {
		list.Spans = []pulse.Span{}
	}
	return list, nil
}

// Span fetches the detail record for one span.
func (c *Client) Span(ctx context.Context, spanID string) (pulse.SpanDetail, error) {
	var env envelope[pulse.SpanDetail]
	err := c.do(ctx, http.MethodGet, "/api/view/spans/"+url.PathEscape(spanID), nil, nil, &env)
	return env.Data, err
}

// TraceOptions selects how a trace is rendered. A nil Expanded expands
// every node; an empty non-nil one shows only the roots.
type TraceOptions struct {
	Expanded    []string
	WithDetails bool
}

// Trace fetches the waterfall for one trace.
func (c *Client) Trace(ctx context.Context, traceID string, opts TraceOptions) (pulse.TraceView, error) {
	q := url.Values{}
	if opts.Expanded != nil {
		q.Set("expanded", strings.Join(opts.Expanded, ","))
	}
	if opts.WithDetails {
		q.Set("details", "true")
	}

	var env envelope[pulse.TraceView]
	err := c.do(ctx, http.MethodGet, "/api/view/traces/"+url.PathEscape(traceID), q, nil, &env)
	return env.Data, err
}

// Timeline fetches the bucketed histogram for f.
func (c *Client) Timeline(ctx context.Context, f pulse.Filters) (pulse.TimelineView, error) {
	var env envelope[pulse.TimelineView]
	err := c.do(ctx, http.MethodGet, "/api/view/timeline", pulse.EncodeFilters(f), nil, &env)
	return env.Data, err
}

// Health fetches the derived health status.
func (c *Client) Health(ctx context.Context) (pulse.Health, error) {
	var env envelope[pulse.Health]
	err := c.do(ctx, http.MethodGet, "/api/view/health", nil, nil, &env)
	return env.Data, err
}

// Liveness checks that the server is up and reports its stream status.
func (c *Client) Liveness(ctx context.Context) (Liveness, error) {
	var env envelope[Liveness]
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &env)
	return env.Data, err
}

// LoadHistory asks the server to merge the next page of older spans.
func (c *Client) LoadHistory(ctx context.Context) (HistoryResult, error) {
	var env envelope[HistoryResult]
	err := c.do(ctx, http.MethodPost, "/api/view/history", nil, nil, &env)
	return env.Data, err
}

// SetAtBottom records whether the viewer is following the newest spans.
func (c *Client) SetAtBottom(ctx context.Context, atBottom bool) (pulse.Flags, error) {
	var env envelope[pulse.Flags]
	err := c.do(ctx, http.MethodPut, "/api/view/scroll", nil, map[string]bool{"at_bottom": atBottom}, &env)
	return env.Data, err
}

// Live streams updates matching f to fn until ctx ends, the server closes
// the feed, or fn returns an error.
func (c *Client) Live(ctx context.Context, f pulse.Filters, fn func(pulse.Update) error) error {
	u, err := url.Parse(c.baseURL + "/api/view/live")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = pulse.EncodeFilters(f).Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			defer resp.Body.Close()
			return pulse.ErrorFromResponse(resp)
		}
		return pulse.NetworkError(err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		var update pulse.Update
		if err := conn.ReadJSON(&update); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				return pulse.DecodeError(0, err)
			}
			return pulse.NetworkError(err)
		}
		if err := fn(update); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any, out any) error {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pulse.NetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pulse.ErrorFromResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pulse.DecodeError(resp.StatusCode, err)
	}
	return nil
}

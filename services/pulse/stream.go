package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tracely/pulse/pkg/config"
)

// StreamStatus is the connection state exposed to views.
type StreamStatus string

const (
	StatusConnecting   StreamStatus = "connecting"
	StatusConnected    StreamStatus = "connected"
	StatusDisconnected StreamStatus = "disconnected"
)

// Event names sent by the stream endpoint.
const (
	EventSpan        = "span"
	EventPendingSpan = "pending_span"
	EventHeartbeat   = "heartbeat"
)

var errStreamEnded = errors.New("stream ended")

// StreamEvent is one decoded message from the stream.
type StreamEvent struct {
	ID        string
	Span      Span
	Heartbeat time.Time
	// IsHeartbeat is set for keepalives, which carry no span.
	IsHeartbeat bool
}

// StreamConfig configures a StreamClient.
type StreamConfig struct {
	BaseURL   string
	ProjectID string
	Token     string

	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      int
	// RandomizationFactor jitters the reconnect delay; zero disables it.
	RandomizationFactor float64
}

// StreamConfigFrom extracts the stream settings from the service config.
func StreamConfigFrom(cfg *config.Base) StreamConfig {
	return StreamConfig{
		BaseURL:             cfg.APIURL,
		ProjectID:           cfg.ProjectID,
		Token:               cfg.APIToken,
		InitialInterval:     cfg.ReconnectInitial,
		MaxInterval:         cfg.ReconnectMax,
		MaxRetries:          cfg.ReconnectMaxRetries,
		RandomizationFactor: 0.2,
	}
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	return c
}

// StreamClient keeps one event-stream connection per project open and
// reconnects with exponential backoff when it drops.
type StreamClient struct {
	cfg    StreamConfig
	http   HTTPDoer
	logger *slog.Logger

	mu            sync.RWMutex
	status        StreamStatus
	listeners     []func(StreamStatus)
	lastEventID   string
	lastHeartbeat time.Time
	reconnects    int
}

// NewStreamClient creates a stream client. The client must not carry a
// response timeout since the connection is long lived.
func NewStreamClient(cfg StreamConfig, httpClient HTTPDoer, logger *slog.Logger) *StreamClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &StreamClient{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With("component", "stream", "project_id", cfg.ProjectID),
		status: StatusDisconnected,
	}
}

// Status returns the current connection state.
func (c *StreamClient) Status() StreamStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// OnStatus registers fn to be called on every status change. It runs on the
// stream goroutine and must not block.
func (c *StreamClient) OnStatus(fn func(StreamStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// LastHeartbeat returns the time of the last keepalive, zero if none.
func (c *StreamClient) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

// Reconnects returns how many times the connection was re-established.
func (c *StreamClient) Reconnects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnects
}

func (c *StreamClient) setStatus(s StreamStatus) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// URL returns the stream endpoint.
func (c *StreamClient) URL() string {
	return c.cfg.BaseURL + "/api/stream/" + url.PathEscape(c.cfg.ProjectID)
}

func (c *StreamClient) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialInterval
	exp.MaxInterval = c.cfg.MaxInterval
	exp.RandomizationFactor = c.cfg.RandomizationFactor
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(c.cfg.MaxRetries))
}

// Run streams events to handler until ctx is cancelled, which returns nil.
// Handler calls are sequential. Drops are retried with backoff; a connection
// that was established resets the retry budget. ErrStreamAbandoned is
// returned once retries run out, and client errors other than 429 are
// returned immediately.
func (c *StreamClient) Run(ctx context.Context, handler func(StreamEvent)) error {
	if _, err := uuid.Parse(c.cfg.ProjectID); err != nil {
		return fmt.Errorf("invalid project id %q: %w", c.cfg.ProjectID, err)
	}

	bo := c.newBackOff()
	first := true
	for {
		connected, err := c.connect(ctx, handler, first)
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			c.logger.Info("stream detached")
			return nil
		}
		c.setStatus(StatusDisconnected)
		if connected {
			first = false
			bo.Reset()
		}
		if !IsRetryable(err) {
			c.logger.Error("stream rejected", "error", err)
			return err
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			c.logger.Error("stream reconnection abandoned", "retries", c.cfg.MaxRetries, "error", err)
			return fmt.Errorf("%w: %v", ErrStreamAbandoned, err)
		}
		c.logger.Warn("stream dropped, reconnecting", "error", err, "wait", wait)

		c.setStatus(StatusConnecting)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setStatus(StatusDisconnected)
			c.logger.Info("stream detached")
			return nil
		case <-timer.C:
		}
	}
}

// connect runs one connection. connected reports whether the server
// accepted it; the error says why it ended.
func (c *StreamClient) connect(ctx context.Context, handler func(StreamEvent), first bool) (bool, error) {
	c.setStatus(StatusConnecting)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	c.mu.RLock()
	lastID := c.lastEventID
	c.mu.RUnlock()
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, NetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, ErrorFromResponse(resp)
	}

	if !first {
		c.mu.Lock()
		c.reconnects++
		c.mu.Unlock()
	}
	c.setStatus(StatusConnected)
	c.logger.Info("stream connected")

	events := make(chan SSEEvent)
	go ParseSSE(resp.Body, events)

	for {
		select {
		case <-ctx.Done():
			resp.Body.Close()
			for range events {
			}
			return true, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return true, errStreamEnded
			}
			if ev.Err != nil {
				return true, NetworkError(ev.Err)
			}
			c.dispatch(ev, handler)
		}
	}
}

func (c *StreamClient) dispatch(ev SSEEvent, handler func(StreamEvent)) {
	if ev.ID != "" {
		c.mu.Lock()
		c.lastEventID = ev.ID
		c.mu.Unlock()
	}

	switch ev.Event {
	case EventHeartbeat:
		at := time.Now().UTC()
		var hb struct {
			Timestamp Timestamp `json:"timestamp"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &hb); err == nil && !hb.Timestamp.IsZero() {
			at = hb.Timestamp.Time
		}
		c.mu.Lock()
		c.lastHeartbeat = at
		c.mu.Unlock()
		handler(StreamEvent{ID: ev.ID, Heartbeat: at, IsHeartbeat: true})

	case "", "message", EventSpan, EventPendingSpan:
		var span Span
		if err := json.Unmarshal([]byte(ev.Data), &span); err != nil {
			c.logger.Warn("skipping malformed stream message", "event", ev.Event, "error", err)
			return
		}
		if span.SpanID == "" {
			c.logger.Warn("skipping stream message without span id", "event", ev.Event)
			return
		}
		if span.SpanType == "" {
			span.SpanType = SpanTypeSpan
			if ev.Event == EventPendingSpan {
				span.SpanType = SpanTypePending
			}
		}
		handler(StreamEvent{ID: ev.ID, Span: span})

	default:
		c.logger.Debug("ignoring stream event", "event", ev.Event)
	}
}

package pulse

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tracely/pulse/pkg/config"
)

// SubscriberQueueSize bounds each live subscriber's backlog.
const SubscriberQueueSize = 256

// detailFetchConcurrency caps parallel detail requests for one trace.
const detailFetchConcurrency = 8

var (
	// ErrHistoryLoadInProgress is returned when a history page is already
	// being fetched.
	ErrHistoryLoadInProgress = errors.New("history load already in progress")
	// ErrTraceNotFound is returned when no buffered span belongs to a trace,
	// or when none of its buffered spans is reachable from a root.
	ErrTraceNotFound = errors.New("trace not found in buffer")
	// ErrNoAPI is returned by operations that need the REST API when the
	// session was built without one.
	ErrNoAPI = errors.New("no api client configured")
)

// SessionConfig tunes a Session.
type SessionConfig struct {
	HistoryPageSize  int
	Tree             TreeOptions
	Health           HealthThresholds
	TreeCacheEntries int
}

// SessionConfigFrom derives session settings from the service config.
func SessionConfigFrom(cfg *config.Base) SessionConfig {
	return SessionConfig{
		HistoryPageSize: cfg.HistoryPageSize,
		Tree:            TreeOptions{BottleneckRatio: cfg.BottleneckRatio},
		Health:          DefaultHealthThresholds(),
	}
}

// SessionDeps are the collaborators a Session drives. Store, API and
// Details are required; Stream is required only for Run.
type SessionDeps struct {
	Store   *Store
	Stream  *StreamClient
	API     *APIClient
	Details *DetailCache
	Metrics *Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Session is one live view of a project: the stream feeding the buffer plus
// the read models derived from it.
type Session struct {
	cfg     SessionConfig
	store   *Store
	stream  *StreamClient
	api     *APIClient
	details *DetailCache
	trees   *TreeCache
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	connectedOnce atomic.Bool

	subMu sync.RWMutex
	subs  map[string]*Subscription
}

// NewSession wires a session from its dependencies.
func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Health.Window <= 0 {
		cfg.Health = DefaultHealthThresholds()
	}

	s := &Session{
		cfg:     cfg,
		store:   deps.Store,
		stream:  deps.Stream,
		api:     deps.API,
		details: deps.Details,
		trees:   NewTreeCache(cfg.Tree, cfg.TreeCacheEntries),
		metrics: deps.Metrics,
		logger:  deps.Logger.With("component", "session"),
		now:     deps.Now,
		subs:    make(map[string]*Subscription),
	}
	if s.stream != nil {
		s.stream.OnStatus(s.onStatus)
	}
	return s
}

// Store returns the span buffer.
func (s *Session) Store() *Store { return s.store }

// Metrics returns the session collectors.
func (s *Session) Metrics() *Metrics { return s.metrics }

// Status returns the stream connection status.
func (s *Session) Status() StreamStatus {
	if s.stream == nil {
		return StatusDisconnected
	}
	return s.stream.Status()
}

// Run feeds the buffer from the stream until ctx is cancelled or the stream
// gives up.
func (s *Session) Run(ctx context.Context) error {
	if s.stream == nil {
		return errors.New("session has no stream client")
	}
	s.logger.Info("session started", "buffer_size", s.store.MaxSize())
	return s.stream.Run(ctx, s.HandleEvent)
}

// HandleEvent applies one stream event to the buffer and fans it out.
func (s *Session) HandleEvent(ev StreamEvent) {
	if ev.IsHeartbeat {
		s.publish(Update{Type: UpdateHeartbeat, At: ev.Heartbeat})
		return
	}

	res := s.store.AddSpan(ev.Span)
	s.metrics.ObserveAdd(ev.Span, res, s.store.Len())
	if res.Outcome == AddIgnored {
		return
	}
	span := ev.Span
	s.publish(Update{Type: UpdateSpan, Span: &span, At: s.now()})
}

func (s *Session) onStatus(st StreamStatus) {
	s.metrics.SetStreamStatus(st)
	if st == StatusConnected && s.connectedOnce.Swap(true) {
		s.metrics.StreamReconnects.Inc()
	}
	s.publish(Update{Type: UpdateStatus, Status: st, At: s.now()})
}

// LoadOlder fetches the page before the oldest buffered span and prepends
// it. Only one load runs at a time. It returns the number of spans added.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	if s.api == nil {
		return 0, ErrNoAPI
	}
	if !s.store.HasMoreHistory() {
		return 0, nil
	}
	if !s.store.TryBeginHistoryLoad() {
		return 0, ErrHistoryLoadInProgress
	}
	defer s.store.SetLoadingHistory(false)

	var before time.Time
	if oldest, ok := s.store.Oldest(); ok {
		before = oldest.StartTime.Time
	}

	page, err := s.api.History(ctx, HistoryQuery{Before: before, Limit: s.cfg.HistoryPageSize})
	if err != nil {
		s.metrics.HistoryPages.WithLabelValues("error").Inc()
		s.logger.Warn("history load failed", "before", before, "error", err)
		return 0, err
	}

	added := s.store.PrependSpans(page.Spans)
	if !page.HasMore {
		s.store.SetHasMoreHistory(false)
	}
	s.metrics.HistoryPages.WithLabelValues("ok").Inc()
	s.metrics.BufferSpans.Set(float64(s.store.Len()))

	s.logger.Debug("history page loaded", "received", len(page.Spans), "added", added, "has_more", s.store.HasMoreHistory())
	if added > 0 {
		s.publish(Update{Type: UpdateHistory, Count: added, At: s.now()})
	}
	return added, nil
}

// Reset empties the buffer, as when switching projects.
func (s *Session) Reset() {
	s.store.Reset()
	s.metrics.BufferSpans.Set(0)
	s.publish(Update{Type: UpdateReset, At: s.now()})
}

// SpanView is the filtered span list with the buffer state.
type SpanView struct {
	Spans    []Span       `json:"spans" yaml:"spans"`
	Total    int          `json:"total" yaml:"total"`
	Flags    Flags        `json:"flags" yaml:"flags"`
	Status   StreamStatus `json:"status" yaml:"status"`
	Services []string     `json:"services" yaml:"services"`
}

// View returns the buffered spans matching f.
func (s *Session) View(f Filters, now time.Time) SpanView {
	all := s.store.Spans()
	services := Services(all)
	if services == nil {
		services = []string{}
	}
	return SpanView{
		Spans:    FilterSpans(all, f, now),
		Total:    len(all),
		Flags:    s.store.Flags(),
		Status:   s.Status(),
		Services: services,
	}
}

// TraceRow is one visible line of a trace waterfall.
type TraceRow struct {
	SpanID         string  `json:"span_id" yaml:"span_id"`
	ParentSpanID   string  `json:"parent_span_id" yaml:"parent_span_id"`
	Name           string  `json:"name" yaml:"name"`
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	Depth          int     `json:"depth" yaml:"depth"`
	OffsetMs       float64 `json:"offset_ms" yaml:"offset_ms"`
	DurationMs     float64 `json:"duration_ms" yaml:"duration_ms"`
	PercentOfTrace float64 `json:"percent_of_trace" yaml:"percent_of_trace"`
	HTTPStatusCode int     `json:"http_status_code" yaml:"http_status_code"`
	Pending        bool    `json:"pending" yaml:"pending"`
	IsSlowest      bool    `json:"is_slowest" yaml:"is_slowest"`
	IsBottleneck   bool    `json:"is_bottleneck" yaml:"is_bottleneck"`
	Descendants    int     `json:"descendants" yaml:"descendants"`
	Expanded       bool    `json:"expanded" yaml:"expanded"`
	LogCount       int     `json:"log_count" yaml:"log_count"`
}

// TraceView is a trace tree plus its flattened waterfall.
type TraceView struct {
	TraceID    string      `json:"trace_id" yaml:"trace_id"`
	Roots      []*SpanNode `json:"roots" yaml:"-"`
	Rows       []TraceRow  `json:"rows" yaml:"rows"`
	SpanCount  int         `json:"span_count" yaml:"span_count"`
	DurationMs float64     `json:"duration_ms" yaml:"duration_ms"`
}

// TraceRequest selects how a trace is rendered. A nil Expanded expands
// every node.
type TraceRequest struct {
	TraceID     string
	Expanded    map[string]bool
	WithDetails bool
}

// Trace builds the tree for one buffered trace. WithDetails replaces each
// summary with its fetched detail so log events and attributes show up;
// detail failures keep the summary.
func (s *Session) Trace(ctx context.Context, req TraceRequest) (TraceView, error) {
	spans := s.store.TraceSpans(req.TraceID)
	if len(spans) == 0 {
		return TraceView{}, ErrTraceNotFound
	}

	if req.WithDetails {
		spans = s.enrich(ctx, spans)
	}

	start := time.Now()
	var roots []*SpanNode
	if req.WithDetails {
		roots = BuildSpanTree(spans, s.cfg.Tree)
	} else {
		roots = s.trees.Build(req.TraceID, spans)
	}
	s.metrics.TreeBuildSeconds.Observe(time.Since(start).Seconds())
	if len(roots) == 0 {
		return TraceView{}, ErrTraceNotFound
	}

	expanded := req.Expanded
	if expanded == nil {
		expanded = CollectIDs(roots)
	}

	view := TraceView{
		TraceID:    req.TraceID,
		Roots:      roots,
		Rows:       []TraceRow{},
		SpanCount:  CountNodes(roots),
		DurationMs: roots[0].Span.DurationMs,
	}
	for _, n := range FlattenTree(roots, expanded) {
		view.Rows = append(view.Rows, TraceRow{
			SpanID:         n.Span.SpanID,
			ParentSpanID:   n.Span.ParentSpanID,
			Name:           n.Span.Endpoint(),
			ServiceName:    n.Span.ServiceName,
			Depth:          n.Depth,
			OffsetMs:       n.OffsetMs,
			DurationMs:     n.Span.DurationMs,
			PercentOfTrace: n.PercentOfTrace,
			HTTPStatusCode: n.Span.HTTPStatusCode,
			Pending:        n.Span.IsPending(),
			IsSlowest:      n.IsSlowest,
			IsBottleneck:   n.IsBottleneck,
			Descendants:    CountDescendants(n),
			Expanded:       expanded[n.Span.SpanID] && len(n.Children) > 0,
			LogCount:       len(n.Logs),
		})
	}
	return view, nil
}

func (s *Session) enrich(ctx context.Context, spans []Span) []Span {
	out := make([]Span, len(spans))
	copy(out, spans)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailFetchConcurrency)
	for i := range out {
		g.Go(func() error {
			d, err := s.Detail(gctx, out[i].SpanID)
			if err != nil {
				s.logger.Debug("detail unavailable, using summary", "span_id", out[i].SpanID, "error", err)
				return nil
			}
			enriched := d.Span
			if enriched.SpanID == "" {
				return nil
			}
			enriched.SpanType = out[i].SpanType
			out[i] = enriched
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Detail returns the full record of a span. Pending spans bypass the cache
// since their detail is still changing.
func (s *Session) Detail(ctx context.Context, spanID string) (SpanDetail, error) {
	if s.api == nil {
		return SpanDetail{}, ErrNoAPI
	}
	if span, ok := s.store.Get(spanID); ok && span.IsPending() {
		return s.api.SpanDetail(ctx, spanID)
	}
	if s.details == nil {
		return s.api.SpanDetail(ctx, spanID)
	}
	return s.details.Get(ctx, spanID, s.api.SpanDetail)
}

// TimelineView is the bucketed request histogram.
type TimelineView struct {
	Start         time.Time    `json:"start" yaml:"start"`
	End           time.Time    `json:"end" yaml:"end"`
	GranularityMs int64        `json:"granularity_ms" yaml:"granularity_ms"`
	Buckets       []TimeBucket `json:"buckets" yaml:"buckets"`
}

// Live timeline bounds: the default trailing window and the furthest back
// the oldest buffered span may widen it.
const (
	liveTimelineWindow = 5 * time.Minute
	maxTimelineWindow  = 24 * time.Hour
)

// Timeline buckets the spans matching f. In live mode the window is the
// last five minutes, widened back to the oldest buffered span but never
// past a day. An explicit range without a start also covers one day.
func (s *Session) Timeline(f Filters, now time.Time) TimelineView {
	all := s.store.Spans()

	start, end, ok := f.TimeRange.Resolve(now)
	switch {
	case !ok:
		start, end = now.Add(-liveTimelineWindow), now
		if oldest, found := oldestStart(all); found && oldest.Before(start) {
			start = oldest
			if floor := now.Add(-maxTimelineWindow); start.Before(floor) {
				start = floor
			}
		}
	case start.IsZero():
		start = end.Add(-maxTimelineWindow)
	}

	matching := make([]Span, 0, len(all))
	for _, sp := range all {
		if MatchesFilters(sp, f) {
			matching = append(matching, sp)
		}
	}

	g := SelectGranularity(end.Sub(start))
	return TimelineView{
		Start:         start,
		End:           end,
		GranularityMs: g.Milliseconds(),
		Buckets:       ComputeBuckets(matching, start, end, g),
	}
}

// oldestStart returns the earliest start time in spans. The buffer is in
// arrival order, so every span is inspected. Zero start times are skipped.
func oldestStart(spans []Span) (time.Time, bool) {
	var oldest time.Time
	for _, sp := range spans {
		t := sp.StartTime.Time
		if t.IsZero() {
			continue
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	return oldest, !oldest.IsZero()
}

// Health evaluates the buffer's recent spans.
func (s *Session) Health(now time.Time) Health {
	return ComputeHealth(s.store.Spans(), now, s.cfg.Health)
}

// Update types pushed to subscribers.
const (
	UpdateSpan      = "span"
	UpdateStatus    = "status"
	UpdateHeartbeat = "heartbeat"
	UpdateHistory   = "history"
	UpdateReset     = "reset"
)

// Update is one live change pushed to subscribers.
type Update struct {
	Type   string       `json:"type"`
	Span   *Span        `json:"span,omitempty"`
	Status StreamStatus `json:"status,omitempty"`
	Count  int          `json:"count,omitempty"`
	At     time.Time    `json:"at"`
}

// Subscription receives live updates until unsubscribed.
type Subscription struct {
	ID      string
	C       <-chan Update
	ch      chan Update
	filters Filters
}

// Subscribe registers a live listener. Span updates not matching filters
// are skipped; when the queue is full updates are dropped rather than
// stalling the stream.
func (s *Session) Subscribe(filters Filters) *Subscription {
	ch := make(chan Update, SubscriberQueueSize)
	sub := &Subscription{
		ID:      uuid.NewString(),
		C:       ch,
		ch:      ch,
		filters: filters,
	}

	s.subMu.Lock()
	s.subs[sub.ID] = sub
	n := len(s.subs)
	s.subMu.Unlock()

	s.metrics.Subscribers.Set(float64(n))
	return sub
}

// Unsubscribe removes a listener and closes its channel.
func (s *Session) Unsubscribe(id string) {
	s.subMu.Lock()
	sub, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
		close(sub.ch)
	}
	n := len(s.subs)
	s.subMu.Unlock()

	s.metrics.Subscribers.Set(float64(n))
}

func (s *Session) publish(u Update) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, sub := range s.subs {
		if u.Span != nil && !MatchesFilters(*u.Span, sub.filters) {
			continue
		}
		select {
		case sub.ch <- u:
		default:
			s.metrics.SubscriberDropped.Inc()
		}
	}
}

// Close drops every subscriber and releases caches.
func (s *Session) Close() {
	s.subMu.Lock()
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
	s.metrics.Subscribers.Set(0)

	if s.details != nil {
		s.details.Close()
	}
}

package pulse

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tracely/pulse/pkg/httpserver"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

// Handler exposes a Session over HTTP.
type Handler struct {
	session  *Session
	logger   *slog.Logger
	now      func() time.Time
	upgrader websocket.Upgrader
}

// NewHandler creates the view API handler.
func NewHandler(session *Session, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		session: session,
		logger:  logger.With("component", "handler"),
		now:     session.now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the handler on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleLiveness)
	r.Handle("/metrics", h.session.Metrics().Handler())

	r.Route("/api/view", func(r chi.Router) {
		r.Get("/spans", h.handleSpans)
		r.Get("/spans/{spanID}", h.handleSpanDetail)
		r.Get("/traces/{traceID}", h.handleTrace)
		r.Get("/timeline", h.handleTimeline)
		r.Get("/health", h.handleHealth)
		r.Post("/history", h.handleHistory)
		r.Put("/scroll", h.handleScroll)
		r.Get("/live", h.handleLive)
	})
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteData(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stream": h.session.Status(),
	}, nil)
}

func (h *Handler) handleSpans(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(r.URL.Query())
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	view := h.session.View(filters, h.now())

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	if limit > 0 && len(view.Spans) > limit {
		view.Spans = view.Spans[len(view.Spans)-limit:]
	}

	httpserver.WriteData(w, http.StatusOK, view.Spans, map[string]any{
		"total":    view.Total,
		"matched":  len(view.Spans),
		"flags":    view.Flags,
		"status":   view.Status,
		"services": view.Services,
	})
}

func (h *Handler) handleSpanDetail(w http.ResponseWriter, r *http.Request) {
	spanID := chi.URLParam(r, "spanID")
	detail, err := h.session.Detail(r.Context(), spanID)
	if err != nil {
		httpserver.WriteError(w, h.upstreamError(err, "span", spanID))
		return
	}
	httpserver.WriteData(w, http.StatusOK, detail, nil)
}

func (h *Handler) handleTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	q := r.URL.Query()

	req := TraceRequest{TraceID: traceID}
	if raw, ok := q["expanded"]; ok {
		req.Expanded = make(map[string]bool)
		for _, part := range strings.Split(strings.Join(raw, ","), ",") {
			if id := strings.TrimSpace(part); id != "" {
				req.Expanded[id] = true
			}
		}
	}
	if v := q.Get("details"); v != "" {
		details, err := strconv.ParseBool(v)
		if err != nil {
			httpserver.WriteError(w, httpserver.InvalidArgumentError("details", "must be a boolean"))
			return
		}
		req.WithDetails = details
	}

	view, err := h.session.Trace(r.Context(), req)
	if errors.Is(err, ErrTraceNotFound) {
		httpserver.WriteError(w, httpserver.NotFoundError("trace", traceID))
		return
	}
	if err != nil {
		httpserver.WriteError(w, h.upstreamError(err, "trace", traceID))
		return
	}
	httpserver.WriteData(w, http.StatusOK, view, nil)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(r.URL.Query())
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	httpserver.WriteData(w, http.StatusOK, h.session.Timeline(filters, h.now()), nil)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteData(w, http.StatusOK, h.session.Health(h.now()), nil)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	added, err := h.session.LoadOlder(r.Context())
	if errors.Is(err, ErrHistoryLoadInProgress) {
		httpserver.WriteError(w, httpserver.FailedPreconditionError(err.Error()))
		return
	}
	if err != nil {
		httpserver.WriteError(w, h.upstreamError(err, "history", ""))
		return
	}
	httpserver.WriteData(w, http.StatusOK, map[string]any{
		"added": added,
		"flags": h.session.Store().Flags(),
	}, nil)
}

type scrollRequest struct {
	AtBottom *bool `json:"at_bottom"`
}

func (h *Handler) handleScroll(w http.ResponseWriter, r *http.Request) {
	var req scrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.WriteError(w, httpserver.InvalidArgumentError("body", "invalid JSON"))
		return
	}
	if req.AtBottom == nil {
		httpserver.WriteError(w, httpserver.InvalidArgumentError("at_bottom", "is required"))
		return
	}
	h.session.Store().SetAtBottom(*req.AtBottom)
	httpserver.WriteData(w, http.StatusOK, h.session.Store().Flags(), nil)
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(r.URL.Query())
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.session.Subscribe(filters)
	defer h.session.Unsubscribe(sub.ID)
	logger := h.logger.With("subscriber", sub.ID)
	logger.Info("live subscriber connected")

	// the read loop only services control frames and notices the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(livePongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	if err := conn.WriteJSON(Update{Type: UpdateStatus, Status: h.session.Status(), At: h.now()}); err != nil {
		return
	}

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Info("live subscriber disconnected")
			return
		case <-r.Context().Done():
			return
		case u, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(liveWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(u); err != nil {
				logger.Debug("live write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}

// upstreamError maps API client failures onto the response envelope.
func (h *Handler) upstreamError(err error, resource, id string) error {
	if errors.Is(err, ErrNoAPI) {
		return httpserver.UnavailableError("tracely api")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return httpserver.InternalError(err)
	}
	if IsNotFound(err) {
		return httpserver.NotFoundError(resource, id)
	}
	status := apiErr.Status
	if status == 0 || status >= 500 {
		status = http.StatusBadGateway
	}
	h.logger.Warn("upstream request failed", "resource", resource, "code", apiErr.Code, "status", apiErr.Status)
	return &httpserver.Error{
		Status:  status,
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	}
}

// ParseFilters reads filters from query parameters: service, status
// (comma-separated groups), search, env, range (a preset or "live"), and
// start/end as RFC 3339 timestamps.
func ParseFilters(q url.Values) (Filters, error) {
	f := Filters{
		Service:     strings.TrimSpace(q.Get("service")),
		Search:      strings.TrimSpace(q.Get("search")),
		Environment: strings.TrimSpace(q.Get("env")),
	}

	if raw := q.Get("status"); raw != "" {
		groups, err := ParseStatusGroups(raw)
		if err != nil {
			return Filters{}, httpserver.InvalidArgumentError("status", err.Error())
		}
		f.StatusGroups = groups
	}

	tr, err := ParsePreset(q.Get("range"))
	if err != nil {
		return Filters{}, httpserver.InvalidArgumentError("range", err.Error())
	}
	for _, b := range []struct {
		name string
		dst  *time.Time
	}{{"start", &tr.Start}, {"end", &tr.End}} {
		raw := q.Get(b.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Filters{}, httpserver.InvalidArgumentError(b.name, "must be an RFC 3339 timestamp")
		}
		*b.dst = t
	}
	if !tr.Start.IsZero() && !tr.End.IsZero() && !tr.End.After(tr.Start) {
		return Filters{}, httpserver.InvalidArgumentError("end", "must be after start")
	}
	f.TimeRange = tr
	return f, nil
}

// EncodeFilters is the inverse of ParseFilters.
func EncodeFilters(f Filters) url.Values {
	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set("service", f.Service)
	set("status", strings.Join(f.StatusGroups, ","))
	set("search", f.Search)
	set("env", f.Environment)
	set("range", f.TimeRange.Preset)
	if !f.TimeRange.Start.IsZero() {
		q.Set("start", f.TimeRange.Start.UTC().Format(time.RFC3339Nano))
	}
	if !f.TimeRange.End.IsZero() {
		q.Set("end", f.TimeRange.End.UTC().Format(time.RFC3339Nano))
	}
	return q
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, httpserver.InvalidArgumentError("limit", "must be a non-negative integer")
	}
	return n, nil
}

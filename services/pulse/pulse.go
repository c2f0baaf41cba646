// Package pulse implements the live request stream of a TRACELY project: the
// event-stream client, the bounded span buffer, trace trees, timeline buckets,
// filters and the derived health status.
package pulse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// SpanType distinguishes a started span from its completed record.
type SpanType string

const (
	SpanTypeSpan    SpanType = "span"
	SpanTypePending SpanType = "pending_span"
)

// Span status codes as reported by the API.
const (
	StatusCodeOK    = "OK"
	StatusCodeError = "ERROR"
	StatusCodeUnset = "UNSET"
)

// Span is the summary record delivered by the stream and history endpoints.
type Span struct {
	TraceID        string            `json:"trace_id"`
	SpanID         string            `json:"span_id"`
	ParentSpanID   string            `json:"parent_span_id"`
	SpanName       string            `json:"span_name"`
	SpanType       SpanType          `json:"span_type"`
	ServiceName    string            `json:"service_name"`
	Kind           string            `json:"kind"`
	StartTime      Timestamp         `json:"start_time"`
	DurationMs     float64           `json:"duration_ms"`
	StatusCode     string            `json:"status_code"`
	HTTPMethod     string            `json:"http_method"`
	HTTPRoute      string            `json:"http_route"`
	HTTPStatusCode int               `json:"http_status_code"`
	Environment    string            `json:"environment,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// IsPending reports whether the span has not completed yet.
func (s Span) IsPending() bool {
	return s.SpanType == SpanTypePending
}

// IsRoot reports whether the span has no parent.
func (s Span) IsRoot() bool {
	return s.ParentSpanID == ""
}

// Endpoint is the route, or the span name when no route was recorded.
func (s Span) Endpoint() string {
	if s.HTTPRoute != "" {
		return s.HTTPRoute
	}
	return s.SpanName
}

// Duration returns DurationMs as a time.Duration.
func (s Span) Duration() time.Duration {
	return time.Duration(s.DurationMs * float64(time.Millisecond))
}

// Equal reports whether two records carry identical data.
func (s Span) Equal(o Span) bool {
	return s.TraceID == o.TraceID &&
		s.SpanID == o.SpanID &&
		s.ParentSpanID == o.ParentSpanID &&
		s.SpanName == o.SpanName &&
		s.SpanType == o.SpanType &&
		s.ServiceName == o.ServiceName &&
		s.Kind == o.Kind &&
		s.StartTime.Equal(o.StartTime.Time) &&
		s.DurationMs == o.DurationMs &&
		s.StatusCode == o.StatusCode &&
		s.HTTPMethod == o.HTTPMethod &&
		s.HTTPRoute == o.HTTPRoute &&
		s.HTTPStatusCode == o.HTTPStatusCode &&
		s.Environment == o.Environment &&
		maps.Equal(s.Attributes, o.Attributes)
}

// SpanDetail is the full record fetched on demand for one span.
type SpanDetail struct {
	Span
	Framework       string            `json:"framework"`
	EndTime         Timestamp         `json:"end_time"`
	StatusMessage   string            `json:"status_message"`
	RequestBody     string            `json:"request_body"`
	ResponseBody    string            `json:"response_body"`
	RequestHeaders  map[string]string `json:"request_headers"`
	ResponseHeaders map[string]string `json:"response_headers"`
}

// Timestamp is a time.Time that accepts the API's ISO strings, with or
// without a zone. Zone-less values are UTC.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an API timestamp. The empty string is the zero time.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML renders the timestamp as RFC 3339 in CLI output.
func (t Timestamp) MarshalYAML() (any, error) {
	if t.IsZero() {
		return "", nil
	}
	return t.UTC().Format(time.RFC3339Nano), nil
}

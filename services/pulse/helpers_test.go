package pulse

import (
	"fmt"
	"time"
)

var testEpoch = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

// newSpan builds a completed span starting offsetMs after testEpoch.
func newSpan(id, parent string, offsetMs, durationMs float64) Span {
	return Span{
		TraceID:        "trace-1",
		SpanID:         id,
		ParentSpanID:   parent,
		SpanName:       "op " + id,
		SpanType:       SpanTypeSpan,
		ServiceName:    "checkout",
		Kind:           "server",
		StartTime:      NewTimestamp(testEpoch.Add(time.Duration(offsetMs * float64(time.Millisecond)))),
		DurationMs:     durationMs,
		StatusCode:     StatusCodeOK,
		HTTPMethod:     "GET",
		HTTPRoute:      "/api/" + id,
		HTTPStatusCode: 200,
	}
}

func pendingSpan(id string) Span {
	s := newSpan(id, "", 0, 0)
	s.SpanType = SpanTypePending
	s.HTTPStatusCode = 0
	s.StatusCode = StatusCodeUnset
	return s
}

func numberedSpans(n int) []Span {
	out := make([]Span, n)
	for i := range out {
		out[i] = newSpan(fmt.Sprintf("s%04d", i), "", float64(i), 1)
	}
	return out
}

func spanIDs(spans []Span) []string {
	ids := make([]string, len(spans))
	for i, s := range spans {
		ids[i] = s.SpanID
	}
	return ids
}

func nodeIDs(nodes []*SpanNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.Span.SpanID
	}
	return ids
}

package pulse

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Status groups.
const (
	StatusGroup2xx = "2xx"
	StatusGroup3xx = "3xx"
	StatusGroup4xx = "4xx"
	StatusGroup5xx = "5xx"
)

var statusGroups = []string{StatusGroup2xx, StatusGroup3xx, StatusGroup4xx, StatusGroup5xx}

// Filters narrows the span list. Empty fields do not filter.
type Filters struct {
	Service      string    `json:"service,omitempty" yaml:"service,omitempty"`
	StatusGroups []string  `json:"status_groups,omitempty" yaml:"status_groups,omitempty"`
	Search       string    `json:"search,omitempty" yaml:"search,omitempty"`
	Environment  string    `json:"environment,omitempty" yaml:"environment,omitempty"`
	TimeRange    TimeRange `json:"time_range" yaml:"time_range"`
}

// StatusCodeGroup maps an HTTP status to its group, or "" outside 200-599.
func StatusCodeGroup(code int) string {
	switch {
	case code >= 200 && code < 300:
		return StatusGroup2xx
	case code >= 300 && code < 400:
		return StatusGroup3xx
	case code >= 400 && code < 500:
		return StatusGroup4xx
	case code >= 500 && code < 600:
		return StatusGroup5xx
	default:
		return ""
	}
}

// ParseStatusGroups parses a comma-separated list such as "4xx,5xx".
func ParseStatusGroups(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		g := strings.ToLower(strings.TrimSpace(part))
		if g == "" {
			continue
		}
		if !slices.Contains(statusGroups, g) {
			return nil, fmt.Errorf("unknown status group %q", g)
		}
		if !slices.Contains(out, g) {
			out = append(out, g)
		}
	}
	return out, nil
}

// MatchesFilters reports whether span passes the service, status group,
// search and environment filters. The time range is not evaluated here;
// FilterSpans applies it. A span without a status group (for example a
// pending span with status 0) never matches a non-empty status filter.
func MatchesFilters(span Span, f Filters) bool {
	if f.Service != "" && span.ServiceName != f.Service {
		return false
	}
	if len(f.StatusGroups) > 0 {
		group := StatusCodeGroup(span.HTTPStatusCode)
		if group == "" || !slices.Contains(f.StatusGroups, group) {
			return false
		}
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(span.Endpoint()), needle) {
			return false
		}
	}
	if f.Environment != "" && span.Environment != f.Environment {
		return false
	}
	return true
}

// InRange reports whether the span started within [start, end].
func InRange(span Span, start, end time.Time) bool {
	t := span.StartTime.Time
	return !t.Before(start) && !t.After(end)
}

// FilterSpans returns the spans matching f, keeping order. A non-live time
// range is resolved against now and applied as an inclusive window.
func FilterSpans(spans []Span, f Filters, now time.Time) []Span {
	start, end, bounded := f.TimeRange.Resolve(now)

	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		if bounded && !InRange(s, start, end) {
			continue
		}
		if MatchesFilters(s, f) {
			out = append(out, s)
		}
	}
	return out
}

// Services returns the distinct service names in spans, sorted.
func Services(spans []Span) []string {
	var out []string
	for _, s := range spans {
		if s.ServiceName != "" && !slices.Contains(out, s.ServiceName) {
			out = append(out, s.ServiceName)
		}
	}
	slices.Sort(out)
	return out
}

package output

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tracely/pulse/services/pulse"
)

const (
	waterfallWidth = 40
	sparkLevels    = "▁▂▃▄▅▆▇█"
)

// FormatDuration renders milliseconds the way the dashboard does: µs below
// one millisecond, ms below one second, seconds above.
func FormatDuration(ms float64) string {
	switch {
	case ms < 0:
		return "-"
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return strconv.FormatFloat(ms, 'f', 1, 64) + "ms"
	default:
		return strconv.FormatFloat(ms/1000, 'f', 2, 64) + "s"
	}
}

// StatusText is the HTTP status, "…" for a pending span and "-" when none
// was recorded.
func StatusText(s pulse.Span) string {
	switch {
	case s.IsPending():
		return "…"
	case s.HTTPStatusCode == 0:
		return "-"
	default:
		return strconv.Itoa(s.HTTPStatusCode)
	}
}

// SpanRow is one line of the span list.
func SpanRow(s pulse.Span) []string {
	duration := FormatDuration(s.DurationMs)
	if s.IsPending() {
		duration = "pending"
	}
	method := s.HTTPMethod
	if method == "" {
		method = "-"
	}
	return []string{
		s.StartTime.Local().Format("15:04:05.000"),
		method,
		s.Endpoint(),
		StatusText(s),
		duration,
		s.ServiceName,
		shortID(s.TraceID),
	}
}

// SpanTable lists spans oldest first.
func SpanTable(spans []pulse.Span) Table {
	t := Table{Headers: []string{"TIME", "METHOD", "ENDPOINT", "STATUS", "DURATION", "SERVICE", "TRACE"}}
	for _, s := range spans {
		t.Rows = append(t.Rows, SpanRow(s))
	}
	return t
}

// Waterfall draws a trace as an indented tree with a bar per span placed at
// its offset within the root.
func Waterfall(view pulse.TraceView) Text {
	var b strings.Builder
	fmt.Fprintf(&b, "trace %s  %d spans  %s\n", view.TraceID, view.SpanCount, FormatDuration(view.DurationMs))

	nameWidth := 0
	labels := make([]string, len(view.Rows))
	for i, row := range view.Rows {
		labels[i] = waterfallLabel(row)
		nameWidth = max(nameWidth, len([]rune(labels[i])))
	}

	for i, row := range view.Rows {
		label := labels[i]
		pad := strings.Repeat(" ", nameWidth-len([]rune(label)))
		fmt.Fprintf(&b, "%s%s  %s  %8s %5.1f%%%s\n",
			label, pad,
			waterfallBar(row, view.DurationMs, waterfallWidth),
			FormatDuration(row.DurationMs), row.PercentOfTrace,
			rowMarkers(row))
	}
	return Text(b.String())
}

func waterfallLabel(row pulse.TraceRow) string {
	marker := "  "
	if row.Descendants > 0 {
		if row.Expanded {
			marker = "▾ "
		} else {
			marker = "▸ "
		}
	}
	name := row.Name
	if row.ServiceName != "" {
		name = row.ServiceName + " " + name
	}
	return strings.Repeat("  ", row.Depth) + marker + name
}

func waterfallBar(row pulse.TraceRow, totalMs float64, width int) string {
	cells := []rune(strings.Repeat("·", width))
	if totalMs <= 0 {
		return string(cells)
	}
	from := int(row.OffsetMs / totalMs * float64(width))
	n := int(row.DurationMs / totalMs * float64(width))
	from = min(max(from, 0), width-1)
	n = min(max(n, 1), width-from)

	fill := '█'
	if row.Pending {
		fill = '░'
	}
	for i := from; i < from+n; i++ {
		cells[i] = fill
	}
	return string(cells)
}

func rowMarkers(row pulse.TraceRow) string {
	var m []string
	if row.IsSlowest {
		m = append(m, "slowest")
	}
	if row.IsBottleneck {
		m = append(m, "bottleneck")
	}
	if row.HTTPStatusCode >= 400 {
		m = append(m, strconv.Itoa(row.HTTPStatusCode))
	}
	if row.LogCount > 0 {
		m = append(m, fmt.Sprintf("%d logs", row.LogCount))
	}
	if !row.Expanded && row.Descendants > 0 {
		m = append(m, fmt.Sprintf("+%d hidden", row.Descendants))
	}
	if len(m) == 0 {
		return ""
	}
	return "  [" + strings.Join(m, ", ") + "]"
}

// TimelineChart renders the buckets as two sparklines scaled to the busiest
// bucket: all requests and errors.
func TimelineChart(tl pulse.TimelineView) Text {
	peak := 0
	for _, b := range tl.Buckets {
		peak = max(peak, b.Total())
	}

	var total, errs strings.Builder
	var sumTotal, sumErr int
	for _, b := range tl.Buckets {
		total.WriteString(spark(b.Total(), peak))
		errs.WriteString(spark(b.ErrorCount, peak))
		sumTotal += b.Total()
		sumErr += b.ErrorCount
	}

	step := time.Duration(tl.GranularityMs) * time.Millisecond
	var b strings.Builder
	fmt.Fprintf(&b, "%s → %s  every %s  %d bars\n",
		tl.Start.Local().Format(time.DateTime), tl.End.Local().Format(time.DateTime), step, len(tl.Buckets))
	fmt.Fprintf(&b, "all %s %d\n", total.String(), sumTotal)
	fmt.Fprintf(&b, "err %s %d\n", errs.String(), sumErr)
	return Text(b.String())
}

func spark(n, peak int) string {
	if n <= 0 || peak <= 0 {
		return " "
	}
	levels := []rune(sparkLevels)
	idx := (n*len(levels) - 1) / peak
	return string(levels[min(idx, len(levels)-1)])
}

// HealthLine is a one-line summary of a health snapshot.
func HealthLine(h pulse.Health) string {
	return fmt.Sprintf("%s  errors %.1f%% (%d/%d)  p95 %s",
		strings.ToUpper(string(h.Status)), h.ErrorRate*100, h.ErrorCount, h.SampleSize, FormatDuration(h.P95Ms))
}

// DetailText renders one span detail for reading in a terminal.
func DetailText(d pulse.SpanDetail) Text {
	var b strings.Builder
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%-16s %s\n", name+":", value)
		}
	}
	field("span", d.SpanID)
	field("trace", d.TraceID)
	field("parent", d.ParentSpanID)
	field("name", d.SpanName)
	field("service", d.ServiceName)
	field("framework", d.Framework)
	field("request", strings.TrimSpace(d.HTTPMethod+" "+d.HTTPRoute))
	field("status", StatusText(d.Span))
	field("duration", FormatDuration(d.DurationMs))
	if !d.StartTime.IsZero() {
		field("started", d.StartTime.UTC().Format(time.RFC3339Nano))
	}
	field("message", d.StatusMessage)

	writeMap(&b, "request headers", d.RequestHeaders)
	writeMap(&b, "response headers", d.ResponseHeaders)
	attrs := maps.Clone(d.Attributes)
	delete(attrs, pulse.SpanEventsAttribute)
	writeMap(&b, "attributes", attrs)

	if logs := pulse.ParseLogEvents(d.Attributes[pulse.SpanEventsAttribute]); len(logs) > 0 {
		b.WriteString("logs:\n")
		for _, l := range logs {
			fmt.Fprintf(&b, "  %s %-5s %s\n", l.Timestamp, l.Level, l.Message)
		}
	}
	if d.RequestBody != "" {
		fmt.Fprintf(&b, "request body:\n  %s\n", d.RequestBody)
	}
	if d.ResponseBody != "" {
		fmt.Fprintf(&b, "response body:\n  %s\n", d.ResponseBody)
	}
	return Text(b.String())
}

func writeMap(b *strings.Builder, title string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fmt.Fprintf(b, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %s\n", k, m[k])
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

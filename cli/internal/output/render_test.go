package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tracely/pulse/services/pulse"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   float64
		want string
	}{
		{-1, "-"},
		{0.25, "250µs"},
		{12.34, "12.3ms"},
		{999.9, "999.9ms"},
		{1500, "1.50s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.ms); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestSpanTable(t *testing.T) {
	spans := []pulse.Span{
		{
			TraceID: "0123456789abcdef", SpanID: "a", SpanName: "GET /orders",
			HTTPMethod: "GET", HTTPRoute: "/orders", HTTPStatusCode: 200,
			DurationMs: 12.5, ServiceName: "checkout", SpanType: pulse.SpanTypeSpan,
		},
		{TraceID: "t2", SpanID: "b", SpanName: "charge", SpanType: pulse.SpanTypePending},
	}

	table := SpanTable(spans)
	if len(table.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(table.Rows))
	}

	first := table.Rows[0]
	if first[2] != "/orders" || first[3] != "200" || first[4] != "12.5ms" || first[6] != "01234567" {
		t.Errorf("first row = %v", first)
	}
	second := table.Rows[1]
	if second[1] != "-" || second[2] != "charge" || second[3] != "…" || second[4] != "pending" {
		t.Errorf("second row = %v", second)
	}
}

func TestWaterfall(t *testing.T) {
	view := pulse.TraceView{
		TraceID:    "trace-1",
		SpanCount:  3,
		DurationMs: 100,
		Rows: []pulse.TraceRow{
			{SpanID: "root", Name: "GET /orders", ServiceName: "api", DurationMs: 100, PercentOfTrace: 100, Descendants: 2, Expanded: true, HTTPStatusCode: 200},
			{SpanID: "db", Name: "SELECT", Depth: 1, OffsetMs: 50, DurationMs: 50, PercentOfTrace: 50, IsSlowest: true, LogCount: 2},
			{SpanID: "cache", Name: "GET key", Depth: 1, OffsetMs: 10, DurationMs: 5, PercentOfTrace: 5, Descendants: 1, HTTPStatusCode: 503},
		},
	}

	out := string(Waterfall(view))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "trace trace-1  3 spans  100.0ms") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "▾ api GET /orders") {
		t.Errorf("root line = %q", lines[1])
	}
	if !strings.Contains(lines[1], strings.Repeat("█", waterfallWidth)) {
		t.Errorf("root bar should span the full width: %q", lines[1])
	}
	if !strings.Contains(lines[2], "[slowest, 2 logs]") {
		t.Errorf("db line = %q", lines[2])
	}
	if !strings.Contains(lines[3], "▸ GET key") || !strings.Contains(lines[3], "[503, +1 hidden]") {
		t.Errorf("cache line = %q", lines[3])
	}
}

func TestWaterfallBar(t *testing.T) {
	bar := []rune(waterfallBar(pulse.TraceRow{OffsetMs: 50, DurationMs: 25}, 100, 8))
	want := []rune("····██··")
	if string(bar) != string(want) {
		t.Errorf("bar = %q, want %q", string(bar), string(want))
	}

	// tiny spans still get one cell
	bar = []rune(waterfallBar(pulse.TraceRow{OffsetMs: 99, DurationMs: 0.01, Pending: true}, 100, 8))
	if string(bar) != "·······░" {
		t.Errorf("bar = %q", string(bar))
	}
}

func TestTimelineChart(t *testing.T) {
	start := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	tl := pulse.TimelineView{
		Start:         start,
		End:           start.Add(3 * time.Second),
		GranularityMs: 1000,
		Buckets: []pulse.TimeBucket{
			{Timestamp: start, SuccessCount: 8},
			{Timestamp: start.Add(time.Second)},
			{Timestamp: start.Add(2 * time.Second), SuccessCount: 2, ErrorCount: 2},
		},
	}

	out := string(TimelineChart(tl))
	if !strings.Contains(out, "every 1s  3 bars") {
		t.Errorf("header missing: %q", out)
	}
	if !strings.Contains(out, "all █ ▄ 12") {
		t.Errorf("all line wrong: %q", out)
	}
	if !strings.Contains(out, "err   ▂ 2") {
		t.Errorf("err line wrong: %q", out)
	}
}

func TestHealthLine(t *testing.T) {
	h := pulse.Health{Status: pulse.HealthDegraded, ErrorRate: 0.02, ErrorCount: 2, SampleSize: 100, P95Ms: 640}
	want := "DEGRADED  errors 2.0% (2/100)  p95 640.0ms"
	if got := HealthLine(h); got != want {
		t.Errorf("HealthLine() = %q, want %q", got, want)
	}
}

func TestDetailText(t *testing.T) {
	d := pulse.SpanDetail{
		Span: pulse.Span{
			SpanID: "a", TraceID: "t", SpanName: "GET /orders", HTTPMethod: "GET",
			HTTPRoute: "/orders", HTTPStatusCode: 201, DurationMs: 3,
			Attributes: map[string]string{
				"db.system": "postgres",
				pulse.SpanEventsAttribute: `[{"timestamp":"t1","level":"error","message":"boom"}]`,
			},
		},
		Framework:      "chi",
		RequestHeaders: map[string]string{"b": "2", "a": "1"},
	}

	out := string(DetailText(d))
	for _, want := range []string{
		"request:         GET /orders",
		"status:          201",
		"framework:       chi",
		"request headers:\n  a: 1\n  b: 2\n",
		"attributes:\n  db.system: postgres\n",
		"logs:\n  t1 error boom\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("detail missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, pulse.SpanEventsAttribute+":") {
		t.Error("raw span events should not be listed as an attribute")
	}
}

func TestWriter_PrintText(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterTo("table", &buf)
	if err := w.Print(Text("raw\n")); err != nil {
		t.Fatalf("Print() error = %v", err)
	}
	if buf.String() != "raw\n" {
		t.Errorf("output = %q", buf.String())
	}
	if w.IsStructured() {
		t.Error("table writer reported structured")
	}
	if !NewWriterTo("YAML", &buf).IsStructured() {
		t.Error("yaml writer should be structured")
	}
}

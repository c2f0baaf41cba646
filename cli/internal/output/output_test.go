package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/tracely/pulse/services/pulse"
)

func TestNewWriterTo(t *testing.T) {
	tests := []struct {
		format     string
		want       Format
		structured bool
	}{
		{"json", FormatJSON, true},
		{"JSON", FormatJSON, true},
		{"Yaml", FormatYAML, true},
		{"table", FormatTable, false},
		{"csv", FormatTable, false},
		{"", FormatTable, false},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriterTo(tt.format, &buf)
			if w.format != tt.want {
				t.Errorf("NewWriterTo(%q).format = %v, want %v", tt.format, w.format, tt.want)
			}
			if w.IsStructured() != tt.structured {
				t.Errorf("IsStructured() = %v, want %v", w.IsStructured(), tt.structured)
			}
			if w.Out() != &buf {
				t.Error("Out() should return the destination writer")
			}
		})
	}
}

func TestWriter_Text(t *testing.T) {
	text := Text("trace abc  2 spans\n  ▾ api GET /orders\n")

	var table bytes.Buffer
	if err := NewWriterTo("table", &table).Print(text); err != nil {
		t.Fatalf("Print() error = %v", err)
	}
	if table.String() != string(text) {
		t.Errorf("table output = %q, want %q", table.String(), text)
	}

	var js bytes.Buffer
	if err := NewWriterTo("json", &js).Print(text); err != nil {
		t.Fatalf("Print() error = %v", err)
	}
	var decoded string
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("json output is not a string: %v", err)
	}
	if decoded != string(text) {
		t.Errorf("decoded = %q, want %q", decoded, text)
	}
}

func TestWriter_YAMLTimestamps(t *testing.T) {
	type window struct {
		Start pulse.Timestamp `yaml:"start"`
		End   pulse.Timestamp `yaml:"end"`
	}
	start := time.Date(2025, 3, 14, 13, 0, 0, 500_000_000, time.FixedZone("CET", 3600))

	var buf bytes.Buffer
	if err := NewWriterTo("yaml", &buf).Print(window{Start: pulse.NewTimestamp(start)}); err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "2025-03-14T12:00:00.5Z") {
		t.Errorf("start should render as UTC RFC 3339, got:\n%s", out)
	}
	if !strings.Contains(out, `end: ""`) {
		t.Errorf("zero end should render empty, got:\n%s", out)
	}
}

func TestWriter_TableAlignment(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterTo("table", &buf)

	err := w.Print(Table{
		Headers: []string{"ID", "SERVICE"},
		Rows: [][]string{
			{"1", "checkout"},
			{"22", "db"},
		},
	})
	if err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	want := "ID  SERVICE\n1   checkout\n22  db\n"
	if buf.String() != want {
		t.Errorf("table = %q, want %q", buf.String(), want)
	}
}

func TestWriter_TableHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriterTo("table", &buf).Print(Table{Headers: []string{"TRACE"}}); err != nil {
		t.Fatalf("Print() error = %v", err)
	}
	if buf.String() != "TRACE\n" {
		t.Errorf("table = %q, want header line only", buf.String())
	}
}

func TestWriter_TableFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	health := pulse.Health{Status: pulse.HealthDegraded, SampleSize: 4, ErrorCount: 1}

	if err := NewWriterTo("table", &buf).Print(health); err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("fallback output is not JSON: %v\n%s", err, buf.String())
	}
	if len(decoded) == 0 {
		t.Error("fallback JSON should carry the health fields")
	}
}

package pulse

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TargetBars is the number of histogram bars SelectGranularity aims for.
const TargetBars = 60

var granularityLadder = []time.Duration{
	time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	30 * time.Second,
	time.Minute,
	2 * time.Minute,
	3 * time.Minute,
	5 * time.Minute,
	6 * time.Minute,
	10 * time.Minute,
	12 * time.Minute,
	15 * time.Minute,
	20 * time.Minute,
	24 * time.Minute,
	30 * time.Minute,
	time.Hour,
	2 * time.Hour,
	3 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// TimeBucket is one clock-aligned histogram bar.
type TimeBucket struct {
	Timestamp    time.Time `json:"timestamp" yaml:"timestamp"`
	SuccessCount int       `json:"success_count" yaml:"success_count"`
	ErrorCount   int       `json:"error_count" yaml:"error_count"`
}

// Total returns the number of spans in the bucket.
func (b TimeBucket) Total() int {
	return b.SuccessCount + b.ErrorCount
}

// SelectGranularity picks the smallest step from a fixed ladder that keeps
// the histogram at or below TargetBars bars.
func SelectGranularity(rangeDur time.Duration) time.Duration {
	if rangeDur <= 0 {
		return granularityLadder[0]
	}
	target := rangeDur / TargetBars
	for _, step := range granularityLadder {
		if step >= target {
			return step
		}
	}
	return granularityLadder[len(granularityLadder)-1]
}

// IsErrorStatus reports whether an HTTP status counts as an error bar.
// Only 400 and above is an error; unset (0) and any other value count as
// success.
func IsErrorStatus(code int) bool {
	return code >= 400
}

// ComputeBuckets counts spans into fixed-width buckets. The first bucket
// starts at start floored to a multiple of granularity since the epoch and
// the last ends at end rounded up the same way. Spans starting outside
// [alignedStart, alignedEnd) are ignored.
func ComputeBuckets(spans []Span, start, end time.Time, granularity time.Duration) []TimeBucket {
	buckets := []TimeBucket{}
	step := granularity.Milliseconds()
	if step <= 0 || !end.After(start) {
		return buckets
	}

	alignedStart := floorDiv(start.UnixMilli(), step) * step
	alignedEnd := ceilDiv(end.UnixMilli(), step) * step

	n := int((alignedEnd - alignedStart) / step)
	buckets = make([]TimeBucket, n)
	for i := range buckets {
		buckets[i].Timestamp = time.UnixMilli(alignedStart + int64(i)*step).UTC()
	}

	for _, s := range spans {
		t := s.StartTime.UnixMilli()
		if t < alignedStart || t >= alignedEnd {
			continue
		}
		idx := (floorDiv(t, step)*step - alignedStart) / step
		if IsErrorStatus(s.HTTPStatusCode) {
			buckets[idx].ErrorCount++
		} else {
			buckets[idx].SuccessCount++
		}
	}
	return buckets
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}

// Presets are the selectable time-range windows.
var Presets = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"3h":  3 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"24h": 24 * time.Hour,
}

// PresetNames returns the preset keys ordered by window length.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return Presets[names[i]] < Presets[names[j]] })
	return names
}

// TimeRange is either a preset trailing window or explicit bounds. The zero
// value means live mode: no time bound at all.
type TimeRange struct {
	Preset string    `json:"preset,omitempty" yaml:"preset,omitempty"`
	Start  time.Time `json:"start,omitzero" yaml:"start,omitempty"`
	End    time.Time `json:"end,omitzero" yaml:"end,omitempty"`
}

// ParsePreset returns a TimeRange for a preset name.
func ParsePreset(name string) (TimeRange, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "live" {
		return TimeRange{}, nil
	}
	if _, ok := Presets[name]; !ok {
		return TimeRange{}, fmt.Errorf("unknown time range %q (want one of %s)", name, strings.Join(PresetNames(), ", "))
	}
	return TimeRange{Preset: name}, nil
}

// IsLive reports whether the range places no bound.
func (r TimeRange) IsLive() bool {
	return r.Preset == "" && r.Start.IsZero() && r.End.IsZero()
}

// Resolve turns the range into concrete bounds relative to now. Explicit
// bounds win over a preset; a missing explicit end is now. ok is false in
// live mode.
func (r TimeRange) Resolve(now time.Time) (start, end time.Time, ok bool) {
	if !r.Start.IsZero() || !r.End.IsZero() {
		start, end = r.Start, r.End
		if end.IsZero() {
			end = now
		}
		return start, end, true
	}
	if d, found := Presets[r.Preset]; found {
		return now.Add(-d), now, true
	}
	return time.Time{}, time.Time{}, false
}

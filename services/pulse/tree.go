package pulse

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"maps"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultBottleneckRatio is the share of the root duration above which a
// span is flagged as a bottleneck.
const DefaultBottleneckRatio = 0.5

// SpanEventsAttribute holds the JSON-encoded log events of a span.
const SpanEventsAttribute = "span.events"

// Log levels recognised in span events.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogEvent is one log line recorded on a span.
type LogEvent struct {
	Timestamp string `json:"timestamp"`
	Name      string `json:"name,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// SpanNode is a span placed in its trace tree with derived timings.
type SpanNode struct {
	Span               Span        `json:"span"`
	Children           []*SpanNode `json:"children"`
	Depth              int         `json:"depth"`
	OffsetMs           float64     `json:"offset_ms"`
	PercentOfTrace     float64     `json:"percent_of_trace"`
	ChildrenDurationMs float64     `json:"children_duration_ms"`
	IsSlowest          bool        `json:"is_slowest"`
	IsBottleneck       bool        `json:"is_bottleneck"`
	Logs               []LogEvent  `json:"logs"`
}

// TreeOptions tunes BuildSpanTree.
type TreeOptions struct {
	// BottleneckRatio defaults to DefaultBottleneckRatio when zero.
	BottleneckRatio float64
}

func (o TreeOptions) ratio() float64 {
	if o.BottleneckRatio <= 0 {
		return DefaultBottleneckRatio
	}
	return o.BottleneckRatio
}

// BuildSpanTree reconstructs the forest of one trace. Roots are spans with
// an empty parent id; children at every level are ordered by start time,
// ties keeping input order. Timings are relative to the earliest root.
// Spans whose parent is not in the input are not reachable and are left
// out. BuildSpanTree does not modify its input.
func BuildSpanTree(spans []Span, opts TreeOptions) []*SpanNode {
	forest := []*SpanNode{}
	if len(spans) == 0 {
		return forest
	}

	spans = dedupeSpans(spans)

	var roots []Span
	byParent := make(map[string][]Span)
	for _, s := range spans {
		if s.IsRoot() {
			roots = append(roots, s)
		} else {
			byParent[s.ParentSpanID] = append(byParent[s.ParentSpanID], s)
		}
	}
	if len(roots) == 0 {
		return forest
	}
	sortByStart(roots)

	b := &treeBuilder{
		byParent:     byParent,
		rootStart:    roots[0].StartTime.Time,
		rootDuration: roots[0].DurationMs,
		ratio:        opts.ratio(),
		maxDuration:  math.Inf(-1),
	}
	for _, r := range roots {
		forest = append(forest, b.build(r, 0))
	}
	if b.slowest != nil {
		b.slowest.IsSlowest = true
	}
	return forest
}

type treeBuilder struct {
	byParent     map[string][]Span
	rootStart    time.Time
	rootDuration float64
	ratio        float64

	maxDuration float64
	slowest     *SpanNode
}

func (b *treeBuilder) build(s Span, depth int) *SpanNode {
	node := &SpanNode{
		Span:     s,
		Children: []*SpanNode{},
		Depth:    depth,
		OffsetMs: float64(s.StartTime.Sub(b.rootStart).Microseconds()) / 1000,
		Logs:     ParseLogEvents(s.Attributes[SpanEventsAttribute]),
	}
	if b.rootDuration > 0 {
		node.PercentOfTrace = s.DurationMs / b.rootDuration * 100
	}
	node.IsBottleneck = s.DurationMs > b.ratio*b.rootDuration

	// pre-order: the first node holding the maximum wins
	if s.DurationMs > b.maxDuration {
		b.maxDuration = s.DurationMs
		b.slowest = node
	}

	kids := b.byParent[s.SpanID]
	if len(kids) > 0 {
		kids = append([]Span(nil), kids...)
		sortByStart(kids)
		for _, k := range kids {
			child := b.build(k, depth+1)
			node.ChildrenDurationMs += k.DurationMs
			node.Children = append(node.Children, child)
		}
	}
	return node
}

func sortByStart(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].StartTime.Before(spans[j].StartTime.Time)
	})
}

// dedupeSpans keeps one record per id: the last one, at the position of
// the first.
func dedupeSpans(spans []Span) []Span {
	pos := make(map[string]int, len(spans))
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		if i, ok := pos[s.SpanID]; ok {
			out[i] = s
			continue
		}
		pos[s.SpanID] = len(out)
		out = append(out, s)
	}
	return out
}

// ParseLogEvents decodes a span.events attribute. Missing or malformed input
// yields an empty list. Unknown levels become info and a missing message
// falls back to the event name.
func ParseLogEvents(raw string) []LogEvent {
	events := []LogEvent{}
	if strings.TrimSpace(raw) == "" {
		return events
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return events
	}

	for _, item := range items {
		ev := LogEvent{
			Timestamp: stringField(item["timestamp"]),
			Name:      stringField(item["name"]),
			Level:     normalizeLevel(stringField(item["level"])),
			Message:   stringField(item["message"]),
		}
		if ev.Message == "" {
			ev.Message = ev.Name
		}
		events = append(events, ev)
	}
	return events
}

func normalizeLevel(level string) string {
	switch l := strings.ToLower(level); l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return l
	default:
		return LogLevelInfo
	}
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// FlattenTree lists nodes in pre-order, descending only into nodes whose id
// is in expanded. Collapsed subtrees are absent from the result.
func FlattenTree(forest []*SpanNode, expanded map[string]bool) []*SpanNode {
	out := []*SpanNode{}
	var walk func(n *SpanNode)
	walk = func(n *SpanNode) {
		out = append(out, n)
		if !expanded[n.Span.SpanID] {
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, root := range forest {
		walk(root)
	}
	return out
}

// CountDescendants counts every node below n.
func CountDescendants(n *SpanNode) int {
	count := 0
	for _, c := range n.Children {
		count += 1 + CountDescendants(c)
	}
	return count
}

// CountNodes counts every node in the forest.
func CountNodes(forest []*SpanNode) int {
	count := 0
	for _, root := range forest {
		count += 1 + CountDescendants(root)
	}
	return count
}

// CollectIDs returns the id of every node in the forest, for expand-all.
func CollectIDs(forest []*SpanNode) map[string]bool {
	ids := make(map[string]bool)
	var walk func(n *SpanNode)
	walk = func(n *SpanNode) {
		ids[n.Span.SpanID] = true
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, root := range forest {
		walk(root)
	}
	return ids
}

// TreeCache memoizes BuildSpanTree per trace. An entry is reused while the
// trace's spans fingerprint the same.
type TreeCache struct {
	mu         sync.Mutex
	opts       TreeOptions
	maxEntries int
	entries    map[string]treeEntry
}

type treeEntry struct {
	fingerprint uint64
	forest      []*SpanNode
}

// NewTreeCache creates a cache holding at most maxEntries traces.
func NewTreeCache(opts TreeOptions, maxEntries int) *TreeCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &TreeCache{
		opts:       opts,
		maxEntries: maxEntries,
		entries:    make(map[string]treeEntry),
	}
}

// Build returns the forest for spans, rebuilding only when they changed.
// Callers must not mutate the returned nodes.
func (c *TreeCache) Build(traceID string, spans []Span) []*SpanNode {
	fp := fingerprint(spans)

	c.mu.Lock()
	if e, ok := c.entries[traceID]; ok && e.fingerprint == fp {
		c.mu.Unlock()
		return e.forest
	}
	c.mu.Unlock()

	forest := BuildSpanTree(spans, c.opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		clear(c.entries)
	}
	c.entries[traceID] = treeEntry{fingerprint: fp, forest: forest}
	return forest
}

// Len returns the number of cached traces.
func (c *TreeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// fingerprint hashes every field Span.Equal compares, so any replacement
// the store accepts yields a new key.
func fingerprint(spans []Span) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	writeString := func(v string) {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	for _, s := range spans {
		writeString(s.TraceID)
		writeString(s.SpanID)
		writeString(s.ParentSpanID)
		writeString(s.SpanName)
		writeString(string(s.SpanType))
		writeString(s.ServiceName)
		writeString(s.Kind)
		writeUint(uint64(s.StartTime.UnixNano()))
		writeUint(math.Float64bits(s.DurationMs))
		writeString(s.StatusCode)
		writeString(s.HTTPMethod)
		writeString(s.HTTPRoute)
		writeUint(uint64(s.HTTPStatusCode))
		writeString(s.Environment)
		writeUint(uint64(len(s.Attributes)))
		for _, k := range slices.Sorted(maps.Keys(s.Attributes)) {
			writeString(k)
			writeString(s.Attributes[k])
		}
	}
	return h.Sum64()
}

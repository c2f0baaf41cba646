package pulse

import (
	"sort"
	"sync"
)

// DefaultMaxBufferSize is the number of spans kept before the oldest are
// evicted.
const DefaultMaxBufferSize = 5000

// AddOutcome describes what AddSpan did with a record.
type AddOutcome int

const (
	AddInserted AddOutcome = iota
	AddReplaced
	AddIgnored
)

func (o AddOutcome) String() string {
	switch o {
	case AddInserted:
		return "inserted"
	case AddReplaced:
		return "replaced"
	default:
		return "ignored"
	}
}

// AddResult reports the outcome of AddSpan and how many old spans were
// evicted to make room.
type AddResult struct {
	Outcome AddOutcome
	Evicted int
}

// Flags are the view-state flags kept alongside the buffer.
type Flags struct {
	IsAtBottom       bool `json:"is_at_bottom"`
	IsLoadingHistory bool `json:"is_loading_history"`
	HasMoreHistory   bool `json:"has_more_history"`
}

func defaultFlags() Flags {
	return Flags{
		IsAtBottom:       true,
		IsLoadingHistory: false,
		HasMoreHistory:   true,
	}
}

// Store is the ordered, bounded span buffer of one live view. The ordered
// list, the by-id index and the children-by-parent index are only ever
// changed together under mu.
type Store struct {
	mu      sync.RWMutex
	maxSize int

	spans []Span
	// base is the absolute position of spans[0]; byID stores absolute
	// positions so evicting from the front does not shift the index.
	base     int
	byID     map[string]int
	children map[string][]string

	flags   Flags
	version uint64
}

// NewStore creates an empty store. A non-positive maxSize uses
// DefaultMaxBufferSize.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	return &Store{
		maxSize:  maxSize,
		byID:     make(map[string]int),
		children: make(map[string][]string),
		flags:    defaultFlags(),
	}
}

// MaxSize returns the buffer bound.
func (s *Store) MaxSize() int {
	return s.maxSize
}

// AddSpan inserts a span at the tail, or replaces the record with the same
// id in place. A pending record never overwrites a completed one, and a
// record identical to the stored one is a no-op.
func (s *Store) AddSpan(span Span) AddResult {
	if span.SpanID == "" {
		return AddResult{Outcome: AddIgnored}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, ok := s.byID[span.SpanID]; ok {
		cur := &s.spans[pos-s.base]
		if span.IsPending() && !cur.IsPending() {
			return AddResult{Outcome: AddIgnored}
		}
		if cur.Equal(span) {
			return AddResult{Outcome: AddIgnored}
		}
		if cur.ParentSpanID != span.ParentSpanID {
			s.unlinkChild(cur.ParentSpanID, span.SpanID)
			s.insertChildSorted(span.ParentSpanID, span.SpanID)
		}
		*cur = span
		s.version++
		return AddResult{Outcome: AddReplaced}
	}

	s.spans = append(s.spans, span)
	s.byID[span.SpanID] = s.base + len(s.spans) - 1
	if !span.IsRoot() {
		s.children[span.ParentSpanID] = append(s.children[span.ParentSpanID], span.SpanID)
	}
	evicted := s.prune()
	s.version++
	return AddResult{Outcome: AddInserted, Evicted: evicted}
}

// PrependSpans merges older spans, given in chronological order, in front
// of the buffer. Ids already present, repeated ids and records without an
// id are skipped. When the batch does not fit in the remaining capacity it
// is cut down to the records closest to the buffer and HasMoreHistory is
// cleared. It returns the number of spans added.
func (s *Store) PrependSpans(batch []Span) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(batch))
	fresh := make([]Span, 0, len(batch))
	for _, span := range batch {
		if span.SpanID == "" {
			continue
		}
		if _, ok := s.byID[span.SpanID]; ok {
			continue
		}
		if _, ok := seen[span.SpanID]; ok {
			continue
		}
		seen[span.SpanID] = struct{}{}
		fresh = append(fresh, span)
	}
	if len(fresh) == 0 {
		return 0
	}

	free := s.maxSize - len(s.spans)
	if free <= 0 {
		s.flags.HasMoreHistory = false
		return 0
	}
	if len(fresh) > free {
		fresh = fresh[len(fresh)-free:]
		s.flags.HasMoreHistory = false
	}

	merged := make([]Span, 0, len(fresh)+len(s.spans))
	merged = append(merged, fresh...)
	merged = append(merged, s.spans...)
	s.spans = merged
	s.base -= len(fresh)

	newKids := make(map[string][]string)
	for i, span := range fresh {
		s.byID[span.SpanID] = s.base + i
		if !span.IsRoot() {
			newKids[span.ParentSpanID] = append(newKids[span.ParentSpanID], span.SpanID)
		}
	}
	for parent, kids := range newKids {
		s.children[parent] = append(kids, s.children[parent]...)
	}

	s.version++
	return len(fresh)
}

// Reset clears all spans and restores the default flags.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spans = nil
	s.base = 0
	s.byID = make(map[string]int)
	s.children = make(map[string][]string)
	s.flags = defaultFlags()
	s.version++
}

// Spans returns a copy of the buffer, oldest first.
func (s *Store) Spans() []Span {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Span, len(s.spans))
	copy(out, s.spans)
	return out
}

// Len returns the number of buffered spans.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spans)
}

// Get returns the span with the given id.
func (s *Store) Get(spanID string) (Span, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.byID[spanID]
	if !ok {
		return Span{}, false
	}
	return s.spans[pos-s.base], true
}

// Children returns the buffered children of parentID in buffer order.
func (s *Store) Children(parentID string) []Span {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.children[parentID]
	out := make([]Span, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.spans[s.byID[id]-s.base])
	}
	return out
}

// TraceSpans returns the buffered spans of one trace in buffer order.
func (s *Store) TraceSpans(traceID string) []Span {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Span
	for _, span := range s.spans {
		if span.TraceID == traceID {
			out = append(out, span)
		}
	}
	return out
}

// Oldest returns the first span in the buffer.
func (s *Store) Oldest() (Span, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.spans) == 0 {
		return Span{}, false
	}
	return s.spans[0], true
}

// Version increases on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Flags returns a snapshot of the view flags.
func (s *Store) Flags() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

// SetAtBottom records whether the list view is scrolled to the newest span.
func (s *Store) SetAtBottom(v bool) {
	s.mu.Lock()
	s.flags.IsAtBottom = v
	s.mu.Unlock()
}

// IsAtBottom reports the scroll flag.
func (s *Store) IsAtBottom() bool {
	return s.Flags().IsAtBottom
}

// SetLoadingHistory sets the history loading flag.
func (s *Store) SetLoadingHistory(v bool) {
	s.mu.Lock()
	s.flags.IsLoadingHistory = v
	s.mu.Unlock()
}

// IsLoadingHistory reports the history loading flag.
func (s *Store) IsLoadingHistory() bool {
	return s.Flags().IsLoadingHistory
}

// TryBeginHistoryLoad sets the loading flag unless it is already set, and
// reports whether the caller now owns the load.
func (s *Store) TryBeginHistoryLoad() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.IsLoadingHistory {
		return false
	}
	s.flags.IsLoadingHistory = true
	return true
}

// SetHasMoreHistory sets whether older pages may exist.
func (s *Store) SetHasMoreHistory(v bool) {
	s.mu.Lock()
	s.flags.HasMoreHistory = v
	s.mu.Unlock()
}

// HasMoreHistory reports whether older pages may exist.
func (s *Store) HasMoreHistory() bool {
	return s.Flags().HasMoreHistory
}

// prune evicts from the front until the bound holds. Callers hold mu.
func (s *Store) prune() int {
	evicted := 0
	for len(s.spans) > s.maxSize {
		old := s.spans[0]
		delete(s.byID, old.SpanID)
		if !old.IsRoot() {
			s.unlinkChild(old.ParentSpanID, old.SpanID)
		}
		s.spans[0] = Span{}
		s.spans = s.spans[1:]
		s.base++
		evicted++
	}
	return evicted
}

func (s *Store) unlinkChild(parentID, childID string) {
	if parentID == "" {
		return
	}
	kids := s.children[parentID]
	for i, id := range kids {
		if id == childID {
			kids = append(kids[:i], kids[i+1:]...)
			break
		}
	}
	if len(kids) == 0 {
		delete(s.children, parentID)
		return
	}
	s.children[parentID] = kids
}

// insertChildSorted links childID under parentID keeping buffer order.
// The child must already be in byID.
func (s *Store) insertChildSorted(parentID, childID string) {
	if parentID == "" {
		return
	}
	kids := s.children[parentID]
	pos := s.byID[childID]
	i := sort.Search(len(kids), func(i int) bool { return s.byID[kids[i]] > pos })
	kids = append(kids, "")
	copy(kids[i+1:], kids[i:])
	kids[i] = childID
	s.children[parentID] = kids
}

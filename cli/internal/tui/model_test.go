package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracely/pulse/pkg/testutil"
	"github.com/tracely/pulse/services/pulse"
)

var epoch = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T) (*pulse.Session, *testutil.MockHTTPClient) {
	t.Helper()
	logger := testutil.DiscardLogger()
	mock := testutil.NewMockHTTPClient()
	metrics := pulse.NewMetrics()

	details, err := pulse.NewDetailCache(pulse.DetailCacheConfig{MaxItems: 10, TTL: time.Minute}, nil, metrics, logger)
	require.NoError(t, err)

	s := pulse.NewSession(pulse.SessionConfig{HistoryPageSize: 10}, pulse.SessionDeps{
		Store:   pulse.NewStore(100),
		API:     pulse.NewAPIClient(pulse.ClientConfig{BaseURL: "http://api.test", OrgSlug: "acme", ProjectSlug: "shop"}, mock, logger),
		Details: details,
		Metrics: metrics,
		Logger:  logger,
		Now:     func() time.Time { return epoch.Add(time.Minute) },
	})
	t.Cleanup(s.Close)
	return s, mock
}

func span(id, parent, service string, offsetMs float64, status int) pulse.Span {
	return pulse.Span{
		TraceID:        "trace-" + service,
		SpanID:         id,
		ParentSpanID:   parent,
		SpanName:       "op " + id,
		SpanType:       pulse.SpanTypeSpan,
		ServiceName:    service,
		StartTime:      pulse.NewTimestamp(epoch.Add(time.Duration(offsetMs * float64(time.Millisecond)))),
		DurationMs:     10,
		HTTPMethod:     "GET",
		HTTPRoute:      "/api/" + id,
		HTTPStatusCode: status,
	}
}

func newTestModel(t *testing.T, session *pulse.Session) Model {
	t.Helper()
	m := New(context.Background(), session, Options{
		NoColor: true,
		Now:     func() time.Time { return epoch.Add(time.Minute) },
	})
	t.Cleanup(m.Close)
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(t *testing.T, m Model, msgs ...tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(Model)
	}
	return m, cmd
}

func TestModel_RowsFollowBuffer(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleEvent(pulse.StreamEvent{Span: span("a", "", "checkout", 50_000, 200)})

	m := newTestModel(t, session)
	assert.Len(t, m.table.Rows(), 1)

	session.HandleEvent(pulse.StreamEvent{Span: span("b", "", "billing", 50_005, 500)})
	u := <-m.sub.C
	m, cmd := send(t, m, updateMsg(u))
	assert.NotNil(t, cmd)
	assert.True(t, m.dirty)
	assert.Len(t, m.table.Rows(), 1)

	m, _ = send(t, m, tickMsg(epoch))
	assert.False(t, m.dirty)
	require.Len(t, m.table.Rows(), 2)
	assert.Equal(t, 1, m.table.Cursor())
	assert.Equal(t, pulse.HealthDegraded, m.health.Status)
}

func TestModel_FilterKeys(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleEvent(pulse.StreamEvent{Span: span("a", "", "checkout", 0, 200)})
	session.HandleEvent(pulse.StreamEvent{Span: span("b", "", "billing", 5, 503)})
	session.HandleEvent(pulse.StreamEvent{Span: span("c", "", "checkout", 9, 404)})

	m := newTestModel(t, session)
	require.Len(t, m.visible, 3)

	m, _ = send(t, m, runes("e"))
	assert.Equal(t, []string{"b", "c"}, ids(m.visible))
	m, _ = send(t, m, runes("e"))
	assert.Len(t, m.visible, 3)

	m, _ = send(t, m, runes("s"))
	assert.Equal(t, "billing", m.filters.Service)
	assert.Equal(t, []string{"b"}, ids(m.visible))
	m, _ = send(t, m, runes("s"), runes("s"))
	assert.Equal(t, "", m.filters.Service)

	m, _ = send(t, m, runes("t"))
	assert.Equal(t, "5m", m.filters.TimeRange.Preset)
	assert.Contains(t, m.View(), "range=5m")
}

func TestModel_Search(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleEvent(pulse.StreamEvent{Span: span("orders", "", "checkout", 0, 200)})
	session.HandleEvent(pulse.StreamEvent{Span: span("users", "", "checkout", 1, 200)})

	m := newTestModel(t, session)
	m, _ = send(t, m, runes("/"))
	assert.Equal(t, modeSearch, m.mode)

	m, _ = send(t, m, runes("ORD"), tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, "ORD", m.filters.Search)
	assert.Equal(t, []string{"orders"}, ids(m.visible))

	m, _ = send(t, m, runes("/"), runes("x"), tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, "ORD", m.filters.Search)
}

func TestModel_TraceNavigation(t *testing.T) {
	session, _ := newTestSession(t)
	session.HandleEvent(pulse.StreamEvent{Span: span("root", "", "api", 0, 200)})
	session.HandleEvent(pulse.StreamEvent{Span: span("child", "root", "api", 1, 200)})

	m := newTestModel(t, session)
	m, cmd := send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, modeTrace, m.mode)
	assert.Equal(t, "trace-api", m.traceID)
	assert.Contains(t, m.View(), "loading trace")

	m, _ = send(t, m, cmd())
	require.Len(t, m.trace.Rows, 2)
	assert.True(t, m.expanded["root"])

	// collapse the root
	m, cmd = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m, _ = send(t, m, cmd())
	assert.Len(t, m.trace.Rows, 1)
	assert.Contains(t, m.View(), "+1 hidden")

	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, m.traceCursor)

	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeList, m.mode)
}

func TestModel_TraceMissing(t *testing.T) {
	session, _ := newTestSession(t)
	m := newTestModel(t, session)
	m.traceID = "gone"
	m.mode = modeTrace

	m, _ = send(t, m, m.loadTrace()())
	assert.Equal(t, modeList, m.mode)
	assert.ErrorIs(t, m.err, pulse.ErrTraceNotFound)
	assert.Contains(t, m.View(), pulse.ErrTraceNotFound.Error())
}

func TestModel_StatusAndHistory(t *testing.T) {
	session, mock := newTestSession(t)
	mock.AddResponse(testutil.MockEnvelope([]pulse.Span{span("old", "", "api", -500, 200)}, map[string]any{"has_more": false}))

	m := newTestModel(t, session)
	m, _ = send(t, m, updateMsg(pulse.Update{Type: pulse.UpdateStatus, Status: pulse.StatusConnected}))
	assert.Contains(t, m.View(), "● connected")

	m, cmd := send(t, m, runes("h"))
	require.NotNil(t, cmd)
	m, _ = send(t, m, cmd())
	assert.NoError(t, m.err)
	assert.Equal(t, "loaded 1 older spans", m.notice)
	assert.Equal(t, []string{"old"}, ids(m.visible))
}

func TestModel_QuitAndClose(t *testing.T) {
	session, _ := newTestSession(t)
	m := newTestModel(t, session)

	_, cmd := send(t, m, closedMsg{})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	_, cmd = send(t, m, runes("q"))
	require.NotNil(t, cmd)
	_, open := <-m.sub.C
	assert.False(t, open)
}

func TestNextPresetAndService(t *testing.T) {
	assert.Equal(t, "5m", nextPreset(""))
	assert.Equal(t, "", nextPreset("24h"))
	assert.Equal(t, "b", nextService([]string{"a", "b"}, "a"))
	assert.Equal(t, "", nextService([]string{"a", "b"}, "b"))
	assert.Equal(t, "", nextService(nil, ""))
}

func ids(spans []pulse.Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.SpanID
	}
	return out
}

// Package tui is the interactive live view behind `tracely watch`.
package tui

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tracely/pulse/cli/internal/output"
	"github.com/tracely/pulse/services/pulse"
)

const refreshInterval = 250 * time.Millisecond

type mode int

const (
	modeList mode = iota
	modeSearch
	modeTrace
)

// Options configure the live view.
type Options struct {
	Filters pulse.Filters
	NoColor bool
	Now     func() time.Time
}

type (
	updateMsg  pulse.Update
	closedMsg  struct{}
	tickMsg    time.Time
	historyMsg struct {
		added int
		err   error
	}
	traceMsg struct {
		view pulse.TraceView
		err  error
	}
)

// Model is the bubbletea model of the live view.
type Model struct {
	ctx     context.Context
	session *pulse.Session
	sub     *pulse.Subscription
	filters pulse.Filters
	styles  styles
	now     func() time.Time

	mode    mode
	table   table.Model
	search  textinput.Model
	visible []pulse.Span
	total   int

	status        pulse.StreamStatus
	health        pulse.Health
	lastHeartbeat time.Time
	dirty         bool
	notice        string
	err           error

	trace       pulse.TraceView
	traceID     string
	traceCursor int
	expanded    map[string]bool
	withDetails bool

	width  int
	height int
}

// New creates the model and subscribes it to the session.
func New(ctx context.Context, session *pulse.Session, opts Options) Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	st := newStyles(opts.NoColor)

	t := table.New(
		table.WithColumns(columns(100)),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	t.SetStyles(st.table)

	search := textinput.New()
	search.Prompt = "search: "
	search.Placeholder = "endpoint or span name"
	search.CharLimit = 128

	m := Model{
		ctx:     ctx,
		session: session,
		sub:     session.Subscribe(pulse.Filters{}),
		filters: opts.Filters,
		styles:  st,
		now:     opts.Now,
		table:   t,
		search:  search,
		status:  session.Status(),
	}
	m.refresh()
	return m
}

// Close releases the session subscription.
func (m Model) Close() {
	m.session.Unsubscribe(m.sub.ID)
}

func columns(width int) []table.Column {
	fixed := []table.Column{
		{Title: "TIME", Width: 12},
		{Title: "METHOD", Width: 7},
		{Title: "ENDPOINT", Width: 0},
		{Title: "STATUS", Width: 6},
		{Title: "DURATION", Width: 10},
		{Title: "SERVICE", Width: 14},
		{Title: "TRACE", Width: 8},
	}
	used := 0
	for _, c := range fixed {
		used += c.Width + 2
	}
	fixed[2].Width = max(20, width-used-2)
	return fixed
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.sub), tick())
}

func waitForUpdate(sub *pulse.Subscription) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-sub.C
		if !ok {
			return closedMsg{}
		}
		return updateMsg(u)
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetColumns(columns(msg.Width))
		m.table.SetHeight(max(3, msg.Height-6))
		return m, nil

	case updateMsg:
		m.apply(pulse.Update(msg))
		return m, waitForUpdate(m.sub)

	case closedMsg:
		return m, tea.Quit

	case tickMsg:
		if m.dirty {
			m.refresh()
			if m.mode == modeTrace {
				return m, tea.Batch(tick(), m.loadTrace())
			}
		}
		m.health = m.session.Health(m.now())
		return m, tick()

	case historyMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.notice = fmt.Sprintf("loaded %d older spans", msg.added)
		}
		m.refresh()
		return m, nil

	case traceMsg:
		if msg.err != nil {
			m.err = msg.err
			m.mode = modeList
			return m, nil
		}
		m.err = nil
		m.trace = msg.view
		if m.expanded == nil {
			m.expanded = pulse.CollectIDs(msg.view.Roots)
		}
		m.traceCursor = min(m.traceCursor, max(0, len(m.trace.Rows)-1))
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.Close()
			return m, tea.Quit
		}
		switch m.mode {
		case modeSearch:
			return m.updateSearch(msg)
		case modeTrace:
			return m.updateTrace(msg)
		default:
			return m.updateList(msg)
		}
	}
	return m, nil
}

func (m *Model) apply(u pulse.Update) {
	switch u.Type {
	case pulse.UpdateStatus:
		m.status = u.Status
	case pulse.UpdateHeartbeat:
		m.lastHeartbeat = u.At
	case pulse.UpdateReset, pulse.UpdateHistory:
		m.refresh()
	default:
		m.dirty = true
	}
}

// refresh rebuilds the rows from the buffer, following the newest span
// while the viewer sits at the bottom.
func (m *Model) refresh() {
	view := m.session.View(m.filters, m.now())
	m.visible = view.Spans
	m.total = view.Total
	m.dirty = false

	rows := make([]table.Row, len(view.Spans))
	for i, s := range view.Spans {
		rows[i] = output.SpanRow(s)
	}
	m.table.SetRows(rows)
	if m.session.Store().IsAtBottom() {
		m.table.GotoBottom()
	}
	m.health = m.session.Health(m.now())
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.Close()
		return m, tea.Quit
	case "/":
		m.mode = modeSearch
		m.search.SetValue(m.filters.Search)
		return m, m.search.Focus()
	case "e":
		if len(m.filters.StatusGroups) == 0 {
			m.filters.StatusGroups = []string{pulse.StatusGroup4xx, pulse.StatusGroup5xx}
		} else {
			m.filters.StatusGroups = nil
		}
		m.refresh()
		return m, nil
	case "s":
		m.filters.Service = nextService(m.session.View(pulse.Filters{}, m.now()).Services, m.filters.Service)
		m.refresh()
		return m, nil
	case "t":
		m.filters.TimeRange = pulse.TimeRange{Preset: nextPreset(m.filters.TimeRange.Preset)}
		m.refresh()
		return m, nil
	case "h":
		m.notice = "loading older spans…"
		return m, m.loadHistory()
	case "r":
		m.session.Reset()
		m.notice = "buffer cleared"
		m.refresh()
		return m, nil
	case "G", "end":
		m.session.Store().SetAtBottom(true)
		m.table.GotoBottom()
		return m, nil
	case "enter":
		cursor := m.table.Cursor()
		if cursor < 0 || cursor >= len(m.visible) {
			return m, nil
		}
		m.mode = modeTrace
		m.traceID = m.visible[cursor].TraceID
		m.traceCursor = 0
		m.expanded = nil
		m.withDetails = false
		return m, m.loadTrace()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	m.session.Store().SetAtBottom(len(m.visible) == 0 || m.table.Cursor() >= len(m.visible)-1)
	return m, cmd
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.filters.Search = strings.TrimSpace(m.search.Value())
		m.search.Blur()
		m.mode = modeList
		m.refresh()
		return m, nil
	case "esc":
		m.search.Blur()
		m.mode = modeList
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m Model) updateTrace(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "backspace":
		m.mode = modeList
		m.trace = pulse.TraceView{}
		return m, nil
	case "up", "k":
		m.traceCursor = max(0, m.traceCursor-1)
	case "down", "j":
		m.traceCursor = min(max(0, len(m.trace.Rows)-1), m.traceCursor+1)
	case "enter", " ":
		if m.traceCursor >= len(m.trace.Rows) {
			return m, nil
		}
		row := m.trace.Rows[m.traceCursor]
		if row.Descendants == 0 {
			return m, nil
		}
		m.expanded = maps.Clone(m.expanded)
		m.expanded[row.SpanID] = !m.expanded[row.SpanID]
		return m, m.loadTrace()
	case "d":
		m.withDetails = !m.withDetails
		return m, m.loadTrace()
	}
	return m, nil
}

func (m Model) loadTrace() tea.Cmd {
	ctx, session := m.ctx, m.session
	req := pulse.TraceRequest{TraceID: m.traceID, WithDetails: m.withDetails}
	if m.expanded != nil {
		req.Expanded = maps.Clone(m.expanded)
	}
	return func() tea.Msg {
		view, err := session.Trace(ctx, req)
		return traceMsg{view: view, err: err}
	}
}

func (m Model) loadHistory() tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		added, err := session.LoadOlder(ctx)
		return historyMsg{added: added, err: err}
	}
}

func nextService(services []string, current string) string {
	if len(services) == 0 {
		return ""
	}
	i := slices.Index(services, current)
	if i == len(services)-1 {
		return ""
	}
	return services[i+1]
}

func nextPreset(current string) string {
	names := pulse.PresetNames()
	i := slices.Index(names, current)
	if i == len(names)-1 {
		return ""
	}
	return names[i+1]
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")

	if m.mode == modeTrace {
		b.WriteString(m.traceView())
	} else {
		b.WriteString(m.table.View())
	}
	b.WriteString("\n")

	switch {
	case m.mode == modeSearch:
		b.WriteString(m.search.View())
	case m.err != nil:
		b.WriteString(m.styles.errText.Render(m.err.Error()))
	case m.notice != "":
		b.WriteString(m.notice)
	}
	b.WriteString("\n")
	b.WriteString(m.styles.help.Render(m.helpLine()))
	return b.String()
}

func (m Model) header() string {
	status := m.styles.forStatus(m.status).Render("● " + string(m.status))
	health := m.styles.forHealth(m.health.Status).Render(output.HealthLine(m.health))
	line := fmt.Sprintf("%s  %s  %s  spans %d/%d",
		m.styles.title.Render("TRACELY"), status, health, len(m.visible), m.total)
	if f := describeFilters(m.filters); f != "" {
		line += "  [" + f + "]"
	}
	return line
}

func describeFilters(f pulse.Filters) string {
	var parts []string
	if f.Service != "" {
		parts = append(parts, "service="+f.Service)
	}
	if len(f.StatusGroups) > 0 {
		parts = append(parts, "status="+strings.Join(f.StatusGroups, ","))
	}
	if f.Search != "" {
		parts = append(parts, "search="+f.Search)
	}
	if f.Environment != "" {
		parts = append(parts, "env="+f.Environment)
	}
	if f.TimeRange.Preset != "" {
		parts = append(parts, "range="+f.TimeRange.Preset)
	}
	return strings.Join(parts, " ")
}

func (m Model) traceView() string {
	if m.trace.TraceID == "" {
		return "loading trace " + m.traceID + "…"
	}
	lines := strings.Split(strings.TrimRight(string(output.Waterfall(m.trace)), "\n"), "\n")
	for i := range lines {
		row := i - 1
		switch {
		case row == m.traceCursor:
			lines[i] = m.styles.table.Selected.Render(lines[i])
		case row >= 0 && m.trace.Rows[row].IsBottleneck:
			lines[i] = m.styles.bottleneck.Render(lines[i])
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) helpLine() string {
	switch m.mode {
	case modeSearch:
		return "enter apply • esc cancel"
	case modeTrace:
		return "↑/↓ move • enter expand/collapse • d details • esc back"
	default:
		return "enter trace • / search • e errors • s service • t range • h older • G follow • r reset • q quit"
	}
}

// Run starts the live view and blocks until the user quits or ctx ends.
func Run(ctx context.Context, session *pulse.Session, opts Options) error {
	m := New(ctx, session, opts)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

package timerui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/MayankBharati/solidtracker/internal/api"
	"github.com/MayankBharati/solidtracker/internal/apiclient"
)

const (
	DefaultPollInterval   = 30 * time.Second
	DefaultRequestTimeout = 15 * time.Second
	tickInterval          = time.Second
	entriesLimit          = 200
)

type (
	tickMsg time.Time
	pollMsg struct{}

	// snapshotMsg answers a poll. gen is the generation the poll was issued under.
	snapshotMsg struct {
		gen         uint64
		active      api.ActiveTimerResponse
		assignments []api.AssignmentView
		entries     []api.TimeEntryView
		err         error
	}

	mutationMsg struct {
		gen    uint64
		action string
		entry  api.TimeEntryView
		err    error
	}
)

// Backend is the API surface the timer model depends on. *apiclient.Client implements it.
type Backend interface {
	Active(ctx context.Context) (api.ActiveTimerResponse, error)
	Start(ctx context.Context, projectID, taskID string) (api.TimeEntryView, error)
	Stop(ctx context.Context) (api.TimeEntryView, error)
	Assignments(ctx context.Context) ([]api.AssignmentView, error)
	Entries(ctx context.Context, from time.Time, limit int) ([]api.TimeEntryView, error)
}

var _ Backend = (*apiclient.Client)(nil)

type choice struct {
	projectID   string
	projectName string
	taskID      string
	taskName    string
}

// Option configures a Model.
type Option func(*Model)

// WithCache seeds the model from the cache and keeps it updated.
func WithCache(cache *StateCache) Option {
	return func(m *Model) { m.cache = cache }
}

// WithClock overrides the local clock.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// WithPollInterval sets how often the server state is re-fetched.
func WithPollInterval(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithRequestTimeout bounds every API call.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.requestTimeout = d
		}
	}
}

// Model is the timer screen. The server is authoritative for the active entry and its elapsed
// time. The local ticker only advances the display between resyncs.
type Model struct {
	backend        Backend
	cache          *StateCache
	now            func() time.Time
	pollInterval   time.Duration
	requestTimeout time.Duration

	keys keyMap
	help help.Model

	active      *api.TimeEntryView
	baseElapsed time.Duration
	syncedAt    time.Time
	todayClosed time.Duration

	choices   []choice
	cursor    int
	loaded    bool
	fromCache bool

	// gen advances whenever a start or stop is issued or applied. Poll answers issued under
	// an older generation are stale and never replace the active entry.
	gen     uint64
	pending bool

	status    string
	statusErr bool
	lastSync  time.Time
	width     int
	quitting  bool
}

// NewModel builds the timer model.
func NewModel(backend Backend, opts ...Option) *Model {
	m := &Model{
		backend:        backend,
		now:            time.Now,
		pollInterval:   DefaultPollInterval,
		requestTimeout: DefaultRequestTimeout,
		keys:           keys,
		help:           help.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache != nil {
		if snap, ok, err := m.cache.Load(); err != nil {
			m.setError("cache: " + err.Error())
		} else if ok {
			m.seed(snap)
		}
	}
	return m
}

func (m *Model) seed(snap Snapshot) {
	m.choices = flatten(snap.Assignments)
	m.fromCache = true
	m.lastSync = snap.SavedAt
	if snap.Active != nil {
		entry := *snap.Active
		m.active = &entry
		m.syncedAt = m.now()
		m.baseElapsed = max(0, m.syncedAt.Sub(entry.StartedAt))
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.schedulePoll(), m.fetch())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) schedulePoll() tea.Cmd {
	return tea.Tick(m.pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		return m, tick()

	case pollMsg:
		if m.pending {
			return m, m.schedulePoll()
		}
		return m, tea.Batch(m.fetch(), m.schedulePoll())

	case snapshotMsg:
		m.applySnapshot(msg)
		return m, nil

	case mutationMsg:
		return m, m.applyMutation(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Refresh):
		if !m.pending {
			return m, m.fetch()
		}
	case key.Matches(msg, m.keys.Start):
		return m, m.start()
	case key.Matches(msg, m.keys.Stop):
		return m, m.stop()
	}
	return m, nil
}

func (m *Model) start() tea.Cmd {
	if m.pending {
		return nil
	}
	if len(m.choices) == 0 {
		m.setError("no assigned tasks to start")
		return nil
	}
	selected := m.choices[m.cursor]
	m.pending = true
	m.gen++
	m.setStatus("starting " + selected.taskName + "...")

	gen, backend, timeout := m.gen, m.backend, m.requestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		entry, err := backend.Start(ctx, selected.projectID, selected.taskID)
		return mutationMsg{gen: gen, action: "start", entry: entry, err: err}
	}
}

func (m *Model) stop() tea.Cmd {
	if m.pending {
		return nil
	}
	m.pending = true
	m.gen++
	m.setStatus("stopping...")

	gen, backend, timeout := m.gen, m.backend, m.requestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		entry, err := backend.Stop(ctx)
		return mutationMsg{gen: gen, action: "stop", entry: entry, err: err}
	}
}

// fetch re-reads the active entry, assignments and today's entries in parallel.
func (m *Model) fetch() tea.Cmd {
	gen, backend, timeout := m.gen, m.backend, m.requestTimeout
	from := startOfDay(m.now())
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		out := snapshotMsg{gen: gen}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			out.active, err = backend.Active(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			out.assignments, err = backend.Assignments(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			out.entries, err = backend.Entries(gctx, from, entriesLimit)
			return err
		})
		out.err = g.Wait()
		return out
	}
}

func (m *Model) applySnapshot(msg snapshotMsg) {
	if msg.err != nil {
		m.setError(describe("refresh", msg.err))
		return
	}

	added := m.diffAssignments(msg.assignments)
	m.setChoices(flatten(msg.assignments))
	m.lastSync = m.now()
	m.fromCache = false
	m.loaded = true

	// A start or stop was issued or applied after this poll went out.
	if msg.gen != m.gen || m.pending {
		return
	}
	m.syncActive(msg.active.Entry)
	m.todayClosed = closedTotal(msg.entries)
	if added > 0 {
		m.setStatus(fmt.Sprintf("%d new task(s) assigned", added))
	} else if m.statusErr {
		m.clearStatus()
	}
	m.save(msg.active.ServerTime, msg.assignments)
}

func (m *Model) applyMutation(msg mutationMsg) tea.Cmd {
	if msg.gen != m.gen {
		return nil
	}
	m.pending = false
	m.gen++
	if msg.err != nil {
		m.setError(describe(msg.action, msg.err))
		return m.fetch()
	}

	switch msg.action {
	case "start":
		entry := msg.entry
		m.syncActive(&entry)
		m.setStatus("timer started")
	case "stop":
		m.syncActive(nil)
		if msg.entry.DurationSeconds != nil {
			m.todayClosed += time.Duration(*msg.entry.DurationSeconds) * time.Second
		}
		m.setStatus(fmt.Sprintf("timer stopped after %s", formatDuration(time.Duration(msg.entry.ElapsedSeconds)*time.Second)))
	}
	m.save(m.now(), nil)
	return m.fetch()
}

// syncActive replaces the displayed entry with the server's view of it.
func (m *Model) syncActive(entry *api.TimeEntryView) {
	m.syncedAt = m.now()
	if entry == nil || !entry.Active {
		m.active = nil
		m.baseElapsed = 0
		return
	}
	m.active = entry
	m.baseElapsed = time.Duration(entry.ElapsedSeconds) * time.Second
	if idx := m.indexOf(entry.TaskID); idx >= 0 {
		m.cursor = idx
	}
}

// Elapsed is the running entry's elapsed time as displayed now.
func (m *Model) Elapsed() time.Duration {
	if m.active == nil {
		return 0
	}
	return m.baseElapsed + max(0, m.now().Sub(m.syncedAt))
}

func (m *Model) diffAssignments(assignments []api.AssignmentView) int {
	if !m.loaded {
		return 0
	}
	known := make(map[string]struct{}, len(m.choices))
	for _, c := range m.choices {
		known[c.taskID] = struct{}{}
	}
	added := 0
	for _, a := range assignments {
		for _, t := range a.Tasks {
			if _, ok := known[t.ID]; !ok {
				added++
			}
		}
	}
	return added
}

func (m *Model) setChoices(choices []choice) {
	var selected string
	if m.cursor < len(m.choices) {
		selected = m.choices[m.cursor].taskID
	}
	m.choices = choices
	m.cursor = 0
	if idx := m.indexOf(selected); idx >= 0 {
		m.cursor = idx
	}
}

func (m *Model) indexOf(taskID string) int {
	for i, c := range m.choices {
		if c.taskID == taskID {
			return i
		}
	}
	return -1
}

func (m *Model) save(serverTime time.Time, assignments []api.AssignmentView) {
	if m.cache == nil {
		return
	}
	if assignments == nil {
		assignments = unflatten(m.choices)
	}
	err := m.cache.Save(Snapshot{
		Active:      m.active,
		ServerTime:  serverTime,
		Assignments: assignments,
		SavedAt:     m.now(),
	})
	if err != nil {
		m.setError("cache: " + err.Error())
	}
}

func (m *Model) setStatus(s string) { m.status, m.statusErr = s, false }
func (m *Model) setError(s string)  { m.status, m.statusErr = s, true }
func (m *Model) clearStatus()       { m.status, m.statusErr = "", false }

// describe turns an API failure into the reason shown to the user.
func describe(action string, err error) string {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case "already_active":
			return "a timer is already running"
		case "no_active_entry":
			return "no active timer"
		}
		if apiErr.Detail != "" {
			return fmt.Sprintf("%s failed: %s", action, apiErr.Detail)
		}
		return fmt.Sprintf("%s failed: %s", action, apiErr.Error())
	}
	return "network error: " + err.Error()
}

func flatten(assignments []api.AssignmentView) []choice {
	var out []choice
	for _, a := range assignments {
		for _, t := range a.Tasks {
			out = append(out, choice{
				projectID:   a.Project.ID,
				projectName: a.Project.Name,
				taskID:      t.ID,
				taskName:    t.Name,
			})
		}
	}
	return out
}

func unflatten(choices []choice) []api.AssignmentView {
	var out []api.AssignmentView
	index := map[string]int{}
	for _, c := range choices {
		i, ok := index[c.projectID]
		if !ok {
			i = len(out)
			index[c.projectID] = i
			out = append(out, api.AssignmentView{Project: api.ProjectView{ID: c.projectID, Name: c.projectName}})
		}
		out[i].Tasks = append(out[i].Tasks, api.TaskView{ID: c.taskID, ProjectID: c.projectID, Name: c.taskName})
	}
	return out
}

func closedTotal(entries []api.TimeEntryView) time.Duration {
	var total time.Duration
	for _, e := range entries {
		if e.DurationSeconds != nil {
			total += time.Duration(*e.DurationSeconds) * time.Second
		}
	}
	return total
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, mins, secs)
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("solidtracker"))
	b.WriteString("\n\n")

	var timer string
	if m.active != nil {
		label := m.active.TaskID
		if idx := m.indexOf(m.active.TaskID); idx >= 0 {
			label = m.choices[idx].projectName + " / " + m.choices[idx].taskName
		}
		timer = timerRunningStyle.Render("● "+formatDuration(m.Elapsed())) + "  " + label
	} else {
		timer = timerIdleStyle.Render("○ " + formatDuration(0) + "  idle")
	}
	today := projectStyle.Render("today " + formatDuration(m.todayClosed+m.Elapsed()))
	b.WriteString(panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, timer, today)))
	b.WriteString("\n\n")

	if len(m.choices) == 0 {
		b.WriteString(subtleStyle.Render("no assigned tasks"))
		b.WriteString("\n")
	}
	for i, c := range m.choices {
		cursor := "  "
		line := c.taskName + " " + projectStyle.Render(c.projectName)
		if i == m.cursor {
			cursor = "> "
			line = selectedStyle.Render(c.taskName) + " " + projectStyle.Render(c.projectName)
		}
		if m.active != nil && m.active.TaskID == c.taskID {
			line += " " + runningMarkStyle.Render("running")
		}
		b.WriteString(cursor + line + "\n")
	}

	b.WriteString("\n")
	switch {
	case m.status != "" && m.statusErr:
		b.WriteString(errorStyle.Render(m.status))
	case m.status != "":
		b.WriteString(statusStyle.Render(m.status))
	case m.fromCache:
		b.WriteString(subtleStyle.Render("showing cached state, waiting for server"))
	case !m.lastSync.IsZero():
		b.WriteString(subtleStyle.Render("synced " + m.lastSync.Format("15:04:05")))
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

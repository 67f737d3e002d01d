package watch

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/example/presence-service/internal/application"
)

// Windows lists the report windows in the order the w key cycles through them.
var Windows = []application.Window{
	application.WindowHour,
	application.WindowDay,
	application.Window3Days,
	application.WindowWeek,
	application.WindowMonth,
	application.Window6Months,
	application.WindowYear,
}

const retryDelay = 2 * time.Second

// Waiter is the long-poll call the model drives.
type Waiter interface {
	Wait(ctx context.Context, window, etag string, timeout time.Duration) (application.ActivityReport, error)
}

// Options configure a Model.
type Options struct {
	Window  string
	Timeout time.Duration
}

type (
	reportMsg struct {
		generation int
		report     application.ActivityReport
	}
	waitErrorMsg struct {
		generation int
		err        error
	}
	retryMsg struct{ generation int }
)

// Model is the bubbletea model of the dashboard. Every response carries the
// generation it was requested for so answers for a previous window are
// dropped.
type Model struct {
	waiter  Waiter
	window  application.Window
	timeout time.Duration

	generation int
	report     application.ActivityReport
	hasReport  bool
	updates    int
	lastErr    error
	updatedAt  time.Time
	now        func() time.Time

	spinner spinner.Model
	recent  table.Model
}

// NewModel builds a dashboard model. Unknown windows fall back to the
// default report window.
func NewModel(waiter Waiter, opts Options) Model {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Duration(application.DefaultWaitTimeoutMs) * time.Millisecond
	}

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = waitingStyle

	recent := table.New(
		table.WithColumns([]table.Column{
			{Title: "User", Width: 24},
			{Title: "Role", Width: 10},
			{Title: "Online", Width: 6},
			{Title: "Last login", Width: 20},
		}),
		table.WithHeight(12),
	)

	return Model{
		waiter:  waiter,
		window:  application.ParseWindow(opts.Window),
		timeout: timeout,
		now:     time.Now,
		spinner: spin,
		recent:  recent,
	}
}

// Init starts the spinner and the first wait.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitCmd())
}

// Update handles key presses and wait results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "w":
			m.window = nextWindow(m.window)
			m.generation++
			m.hasReport = false
			m.lastErr = nil
			m.recent.SetRows(nil)
			return m, m.waitCmd()
		case "r":
			m.generation++
			m.hasReport = false
			return m, m.waitCmd()
		}
		var cmd tea.Cmd
		m.recent, cmd = m.recent.Update(msg)
		return m, cmd

	case reportMsg:
		if msg.generation != m.generation {
			return m, nil
		}
		if !m.hasReport || msg.report.ETag != m.report.ETag {
			m.updates++
			m.updatedAt = m.now()
		}
		m.report = msg.report
		m.hasReport = true
		m.lastErr = nil
		m.recent.SetRows(recentRows(msg.report.Users))
		return m, m.waitCmd()

	case waitErrorMsg:
		if msg.generation != m.generation {
			return m, nil
		}
		m.lastErr = msg.err
		generation := m.generation
		return m, tea.Tick(retryDelay, func(time.Time) tea.Msg { return retryMsg{generation: generation} })

	case retryMsg:
		if msg.generation != m.generation {
			return m, nil
		}
		return m, m.waitCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) waitCmd() tea.Cmd {
	generation := m.generation
	window := string(m.window)
	etag := ""
	if m.hasReport {
		etag = m.report.ETag
	}
	timeout := m.timeout
	waiter := m.waiter
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
		defer cancel()
		report, err := waiter.Wait(ctx, window, etag, timeout)
		if err != nil {
			return waitErrorMsg{generation: generation, err: err}
		}
		return reportMsg{generation: generation, report: report}
	}
}

func nextWindow(current application.Window) application.Window {
	for i, w := range Windows {
		if w == current {
			return Windows[(i+1)%len(Windows)]
		}
	}
	return application.DefaultWindow
}

func recentRows(users []application.ActivityUser) []table.Row {
	rows := make([]table.Row, 0, len(users))
	for _, u := range users {
		online := ""
		if u.IsOnline {
			online = "●"
		}
		rows = append(rows, table.Row{displayName(u), u.Role, online, formatLogin(u.LastLoginAt)})
	}
	return rows
}

func displayName(u application.ActivityUser) string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Email != "":
		return u.Email
	default:
		return u.ID
	}
}

func formatLogin(value *string) string {
	if value == nil {
		return "-"
	}
	t, err := time.Parse(time.RFC3339Nano, *value)
	if err != nil {
		return *value
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

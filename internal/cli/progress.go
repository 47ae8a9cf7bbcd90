package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// taskControl is the part of the engine the view drives.
type taskControl interface {
	Pause(id string) error
	Resume(id string) error
	Cancel(id string) error
}

// eventMsg carries one engine event into the view.
type eventMsg task.Event

// row is the view's copy of one task.
type row struct {
	id       string
	kind     task.Kind
	state    task.State
	progress int
	err      *task.Failure
}

// progressModel is the bubbletea model for live task progress.
type progressModel struct {
	control  taskControl
	events   <-chan task.Event
	stop     <-chan struct{}
	rows     []*row
	selected int
	progress progress.Model
	theme    Theme
	notice   string

	done        bool
	detached    bool
	interrupted bool
}

// newProgressModel creates a view over ids. events delivers engine events for
// those tasks until stop is closed.
func newProgressModel(control taskControl, events <-chan task.Event, stop <-chan struct{}, ids []string) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	rows := make([]*row, len(ids))
	for i, id := range ids {
		rows[i] = &row{id: id, state: task.StatePending}
	}

	return progressModel{
		control:  control,
		events:   events,
		stop:     stop,
		rows:     rows,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init starts listening for events.
func (m progressModel) Init() tea.Cmd {
	if m.done {
		return tea.Quit
	}
	return tea.Batch(
		m.waitForEvent(),
		m.progress.Init(),
	)
}

// waitForEvent blocks until the next engine event.
func (m progressModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.events:
			return eventMsg(ev)
		case <-m.stop:
			return nil
		}
	}
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return m.handleKey(msg.String())

	case eventMsg:
		m.apply(task.Event(msg))
		if m.allTerminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, m.waitForEvent()

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) handleKey(key string) (tea.Model, tea.Cmd) {
	m.notice = ""
	switch key {
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.rows)-1 {
			m.selected++
		}
	case "p":
		r := m.rows[m.selected]
		var err error
		if r.state == task.StatePaused {
			err = m.control.Resume(r.id)
		} else {
			err = m.control.Pause(r.id)
		}
		m.notice = noticeFor(err)
	case "c":
		m.notice = noticeFor(m.control.Cancel(m.rows[m.selected].id))
	case "ctrl+c":
		// Cancellation is synchronous; the terminal events end the view.
		m.interrupted = true
		for _, r := range m.rows {
			if !r.state.IsTerminal() {
				_ = m.control.Cancel(r.id)
			}
		}
	case "q":
		m.detached = true
		return m, tea.Quit
	}
	return m, nil
}

func noticeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, task.ErrUnsupportedOperation):
		return "this task cannot be paused"
	case errors.Is(err, task.ErrInvalidState):
		return "not possible in the current state"
	default:
		return err.Error()
	}
}

func (m *progressModel) apply(ev task.Event) {
	for _, r := range m.rows {
		// Replayed history can trail the seeded state; terminal rows are final.
		if r.id != ev.TaskID || r.state.IsTerminal() {
			continue
		}
		r.kind = ev.Kind
		r.state = ev.State
		r.progress = ev.Progress
		r.err = ev.Error
	}
}

// seed copies the current state of every task into the rows. Events from
// before the subscription may already be gone from the history.
func (m *progressModel) seed(e *task.Engine) {
	for _, r := range m.rows {
		t, err := e.Get(r.id)
		if err != nil {
			continue
		}
		r.kind = t.Kind
		r.state = t.State
		r.progress = t.Progress
		r.err = t.Error
	}
	m.done = m.allTerminal()
}

func (m progressModel) allTerminal() bool {
	for _, r := range m.rows {
		if !r.state.IsTerminal() {
			return false
		}
	}
	return true
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done || m.detached {
		return m.finalView()
	}

	var b strings.Builder
	for i, r := range m.rows {
		cursor := "  "
		if i == m.selected && len(m.rows) > 1 {
			cursor = "> "
		}
		status := m.theme.statusStyle().Render(fmt.Sprintf("[%-9s]", r.state))
		switch r.state {
		case task.StateFailed, task.StateCancelled:
			status = m.theme.errorStyle().Render(fmt.Sprintf("[%-9s]", r.state))
		case task.StateCompleted:
			status = m.theme.completedStyle().Render(fmt.Sprintf("[%-9s]", r.state))
		}
		fmt.Fprintf(&b, "%s%s %s %3d%%  %s %s\n", cursor, status,
			m.progress.ViewAs(float64(r.progress)/100), r.progress, r.kind, r.id)
	}

	if m.notice != "" {
		b.WriteString(m.theme.errorStyle().Render(m.notice) + "\n")
	}
	b.WriteString(m.theme.hintStyle().Render("p pause/resume · c cancel · ctrl+c cancel all · q leave running"))
	b.WriteString("\n")
	return b.String()
}

// finalView renders the outcome of every task.
func (m progressModel) finalView() string {
	var b strings.Builder
	if m.detached {
		var live []string
		for _, r := range m.rows {
			if !r.state.IsTerminal() {
				live = append(live, r.id)
			}
		}
		if len(live) > 0 {
			msg := fmt.Sprintf("\nStopped watching; the server keeps working on: %s\n", strings.Join(live, ", "))
			b.WriteString(m.theme.hintStyle().Render(msg))
		}
	}

	for _, r := range m.rows {
		switch r.state {
		case task.StateCompleted:
			b.WriteString(m.theme.completedStyle().Render("✓ "+r.id+" completed") + "\n")
		case task.StateFailed:
			reason := "unknown error"
			if r.err != nil {
				reason = r.err.Error()
			}
			b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("✗ %s failed: %s", r.id, reason)) + "\n")
		case task.StateCancelled:
			b.WriteString(m.theme.errorStyle().Render("⊘ "+r.id+" cancelled") + "\n")
		}
	}
	return b.String()
}

// runProgress runs the interactive view until every task in ids is terminal
// or the user leaves. Log output to stderr is held back while it runs.
func runProgress(e *task.Engine, ids []string) error {
	events := make(chan task.Event, 64)
	stop := make(chan struct{})
	unsubscribe := e.Subscribe(forTasks(ids), func(ev task.Event) {
		select {
		case events <- ev:
		case <-stop:
		}
	}, task.WithReplay())

	model := newProgressModel(e, events, stop, ids)
	model.seed(e)

	if stderrLevel != nil {
		prev := stderrLevel.Level()
		stderrLevel.Set(slog.LevelError + 1)
		defer stderrLevel.Set(prev)
	}

	p := tea.NewProgram(model)
	finalModel, err := p.Run()
	close(stop)
	unsubscribe()

	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok && m.interrupted {
		return errInterrupted
	}
	return nil
}

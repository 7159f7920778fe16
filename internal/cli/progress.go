package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/raphaelgruber/docdash/internal/models"
	"github.com/raphaelgruber/docdash/internal/notify"
	"github.com/raphaelgruber/docdash/internal/upload"
)

const maxNotes = 5

// Theme holds the color scheme for the queue display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle(s models.TransferStatus) lipgloss.Style {
	switch s {
	case models.TransferCompleted:
		return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
	case models.TransferFailed:
		return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(t.Status)
	}
}

func (t Theme) noteStyle(l notify.Level) lipgloss.Style {
	switch l {
	case notify.LevelSuccess:
		return lipgloss.NewStyle().Foreground(t.Success)
	case notify.LevelWarning:
		return lipgloss.NewStyle().Foreground(t.Warning)
	case notify.LevelError:
		return lipgloss.NewStyle().Foreground(t.Error)
	default:
		return lipgloss.NewStyle().Foreground(t.Status)
	}
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// recordsMsg carries the queue after a record changed.
type recordsMsg []models.TransferRecord

// noteMsg carries one notification.
type noteMsg notify.Notification

// settledMsg is sent when every record reached a terminal state.
type settledMsg struct{}

// queueModel is the bubbletea model for the upload queue.
type queueModel struct {
	manager  *upload.Manager
	events   <-chan upload.Event
	notes    <-chan notify.Notification
	keepOpen bool

	records  []models.TransferRecord
	recent   []notify.Notification
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
}

func newQueueModel(m *upload.Manager, events <-chan upload.Event, notes <-chan notify.Notification, keepOpen bool) queueModel {
	return queueModel{
		manager:  m,
		events:   events,
		notes:    notes,
		keepOpen: keepOpen,
		records:  m.Records(),
		progress: progress.New(progress.WithDefaultBlend(), progress.WithWidth(30)),
		theme:    defaultTheme,
	}
}

func (m queueModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.progress.Init(), m.nextEvent(), m.nextNote()}
	if !m.keepOpen {
		cmds = append(cmds, m.waitSettled())
	}
	return tea.Batch(cmds...)
}

func (m queueModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "r":
			for _, r := range m.records {
				if r.Status == models.TransferFailed {
					_ = m.manager.Retry(r.ID)
				}
			}
		case "c":
			m.manager.ClearCompleted()
			m.records = m.manager.Records()
		}

	case recordsMsg:
		m.records = msg
		return m, m.nextEvent()

	case noteMsg:
		m.recent = append(m.recent, notify.Notification(msg))
		if len(m.recent) > maxNotes {
			m.recent = m.recent[len(m.recent)-maxNotes:]
		}
		return m, m.nextNote()

	case settledMsg:
		m.done = true
		m.records = m.manager.Records()
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m queueModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m queueModel) renderContent() string {
	var b strings.Builder

	if len(m.records) == 0 {
		b.WriteString(m.theme.hintStyle().Render("Waiting for files...") + "\n")
	}
	for _, r := range m.records {
		status := m.theme.statusStyle(r.Status).Render(fmt.Sprintf("[%-10s]", r.Status))
		bar := m.progress.ViewAs(float64(r.Progress) / 100)
		fmt.Fprintf(&b, "%s %-28s %s %3d%%", status, truncate(r.File.Name, 28), bar, r.Progress)
		switch r.Status {
		case models.TransferUploading:
			fmt.Fprintf(&b, "  %s of %s  %s  eta %s",
				humanize.IBytes(uint64(r.Loaded)), humanize.IBytes(uint64(r.File.Size)),
				formatSpeed(r.Speed), formatETA(r))
		case models.TransferFailed:
			b.WriteString("  " + m.theme.statusStyle(r.Status).Render(r.Error))
		}
		if r.RetryCount > 0 {
			fmt.Fprintf(&b, "  (retry %d)", r.RetryCount)
		}
		b.WriteString("\n")
	}

	if len(m.recent) > 0 {
		b.WriteString("\n")
		for _, n := range m.recent {
			b.WriteString(m.theme.noteStyle(n.Level).Render("• "+n.Message) + "\n")
		}
	}

	if !m.done {
		hint := "q quit · r retry failed · c clear finished"
		b.WriteString("\n" + m.theme.hintStyle().Render(hint) + "\n")
	}
	return b.String()
}

func (m queueModel) nextEvent() tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-m.events; !ok {
			return nil
		}
		// Drain whatever queued up meanwhile; only the latest state is drawn.
		for len(m.events) > 0 {
			<-m.events
		}
		return recordsMsg(m.manager.Records())
	}
}

func (m queueModel) nextNote() tea.Cmd {
	return func() tea.Msg {
		n, ok := <-m.notes
		if !ok {
			return nil
		}
		return noteMsg(n)
	}
}

func (m queueModel) waitSettled() tea.Cmd {
	return func() tea.Msg {
		if err := m.manager.Wait(context.Background()); err != nil {
			return nil
		}
		return settledMsg{}
	}
}

// runQueueView shows the queue until every upload settles, or until the user
// quits when keepOpen is set. It reports whether the user quit early.
func runQueueView(m *upload.Manager, feed *notify.Feed, keepOpen bool) (bool, error) {
	events, unsubscribe := m.Subscribe(256)
	defer unsubscribe()
	notes, stop := feed.Subscribe(32)
	defer stop()

	p := tea.NewProgram(newQueueModel(m, events, notes, keepOpen))
	finalModel, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("progress UI error: %w", err)
	}
	if qm, ok := finalModel.(queueModel); ok && qm.quitting {
		return true, nil
	}
	return false, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

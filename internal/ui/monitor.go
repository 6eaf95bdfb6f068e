package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pluvion/provision/internal/provision"
)

// maxLogLines is how many recent events the monitor keeps on screen.
const maxLogLines = 10

// EventSource blocks until the next event arrives. An error ends the feed.
type EventSource func() (provision.Event, error)

// EventMsg carries one event from the feed into the model.
type EventMsg struct {
	Event provision.Event
}

// FeedClosedMsg reports that the feed ended.
type FeedClosedMsg struct {
	Err error
}

type monitorKeyMap struct {
	Clear key.Binding
	Quit  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Clear, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Clear, k.Quit}}
}

// MonitorModel shows the live provisioning state of one station.
type MonitorModel struct {
	source   EventSource
	feedURL  string
	progress *Progress
	spinner  spinner.Model
	help     help.Model
	keys     monitorKeyMap
	width    int

	state      string
	portalSSID string
	ssid       string
	log        []provision.Event
	closed     bool
	err        error
}

// NewMonitorModel creates a monitor reading from source. feedURL is shown
// in the header.
func NewMonitorModel(feedURL string, source EventSource) MonitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = StepRunningStyle

	width := GetTerminalWidth()
	return MonitorModel{
		source:   source,
		feedURL:  feedURL,
		progress: NewProgress().SetWidth(width),
		spinner:  s,
		help:     help.New(),
		width:    width,
		keys: monitorKeyMap{
			Clear: key.NewBinding(
				key.WithKeys("c"),
				key.WithHelp("c", "clear log"),
			),
			Quit: key.NewBinding(
				key.WithKeys("q", "ctrl+c", "esc"),
				key.WithHelp("q", "quit"),
			),
		},
	}
}

func (m MonitorModel) waitForEvent() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		e, err := source()
		if err != nil {
			return FeedClosedMsg{Err: err}
		}
		return EventMsg{Event: e}
	}
}

// Init implements tea.Model
func (m MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

// Update implements tea.Model
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			m.log = nil
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = ClampWidth(msg.Width)
		m.progress.SetWidth(m.width)
		m.help.Width = m.width
		return m, nil

	case EventMsg:
		m.apply(msg.Event)
		return m, m.waitForEvent()

	case FeedClosedMsg:
		m.closed = true
		m.err = msg.Err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *MonitorModel) apply(e provision.Event) {
	switch e.Type {
	case provision.EventStateChanged:
		m.state = e.State
		m.progress.Apply(e.State)
	case provision.EventAPModeEntered:
		m.portalSSID = e.PortalSSID
	case provision.EventSaveConfig:
		m.ssid = e.SSID
	}

	m.log = append(m.log, e)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// State returns the last controller state seen on the feed.
func (m MonitorModel) State() string { return m.state }

// Closed reports whether the feed has ended.
func (m MonitorModel) Closed() bool { return m.closed }

// settled reports whether the station stopped changing on its own.
func (m MonitorModel) settled() bool {
	switch m.state {
	case "", "connected", "idle", "portal-timed-out", "break-after-config":
		return true
	}
	return false
}

// View implements tea.Model
func (m MonitorModel) View() string {
	var b strings.Builder

	b.WriteString(RenderHeader("Pluvi.On Monitor", m.feedURL, nil, m.width))
	b.WriteString("\n\n")
	b.WriteString(m.progress.Render())
	b.WriteString("\n\n")

	state := m.state
	if state == "" {
		state = "waiting for events"
	}
	marker := "  "
	if !m.settled() && !m.closed {
		marker = m.spinner.View() + " "
	}
	b.WriteString(ResultKeyStyle.Render("  State:") + " " + marker + ResultValueStyle.Render(state) + "\n")
	if m.portalSSID != "" {
		b.WriteString(ResultKeyStyle.Render("  Portal:") + " " + ResultValueStyle.Render(m.portalSSID) + "\n")
	}
	if m.ssid != "" {
		b.WriteString(ResultKeyStyle.Render("  Network:") + " " + ResultValueStyle.Render(m.ssid) + "\n")
	}

	if len(m.log) > 0 {
		b.WriteString("\n")
		b.WriteString(TableHeaderStyle.Render("  Recent events"))
		b.WriteString("\n")
		for _, e := range m.log {
			b.WriteString("  ")
			b.WriteString(EventTimeStyle.Render(e.Timestamp.Local().Format("15:04:05")))
			b.WriteString("  ")
			b.WriteString(DescribeEvent(e))
			b.WriteString("\n")
		}
	}

	if m.closed {
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(ErrorMessageStyle.Render("  Feed closed: " + m.err.Error()))
		} else {
			b.WriteString(ErrorMessageStyle.Render("  Feed closed"))
		}
		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

// DescribeEvent renders an event as one log line.
func DescribeEvent(e provision.Event) string {
	switch e.Type {
	case provision.EventStateChanged:
		return fmt.Sprintf("%s → %s", e.Previous, e.State)
	case provision.EventAPModeEntered:
		return "access point " + e.PortalSSID + " up"
	case provision.EventCredentialsSubmitted:
		return "credentials submitted for " + e.SSID
	case provision.EventPortalTimeout:
		return "portal timed out"
	case provision.EventSaveConfig:
		if e.Connected {
			return "saved, connected to " + e.SSID
		}
		return "saved, could not connect to " + e.SSID
	default:
		return string(e.Type)
	}
}

// RunMonitor runs the monitor full screen until the user quits.
func RunMonitor(feedURL string, source EventSource) error {
	p := tea.NewProgram(NewMonitorModel(feedURL, source), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

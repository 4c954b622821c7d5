// Package attachtui renders a live view of one supervised agent: its
// output stream in a viewport, with a line input forwarded to the agent's
// stdin.
package attachtui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// OutputMsg is one line from the agent's stdout or stderr.
type OutputMsg struct {
	Stream string
	Line   string
}

// LogMsg is an agent-log progress note.
type LogMsg struct {
	Message string
}

// ExitMsg signals the agent exited.
type ExitMsg struct {
	Status   string
	ExitCode *int
}

// CrashedMsg signals the agent's process died without an observed exit.
type CrashedMsg struct{}

// DisconnectedMsg signals the websocket dropped.
type DisconnectedMsg struct {
	Err error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	stderrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	logStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	exitStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	inputStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true)
)

// Model is the attach viewer state.
type Model struct {
	workspaceID string
	send        func(string) error

	viewport viewport.Model
	input    textinput.Model
	lines    []string
	ready    bool
	done     bool
	footer   string
}

// New creates a viewer for one workspace. send forwards a line of input
// to the agent.
func New(workspaceID string, send func(string) error) Model {
	input := textinput.New()
	input.Placeholder = "type to send to the agent, enter to submit"
	input.Focus()

	return Model{
		workspaceID: workspaceID,
		send:        send,
		input:       input,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 1
		footerHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.refreshContent()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.done {
				return m, tea.Quit
			}
			text := strings.TrimSpace(m.input.Value())
			if text != "" && m.send != nil {
				if err := m.send(text); err != nil {
					m.appendLine(failStyle.Render("send failed: " + err.Error()))
				} else {
					m.appendLine("> " + text)
				}
			}
			m.input.SetValue("")
			return m, nil
		}

	case OutputMsg:
		line := ansi.Strip(msg.Line)
		if msg.Stream == "stderr" {
			line = stderrStyle.Render(line)
		}
		m.appendLine(line)
		return m, nil

	case LogMsg:
		m.appendLine(logStyle.Render("[log] " + msg.Message))
		return m, nil

	case ExitMsg:
		m.done = true
		code := "?"
		if msg.ExitCode != nil {
			code = fmt.Sprintf("%d", *msg.ExitCode)
		}
		style := exitStyle
		if msg.Status != "completed" {
			style = failStyle
		}
		m.footer = style.Render(fmt.Sprintf("agent %s (exit %s) — enter to close", msg.Status, code))
		return m, nil

	case CrashedMsg:
		m.done = true
		m.footer = failStyle.Render("agent crashed — enter to close")
		return m, nil

	case DisconnectedMsg:
		m.done = true
		m.footer = failStyle.Render("disconnected — enter to close")
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refreshContent()
}

func (m *Model) refreshContent() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "connecting..."
	}

	header := titleStyle.Render("workspace " + m.workspaceID)
	footer := m.footer
	if footer == "" {
		footer = m.input.View()
	}
	return header + "\n" + m.viewport.View() + "\n" + inputStyle.Render(footer)
}

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/fdtab/fdtable"
	"github.com/wippyai/fdtab/vfs"
)

const previewSize = 4096

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	dirStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	previewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#666666")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func browseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse [path]",
		Short: "Browse the mounted filesystem interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("browse needs a terminal on stdout")
			}
			start := "/"
			if len(args) == 1 {
				start = vfs.Clean(args[0])
			}
			p := tea.NewProgram(newBrowseModel(newTable(), start), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
}

type browseState int

const (
	stateList browseState = iota
	stateGoto
	statePreview
)

type browseModel struct {
	err      error
	tab      *fdtable.Table
	dir      string
	entries  []fdtable.DirEntry
	preview  string
	selected int
	input    textinput.Model
	state    browseState
}

type listedMsg struct {
	err     error
	dir     string
	entries []fdtable.DirEntry
}

type previewMsg struct {
	err  error
	text string
}

func newBrowseModel(tab *fdtable.Table, dir string) *browseModel {
	ti := textinput.New()
	ti.Prompt = "goto: "
	ti.Placeholder = "/path"
	ti.Width = 40
	return &browseModel{tab: tab, dir: dir, input: ti}
}

func (m *browseModel) Init() tea.Cmd {
	return m.list(m.dir)
}

func (m *browseModel) list(dir string) tea.Cmd {
	return func() tea.Msg {
		entries, err := m.tab.ReadDir(dir)
		return listedMsg{err: err, dir: dir, entries: entries}
	}
}

func (m *browseModel) open(p string) tea.Cmd {
	return func() tea.Msg {
		fd, err := m.tab.Open(p, 0, fdtable.ModeRead)
		if err != nil {
			return previewMsg{err: err}
		}
		defer m.tab.Close(fd)
		buf := make([]byte, previewSize)
		n, err := m.tab.Read(fd, buf)
		if err != nil {
			return previewMsg{err: err}
		}
		st, err := m.tab.Stat(fd)
		if err != nil {
			return previewMsg{err: err}
		}
		text := string(buf[:n])
		if st.Size > int64(n) {
			text += fmt.Sprintf("\n... %d more bytes", st.Size-int64(n))
		}
		return previewMsg{text: text}
	}
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateGoto {
			switch msg.String() {
			case "enter":
				m.state = stateList
				target := vfs.Clean(m.input.Value())
				m.input.Reset()
				m.input.Blur()
				return m, m.list(target)
			case "esc":
				m.state = stateList
				m.input.Reset()
				m.input.Blur()
				return m, nil
			}
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.state == stateList && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateList && m.selected < len(m.entries)-1 {
				m.selected++
			}

		case "enter", "l":
			switch m.state {
			case stateList:
				if len(m.entries) == 0 {
					return m, nil
				}
				e := m.entries[m.selected]
				p := vfs.Join(m.dir, e.Name)
				if e.Type == vfs.TypeDir {
					return m, m.list(p)
				}
				return m, m.open(p)
			case statePreview:
				m.state = stateList
				m.preview = ""
				m.err = nil
			}

		case "backspace", "h":
			if m.state == stateList && m.dir != "/" {
				parent, _ := vfs.Split(m.dir)
				return m, m.list(parent)
			}

		case "/":
			if m.state == stateList {
				m.state = stateGoto
				m.input.Focus()
				return m, textinput.Blink
			}

		case "esc":
			if m.state == statePreview {
				m.state = stateList
				m.preview = ""
				m.err = nil
			}
		}

	case listedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.dir = msg.dir
		m.entries = msg.entries
		m.selected = 0

	case previewMsg:
		m.preview = msg.text
		m.err = msg.err
		m.state = statePreview
	}
	return m, nil
}

func (m *browseModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("fdtab"))
	b.WriteString(" ")
	b.WriteString(m.dir)
	b.WriteString("\n\n")

	switch m.state {
	case stateList, stateGoto:
		if len(m.entries) == 0 {
			b.WriteString(helpStyle.Render("(empty)"))
			b.WriteString("\n")
		}
		for i, e := range m.entries {
			line := e.Name
			style := fileStyle
			if e.Type == vfs.TypeDir {
				line += "/"
				style = dirStyle
			}
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + style.Render(line))
			}
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if m.state == stateGoto {
			b.WriteString(m.input.View())
			b.WriteString("\n")
			b.WriteString(helpStyle.Render("enter go • esc cancel"))
		} else {
			b.WriteString(helpStyle.Render("↑/↓ select • enter open • backspace up • / goto • q quit"))
		}

	case statePreview:
		e := m.entries[m.selected]
		b.WriteString(fileStyle.Render(vfs.Join(m.dir, e.Name)))
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(previewStyle.Render(m.preview))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter back • q quit"))
	}

	return b.String()
}

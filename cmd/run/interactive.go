package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AlanFoster/wasmtime/capfs"
	caperr "github.com/AlanFoster/wasmtime/errors"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	grantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	dirStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	denyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const historyLimit = 200

// shellModel is an interactive shell against a live capability table. Every
// command goes through the same mediator a guest would use, so it doubles
// as a quick way to see what a given grant set actually exposes.
type shellModel struct {
	fsys    *capfs.FS
	grants  []capfs.Grant
	input   textinput.Model
	history []string
}

func newShellModel(fsys *capfs.FS, grants []capfs.Grant) *shellModel {
	ti := textinput.New()
	ti.Prompt = "sandbox> "
	ti.Width = 60
	ti.Focus()

	return &shellModel{
		fsys:   fsys,
		grants: grants,
		input:  ti,
	}
}

func (m *shellModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			if line == "quit" || line == "exit" {
				return m, tea.Quit
			}
			m.append("sandbox> " + line)
			m.run(line)
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *shellModel) append(lines ...string) {
	m.history = append(m.history, lines...)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

func (m *shellModel) fail(err error) {
	if caperr.IsDenial(err) {
		m.append(denyStyle.Render(err.Error()))
		return
	}
	m.append(errorStyle.Render(err.Error()))
}

func (m *shellModel) run(line string) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		m.append(
			"ls [path]            list a directory",
			"cat <path>           print a file",
			"write <path> <text>  write text to a file",
			"stat <path>          show file metadata",
			"mkdir <path>         create a directory",
			"rm <path>            remove a file or empty directory",
			"mv <old> <new>       rename within one grant",
			"ln <target> <path>   create a symlink",
			"readlink <path>      read a symlink target",
			"grants               show the capability table",
			"quit                 leave the shell",
		)

	case "grants":
		for _, g := range m.grants {
			m.append(grantStyle.Render(g.GuestName) + "  ->  " + g.HostPath)
		}

	case "ls":
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		entries, err := m.fsys.ReadDir(path)
		if err != nil {
			m.fail(err)
			return
		}
		if len(entries) == 0 {
			m.append(helpStyle.Render("(empty)"))
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				m.append(dirStyle.Render(e.Name() + "/"))
			} else {
				m.append(e.Name())
			}
		}

	case "cat":
		if len(args) != 1 {
			m.append(helpStyle.Render("usage: cat <path>"))
			return
		}
		data, err := m.fsys.ReadFile(args[0])
		if err != nil {
			m.fail(err)
			return
		}
		m.append(strings.Split(strings.TrimRight(string(data), "\n"), "\n")...)

	case "write":
		if len(args) < 2 {
			m.append(helpStyle.Render("usage: write <path> <text>"))
			return
		}
		if err := m.fsys.WriteFile(args[0], []byte(strings.Join(args[1:], " ")+"\n")); err != nil {
			m.fail(err)
			return
		}
		m.append("wrote " + args[0])

	case "stat":
		if len(args) != 1 {
			m.append(helpStyle.Render("usage: stat <path>"))
			return
		}
		fi, err := m.fsys.Stat(args[0])
		if err != nil {
			m.fail(err)
			return
		}
		m.append(fmt.Sprintf("%s  %s  %d bytes  %s",
			fi.Name(), fi.Mode(), fi.Size(), fi.ModTime().Format("2006-01-02 15:04:05")))

	case "mkdir":
		if len(args) != 1 {
			m.append(helpStyle.Render("usage: mkdir <path>"))
			return
		}
		if err := m.fsys.Mkdir(args[0]); err != nil {
			m.fail(err)
			return
		}
		m.append("created " + args[0])

	case "rm":
		if len(args) != 1 {
			m.append(helpStyle.Render("usage: rm <path>"))
			return
		}
		if err := m.fsys.Remove(args[0]); err != nil {
			m.fail(err)
			return
		}
		m.append("removed " + args[0])

	case "mv":
		if len(args) != 2 {
			m.append(helpStyle.Render("usage: mv <old> <new>"))
			return
		}
		if err := m.fsys.Rename(args[0], args[1]); err != nil {
			m.fail(err)
			return
		}
		m.append("renamed " + args[0] + " -> " + args[1])

	case "ln":
		if len(args) != 2 {
			m.append(helpStyle.Render("usage: ln <target> <path>"))
			return
		}
		if err := m.fsys.Symlink(args[0], args[1]); err != nil {
			m.fail(err)
			return
		}
		m.append("linked " + args[1] + " -> " + args[0])

	case "readlink":
		if len(args) != 1 {
			m.append(helpStyle.Render("usage: readlink <path>"))
			return
		}
		target, err := m.fsys.Readlink(args[0])
		if err != nil {
			m.fail(err)
			return
		}
		m.append(target)

	default:
		m.append(helpStyle.Render("unknown command, try help"))
	}
}

func (m *shellModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Sandbox Shell"))
	b.WriteString(" ")
	b.WriteString(helpStyle.Render(fmt.Sprintf("%d grant(s) • help for commands • ctrl+c to quit", len(m.grants))))
	b.WriteString("\n\n")

	for _, line := range m.history {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")

	return b.String()
}

func runInteractive(grants []capfs.Grant) error {
	if len(grants) == 0 {
		grants = []capfs.Grant{{GuestName: ".", HostPath: "."}}
	}

	table, err := capfs.NewTable(grants)
	if err != nil {
		return err
	}
	defer table.Close()

	p := tea.NewProgram(newShellModel(capfs.NewFS(table), grants), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

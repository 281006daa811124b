package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/onyxsvc/onyx/internal/core"
	"github.com/onyxsvc/onyx/internal/observer"
)

// tuiMsg wraps every Observer callback as a tea.Msg so a running
// program can fold them into its model on its own goroutine.
type tuiMsg struct {
	kind    string // "outcome", "progress", "summary", "scan", "warn"
	service string
	event   string
	code    int32
	message string
	succeeded, failed, timedOut []string
}

// tuiObserver forwards every Observer event to a bubbletea program as a
// message, letting the TUI own all rendering while the scheduler keeps
// calling the same interface it always does.
type tuiObserver struct {
	program *tea.Program
}

func (o tuiObserver) LoadFailed(service, kind, missingName string, err error) {
	o.program.Send(tuiMsg{kind: "warn", service: service, message: fmt.Sprintf("%s %q: %v", kind, missingName, err)})
}

func (o tuiObserver) CycleBroken(anchor, cur, next string, isNeedsCycle bool) {
	o.program.Send(tuiMsg{kind: "warn", service: anchor, message: fmt.Sprintf("cycle: dropped %s -> %s", cur, next)})
}

func (o tuiObserver) ScanProgress(service, event string) {
	o.program.Send(tuiMsg{kind: "scan", service: service, event: event})
}

func (o tuiObserver) Progress(service string, data []byte) {
	o.program.Send(tuiMsg{kind: "progress", service: service, message: string(data)})
}

func (o tuiObserver) Outcome(service, event string, code int32, message string) {
	o.program.Send(tuiMsg{kind: "outcome", service: service, event: event, code: code, message: message})
}

func (o tuiObserver) Summary(succeeded, failed, timedOut []string) {
	o.program.Send(tuiMsg{kind: "summary", succeeded: succeeded, failed: failed, timedOut: timedOut})
}

var _ observer.Observer = tuiObserver{}

type progressModel struct {
	order  []string
	status map[string]string
	log    []string
	done   bool
	err    error

	spin spinner.Model

	ok   lipgloss.Style
	fail lipgloss.Style
	warn lipgloss.Style
	dim  lipgloss.Style
}

func newProgressModel() progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return progressModel{
		status: make(map[string]string),
		spin:   s,
		ok:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		fail:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

func (m progressModel) Init() tea.Cmd { return m.spin.Tick }

type startDoneMsg struct{ err error }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case tuiMsg:
		switch msg.kind {
		case "scan":
			if _, seen := m.status[msg.service]; !seen {
				m.order = append(m.order, msg.service)
			}
			m.status[msg.service] = msg.event
		case "outcome":
			if _, seen := m.status[msg.service]; !seen {
				m.order = append(m.order, msg.service)
			}
			m.status[msg.service] = msg.event
			if msg.message != "" {
				m.log = append(m.log, fmt.Sprintf("%s: %s", msg.service, msg.message))
			}
		case "warn":
			m.log = append(m.log, fmt.Sprintf("warn %s: %s", msg.service, msg.message))
		case "progress":
			if line := strings.TrimRight(msg.message, "\n"); line != "" {
				m.log = append(m.log, fmt.Sprintf("%s> %s", msg.service, line))
			}
		case "summary":
			m.done = true
			return m, tea.Quit
		}
		return m, nil
	case startDoneMsg:
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) styleFor(event string) lipgloss.Style {
	switch event {
	case "started", "stopped":
		return m.ok
	case "starting_failed", "start_failed", "stopping_failed", "stop_failed", "error":
		return m.fail
	default:
		return m.dim
	}
}

func (m progressModel) View() string {
	names := append([]string(nil), m.order...)
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		event := m.status[name]
		marker := m.styleFor(event).Render(event)
		if !m.done && !isFailureEvent(event) && event != "started" && event != "stopped" {
			marker = m.spin.View() + " " + marker
		}
		fmt.Fprintf(&b, "%-28s %s\n", name, marker)
	}
	if len(m.log) > 0 {
		b.WriteString(m.dim.Render(strings.Join(m.log, "\n")))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(m.fail.Render(m.err.Error()))
		b.WriteString("\n")
	}
	if !m.done {
		b.WriteString(m.dim.Render("(press q to stop watching)\n"))
	}
	return b.String()
}

// runStartWatch runs Start with a bubbletea-driven live progress view in
// place of the plain line Observer, replacing spec.md §4.5's raw ANSI
// overlay redraw discipline with a proper TUI event loop. The scheduler's
// redraw-sequencing invariant is unaffected; only how the result is
// rendered changes.
func runStartWatch(cmd *cobra.Command, args []string, flags core.Flags) error {
	program := tea.NewProgram(newProgressModel())
	co, err := newCoreWithObserver(cmd, tuiObserver{program: program})
	if err != nil {
		return err
	}

	go func() {
		err := co.Start(context.Background(), args, flags)
		program.Send(startDoneMsg{err: err})
	}()

	final, err := program.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(progressModel); ok {
		return fm.err
	}
	return nil
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// lineObserver renders the core's Observer callbacks as single, colored,
// prefixed lines to an output stream, per spec.md §7. It never buffers
// output across calls; each event is written as it arrives.
type lineObserver struct {
	out    io.Writer
	errOut io.Writer

	ok   lipgloss.Style
	fail lipgloss.Style
	warn lipgloss.Style
	dim  lipgloss.Style
}

// newLineObserver builds a lineObserver writing to out/errOut. Colors are
// disabled automatically when out is not a terminal, matching the
// teacher's preference for plain output under redirection.
func newLineObserver(out, errOut *os.File) *lineObserver {
	color := term.IsTerminal(int(out.Fd()))
	o := &lineObserver{out: out, errOut: errOut}
	if color {
		o.ok = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
		o.fail = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
		o.warn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
		o.dim = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	} else {
		o.ok, o.fail, o.warn, o.dim = lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle()
	}
	return o
}

func (o *lineObserver) LoadFailed(service, kind, missingName string, err error) {
	fmt.Fprintf(o.errOut, "%s %s: %s %q: %v\n", o.warn.Render("warn"), service, kind, missingName, err)
}

func (o *lineObserver) CycleBroken(anchor, cur, next string, isNeedsCycle bool) {
	kind := "after"
	if isNeedsCycle {
		kind = "needs"
	}
	fmt.Fprintf(o.errOut, "%s cycle at %s: dropped %s edge %s -> %s\n", o.warn.Render("warn"), anchor, kind, cur, next)
}

func (o *lineObserver) ScanProgress(service, event string) {
	fmt.Fprintf(o.out, "%s %s\n", o.dim.Render(event), service)
}

func (o *lineObserver) Progress(service string, data []byte) {
	o.out.Write(data)
}

// eventStyle picks the style for one of status.Event's String() values.
func (o *lineObserver) eventStyle(event string) lipgloss.Style {
	switch event {
	case "started", "stopped":
		return o.ok
	case "starting_failed", "start_failed", "stopping_failed", "stop_failed", "error":
		return o.fail
	default:
		return o.dim
	}
}

func (o *lineObserver) Outcome(service, event string, code int32, message string) {
	style := o.eventStyle(event)
	line := fmt.Sprintf("%s %s", style.Render(event), service)
	if code != 0 {
		line += fmt.Sprintf(" (exit %d)", code)
	}
	if message != "" {
		line += ": " + message
	}
	w := o.out
	if isFailureEvent(event) {
		w = o.errOut
	}
	fmt.Fprintln(w, line)
}

func isFailureEvent(event string) bool {
	switch event {
	case "starting_failed", "start_failed", "stopping_failed", "stop_failed", "error":
		return true
	default:
		return false
	}
}

func (o *lineObserver) Summary(succeeded, failed, timedOut []string) {
	fmt.Fprintf(o.out, "%s %d, %s %d, %s %d\n",
		o.ok.Render("succeeded"), len(succeeded),
		o.fail.Render("failed"), len(failed),
		o.warn.Render("timed out"), len(timedOut))
	for _, s := range failed {
		fmt.Fprintf(o.errOut, "  %s %s\n", o.fail.Render("failed"), s)
	}
	for _, s := range timedOut {
		fmt.Fprintf(o.errOut, "  %s %s\n", o.warn.Render("timed out"), s)
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

type statusStyle struct {
	tag   string
	color string
}

var statusStyles = map[statusKind]statusStyle{
	statusInfo:  {tag: "INFO", color: "\x1b[34m"},
	statusOK:    {tag: "OK", color: "\x1b[32m"},
	statusWarn:  {tag: "WARN", color: "\x1b[33m"},
	statusError: {tag: "ERROR", color: "\x1b[31m"},
}

const (
	ansiReset    = "\x1b[0m"
	sectionColor = "\x1b[34m"
	labelWidth   = 22
)

// renderStatusLine formats "  Label:   [TAG] message" for the status views.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style, ok := statusStyles[kind]
	if !ok {
		style = statusStyles[statusInfo]
	}
	line := fmt.Sprintf("  %-*s [%s]", labelWidth, label+":", style.tag)
	if message != "" {
		line += " " + message
	}
	return paint(line, style.color, colorize)
}

func paint(text, color string, colorize bool) string {
	if !colorize || color == "" {
		return text
	}
	return color + text + ansiReset
}

func passFail(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

// warnWhen flags counters that deserve attention, such as stale heartbeats.
func warnWhen(bad bool) statusKind {
	if bad {
		return statusWarn
	}
	return statusOK
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	return []string{
		paint(heading, sectionColor, colorize),
		paint(strings.Repeat("-", len(heading)), sectionColor, colorize),
	}
}

// printSection writes a header, the lines, and a trailing blank line.
func printSection(w io.Writer, title string, colorize bool, lines []string) {
	body := append(renderSectionHeader(title, colorize), lines...)
	fmt.Fprintln(w, strings.Join(body, "\n"))
	fmt.Fprintln(w)
}

// shouldColorize honours NO_COLOR and only colours real terminals.
func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/kalambet/pouch/internal/api"
)

var noColor bool

var (
	colorRed    = color.New(color.FgRed)
	colorGreen  = color.New(color.FgGreen)
	colorYellow = color.New(color.FgYellow)
	colorCyan   = color.New(color.FgCyan)
	colorBold   = color.New(color.Bold)
	colorFaint  = color.New(color.Faint)
)

func colorize(c *color.Color, text string) string {
	if noColor {
		return text
	}
	c.EnableColor()
	return c.Sprint(text)
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// previewLen caps the body excerpt shown in listings.
const previewLen = 72

func preview(body string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(body), "\n")
	if r := []rune(line); len(r) > previewLen {
		return string(r[:previewLen]) + "..."
	}
	return line
}

func printNoteList(w io.Writer, list []api.NoteResponse) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No notes.")
		return
	}
	for _, n := range list {
		title := n.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s  %s  %s\n",
			colorize(colorCyan, fmt.Sprintf("%4d", n.ID)),
			colorize(colorFaint, n.Timestamp),
			colorize(colorBold, title),
		)
		if p := preview(n.Body); p != "" {
			fmt.Fprintf(w, "      %s\n", p)
		}
	}
}

func printNote(w io.Writer, n api.NoteResponse) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorCyan, fmt.Sprintf("#%d", n.ID)), colorize(colorBold, n.Title))
	fmt.Fprintln(w, colorize(colorFaint, n.Timestamp))
	if n.Body != "" {
		fmt.Fprintf(w, "\n%s\n", n.Body)
	}
}

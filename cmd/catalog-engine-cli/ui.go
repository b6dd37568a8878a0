// Package main provides UI utilities for the catalog engine CLI.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// UI provides user-friendly output utilities. Every method is a no-op in JSON
// mode so commands can print their machine-readable result to stdout.
type UI struct {
	out      io.Writer
	noColor  bool
	jsonMode bool
}

// NewUI creates a new UI instance.
func NewUI(jsonMode, noColor bool) *UI {
	return &UI{
		out:      os.Stdout,
		noColor:  noColor || !IsTerminal(),
		jsonMode: jsonMode,
	}
}

func (ui *UI) printf(attr color.Attribute, symbol, format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf("%s %s\n", symbol, fmt.Sprintf(format, args...))
	if ui.noColor {
		fmt.Fprint(ui.out, msg)
		return
	}
	color.New(attr).Fprint(ui.out, msg)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	ui.printf(color.FgGreen, "✓", format, args...)
}

// Error prints an error message to stderr.
func (ui *UI) Error(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf("✗ %s\n", fmt.Sprintf(format, args...))
	if ui.noColor {
		fmt.Fprint(os.Stderr, msg)
		return
	}
	color.New(color.FgRed).Fprint(os.Stderr, msg)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	ui.printf(color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	ui.printf(color.FgCyan, "ℹ", format, args...)
}

// Step prints a step message.
func (ui *UI) Step(format string, args ...interface{}) {
	ui.printf(color.FgBlue, "→", format, args...)
}

// ProgressBar wraps a progressbar for per-vehicle progress.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// ProgressBar creates a progress bar on stderr. It returns nil in JSON mode;
// a nil *ProgressBar is safe to use.
func (ui *UI) ProgressBar(description string, total int) *ProgressBar {
	if ui.jsonMode || total <= 0 {
		return nil
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("vehicles"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionEnableColorCodes(!ui.noColor),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &ProgressBar{bar: bar}
}

// Add advances the bar by one.
func (p *ProgressBar) Add() {
	if p == nil {
		return
	}
	_ = p.bar.Add(1)
}

// Finish completes the bar.
func (p *ProgressBar) Finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
}

// Spinner wraps a spinner for indeterminate work such as loading documents.
type Spinner struct {
	s *spinner.Spinner
}

// Spinner creates a stopped spinner on stderr. It returns nil in JSON mode or
// when stdout is not a terminal.
func (ui *UI) Spinner(message string) *Spinner {
	if ui.jsonMode || !IsTerminal() {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	return &Spinner{s: s}
}

// Start starts the animation.
func (s *Spinner) Start() {
	if s != nil {
		s.s.Start()
	}
}

// Stop stops the animation and clears the line.
func (s *Spinner) Stop() {
	if s != nil {
		s.s.Stop()
	}
}

// Table prints a formatted table.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = displayWidth(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && displayWidth(cell) > widths[i] {
				widths[i] = displayWidth(cell)
			}
		}
	}

	border := color.New(color.FgCyan, color.Bold)
	line := func(left, mid, right, fill string) {
		if ui.noColor {
			left, mid, right, fill = "+", "+", "+", "-"
		}
		var b strings.Builder
		b.WriteString(left)
		for i, w := range widths {
			b.WriteString(strings.Repeat(fill, w+2))
			if i < len(widths)-1 {
				b.WriteString(mid)
			}
		}
		b.WriteString(right + "\n")
		if ui.noColor {
			fmt.Fprint(ui.out, b.String())
		} else {
			border.Fprint(ui.out, b.String())
		}
	}
	cells := func(values []string) {
		sep := "│"
		if ui.noColor {
			sep = "|"
		}
		var b strings.Builder
		b.WriteString(sep)
		for i, w := range widths {
			var v string
			if i < len(values) {
				v = values[i]
			}
			b.WriteString(" " + v + strings.Repeat(" ", w-displayWidth(v)) + " " + sep)
		}
		fmt.Fprintln(ui.out, b.String())
	}

	line("┌", "┬", "┐", "─")
	cells(headers)
	line("├", "┼", "┤", "─")
	for _, row := range rows {
		cells(row)
	}
	line("└", "┴", "┘", "─")
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out)
	if ui.noColor {
		fmt.Fprintf(ui.out, "━━━ %s ━━━\n", strings.ToUpper(title))
	} else {
		color.New(color.FgMagenta, color.Bold).Fprintf(ui.out, "━━━ %s ━━━\n", strings.ToUpper(title))
	}
	fmt.Fprintln(ui.out)
}

// KeyValue prints a key-value pair.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Fprintf(ui.out, "  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Fprintf(ui.out, "  %s: ", key)
	fmt.Fprintf(ui.out, "%v\n", value)
}

// Newline prints a newline.
func (ui *UI) Newline() {
	if !ui.jsonMode {
		fmt.Fprintln(ui.out)
	}
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// FormatWon formats a price in won with thousands separators.
func FormatWon(price int64) string {
	s := fmt.Sprintf("%d", price)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String() + "원"
	}
	return b.String() + "원"
}

// displayWidth approximates the terminal width of s. Hangul syllables take two
// columns.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r >= 0xAC00 && r <= 0xD7A3 {
			w += 2
			continue
		}
		w++
	}
	return w
}

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

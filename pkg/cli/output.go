package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/report"
	"github.com/devicelab-dev/publish-agent/pkg/store"
	"github.com/dustin/go-humanize"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func printBanner(w io.Writer, platformName, identity string) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %spublish-agent %s%s\n", color(colorBold), Version, color(colorReset))
	fmt.Fprintf(w, "  platform %s%s%s  identity %s%s%s\n",
		color(colorCyan), platformName, color(colorReset),
		color(colorCyan), identity, color(colorReset))
	fmt.Fprintln(w, strings.Repeat("─", 60))
}

// printSetupStep prints a setup step with spinner-style prefix
func printSetupStep(msg string) {
	fmt.Printf("  %s⏳%s %s\n", color(colorCyan), color(colorReset), msg)
}

// printSetupSuccess prints a success message for setup
func printSetupSuccess(msg string) {
	fmt.Printf("  %s✓%s %s\n", color(colorGreen), color(colorReset), msg)
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

// formatLogEntry renders one user-visible log line.
func formatLogEntry(e core.LogEntry) string {
	c := ""
	switch e.Severity {
	case core.SeverityWarning:
		c = color(colorYellow)
	case core.SeverityError:
		c = color(colorRed)
	}
	return fmt.Sprintf("  %s%s%s %s%s%s",
		color(colorGray), e.Timestamp.Format("15:04:05"), color(colorReset),
		c, e.Message, color(colorReset))
}

// formatStatus renders the one-line status shown by the console.
func formatStatus(s store.Snapshot, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", s.State)
	if s.State == core.RunPaused && s.PauseCause != core.PauseNone {
		fmt.Fprintf(&b, " (%s", s.PauseCause)
		if s.PauseReason != "" {
			fmt.Fprintf(&b, ": %s", s.PauseReason)
		}
		b.WriteString(")")
	}
	p := s.Progress
	fmt.Fprintf(&b, " | %d/%d done, %d ok, %d failed, %d queued",
		p.Completed, p.Total, p.Succeeded, p.Failed, len(s.Queue))
	if s.Current != nil {
		fmt.Fprintf(&b, " | current %s", s.Current.Code)
		if s.Attempt > 1 {
			fmt.Fprintf(&b, " (attempt %d)", s.Attempt)
		}
	}
	if s.AwaitingManual {
		b.WriteString(" | waiting for publish")
	}
	if eta, ok := p.ETA(now); ok && p.Remaining() > 0 {
		fmt.Fprintf(&b, " | eta %s", humanize.Time(now.Add(eta)))
	}
	return b.String()
}

// printSummary prints the final table of a run report.
func printSummary(w io.Writer, idx *report.Index) {
	tableWidth := 78
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
	fmt.Fprintf(w, "  %-14s %-38s %8s %4s %10s\n", "Item", "Title", "Status", "Try", "Duration")
	fmt.Fprintln(w, strings.Repeat("─", tableWidth))

	for _, e := range idx.Items {
		status, statusColor := "✓ DONE", color(colorGreen)
		switch e.Status {
		case report.StatusFailed:
			status, statusColor = "✗ FAIL", color(colorRed)
		case report.StatusStopped:
			status, statusColor = "■ STOP", color(colorYellow)
		}
		title := e.Title
		if len([]rune(title)) > 38 {
			title = string([]rune(title)[:35]) + "..."
		}
		dur := "-"
		if e.Duration != nil {
			dur = formatDuration(*e.Duration)
		}
		fmt.Fprintf(w, "  %-14s %-38s %s%8s%s %4d %10s\n",
			e.Code, title, statusColor, status, color(colorReset), e.Attempts, dur)
	}

	fmt.Fprintln(w, strings.Repeat("─", tableWidth))
	s := idx.Summary
	fmt.Fprintf(w, "  %s%d items%s: %s%d done%s, %s%d failed%s, %d stopped, %d left in queue\n",
		color(colorBold), s.Total, color(colorReset),
		color(colorGreen), s.Passed, color(colorReset),
		color(colorRed), s.Failed, color(colorReset),
		s.Stopped, idx.Remaining)
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
}

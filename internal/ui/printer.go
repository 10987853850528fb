package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"PS3DL/internal/history"
	"PS3DL/internal/logger"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

const (
	labelWidth = 10
	titleWidth = 36
)

// Printer renders rich terminal UI fragments used by the CLI.
type Printer struct {
	out     io.Writer
	success *color.Color
	info    *color.Color
	warn    *color.Color
	error   *color.Color
}

// NewPrinter constructs a Printer writing to w (stdout when nil) with colour enabled
// for terminals.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}

	p := &Printer{
		out:     w,
		success: color.New(color.FgGreen, color.Bold),
		info:    color.New(color.FgBlue, color.Bold),
		warn:    color.New(color.FgYellow, color.Bold),
		error:   color.New(color.FgRed, color.Bold),
	}

	if !logger.ColorEnabled(w) {
		p.success.DisableColor()
		p.info.DisableColor()
		p.warn.DisableColor()
		p.error.DisableColor()
	} else {
		p.success.EnableColor()
		p.info.EnableColor()
		p.warn.EnableColor()
		p.error.EnableColor()
	}

	return p
}

// PrintBanner renders the application banner.
func (p *Printer) PrintBanner(version string) {
	lines := []string{
		"=========================================",
		"   ___  ___ _______  _    ",
		"  | _ \\/ __|__ /   \\| |   ",
		"  |  _/\\__ \\|_ \\ |) | |__ ",
		"  |_|  |___/___/___/|____|",
		"",
		"  PS3 disc image acquisition " + version,
		"=========================================",
	}

	for _, line := range lines {
		p.success.Fprintln(p.out, line)
	}
}

// PrintSeparator prints a repeated character separator.
func (p *Printer) PrintSeparator(char string, length int) {
	if length <= 0 {
		return
	}
	fmt.Fprintln(p.out, strings.Repeat(char, length))
}

// Summary is the result of one acquisition as shown to the user.
type Summary struct {
	Title    string
	TargetID string
	Artifact string
	Bytes    int64
	Skipped  bool
	Renamed  bool
	Elapsed  time.Duration
}

// PrintSummary renders the final outcome block.
func (p *Printer) PrintSummary(s Summary) {
	p.PrintSeparator("-", 50)
	switch {
	case s.Skipped:
		p.warn.Fprintln(p.out, "Already acquired")
	default:
		p.success.Fprintln(p.out, "Acquisition complete")
	}
	fmt.Fprintln(p.out)

	p.row("Title", s.Title)
	p.row("ID", s.TargetID)
	p.row("File", s.Artifact)
	if s.Bytes > 0 {
		p.row("Size", humanize.IBytes(uint64(s.Bytes)))
	}
	if s.Renamed {
		p.row("Renamed", "from disc metadata")
	}
	if !s.Skipped {
		p.row("Elapsed", s.Elapsed.Round(time.Second).String())
	}

	p.PrintSeparator("-", 50)
}

// PrintFailure renders a failed acquisition.
func (p *Printer) PrintFailure(title string, err error) {
	p.PrintSeparator("-", 50)
	p.error.Fprintln(p.out, "Acquisition failed")
	fmt.Fprintln(p.out)
	p.row("Title", title)
	p.row("Error", err.Error())
	p.PrintSeparator("-", 50)
}

// PrintHistory renders recorded runs, newest first.
func (p *Printer) PrintHistory(runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(p.out, "No acquisitions recorded yet.")
		return
	}

	for _, run := range runs {
		var mark string
		switch run.Status {
		case history.StatusCompleted:
			mark = p.success.Sprint("✓")
		case history.StatusFailed:
			mark = p.error.Sprint("✕")
		default:
			mark = p.warn.Sprint("…")
		}

		title := runewidth.FillRight(runewidth.Truncate(run.Title, titleWidth, "…"), titleWidth)
		detail := run.ArtifactPath
		if run.Status == history.StatusFailed {
			detail = run.Error
		}
		fmt.Fprintf(p.out, "[ %s ] %s  %s  %s\n", mark, run.StartedAt.Local().Format("2006-01-02 15:04"), title, detail)
	}
}

func (p *Printer) row(label, value string) {
	fmt.Fprintf(p.out, "%s %s\n", p.info.Sprint(runewidth.FillRight(label+":", labelWidth)), value)
}

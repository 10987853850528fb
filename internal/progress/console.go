package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"PS3DL/internal/logger"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

const (
	barWidth   = 30
	labelWidth = 28
	throttle   = 200 * time.Millisecond
)

var indeterminateFrames = []string{"<=>   ", " <=>  ", "  <=> ", "   <=>", "  <=> ", " <=>  "}

// Console renders progress updates as a single rewritten line.
type Console struct {
	mu         sync.Mutex
	writer     io.Writer
	colors     bool
	unit       Unit
	started    time.Time
	lastUpdate time.Time
	frame      int
}

// NewConsole constructs a Console writing to w (defaults to stdout).
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{
		writer: w,
		colors: logger.ColorEnabled(w),
	}
}

func (c *Console) OnStart(label string, total int64, unit Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unit = unit
	c.started = time.Now()
	c.lastUpdate = time.Time{}
	c.frame = 0

	if total > 0 {
		fmt.Fprintf(c.writer, "  %s: starting (%s total)\n", fitLabel(label), c.amount(total))
		return
	}
	fmt.Fprintf(c.writer, "  %s: starting (size unknown)\n", fitLabel(label))
}

func (c *Console) OnProgress(label string, current, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastUpdate) < throttle {
		return
	}
	c.lastUpdate = now

	if total <= 0 {
		fmt.Fprintf(c.writer, "\r\033[K  %s: %s%s", fitLabel(label), c.amount(current), c.rate(current, now))
		return
	}

	percentage := float64(current) / float64(total) * 100
	if percentage > 100 {
		percentage = 100
	}
	fmt.Fprintf(c.writer, "\r\033[K  %s: [%s] %5.1f%% (%s/%s)%s",
		fitLabel(label),
		c.paint(bar(percentage), color.FgGreen),
		percentage,
		c.amount(current),
		c.amount(total),
		c.rate(current, now),
	)
}

func (c *Console) OnIndeterminate(label string, current int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastUpdate) < throttle {
		return
	}
	c.lastUpdate = now

	frame := indeterminateFrames[c.frame%len(indeterminateFrames)]
	c.frame++
	fmt.Fprintf(c.writer, "\r\033[K  %s: [%s] %s, still working",
		fitLabel(label),
		c.paint(frame, color.FgYellow),
		c.amount(current),
	)
}

func (c *Console) OnComplete(label string, current int64, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "\r\033[K  %s: [%s] 100.0%% (%s) in %s\n",
		fitLabel(label),
		c.paint(strings.Repeat("=", barWidth), color.FgGreen),
		c.amount(current),
		elapsed.Round(time.Second),
	)
}

func (c *Console) amount(n int64) string {
	if c.unit == UnitItems {
		return humanize.Comma(n) + " entries"
	}
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func (c *Console) rate(current int64, now time.Time) string {
	if c.unit != UnitBytes || c.started.IsZero() {
		return ""
	}
	elapsed := now.Sub(c.started).Seconds()
	if elapsed <= 0 || current <= 0 {
		return ""
	}
	return " " + humanize.IBytes(uint64(float64(current)/elapsed)) + "/s"
}

func (c *Console) paint(s string, attr color.Attribute) string {
	if !c.colors {
		return s
	}
	return color.New(attr).Sprint(s)
}

func bar(percentage float64) string {
	filled := int(float64(barWidth) * percentage / 100)
	if filled > barWidth {
		filled = barWidth
	}
	b := strings.Repeat("=", filled)
	if filled < barWidth {
		b += ">" + strings.Repeat(" ", barWidth-filled-1)
	}
	return b
}

func fitLabel(label string) string {
	return runewidth.FillRight(runewidth.Truncate(label, labelWidth, "…"), labelWidth)
}

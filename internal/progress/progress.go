// Package progress carries progress events from the pipeline stages to whatever renders
// them.
package progress

import (
	"io"
	"time"
)

// Unit tells a renderer how to display counters.
type Unit int

const (
	// UnitBytes counters are byte counts.
	UnitBytes Unit = iota
	// UnitItems counters are entry counts, used when sizes are unknown.
	UnitItems
)

// Reporter receives progress updates. A total of zero or less means unknown.
type Reporter interface {
	OnStart(label string, total int64, unit Unit)
	OnProgress(label string, current, total int64)
	// OnIndeterminate is sent when the counter stopped moving but work continues.
	OnIndeterminate(label string, current int64)
	OnComplete(label string, current int64, elapsed time.Duration)
}

// Noop discards all progress events.
type Noop struct{}

func (Noop) OnStart(string, int64, Unit)             {}
func (Noop) OnProgress(string, int64, int64)         {}
func (Noop) OnIndeterminate(string, int64)           {}
func (Noop) OnComplete(string, int64, time.Duration) {}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Reporter) Reporter {
	if r == nil {
		return Noop{}
	}
	return r
}

// Reader wraps a reader and reports the cumulative count after every read. The count
// starts at an offset so resumed transfers report bytes on disk, not bytes this session.
type Reader struct {
	reader   io.Reader
	current  int64
	total    int64
	label    string
	reporter Reporter
}

// NewReader constructs a progress tracking reader starting at offset.
func NewReader(r io.Reader, offset, total int64, label string, reporter Reporter) *Reader {
	return &Reader{
		reader:   r,
		current:  offset,
		total:    total,
		label:    label,
		reporter: OrNoop(reporter),
	}
}

// Read implements io.Reader and relays progress.
func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.current += int64(n)
		pr.reporter.OnProgress(pr.label, pr.current, pr.total)
	}
	return n, err
}

// Current returns the cumulative count including the starting offset.
func (pr *Reader) Current() int64 {
	return pr.current
}

package progress

import (
	"sync"
	"time"
)

// EventKind identifies a recorded progress callback.
type EventKind string

const (
	EventStart         EventKind = "start"
	EventProgress      EventKind = "progress"
	EventIndeterminate EventKind = "indeterminate"
	EventComplete      EventKind = "complete"
)

// Event is one recorded progress callback.
type Event struct {
	Kind    EventKind
	Label   string
	Current int64
	Total   int64
	Unit    Unit
	Elapsed time.Duration
}

// Recorder keeps every event in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnStart(label string, total int64, unit Unit) {
	r.add(Event{Kind: EventStart, Label: label, Total: total, Unit: unit})
}

func (r *Recorder) OnProgress(label string, current, total int64) {
	r.add(Event{Kind: EventProgress, Label: label, Current: current, Total: total})
}

func (r *Recorder) OnIndeterminate(label string, current int64) {
	r.add(Event{Kind: EventIndeterminate, Label: label, Current: current})
}

func (r *Recorder) OnComplete(label string, current int64, elapsed time.Duration) {
	r.add(Event{Kind: EventComplete, Label: label, Current: current, Elapsed: elapsed})
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of the given kind were recorded.
func (r *Recorder) Count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent event of the given kind.
func (r *Recorder) Last(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// Reset discards all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

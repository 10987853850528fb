package logger

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Progress describes progress indicators that can be started and stopped.
type Progress interface {
	Start(operation string)
	Stop(operation string)
}

// SpinnerProgress renders a spinner-style progress indicator. It may be started again
// after Stop; starting an already running spinner only replaces its message.
type SpinnerProgress struct {
	mu      sync.Mutex
	output  io.Writer
	frames  []string
	index   int
	message string
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSpinnerProgress creates a progress spinner writing to the provided output.
func NewSpinnerProgress(output io.Writer) *SpinnerProgress {
	if output == nil {
		output = io.Discard
	}

	return &SpinnerProgress{
		output: output,
		frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	}
}

// Start begins rendering the progress spinner with the specified message.
func (p *SpinnerProgress) Start(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.message = message
	if p.stopCh != nil {
		return
	}

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run(p.stopCh, p.doneCh)
}

func (p *SpinnerProgress) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(120 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.mu.Lock()
			frame := p.frames[p.index%len(p.frames)]
			p.index++
			fmt.Fprintf(p.output, "\r%s %s", frame, p.message)
			p.mu.Unlock()
		}
	}
}

// Running reports whether the spinner goroutine is active.
func (p *SpinnerProgress) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCh != nil
}

// Stop terminates the spinner and prints the final message. An empty message clears
// the spinner line without printing a completion mark.
func (p *SpinnerProgress) Stop(message string) {
	p.mu.Lock()
	stopCh, doneCh := p.stopCh, p.doneCh
	p.stopCh, p.doneCh = nil, nil
	p.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if message == "" {
		fmt.Fprint(p.output, "\r\033[K")
		return
	}
	fmt.Fprintf(p.output, "\r\033[K✓ %s\n", message)
}

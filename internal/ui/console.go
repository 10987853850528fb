package ui

import (
	"fmt"
	"io"
	"os"

	"PS3DL/internal/logger"
	"PS3DL/internal/progress"
)

// Console coordinates logger output, the stage progress renderer, a spinner for short
// waits and plain text writes.
type Console struct {
	logger   logger.Logger
	spinner  logger.Progress
	reporter progress.Reporter
	output   io.Writer
}

// NewConsole builds a Console bound to the provided logger.
func NewConsole(log logger.Logger, output io.Writer) *Console {
	if output == nil {
		output = os.Stderr
	}
	return &Console{
		logger:   log,
		output:   output,
		spinner:  logger.NewSpinnerProgress(output),
		reporter: progress.NewConsole(output),
	}
}

// Logger exposes the underlying logger.
func (c *Console) Logger() logger.Logger {
	return c.logger
}

// Reporter is the progress renderer handed to the pipeline stages.
func (c *Console) Reporter() progress.Reporter {
	return c.reporter
}

// Success logs a success message with a consistent prefix.
func (c *Console) Success(format string, args ...interface{}) {
	if c.logger == nil {
		return
	}
	c.logger.Info("✓ "+format, args...)
}

// StartProgress starts the spinner.
func (c *Console) StartProgress(operation string) {
	c.spinner.Start(operation)
}

// StopProgress stops the spinner, leaving message on its line.
func (c *Console) StopProgress(message string) {
	c.spinner.Stop(message)
}

// WriteLine outputs formatted text without involving the logger.
func (c *Console) WriteLine(format string, args ...interface{}) {
	fmt.Fprintf(c.output, format+"\n", args...)
}

package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var levelColors = map[Level]*color.Color{
	LevelDebug: color.New(color.FgCyan),
	LevelInfo:  color.New(color.FgBlue),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed),
}

// ColoredLogger renders log messages using colours when supported by the output writer.
type ColoredLogger struct {
	*StandardLogger
}

// NewColoredLogger returns a logger configured for colourful terminal output when possible.
func NewColoredLogger(options ...Option) *ColoredLogger {
	std := NewStandardLogger(options...)

	std.formatter = &ColoredFormatter{
		timestampFormat: "15:04:05",
		enableColors:    ColorEnabled(std.output),
	}

	return &ColoredLogger{StandardLogger: std}
}

// NewCLILogger builds the logger used by command line entry points: coloured text on
// stderr, or JSON lines when jsonOutput is set.
func NewCLILogger(verbose, jsonOutput bool) Logger {
	level := LevelInfo
	if verbose {
		level = LevelDebug
	}

	if jsonOutput {
		return NewStandardLogger(
			WithOutput(os.Stderr),
			WithLevel(level),
			WithFormatter(&JSONFormatter{TimestampFormat: time.RFC3339}),
		)
	}
	return NewColoredLogger(WithOutput(os.Stderr), WithLevel(level))
}

// ColoredFormatter renders log entries with coloured levels when enabled.
type ColoredFormatter struct {
	timestampFormat string
	enableColors    bool
}

// Format converts the Entry into a coloured textual representation.
func (f *ColoredFormatter) Format(entry *Entry) ([]byte, error) {
	timestampFormat := f.timestampFormat
	if timestampFormat == "" {
		timestampFormat = time.RFC3339
	}

	level := entry.Level.String()
	if f.enableColors {
		level = colorizeLevel(level, entry.Level)
	}

	faint := color.New(color.Faint)
	fieldFormatter := func(field Field) string {
		fieldText := fmt.Sprintf("%s=%v", field.Key, field.Value)
		if f.enableColors {
			return faint.Sprint(fieldText)
		}
		return fieldText
	}

	return formatEntry(entry, entry.Time.Format(timestampFormat), level, fieldFormatter), nil
}

func colorizeLevel(text string, level Level) string {
	if c := levelColors[level]; c != nil {
		return c.Sprint(text)
	}
	return text
}

// ColorEnabled reports whether w is a terminal and NO_COLOR is unset.
func ColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if file, ok := w.(*os.File); ok {
		return term.IsTerminal(int(file.Fd()))
	}
	return false
}

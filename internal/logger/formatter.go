package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Formatter converts log entries to their textual or structured representation.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Entry represents a single log record.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	Fields  []Field
}

// TextFormatter renders log entries using a textual format similar to traditional log output.
type TextFormatter struct {
	TimestampFormat  string
	DisableColors    bool
	DisableTimestamp bool
	FullTimestamp    bool
	ForceColors      bool
	Output           io.Writer
}

// Format converts the Entry into a textual representation.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	timestampFormat := f.TimestampFormat
	if timestampFormat == "" {
		timestampFormat = time.RFC3339
	}

	var timestamp string
	if !f.DisableTimestamp {
		if f.FullTimestamp {
			timestamp = entry.Time.Format(timestampFormat)
		} else {
			timestamp = entry.Time.Format("15:04:05")
		}
	}

	levelText := entry.Level.String()
	if f.shouldColorize() {
		levelText = colorizeLevel(levelText, entry.Level)
	}
	return formatEntry(entry, timestamp, levelText, nil), nil
}

func (f *TextFormatter) shouldColorize() bool {
	if f == nil {
		return false
	}
	if f.ForceColors {
		return true
	}
	if f.DisableColors {
		return false
	}

	writer := f.Output
	if writer == nil {
		writer = os.Stdout
	}
	return ColorEnabled(writer)
}

// JSONFormatter renders log entries as JSON objects.
type JSONFormatter struct {
	TimestampFormat string
	PrettyPrint     bool
}

// Format converts the Entry into JSON.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	data := make(map[string]interface{})

	timestampFormat := f.TimestampFormat
	if timestampFormat == "" {
		timestampFormat = time.RFC3339
	}

	data["time"] = entry.Time.Format(timestampFormat)
	data["level"] = entry.Level.String()
	data["msg"] = entry.Message

	for _, field := range entry.Fields {
		if err, ok := field.Value.(error); ok {
			data[field.Key] = err.Error()
			continue
		}
		data[field.Key] = field.Value
	}

	var (
		bytes []byte
		err   error
	)
	if f.PrettyPrint {
		bytes, err = json.MarshalIndent(data, "", "  ")
	} else {
		bytes, err = json.Marshal(data)
	}
	if err != nil {
		return nil, err
	}

	return append(bytes, '\n'), nil
}

type fieldFormatter func(Field) string

func defaultFieldFormatter(field Field) string {
	return fmt.Sprintf("%s=%v", field.Key, field.Value)
}

func formatEntry(entry *Entry, timestamp, levelText string, formatter fieldFormatter) []byte {
	if formatter == nil {
		formatter = defaultFieldFormatter
	}

	var buf bytes.Buffer

	if timestamp != "" {
		buf.WriteString(timestamp)
		buf.WriteString(" ")
	}

	buf.WriteString("[")
	buf.WriteString(levelText)
	buf.WriteString("] ")

	buf.WriteString(entry.Message)

	for _, field := range entry.Fields {
		buf.WriteString(" ")
		buf.WriteString(formatter(field))
	}

	buf.WriteString("\n")
	return buf.Bytes()
}

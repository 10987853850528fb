package progress

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReportsFromOffset(t *testing.T) {
	rec := NewRecorder()
	r := NewReader(strings.NewReader("0123456789"), 4000, 4010, "example.zip", rec)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, int64(4010), r.Current())

	last, ok := rec.Last(EventProgress)
	require.True(t, ok)
	assert.Equal(t, int64(4010), last.Current)
	assert.Equal(t, int64(4010), last.Total)
	assert.Equal(t, "example.zip", last.Label)
}

func TestReaderWithoutReporter(t *testing.T) {
	r := NewReader(strings.NewReader("abc"), 0, 0, "x", nil)
	n, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	rec.OnStart("job", 100, UnitBytes)
	rec.OnProgress("job", 10, 100)
	rec.OnIndeterminate("job", 10)
	rec.OnIndeterminate("job", 10)
	rec.OnComplete("job", 100, time.Second)

	assert.Len(t, rec.Events(), 5)
	assert.Equal(t, 2, rec.Count(EventIndeterminate))
	last, ok := rec.Last(EventComplete)
	require.True(t, ok)
	assert.Equal(t, int64(100), last.Current)

	rec.Reset()
	assert.Empty(t, rec.Events())
	_, ok = rec.Last(EventStart)
	assert.False(t, ok)
}

func TestConsoleRendersPercentage(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.OnStart("example.zip", 10000, UnitBytes)
	c.OnProgress("example.zip", 4000, 10000)
	c.OnComplete("example.zip", 10000, 2*time.Second)

	out := buf.String()
	assert.Contains(t, out, "starting (9.8 KiB total)")
	assert.Contains(t, out, " 40.0%")
	assert.Contains(t, out, "100.0%")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestConsoleUnknownTotalAndItems(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.OnStart("archive", 0, UnitItems)
	c.OnProgress("archive", 3, 0)

	out := buf.String()
	assert.Contains(t, out, "size unknown")
	assert.Contains(t, out, "3 entries")
	assert.NotContains(t, out, "%")
}

func TestConsoleIndeterminate(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.OnStart("decrypt", 100, UnitBytes)
	c.OnIndeterminate("decrypt", 50)

	assert.Contains(t, buf.String(), "still working")
}

func TestConsoleThrottlesUpdates(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.OnStart("x", 100, UnitBytes)
	c.OnProgress("x", 10, 100)
	c.OnProgress("x", 20, 100)

	assert.Equal(t, 1, strings.Count(buf.String(), "\r"))
}

func TestFitLabel(t *testing.T) {
	assert.Equal(t, labelWidth, len(fitLabel("short")))
	long := strings.Repeat("a", 60)
	assert.True(t, strings.HasSuffix(fitLabel(long), "…"))
}

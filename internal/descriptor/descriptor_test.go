package descriptor

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"PS3DL/internal/logger"
	"PS3DL/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sfoEntry struct {
	key    string
	format uint16
	value  []byte
}

func utf8Entry(key, value string) sfoEntry {
	return sfoEntry{key: key, format: FormatUTF8, value: append([]byte(value), 0)}
}

func buildSFO(entries ...sfoEntry) []byte {
	var keys, values []byte
	keyOffsets := make([]int, len(entries))
	valueOffsets := make([]int, len(entries))
	maxLens := make([]int, len(entries))

	for i, e := range entries {
		keyOffsets[i] = len(keys)
		keys = append(keys, e.key...)
		keys = append(keys, 0)
	}
	for len(keys)%4 != 0 {
		keys = append(keys, 0)
	}
	for i, e := range entries {
		valueOffsets[i] = len(values)
		maxLens[i] = (len(e.value) + 3) &^ 3
		values = append(values, e.value...)
		for len(values)-valueOffsets[i] < maxLens[i] {
			values = append(values, 0)
		}
	}

	keyTable := headerSize + entrySize*len(entries)
	dataTable := keyTable + len(keys)

	out := make([]byte, headerSize, dataTable+len(values))
	copy(out, magic)
	binary.LittleEndian.PutUint32(out[4:8], 0x0101)
	binary.LittleEndian.PutUint32(out[8:12], uint32(keyTable))
	binary.LittleEndian.PutUint32(out[12:16], uint32(dataTable))
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(entries)))

	for i, e := range entries {
		entry := make([]byte, entrySize)
		binary.LittleEndian.PutUint16(entry[0:2], uint16(keyOffsets[i]))
		binary.LittleEndian.PutUint16(entry[2:4], e.format)
		binary.LittleEndian.PutUint32(entry[4:8], uint32(len(e.value)))
		binary.LittleEndian.PutUint32(entry[8:12], uint32(maxLens[i]))
		binary.LittleEndian.PutUint32(entry[12:16], uint32(valueOffsets[i]))
		out = append(out, entry...)
	}
	out = append(out, keys...)
	return append(out, values...)
}

func sampleBlock() []byte {
	return buildSFO(
		utf8Entry("CATEGORY", "DG"),
		sfoEntry{key: "PARENTAL_LEVEL", format: 0x0404, value: []byte{5, 0, 0, 0}},
		utf8Entry("TITLE", "Example Game: Remastered"),
		utf8Entry("TITLE_ID", "BLUS12345"),
	)
}

func TestParse(t *testing.T) {
	entries, err := Parse(sampleBlock())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"CATEGORY": "DG",
		"TITLE":    "Example Game: Remastered",
		"TITLE_ID": "BLUS12345",
	}, entries)

	meta, ok := Metadata(entries)
	require.True(t, ok)
	assert.Equal(t, model.DescriptorMetadata{Identifier: "BLUS12345", DisplayName: "Example Game: Remastered"}, meta)
	assert.Equal(t, "BLUS12345-Example_Game__Remastered.iso", FileName(meta, ".iso"))
}

func TestParseRejectsMalformedInput(t *testing.T) {
	valid := sampleBlock()

	badMagic := append([]byte(nil), valid...)
	badMagic[1] = 'X'

	hugeCount := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(hugeCount[16:20], 0xffffffff)

	badKeyTable := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(badKeyTable[8:12], uint32(len(valid)+10))

	badValue := append([]byte(nil), valid...)
	// first entry's data offset points far past the end
	binary.LittleEndian.PutUint32(badValue[headerSize+12:headerSize+16], 0xfffffff0)

	unterminated := buildSFO(utf8Entry("TITLE", "x"))
	keyTable := binary.LittleEndian.Uint32(unterminated[8:12])
	unterminated = unterminated[:keyTable+5] // "TITLE" without its NUL

	cases := map[string][]byte{
		"empty":        nil,
		"short":        valid[:10],
		"bad magic":    badMagic,
		"huge count":   hugeCount,
		"key table":    badKeyTable,
		"value range":  badValue,
		"unterminated": unterminated,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			assert.Error(t, err)
		})
	}
}

func TestParseNeverPanicsOnTruncation(t *testing.T) {
	valid := sampleBlock()
	for i := 0; i <= len(valid); i++ {
		require.NotPanics(t, func() { _, _ = Parse(valid[:i]) }, "prefix %d", i)
	}
}

func FuzzParse(f *testing.F) {
	f.Add(sampleBlock())
	f.Add([]byte("\x00PSF"))
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = Parse(data)
	})
}

func TestMetadataRequiresBothKeys(t *testing.T) {
	_, ok := Metadata(map[string]string{"TITLE_ID": "BLUS12345"})
	assert.False(t, ok)
	_, ok = Metadata(map[string]string{"TITLE": "Example"})
	assert.False(t, ok)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Example_Game__Remastered", Sanitize("Example Game: Remastered"))
	assert.Equal(t, "Pok_mon", Sanitize("Pokémon"))
	assert.Equal(t, "___", Sanitize("../"))
	assert.Equal(t, "", Sanitize(""))
}

type fakeSource struct {
	data []byte
	err  error
}

func (f fakeSource) Block(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

func writePayload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "example.iso")
	require.NoError(t, os.WriteFile(path, []byte("decrypted"), 0o644))
	return path
}

func TestTryRename(t *testing.T) {
	payload := writePayload(t)
	log := logger.NewMockLogger()

	got, renamed := NewRenamer(fakeSource{data: sampleBlock()}, log).TryRename(context.Background(), payload)
	require.True(t, renamed)
	assert.Equal(t, filepath.Join(filepath.Dir(payload), "BLUS12345-Example_Game__Remastered.iso"), got)
	assert.FileExists(t, got)
	assert.NoFileExists(t, payload)
}

func TestTryRenameFallbacks(t *testing.T) {
	cases := map[string]BlockSource{
		"helper missing": fakeSource{err: errors.New("7z not available")},
		"no block":       fakeSource{data: []byte("plain disc image bytes")},
		"missing keys":   fakeSource{data: buildSFO(utf8Entry("CATEGORY", "DG"))},
		"nil source":     nil,
	}
	for name, source := range cases {
		t.Run(name, func(t *testing.T) {
			payload := writePayload(t)
			log := logger.NewMockLogger()

			got, renamed := NewRenamer(source, log).TryRename(context.Background(), payload)
			assert.False(t, renamed)
			assert.Equal(t, payload, got)
			assert.FileExists(t, payload)
			assert.True(t, log.HasEntry(logger.LevelWarn, "keeping original file name"))
		})
	}
}

func TestTryRenameKeepsExistingTarget(t *testing.T) {
	payload := writePayload(t)
	existing := filepath.Join(filepath.Dir(payload), "BLUS12345-Example_Game__Remastered.iso")
	require.NoError(t, os.WriteFile(existing, []byte("other"), 0o644))

	got, renamed := NewRenamer(fakeSource{data: sampleBlock()}, logger.NewMockLogger()).TryRename(context.Background(), payload)
	assert.False(t, renamed)
	assert.Equal(t, payload, got)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "other", string(data))
}

type fakeExecutor struct {
	block    []byte
	runErr   error
	lookErr  error
	lastArgs []string
}

func (f *fakeExecutor) Run(_ context.Context, name string, args ...string) error {
	f.lastArgs = append([]string{name}, args...)
	if f.runErr != nil {
		return f.runErr
	}
	for _, a := range args {
		if strings.HasPrefix(a, "-o") && f.block != nil {
			return os.WriteFile(filepath.Join(strings.TrimPrefix(a, "-o"), "PARAM.SFO"), f.block, 0o644)
		}
	}
	return nil
}

func (f *fakeExecutor) Output(context.Context, string, ...string) ([]byte, error) {
	return nil, errors.New("not used")
}

func (f *fakeExecutor) LookPath(name string) (string, error) {
	if f.lookErr != nil {
		return "", f.lookErr
	}
	return "/usr/bin/" + name, nil
}

func TestArchiveSource(t *testing.T) {
	exec := &fakeExecutor{block: sampleBlock()}
	src := NewArchiveSource("", "", exec)

	data, err := src.Block(context.Background(), "/games/example.iso")
	require.NoError(t, err)
	assert.Equal(t, sampleBlock(), data)

	require.Len(t, exec.lastArgs, 6)
	assert.Equal(t, []string{"/usr/bin/7z", "e", "/games/example.iso", DefaultEntry}, exec.lastArgs[:4])
	assert.True(t, strings.HasPrefix(exec.lastArgs[4], "-o"))
	assert.Equal(t, "-y", exec.lastArgs[5])
	assert.NoDirExists(t, strings.TrimPrefix(exec.lastArgs[4], "-o"), "temporary directory is removed")
}

func TestArchiveSourceFailures(t *testing.T) {
	_, err := NewArchiveSource("7z", "", &fakeExecutor{lookErr: errors.New("not found")}).Block(context.Background(), "x.iso")
	assert.ErrorContains(t, err, "not available")

	_, err = NewArchiveSource("7z", "", &fakeExecutor{runErr: errors.New("exit 2")}).Block(context.Background(), "x.iso")
	assert.ErrorContains(t, err, "failed to extract")

	_, err = NewArchiveSource("7z", "", &fakeExecutor{}).Block(context.Background(), "x.iso")
	assert.ErrorContains(t, err, "not found in")
}

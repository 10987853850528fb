package pipeline

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"PS3DL/internal/config"
	"PS3DL/internal/history"
	"PS3DL/internal/logger"
	"PS3DL/internal/model"
	"PS3DL/internal/progress"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeDecryptorEnv = "PS3DL_FAKE_DECRYPTOR"

// TestMain lets the test binary stand in for the decryption program.
func TestMain(m *testing.M) {
	if os.Getenv(fakeDecryptorEnv) != "" {
		os.Exit(fakeDecrypt(os.Args[1:]))
	}
	os.Exit(m.Run())
}

// fakeDecrypt reverses the input bytes into the output after checking the key.
func fakeDecrypt(args []string) int {
	if len(args) != 5 {
		os.Stderr.WriteString("usage: <mode> <keytype> <key> <in> <out>")
		return 2
	}
	if args[2] != string(testKey) {
		os.Stderr.WriteString("wrong key " + args[2])
		return 3
	}
	data, err := os.ReadFile(args[3])
	if err != nil {
		os.Stderr.WriteString(err.Error())
		return 1
	}
	if err := os.WriteFile(args[4], reversed(data), 0o644); err != nil {
		os.Stderr.WriteString(err.Error())
		return 1
	}
	return 0
}

func reversed(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[len(data)-1-i] = b
	}
	return out
}

func zipOf(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type remote struct {
	*httptest.Server
	requests  atomic.Int32
	downloads atomic.Int32
}

// newRemote serves the key listing, one key package and the payload archive. The
// first full payload download is cut off halfway.
func newRemote(t *testing.T, payload []byte) *remote {
	t.Helper()
	rawKey, err := hex.DecodeString(string(testKey))
	require.NoError(t, err)
	keyPackage := zipOf(t, "BLUS12345.key", rawKey)

	r := &remote{}
	mux := http.NewServeMux()
	mux.HandleFunc("/keys/", func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/keys/":
			fmt.Fprint(w, `<html><body><table>
<tr><td><a href="../">Parent directory/</a></td></tr>
<tr><td><a href="BLUS12345.zip" title="BLUS12345.zip">BLUS12345.zip</a></td><td>1 KiB</td></tr>
<tr><td><a href="BLES00001.zip">BLES00001.zip</a></td><td>1 KiB</td></tr>
</table></body></html>`)
		case "/keys/BLUS12345.zip":
			w.Write(keyPackage)
		default:
			http.NotFound(w, req)
		}
	})
	mux.HandleFunc("/iso/", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Range") != "bytes=0-1" && r.downloads.Add(1) == 1 {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			w.WriteHeader(http.StatusOK)
			w.Write(payload[:len(payload)/2])
			return
		}
		http.ServeContent(w, req, "payload.zip", time.Time{}, bytes.NewReader(payload))
	})

	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.requests.Add(1)
		mux.ServeHTTP(w, req)
	}))
	t.Cleanup(r.Close)
	return r
}

func TestBuildAcquireEndToEnd(t *testing.T) {
	t.Setenv(fakeDecryptorEnv, "1")
	self, err := os.Executable()
	require.NoError(t, err)

	disc := bytes.Repeat([]byte("PS3 disc sector "), 1024)
	srv := newRemote(t, zipOf(t, "Example Game (USA).iso", disc))

	cfg, err := config.Default()
	require.NoError(t, err)
	disabled := false
	cfg.Folders.WorkDir = t.TempDir()
	cfg.URLs.ISOBase = srv.URL + "/iso/"
	cfg.URLs.KeysBase = srv.URL + "/keys/"
	cfg.Download.MaxRetries = 3
	cfg.Download.RetryDelay = 10 * time.Millisecond
	cfg.Decryption.BinaryPath = self
	cfg.Decryption.PollInterval = 20 * time.Millisecond
	cfg.Decryption.Timeout = time.Minute
	cfg.Descriptor.Enabled = &disabled
	require.NoError(t, cfg.EnsureLayout())

	ctx := context.Background()
	repo, err := history.Open(ctx, cfg.HistoryPath())
	require.NoError(t, err)
	defer repo.Close()

	log := logger.NewMockLogger()
	rec := progress.NewRecorder()
	p, err := Build(cfg, log, rec, repo)
	require.NoError(t, err)

	target, err := model.NewTarget("", "BLUS12345", "Example%20Game%20(USA).zip", "", "USA")
	require.NoError(t, err)

	out, err := p.Acquire(ctx, target)
	require.NoError(t, err)

	expected := filepath.Join(cfg.ISODir(), "usa-blus12345.iso")
	assert.Equal(t, expected, out.ArtifactPath)
	data, err := os.ReadFile(expected)
	require.NoError(t, err)
	assert.Equal(t, reversed(disc), data)

	assert.Equal(t, int32(2), srv.downloads.Load(), "interrupted download resumed once")
	assert.NoDirExists(t, cfg.StagingDir("BLUS12345"))
	assert.FileExists(t, cfg.KeyCachePath())
	assert.True(t, log.HasEntry(logger.LevelWarn, "Download attempt 1/3 failed"))
	assert.Positive(t, rec.Count(progress.EventComplete))

	last, found, err := repo.LastCompleted(ctx, "BLUS12345")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, out.RunID, last.ID)

	// a second run finds the artifact and touches neither the network nor the decryptor
	before := srv.requests.Load()
	again, err := p.Acquire(ctx, target)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, before, srv.requests.Load())
}

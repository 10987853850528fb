// Package transfer performs resumable, retried HTTP downloads.
package transfer

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "PS3DL/internal/errors"
	"PS3DL/internal/logger"
	"PS3DL/internal/model"
	"PS3DL/internal/progress"
)

const (
	copyBufferSize = 32 * 1024
	// totalSuffix names the file next to a finished download that records its size.
	totalSuffix = ".total"
)

// Request describes one remote resource to fetch into Destination.
type Request struct {
	URL         string
	Destination string
	// Name labels progress output. Defaults to the destination base name.
	Name string
	// TotalSize is the known resource size. Zero means unknown and triggers a probe.
	TotalSize int64
}

// Config holds retry behaviour for a Manager.
type Config struct {
	MaxRetries   int
	RetryDelay   time.Duration
	ProbeTimeout time.Duration
}

// Sleeper pauses between attempts. It returns early with the context's error.
type Sleeper func(ctx context.Context, d time.Duration) error

// Manager downloads files, resuming from whatever is already on disk.
type Manager struct {
	cfg       Config
	logger    logger.Logger
	client    HTTPClient
	reporter  progress.Reporter
	sleep     Sleeper
	userAgent string
}

// Option customises Manager construction.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for downloads.
func WithHTTPClient(client HTTPClient) Option {
	return func(m *Manager) {
		m.client = client
	}
}

// WithProgressReporter overrides the progress reporter implementation.
func WithProgressReporter(reporter progress.Reporter) Option {
	return func(m *Manager) {
		m.reporter = reporter
	}
}

// WithSleeper replaces the pause between attempts.
func WithSleeper(s Sleeper) Option {
	return func(m *Manager) {
		m.sleep = s
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(ua) != "" {
			m.userAgent = ua
		}
	}
}

// NewManager constructs a Manager using the provided configuration, logger and options.
func NewManager(cfg Config, log logger.Logger, opts ...Option) (*Manager, error) {
	if log == nil {
		return nil, apperrors.SystemError(apperrors.CodeSystemGeneric, "logger must not be nil", nil).
			WithModule("transfer").
			WithOperation("NewManager")
	}
	if cfg.MaxRetries <= 0 {
		return nil, apperrors.ConfigError(apperrors.CodeConfigGeneric, "max retries must be greater than 0", nil).
			WithModule("transfer").
			WithOperation("NewManager").
			WithField("max_retries", cfg.MaxRetries)
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}

	m := &Manager{
		cfg:       cfg,
		logger:    log,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.client == nil {
		m.client = NewHTTPClient(0, 0)
	}
	m.reporter = progress.OrNoop(m.reporter)
	if m.sleep == nil {
		m.sleep = sleepContext
	}

	return m, nil
}

// Fetch downloads req.URL into req.Destination. A destination already holding the
// known total returns immediately; with req.TotalSize set that takes no request at all.
// Network failures are retried from the current on-disk offset up to the configured
// number of attempts; local filesystem errors are returned at once.
func (m *Manager) Fetch(ctx context.Context, req Request) error {
	if req.Name == "" {
		req.Name = filepath.Base(req.Destination)
	}

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0o755); err != nil {
		return apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to create directory", err).
			WithModule("transfer").
			WithOperation("Fetch").
			WithField("path", filepath.Dir(req.Destination))
	}

	state := model.TransferState{}
	if req.TotalSize > 0 {
		state.TotalBytes = req.TotalSize
		state.TotalKnown = true
	} else if total, ok := recordedTotal(req.Destination); ok {
		// only trusted when the file still matches what the last run finished with
		if onDisk, err := fileSize(req.Destination); err == nil && onDisk == total {
			m.logger.Info("%s was already downloaded (%d bytes), skipping download", req.Name, onDisk)
			return nil
		}
	}

	var (
		lastErr error
		started bool
		begin   = time.Now()
	)

	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		state.Attempt = attempt

		onDisk, err := fileSize(req.Destination)
		if err != nil {
			return err
		}
		state.BytesOnDisk = onDisk

		if state.Complete() {
			m.logger.Info("%s is already complete (%d bytes), skipping download", req.Name, state.BytesOnDisk)
			return nil
		}

		err = m.attempt(ctx, req, &state, &started)
		if err == nil {
			m.recordTotal(req.Destination, state.BytesOnDisk)
			m.reporter.OnComplete(req.Name, state.BytesOnDisk, time.Since(begin))
			return nil
		}
		if ctx.Err() != nil {
			return cancelled(ctx, req)
		}
		if !apperrors.IsRecoverable(err) {
			return err
		}

		lastErr = err
		m.logger.Warn("Download attempt %d/%d failed: %v", attempt, m.cfg.MaxRetries, err)

		if attempt < m.cfg.MaxRetries {
			m.logger.Info("Retrying in %s from byte %d", m.cfg.RetryDelay, state.BytesOnDisk)
			if err := m.sleep(ctx, m.cfg.RetryDelay); err != nil {
				return cancelled(ctx, req)
			}
		}
	}

	return apperrors.NetworkError(apperrors.CodeTransferFailed,
		fmt.Sprintf("transfer failed after %d attempts", m.cfg.MaxRetries), lastErr).
		WithModule("transfer").
		WithOperation("Fetch").
		WithFields(apperrors.Metadata{
			"url":           req.URL,
			"path":          req.Destination,
			"attempts":      m.cfg.MaxRetries,
			"bytes_on_disk": state.BytesOnDisk,
		})
}

func (m *Manager) attempt(ctx context.Context, req Request, state *model.TransferState, started *bool) error {
	if !state.TotalKnown {
		total, known, err := m.Probe(ctx, req.URL)
		if err != nil {
			return err
		}
		if known {
			if total <= 0 {
				return retryable("remote reported a zero total size", nil).WithField("url", req.URL)
			}
			state.TotalBytes = total
			state.TotalKnown = true
			if state.Complete() {
				m.logger.Info("%s is already complete (%d bytes), skipping download", req.Name, state.BytesOnDisk)
				return nil
			}
		}
	}

	if !*started {
		m.reporter.OnStart(req.Name, state.TotalBytes, progress.UnitBytes)
		*started = true
	}

	return m.download(ctx, req, state)
}

// Probe issues a two byte ranged request and reports the total size when the server
// discloses it.
func (m *Manager) Probe(ctx context.Context, rawURL string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	httpReq, err := m.newRequest(ctx, rawURL)
	if err != nil {
		return 0, false, err
	}
	httpReq.Header.Set("Range", "bytes=0-1")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return 0, false, retryable("probe request failed", err).WithField("url", rawURL)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent, http.StatusRequestedRangeNotSatisfiable:
		if _, total, ok := parseContentRange(resp.Header.Get("Content-Range")); ok {
			return total, total >= 0, nil
		}
		return 0, false, nil
	case http.StatusOK:
		if resp.ContentLength >= 0 {
			return resp.ContentLength, true, nil
		}
		return 0, false, nil
	default:
		return 0, false, retryable("probe returned unexpected status", nil).
			WithFields(apperrors.Metadata{"url": rawURL, "status": resp.StatusCode})
	}
}

func (m *Manager) download(ctx context.Context, req Request, state *model.TransferState) error {
	offset := state.BytesOnDisk

	httpReq, err := m.newRequest(ctx, req.URL)
	if err != nil {
		return err
	}
	switch {
	case state.TotalKnown:
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, state.TotalBytes-1))
	case offset > 0:
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return retryable("download request failed", err).WithField("url", req.URL)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if ok && start != offset {
			return retryable("server answered with a different range", nil).
				WithFields(apperrors.Metadata{"url": req.URL, "requested": offset, "received": start})
		}
		if ok && total > 0 {
			state.TotalBytes, state.TotalKnown = total, true
		}

	case http.StatusOK:
		if offset > 0 {
			m.logger.Warn("Server ignored the range request for %s, restarting from zero", req.Name)
			offset = 0
		}
		if resp.ContentLength > 0 {
			state.TotalBytes, state.TotalKnown = resp.ContentLength, true
		}

	case http.StatusRequestedRangeNotSatisfiable:
		if _, total, ok := parseContentRange(resp.Header.Get("Content-Range")); ok && total > 0 && offset >= total {
			state.TotalBytes, state.TotalKnown = total, true
			return nil
		}
		return retryable("requested range not satisfiable", nil).
			WithFields(apperrors.Metadata{"url": req.URL, "offset": offset})

	default:
		return retryable("download failed with unexpected status", nil).
			WithFields(apperrors.Metadata{"url": req.URL, "status": resp.StatusCode})
	}

	file, err := os.OpenFile(req.Destination, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return localError("failed to open destination file", err, req.Destination)
	}
	defer file.Close()

	if offset == 0 {
		if err := file.Truncate(0); err != nil {
			return localError("failed to truncate destination file", err, req.Destination)
		}
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return localError("failed to seek destination file", err, req.Destination)
	}

	reader := progress.NewReader(resp.Body, offset, state.TotalBytes, req.Name, m.reporter)
	buf := make([]byte, copyBufferSize)
	_, copyErr := io.CopyBuffer(&diskWriter{w: file}, reader, buf)
	state.BytesOnDisk = reader.Current()

	if copyErr != nil {
		var we *writeError
		if stdErrors.As(copyErr, &we) {
			return localError("failed to write file to disk", we.err, req.Destination)
		}
		return retryable("download interrupted", copyErr).
			WithFields(apperrors.Metadata{"url": req.URL, "bytes_on_disk": state.BytesOnDisk})
	}

	if err := file.Sync(); err != nil {
		return localError("failed to flush destination file", err, req.Destination)
	}

	if state.TotalKnown && state.BytesOnDisk < state.TotalBytes {
		return retryable("download ended before the expected size", nil).
			WithFields(apperrors.Metadata{"url": req.URL, "bytes_on_disk": state.BytesOnDisk, "total": state.TotalBytes})
	}

	m.logger.Debug("Downloaded %s (%d bytes)", req.Name, state.BytesOnDisk)
	return nil
}

func (m *Manager) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperrors.ValidationError(apperrors.CodeValidationGeneric, "failed to create download request", err).
			WithModule("transfer").
			WithField("url", rawURL)
	}
	req.Header.Set("User-Agent", m.userAgent)
	return req, nil
}

// parseContentRange reads "bytes start-end/total" or "bytes */total". total is -1 when
// the server sends "*".
func parseContentRange(header string) (start, total int64, ok bool) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, false
	}
	rangeSpec := strings.TrimSpace(strings.TrimPrefix(header, "bytes "))

	slash := strings.LastIndexByte(rangeSpec, '/')
	if slash < 0 {
		return 0, 0, false
	}
	rangePart, totalPart := rangeSpec[:slash], rangeSpec[slash+1:]

	total = -1
	if totalPart != "*" {
		n, err := strconv.ParseInt(totalPart, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		total = n
	}

	if rangePart == "*" {
		return 0, total, true
	}
	dash := strings.IndexByte(rangePart, '-')
	if dash <= 0 {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(rangePart[:dash], 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	return start, total, true
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if stdErrors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, localError("failed to inspect destination file", err, path)
	}
	if info.IsDir() {
		return 0, localError("destination is a directory", nil, path)
	}
	return info.Size(), nil
}

// Remove deletes a downloaded file together with its recorded size.
func Remove(path string) error {
	if err := os.Remove(path + totalSuffix); err != nil && !stdErrors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Remove(path)
}

func recordedTotal(path string) (int64, bool) {
	data, err := os.ReadFile(path + totalSuffix)
	if err != nil {
		return 0, false
	}
	total, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	return total, true
}

func (m *Manager) recordTotal(path string, total int64) {
	if total <= 0 {
		return
	}
	if err := os.WriteFile(path+totalSuffix, []byte(strconv.FormatInt(total, 10)), 0o644); err != nil {
		m.logger.Debug("Could not record size of %s: %v", path, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryable(message string, err error) *apperrors.AppError {
	return apperrors.NetworkError(apperrors.CodeNetworkGeneric, message, err).
		WithModule("transfer").
		WithOperation("Fetch")
}

func localError(message string, err error, path string) *apperrors.AppError {
	return apperrors.SystemError(apperrors.CodeSystemGeneric, message, err).
		WithModule("transfer").
		WithOperation("Fetch").
		WithField("path", path)
}

func cancelled(ctx context.Context, req Request) error {
	return apperrors.SystemError(apperrors.CodeSystemGeneric, "transfer cancelled", ctx.Err()).
		WithModule("transfer").
		WithOperation("Fetch").
		WithField("url", req.URL)
}

// writeError marks failures of the local side of a copy so they are not retried.
type writeError struct {
	err error
}

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

type diskWriter struct {
	w io.Writer
}

func (d *diskWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}

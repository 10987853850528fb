// Package keys resolves a target's decryption key from the remote key index.
package keys

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	apperrors "PS3DL/internal/errors"
	"PS3DL/internal/logger"
	"PS3DL/internal/model"
	"PS3DL/internal/transfer"
)

const (
	defaultSuffix          = ".key"
	defaultMaxPackageBytes = 1 << 20
)

// Resolver downloads key packages listed in the remote key index. It holds no index
// state of its own; callers load an Index once and pass it to Resolve.
type Resolver struct {
	baseURL         *url.URL
	cachePath       string
	suffix          string
	maxPackageBytes int64
	userAgent       string
	client          transfer.HTTPClient
	logger          logger.Logger
}

// Option customises Resolver construction.
type Option func(*Resolver)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client transfer.HTTPClient) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// WithSuffix sets the file suffix identifying the key entry inside a package.
func WithSuffix(suffix string) Option {
	return func(r *Resolver) {
		if strings.TrimSpace(suffix) != "" {
			r.suffix = suffix
		}
	}
}

// WithMaxPackageBytes caps the size of a downloaded key package.
func WithMaxPackageBytes(n int64) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxPackageBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) {
		if strings.TrimSpace(ua) != "" {
			r.userAgent = ua
		}
	}
}

// NewResolver constructs a Resolver for the key index at baseURL, caching the index at
// cachePath.
func NewResolver(baseURL, cachePath string, log logger.Logger, opts ...Option) (*Resolver, error) {
	if log == nil {
		return nil, apperrors.SystemError(apperrors.CodeSystemGeneric, "logger must not be nil", nil).
			WithModule("keys").
			WithOperation("NewResolver")
	}

	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.ConfigError(apperrors.CodeConfigGeneric, "invalid key index URL", err).
			WithModule("keys").
			WithOperation("NewResolver").
			WithField("url", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
		if base.RawPath != "" {
			base.RawPath += "/"
		}
	}

	r := &Resolver{
		baseURL:         base,
		cachePath:       cachePath,
		suffix:          defaultSuffix,
		maxPackageBytes: defaultMaxPackageBytes,
		userAgent:       transfer.DefaultUserAgent,
		logger:          log,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = transfer.NewHTTPClient(0, 0)
	}

	return r, nil
}

// LoadIndex returns the cached index, fetching and persisting the remote listing when
// the cache is missing or unreadable.
func (r *Resolver) LoadIndex(ctx context.Context) (Index, error) {
	if r.cachePath != "" {
		index, err := LoadCache(r.cachePath)
		if err == nil {
			r.logger.Info("Loaded %d keys from cache", len(index))
			return index, nil
		}
		if !os.IsNotExist(err) {
			r.logger.Warn("Key cache unreadable, fetching the listing again: %v", err)
		}
	}

	return r.RefreshIndex(ctx)
}

// RefreshIndex fetches the remote listing and replaces the cache.
func (r *Resolver) RefreshIndex(ctx context.Context) (Index, error) {
	listingURL := r.baseURL.String()
	r.logger.Info("Fetching key index from %s", listingURL)

	body, err := r.get(ctx, listingURL, 0)
	if err != nil {
		return nil, err.WithOperation("RefreshIndex")
	}
	defer body.Close()

	index, perr := ParseIndex(body)
	if perr != nil {
		return nil, apperrors.NetworkError(apperrors.CodeNetworkGeneric, "failed to read key index", perr).
			WithModule("keys").
			WithOperation("RefreshIndex").
			WithField("url", listingURL)
	}
	if len(index) == 0 {
		return nil, apperrors.ValidationError(apperrors.CodeValidationGeneric, "key index listing holds no key packages", nil).
			WithModule("keys").
			WithOperation("RefreshIndex").
			WithField("url", listingURL)
	}

	if r.cachePath != "" {
		if err := SaveCache(r.cachePath, index); err != nil {
			r.logger.Warn("Failed to persist key cache at %s: %v", r.cachePath, err)
		}
	}

	r.logger.Info("Cached %d keys", len(index))
	return index, nil
}

// Resolve looks target up in index, downloads its key package and returns the
// normalized key. A missing entry is KEY-404, a malformed package or key is KEY-422.
func (r *Resolver) Resolve(ctx context.Context, index Index, target model.Target) (model.ResolvedKey, error) {
	record, ok := index.Lookup(target.ID)
	if !ok {
		return "", apperrors.NotFoundError(apperrors.CodeKeyNotFound, "no key package listed for target", nil).
			WithModule("keys").
			WithOperation("Resolve").
			WithFields(apperrors.Metadata{"target": target.ID, "index_size": len(index)})
	}

	packageURL := r.PackageURL(record.PackageLocation)
	r.logger.DebugContext(ctx, "downloading key package",
		logger.String("target", target.ID),
		logger.String("url", packageURL),
	)

	body, aerr := r.get(ctx, packageURL, r.maxPackageBytes)
	if aerr != nil {
		return "", aerr.WithOperation("Resolve").WithField("target", target.ID)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, r.maxPackageBytes+1))
	if err != nil {
		return "", apperrors.NetworkError(apperrors.CodeNetworkGeneric, "failed to read key package", err).
			WithModule("keys").
			WithOperation("Resolve").
			WithFields(apperrors.Metadata{"target": target.ID, "url": packageURL})
	}
	if int64(len(data)) > r.maxPackageBytes {
		return "", apperrors.ValidationError(apperrors.CodeKeyFormatInvalid, "key package exceeds size limit", nil).
			WithModule("keys").
			WithOperation("Resolve").
			WithFields(apperrors.Metadata{"target": target.ID, "url": packageURL, "limit": r.maxPackageBytes})
	}

	content, entry, err := ExtractKey(data, r.suffix)
	if err != nil {
		return "", annotate(err, target.ID, packageURL)
	}

	key, err := model.NormalizeKey(content)
	if err != nil {
		return "", annotate(err, target.ID, packageURL).WithField("entry", entry)
	}

	r.logger.Info("Resolved key for %s", target.ID)
	return key, nil
}

// PackageURL builds the download URL of a key package from its decoded location.
func (r *Resolver) PackageURL(location string) string {
	if u, err := url.Parse(location); err == nil && u.IsAbs() {
		return location
	}
	segments := strings.Split(strings.TrimLeft(location, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return r.baseURL.JoinPath(segments...).String()
}

func (r *Resolver) get(ctx context.Context, rawURL string, limit int64) (io.ReadCloser, *apperrors.AppError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperrors.NetworkError(apperrors.CodeNetworkGeneric, "failed to create request", err).
			WithModule("keys").
			WithField("url", rawURL)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperrors.NetworkError(apperrors.CodeNetworkGeneric, "request failed", err).
			WithModule("keys").
			WithField("url", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperrors.NetworkError(apperrors.CodeNetworkGeneric, "unexpected response status", nil).
			WithModule("keys").
			WithFields(apperrors.Metadata{"url": rawURL, "status": resp.StatusCode})
	}
	if limit > 0 && resp.ContentLength > limit {
		resp.Body.Close()
		return nil, apperrors.ValidationError(apperrors.CodeKeyFormatInvalid, "key package exceeds size limit", nil).
			WithModule("keys").
			WithFields(apperrors.Metadata{"url": rawURL, "size": resp.ContentLength, "limit": limit})
	}
	return resp.Body, nil
}

func annotate(err error, targetID, packageURL string) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.
			WithModule("keys").
			WithOperation("Resolve").
			WithFields(apperrors.Metadata{"target": targetID, "url": packageURL})
	}
	return apperrors.ValidationError(apperrors.CodeKeyFormatInvalid, "failed to read key package", err).
		WithModule("keys").
		WithOperation("Resolve").
		WithFields(apperrors.Metadata{"target": targetID, "url": packageURL})
}

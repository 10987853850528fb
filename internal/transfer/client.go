package transfer

import (
	"net"
	"net/http"
	"time"
)

// DefaultUserAgent identifies this downloader to remote servers.
const DefaultUserAgent = "PS3DL/1.0 (Go downloader)"

// HTTPClient represents the subset of http.Client methods required for transfers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient builds the client shared by key resolution and payload transfer.
// timeout bounds one whole request including its body; connectTimeout bounds dialing and
// the TLS handshake.
func NewHTTPClient(timeout, connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

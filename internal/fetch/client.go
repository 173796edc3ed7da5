package fetch

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ClientOptions configures the HTTP client used for retrieval.
type ClientOptions struct {
	// ResponseHeaderTimeout bounds the wait for response headers. Zero means no limit.
	ResponseHeaderTimeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 4
	MaxIdleConnsPerHost int
}

// NewHTTPClient builds a client whose transport is traced with otelhttp.
// There is no overall request timeout: archives may take arbitrarily long to stream.
func NewHTTPClient(opts ClientOptions) *http.Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 4
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		// Content-Length must describe the bytes written to disk.
		DisableCompression: true,
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
	}
}

package client

import (
	"net/http"
	"time"
)

const defaultHTTPIdleTimeoutSeconds = 90

// HTTPOption configures HTTP client behavior.
type HTTPOption func(*httpConfig)

// httpConfig holds HTTP client configuration.
type httpConfig struct {
	transport   http.RoundTripper
	idleTimeout time.Duration
	maxBodyLen  int64

	traceRequests       bool
	traceRequestHeaders bool
}

// WithHTTPTransport sets the HTTP transport.
func WithHTTPTransport(transport http.RoundTripper) HTTPOption {
	return func(c *httpConfig) {
		c.transport = transport
	}
}

// WithHTTPIdleTimeout sets the idle timeout.
func WithHTTPIdleTimeout(timeout time.Duration) HTTPOption {
	return func(c *httpConfig) {
		c.idleTimeout = timeout
	}
}

// WithMaxResponseBodyLen caps how much of a response body ToContent will read.
func WithMaxResponseBodyLen(maxLen int64) HTTPOption {
	return func(c *httpConfig) {
		c.maxBodyLen = maxLen
	}
}

// WithHTTPTraceRequests enables request logging.
func WithHTTPTraceRequests() HTTPOption {
	return func(c *httpConfig) {
		c.traceRequests = true
	}
}

// WithHTTPTraceRequestHeaders enables header logging.
func WithHTTPTraceRequestHeaders() HTTPOption {
	return func(c *httpConfig) {
		c.traceRequestHeaders = true
	}
}

func (c *httpConfig) process(opts ...HTTPOption) {
	for _, opt := range opts {
		opt(c)
	}
}

// NewHTTPClient creates a new HTTP client with the provided options.
// No client-level timeout is set: the caller's context decides how long a
// request may run, and a transport failure resolves the call immediately.
func NewHTTPClient(opts ...HTTPOption) *http.Client {
	cfg := &httpConfig{
		idleTimeout: time.Duration(defaultHTTPIdleTimeoutSeconds) * time.Second,
		transport:   http.DefaultTransport,
	}
	cfg.process(opts...)

	if cfg.traceRequests {
		cfg.transport = NewLoggingTransport(cfg.transport,
			WithTransportLogRequests(true),
			WithTransportLogResponses(true),
			WithTransportLogHeaders(cfg.traceRequestHeaders))
	}

	client := &http.Client{
		Transport: cfg.transport,
	}

	if cfg.idleTimeout > 0 {
		if t, ok := client.Transport.(*http.Transport); ok {
			t.IdleConnTimeout = cfg.idleTimeout
		}
	}

	return client
}

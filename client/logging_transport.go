package client

import (
	"net/http"
	"strings"
	"time"

	"github.com/pitabwire/util"
)

// LoggingTransportOption configures the logging HTTP transport.
type LoggingTransportOption func(*loggingTransport)

// loggingTransport is an HTTP transport that logs requests and responses.
// Bodies are never logged: telemetry payloads carry session identifiers and
// the whole pipeline is supposed to stay out of the guest's way.
type loggingTransport struct {
	transport    http.RoundTripper
	logRequests  bool
	logResponses bool
	logHeaders   bool
}

// NewLoggingTransport creates a new logging HTTP transport.
func NewLoggingTransport(transport http.RoundTripper, opts ...LoggingTransportOption) http.RoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}

	t := &loggingTransport{
		transport:    transport,
		logRequests:  true,
		logResponses: true,
		logHeaders:   false,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// WithTransportLogRequests enables or disables request logging.
func WithTransportLogRequests(enabled bool) LoggingTransportOption {
	return func(t *loggingTransport) {
		t.logRequests = enabled
	}
}

// WithTransportLogResponses enables or disables response logging.
func WithTransportLogResponses(enabled bool) LoggingTransportOption {
	return func(t *loggingTransport) {
		t.logResponses = enabled
	}
}

// WithTransportLogHeaders enables or disables header logging.
func WithTransportLogHeaders(enabled bool) LoggingTransportOption {
	return func(t *loggingTransport) {
		t.logHeaders = enabled
	}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	ctx := req.Context()

	if t.logRequests {
		t.logRequest(req)
	}

	resp, err := t.transport.RoundTrip(req)

	if t.logResponses {
		duration := time.Since(start)

		logger := util.Log(ctx).WithField("duration", duration.String())
		if err != nil {
			logger.WithError(err).Debug("HTTP request failed")
			return resp, err
		}

		if resp != nil {
			logger = logger.WithFields(map[string]any{
				"status":     resp.StatusCode,
				"statusText": http.StatusText(resp.StatusCode),
			})
		}

		logger.Debug("HTTP response received")
	}

	return resp, err
}

func (t *loggingTransport) logRequest(req *http.Request) {
	logger := util.Log(req.Context()).WithFields(map[string]any{
		"method": req.Method,
		"url":    req.URL.String(),
		"host":   req.Host,
	})

	if t.logHeaders {
		headers := make(map[string]string)
		for name, values := range req.Header {
			if len(values) > 0 {
				headers[name] = strings.Join(values, " , ")
			}
		}
		logger = logger.WithField("headers", headers)
	}

	logger.Debug("HTTP request sent")
}

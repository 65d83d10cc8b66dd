package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultMaxResponseBodyLen        = 4 << 20 // locale bundles are small; 4MB is generous
	defaultCircuitBreakerMaxRequests = 3
	defaultCircuitBreakerInterval    = 30 * time.Second
	defaultCircuitBreakerTimeout     = 45 * time.Second
	defaultCircuitBreakerThreshold   = 20
	defaultCircuitBreakerFailureRate = 0.5
)

var ErrResponseTooLarge = errors.New("response body truncated, it exceeds configured limit")

// serverError wraps a 5xx response so the circuit breaker records it as a
// failure, while still allowing callers to read the response body.
type serverError struct {
	statusCode int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error: HTTP %d", e.statusCode)
}

// Manager issues the two kinds of request the kit ever makes: a bundle GET
// and an analytics POST. There are no retries; a send either lands or is
// reported as failed straight away.
type Manager interface {
	Client(ctx context.Context) *http.Client
	SetClient(ctx context.Context, cl *http.Client)

	Invoke(ctx context.Context,
		method string, endpointURL string, payload any,
		headers http.Header) (*InvokeResponse, error)
}

type InvokeResponse struct {
	StatusCode int
	Headers    http.Header
	Body       io.ReadCloser

	maxBodyLen int64
}

func (s *InvokeResponse) Close() error {
	if s.Body != nil {
		return s.Body.Close()
	}
	return nil
}

// IsSuccess reports whether the response carries a 2xx status.
func (s *InvokeResponse) IsSuccess() bool {
	return s.StatusCode >= http.StatusOK && s.StatusCode < http.StatusMultipleChoices
}

// ToContent drains the response body, enforcing the configured size cap.
func (s *InvokeResponse) ToContent(ctx context.Context) ([]byte, error) {
	defer util.CloseAndLogOnError(ctx, s)

	reader := io.Reader(s.Body)

	if s.maxBodyLen > 0 {
		reader = io.LimitReader(s.Body, s.maxBodyLen+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if s.maxBodyLen > 0 && int64(len(data)) > s.maxBodyLen {
		return data[:s.maxBodyLen], ErrResponseTooLarge
	}

	return data, nil
}

// Decode streams a JSON response directly into v without buffering the entire
// body. The response body is closed after decoding.
func (s *InvokeResponse) Decode(ctx context.Context, v any) error {
	defer util.CloseAndLogOnError(ctx, s.Body)
	return json.NewDecoder(s.Body).Decode(v)
}

type invoker struct {
	breakers   sync.Map // map[string]*gobreaker.CircuitBreaker[*http.Response]
	client     *http.Client
	maxBodyLen int64
}

// NewManager creates a new invoker with the provided options.
func NewManager(_ context.Context, opts ...HTTPOption) Manager {
	httpClient := NewHTTPClient(opts...)

	cfg := &httpConfig{maxBodyLen: defaultMaxResponseBodyLen}
	cfg.process(opts...)

	return &invoker{
		client:     httpClient,
		maxBodyLen: cfg.maxBodyLen,
	}
}

func (s *invoker) breakerFor(key string) *gobreaker.CircuitBreaker[*http.Response] {
	if cb, ok := s.breakers.Load(key); ok {
		//nolint:errcheck // only *gobreaker.CircuitBreaker[*http.Response] is stored
		return cb.(*gobreaker.CircuitBreaker[*http.Response])
	}

	st := gobreaker.Settings{
		Name:        "http:" + key,
		MaxRequests: defaultCircuitBreakerMaxRequests,
		Interval:    defaultCircuitBreakerInterval,
		Timeout:     defaultCircuitBreakerTimeout,

		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < defaultCircuitBreakerThreshold {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= defaultCircuitBreakerFailureRate
		},
	}

	//nolint:bodyclose //this is done by consuming party to avoid buffering
	cb := gobreaker.NewCircuitBreaker[*http.Response](st)

	actual, _ := s.breakers.LoadOrStore(key, cb)
	//nolint:errcheck // only *gobreaker.CircuitBreaker[*http.Response] is stored
	return actual.(*gobreaker.CircuitBreaker[*http.Response])
}

func breakerKey(req *http.Request) string {
	return req.Method + " " + req.URL.Host
}

// Client returns the HTTP client used by the invoker.
func (s *invoker) Client(_ context.Context) *http.Client {
	return s.client
}

// SetClient sets the HTTP client used by the invoker.
func (s *invoker) SetClient(_ context.Context, cl *http.Client) {
	s.client = cl
}

func (s *invoker) execute(_ context.Context, req *http.Request) (*http.Response, error) {
	cb := s.breakerFor(breakerKey(req))

	resp, err := cb.Execute(func() (*http.Response, error) {
		resp, doErr := s.client.Do(req)
		if doErr != nil {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			return nil, doErr
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			// Signal a breaker failure but hand the response back.
			return resp, &serverError{statusCode: resp.StatusCode}
		}

		return resp, nil
	})

	// Unwrap serverError so callers can still read the response body.
	var srvErr *serverError
	if err != nil && errors.As(err, &srvErr) && resp != nil {
		return resp, nil
	}

	return resp, err
}

// Invoke sends a JSON request and returns the raw response. A nil payload
// produces a bodyless request.
func (s *invoker) Invoke(
	ctx context.Context,
	method string, endpointURL string, payload any,
	headers http.Header,
) (*InvokeResponse, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpointURL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	return &InvokeResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       resp.Body,
		maxBodyLen: s.maxBodyLen,
	}, nil
}

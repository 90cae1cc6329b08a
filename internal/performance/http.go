package performance

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests; this is the deadline that ends an in-flight
	// iteration after a run is cancelled.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient creates the client shared by every worker.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// HTTPGet is the iteration body: one GET request with no body.
type HTTPGet struct {
	URL     string
	Headers map[string]string
	Client  *http.Client

	// Check decides success; nil means DefaultCheck.
	Check Check
}

// NewHTTPGet creates a GET iteration for url.
func NewHTTPGet(client *http.Client, url string, headers map[string]string, check Check) *HTTPGet {
	if check == nil {
		check = DefaultCheck()
	}
	return &HTTPGet{URL: url, Headers: headers, Client: client, Check: check}
}

// Execute performs the request. Transport errors, timeouts and failed
// checks are returned as *IterationError inside the Outcome.
func (g *HTTPGet) Execute(ctx context.Context) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return Outcome{Err: &IterationError{Kind: KindRequest, Err: fmt.Errorf("failed to build request: %w", err)}}
	}
	for key, value := range g.Headers {
		req.Header.Set(key, value)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return Outcome{Err: &IterationError{Kind: classifyTransportError(err), Err: err}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	out := Outcome{StatusCode: resp.StatusCode, BytesReceived: int64(len(body))}
	if err != nil {
		out.Err = &IterationError{Kind: classifyTransportError(err), Err: fmt.Errorf("failed to read response body: %w", err)}
		return out
	}

	check := g.Check
	if check == nil {
		check = DefaultCheck()
	}
	if err := check.Check(&Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}); err != nil {
		kind := KindCheck
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			kind = KindStatus
		}
		out.Err = &IterationError{Kind: kind, Err: err}
	}
	return out
}

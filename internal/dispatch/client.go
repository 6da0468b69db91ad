// Package dispatch is the HTTP delivery client: a single-shot POST
// against a destination's targetUrl, with three independent timeout axes and
// a pure, unit-testable classifier that tags a failure as retryable or
// terminal.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	// ConnectTimeout guards against an unreachable or overloaded host at the
	// TCP/TLS handshake.
	ConnectTimeout = 5 * time.Second
	// SocketTimeout guards against a stalled stream once bytes start
	// arriving.
	SocketTimeout = 15 * time.Second
	// RequestTimeout is the total wall-clock budget for the full round-trip.
	RequestTimeout = 30 * time.Second
)

// Result is the tagged outcome of one delivery attempt. Exactly one of
// Success or Failure applies; callers should match on Success rather than
// inspect the zero value of Failure.
type Result struct {
	Success bool
	Failure Failure
}

// Failure carries the classified detail of a non-2xx or transport-level
// outcome.
type Failure struct {
	Message    string
	StatusCode int // 0 when the failure never reached the application layer
	Retryable  bool
}

// Client performs the single-shot destination POST.
type Client struct {
	http *http.Client
}

// New builds a Client wired with the three-axis timeout set. The dialer's
// own timeout (and the TLS handshake timeout) enforces the connect axis; the
// socket axis is the transport's ResponseHeaderTimeout, which bounds the wait
// for response headers after the request is written (there is no separate
// read-stall guard on the body); the overall client Timeout enforces the
// outer request axis.
func New() *Client {
	dialer := &net.Dialer{Timeout: ConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   ConnectTimeout,
		ResponseHeaderTimeout: SocketTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   RequestTimeout,
		},
	}
}

// Close releases the client's idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Post delivers payloadJSON to url as a POST with Content-Type:
// application/json, byte-for-byte, and classifies the outcome.
func (c *Client) Post(ctx context.Context, url string, payloadJSON []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadJSON))
	if err != nil {
		return Result{Failure: Failure{Message: err.Error(), Retryable: false}}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Failure: Classify(0, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Success: true}
	}
	return Result{Failure: Classify(resp.StatusCode, nil)}
}

// Classify is the pure failure classifier: network errors are always
// retryable; 429 and 5xx are retryable; every other non-2xx status (3xx,
// and 4xx other than 429) is terminal.
func Classify(statusCode int, transportErr error) Failure {
	if transportErr != nil {
		return Failure{
			Message:   transportErr.Error(),
			Retryable: true,
		}
	}
	retryable := statusCode == http.StatusTooManyRequests || (statusCode >= 500 && statusCode <= 599)
	return Failure{
		Message:    fmt.Sprintf("HTTP %d", statusCode),
		StatusCode: statusCode,
		Retryable:  retryable,
	}
}

package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// Request describes one HTTP call the cache performs on behalf of a caller.
type Request struct {
	// Method is the HTTP method ("GET", "POST", "PUT", "DELETE").
	Method string

	// URL is the absolute request target.
	URL string

	// Body is the JSON request body; nil for GET.
	Body json.RawMessage

	// Header carries additional headers (content type and authorization
	// are set by the transport).
	Header http.Header
}

// Response is the outcome of a completed HTTP exchange. A Response exists
// only when the server answered; transport-level failures are returned as
// *TransportError instead.
type Response struct {
	// Status is the HTTP status code.
	Status int

	// Body is the raw response body, expected to be JSON.
	Body json.RawMessage
}

// OK reports whether the response carries a success status.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Transport performs HTTP requests and returns JSON or failure. The real
// implementation wraps net/http; tests substitute scripted fakes.
//
// Contract: a non-nil error means the exchange never completed (network
// failure, timeout, cancellation) and must be a *TransportError. Server
// rejections complete the exchange and are reported via Response.Status.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// TokenSource supplies the current bearer token for authenticated calls.
// Token storage mechanics live outside the core; an external session
// collaborator implements this.
type TokenSource interface {
	Token() string
}

// HTTPTransport implements Transport over net/http.
//
// It sends JSON bodies, attaches a bearer token when a TokenSource is
// configured, and maps network-level failures to *TransportError so the
// cache can distinguish "server said no" from "couldn't reach the server".
//
// Example:
//
//	transport := offline.NewHTTPTransport(nil, tokenSource)
//	cache := offline.New(st, transport)
type HTTPTransport struct {
	client *http.Client
	tokens TokenSource
}

// NewHTTPTransport creates an HTTPTransport.
//
// Parameters:
//   - client: underlying HTTP client; nil uses a default client. Timeouts
//     are enforced via context by the cache, not on the client.
//   - tokens: optional bearer token source; nil sends unauthenticated calls.
func NewHTTPTransport(client *http.Client, tokens TokenSource) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client, tokens: tokens}
}

// Do executes the request and returns the server's response.
func (t *HTTPTransport) Do(ctx context.Context, req Request) (Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return Response{}, &TransportError{URL: req.URL, Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if t.tokens != nil {
		if token := t.tokens.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Response{}, &TransportError{URL: req.URL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &TransportError{URL: req.URL, Err: err}
	}

	return Response{Status: resp.StatusCode, Body: respBody}, nil
}

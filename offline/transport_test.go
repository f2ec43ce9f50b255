package offline

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func TestHTTPTransport_Do(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer srv.Close()

	transport := NewHTTPTransport(srv.Client(), staticToken("tok-123"))
	resp, err := transport.Do(t.Context(), Request{
		Method: "POST",
		URL:    srv.URL + "/api/results",
		Body:   json.RawMessage(`{"mark":"10.32"}`),
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	if resp.Status != http.StatusCreated {
		t.Errorf("Status = %d, want 201", resp.Status)
	}
	if string(resp.Body) != `{"id":7}` {
		t.Errorf("Body = %s", resp.Body)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if string(gotBody) != `{"mark":"10.32"}` {
		t.Errorf("server saw body %s", gotBody)
	}
}

func TestHTTPTransport_ServerErrorIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	transport := NewHTTPTransport(srv.Client(), nil)
	resp, err := transport.Do(t.Context(), Request{Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("a 500 is a completed exchange, not a transport failure: %v", err)
	}
	if resp.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", resp.Status)
	}
	if resp.OK() {
		t.Error("OK() must be false for 500")
	}
}

func TestHTTPTransport_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listens anymore

	transport := NewHTTPTransport(nil, nil)
	_, err := transport.Do(t.Context(), Request{Method: "GET", URL: url})

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if te.URL != url {
		t.Errorf("TransportError.URL = %q, want %q", te.URL, url)
	}
}

func TestHTTPTransport_NoTokenSource(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	defer srv.Close()

	transport := NewHTTPTransport(srv.Client(), nil)
	if _, err := transport.Do(t.Context(), Request{Method: "GET", URL: srv.URL}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("expected no Authorization header, got %q", gotAuth)
	}
}

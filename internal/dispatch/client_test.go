package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		transportErr  error
		wantRetryable bool
	}{
		{name: "network error always retryable", transportErr: errors.New("dial tcp: connection refused"), wantRetryable: true},
		{name: "429 is retryable", statusCode: http.StatusTooManyRequests, wantRetryable: true},
		{name: "500 is retryable", statusCode: http.StatusInternalServerError, wantRetryable: true},
		{name: "599 is retryable", statusCode: 599, wantRetryable: true},
		{name: "200 is not a failure path but would be terminal if classified", statusCode: http.StatusOK, wantRetryable: false},
		{name: "301 is terminal", statusCode: http.StatusMovedPermanently, wantRetryable: false},
		{name: "400 is terminal", statusCode: http.StatusBadRequest, wantRetryable: false},
		{name: "404 is terminal", statusCode: http.StatusNotFound, wantRetryable: false},
		{name: "401 is terminal", statusCode: http.StatusUnauthorized, wantRetryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.statusCode, tt.transportErr)
			if got.Retryable != tt.wantRetryable {
				t.Errorf("Classify(%d, %v).Retryable = %v, want %v", tt.statusCode, tt.transportErr, got.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestPostSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New()
	defer c.Close()

	res := c.Post(context.Background(), srv.URL, []byte(`{"ok":true}`))
	if !res.Success {
		t.Fatalf("Post() = %+v, want Success", res)
	}
}

func TestPostServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New()
	defer c.Close()

	res := c.Post(context.Background(), srv.URL, []byte(`{}`))
	if res.Success {
		t.Fatalf("Post() = %+v, want Failure", res)
	}
	if !res.Failure.Retryable {
		t.Errorf("Failure.Retryable = false, want true for 503")
	}
	if res.Failure.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Failure.StatusCode = %d, want 503", res.Failure.StatusCode)
	}
}

func TestPostTerminalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New()
	defer c.Close()

	res := c.Post(context.Background(), srv.URL, []byte(`{}`))
	if res.Success || res.Failure.Retryable {
		t.Fatalf("Post() = %+v, want terminal failure", res)
	}
}

func TestPostUnreachable(t *testing.T) {
	c := New()
	defer c.Close()

	res := c.Post(context.Background(), "http://127.0.0.1:1", []byte(`{}`))
	if res.Success {
		t.Fatal("Post() to unreachable host succeeded, want failure")
	}
	if !res.Failure.Retryable {
		t.Errorf("Failure.Retryable = false, want true for a transport error")
	}
}

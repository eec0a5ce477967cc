package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dlmm-tracker/internal/ratelimit"
)

func testClient(opts ...Option) *Client {
	reg := ratelimit.NewRegistry()
	reg.SetRate("test", 1000)
	return NewClient(reg, opts...)
}

func TestClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("missing Accept header, got %q", got)
		}
		w.Write([]byte(`{"value": 42}`))
	}))
	defer srv.Close()

	var out struct {
		Value int `json:"value"`
	}
	if err := testClient().GetJSON(context.Background(), "test", srv.URL, nil, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Value != 42 {
		t.Fatalf("expected 42, got %d", out.Value)
	}
}

func TestClient_RetriesOn500(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	if err := testClient().GetJSON(context.Background(), "test", srv.URL, nil, &out); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_ExhaustedRetriesReturnUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := testClient(WithMaxRetries(1)).GetJSON(context.Background(), "test", srv.URL, nil, nil)
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpstreamError, got %T: %v", err, err)
	}
	if ue.Status != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", ue.Status)
	}
}

func TestClient_429Waits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	start := time.Now()
	if err := testClient().GetJSON(context.Background(), "test", srv.URL, nil, nil); err != nil {
		t.Fatalf("expected success after 429, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("429 retry should wait ≥1s, waited %v", elapsed)
	}
}

func TestClient_TimeoutIsRetriedThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	err := testClient(WithTimeout(20*time.Millisecond), WithMaxRetries(1)).
		GetJSON(context.Background(), "test", srv.URL, nil, nil)
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if ue.Status != 0 {
		t.Fatalf("timeout should report status 0, got %d", ue.Status)
	}
}

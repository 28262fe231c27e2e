package httptransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fathomlabs/agentcore/internal/backoff"
	"github.com/fathomlabs/agentcore/internal/coreerrors"
)

func fastPolicy() backoff.BackoffPolicy {
	return backoff.BackoffPolicy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}
}

func TestSend_SuccessFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := New(WithBackoffPolicy(fastPolicy()))
	body, _, err := tr.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestSend_RetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(WithBackoffPolicy(fastPolicy()), WithMaxRetries(2))
	_, _, err := tr.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestSend_DoesNotRetryAuthenticationError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := New(WithBackoffPolicy(fastPolicy()), WithMaxRetries(2))
	_, _, err := tr.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
	var authErr *coreerrors.AuthenticationError
	if coreerrors.CodeOf(err) != coreerrors.CodeAuthentication {
		t.Errorf("expected authentication error code, got %v (as %T)", coreerrors.CodeOf(err), authErr)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call (no retry), got %d", calls)
	}
}

func TestSend_ExhaustsRetriesOnPersistentServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := New(WithBackoffPolicy(fastPolicy()), WithMaxRetries(2))
	_, _, err := tr.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
	if coreerrors.CodeOf(err) != coreerrors.CodeServer {
		t.Errorf("expected server error code, got %v", coreerrors.CodeOf(err))
	}
	if calls != 3 { // 1 initial + 2 retries
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestSend_RetryAfterSecondsOverridesDelay(t *testing.T) {
	var calls int32
	start := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(WithBackoffPolicy(backoff.BackoffPolicy{InitialMs: 5000, MaxMs: 5000, Factor: 1, Jitter: 0}), WithMaxRetries(1))
	_, _, err := tr.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("expected Retry-After:0 to skip the 5s backoff, took %v", elapsed)
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := New(WithBackoffPolicy(fastPolicy()))
	_, _, err := tr.Send(ctx, Request{Method: http.MethodGet, URL: "http://example.invalid"})
	if err == nil {
		t.Fatal("expected error")
	}
	if coreerrors.CodeOf(err) != coreerrors.CodeConnection {
		t.Errorf("expected connection error code, got %v", coreerrors.CodeOf(err))
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantOK  bool
		wantDur time.Duration
	}{
		{name: "empty", value: "", wantOK: false},
		{name: "seconds", value: "5", wantOK: true, wantDur: 5 * time.Second},
		{name: "negative seconds rejected", value: "-1", wantOK: false},
		{name: "garbage", value: "not-a-date", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := parseRetryAfter(tt.value)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && d != tt.wantDur {
				t.Errorf("duration = %v, want %v", d, tt.wantDur)
			}
		})
	}
}

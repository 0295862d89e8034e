package retry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordSleeper struct {
	delays []time.Duration
}

func (s *recordSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testPolicy(attempts int, sleep Sleeper, r float64) Policy {
	return Policy{
		Operation:      "test",
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		Multiplier:     2.0,
		MaxAttempts:    attempts,
		JitterFraction: 0.30,
		SnippetLimit:   200,
		Sleep:          sleep,
		Now:            time.Now,
		Rand:           func() float64 { return r },
	}
}

func doRequest(t *testing.T, client *http.Client, url string) func(ctx context.Context) (*http.Response, []byte, error) {
	t.Helper()
	return func(ctx context.Context) (*http.Response, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return nil, nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp, nil, err
		}
		return resp, body, nil
	}
}

func TestRetry429WithJitterRange(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limit"))
	}))
	t.Cleanup(server.Close)

	sleep := &recordSleeper{}
	_, _, err := DoHTTP(context.Background(), testPolicy(2, sleep.Sleep, 0.0), nil, doRequest(t, server.Client(), server.URL))

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected wrapped 429 status error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(sleep.delays) != 1 {
		t.Fatalf("expected 1 sleep, got %d", len(sleep.delays))
	}
	if d := sleep.delays[0]; d < 350*time.Millisecond || d > 650*time.Millisecond {
		t.Fatalf("delay out of jitter range: %s", d)
	}
}

func TestRetryAfterSecondsIsHonored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	sleep := &recordSleeper{}
	_, _, err := DoHTTP(context.Background(), testPolicy(2, sleep.Sleep, 0.5), nil, doRequest(t, server.Client(), server.URL))
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if len(sleep.delays) != 1 || sleep.delays[0] != 2*time.Second {
		t.Fatalf("expected one 2s sleep, got %v", sleep.delays)
	}
}

func TestRetry503ThenSuccess(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Model is currently loading"}`))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	sleep := &recordSleeper{}
	resp, body, err := DoHTTP(context.Background(), testPolicy(3, sleep.Sleep, 0.5), nil, doRequest(t, server.Client(), server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 || len(sleep.delays) != 2 {
		t.Fatalf("expected 3 calls and 2 sleeps, got %d and %d", calls, len(sleep.delays))
	}
	if sleep.delays[1] <= sleep.delays[0] {
		t.Fatalf("expected growing backoff, got %v", sleep.delays)
	}
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected final response: %d %s", resp.StatusCode, body)
	}
}

func TestNoRetryOn400(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	sleep := &recordSleeper{}
	resp, _, err := DoHTTP(context.Background(), testPolicy(3, sleep.Sleep, 0.5), nil, doRequest(t, server.Client(), server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || len(sleep.delays) != 0 {
		t.Fatalf("expected single call without sleeps, got %d calls %d sleeps", calls, len(sleep.delays))
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRetryOnEOF(t *testing.T) {
	var calls int
	do := func(ctx context.Context) (*http.Response, []byte, error) {
		calls++
		if calls == 1 {
			return nil, nil, io.ErrUnexpectedEOF
		}
		return &http.Response{StatusCode: http.StatusOK}, []byte("ok"), nil
	}

	sleep := &recordSleeper{}
	resp, _, err := DoHTTP(context.Background(), testPolicy(3, sleep.Sleep, 0.5), nil, do)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected recovery on second call, got %d calls", calls)
	}
}

func TestContextCancelStopsRetry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	sleepFunc := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, _, err := DoHTTP(ctx, testPolicy(3, sleepFunc, 0.5), nil, doRequest(t, server.Client(), server.URL))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAgent = "HedgeIntelligence test (ops@example.com)"

func newTestFetcher(t *testing.T, opts Options) *Fetcher {
	t.Helper()
	if opts.UserAgent == "" {
		opts.UserAgent = testAgent
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 1000
	}
	f, err := New(opts)
	require.NoError(t, err)
	return f
}

func TestNewRejectsEmptyUserAgent(t *testing.T) {
	_, err := New(Options{UserAgent: "  "})
	assert.ErrorIs(t, err, ErrEmptyUserAgent)
}

func TestFetchSendsUserAgentAndAccept(t *testing.T) {
	var gotAgent, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{MaxAttempts: 1})
	body, err := f.Fetch(context.Background(), srv.URL, ContentJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, testAgent, gotAgent)
	assert.Equal(t, "application/json", gotAccept)
}

func TestFetchSpacesRequestStarts(t *testing.T) {
	const minDelay = 40 * time.Millisecond

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{MinDelay: minDelay, Jitter: 10 * time.Millisecond, MaxAttempts: 1})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Fetch(context.Background(), srv.URL, ContentHTML)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 5)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), minDelay, "request %d started too early", i)
	}
}

func TestFetchRetriesRateLimitWithGrowingBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("filing"))
	}))
	defer srv.Close()

	var waits []time.Duration
	f := newTestFetcher(t, Options{
		MaxAttempts: 3,
		BackoffBase: 5 * time.Millisecond,
		OnRetry: func(_ int, wait time.Duration, err error) {
			assert.True(t, IsKind(err, KindRateLimited))
			waits = append(waits, wait)
		},
	})

	body, err := f.Fetch(context.Background(), srv.URL, ContentHTML)
	require.NoError(t, err)
	assert.Equal(t, "filing", string(body))
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, waits, 2)
	assert.Greater(t, waits[1], waits[0])
}

func TestFetchNotFoundIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{MaxAttempts: 3, BackoffBase: time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL, ContentAny)
	require.Error(t, err)

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindNotFound, fe.Kind)
	assert.Equal(t, http.StatusNotFound, fe.Status)
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchServerErrorExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{MaxAttempts: 3, BackoffBase: time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL, ContentAny)

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindServerError, fe.Kind)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchRejectsUnexpectedContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>blocked</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, Options{MaxAttempts: 3, BackoffBase: time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL, ContentJSON)
	assert.True(t, IsKind(err, KindBadContent))
}

func TestFetchTimeoutIsClassified(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := newTestFetcher(t, Options{MaxAttempts: 1, Timeout: 20 * time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL, ContentAny)
	assert.True(t, IsKind(err, KindTimeout))
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := newTestFetcher(t, Options{
		MaxAttempts: 5,
		BackoffBase: 50 * time.Millisecond,
		OnRetry:     func(int, time.Duration, error) { cancel() },
	})
	_, err := f.Fetch(ctx, srv.URL, ContentAny)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStatusKind(t *testing.T) {
	cases := map[int]Kind{
		http.StatusForbidden:           KindRateLimited,
		http.StatusTooManyRequests:     KindRateLimited,
		http.StatusInternalServerError: KindServerError,
		http.StatusServiceUnavailable:  KindServerError,
		http.StatusNotFound:            KindNotFound,
		http.StatusGone:                KindNotFound,
	}
	for status, want := range cases {
		got, failed := statusKind(status)
		assert.True(t, failed, "status %d", status)
		assert.Equal(t, want, got, "status %d", status)
	}
	_, failed := statusKind(http.StatusOK)
	assert.False(t, failed)
}

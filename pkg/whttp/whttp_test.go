package whttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func fastClient(retries int, onAttempt func(string, int)) *Client {
	return New(Options{
		MaxRetries:   retries,
		Timeout:      5 * time.Second,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
		OnAttempt:    onAttempt,
	})
}

// statusSequence answers with codes in order, then 200 "ok" forever.
func statusSequence(codes ...int) (*httptest.Server, *int32) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&hits, 1))
		if n <= len(codes) {
			w.WriteHeader(codes[n-1])
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	return srv, &hits
}

func TestGetRetriesTransientStatus(t *testing.T) {
	srv, hits := statusSequence(http.StatusServiceUnavailable, http.StatusTooManyRequests)
	defer srv.Close()

	var attempts []int
	c := fastClient(3, func(_ string, attempt int) { attempts = append(attempts, attempt) })

	body, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 3, atomic.LoadInt32(hits))
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusNotImplemented} {
		srv, hits := statusSequence(code)
		c := fastClient(3, nil)

		_, err := c.Get(context.Background(), srv.URL)
		srv.Close()

		var fe *FetchError
		require.True(t, errors.As(err, &fe), "status %d", code)
		assert.Equal(t, code, fe.StatusCode)
		assert.False(t, fe.Transient)
		assert.Equal(t, 1, fe.Attempts)
		assert.EqualValues(t, 1, atomic.LoadInt32(hits))
	}
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	srv, hits := statusSequence(500, 502, 503, 504, 500)
	defer srv.Close()

	_, err := fastClient(2, nil).Get(context.Background(), srv.URL)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Transient)
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	assert.Equal(t, 3, fe.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(hits))
}

func TestGetRetriesTruncatedBody(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Content-Length", "100")
			_, _ = w.Write([]byte("partial"))
			return
		}
		_, _ = w.Write([]byte("complete"))
	}))
	defer srv.Close()

	body, err := fastClient(2, nil).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "complete", string(body))
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestGetStopsOnCancelledContext(t *testing.T) {
	srv, _ := statusSequence(503, 503, 503, 503)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fastClient(3, nil).Get(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCheckRetry(t *testing.T) {
	ctx := context.Background()
	for code, want := range map[int]bool{
		200: false, 301: false, 400: false, 404: false,
		429: true, 500: true, 501: false, 502: true, 503: true, 504: true,
	} {
		got, err := CheckRetry(ctx, &http.Response{StatusCode: code}, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got, "status %d", code)
	}
}

func TestBackoffHonoursRetryAfter(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, Backoff(time.Second, time.Minute, 0, resp))

	// Capped at the configured maximum.
	resp.Header.Set("Retry-After", "3600")
	assert.Equal(t, time.Minute, Backoff(time.Second, time.Minute, 0, resp))
}

func TestBackoffGrowsWithJitter(t *testing.T) {
	min, max := 100*time.Millisecond, 2*time.Second
	for attempt := 0; attempt < 10; attempt++ {
		step := min << uint(attempt)
		if step > max {
			step = max
		}
		got := Backoff(min, max, attempt, nil)
		assert.GreaterOrEqual(t, int64(got), int64(step/2), "attempt %d", attempt)
		assert.LessOrEqual(t, int64(got), int64(step), "attempt %d", attempt)
	}
}

func TestSpanPerAttempt(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	srv, _ := statusSequence(http.StatusBadGateway)
	defer srv.Close()

	_, err := fastClient(2, nil).Get(context.Background(), srv.URL+"/drug/drugsfda.json")
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	codes := make([]string, 0, 2)
	for _, s := range spans {
		assert.Equal(t, "HTTP GET", s.Name())
		for _, kv := range s.Attributes() {
			if kv.Key == attribute.Key("http.status_code") {
				codes = append(codes, strconv.FormatInt(kv.Value.AsInt64(), 10))
			}
		}
	}
	assert.Equal(t, []string{"502", "200"}, codes)
}

func TestDecodeText(t *testing.T) {
	utf, err := DecodeText([]byte(`{"sponsor_name":"Laboratoires Sérvier"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"sponsor_name":"Laboratoires Sérvier"}`, string(utf))

	latin1 := []byte{'S', 0xe9, 'r', 'v', 'i', 'e', 'r'}
	out, err := DecodeText(latin1)
	require.NoError(t, err)
	assert.Equal(t, "Sérvier", string(out))
}

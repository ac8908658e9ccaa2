// Package whttp is the retrying HTTP client used for every upstream download.
package whttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultUserAgent = "drugsync/1.0 (+https://open.fda.gov)"

var errBodyRead = errors.New("read body")

// FetchError is returned once a download is given up on: either retries are
// exhausted on a transient failure, or the failure was not worth retrying.
type FetchError struct {
	URL        string
	Attempts   int
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "non-transient"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d after %d attempt(s) (%s): %v", e.URL, e.StatusCode, e.Attempts, kind, e.Err)
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s) (%s): %v", e.URL, e.Attempts, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

type Options struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries   int
	Timeout      time.Duration
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
	Log          Logger
	// OnAttempt is called before every attempt, starting at 1.
	OnAttempt func(url string, attempt int)
	// Transport replaces the default round tripper, mostly for tests.
	Transport http.RoundTripper
}

type Client struct {
	rc        *retryablehttp.Client
	opts      Options
	log       Logger
	userAgent string
}

func New(opts Options) *Client {
	log := opts.Log
	if log == nil {
		log = nopLogger{}
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = time.Second
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = opts.RetryWaitMin
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	rc := retryablehttp.NewClient()
	rc.Logger = leveledLogger{log: log}
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.CheckRetry = CheckRetry
	rc.Backoff = Backoff
	rc.HTTPClient.Timeout = opts.Timeout

	base := opts.Transport
	if base == nil {
		base = rc.HTTPClient.Transport
	}
	rc.HTTPClient.Transport = newTracingTransport(base)

	c := &Client{rc: rc, opts: opts, log: log, userAgent: opts.UserAgent}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, retry int) {
		if retry > 0 {
			log.Warnf("Retrying %s (retry %d/%d)", req.URL, retry, opts.MaxRetries)
		}
		if opts.OnAttempt != nil {
			opts.OnAttempt(req.URL.String(), retry+1)
		}
	}
	rc.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		fe := &FetchError{Attempts: numTries, Transient: true, Err: err}
		if resp != nil {
			fe.URL = resp.Request.URL.String()
			fe.StatusCode = resp.StatusCode
			if fe.Err == nil {
				fe.Err = errors.New(http.StatusText(resp.StatusCode))
			}
			drain(resp)
		}
		if fe.Err != nil && !isTransientErr(err) && resp == nil {
			fe.Transient = false
		}
		return nil, fe
	}
	return c
}

// CheckRetry retries connection errors, timeouts, 429 and 5xx other than 501.
// Everything else, including other 4xx, is returned to the caller as is.
func CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	if resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented {
		return true, nil
	}
	return false, nil
}

// Backoff is exponential in the attempt number with jitter over the upper
// half of each step. A Retry-After header on 429/503 takes precedence.
func Backoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			wait := time.Duration(secs) * time.Second
			if wait > max {
				wait = max
			}
			return wait
		}
	}
	step := float64(min) * math.Pow(2, float64(attemptNum))
	if step > float64(max) || math.IsInf(step, 0) {
		step = float64(max)
	}
	half := step / 2
	return time.Duration(half + rand.Float64()*half)
}

func isTransientErr(err error) bool {
	if err == nil {
		return false
	}
	retry, _ := retryablehttp.DefaultRetryPolicy(context.Background(), nil, err)
	return retry
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// Get downloads url completely. A non-2xx answer that was not retried becomes
// a non-transient FetchError; a body cut off mid-read is retried like a
// connection error.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		body, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}
		var fe *FetchError
		// retryablehttp already retried the request itself; only a body
		// cut off mid-read is retried here.
		if !errors.As(err, &fe) || !errors.Is(err, errBodyRead) || attempt >= c.opts.MaxRetries || ctx.Err() != nil {
			if fe != nil {
				fe.Attempts += attempt
			}
			return nil, err
		}
		wait := Backoff(c.opts.RetryWaitMin, c.opts.RetryWaitMax, attempt, nil)
		c.log.Warnf("Reading %s failed (%v), retrying in %s", url, fe.Err, wait)
		select {
		case <-ctx.Done():
			return nil, &FetchError{URL: url, Attempts: attempt + 1, Transient: true, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Attempts: 0, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.rc.Do(req)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			if fe.URL == "" {
				fe.URL = url
			}
			return nil, fe
		}
		return nil, &FetchError{URL: url, Attempts: 1, Transient: isTransientErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp)
		return nil, &FetchError{URL: url, Attempts: 1, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Attempts: 1, Transient: true, Err: fmt.Errorf("%w: %v", errBodyRead, err)}
	}
	c.log.Debugf("Downloaded %s (%d bytes)", url, len(body))
	return body, nil
}

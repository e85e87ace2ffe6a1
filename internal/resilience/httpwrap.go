package resilience

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const maxRetryAfter = 5 * time.Second

// HTTPClient sends requests through a Breaker with a per-attempt timeout.
// Only GET and HEAD requests without a body are retried, on transport
// errors, 429 and 5xx, up to MaxAttempts. Everything else, including the
// POST that creates a payment, gets exactly one attempt.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// Do sends req using its context. When the breaker refuses the call the
// error is ErrOpenCircuit. A final 429 or 5xx response is returned as is so
// the caller can read its body.
func (cl HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	ctx := req.Context()
	attempts := 1
	if retryable(req) && cl.MaxAttempts > 1 {
		attempts = cl.MaxAttempts
	}

	for attempt := 1; ; attempt++ {
		if !cl.Breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		resp, err := cl.send(req)
		failed := err != nil || resp.StatusCode >= 500
		cl.Breaker.Report(ctx, !failed)

		again := err != nil || resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		if !again || attempt == attempts {
			return resp, err
		}

		wait := Backoff(cl.BaseBackoff, attempt, cl.Jitter)
		evt := cl.Logger.Warn().Str("method", req.Method).Str("path", req.URL.Path).Int("attempt", attempt)
		if err != nil {
			evt = evt.Err(err)
		} else {
			evt = evt.Int("status", resp.StatusCode)
			if after := retryAfter(resp); after > wait {
				wait = after
			}
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			_ = resp.Body.Close()
		}
		evt.Dur("backoff", wait).Msg("outbound_retry")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (cl HTTPClient) send(req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	if timeout <= 0 {
		return cl.Client.Do(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	resp, err := cl.Client.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	// the attempt deadline has to cover reading the body too
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func retryable(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	return req.Body == nil || req.Body == http.NoBody
}

func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

// Backoff returns base doubled for every attempt after the first, spread by
// ±jitter (a fraction, 0.2 means 20%).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base << uint(attempt-1)
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

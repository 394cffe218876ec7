package provider

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/mbakri/corvo/internal/observability"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Retryer reissues failed provider calls with exponential backoff and
// jitter. Only RateLimit and Transient classes are retried.
type Retryer struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      zerolog.Logger
}

// NewRetryer returns a Retryer with the default schedule: 3 attempts,
// delays of roughly 1s and 2s between them.
func NewRetryer() Retryer {
	return Retryer{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
		Logger:      zerolog.Nop(),
	}
}

// Do runs fn until it succeeds, fails non-retryably, or attempts run
// out. The last error is returned as-is.
func (r Retryer) Do(ctx context.Context, provider string, fn func() error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perr *Error
		if !errors.As(lastErr, &perr) || !perr.Retryable() {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := r.backoff(attempt)
		r.Logger.Warn().
			Str("provider", provider).
			Str("class", perr.Class.String()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(lastErr).
			Msg("Provider call failed, retrying")
		observability.RecordProviderRetry(provider, perr.Class.String())

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// DoStream runs one streaming call per attempt, forwarding deltas to
// onDelta as they arrive. A failed attempt is retried only while no
// delta was delivered; once output reached the consumer the partial
// result and its error are returned as-is.
func (r Retryer) DoStream(ctx context.Context, provider string, start func() (*Stream, error), onDelta func(string)) (*Response, error) {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stream, err := start()
		if err == nil {
			for c := range stream.Chunks() {
				if onDelta != nil {
					onDelta(c.Text)
				}
			}
			resp, ferr := stream.Final()
			if ferr == nil {
				return resp, nil
			}
			if stream.Started() {
				return resp, ferr
			}
			err = ferr
		}

		lastErr = err
		var perr *Error
		if !errors.As(err, &perr) || !perr.Retryable() {
			return nil, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := r.backoff(attempt)
		r.Logger.Warn().
			Str("provider", provider).
			Str("class", perr.Class.String()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Streaming call failed before first delta, retrying")
		observability.RecordProviderRetry(provider, perr.Class.String())

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// backoff doubles the base delay per attempt, caps it, and jitters the
// result into [delay/2, delay) so synchronized clients spread out.
func (r Retryer) backoff(attempt int) time.Duration {
	base := r.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	max := r.MaxDelay
	if max <= 0 {
		max = defaultMaxDelay
	}

	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

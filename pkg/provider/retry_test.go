package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryer() Retryer {
	r := NewRetryer()
	r.BaseDelay = time.Millisecond
	r.MaxDelay = 5 * time.Millisecond
	return r
}

func TestRetryTransientThenSuccess(t *testing.T) {
	attempts := 0
	err := fastRetryer().Do(context.Background(), "anthropic", func() error {
		attempts++
		if attempts < 3 {
			return &Error{Provider: "anthropic", Class: ClassTransient, Err: errors.New("overloaded")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnAuth(t *testing.T) {
	attempts := 0
	err := fastRetryer().Do(context.Background(), "anthropic", func() error {
		attempts++
		return &Error{Provider: "anthropic", Class: ClassAuth, Err: errors.New("invalid key")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "auth failures must not be retried")
}

func TestRetryStopsOnFatal(t *testing.T) {
	attempts := 0
	err := fastRetryer().Do(context.Background(), "openai", func() error {
		attempts++
		return &Error{Provider: "openai", Class: ClassFatal, Err: errors.New("unknown model")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := fastRetryer().Do(context.Background(), "anthropic", func() error {
		attempts++
		return &Error{Provider: "anthropic", Class: ClassRateLimit, Err: errors.New("429")}
	})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ClassRateLimit, perr.Class)
	assert.Equal(t, defaultMaxAttempts, attempts)
}

func TestRetryUnclassifiedErrorNotRetried(t *testing.T) {
	attempts := 0
	sentinel := errors.New("plain failure")
	err := fastRetryer().Do(context.Background(), "anthropic", func() error {
		attempts++
		return sentinel
	})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryHonorsCancellation(t *testing.T) {
	r := fastRetryer()
	r.BaseDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.Do(ctx, "anthropic", func() error {
		return &Error{Provider: "anthropic", Class: ClassTransient, Err: errors.New("boom")}
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoStreamRetriesBeforeFirstDelta(t *testing.T) {
	attempts := 0
	resp, err := fastRetryer().DoStream(context.Background(), "anthropic", func() (*Stream, error) {
		attempts++
		s := NewStream()
		if attempts < 2 {
			go s.Finish(nil, &Error{Provider: "anthropic", Class: ClassTransient, Err: errors.New("dropped")})
			return s, nil
		}
		go func() {
			s.Emit(context.Background(), Chunk{Text: "done"})
			s.Finish(&Response{Text: "done"}, nil)
		}()
		return s, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, 2, attempts)
}

func TestDoStreamNeverRetriesAfterDelta(t *testing.T) {
	attempts := 0
	var seen []string
	resp, err := fastRetryer().DoStream(context.Background(), "anthropic", func() (*Stream, error) {
		attempts++
		s := NewStream()
		go func() {
			s.Emit(context.Background(), Chunk{Text: "partial"})
			s.Finish(&Response{Text: "partial"}, &Error{Provider: "anthropic", Class: ClassTransient, Err: errors.New("dropped")})
		}()
		return s, nil
	}, func(delta string) { seen = append(seen, delta) })
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "output already reached the consumer")
	require.NotNil(t, resp)
	assert.Equal(t, "partial", resp.Text)
	assert.Equal(t, []string{"partial"}, seen)
}

func TestBackoffBounds(t *testing.T) {
	r := Retryer{BaseDelay: time.Second, MaxDelay: 4 * time.Second}
	for attempt := 0; attempt < 8; attempt++ {
		d := r.backoff(attempt)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 4*time.Second, "attempt %d", attempt)
	}
	// Jitter stays within [delay/2, delay] for the uncapped attempts.
	assert.LessOrEqual(t, r.backoff(0), time.Second)
	assert.GreaterOrEqual(t, r.backoff(1), time.Second)
}

package provider

import (
	"context"
	"sync/atomic"
)

// Chunk is one streamed text delta.
type Chunk struct {
	Text string
}

// Stream delivers one streaming model call: a finite sequence of
// chunks followed by exactly one final result. The producer closes the
// chunk channel when the call completes or fails; a stream is never
// restarted.
type Stream struct {
	chunks  chan Chunk
	done    chan struct{}
	final   *Response
	err     error
	started atomic.Bool
}

func NewStream() *Stream {
	return &Stream{
		chunks: make(chan Chunk, 16),
		done:   make(chan struct{}),
	}
}

// Chunks returns the delta channel. It is closed when the stream ends.
func (s *Stream) Chunks() <-chan Chunk {
	return s.chunks
}

// Final blocks until the stream ends and returns the accumulated
// response. A non-nil Response alongside a non-nil error is a partial
// failure: deltas already reached the consumer before the fault.
func (s *Stream) Final() (*Response, error) {
	<-s.done
	return s.final, s.err
}

// Started reports whether any delta was delivered. Callers use this to
// decide whether a failed stream may be retried from scratch.
func (s *Stream) Started() bool {
	return s.started.Load()
}

// Emit pushes one delta, dropping it if the consumer went away with
// the context.
func (s *Stream) Emit(ctx context.Context, c Chunk) {
	s.started.Store(true)
	select {
	case s.chunks <- c:
	case <-ctx.Done():
	}
}

// Finish records the terminal result and releases Final waiters.
// Called exactly once by the producer.
func (s *Stream) Finish(resp *Response, err error) {
	s.final = resp
	s.err = err
	close(s.chunks)
	close(s.done)
}

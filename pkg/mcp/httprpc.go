package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// HTTPTransport is the stateless binding: every call is one POST with
// the response in the POST body. There is no persistent connection, so
// a session over it reaches Ready right after the initialize probe.
type HTTPTransport struct {
	url     string
	client  *http.Client
	headers map[string]string

	frames chan []byte

	mu     sync.RWMutex
	closed bool
}

// HTTPOption customizes an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPHeaders adds headers to every POST.
func WithHTTPHeaders(headers map[string]string) HTTPOption {
	return func(t *HTTPTransport) {
		t.headers = headers
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// NewHTTPTransport builds the thin facade around base URL and headers.
func NewHTTPTransport(url string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		url:    url,
		client: &http.Client{},
		frames: make(chan []byte, 8),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send POSTs one frame and routes the response body back as the
// server-to-client frame.
func (t *HTTPTransport) Send(ctx context.Context, frame []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTransportClosed
	}
	t.frames <- body
	return nil
}

// Frames returns the response frame stream.
func (t *HTTPTransport) Frames() <-chan []byte {
	return t.frames
}

// Err always reports nil; a stateless transport has no stream to lose.
func (t *HTTPTransport) Err() error {
	return nil
}

// Close stops accepting frames.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.frames)
	}
	return nil
}

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SSETransport talks to an MCP server over a persistent GET event
// stream for server-to-client frames, with client requests sent as
// separate POSTs. Both directions share one correlation id space.
type SSETransport struct {
	streamURL string
	client    *http.Client
	headers   map[string]string
	logger    zerolog.Logger

	frames chan []byte
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}

	errMu sync.Mutex
	err   error

	// deliverMu fences frame delivery against channel close; both the
	// stream reader and POST replies feed the same channel.
	deliverMu    sync.RWMutex
	framesClosed bool

	// postMu guards postURL; servers may redirect POSTs through an
	// "endpoint" event after the stream opens.
	postMu  sync.RWMutex
	postURL string
}

// SSEOption customizes an SSETransport.
type SSEOption func(*SSETransport)

// WithSSEHeaders adds headers to the stream GET and every POST.
func WithSSEHeaders(headers map[string]string) SSEOption {
	return func(t *SSETransport) {
		t.headers = headers
	}
}

// WithSSEClient replaces the HTTP client.
func WithSSEClient(client *http.Client) SSEOption {
	return func(t *SSETransport) {
		t.client = client
	}
}

// WithSSELogger sets the transport logger.
func WithSSELogger(logger zerolog.Logger) SSEOption {
	return func(t *SSETransport) {
		t.logger = logger
	}
}

// NewSSETransport opens the event stream. POSTs go to the stream URL
// until the server redirects them with an endpoint event.
func NewSSETransport(streamURL string, opts ...SSEOption) (*SSETransport, error) {
	ctx, cancel := context.WithCancel(context.Background())

	t := &SSETransport{
		streamURL: streamURL,
		postURL:   streamURL,
		client:    &http.Client{},
		logger:    zerolog.Nop(),
		frames:    make(chan []byte, 8),
		cancel:    cancel,
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "connect", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "connect", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, &TransportError{Op: "connect", Err: fmt.Errorf("event stream returned %d", resp.StatusCode)}
	}

	go t.readStream(resp.Body)

	return t, nil
}

// Send POSTs one frame. A JSON body in the POST reply is routed into
// the frame stream so it correlates like an SSE-delivered frame.
func (t *SSETransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	t.postMu.RLock()
	postURL := t.postURL
	t.postMu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
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
	if body = bytes.TrimSpace(body); len(body) > 0 && body[0] == '{' {
		t.deliver(body)
	}
	return nil
}

// deliver routes one frame to the session unless the channel is gone.
func (t *SSETransport) deliver(frame []byte) {
	t.deliverMu.RLock()
	defer t.deliverMu.RUnlock()
	if t.framesClosed {
		return
	}
	select {
	case t.frames <- frame:
	case <-t.closed:
	}
}

// Frames returns the server-to-client frame stream.
func (t *SSETransport) Frames() <-chan []byte {
	return t.frames
}

// Err reports why the stream ended; nil after an orderly Close.
func (t *SSETransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close cancels the event stream.
func (t *SSETransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.cancel()
	})
	return nil
}

// readStream parses SSE events until the stream dies.
func (t *SSETransport) readStream(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	var event string
	var data strings.Builder

	dispatch := func() {
		payload := strings.TrimSpace(data.String())
		if payload == "" {
			event = ""
			data.Reset()
			return
		}
		switch event {
		case "endpoint":
			t.setPostURL(payload)
		default:
			t.deliver([]byte(payload))
		}
		event = ""
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		}
	}
	dispatch()

	select {
	case <-t.closed:
	default:
		cause := scanner.Err()
		if cause == nil {
			cause = io.ErrUnexpectedEOF
		}
		t.errMu.Lock()
		t.err = &TransportError{Op: "stream", Err: cause}
		t.errMu.Unlock()
	}

	t.closeOnce.Do(func() {
		close(t.closed)
		t.cancel()
	})

	t.deliverMu.Lock()
	t.framesClosed = true
	close(t.frames)
	t.deliverMu.Unlock()
}

// setPostURL resolves the endpoint event target against the stream URL.
func (t *SSETransport) setPostURL(raw string) {
	base, err := url.Parse(t.streamURL)
	if err != nil {
		return
	}
	ref, err := url.Parse(raw)
	if err != nil {
		t.logger.Warn().Str("endpoint", raw).Msg("Ignoring bad endpoint event")
		return
	}
	resolved := base.ResolveReference(ref).String()

	t.postMu.Lock()
	t.postURL = resolved
	t.postMu.Unlock()
	t.logger.Debug().Str("url", resolved).Msg("POST endpoint updated")
}

package lsp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dshills/lspbridge/internal/logging"
)

// Transport is a bidirectional message channel to one language server.
// Each inbound message handed to TransportHandler.OnMessage is one complete
// JSON-RPC payload; framing is the transport's concern.
type Transport interface {
	// Open establishes the connection. Messages sent before Open completes
	// are queued and flushed in order once the connection is up.
	Open(ctx context.Context) error
	// Send delivers one JSON-RPC payload.
	Send(data []byte) error
	// Close tears the connection down. It is idempotent.
	Close() error
	// Status reports the transport's own view of the connection.
	Status() ConnectionStatus
}

// TransportHandler receives transport events. Any field may be nil.
// OnClose and OnError are terminal and at most one of them fires.
type TransportHandler struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func()
	OnError   func(err error)
}

// TransportOption configures a transport.
type TransportOption func(*transportOptions)

type transportOptions struct {
	log          *logging.Logger
	dialer       *websocket.Dialer
	header       http.Header
	writeTimeout time.Duration
}

// WithTransportLogger sets the transport logger.
func WithTransportLogger(l *logging.Logger) TransportOption {
	return func(o *transportOptions) { o.log = l }
}

// WithWebSocketDialer overrides the gorilla dialer.
func WithWebSocketDialer(d *websocket.Dialer) TransportOption {
	return func(o *transportOptions) { o.dialer = d }
}

// WithHandshakeHeader adds HTTP headers to the WebSocket handshake.
func WithHandshakeHeader(h http.Header) TransportOption {
	return func(o *transportOptions) { o.header = h }
}

// NewTransport builds the transport described by cfg. Only WebSocket
// transports can be built; a worker config yields ErrTransportUnsupported.
func NewTransport(cfg TransportConfig, h TransportHandler, opts ...TransportOption) (Transport, error) {
	switch cfg.Type {
	case TransportWebSocket:
		return NewWebSocketTransport(cfg.URL, cfg.ContentLength, h, opts...), nil
	case TransportWorker:
		return nil, fmt.Errorf("%w: worker %q", ErrTransportUnsupported, cfg.WorkerPath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrTransportUnsupported, cfg.Type)
	}
}

// WebSocketTransport carries JSON-RPC over a WebSocket, either one message
// per text frame (raw mode) or Content-Length framed inside the frames.
type WebSocketTransport struct {
	url           string
	contentLength bool
	handler       TransportHandler
	opts          transportOptions

	mu      sync.Mutex
	conn    *websocket.Conn
	queue   [][]byte
	status  ConnectionStatus
	closed  bool
	decoder FrameDecoder

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	endOnce sync.Once
}

// NewWebSocketTransport creates an unopened WebSocket transport.
func NewWebSocketTransport(url string, contentLength bool, h TransportHandler, opts ...TransportOption) *WebSocketTransport {
	o := transportOptions{
		log:          logging.Nop(),
		dialer:       websocket.DefaultDialer,
		writeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &WebSocketTransport{
		url:           url,
		contentLength: contentLength,
		handler:       h,
		opts:          o,
	}
}

// Open dials the server, flushes queued messages in order and starts the read loop.
func (t *WebSocketTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.status = StatusConnecting
	t.mu.Unlock()

	conn, resp, err := t.opts.dialer.DialContext(ctx, t.url, t.opts.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		err = fmt.Errorf("dial %s: %w", t.url, err)
		t.fail(err)
		return err
	}

	// Hold writeMu across publishing conn and draining the queue so a
	// concurrent Send cannot overtake queued messages.
	t.writeMu.Lock()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.writeMu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	t.conn = conn
	t.status = StatusConnected
	queued := t.queue
	t.queue = nil
	t.mu.Unlock()

	var flushErr error
	for _, data := range queued {
		if flushErr = t.write(conn, data); flushErr != nil {
			break
		}
	}
	t.writeMu.Unlock()

	if flushErr != nil {
		t.fail(flushErr)
		_ = conn.Close()
		return flushErr
	}

	t.opts.log.Debug("websocket open: %s (queued=%d)", t.url, len(queued))
	if t.handler.OnOpen != nil {
		t.handler.OnOpen()
	}
	go t.readLoop(conn)
	return nil
}

// Send writes one JSON-RPC payload, queueing it if the socket is not open yet.
func (t *WebSocketTransport) Send(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	conn := t.conn
	if conn == nil {
		t.queue = append(t.queue, append([]byte(nil), data...))
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.write(conn, data)
}

// Queued returns the number of messages waiting for the socket to open.
func (t *WebSocketTransport) Queued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Close closes the socket, drops queued messages and clears the framing buffer.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.status = StatusDisconnected
	t.queue = nil
	conn := t.conn
	t.mu.Unlock()

	t.decoder.Reset()

	var err error
	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = conn.Close()
	}
	t.end(nil)
	return err
}

// Status reports the transport's connection state.
func (t *WebSocketTransport) Status() ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *WebSocketTransport) write(conn *websocket.Conn, data []byte) error {
	if t.contentLength {
		data = EncodeFrame(data)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(t.opts.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			local := t.closed
			t.mu.Unlock()
			switch {
			case local, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				t.mu.Lock()
				t.status = StatusDisconnected
				t.mu.Unlock()
				t.decoder.Reset()
				t.end(nil)
			default:
				t.fail(fmt.Errorf("websocket read: %w", err))
				_ = conn.Close()
			}
			return
		}

		if !t.contentLength {
			t.deliver(data)
			continue
		}
		for _, msg := range t.decoder.Feed(data) {
			t.deliver(msg)
		}
	}
}

func (t *WebSocketTransport) deliver(data []byte) {
	if t.handler.OnMessage != nil {
		t.handler.OnMessage(data)
	}
}

// fail records a socket-level error. No reconnect is attempted.
func (t *WebSocketTransport) fail(err error) {
	t.mu.Lock()
	t.status = StatusError
	t.mu.Unlock()
	t.decoder.Reset()
	t.opts.log.Warn("websocket error: %v", err)
	t.end(err)
}

func (t *WebSocketTransport) end(err error) {
	t.endOnce.Do(func() {
		if err != nil && t.handler.OnError != nil {
			t.handler.OnError(err)
			return
		}
		if err == nil && t.handler.OnClose != nil {
			t.handler.OnClose()
		}
	})
}

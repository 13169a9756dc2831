package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tidwall/gjson"

	"github.com/dshills/lspbridge/internal/logging"
)

// Client is the surface the bridge uses to talk to one initialized language
// server. Capabilities are captured once during the initialize handshake.
type Client interface {
	// Request sends a request and decodes the result into result (may be nil).
	Request(ctx context.Context, method string, params, result any) error
	// Notify sends a notification.
	Notify(ctx context.Context, method string, params any) error
	// Capabilities returns the capabilities from the initialize result.
	Capabilities() ServerCapabilities
	// ServerInfo returns the server's self-description, if it sent one.
	ServerInfo() *ServerInfo
	// Close shuts the server session down and closes the transport.
	Close() error
	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}
	// Err returns the transport error that ended the connection, or nil.
	Err() error
}

// Dialer builds and initializes a Client for cfg. onDiagnostics receives every
// publishDiagnostics notification before the client processes it.
type Dialer func(ctx context.Context, cfg ServerConfig, onDiagnostics func(PublishDiagnosticsParams)) (Client, error)

// ClientOption configures clients built by Connect.
type ClientOption func(*clientOptions)

type clientOptions struct {
	log             *logging.Logger
	transportOpts   []TransportOption
	shutdownTimeout time.Duration
	clientName      string
	clientVersion   string
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(o *clientOptions) { o.log = l }
}

// WithTransportOptions passes options through to the transport.
func WithTransportOptions(opts ...TransportOption) ClientOption {
	return func(o *clientOptions) { o.transportOpts = append(o.transportOpts, opts...) }
}

// WithShutdownTimeout bounds the shutdown request sent by Close.
func WithShutdownTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.shutdownTimeout = d }
}

// WithClientInfo sets the clientInfo announced in initialize.
func WithClientInfo(name, version string) ClientOption {
	return func(o *clientOptions) {
		o.clientName = name
		o.clientVersion = version
	}
}

// WebSocketDialer returns the Dialer used by default in a Registry.
func WebSocketDialer(opts ...ClientOption) Dialer {
	return func(ctx context.Context, cfg ServerConfig, onDiagnostics func(PublishDiagnosticsParams)) (Client, error) {
		return Connect(ctx, cfg, onDiagnostics, opts...)
	}
}

type rpcClient struct {
	serverID string
	conn     *jsonrpc2.Conn
	stream   *tapStream
	log      *logging.Logger
	opts     clientOptions
	settings []byte

	caps ServerCapabilities
	info *ServerInfo

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// Connect opens the transport described by cfg, runs the initialize
// handshake and returns the ready client. The socket is opened concurrently
// with the initialize request, which waits in the transport's pre-open queue.
func Connect(ctx context.Context, cfg ServerConfig, onDiagnostics func(PublishDiagnosticsParams), opts ...ClientOption) (Client, error) {
	o := clientOptions{
		log:             logging.Nop(),
		shutdownTimeout: 500 * time.Millisecond,
		clientName:      "lspbridge",
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.WithField("server", cfg.ID)

	c := &rpcClient{serverID: cfg.ID, log: log, opts: o}
	if cfg.Client != nil && len(cfg.Client.Settings) > 0 {
		if data, err := json.Marshal(cfg.Client.Settings); err == nil {
			c.settings = data
		}
	}

	stream := newTapStream(onDiagnostics, log)
	c.stream = stream
	transport, err := NewTransport(cfg.Transport, TransportHandler{
		OnMessage: stream.deliver,
		OnClose:   func() { c.terminate(nil) },
		OnError:   c.terminate,
	}, append([]TransportOption{WithTransportLogger(log)}, o.transportOpts...)...)
	if err != nil {
		return nil, err
	}
	stream.transport = transport
	c.conn = jsonrpc2.NewConn(context.Background(), stream, jsonrpc2.HandlerWithError(c.handle),
		jsonrpc2.SetLogger(rpcLogger{log}))

	go func() {
		// Failures surface through OnError and end the pending initialize call.
		_ = transport.Open(ctx)
	}()

	if err := c.initialize(ctx, cfg); err != nil {
		_ = c.conn.Close()
		if terr := c.Err(); terr != nil {
			return nil, terr
		}
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return c, nil
}

func (c *rpcClient) initialize(ctx context.Context, cfg ServerConfig) error {
	params := InitializeParams{
		ProcessID:    os.Getpid(),
		ClientInfo:   &ClientInfo{Name: c.opts.clientName, Version: c.opts.clientVersion},
		Capabilities: DefaultClientCapabilities(),
	}
	if cfg.Client != nil {
		params.RootURI = cfg.Client.RootURI
		params.WorkspaceFolders = cfg.Client.WorkspaceFolders
		params.InitializationOptions = cfg.Client.InitializationOptions
	}

	var result InitializeResult
	if err := c.conn.Call(ctx, MethodInitialize, params, &result); err != nil {
		return err
	}
	c.caps = result.Capabilities
	c.info = result.ServerInfo

	if err := c.conn.Notify(ctx, MethodInitialized, InitializedParams{}); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}

	name := "unknown"
	if c.info != nil {
		name = c.info.Name
	}
	c.log.Info("initialized server %s (hover=%t codeAction=%t)", name, c.caps.SupportsHover(), c.caps.SupportsCodeActions())
	return nil
}

// Request implements Client.
func (c *rpcClient) Request(ctx context.Context, method string, params, result any) error {
	return c.conn.Call(ctx, method, params, result)
}

// Notify implements Client.
func (c *rpcClient) Notify(ctx context.Context, method string, params any) error {
	return c.conn.Notify(ctx, method, params)
}

// Capabilities implements Client.
func (c *rpcClient) Capabilities() ServerCapabilities { return c.caps }

// ServerInfo implements Client.
func (c *rpcClient) ServerInfo() *ServerInfo { return c.info }

// Done implements Client.
func (c *rpcClient) Done() <-chan struct{} { return c.conn.DisconnectNotify() }

// Err implements Client.
func (c *rpcClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends shutdown and exit when the connection is still alive, then
// closes it. It is idempotent.
func (c *rpcClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		select {
		case <-c.conn.DisconnectNotify():
		default:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.shutdownTimeout)
			if callErr := c.conn.Call(ctx, MethodShutdown, nil, nil); callErr == nil {
				_ = c.conn.Notify(ctx, MethodExit, nil)
			} else {
				c.log.Debug("shutdown request failed: %v", callErr)
			}
			cancel()
		}
		err = c.conn.Close()
	})
	if IsClosedError(err) {
		return nil
	}
	return err
}

// terminate records why the transport ended and stops the stream, so the
// JSON-RPC connection closes and pending calls return. It may run while the
// connection is already closing, so it must not call into the connection.
func (c *rpcClient) terminate(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.stream.shutdown()
}

// handle answers server-to-client traffic.
func (c *rpcClient) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case MethodPublishDiagnostics:
		// Already delivered by the stream tap.
		return nil, nil

	case MethodLogMessage, MethodShowMessage:
		var p LogMessageParams
		if req.Params != nil && json.Unmarshal(*req.Params, &p) == nil {
			c.log.Debug("%s: %s", req.Method, p.Message)
		}
		return nil, nil

	case MethodConfiguration:
		var p ConfigurationParams
		if req.Params == nil || json.Unmarshal(*req.Params, &p) != nil {
			return []any{}, nil
		}
		return c.configuration(p.Items), nil

	case MethodRegisterCapability, MethodWorkDoneCreate:
		return nil, nil

	case MethodApplyEdit:
		return ApplyWorkspaceEditResult{Applied: false, FailureReason: "server-initiated edits are not supported"}, nil
	}

	if req.Notif {
		return nil, nil
	}
	c.log.Debug("unhandled server request %s", req.Method)
	return nil, &jsonrpc2.Error{Code: CodeMethodNotFound, Message: "method not supported: " + req.Method}
}

// rpcLogger routes the JSON-RPC connection's own reports (protocol errors,
// unmatched responses, handler failures) into the client logger.
type rpcLogger struct {
	log *logging.Logger
}

// Printf implements jsonrpc2.Logger.
func (l rpcLogger) Printf(format string, args ...any) {
	l.log.Warn(strings.TrimSuffix(format, "\n"), args...)
}

// configuration resolves each requested section against the configured
// settings. Dotted sections select nested values.
func (c *rpcClient) configuration(items []ConfigurationItem) []any {
	out := make([]any, len(items))
	for i, item := range items {
		if len(c.settings) == 0 {
			continue
		}
		if item.Section == "" {
			out[i] = json.RawMessage(c.settings)
			continue
		}
		if res := gjson.GetBytes(c.settings, item.Section); res.Exists() {
			out[i] = json.RawMessage(res.Raw)
		}
	}
	return out
}

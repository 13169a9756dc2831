package lsp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeServer is a minimal language server behind a WebSocket endpoint.
type fakeServer struct {
	t             *testing.T
	srv           *httptest.Server
	contentLength bool
	capabilities  map[string]any

	// reply, when set, answers requests other than initialize and shutdown.
	reply func(method string, params json.RawMessage) any

	mu       sync.Mutex
	conns    []*fakeConn
	received []json.RawMessage
}

type fakeConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newFakeServer(t *testing.T, contentLength bool) *fakeServer {
	t.Helper()
	f := &fakeServer{
		t:             t,
		contentLength: contentLength,
		capabilities:  map[string]any{"hoverProvider": true, "codeActionProvider": true},
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &fakeConn{ws: ws}
		f.mu.Lock()
		f.conns = append(f.conns, c)
		f.mu.Unlock()
		f.serve(c)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) URL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeServer) config(id string) ServerConfig {
	return ServerConfig{
		ID:             id,
		Name:           id,
		Enabled:        true,
		FileExtensions: []string{"tex"},
		Transport:      TransportConfig{Type: TransportWebSocket, URL: f.URL(), ContentLength: f.contentLength},
		Client:         &ClientConfig{RootURI: "file:///project"},
	}
}

func (f *fakeServer) serve(c *fakeConn) {
	var dec FrameDecoder
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msgs := [][]byte{data}
		if f.contentLength {
			msgs = dec.Feed(data)
		}
		for _, m := range msgs {
			f.handle(c, m)
		}
	}
}

func (f *fakeServer) handle(c *fakeConn, msg []byte) {
	f.mu.Lock()
	f.received = append(f.received, append(json.RawMessage(nil), msg...))
	f.mu.Unlock()

	id := gjson.GetBytes(msg, "id")
	if !id.Exists() {
		return
	}
	method := gjson.GetBytes(msg, "method").String()
	if method == "" {
		// Response to a server-initiated request.
		return
	}

	var result any
	switch method {
	case MethodInitialize:
		result = map[string]any{
			"capabilities": f.capabilities,
			"serverInfo":   map[string]any{"name": "fake", "version": "1.0"},
		}
	case MethodShutdown:
		result = nil
	default:
		if f.reply != nil {
			result = f.reply(method, json.RawMessage(gjson.GetBytes(msg, "params").Raw))
		}
	}
	f.send(c, map[string]any{"jsonrpc": "2.0", "id": json.RawMessage(id.Raw), "result": result})
}

func (f *fakeServer) send(c *fakeConn, v any) {
	data, err := json.Marshal(v)
	require.NoError(f.t, err)
	f.sendRaw(c, data)
}

func (f *fakeServer) sendRaw(c *fakeConn, data []byte) {
	if f.contentLength {
		data = EncodeFrame(data)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, data)
}

// notify sends a notification on every open connection.
func (f *fakeServer) notify(method string, params any) {
	for _, c := range f.connections() {
		f.send(c, map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
	}
}

// request sends a server-to-client request on every open connection.
func (f *fakeServer) request(id int, method string, params any) {
	for _, c := range f.connections() {
		f.send(c, map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
	}
}

// broadcastRaw writes data verbatim, framing included when enabled.
func (f *fakeServer) broadcastRaw(data []byte) {
	for _, c := range f.connections() {
		f.sendRaw(c, data)
	}
}

// drop kills every connection without a close handshake.
func (f *fakeServer) drop() {
	for _, c := range f.connections() {
		_ = c.ws.UnderlyingConn().Close()
	}
}

// closeGracefully sends a normal close frame on every connection.
func (f *fakeServer) closeGracefully() {
	for _, c := range f.connections() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	}
}

func (f *fakeServer) connections() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

func (f *fakeServer) connectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// methods returns the method of every received message, in order.
func (f *fakeServer) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.received {
		if method := gjson.GetBytes(m, "method").String(); method != "" {
			out = append(out, method)
		}
	}
	return out
}

// messages returns every received message with the given method.
func (f *fakeServer) messages(method string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, m := range f.received {
		if gjson.GetBytes(m, "method").String() == method {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeServer) waitForMethod(method string) json.RawMessage {
	f.t.Helper()
	var found json.RawMessage
	require.Eventually(f.t, func() bool {
		msgs := f.messages(method)
		if len(msgs) == 0 {
			return false
		}
		found = msgs[len(msgs)-1]
		return true
	}, 2*time.Second, 5*time.Millisecond, "server never received %s", method)
	return found
}

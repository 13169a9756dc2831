package lsp

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tidwall/gjson"

	"github.com/dshills/lspbridge/internal/logging"
)

// tapStream adapts a Transport to jsonrpc2.ObjectStream. Every inbound
// message is checked before the JSON-RPC connection sees it: payloads the
// connection could not decode as a request or response are dropped, since one
// decode error ends its read loop, and publishDiagnostics notifications are
// handed to the tap first.
type tapStream struct {
	transport Transport
	tap       func(PublishDiagnosticsParams)
	log       *logging.Logger

	in        chan []byte
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

var _ jsonrpc2.ObjectStream = (*tapStream)(nil)

func newTapStream(tap func(PublishDiagnosticsParams), log *logging.Logger) *tapStream {
	return &tapStream{
		tap:  tap,
		log:  log,
		in:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

// deliver is the transport's OnMessage hook. It blocks when the connection
// falls behind, which keeps per-server message order intact.
func (s *tapStream) deliver(data []byte) {
	if !gjson.ValidBytes(data) {
		s.log.Debug("dropping malformed message (%d bytes)", len(data))
		return
	}
	msg := gjson.ParseBytes(data)
	if !msg.IsObject() || !isRPCMessage(msg) {
		s.log.Debug("dropping message that is neither request nor response (%d bytes)", len(data))
		return
	}

	if s.tap != nil && msg.Get("method").String() == MethodPublishDiagnostics {
		var msg struct {
			Params PublishDiagnosticsParams `json:"params"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("ignoring undecodable diagnostics: %v", err)
		} else {
			s.tap(msg.Params)
		}
	}

	select {
	case s.in <- data:
	case <-s.done:
	}
}

// WriteObject implements jsonrpc2.ObjectStream.
func (s *tapStream) WriteObject(obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.transport.Send(data)
}

// ReadObject implements jsonrpc2.ObjectStream.
func (s *tapStream) ReadObject(v interface{}) error {
	select {
	case data := <-s.in:
		return json.Unmarshal(data, v)
	case <-s.done:
		return io.EOF
	}
}

// shutdown makes ReadObject return io.EOF, which lets the JSON-RPC
// connection close itself. It never calls back into the connection.
func (s *tapStream) shutdown() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Close implements jsonrpc2.ObjectStream.
func (s *tapStream) Close() error {
	s.shutdown()
	var err error
	s.closeOnce.Do(func() {
		if s.transport != nil {
			err = s.transport.Close()
		}
	})
	return err
}

// isRPCMessage reports whether msg decodes as a JSON-RPC request (a string
// method, no result or error, an integer or string id when present) or a
// response (a non-negative integer or string id with a result or an error
// object).
func isRPCMessage(msg gjson.Result) bool {
	id := msg.Get("id")
	if method := msg.Get("method"); method.Exists() {
		if method.Type != gjson.String || msg.Get("result").Exists() || msg.Get("error").Type != gjson.Null {
			return false
		}
		switch id.Type {
		case gjson.Null, gjson.String:
			return true
		case gjson.Number:
			_, err := strconv.ParseInt(id.Raw, 10, 64)
			return err == nil
		}
		return false
	}

	switch id.Type {
	case gjson.String:
	case gjson.Number:
		if _, err := strconv.ParseUint(id.Raw, 10, 64); err != nil {
			return false
		}
	default:
		return false
	}
	if e := msg.Get("error"); e.Type != gjson.Null {
		if !e.IsObject() {
			return false
		}
		if _, err := strconv.ParseInt(e.Get("code").Raw, 10, 64); err != nil {
			return false
		}
		m := e.Get("message")
		return !m.Exists() || m.Type == gjson.String
	}
	return msg.Get("result").Exists()
}

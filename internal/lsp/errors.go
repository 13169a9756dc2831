package lsp

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
)

// Standard errors returned by the bridge.
var (
	// ErrUnknownServer indicates no config is registered under the given id.
	ErrUnknownServer = errors.New("unknown server id")

	// ErrInvalidConfig indicates a server config failed validation.
	ErrInvalidConfig = errors.New("invalid server config")

	// ErrTransportUnsupported indicates the transport type cannot be constructed here.
	ErrTransportUnsupported = errors.New("transport type not supported")

	// ErrNotConnected indicates the server has no live client.
	ErrNotConnected = errors.New("server not connected")

	// ErrClosed indicates the transport or client has been closed.
	ErrClosed = errors.New("connection closed")

	// ErrInvalidResponse indicates an invalid response from the server.
	ErrInvalidResponse = errors.New("invalid response from server")
)

// JSON-RPC error codes the bridge tells apart.
const (
	CodeMethodNotFound = jsonrpc2.CodeMethodNotFound

	// LSP-specific errors
	CodeRequestCancelled int64 = -32800
	CodeContentModified  int64 = -32801
)

// IsRPCError reports whether err carries a JSON-RPC error response and returns its code.
func IsRPCError(err error) (int64, bool) {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code, true
	}
	return 0, false
}

// ServerError attributes an error to a configured server.
type ServerError struct {
	ServerID string
	Err      error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s: %v", e.ServerID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}

// IsClosedError reports whether err only says the connection is gone,
// either at the socket or at the JSON-RPC layer.
func IsClosedError(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, jsonrpc2.ErrClosed) || errors.Is(err, websocket.ErrCloseSent)
}

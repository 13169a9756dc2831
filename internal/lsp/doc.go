// Package lsp connects the bridge to language servers reachable over
// WebSockets.
//
// A Registry holds the configured servers and keeps one connection per
// enabled server that has a client config:
//
//	reg := lsp.NewRegistry(lsp.WithLogger(log))
//	defer reg.Close()
//
//	_ = reg.RegisterConfig(lsp.ServerConfig{
//	    ID:             "gopls",
//	    Enabled:        true,
//	    FileExtensions: []string{"go"},
//	    Transport:      lsp.TransportConfig{Type: lsp.TransportWebSocket, URL: "ws://localhost:4389"},
//	    Client:         &lsp.ClientConfig{RootURI: "file:///"},
//	})
//
//	for _, sc := range reg.AllClientsForFile("main.go") {
//	    var hover lsp.Hover
//	    _ = sc.Client.Request(ctx, lsp.MethodHover, params, &hover)
//	}
//
// # Connections
//
// Each connection moves through Disconnected, Connecting, Connected and
// Error. Registering, updating or reconnecting a server starts a fresh
// attempt, and any result from an older attempt is discarded. Observers
// subscribe with OnStatusChange and OnDiagnostics; both return a function
// that removes the listener.
//
// # Transport
//
// WebSocketTransport carries one JSON-RPC message per text frame, or
// Content-Length framed bodies when the server expects them. Messages sent
// before the socket opens are queued and flushed in order. Client runs the
// initialize handshake over the transport using sourcegraph/jsonrpc2.
//
// # Positions
//
// PositionConverter maps between flat document offsets and LSP
// line/character positions measured in UTF-16 code units.
package lsp

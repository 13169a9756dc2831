package lsp

import "fmt"

// ConnectionStatus is the connection state of one configured server.
type ConnectionStatus int

const (
	// StatusDisconnected means no live client exists.
	StatusDisconnected ConnectionStatus = iota
	// StatusConnecting means a connection attempt is in flight.
	StatusConnecting
	// StatusConnected means the client finished the initialize handshake.
	StatusConnected
	// StatusError means the last connection attempt or the live socket failed.
	StatusError
)

// String returns a human-readable status name.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ConnectionStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*s = StatusDisconnected
	case "connecting":
		*s = StatusConnecting
	case "connected":
		*s = StatusConnected
	case "error":
		*s = StatusError
	default:
		return fmt.Errorf("unknown connection status %q", text)
	}
	return nil
}

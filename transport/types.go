package transport

import (
	"context"
	"net"
)

// State is the lifecycle state of a Framer.
type State int32

const (
	// StateDisconnected is the initial state.
	StateDisconnected State = iota
	// StateHandshaking is entered while dialing and sending the nonce.
	StateHandshaking
	// StateEstablished allows Send and Receive.
	StateEstablished
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Dialer opens the underlying stream. *net.Dialer and the SOCKS5 dialer
// from golang.org/x/net/proxy satisfy it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Conn is the framed, obfuscated connection used by the session layer.
type Conn interface {
	Connect(ctx context.Context, address string) error
	Send(payload []byte) error
	Receive() ([]byte, error)
	Close() error
	State() State
}

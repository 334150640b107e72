package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/mtcore/limits"
)

var (
	// ErrNotConnected is returned by Send and Receive before a handshake.
	ErrNotConnected = errors.New("transport not connected")
	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("transport already connected")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport closed")
	// ErrConnectionLost wraps socket errors. The connection is unusable afterwards.
	ErrConnectionLost = errors.New("connection lost")
	// ErrFrameTooLarge is returned when a length prefix exceeds the frame limit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrInvalidLength is returned when a length prefix decodes to a negative value.
	ErrInvalidLength = errors.New("invalid frame length")
	// ErrTruncatedFrame is returned when the stream ends inside a frame.
	ErrTruncatedFrame = fmt.Errorf("truncated frame: %w", io.ErrUnexpectedEOF)
)

// TransportError is a server-side transport failure delivered as a four-byte
// negative payload instead of an encrypted message.
type TransportError struct {
	Code int32
}

// Error implements error.
func (e *TransportError) Error() string {
	if desc, ok := transportErrorText[e.Code]; ok {
		return fmt.Sprintf("transport error %d: %s", e.Code, desc)
	}
	return fmt.Sprintf("transport error %d", e.Code)
}

var transportErrorText = map[int32]string{
	-404: "auth key not found",
	-429: "too many connections",
	-444: "invalid datacenter",
}

// ParseTransportError reports whether payload is a transport error frame.
func ParseTransportError(payload []byte) (*TransportError, bool) {
	if len(payload) != limits.TransportErrorSize {
		return nil, false
	}
	code := int32(binary.LittleEndian.Uint32(payload))
	if code >= 0 {
		return nil, false
	}
	return &TransportError{Code: code}, true
}

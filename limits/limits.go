// Package limits provides centralized size limits for frames and messages.
// This ensures consistent validation across the transport and session layers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxFramePayload is the largest frame payload accepted from the wire.
	// Anything bigger is a framing violation, not a slow peer.
	MaxFramePayload = 16 * 1024 * 1024

	// MaxMessageBody is the largest serialized body a single message may carry
	// before payload encryption.
	MaxMessageBody = 1024 * 1024

	// TransportErrorSize is the payload size of a server transport error frame.
	TransportErrorSize = 4

	// FrameLengthSize is the size of the little-endian length prefix.
	FrameLengthSize = 4
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrNegativeLength indicates a length prefix decoded to a negative value
	ErrNegativeLength = errors.New("negative length")
)

// ValidateFrameLength checks a decoded length prefix.
func ValidateFrameLength(length int32) error {
	if length < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeLength, length)
	}
	if length > MaxFramePayload {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrMessageTooLarge, length, MaxFramePayload)
	}
	return nil
}

// ValidateFramePayload checks an outgoing payload before it is length-prefixed.
func ValidateFramePayload(payload []byte) error {
	if len(payload) > MaxFramePayload {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrMessageTooLarge, len(payload), MaxFramePayload)
	}
	return nil
}

// ValidateMessageBody checks a body handed to the session for sending.
func ValidateMessageBody(body []byte) error {
	if len(body) == 0 {
		return ErrMessageEmpty
	}
	if len(body) > MaxMessageBody {
		return fmt.Errorf("%w: body size %d exceeds limit %d", ErrMessageTooLarge, len(body), MaxMessageBody)
	}
	return nil
}

package session

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MessageHeaderSize is msg_id(8) + seq_no(4) + length(4).
	MessageHeaderSize = 16
	// PlainHeaderSize is auth_key_id(8) + msg_id(8) + length(4).
	PlainHeaderSize = 20
)

var (
	// ErrShortMessage is returned when a buffer is shorter than its header.
	ErrShortMessage = errors.New("message shorter than header")
	// ErrLengthMismatch is returned when the declared length disagrees with the body.
	ErrLengthMismatch = errors.New("declared length does not match body")
	// ErrNotPlain is returned when a plain envelope carries a non-zero auth key id.
	ErrNotPlain = errors.New("envelope is not unencrypted")
)

// Message is one protocol message ready for payload encryption.
// Length always equals len(Body).
type Message struct {
	ID     uint64
	SeqNo  uint32
	Length uint32
	Body   []byte
}

// ContentRelated reports whether the sequence number marks a content-related message.
func (m *Message) ContentRelated() bool {
	return m.SeqNo&1 == 1
}

// Encode serializes the message in its inner (pre-encryption) layout.
func (m *Message) Encode() []byte {
	buf := make([]byte, MessageHeaderSize+len(m.Body))
	binary.LittleEndian.PutUint64(buf[0:8], m.ID)
	binary.LittleEndian.PutUint32(buf[8:12], m.SeqNo)
	binary.LittleEndian.PutUint32(buf[12:16], m.Length)
	copy(buf[MessageHeaderSize:], m.Body)
	return buf
}

// DecodeMessage parses the inner layout. Trailing bytes beyond the declared
// length (encryption padding) are ignored.
func DecodeMessage(b []byte) (*Message, error) {
	if len(b) < MessageHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(b))
	}

	m := &Message{
		ID:     binary.LittleEndian.Uint64(b[0:8]),
		SeqNo:  binary.LittleEndian.Uint32(b[8:12]),
		Length: binary.LittleEndian.Uint32(b[12:16]),
	}

	if uint64(m.Length) > uint64(len(b)-MessageHeaderSize) {
		return nil, fmt.Errorf("%w: declared %d, available %d", ErrLengthMismatch, m.Length, len(b)-MessageHeaderSize)
	}
	m.Body = append([]byte(nil), b[MessageHeaderSize:MessageHeaderSize+int(m.Length)]...)
	return m, nil
}

// EncodePlain serializes an unencrypted envelope as used before an
// authorization key exists.
func EncodePlain(msgID uint64, body []byte) []byte {
	buf := make([]byte, PlainHeaderSize+len(body))
	binary.LittleEndian.PutUint64(buf[8:16], msgID)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(body)))
	copy(buf[PlainHeaderSize:], body)
	return buf
}

// DecodePlain parses an unencrypted envelope and returns its id and body.
func DecodePlain(b []byte) (uint64, []byte, error) {
	if len(b) < PlainHeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(b))
	}
	if binary.LittleEndian.Uint64(b[0:8]) != 0 {
		return 0, nil, ErrNotPlain
	}

	msgID := binary.LittleEndian.Uint64(b[8:16])
	length := binary.LittleEndian.Uint32(b[16:20])
	if uint64(length) != uint64(len(b)-PlainHeaderSize) {
		return 0, nil, fmt.Errorf("%w: declared %d, got %d", ErrLengthMismatch, length, len(b)-PlainHeaderSize)
	}
	return msgID, append([]byte(nil), b[PlainHeaderSize:]...), nil
}

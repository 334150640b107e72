package session

import (
	"encoding/binary"
	"sync"

	"github.com/opd-ai/mtcore/crypto"
)

// BodyKind classifies a message body for sequence numbering.
type BodyKind uint8

const (
	// KindContent is any substantive message that requires acknowledgment.
	KindContent BodyKind = iota
	// KindPing is a ping or ping_delay_disconnect service message.
	KindPing
	// KindHTTPWait is an http_wait long-poll service message.
	KindHTTPWait
	// KindMsgsAck is an acknowledgment batch.
	KindMsgsAck
	// KindContainer is a msg_container wrapper.
	KindContainer
)

// Constructor ids of the service messages that do not advance the sequence.
const (
	ConstructorPing                uint32 = 0x7abe77ec
	ConstructorPingDelayDisconnect uint32 = 0xf3427b8c
	ConstructorHTTPWait            uint32 = 0x9299359f
	ConstructorMsgsAck             uint32 = 0x62d6b459
	ConstructorMsgContainer        uint32 = 0x73f1f8dc
)

// String returns the kind name.
func (k BodyKind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindPing:
		return "ping"
	case KindHTTPWait:
		return "http_wait"
	case KindMsgsAck:
		return "msgs_ack"
	case KindContainer:
		return "msg_container"
	default:
		return "unknown"
	}
}

// ContentRelated reports whether messages of this kind advance the sequence.
func (k BodyKind) ContentRelated() bool {
	return k == KindContent
}

// KindOf classifies a serialized body by its leading constructor id.
// Bodies shorter than four bytes are treated as content.
func KindOf(body []byte) BodyKind {
	if len(body) < 4 {
		return KindContent
	}

	switch binary.LittleEndian.Uint32(body[0:4]) {
	case ConstructorPing, ConstructorPingDelayDisconnect:
		return KindPing
	case ConstructorHTTPWait:
		return KindHTTPWait
	case ConstructorMsgsAck:
		return KindMsgsAck
	case ConstructorMsgContainer:
		return KindContainer
	default:
		return KindContent
	}
}

// Factory composes message envelopes, pairing each id with its sequence
// number under a single lock.
type Factory struct {
	mu    sync.Mutex
	ids   *MsgIDAllocator
	seqNo *SeqCounter
}

// NewFactory creates a factory with a fresh allocator and counter.
// Pass nil to use the wall clock.
func NewFactory(tp crypto.TimeProvider) *Factory {
	return NewFactoryWith(NewMsgIDAllocator(tp), NewSeqCounter(0))
}

// NewFactoryWith creates a factory around existing allocator state.
func NewFactoryWith(ids *MsgIDAllocator, seqNo *SeqCounter) *Factory {
	return &Factory{ids: ids, seqNo: seqNo}
}

// Build wraps body into a Message.
func (f *Factory) Build(body []byte, kind BodyKind) *Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return &Message{
		ID:     f.ids.Next(),
		SeqNo:  f.seqNo.Next(kind.ContentRelated()),
		Length: uint32(len(body)),
		Body:   body,
	}
}

// NextMsgID allocates a bare id, used for unencrypted envelopes.
func (f *Factory) NextMsgID() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids.Next()
}

// Allocator exposes the id allocator, for server time corrections.
func (f *Factory) Allocator() *MsgIDAllocator {
	return f.ids
}

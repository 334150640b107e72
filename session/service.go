package session

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ConstructorVector is the boxed vector constructor id.
const ConstructorVector uint32 = 0x1cb5c415

// maxServiceItems bounds declared counts in service bodies before allocating.
const maxServiceItems = 8192

var (
	// ErrBadServiceBody is returned for malformed msgs_ack or msg_container bodies.
	ErrBadServiceBody = errors.New("malformed service message")
)

// EncodeMsgsAck builds a msgs_ack body acknowledging ids.
func EncodeMsgsAck(ids []uint64) []byte {
	buf := make([]byte, 12+8*len(ids))
	binary.LittleEndian.PutUint32(buf[0:4], ConstructorMsgsAck)
	binary.LittleEndian.PutUint32(buf[4:8], ConstructorVector)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(ids)))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[12+8*i:], id)
	}
	return buf
}

// DecodeMsgsAck returns the ids acknowledged by a msgs_ack body.
func DecodeMsgsAck(body []byte) ([]uint64, error) {
	if len(body) < 12 {
		return nil, fmt.Errorf("%w: msgs_ack of %d bytes", ErrBadServiceBody, len(body))
	}
	if binary.LittleEndian.Uint32(body[0:4]) != ConstructorMsgsAck {
		return nil, fmt.Errorf("%w: not a msgs_ack", ErrBadServiceBody)
	}
	if binary.LittleEndian.Uint32(body[4:8]) != ConstructorVector {
		return nil, fmt.Errorf("%w: msgs_ack without vector", ErrBadServiceBody)
	}

	count := binary.LittleEndian.Uint32(body[8:12])
	if count > maxServiceItems || uint64(len(body)-12) < uint64(count)*8 {
		return nil, fmt.Errorf("%w: msgs_ack declares %d ids in %d bytes", ErrBadServiceBody, count, len(body))
	}

	ids := make([]uint64, count)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint64(body[12+8*i:])
	}
	return ids, nil
}

// EncodeContainer packs messages into a msg_container body.
func EncodeContainer(msgs []*Message) []byte {
	size := 8
	for _, m := range msgs {
		size += MessageHeaderSize + len(m.Body)
	}

	buf := make([]byte, 8, size)
	binary.LittleEndian.PutUint32(buf[0:4], ConstructorMsgContainer)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(msgs)))
	for _, m := range msgs {
		buf = append(buf, m.Encode()...)
	}
	return buf
}

// DecodeContainer unpacks the messages of a msg_container body.
func DecodeContainer(body []byte) ([]*Message, error) {
	if len(body) < 8 || binary.LittleEndian.Uint32(body[0:4]) != ConstructorMsgContainer {
		return nil, fmt.Errorf("%w: not a msg_container", ErrBadServiceBody)
	}

	count := binary.LittleEndian.Uint32(body[4:8])
	if count > maxServiceItems {
		return nil, fmt.Errorf("%w: container declares %d messages", ErrBadServiceBody, count)
	}

	msgs := make([]*Message, 0, count)
	rest := body[8:]
	for i := uint32(0); i < count; i++ {
		m, err := DecodeMessage(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: container item %d: %w", ErrBadServiceBody, i, err)
		}
		msgs = append(msgs, m)
		rest = rest[MessageHeaderSize+int(m.Length):]
	}
	return msgs, nil
}

package salts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// ConstructorFutureSalts is the boxed future_salts constructor id.
	ConstructorFutureSalts uint32 = 0xae500895

	// RecordSize is valid_since(4) + valid_until(4) + salt(8).
	RecordSize = 16

	headerSize = 8 + 4 + 4
	// maxSalts bounds the declared count before allocating.
	maxSalts = 1024
)

var (
	// ErrShortFutureSalts is returned when the body ends before the declared salts.
	ErrShortFutureSalts = errors.New("future_salts body truncated")
	// ErrBadConstructor is returned when a boxed body has the wrong constructor.
	ErrBadConstructor = errors.New("unexpected constructor")
	// ErrTooManySalts is returned when the declared count is implausible.
	ErrTooManySalts = errors.New("future_salts count out of range")
)

// Salt is one server salt with its validity window [ValidSince, ValidUntil).
type Salt struct {
	Value      int64
	ValidSince int32
	ValidUntil int32
}

// Contains reports whether at falls inside the salt's window.
func (s Salt) Contains(at int32) bool {
	return at >= s.ValidSince && at < s.ValidUntil
}

// Until returns ValidUntil as a time.
func (s Salt) Until() time.Time {
	return time.Unix(int64(s.ValidUntil), 0)
}

// FutureSalts is a decoded future_salts answer.
type FutureSalts struct {
	ReqMsgID uint64
	Now      int32
	Salts    []Salt
}

// DecodeFutureSalts parses a future_salts body that follows its constructor id:
// req_msg_id, now, count, then count records in wire order.
func DecodeFutureSalts(b []byte) (*FutureSalts, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFutureSalts, len(b))
	}

	fs := &FutureSalts{
		ReqMsgID: binary.LittleEndian.Uint64(b[0:8]),
		Now:      int32(binary.LittleEndian.Uint32(b[8:12])),
	}

	count := int32(binary.LittleEndian.Uint32(b[12:16]))
	if count < 0 || count > maxSalts {
		return nil, fmt.Errorf("%w: %d", ErrTooManySalts, count)
	}

	records := b[headerSize:]
	if len(records) < int(count)*RecordSize {
		return nil, fmt.Errorf("%w: want %d records, have %d bytes", ErrShortFutureSalts, count, len(records))
	}

	fs.Salts = make([]Salt, count)
	for i := range fs.Salts {
		r := records[i*RecordSize : (i+1)*RecordSize]
		fs.Salts[i] = Salt{
			ValidSince: int32(binary.LittleEndian.Uint32(r[0:4])),
			ValidUntil: int32(binary.LittleEndian.Uint32(r[4:8])),
			Value:      int64(binary.LittleEndian.Uint64(r[8:16])),
		}
	}

	return fs, nil
}

// DecodeBoxedFutureSalts checks the leading constructor id and decodes the rest.
func DecodeBoxedFutureSalts(b []byte) (*FutureSalts, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFutureSalts, len(b))
	}
	if id := binary.LittleEndian.Uint32(b[0:4]); id != ConstructorFutureSalts {
		return nil, fmt.Errorf("%w: %#08x", ErrBadConstructor, id)
	}
	return DecodeFutureSalts(b[4:])
}

// Encode serializes the answer in boxed form.
func (fs *FutureSalts) Encode() []byte {
	buf := make([]byte, 4+headerSize+len(fs.Salts)*RecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], ConstructorFutureSalts)
	binary.LittleEndian.PutUint64(buf[4:12], fs.ReqMsgID)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(fs.Now))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(fs.Salts)))

	off := 4 + headerSize
	for _, s := range fs.Salts {
		binary.LittleEndian.PutUint32(buf[off:], uint32(s.ValidSince))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(s.ValidUntil))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(s.Value))
		off += RecordSize
	}
	return buf
}

// ConstructorGetFutureSalts is the get_future_salts request constructor id.
const ConstructorGetFutureSalts uint32 = 0xb921bd04

// EncodeGetFutureSalts builds a get_future_salts request for num salts.
func EncodeGetFutureSalts(num int32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], ConstructorGetFutureSalts)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(num))
	return buf
}

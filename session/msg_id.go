package session

import (
	"sync"
	"time"

	"github.com/opd-ai/mtcore/crypto"
	"github.com/sirupsen/logrus"
)

// msgIDStep keeps the two low bits clear when the clock does not advance.
const msgIDStep = 4

// MsgIDAllocator produces strictly increasing message ids.
// It is safe for concurrent use.
type MsgIDAllocator struct {
	mu           sync.Mutex
	last         uint64
	offset       time.Duration
	timeProvider crypto.TimeProvider
}

// NewMsgIDAllocator creates an allocator reading time from tp.
// Pass nil to use the wall clock.
func NewMsgIDAllocator(tp crypto.TimeProvider) *MsgIDAllocator {
	return &MsgIDAllocator{timeProvider: crypto.OrDefault(tp)}
}

// Next returns the next message id. If the clock did not move past the last
// emitted id (same tick, or a backward jump) the result is last+4.
func (a *MsgIDAllocator) Next() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	candidate := MsgIDAt(a.timeProvider.Now().Add(a.offset))
	if candidate <= a.last {
		candidate = a.last + msgIDStep
	}
	a.last = candidate
	return candidate
}

// Last returns the most recently emitted id, or zero.
func (a *MsgIDAllocator) Last() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// SetServerTime records the offset between the server clock and the local
// clock. Subsequent ids are computed in server time.
func (a *MsgIDAllocator) SetServerTime(server time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.offset = server.Sub(a.timeProvider.Now())

	logrus.WithFields(logrus.Fields{
		"function": "SetServerTime",
		"offset":   a.offset.String(),
	}).Debug("Server time offset updated")
}

// Offset returns the current server time correction.
func (a *MsgIDAllocator) Offset() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}

// MsgIDAt computes the unadjusted id for t: unix seconds in the high 32 bits,
// the fraction of the second scaled to 2^32 in the low 32 bits, rounded down
// to a multiple of four.
func MsgIDAt(t time.Time) uint64 {
	seconds := uint64(t.Unix())
	fraction := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return (seconds<<32 | fraction) &^ (msgIDStep - 1)
}

// MsgIDTime returns the wall-clock time encoded in id.
func MsgIDTime(id uint64) time.Time {
	seconds := int64(id >> 32)
	nanos := int64(((id & 0xffffffff) * uint64(time.Second)) >> 32)
	return time.Unix(seconds, nanos)
}

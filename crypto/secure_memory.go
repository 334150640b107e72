package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe overwrites a byte slice holding key material with zeros.
// It returns an error if the slice is nil.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}

	zeros := make([]byte, len(data))
	subtle.ConstantTimeCopy(1, data, zeros)

	runtime.KeepAlive(data)
	return nil
}

// ZeroBytes is SecureWipe without the nil check error.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

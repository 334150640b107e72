package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	// KeystreamKeySize is the AES-256 key size used by the obfuscation layer.
	KeystreamKeySize = 32
	// KeystreamIVSize is the size of the initial counter block.
	KeystreamIVSize = aes.BlockSize
)

var (
	// ErrInvalidKeySize is returned when a keystream key is not 32 bytes.
	ErrInvalidKeySize = errors.New("invalid keystream key size")
	// ErrInvalidIVSize is returned when a keystream IV is not 16 bytes.
	ErrInvalidIVSize = errors.New("invalid keystream iv size")
)

// Keystream is a running AES-256-CTR context. The IV is the initial 128-bit
// big-endian counter block; the counter and the position inside the current
// block advance with every processed byte.
type Keystream struct {
	stream    cipher.Stream
	processed uint64
}

// NewKeystream creates a keystream context positioned at offset zero.
func NewKeystream(key, iv []byte) (*Keystream, error) {
	if len(key) != KeystreamKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), KeystreamKeySize)
	}
	if len(iv) != KeystreamIVSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidIVSize, len(iv), KeystreamIVSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// cipher.NewCTR copies the IV, callers may reuse their buffer.
	return &Keystream{stream: cipher.NewCTR(block, iv)}, nil
}

// XORKeyStream XORs src with the next len(src) keystream bytes into dst.
// dst and src may overlap entirely.
func (k *Keystream) XORKeyStream(dst, src []byte) {
	if len(src) == 0 {
		return
	}
	k.stream.XORKeyStream(dst, src)
	k.processed += uint64(len(src))
}

// Process returns a freshly allocated encryption (or decryption) of b.
func (k *Keystream) Process(b []byte) []byte {
	out := make([]byte, len(b))
	k.XORKeyStream(out, b)
	return out
}

// Processed reports how many bytes have passed through the context.
func (k *Keystream) Processed() uint64 {
	return k.processed
}

// CTR256 encrypts or decrypts data with a fresh AES-256-CTR context.
func CTR256(data, key, iv []byte) ([]byte, error) {
	ks, err := NewKeystream(key, iv)
	if err != nil {
		return nil, err
	}
	return ks.Process(data), nil
}

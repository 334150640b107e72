package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for passphrase derivation.
	PBKDF2Iterations = 100000
	// SealVersion is the current sealed blob format version.
	SealVersion = 1
	// SealSaltSize is the size of the per-blob PBKDF2 salt.
	SealSaltSize = 16

	sealNonceSize = 12
	sealTagSize   = 16
	sealHeader    = 2 + SealSaltSize + sealNonceSize
)

var (
	// ErrEmptyPassphrase is returned when sealing with an empty passphrase.
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")
	// ErrSealedTooShort is returned for blobs shorter than the fixed header.
	ErrSealedTooShort = errors.New("sealed blob too short")
	// ErrSealedVersion is returned for blobs of an unknown format version.
	ErrSealedVersion = errors.New("unsupported sealed blob version")
	// ErrOpenFailed is returned when authentication fails.
	ErrOpenFailed = errors.New("wrong passphrase or corrupted data")
)

// SealSecret encrypts secret under a key derived from passphrase.
// Format: [version:2][salt:16][nonce:12][ciphertext+tag].
func SealSecret(secret, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	out := make([]byte, sealHeader, sealHeader+len(secret)+sealTagSize)
	binary.BigEndian.PutUint16(out[0:2], SealVersion)
	salt := out[2 : 2+SealSaltSize]
	nonce := out[2+SealSaltSize : sealHeader]

	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := sealCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	ad := [2]byte{out[0], out[1]}
	return gcm.Seal(out, nonce, secret, ad[:]), nil
}

// OpenSecret reverses SealSecret.
func OpenSecret(blob, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if len(blob) < sealHeader+sealTagSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrSealedTooShort, len(blob))
	}

	if version := binary.BigEndian.Uint16(blob[0:2]); version != SealVersion {
		return nil, fmt.Errorf("%w: %d", ErrSealedVersion, version)
	}

	salt := blob[2 : 2+SealSaltSize]
	nonce := blob[2+SealSaltSize : sealHeader]

	gcm, err := sealCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, blob[sealHeader:], blob[0:2])
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

func sealCipher(passphrase, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, 32, sha256.New)
	defer ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

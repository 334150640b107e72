package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyAuthKey is returned by AuthResult.Validate for a missing key.
var ErrEmptyAuthKey = errors.New("key exchange returned an empty auth key")

// AuthKeySize is the nominal authorization key size in bytes.
const AuthKeySize = 32

// ICodec maps schema objects to message bodies and back.
type ICodec interface {
	// Encode serializes obj to a boxed body.
	Encode(obj any) ([]byte, error)

	// Decode parses a boxed body.
	Decode(body []byte) (any, error)
}

// AuthResult is the outcome of a completed key exchange.
type AuthResult struct {
	AuthKey    []byte
	ServerSalt int64
	ServerTime time.Time
}

// Validate checks that the exchange produced usable material.
func (r *AuthResult) Validate() error {
	if r == nil || len(r.AuthKey) == 0 {
		return ErrEmptyAuthKey
	}
	return nil
}

// IKeyExchange negotiates a new authorization key with a datacenter.
type IKeyExchange interface {
	Exchange(ctx context.Context, dcID int, testMode bool) (*AuthResult, error)
}

// Envelope is the plaintext side of an encrypted payload.
type Envelope struct {
	Salt      int64
	SessionID int64
	// Message is an encoded session message (id, seq_no, length, body).
	Message []byte
}

// IPayloadCipher encrypts envelopes for the wire and decrypts received
// payloads.
type IPayloadCipher interface {
	Encrypt(authKey []byte, env Envelope) ([]byte, error)
	Decrypt(authKey []byte, payload []byte) (Envelope, error)
}

// Package crypto implements the cryptographic primitives used by the
// session core.
//
// # Keystream
//
// [Keystream] is an AES-256 counter-mode context. It is the obfuscation
// cipher of the transport layer: one context per direction, created once per
// physical connection and advanced by every byte that passes through it.
//
//	ks, err := crypto.NewKeystream(key, iv)
//	if err != nil {
//	    return err
//	}
//	ciphertext := ks.Process(plaintext)
//
// Encryption and decryption are the same operation. A context must never be
// rewound; the peer holds the mirror context and both must advance in lock
// step. [CTR256] is a one-shot helper for callers that need no running state.
//
// # Secrets at rest
//
// [SealSecret] and [OpenSecret] protect small secrets (the authorization key)
// with AES-256-GCM under a PBKDF2-SHA256 key derived from a passphrase:
//
//	blob, err := crypto.SealSecret(authKey, passphrase)
//	key, err := crypto.OpenSecret(blob, passphrase)
//
// # Deterministic Testing
//
// Time-dependent components accept a [TimeProvider]. Tests inject a mock
// clock to make message ids, salt windows and cache expiry deterministic.
//
// # Thread Safety
//
// A [Keystream] is not safe for concurrent use; callers serialize access per
// direction. All other functions in this package are safe for concurrent use.
package crypto

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the size of the handshake payload.
	NonceSize = 64

	// maxNonceAttempts bounds the rejection sampling of handshake nonces.
	// A usable draw is found in one or two attempts with a sound rand source.
	maxNonceAttempts = 64

	reservedFirstByte = 0xef
)

// Protocol is the four-byte tag placed at nonce[56:60]. It tells the server
// which framing follows the handshake.
type Protocol uint32

const (
	// ProtocolIntermediate frames as length(4) || payload.
	ProtocolIntermediate Protocol = 0xeeeeeeee
	// ProtocolPaddedIntermediate adds 0-15 random bytes after each payload.
	ProtocolPaddedIntermediate Protocol = 0xdddddddd
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolIntermediate:
		return "intermediate"
	case ProtocolPaddedIntermediate:
		return "padded_intermediate"
	default:
		return fmt.Sprintf("protocol(%#08x)", uint32(p))
	}
}

// ErrNonceGeneration is returned when no acceptable nonce was drawn.
var ErrNonceGeneration = errors.New("failed to generate handshake nonce")

// reservedPrefixes are first words that would make the connection look like
// plaintext HTTP, TLS or a non-obfuscated protocol marker.
var reservedPrefixes = [][4]byte{
	{'H', 'E', 'A', 'D'},
	{'P', 'O', 'S', 'T'},
	{'G', 'E', 'T', ' '},
	{'O', 'P', 'T', 'I'},
	{'P', 'V', 'r', 'G'},
	{0xee, 0xee, 0xee, 0xee},
	{0xdd, 0xdd, 0xdd, 0xdd},
	{0x16, 0x03, 0x01, 0x02},
}

// validNonce reports whether a random draw may be used as handshake nonce.
func validNonce(nonce []byte) bool {
	if nonce[0] == reservedFirstByte {
		return false
	}

	var first [4]byte
	copy(first[:], nonce[0:4])
	for _, reserved := range reservedPrefixes {
		if first == reserved {
			return false
		}
	}

	return binary.LittleEndian.Uint32(nonce[4:8]) != 0
}

// generateNonce draws random nonces until one is valid and stamps the
// protocol tag into bytes 56..60.
func generateNonce(r io.Reader, protocol Protocol) ([NonceSize]byte, error) {
	var nonce [NonceSize]byte

	for attempt := 0; attempt < maxNonceAttempts; attempt++ {
		if _, err := io.ReadFull(r, nonce[:]); err != nil {
			return nonce, fmt.Errorf("%w: %w", ErrNonceGeneration, err)
		}
		if validNonce(nonce[:]) {
			binary.LittleEndian.PutUint32(nonce[56:60], uint32(protocol))
			return nonce, nil
		}
	}

	return nonce, fmt.Errorf("%w: no valid draw in %d attempts", ErrNonceGeneration, maxNonceAttempts)
}

// obfuscationKeys holds the key and IV of both directions.
type obfuscationKeys struct {
	encryptKey, encryptIV []byte
	decryptKey, decryptIV []byte
}

// deriveKeys splits the nonce into the client->server key/IV (bytes 8..56)
// and the server->client key/IV taken from the same bytes in reverse order.
func deriveKeys(nonce [NonceSize]byte) obfuscationKeys {
	reversed := make([]byte, 48)
	for i := range reversed {
		reversed[i] = nonce[55-i]
	}

	return obfuscationKeys{
		encryptKey: append([]byte(nil), nonce[8:40]...),
		encryptIV:  append([]byte(nil), nonce[40:56]...),
		decryptKey: reversed[0:32],
		decryptIV:  reversed[32:48],
	}
}

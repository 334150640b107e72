package transport

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/opd-ai/mtcore/crypto"
	"github.com/stretchr/testify/require"
)

// testNonce returns a deterministic nonce that passes validNonce.
func testNonce() []byte {
	nonce := make([]byte, NonceSize)
	for i := range nonce {
		nonce[i] = byte(i + 1)
	}
	return nonce
}

// serverMirror plays the datacenter side of an obfuscated connection.
type serverMirror struct {
	decrypt *crypto.Keystream
	encrypt *crypto.Keystream
	tag     Protocol
	plain   []byte
}

func newServerMirror(t *testing.T, wire []byte) *serverMirror {
	t.Helper()
	require.Len(t, wire, NonceSize)

	decrypt, err := crypto.NewKeystream(wire[8:40], wire[40:56])
	require.NoError(t, err)
	plain := decrypt.Process(wire)

	reversed := make([]byte, 48)
	for i := range reversed {
		reversed[i] = wire[55-i]
	}
	encrypt, err := crypto.NewKeystream(reversed[0:32], reversed[32:48])
	require.NoError(t, err)

	return &serverMirror{
		decrypt: decrypt,
		encrypt: encrypt,
		tag:     Protocol(binary.LittleEndian.Uint32(plain[56:60])),
		plain:   plain,
	}
}

// frame encodes payload the way the server would send it.
func (s *serverMirror) frame(payload []byte) []byte {
	return s.rawFrame(uint32(len(payload)), payload)
}

func (s *serverMirror) rawFrame(length uint32, payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out, length)
	copy(out[4:], payload)
	s.encrypt.XORKeyStream(out, out)
	return out
}

func (s *serverMirror) readFrame(t *testing.T, r io.Reader) []byte {
	t.Helper()
	var header [4]byte
	_, err := io.ReadFull(r, header[:])
	require.NoError(t, err)
	s.decrypt.XORKeyStream(header[:], header[:])

	payload := make([]byte, binary.LittleEndian.Uint32(header[:]))
	_, err = io.ReadFull(r, payload)
	require.NoError(t, err)
	s.decrypt.XORKeyStream(payload, payload)
	return payload
}

// pipeFramer returns an established framer over net.Pipe and the server
// side of the pipe with its mirror.
func pipeFramer(t *testing.T, opts *Options) (*Framer, net.Conn, *serverMirror) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })

	f := NewFramer(opts)
	done := make(chan error, 1)
	go func() { done <- f.Attach(client) }()

	wire := make([]byte, NonceSize)
	_, err := io.ReadFull(server, wire)
	require.NoError(t, err)
	require.NoError(t, <-done)

	t.Cleanup(func() { f.Close() })
	return f, server, newServerMirror(t, wire)
}

// sequenceReader returns each chunk on its own and then EOF.
type sequenceReader struct {
	chunks [][]byte
	reads  int
}

func (s *sequenceReader) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	s.chunks[0] = s.chunks[0][n:]
	if len(s.chunks[0]) == 0 {
		s.chunks = s.chunks[1:]
	}
	s.reads++
	return n, nil
}

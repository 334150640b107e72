package commands

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/opd-ai/mtcore/config"
	"github.com/opd-ai/mtcore/crypto"
	"github.com/opd-ai/mtcore/session"
	"github.com/opd-ai/mtcore/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDC accepts one obfuscated connection, reads one frame and answers
// with reply(request).
func fakeDC(t *testing.T, reply func(request []byte) []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		wire := make([]byte, transport.NonceSize)
		if _, err := io.ReadFull(conn, wire); err != nil {
			return
		}
		decrypt, err := crypto.NewKeystream(wire[8:40], wire[40:56])
		if err != nil {
			return
		}
		decrypt.Process(wire)

		reversed := make([]byte, 48)
		for i := range reversed {
			reversed[i] = wire[55-i]
		}
		encrypt, err := crypto.NewKeystream(reversed[0:32], reversed[32:48])
		if err != nil {
			return
		}

		var header [4]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return
		}
		decrypt.XORKeyStream(header[:], header[:])
		request := make([]byte, binary.LittleEndian.Uint32(header[:]))
		if _, err := io.ReadFull(conn, request); err != nil {
			return
		}
		decrypt.XORKeyStream(request, request)

		payload := reply(request)
		frame := make([]byte, 4+len(payload))
		binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
		copy(frame[4:], payload)
		encrypt.XORKeyStream(frame, frame)
		conn.Write(frame)

		io.Copy(io.Discard, conn)
	}()

	return ln.Addr().String()
}

func probeFramer() *transport.Framer {
	opts := transport.NewOptions()
	opts.DialTimeout = time.Second
	return transport.NewFramer(opts)
}

func TestReqPQMultiBody(t *testing.T) {
	body, err := reqPQMultiBody(bytes.NewReader(bytes.Repeat([]byte{7}, 16)))
	require.NoError(t, err)
	require.Len(t, body, 20)
	assert.Equal(t, uint32(constructorReqPQMulti), binary.LittleEndian.Uint32(body))
	assert.Equal(t, bytes.Repeat([]byte{7}, 16), body[4:])

	_, err = reqPQMultiBody(bytes.NewReader(nil))
	require.Error(t, err)
}

func TestProbePlainReply(t *testing.T) {
	cfg = config.Default()

	seen := make(chan []byte, 1)
	addr := fakeDC(t, func(request []byte) []byte {
		seen <- request
		return session.EncodePlain(session.MsgIDAt(time.Now()), make([]byte, 84))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := probe(ctx, probeFramer(), addr, rand.Reader)
	require.NoError(t, err)
	assert.Contains(t, result, "answered 84 bytes")

	_, body, err := session.DecodePlain(<-seen)
	require.NoError(t, err)
	assert.Equal(t, uint32(constructorReqPQMulti), binary.LittleEndian.Uint32(body))
}

func TestProbeTransportError(t *testing.T) {
	cfg = config.Default()

	addr := fakeDC(t, func([]byte) []byte {
		code := int32(-404)
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(code))
		return out
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := probe(ctx, probeFramer(), addr, rand.Reader)
	require.NoError(t, err)
	assert.Contains(t, result, "transport error -404")
}

func TestProbeTimesOut(t *testing.T) {
	cfg = config.Default()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = probe(ctx, probeFramer(), ln.Addr().String(), rand.Reader)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

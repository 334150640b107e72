package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/mtcore/crypto"
	"github.com/opd-ai/mtcore/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerHandshake(t *testing.T) {
	tests := []struct {
		name     string
		protocol Protocol
	}{
		{"intermediate", ProtocolIntermediate},
		{"padded intermediate", ProtocolPaddedIntermediate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _, mirror := pipeFramer(t, &Options{Rand: bytes.NewReader(testNonce()), Protocol: tt.protocol})

			assert.Equal(t, StateEstablished, f.State())
			assert.Equal(t, tt.protocol, mirror.tag)
			// Only the tag and trailer travel encrypted.
			assert.Equal(t, testNonce()[:56], mirror.plain[:56])
		})
	}
}

func TestFramerHandshakeWireLayout(t *testing.T) {
	f, _, mirror := pipeFramer(t, &Options{Rand: bytes.NewReader(testNonce())})

	nonce := testNonce()
	encrypted, err := crypto.CTR256(mirror.plain, nonce[8:40], nonce[40:56])
	require.NoError(t, err)

	// Reconstruct what went on the wire: clear prefix, encrypted tail.
	wire := append(append([]byte(nil), nonce[:56]...), encrypted[56:]...)
	again := newServerMirror(t, wire)
	assert.Equal(t, ProtocolIntermediate, again.tag)
	assert.Equal(t, uint64(NonceSize), f.encrypt.Processed(), "keystream continues after the nonce")
}

func TestFramerSendReceive(t *testing.T) {
	f, server, mirror := pipeFramer(t, &Options{Rand: bytes.NewReader(testNonce())})

	payloads := [][]byte{
		[]byte("first"),
		bytes.Repeat([]byte{0x42}, 1000),
		{},
		[]byte("last"),
	}

	go func() {
		for _, p := range payloads {
			if err := f.Send(p); err != nil {
				return
			}
		}
	}()
	for _, want := range payloads {
		assert.Equal(t, want, mirror.readFrame(t, server))
	}

	go func() {
		for _, p := range payloads {
			server.Write(mirror.frame(p))
		}
	}()
	for _, want := range payloads {
		got, err := f.Receive()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFramerKeystreamContinuity(t *testing.T) {
	f, server, mirror := pipeFramer(t, &Options{Rand: bytes.NewReader(testNonce())})

	frames := [][]byte{[]byte("abc"), []byte("defghij"), bytes.Repeat([]byte{1}, 33)}

	var wire bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		total := 0
		for _, p := range frames {
			total += 4 + len(p)
		}
		buf := make([]byte, total)
		io.ReadFull(server, buf)
		wire.Write(buf)
	}()
	for _, p := range frames {
		require.NoError(t, f.Send(p))
	}
	<-done

	// One uninterrupted CTR pass over nonce and frames must reproduce the
	// bytes that were sent in pieces.
	var plain bytes.Buffer
	plain.Write(mirror.plain)
	for _, p := range frames {
		plain.Write([]byte{byte(len(p)), 0, 0, 0})
		plain.Write(p)
	}
	nonce := testNonce()
	expected, err := crypto.CTR256(plain.Bytes(), nonce[8:40], nonce[40:56])
	require.NoError(t, err)

	assert.Equal(t, expected[NonceSize:], wire.Bytes())
}

func TestFramerPaddedSend(t *testing.T) {
	// Nonce, then a padding length of 5 and five padding bytes.
	rnd := append(testNonce(), 5, 9, 9, 9, 9, 9)
	f, server, mirror := pipeFramer(t, &Options{Rand: bytes.NewReader(rnd), Protocol: ProtocolPaddedIntermediate})

	go f.Send([]byte("hello"))
	got := mirror.readFrame(t, server)
	assert.Equal(t, []byte("hello\x09\x09\x09\x09\x09"), got)
}

func TestFramerConcurrentSenders(t *testing.T) {
	f, server, mirror := pipeFramer(t, &Options{Rand: bytes.NewReader(testNonce())})

	const senders = 8
	const perSender = 20

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				assert.NoError(t, f.Send(bytes.Repeat([]byte{id}, 16)))
			}
		}(byte(i))
	}

	counts := make(map[byte]int)
	for i := 0; i < senders*perSender; i++ {
		frame := mirror.readFrame(t, server)
		require.Len(t, frame, 16)
		for _, b := range frame {
			require.Equal(t, frame[0], b, "frames must not interleave")
		}
		counts[frame[0]]++
	}
	wg.Wait()

	for i := 0; i < senders; i++ {
		assert.Equal(t, perSender, counts[byte(i)])
	}
}

func TestFramerReceiveCleanEOF(t *testing.T) {
	f, server, mirror := pipeFramer(t, &Options{Rand: bytes.NewReader(testNonce())})

	go func() {
		server.Write(mirror.frame([]byte("only")))
		server.Close()
	}()

	got, err := f.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("only"), got)

	_, err = f.Receive()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, StateClosed, f.State())
}

func TestFramerReceiveAfterClose(t *testing.T) {
	f, _, _ := pipeFramer(t, &Options{Rand: bytes.NewReader(testNonce())})

	received := make(chan error, 1)
	go func() {
		_, err := f.Receive()
		received <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.Close())

	select {
	case err := <-received:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Receive did not return after Close")
	}

	_, err := f.Receive()
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, f.Send([]byte("x")), ErrClosed)
}

func TestFramerCloseIdempotent(t *testing.T) {
	f, _, _ := pipeFramer(t, &Options{Rand: bytes.NewReader(testNonce())})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Close()
		}()
	}
	wg.Wait()

	assert.NoError(t, f.Close())
	assert.Equal(t, StateClosed, f.State())

	unused := NewFramer(nil)
	assert.NoError(t, unused.Close())
	assert.NoError(t, unused.Close())
}

func TestFramerNotConnected(t *testing.T) {
	f := NewFramer(nil)
	assert.Equal(t, StateDisconnected, f.State())
	assert.ErrorIs(t, f.Send([]byte("x")), ErrNotConnected)
	_, err := f.Receive()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestFramerRejectsOversizeSend(t *testing.T) {
	f, _, _ := pipeFramer(t, &Options{Rand: bytes.NewReader(testNonce())})

	err := f.Send(make([]byte, limits.MaxFramePayload+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, StateEstablished, f.State(), "local validation does not close")
}

func TestFramerAttachTwice(t *testing.T) {
	f, _, _ := pipeFramer(t, &Options{Rand: bytes.NewReader(testNonce())})

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	assert.ErrorIs(t, f.Attach(client), ErrAlreadyConnected)
	assert.ErrorIs(t, f.Connect(context.Background(), "127.0.0.1:1"), ErrAlreadyConnected)
}

type failingDialer struct{ err error }

func (d failingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, d.err
}

func TestFramerConnectDialFailure(t *testing.T) {
	dialErr := errors.New("no route")
	f := NewFramer(&Options{Dialer: failingDialer{dialErr}})

	err := f.Connect(context.Background(), "149.154.167.51:443")
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, StateDisconnected, f.State())
}

// trackedConn records writes and closes on top of a pipe end.
type trackedConn struct {
	net.Conn

	mu     sync.Mutex
	writes int
	closed bool
}

func (c *trackedConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.Conn.Write(b)
}

func (c *trackedConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Conn.Close()
}

func (c *trackedConn) snapshot() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes, c.closed
}

// blockingDialer hands out conn only after release is closed.
type blockingDialer struct {
	dialing chan struct{}
	release chan struct{}
	conn    net.Conn
}

func (d *blockingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	close(d.dialing)
	<-d.release
	return d.conn, nil
}

func TestFramerCloseDuringDial(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	conn := &trackedConn{Conn: client}
	dialer := &blockingDialer{
		dialing: make(chan struct{}),
		release: make(chan struct{}),
		conn:    conn,
	}
	f := NewFramer(&Options{Dialer: dialer, Rand: bytes.NewReader(testNonce())})

	done := make(chan error, 1)
	go func() { done <- f.Connect(context.Background(), "149.154.167.51:443") }()

	<-dialer.dialing
	require.NoError(t, f.Close())
	close(dialer.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Close")
	}

	writes, closed := conn.snapshot()
	assert.True(t, closed, "dialed conn must be closed")
	assert.Zero(t, writes, "no handshake after Close")
	assert.Equal(t, StateClosed, f.State())
}

func TestFramerAttachAfterClose(t *testing.T) {
	f := NewFramer(nil)
	require.NoError(t, f.Close())

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	assert.ErrorIs(t, f.Attach(client), ErrClosed)
	assert.ErrorIs(t, f.Connect(context.Background(), "127.0.0.1:1"), ErrClosed)
}

func TestFramerConnectTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	echoed := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		wire := make([]byte, NonceSize)
		if _, err := io.ReadFull(conn, wire); err != nil {
			return
		}
		mirror := newServerMirror(t, wire)
		payload := mirror.readFrame(t, conn)
		conn.Write(mirror.frame(payload))
		echoed <- payload
	}()

	f := NewFramer(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.Connect(ctx, ln.Addr().String()))
	defer f.Close()

	require.NoError(t, f.Send([]byte("ping")))
	got, err := f.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)
	assert.Equal(t, []byte("ping"), <-echoed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "handshaking", StateHandshaking.String())
	assert.Equal(t, "established", StateEstablished.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}

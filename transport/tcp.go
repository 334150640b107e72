package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/mtcore/crypto"
	"github.com/opd-ai/mtcore/limits"
	"github.com/sirupsen/logrus"
)

// Options configures a Framer.
type Options struct {
	// Dialer opens the stream. Defaults to a net.Dialer with DialTimeout.
	Dialer Dialer
	// DialTimeout applies to the default dialer.
	DialTimeout time.Duration
	// Rand supplies handshake nonces and padding. Defaults to crypto/rand.
	Rand io.Reader
	// Protocol is the framing tag announced in the handshake.
	Protocol Protocol
}

// NewOptions returns the default framer options.
func NewOptions() *Options {
	return &Options{
		DialTimeout: 10 * time.Second,
		Rand:        rand.Reader,
		Protocol:    ProtocolIntermediate,
	}
}

// Framer is an obfuscated intermediate-framing connection over a stream
// socket. One goroutine may Receive while others Send; concurrent senders
// are serialized internally.
type Framer struct {
	opts *Options

	mu    sync.Mutex
	conn  net.Conn
	state atomic.Int32

	writeMu sync.Mutex
	encrypt *crypto.Keystream

	readMu  sync.Mutex
	decrypt *crypto.Keystream

	closeOnce sync.Once
	closeErr  error
}

// NewFramer creates a disconnected framer. Pass nil for default options.
func NewFramer(opts *Options) *Framer {
	defaults := NewOptions()
	if opts == nil {
		opts = defaults
	}
	resolved := *opts
	if resolved.Rand == nil {
		resolved.Rand = defaults.Rand
	}
	if resolved.Protocol == 0 {
		resolved.Protocol = defaults.Protocol
	}
	if resolved.Dialer == nil {
		timeout := resolved.DialTimeout
		if timeout == 0 {
			timeout = defaults.DialTimeout
		}
		resolved.Dialer = &net.Dialer{Timeout: timeout}
	}

	return &Framer{opts: &resolved}
}

// State returns the current lifecycle state.
func (f *Framer) State() State {
	return State(f.state.Load())
}

// Connect dials address and performs the obfuscation handshake.
func (f *Framer) Connect(ctx context.Context, address string) error {
	if !f.state.CompareAndSwap(int32(StateDisconnected), int32(StateHandshaking)) {
		if f.State() == StateClosed {
			return ErrClosed
		}
		return ErrAlreadyConnected
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"address":  address,
		"protocol": f.opts.Protocol.String(),
	}).Debug("Dialing")

	conn, err := f.opts.Dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		f.state.CompareAndSwap(int32(StateHandshaking), int32(StateDisconnected))
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionLost, address, err)
	}

	return f.handshake(conn)
}

// Attach performs the handshake over an already connected stream.
func (f *Framer) Attach(conn net.Conn) error {
	if !f.state.CompareAndSwap(int32(StateDisconnected), int32(StateHandshaking)) {
		if f.State() == StateClosed {
			return ErrClosed
		}
		return ErrAlreadyConnected
	}
	return f.handshake(conn)
}

func (f *Framer) handshake(conn net.Conn) error {
	nonce, err := generateNonce(f.opts.Rand, f.opts.Protocol)
	if err != nil {
		conn.Close()
		f.state.CompareAndSwap(int32(StateHandshaking), int32(StateDisconnected))
		return err
	}

	keys := deriveKeys(nonce)
	encrypt, err := crypto.NewKeystream(keys.encryptKey, keys.encryptIV)
	if err != nil {
		conn.Close()
		f.state.CompareAndSwap(int32(StateHandshaking), int32(StateDisconnected))
		return err
	}
	decrypt, err := crypto.NewKeystream(keys.decryptKey, keys.decryptIV)
	if err != nil {
		conn.Close()
		f.state.CompareAndSwap(int32(StateHandshaking), int32(StateDisconnected))
		return err
	}

	// Only the last eight bytes go out encrypted; the server recovers the
	// keys from the clear prefix and checks the tag with them.
	encrypted := encrypt.Process(nonce[:])
	copy(nonce[56:], encrypted[56:])

	f.mu.Lock()
	f.conn = conn
	f.encrypt = encrypt
	f.decrypt = decrypt
	closed := f.State() == StateClosed
	f.mu.Unlock()

	// Close may have run while the dial was in flight and found no conn.
	if closed {
		conn.Close()
		return ErrClosed
	}

	if err := writeFull(conn, nonce[:]); err != nil {
		f.Close()
		return fmt.Errorf("%w: handshake: %w", ErrConnectionLost, err)
	}

	if !f.state.CompareAndSwap(int32(StateHandshaking), int32(StateEstablished)) {
		// Closed while handshaking.
		conn.Close()
		return ErrClosed
	}

	logrus.WithFields(logrus.Fields{
		"function": "handshake",
		"remote":   remoteString(conn),
	}).Debug("Obfuscated transport established")

	crypto.ZeroBytes(keys.encryptKey)
	crypto.ZeroBytes(keys.decryptKey)
	return nil
}

// Send length-prefixes payload and writes it under the running encrypt
// keystream.
func (f *Framer) Send(payload []byte) error {
	if err := f.ready(); err != nil {
		return err
	}
	if err := limits.ValidateFramePayload(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrFrameTooLarge, err)
	}

	padding, err := f.padding()
	if err != nil {
		return err
	}

	frame := make([]byte, limits.FrameLengthSize+len(payload)+len(padding))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)+len(padding)))
	copy(frame[4:], payload)
	copy(frame[4+len(payload):], padding)

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.encrypt.XORKeyStream(frame, frame)
	if err := writeFull(f.conn, frame); err != nil {
		if f.State() == StateClosed {
			return ErrClosed
		}
		f.Close()
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return nil
}

// Receive reads one frame and returns its de-obfuscated payload. It returns
// io.EOF when the peer closes at a frame boundary or the framer is closed.
func (f *Framer) Receive() ([]byte, error) {
	if err := f.ready(); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil, io.EOF
		}
		return nil, err
	}

	f.readMu.Lock()
	defer f.readMu.Unlock()

	var header [limits.FrameLengthSize]byte
	if _, err := io.ReadFull(f.conn, header[:]); err != nil {
		return nil, f.readError(err, false)
	}
	f.decrypt.XORKeyStream(header[:], header[:])

	length := int32(binary.LittleEndian.Uint32(header[:]))
	if err := limits.ValidateFrameLength(length); err != nil {
		f.Close()
		if errors.Is(err, limits.ErrNegativeLength) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidLength, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrFrameTooLarge, err)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f.conn, payload); err != nil {
		return nil, f.readError(err, true)
	}
	f.decrypt.XORKeyStream(payload, payload)

	return payload, nil
}

// Close closes the underlying stream. It is safe to call more than once and
// from any goroutine; blocked Receive calls return io.EOF.
func (f *Framer) Close() error {
	f.closeOnce.Do(func() {
		f.state.Store(int32(StateClosed))

		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()

		if conn != nil {
			f.closeErr = conn.Close()
		}

		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"remote":   remoteString(conn),
		}).Debug("Transport closed")
	})
	return f.closeErr
}

func (f *Framer) ready() error {
	switch f.State() {
	case StateEstablished:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotConnected
	}
}

// readError maps stream read failures. A clean close, local or remote, is
// io.EOF; running out of bytes inside a frame is ErrTruncatedFrame.
func (f *Framer) readError(err error, midFrame bool) error {
	if f.State() == StateClosed {
		return io.EOF
	}

	switch {
	case errors.Is(err, io.EOF) && !midFrame:
		f.Close()
		return io.EOF
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		f.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Receive",
			"error":    err.Error(),
		}).Warn("Stream ended inside a frame")
		return ErrTruncatedFrame
	case errors.Is(err, net.ErrClosed):
		return io.EOF
	default:
		f.Close()
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
}

func (f *Framer) padding() ([]byte, error) {
	if f.opts.Protocol != ProtocolPaddedIntermediate {
		return nil, nil
	}
	var n [1]byte
	if _, err := io.ReadFull(f.opts.Rand, n[:]); err != nil {
		return nil, fmt.Errorf("failed to draw padding length: %w", err)
	}
	padding := make([]byte, n[0]%16)
	if _, err := io.ReadFull(f.opts.Rand, padding); err != nil {
		return nil, fmt.Errorf("failed to draw padding: %w", err)
	}
	return padding, nil
}

// writeFull writes all of b. net.Conn.Write already returns an error on
// short writes, the loop covers writers that do not.
func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func remoteString(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

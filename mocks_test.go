package mtcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/mtcore/interfaces"
	"github.com/opd-ai/mtcore/session"
	"github.com/opd-ai/mtcore/storage"
	"github.com/opd-ai/mtcore/transport"
	"github.com/stretchr/testify/require"
)

// mockConn is an in-memory transport.Conn.
type mockConn struct {
	mu        sync.Mutex
	address   string
	sent      [][]byte
	sendErr   error
	state     transport.State
	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (c *mockConn) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.address = address
	c.state = transport.StateEstablished
	return nil
}

func (c *mockConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *mockConn) Receive() ([]byte, error) {
	select {
	case p, ok := <-c.incoming:
		if !ok {
			return nil, io.EOF
		}
		return p, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *mockConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = transport.StateClosed
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *mockConn) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *mockConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *mockConn) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// mockCipher frames envelopes as salt | session_id | message without
// encrypting them.
type mockCipher struct {
	failEncrypt bool
}

func (mockCipher) seal(env interfaces.Envelope) []byte {
	buf := make([]byte, 16+len(env.Message))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(env.Salt))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(env.SessionID))
	copy(buf[16:], env.Message)
	return buf
}

func (c mockCipher) Encrypt(authKey []byte, env interfaces.Envelope) ([]byte, error) {
	if c.failEncrypt {
		return nil, errors.New("encrypt failed")
	}
	if len(authKey) == 0 {
		return nil, errors.New("no auth key")
	}
	return c.seal(env), nil
}

func (mockCipher) Decrypt(authKey []byte, payload []byte) (interfaces.Envelope, error) {
	if len(payload) < 16 {
		return interfaces.Envelope{}, errors.New("short payload")
	}
	return interfaces.Envelope{
		Salt:      int64(binary.LittleEndian.Uint64(payload[0:8])),
		SessionID: int64(binary.LittleEndian.Uint64(payload[8:16])),
		Message:   payload[16:],
	}, nil
}

// mockExchange returns a fixed result and counts calls.
type mockExchange struct {
	calls  atomic.Int32
	result *interfaces.AuthResult
	err    error
}

func (m *mockExchange) Exchange(ctx context.Context, dcID int, testMode bool) (*interfaces.AuthResult, error) {
	m.calls.Add(1)
	return m.result, m.err
}

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock { return &mockClock{now: time.Unix(1700000000, 0)} }

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// lockedBuffer collects log output written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Reset() {
	b.mu.Lock()
	b.buf.Reset()
	b.mu.Unlock()
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

type harness struct {
	session  *Session
	conn     *mockConn
	store    *storage.SQLiteStorage
	exchange *mockExchange
	clock    *mockClock
}

func newHarness(t *testing.T, configure func(o *Options)) *harness {
	t.Helper()

	clock := newMockClock()
	store, err := storage.OpenMemory(&storage.Options{TimeProvider: clock})
	require.NoError(t, err)

	h := &harness{
		conn:  newMockConn(),
		store: store,
		clock: clock,
		exchange: &mockExchange{result: &interfaces.AuthResult{
			AuthKey:    testKey,
			ServerSalt: 0x1122334455667788,
			ServerTime: clock.Now(),
		}},
	}

	opts := NewOptions()
	opts.TimeProvider = clock
	opts.CheckpointInterval = time.Hour
	if configure != nil {
		configure(opts)
	}

	s, err := New(opts, Dependencies{
		Storage:     store,
		Cipher:      mockCipher{},
		KeyExchange: h.exchange,
		NewConn:     func(*transport.Options) transport.Conn { return h.conn },
	})
	require.NoError(t, err)
	h.session = s
	t.Cleanup(func() { s.Close() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background()))
}

// deliver pushes a server message into the session.
func (h *harness) deliver(msg *session.Message) {
	h.deliverTo(h.session.sessionID, msg)
}

func (h *harness) deliverTo(sessionID int64, msg *session.Message) {
	h.conn.incoming <- mockCipher{}.seal(interfaces.Envelope{
		Salt:      1,
		SessionID: sessionID,
		Message:   msg.Encode(),
	})
}

// sentMessages decodes everything the session wrote to the transport.
func (h *harness) sentMessages(t *testing.T) ([]*session.Message, []interfaces.Envelope) {
	t.Helper()
	var msgs []*session.Message
	var envs []interfaces.Envelope
	for _, payload := range h.conn.Sent() {
		env, err := mockCipher{}.Decrypt(nil, payload)
		require.NoError(t, err)
		msg, err := session.DecodeMessage(env.Message)
		require.NoError(t, err)
		msgs = append(msgs, msg)
		envs = append(envs, env)
	}
	return msgs, envs
}

func serverMessage(id uint64, seqNo uint32, body []byte) *session.Message {
	return &session.Message{ID: id, SeqNo: seqNo, Length: uint32(len(body)), Body: body}
}

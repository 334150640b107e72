package mtcore

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/mtcore/crypto"
	"github.com/opd-ai/mtcore/interfaces"
	"github.com/opd-ai/mtcore/limits"
	"github.com/opd-ai/mtcore/salts"
	"github.com/opd-ai/mtcore/session"
	"github.com/opd-ai/mtcore/storage"
	"github.com/opd-ai/mtcore/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotStarted is returned by Send before Start.
	ErrNotStarted = errors.New("session not started")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrNoAuthKey is returned by Start when the store holds no key and no
	// key exchange was configured.
	ErrNoAuthKey = errors.New("no auth key stored and no key exchange configured")
	// ErrMissingDependency is returned by New for an incomplete Dependencies.
	ErrMissingDependency = errors.New("missing session dependency")
)

// Options contains configuration options for a Session.
type Options struct {
	// DCID and TestMode are used when the store holds no session yet.
	DCID     int
	TestMode bool
	IPv6     bool
	// Address overrides the datacenter table.
	Address     string
	Protocol    transport.Protocol
	Dialer      transport.Dialer
	DialTimeout time.Duration

	// CheckpointInterval is how often the store is saved and pending acks
	// are flushed.
	CheckpointInterval time.Duration
	// FutureSaltsCount is the number of salts requested per refresh.
	FutureSaltsCount int32

	TimeProvider crypto.TimeProvider
}

// NewOptions returns the default session options.
func NewOptions() *Options {
	return &Options{
		DCID:               2,
		Protocol:           transport.ProtocolIntermediate,
		DialTimeout:        10 * time.Second,
		CheckpointInterval: time.Minute,
		FutureSaltsCount:   64,
	}
}

// Dependencies are the collaborators a Session drives.
type Dependencies struct {
	Storage storage.Storage
	Cipher  interfaces.IPayloadCipher
	// KeyExchange is only needed when the store holds no auth key.
	KeyExchange interfaces.IKeyExchange
	// NewConn overrides the transport, mainly for tests.
	NewConn func(opts *transport.Options) transport.Conn
}

// MessageCallback receives every decoded message that is not consumed by
// the session itself (acks, containers and future_salts are).
type MessageCallback func(msg *session.Message)

// ErrorCallback receives the error that ended the reader loop.
type ErrorCallback func(err error)

// Session is one logical connection to a datacenter.
type Session struct {
	options      *Options
	deps         Dependencies
	timeProvider crypto.TimeProvider

	factory *session.Factory
	salts   *salts.Manager

	// sendMu covers id allocation, encryption and the transport write.
	sendMu    sync.Mutex
	conn      transport.Conn
	authKey   []byte
	sessionID int64
	started   bool
	closed    bool

	outMu       sync.Mutex
	outstanding map[uint64]struct{}
	pendingAcks []uint64

	callbackMu      sync.RWMutex
	messageCallback MessageCallback
	errorCallback   ErrorCallback

	lastSaltRequest time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates a Session. It does not touch the network until Start.
func New(options *Options, deps Dependencies) (*Session, error) {
	if options == nil {
		options = NewOptions()
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("%w: storage", ErrMissingDependency)
	}
	if deps.Cipher == nil {
		return nil, fmt.Errorf("%w: payload cipher", ErrMissingDependency)
	}
	if deps.NewConn == nil {
		deps.NewConn = func(opts *transport.Options) transport.Conn {
			return transport.NewFramer(opts)
		}
	}

	tp := crypto.OrDefault(options.TimeProvider)
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		options:      options,
		deps:         deps,
		timeProvider: tp,
		factory:      session.NewFactory(tp),
		salts:        salts.NewManager(tp),
		outstanding:  make(map[uint64]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// OnMessage sets the callback for received messages.
func (s *Session) OnMessage(callback MessageCallback) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.messageCallback = callback
}

// OnError sets the callback for the error that ends the reader loop.
func (s *Session) OnError(callback ErrorCallback) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.errorCallback = callback
}

// Start resumes the stored session, or runs the key exchange when there is
// none, then connects and starts the reader and checkpoint loops. A session
// without a usable salt requests future salts before Start returns.
func (s *Session) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	if _, fresh := s.salts.Lookup(s.timeProvider.Now()); !fresh {
		if err := s.maybeRefreshSalts(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Start",
				"error":    err.Error(),
			}).Warn("Failed to request future salts")
		}
	}

	go s.checkpointLoop()
	return nil
}

// connect loads the auth key, dials and starts the reader loop. The
// checkpoint loop is accounted for in wg but launched by Start.
func (s *Session) connect(ctx context.Context) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}

	dcID, testMode, err := s.loadAuth(ctx)
	if err != nil {
		return err
	}

	address := s.options.Address
	if address == "" {
		address, err = transport.DCAddress(dcID, testMode, s.options.IPv6)
		if err != nil {
			return err
		}
	}

	sessionID, err := randomInt64()
	if err != nil {
		return fmt.Errorf("failed to generate session id: %w", err)
	}

	conn := s.deps.NewConn(&transport.Options{
		Dialer:      s.options.Dialer,
		DialTimeout: s.options.DialTimeout,
		Protocol:    s.options.Protocol,
	})
	if err := conn.Connect(ctx, address); err != nil {
		return err
	}

	s.conn = conn
	s.sessionID = sessionID
	s.started = true

	logrus.WithFields(logrus.Fields{
		"function":   "Start",
		"dc_id":      dcID,
		"test_mode":  testMode,
		"address":    address,
		"session_id": sessionID,
	}).Info("Session started")

	s.wg.Add(2)
	go s.readLoop(conn)
	return nil
}

// loadAuth resumes the stored auth key or negotiates a new one.
func (s *Session) loadAuth(ctx context.Context) (int, bool, error) {
	store := s.deps.Storage

	key, err := store.AuthKey()
	switch {
	case err == nil:
		dcID, err := store.DCID()
		if err != nil {
			return 0, false, err
		}
		testMode, err := store.TestMode()
		if err != nil {
			return 0, false, err
		}
		s.authKey = key
		logKeySize("loadAuth", key)
		logrus.WithFields(crypto.SecureFieldHash(key, "auth_key")).WithFields(logrus.Fields{
			"function": "loadAuth",
			"dc_id":    dcID,
		}).Debug("Resuming stored session")
		return dcID, testMode, nil

	case !errors.Is(err, storage.ErrNoSession):
		return 0, false, err

	case s.deps.KeyExchange == nil:
		return 0, false, ErrNoAuthKey
	}

	dcID, testMode := s.options.DCID, s.options.TestMode
	result, err := s.deps.KeyExchange.Exchange(ctx, dcID, testMode)
	if err != nil {
		return 0, false, fmt.Errorf("key exchange failed: %w", err)
	}
	if err := result.Validate(); err != nil {
		return 0, false, err
	}

	for _, step := range []func() error{
		func() error { return store.SetDCID(dcID) },
		func() error { return store.SetTestMode(testMode) },
		func() error { return store.SetAuthKey(result.AuthKey) },
		store.Save,
	} {
		if err := step(); err != nil {
			return 0, false, fmt.Errorf("failed to persist new session: %w", err)
		}
	}

	s.authKey = append([]byte(nil), result.AuthKey...)
	logKeySize("loadAuth", s.authKey)
	s.salts.SetInitial(result.ServerSalt)
	if !result.ServerTime.IsZero() {
		s.factory.Allocator().SetServerTime(result.ServerTime)
	}

	logrus.WithFields(logrus.Fields{
		"function": "loadAuth",
		"dc_id":    dcID,
	}).Info("Negotiated new auth key")
	return dcID, testMode, nil
}

func logKeySize(function string, key []byte) {
	if len(key) == interfaces.AuthKeySize {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": function,
		"size":     len(key),
		"nominal":  interfaces.AuthKeySize,
	}).Debug("Auth key size differs from nominal")
}

// Send classifies body by its constructor and sends it. It returns the
// message id.
func (s *Session) Send(body []byte) (uint64, error) {
	return s.SendKind(body, session.KindOf(body))
}

// SendKind sends body with an explicit classification.
func (s *Session) SendKind(body []byte, kind session.BodyKind) (uint64, error) {
	if err := limits.ValidateMessageBody(body); err != nil {
		return 0, err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}
	if !s.started {
		return 0, ErrNotStarted
	}

	msg := s.factory.Build(body, kind)
	payload, err := s.deps.Cipher.Encrypt(s.authKey, interfaces.Envelope{
		Salt:      s.salts.Now(),
		SessionID: s.sessionID,
		Message:   msg.Encode(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt message: %w", err)
	}

	if msg.ContentRelated() {
		s.track(msg.ID)
	}
	if err := s.conn.Send(payload); err != nil {
		s.Acknowledge(msg.ID)
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "SendKind",
		"msg_id":   msg.ID,
		"seq_no":   msg.SeqNo,
		"kind":     kind.String(),
		"length":   msg.Length,
	}).Debug("Message sent")

	return msg.ID, nil
}

func (s *Session) track(id uint64) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.outstanding[id] = struct{}{}
}

// Acknowledge removes ids from the outstanding set.
func (s *Session) Acknowledge(ids ...uint64) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	for _, id := range ids {
		delete(s.outstanding, id)
	}
}

// Outstanding returns the ids of sent content messages that have not been
// acknowledged, in ascending order.
func (s *Session) Outstanding() []uint64 {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	ids := make([]uint64, 0, len(s.outstanding))
	for id := range s.outstanding {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IngestSalts replaces the known salts.
func (s *Session) IngestSalts(fs *salts.FutureSalts) {
	s.salts.Ingest(fs)
	if fs != nil && fs.Now != 0 {
		s.factory.Allocator().SetServerTime(time.Unix(int64(fs.Now), 0))
	}
}

// Salts exposes the salt manager.
func (s *Session) Salts() *salts.Manager {
	return s.salts
}

// Checkpoint saves the store.
func (s *Session) Checkpoint() error {
	if err := s.deps.Storage.Save(); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// FlushAcks sends one msgs_ack for every received content message not yet
// acknowledged.
func (s *Session) FlushAcks() error {
	s.outMu.Lock()
	ids := s.pendingAcks
	s.pendingAcks = nil
	s.outMu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	if _, err := s.SendKind(session.EncodeMsgsAck(ids), session.KindMsgsAck); err != nil {
		s.outMu.Lock()
		s.pendingAcks = append(ids, s.pendingAcks...)
		s.outMu.Unlock()
		return err
	}
	return nil
}

// PendingAcks returns how many received messages still need acknowledging.
func (s *Session) PendingAcks() int {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return len(s.pendingAcks)
}

func (s *Session) readLoop(conn transport.Conn) {
	defer s.wg.Done()

	for {
		payload, err := conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logrus.WithFields(logrus.Fields{
					"function": "readLoop",
				}).Debug("Transport closed, reader stopping")
				return
			}
			s.fail(conn, err)
			return
		}

		if terr, ok := transport.ParseTransportError(payload); ok {
			s.fail(conn, terr)
			return
		}

		env, err := s.deps.Cipher.Decrypt(s.authKey, payload)
		if err != nil {
			s.fail(conn, fmt.Errorf("failed to decrypt payload: %w", err))
			return
		}
		if env.SessionID != s.sessionID {
			logrus.WithFields(logrus.Fields{
				"function":   "readLoop",
				"session_id": env.SessionID,
			}).Warn("Dropping payload for another session")
			continue
		}

		msg, err := session.DecodeMessage(env.Message)
		if err != nil {
			s.fail(conn, fmt.Errorf("failed to decode message: %w", err))
			return
		}
		s.dispatch(msg)
	}
}

// dispatch consumes service messages and hands the rest to the callback.
func (s *Session) dispatch(msg *session.Message) {
	if msg.ContentRelated() {
		s.outMu.Lock()
		s.pendingAcks = append(s.pendingAcks, msg.ID)
		s.outMu.Unlock()
	}

	switch session.KindOf(msg.Body) {
	case session.KindContainer:
		inner, err := session.DecodeContainer(msg.Body)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "dispatch",
				"msg_id":   msg.ID,
				"error":    err.Error(),
			}).Warn("Dropping malformed container")
			return
		}
		for _, m := range inner {
			s.dispatch(m)
		}
		return

	case session.KindMsgsAck:
		ids, err := session.DecodeMsgsAck(msg.Body)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "dispatch",
				"msg_id":   msg.ID,
				"error":    err.Error(),
			}).Warn("Dropping malformed msgs_ack")
			return
		}
		s.Acknowledge(ids...)
		return
	}

	if len(msg.Body) >= 4 && binary.LittleEndian.Uint32(msg.Body) == salts.ConstructorFutureSalts {
		fs, err := salts.DecodeBoxedFutureSalts(msg.Body)
		if err == nil {
			s.Acknowledge(fs.ReqMsgID)
			s.IngestSalts(fs)
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"error":    err.Error(),
		}).Warn("Dropping malformed future_salts")
		return
	}

	s.callbackMu.RLock()
	callback := s.messageCallback
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(msg)
	}
}

// fail closes the connection after a fatal read error and reports it.
func (s *Session) fail(conn transport.Conn, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "readLoop",
		"error":    err.Error(),
	}).Error("Connection failed")

	conn.Close()

	s.callbackMu.RLock()
	callback := s.errorCallback
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (s *Session) checkpointLoop() {
	defer s.wg.Done()

	interval := s.options.CheckpointInterval
	if interval <= 0 {
		interval = NewOptions().CheckpointInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one round of periodic maintenance.
func (s *Session) tick() {
	if err := s.Checkpoint(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "tick",
			"error":    err.Error(),
		}).Warn("Checkpoint failed")
	}
	if err := s.FlushAcks(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "tick",
			"error":    err.Error(),
		}).Warn("Failed to flush acks")
	}
	if err := s.maybeRefreshSalts(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "tick",
			"error":    err.Error(),
		}).Warn("Failed to request future salts")
	}
}

// maybeRefreshSalts requests future salts when the current one is about to
// expire, at most once per checkpoint interval.
func (s *Session) maybeRefreshSalts() error {
	now := s.timeProvider.Now()
	if s.salts.RefreshDelay(now) > 0 {
		return nil
	}
	if !s.lastSaltRequest.IsZero() && now.Sub(s.lastSaltRequest) < s.options.CheckpointInterval {
		return nil
	}

	count := s.options.FutureSaltsCount
	if count <= 0 {
		count = NewOptions().FutureSaltsCount
	}
	if _, err := s.Send(salts.EncodeGetFutureSalts(count)); err != nil {
		return err
	}
	s.lastSaltRequest = now
	return nil
}

// Close stops the loops, closes the transport, saves and closes the store.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		s.sendMu.Lock()
		s.closed = true
		conn := s.conn
		s.sendMu.Unlock()

		var errs []error
		if conn != nil {
			if err := conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.wg.Wait()

		if err := s.deps.Storage.Save(); err != nil && !errors.Is(err, storage.ErrClosed) {
			errs = append(errs, err)
		}
		if err := s.deps.Storage.Close(); err != nil {
			errs = append(errs, err)
		}
		crypto.ZeroBytes(s.authKey)

		logrus.WithFields(logrus.Fields{
			"function":    "Close",
			"outstanding": len(s.Outstanding()),
		}).Info("Session closed")

		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func randomInt64() (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

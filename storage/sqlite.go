package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/opd-ai/mtcore/crypto"
	"github.com/sirupsen/logrus"
)

// defaultDCID is the datacenter a fresh session starts from.
const defaultDCID = 2

// Options configures a SQLiteStorage.
type Options struct {
	// Passphrase, when set, seals the authorization key at rest.
	Passphrase []byte
	// TimeProvider stamps saves and peer updates. Defaults to wall time.
	TimeProvider crypto.TimeProvider
}

// SQLiteStorage is a Storage backed by a SQLite database file.
type SQLiteStorage struct {
	db           *sql.DB
	path         string
	passphrase   []byte
	timeProvider crypto.TimeProvider

	// mu serializes writes. Single-field reads run without it.
	mu     sync.Mutex
	closed bool
}

// Open opens the store at path, migrating it forward, or creates a fresh
// one if the file holds no store yet.
func Open(path string, opts *Options) (*SQLiteStorage, error) {
	s, err := openDB(path, path, opts)
	if err != nil {
		return nil, err
	}

	initialized, err := s.initialized()
	if err == nil {
		if initialized {
			err = migrate(s.db)
		} else {
			err = s.Create()
		}
	}
	if err != nil {
		s.db.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"path":     path,
		"existing": initialized,
	}).Debug("Session store opened")

	return s, nil
}

// OpenMemory creates an ephemeral store that lives until Close.
func OpenMemory(opts *Options) (*SQLiteStorage, error) {
	s, err := openDB(":memory:", "", opts)
	if err != nil {
		return nil, err
	}
	if err := s.Create(); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func openDB(dsn, path string, opts *Options) (*SQLiteStorage, error) {
	if opts == nil {
		opts = &Options{}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database alive across calls and
	// gives reads a consistent view of committed writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &SQLiteStorage{
		db:           db,
		path:         path,
		passphrase:   append([]byte(nil), opts.Passphrase...),
		timeProvider: crypto.OrDefault(opts.TimeProvider),
	}, nil
}

func (s *SQLiteStorage) initialized() (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'version'").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect database: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM version").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect database: %w", err)
	}
	return n > 0, nil
}

// Create writes the schema, the version row and an empty session row.
func (s *SQLiteStorage) Create() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.initialized()
	if err != nil {
		return err
	}
	if exists {
		return ErrStoreExists
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO version VALUES (?)", SchemaVersion); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO sessions VALUES (?, NULL, NULL, 0, NULL, NULL)", defaultDCID); err != nil {
		return fmt.Errorf("failed to write session row: %w", err)
	}

	return tx.Commit()
}

// Save stamps the current time into the session row.
func (s *SQLiteStorage) Save() error {
	return s.SetDate(s.timeProvider.Now())
}

// Close releases the database. Calling it again is a no-op.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	crypto.ZeroBytes(s.passphrase)
	return s.db.Close()
}

// Delete closes the store and removes its files.
func (s *SQLiteStorage) Delete() error {
	if err := s.Close(); err != nil {
		return err
	}
	if s.path == "" {
		return nil
	}

	for _, p := range []string{s.path, s.path + "-journal", s.path + "-wal", s.path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) get(f Field, dest any) error {
	column, ok := f.column()
	if !ok {
		return fmt.Errorf("unknown session field %d", int(f))
	}
	if err := s.db.QueryRow("SELECT " + column + " FROM sessions").Scan(dest); err != nil {
		if errors.Is(err, sql.ErrConnDone) || s.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("failed to read %s: %w", column, err)
	}
	return nil
}

func (s *SQLiteStorage) set(f Field, value any) error {
	column, ok := f.column()
	if !ok {
		return fmt.Errorf("unknown session field %d", int(f))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.Exec("UPDATE sessions SET "+column+" = ?", value); err != nil {
		return fmt.Errorf("failed to write %s: %w", column, err)
	}
	return nil
}

func (s *SQLiteStorage) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// DCID returns the datacenter the session belongs to.
func (s *SQLiteStorage) DCID() (int, error) {
	var v int
	err := s.get(FieldDCID, &v)
	return v, err
}

func (s *SQLiteStorage) SetDCID(dcID int) error { return s.set(FieldDCID, dcID) }

// TestMode reports whether the session targets the test datacenters.
func (s *SQLiteStorage) TestMode() (bool, error) {
	var v sql.NullBool
	err := s.get(FieldTestMode, &v)
	return v.Bool, err
}

func (s *SQLiteStorage) SetTestMode(testMode bool) error { return s.set(FieldTestMode, testMode) }

// AuthKey returns the authorization key, opening it with the passphrase if
// the store was sealed. ErrNoSession means no key was stored yet.
func (s *SQLiteStorage) AuthKey() ([]byte, error) {
	var v []byte
	if err := s.get(FieldAuthKey, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNoSession
	}
	if len(s.passphrase) == 0 {
		return v, nil
	}

	key, err := crypto.OpenSecret(v, s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to open auth key: %w", err)
	}
	return key, nil
}

// SetAuthKey stores key, sealed when a passphrase is configured. A nil key
// clears the session.
func (s *SQLiteStorage) SetAuthKey(key []byte) error {
	if key == nil {
		return s.set(FieldAuthKey, nil)
	}

	stored, err := s.sealKey(key)
	if err != nil {
		return err
	}

	logrus.WithFields(crypto.SecureFieldHash(key, "auth_key")).WithFields(logrus.Fields{
		"function": "SetAuthKey",
		"sealed":   len(s.passphrase) > 0,
	}).Debug("Storing auth key")

	return s.set(FieldAuthKey, stored)
}

func (s *SQLiteStorage) sealKey(key []byte) ([]byte, error) {
	if len(s.passphrase) == 0 {
		return key, nil
	}
	sealed, err := crypto.SealSecret(key, s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to seal auth key: %w", err)
	}
	return sealed, nil
}

// Date returns the time of the last Save.
func (s *SQLiteStorage) Date() (time.Time, error) {
	var v int64
	if err := s.get(FieldDate, &v); err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0), nil
}

func (s *SQLiteStorage) SetDate(date time.Time) error { return s.set(FieldDate, date.Unix()) }

// UserID returns the logged-in account id, zero if unknown.
func (s *SQLiteStorage) UserID() (int64, error) {
	var v sql.NullInt64
	err := s.get(FieldUserID, &v)
	return v.Int64, err
}

func (s *SQLiteStorage) SetUserID(userID int64) error { return s.set(FieldUserID, userID) }

// IsBot reports whether the account is a bot.
func (s *SQLiteStorage) IsBot() (bool, error) {
	var v sql.NullBool
	err := s.get(FieldIsBot, &v)
	return v.Bool, err
}

func (s *SQLiteStorage) SetIsBot(isBot bool) error { return s.set(FieldIsBot, isBot) }

// Version returns the schema version of the store.
func (s *SQLiteStorage) Version() (int, error) {
	var v int
	if err := s.db.QueryRow("SELECT number FROM version").Scan(&v); err != nil {
		if s.isClosed() {
			return 0, ErrClosed
		}
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	return v, nil
}

// SetVersion overwrites the schema version. Only migrations and tests
// should need it.
func (s *SQLiteStorage) SetVersion(version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.Exec("UPDATE version SET number = ?", version); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	return nil
}

var _ Storage = (*SQLiteStorage)(nil)

// Package storage persists the resumable session state: the datacenter, the
// authorization key and the account flags, plus a cache of resolved peers.
//
// The default implementation is SQLiteStorage. A store is versioned; opening
// an older store runs the registered migrations before any accessor is
// usable.
package storage

import (
	"errors"
	"time"

	"github.com/opd-ai/mtcore/peer"
)

var (
	// ErrNotFound is matched by every lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrPeerNotFound is returned when no cached peer matches a lookup.
	ErrPeerNotFound error = &lookupError{msg: "peer not found"}
	// ErrUsernameExpired is returned when the cached username is older than
	// UsernameTTL. Callers treat it like ErrPeerNotFound.
	ErrUsernameExpired error = &lookupError{msg: "username expired"}
	// ErrNoSession is returned when no authorization key has been stored.
	ErrNoSession error = &lookupError{msg: "no session"}

	// ErrStoreExists is returned by Create on an initialized store.
	ErrStoreExists = errors.New("session store already exists")
	// ErrUnsupportedVersion is returned when a store cannot be migrated to
	// the current schema version.
	ErrUnsupportedVersion = errors.New("unsupported session store version")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("session store closed")
	// ErrInvalidSessionString is returned when an imported session string
	// cannot be decoded.
	ErrInvalidSessionString = errors.New("invalid session string")
)

type lookupError struct {
	msg string
}

func (e *lookupError) Error() string { return e.msg }

// Is makes every lookup miss match ErrNotFound.
func (e *lookupError) Is(target error) bool { return target == ErrNotFound }

// UsernameTTL bounds how long a cached username resolves.
const UsernameTTL = 8 * time.Hour

// Field identifies one column of the single session row.
type Field int

const (
	// FieldDCID is the datacenter the session belongs to.
	FieldDCID Field = iota
	// FieldTestMode marks sessions on the test datacenters.
	FieldTestMode
	// FieldAuthKey is the authorization key, sealed when a passphrase is set.
	FieldAuthKey
	// FieldDate is the unix time of the last Save.
	FieldDate
	// FieldUserID is the logged-in user.
	FieldUserID
	// FieldIsBot marks bot sessions.
	FieldIsBot
)

// column returns the column name of f. Only these names are ever
// interpolated into SQL.
func (f Field) column() (string, bool) {
	switch f {
	case FieldDCID:
		return "dc_id", true
	case FieldTestMode:
		return "test_mode", true
	case FieldAuthKey:
		return "auth_key", true
	case FieldDate:
		return "date", true
	case FieldUserID:
		return "user_id", true
	case FieldIsBot:
		return "is_bot", true
	default:
		return "", false
	}
}

// String returns the column name.
func (f Field) String() string {
	if name, ok := f.column(); ok {
		return name
	}
	return "unknown"
}

// PeerRecord is one entry of the peer cache.
type PeerRecord struct {
	// ID is the marked peer id.
	ID          int64
	AccessHash  int64
	Kind        peer.Kind
	Username    string
	PhoneNumber string
}

// Storage is the session store consulted by the session orchestrator.
type Storage interface {
	DCID() (int, error)
	SetDCID(dcID int) error
	TestMode() (bool, error)
	SetTestMode(testMode bool) error
	AuthKey() ([]byte, error)
	SetAuthKey(key []byte) error
	Date() (time.Time, error)
	SetDate(date time.Time) error
	UserID() (int64, error)
	SetUserID(userID int64) error
	IsBot() (bool, error)
	SetIsBot(isBot bool) error
	Version() (int, error)

	UpdatePeers(peers []PeerRecord) error
	PeerByID(id int64) (peer.Ref, error)
	PeerByUsername(username string) (peer.Ref, error)
	PeerByPhone(phone string) (peer.Ref, error)

	Save() error
	Close() error
}

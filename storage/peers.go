package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/mtcore/peer"
	"github.com/sirupsen/logrus"
)

// UpdatePeers inserts or replaces peers by id in one transaction and stamps
// them with the current time.
func (s *SQLiteStorage) UpdatePeers(peers []PeerRecord) error {
	if len(peers) == 0 {
		return nil
	}
	for _, p := range peers {
		if !p.Kind.Valid() {
			return fmt.Errorf("%w: peer %d has kind %d", peer.ErrUnknownKind, p.ID, int(p.Kind))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("REPLACE INTO peers (id, access_hash, type, username, phone_number, last_update_on) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare peer update: %w", err)
	}
	defer stmt.Close()

	now := s.timeProvider.Now().Unix()
	for _, p := range peers {
		if _, err := stmt.Exec(p.ID, p.AccessHash, p.Kind.String(), nullString(p.Username), nullString(p.PhoneNumber), now); err != nil {
			return fmt.Errorf("failed to store peer %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit peers: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "UpdatePeers",
		"count":    len(peers),
	}).Debug("Peer cache updated")

	return nil
}

// PeerByID resolves a cached peer by its marked id.
func (s *SQLiteStorage) PeerByID(id int64) (peer.Ref, error) {
	row := s.db.QueryRow("SELECT id, access_hash, type FROM peers WHERE id = ?", id)
	ref, _, err := s.scanPeer(row, false)
	if errors.Is(err, ErrPeerNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrPeerNotFound, id)
	}
	return ref, err
}

// PeerByUsername resolves a cached peer by username. Entries older than
// UsernameTTL yield ErrUsernameExpired.
func (s *SQLiteStorage) PeerByUsername(username string) (peer.Ref, error) {
	row := s.db.QueryRow("SELECT id, access_hash, type, last_update_on FROM peers WHERE username = ?", username)
	ref, updated, err := s.scanPeer(row, true)
	if errors.Is(err, ErrPeerNotFound) {
		return nil, fmt.Errorf("%w: username %q", ErrPeerNotFound, username)
	}
	if err != nil {
		return nil, err
	}

	age := s.timeProvider.Now().Sub(updated)
	if age < 0 {
		age = -age
	}
	if age > UsernameTTL {
		logrus.WithFields(logrus.Fields{
			"function": "PeerByUsername",
			"username": username,
			"age":      age.String(),
		}).Debug("Cached username expired")
		return nil, fmt.Errorf("%w: %q", ErrUsernameExpired, username)
	}

	return ref, nil
}

// PeerByPhone resolves a cached peer by phone number.
func (s *SQLiteStorage) PeerByPhone(phone string) (peer.Ref, error) {
	row := s.db.QueryRow("SELECT id, access_hash, type FROM peers WHERE phone_number = ?", phone)
	ref, _, err := s.scanPeer(row, false)
	if errors.Is(err, ErrPeerNotFound) {
		return nil, fmt.Errorf("%w: phone %q", ErrPeerNotFound, phone)
	}
	return ref, err
}

// PeerCount returns the number of cached peers.
func (s *SQLiteStorage) PeerCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM peers").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count peers: %w", err)
	}
	return n, nil
}

func (s *SQLiteStorage) scanPeer(row *sql.Row, withDate bool) (peer.Ref, time.Time, error) {
	var (
		id, updated int64
		accessHash  sql.NullInt64
		kindName    string
		err         error
	)
	if withDate {
		err = row.Scan(&id, &accessHash, &kindName, &updated)
	} else {
		err = row.Scan(&id, &accessHash, &kindName)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrPeerNotFound
	}
	if err != nil {
		if s.isClosed() {
			return nil, time.Time{}, ErrClosed
		}
		return nil, time.Time{}, fmt.Errorf("failed to read peer: %w", err)
	}

	kind, err := peer.ParseKind(kindName)
	if err != nil {
		return nil, time.Time{}, err
	}
	ref, err := peer.NewRef(id, accessHash.Int64, kind)
	if err != nil {
		return nil, time.Time{}, err
	}
	return ref, time.Unix(updated, 0), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package storage

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// session string layout: dc_id u8 | test_mode u8 | key_len u16 | auth_key |
// user_id i64 | is_bot u8, big-endian integers.
const sessionStringFixed = 1 + 1 + 2 + 8 + 1

// ExportSessionString encodes the session row into a portable string.
func (s *SQLiteStorage) ExportSessionString() (string, error) {
	key, err := s.AuthKey()
	if err != nil {
		return "", err
	}
	dcID, err := s.DCID()
	if err != nil {
		return "", err
	}
	testMode, err := s.TestMode()
	if err != nil {
		return "", err
	}
	userID, err := s.UserID()
	if err != nil {
		return "", err
	}
	isBot, err := s.IsBot()
	if err != nil {
		return "", err
	}

	if dcID < 0 || dcID > 0xff {
		return "", fmt.Errorf("dc id %d does not fit a session string", dcID)
	}
	if len(key) > 0xffff {
		return "", fmt.Errorf("auth key of %d bytes does not fit a session string", len(key))
	}

	buf := make([]byte, 0, sessionStringFixed+len(key))
	buf = append(buf, byte(dcID), boolByte(testMode))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(key)))
	buf = append(buf, key...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(userID))
	buf = append(buf, boolByte(isBot))

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ImportSessionString overwrites the session row from an exported string.
func (s *SQLiteStorage) ImportSessionString(encoded string) error {
	buf, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSessionString, err)
	}
	if len(buf) < sessionStringFixed {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSessionString, len(buf))
	}

	keyLen := int(binary.BigEndian.Uint16(buf[2:4]))
	if len(buf) != sessionStringFixed+keyLen {
		return fmt.Errorf("%w: key length %d does not match %d bytes", ErrInvalidSessionString, keyLen, len(buf))
	}
	if keyLen == 0 {
		return fmt.Errorf("%w: empty auth key", ErrInvalidSessionString)
	}

	dcID := int(buf[0])
	testMode := buf[1] != 0
	key := buf[4 : 4+keyLen]
	rest := buf[4+keyLen:]
	userID := int64(binary.BigEndian.Uint64(rest[0:8]))
	isBot := rest[8] != 0

	stored, err := s.sealKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	_, err = s.db.Exec("UPDATE sessions SET dc_id = ?, test_mode = ?, auth_key = ?, user_id = ?, is_bot = ?",
		dcID, testMode, stored, userID, isBot)
	if err != nil {
		return fmt.Errorf("failed to import session: %w", err)
	}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

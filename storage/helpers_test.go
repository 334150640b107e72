package storage

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Unix(1700000000, 0)}
}

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

func testAuthKey() []byte {
	return bytes.Repeat([]byte{0x5a, 0xa5, 0x01, 0xfe}, 8)
}

func openTemp(t *testing.T, opts *Options) (*SQLiteStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "account.session")
	s, err := Open(path, opts)
	require.NoError(t, err)
	return s, path
}

func openMemory(t *testing.T, opts *Options) *SQLiteStorage {
	t.Helper()
	s, err := OpenMemory(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

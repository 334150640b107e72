package salts

import (
	"sync"
	"time"

	"github.com/opd-ai/mtcore/crypto"
	"github.com/sirupsen/logrus"
)

// RefreshLead is how long before the current salt expires a refresh is due.
const RefreshLead = 15 * time.Minute

// Manager holds the current salt list. It is safe for concurrent use.
type Manager struct {
	mu           sync.RWMutex
	salts        []Salt
	initial      int64
	hasInitial   bool
	timeProvider crypto.TimeProvider
}

// NewManager creates an empty manager. Pass nil for the wall clock.
func NewManager(tp crypto.TimeProvider) *Manager {
	return &Manager{timeProvider: crypto.OrDefault(tp)}
}

// SetInitial sets the salt negotiated during key exchange. It is used until
// the first future_salts answer arrives.
func (m *Manager) SetInitial(salt int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initial = salt
	m.hasInitial = true
}

// Ingest replaces the held list wholesale with the salts in fs.
func (m *Manager) Ingest(fs *FutureSalts) {
	if fs == nil {
		return
	}

	fresh := append([]Salt(nil), fs.Salts...)

	m.mu.Lock()
	m.salts = fresh
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Ingest",
		"count":      len(fresh),
		"server_now": fs.Now,
	}).Debug("Future salts ingested")
}

// Len returns the number of held salts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.salts)
}

// Current returns the salt for at, degrading to the latest known salt.
func (m *Manager) Current(at time.Time) int64 {
	salt, _ := m.Lookup(at)
	return salt
}

// Now returns the salt for the manager's current time.
func (m *Manager) Now() int64 {
	return m.Current(m.timeProvider.Now())
}

// Lookup returns the salt whose window contains at and true. When none does
// it returns the salt with the latest valid_until and false. Before the first
// Ingest the initial salt is returned as current.
func (m *Manager) Lookup(at time.Time) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ts := int32(at.Unix())
	for _, s := range m.salts {
		if s.Contains(ts) {
			return s.Value, true
		}
	}

	latest, ok := m.latestLocked()
	if !ok {
		if m.hasInitial {
			return m.initial, true
		}
		logrus.WithFields(logrus.Fields{
			"function": "Lookup",
			"at":       ts,
		}).Warn("No salts known")
		return 0, false
	}

	logrus.WithFields(logrus.Fields{
		"function":           "Lookup",
		"at":                 ts,
		"latest_valid_until": latest.ValidUntil,
	}).Warn("No salt window covers the requested time, using latest known salt")
	return latest.Value, false
}

// RefreshDelay returns how long until fresh salts should be requested:
// RefreshLead before the salt covering now expires. It returns zero when a
// refresh is already due or no salts are known.
func (m *Manager) RefreshDelay(now time.Time) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ts := int32(now.Unix())
	var current *Salt
	for i := range m.salts {
		if m.salts[i].Contains(ts) {
			current = &m.salts[i]
			break
		}
	}
	if current == nil {
		return 0
	}

	delay := current.Until().Sub(now) - RefreshLead
	if delay < 0 {
		return 0
	}
	return delay
}

func (m *Manager) latestLocked() (Salt, bool) {
	if len(m.salts) == 0 {
		return Salt{}, false
	}
	latest := m.salts[0]
	for _, s := range m.salts[1:] {
		if s.ValidUntil > latest.ValidUntil {
			latest = s
		}
	}
	return latest, true
}

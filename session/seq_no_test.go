package session

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqCounterContentAndService(t *testing.T) {
	s := NewSeqCounter(0)

	assert.Equal(t, uint32(0), s.Next(false))
	assert.Equal(t, uint32(1), s.Next(true))
	assert.Equal(t, uint32(2), s.Next(false))
	assert.Equal(t, uint32(2), s.Next(false))
	assert.Equal(t, uint32(3), s.Next(true))
	assert.Equal(t, uint32(5), s.Next(true))
	assert.Equal(t, uint32(6), s.Next(false))
	assert.Equal(t, uint32(3), s.Count())
}

func TestSeqCounterRandomInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		s := NewSeqCounter(0)
		var lastContent int64 = -1
		var contentCalls uint32

		for i := 0; i < 200; i++ {
			if rng.Intn(2) == 0 {
				seq := s.Next(true)
				assert.Equal(t, uint32(1), seq%2, "content seq must be odd")
				assert.Greater(t, int64(seq), lastContent)
				lastContent = int64(seq)
				contentCalls++
			} else {
				seq := s.Next(false)
				assert.Equal(t, 2*contentCalls, seq, "service seq must be 2*counter")
			}
		}
		assert.Equal(t, contentCalls, s.Count())
	}
}

func TestSeqCounterStart(t *testing.T) {
	s := NewSeqCounter(10)
	assert.Equal(t, uint32(20), s.Next(false))
	assert.Equal(t, uint32(21), s.Next(true))
}

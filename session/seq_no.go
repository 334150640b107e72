package session

// SeqCounter produces sequence numbers. It is not safe for concurrent use;
// the Factory serializes access to it.
type SeqCounter struct {
	counter uint32
}

// NewSeqCounter creates a counter starting at start content-related messages.
func NewSeqCounter(start uint32) *SeqCounter {
	return &SeqCounter{counter: start}
}

// Next returns counter*2+1 and increments the counter for content-related
// messages, and counter*2 without incrementing for service messages.
func (s *SeqCounter) Next(contentRelated bool) uint32 {
	if !contentRelated {
		return s.counter * 2
	}
	seq := s.counter*2 + 1
	s.counter++
	return seq
}

// Count returns how many content-related messages have been numbered.
func (s *SeqCounter) Count() uint32 {
	return s.counter
}

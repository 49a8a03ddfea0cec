package transport

import "sync"

// Sequence tracks the pair of byte offsets (send, ack) that drive one
// direction of a stream: send is the next byte the sender will transmit,
// ack is the highest cumulative byte offset acknowledged by the peer. The
// invariant ack <= send holds at every observation point. All access is
// serialized through a single mutex so the sender and the receive loop can
// read and write it from different goroutines.
type Sequence struct {
	mu   sync.Mutex
	send uint32
	ack  uint32
}

// GetSend returns the next byte offset to be sent.
func (s *Sequence) GetSend() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send
}

// GetAck returns the highest byte offset acknowledged by the peer.
func (s *Sequence) GetAck() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ack
}

// SetSend sets the next-byte-to-send cursor. Callers on the sender side use
// this to advance past a transmitted chunk.
func (s *Sequence) SetSend(v uint32) {
	s.mu.Lock()
	s.send = v
	s.mu.Unlock()
}

// SetAck advances the acknowledged cursor. Callers never rewind ack; the
// receive loop only calls this after checking the new value is larger.
func (s *Sequence) SetAck(v uint32) {
	s.mu.Lock()
	s.ack = v
	s.mu.Unlock()
}

// Reset performs the go-back-N rollback: send := ack.
func (s *Sequence) Reset() {
	s.mu.Lock()
	s.send = s.ack
	s.mu.Unlock()
}

// AreEqual reports whether the pipeline is empty, i.e. every sent byte has
// been acknowledged.
func (s *Sequence) AreEqual() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send == s.ack
}

// AdoptIfLower re-reads the shared send cursor and, if it is now lower than
// local (a rollback happened concurrently), returns the lower value and
// true. Otherwise it returns local unchanged. The read and the comparison
// happen under one lock acquisition.
func (s *Sequence) AdoptIfLower(local uint32) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.send < local {
		return s.send, true
	}
	return local, false
}

package transport

// dupTracker counts consecutive duplicate ACKs per sequence number. It is
// owned exclusively by the receive loop, which is single-threaded with
// respect to ACK ingestion, so it needs no locking of its own.
type dupTracker struct {
	counts map[uint32]int
}

func newDupTracker() *dupTracker {
	return &dupTracker{counts: make(map[uint32]int)}
}

// Bump increments the duplicate count for seq and returns the new count.
func (d *dupTracker) Bump(seq uint32) int {
	d.counts[seq]++
	return d.counts[seq]
}

// ResetAll clears every tracked count. Called whenever Sequence.ack
// advances, since a fresh ACK invalidates prior duplicate-ACK bookkeeping.
func (d *dupTracker) ResetAll() {
	d.counts = make(map[uint32]int)
}

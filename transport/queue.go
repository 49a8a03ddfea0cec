package transport

import (
	"net"
	"sync"
	"time"
)

// segmentQueue is the unbounded FIFO of accepted in-order data payloads fed
// by the receive loop and drained by Recv.
type segmentQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	closed bool
}

func newSegmentQueue() *segmentQueue {
	q := &segmentQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *segmentQueue) Push(payload []byte) {
	q.mu.Lock()
	q.items = append(q.items, payload)
	q.mu.Unlock()
	q.cond.Signal()
}

// Close wakes every blocked popper so they can observe the peer-closed or
// shutdown condition instead of waiting out their full timeout.
func (q *segmentQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Pop blocks until a payload is available, the queue is closed, or timeout
// elapses. ok is false on timeout or close-with-nothing-queued.
func (q *segmentQueue) Pop(timeout time.Duration) (payload []byte, ok bool) {
	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		close(done)
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return nil, false
		}
		select {
		case <-done:
			return nil, false
		default:
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		q.cond.Wait()
	}
	payload = q.items[0]
	q.items = q.items[1:]
	return payload, true
}

// pendingPeer is one entry in a listener's accept queue: the address that
// sent a bare SYN and the recovery mode it requested.
type pendingPeer struct {
	addr *net.UDPAddr
	mode Mode
}

// acceptQueue is the bounded FIFO of pendingPeer entries produced by a
// listener's receive loop and drained by Accept.
type acceptQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []pendingPeer
	maxSize int
}

func newAcceptQueue(maxSize int) *acceptQueue {
	q := &acceptQueue{maxSize: maxSize}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// TryPush enqueues p unless the queue is at capacity (maxSize <= 0 means
// unbounded). Returns false if the entry was dropped.
func (q *acceptQueue) TryPush(p pendingPeer) bool {
	q.mu.Lock()
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, p)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// Contains reports whether addr is already queued, used to suppress
// duplicate SYNs from the same peer while it waits to be accepted.
func (q *acceptQueue) Contains(addr *net.UDPAddr) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.items {
		if sameAddr(p.addr, addr) {
			return true
		}
	}
	return false
}

// Pop blocks until an entry is available.
func (q *acceptQueue) Pop() pendingPeer {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

package transport

import (
	"net"
	"time"

	"github.com/frulli-fiuba/go-back-n/wire"
)

// runReadLoop is started only for endpoints that own their socket outright
// (a Dial'd client, whose unconnected net.UDPConn talks to exactly one peer).
// Accepted server connections instead receive packets from their listener's
// shared demux loop via processIncoming directly.
func (e *Endpoint) runReadLoop() {
	buf := make([]byte, wire.HeaderLen+wire.MSS)
	for {
		select {
		case <-e.HaltCh():
			return
		default:
		}

		e.conn.SetReadDeadline(deadlineIn(SocketReadTimeout))
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				e.checkTimer()
				continue
			}
			if e.isClosed() {
				return
			}
			e.log.Debug("read loop socket error", "err", err)
			continue
		}

		p, err := wire.Decode(buf[:n])
		if err != nil {
			e.log.Debug("dropping malformed datagram", "err", err)
			continue
		}
		e.processIncoming(p, from)
		e.checkTimer()
	}
}

// checkTimer resends every unacknowledged byte (see retransmitOldest) if the
// RTO timer has expired. The single receive loop calls this after each
// datagram and after each read timeout instead of running a second goroutine, collapsing
// the timer and receive concerns into one sequential tick.
func (e *Endpoint) checkTimer() {
	if !e.timer.IsExpired() {
		return
	}
	e.retransmitOldest()
}

// processIncoming applies one decoded segment from addr to this endpoint's
// state machine. It is always invoked single-threaded: either by this
// endpoint's own runReadLoop, or by its listener's shared demux loop.
func (e *Endpoint) processIncoming(p wire.Packet, addr *net.UDPAddr) {
	e.mu.RLock()
	state := e.state
	known := e.destAddr
	e.mu.RUnlock()

	if known != nil && !sameAddr(known, addr) {
		// Per the resolved address-spoofing open question: once a peer
		// address is fixed by the handshake, datagrams from any other
		// source are silently dropped.
		e.log.Debug("dropping datagram from unexpected source", "addr", addr)
		return
	}

	switch state {
	case stateHandshaking:
		select {
		case e.handshakeCh <- p:
		default:
			e.log.Debug("handshake channel full, dropping", "flags", p.Flags)
		}
		return
	case stateClosed:
		return
	}

	switch {
	case p.HasFlag(wire.SYN):
		// An established endpoint ignores a replayed SYN from its own
		// peer instead of restarting the handshake.
		e.log.Debug("dropping SYN on established connection", "addr", addr)
	case p.HasFlag(wire.FIN):
		e.handlePeerFin(p, addr)
	case p.HasFlag(wire.ACK):
		if state == stateClosing {
			e.mu.Lock()
			e.localFinAcked = true
			e.mu.Unlock()
			return
		}
		e.handleAck(p)
	default:
		e.handleData(p, addr)
	}
}

// handleData ingests one in-stream data segment. recvNext is this
// endpoint's own cursor for the peer's outbound byte stream — a separate
// sequence space from e.seq, which tracks this endpoint's own outbound
// stream and the peer's ACKs of it. A connection is full-duplex, so the two
// directions never share a counter.
func (e *Endpoint) handleData(p wire.Packet, addr *net.UDPAddr) {
	next := e.recvNext
	if p.Seq != next {
		// Out-of-order or a retransmission of something already
		// delivered: re-ACK the last in-order byte so the sender's
		// duplicate-ACK counter advances and, for go-back-N, so it
		// learns to roll back instead of stalling.
		e.sendAck(next, addr)
		return
	}

	if len(p.Payload) > 0 {
		e.recvQueue.Push(p.Payload)
	}
	e.recvNext = next + uint32(len(p.Payload))
	e.sendAck(e.recvNext, addr)
}

func (e *Endpoint) sendAck(seq uint32, addr *net.UDPAddr) {
	ackPacket := wire.Packet{Seq: seq, Flags: wire.ACK}
	if err := e.sendTo(addr, ackPacket); err != nil {
		e.log.Debug("failed to send ack", "err", err)
	}
}

// Recv blocks until n bytes have been delivered, the peer closes mid-stream
// (returning what was accumulated alongside a PeerClosedError), or no data
// arrives for ConnectionTimeout.
func (e *Endpoint) Recv(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	if e.isClosed() {
		return nil, &ClosedError{}
	}

	out := make([]byte, 0, n)

	e.recvMu.Lock()
	if len(e.recvLeftover) > 0 {
		take := len(e.recvLeftover)
		if take > n {
			take = n
		}
		out = append(out, e.recvLeftover[:take]...)
		e.recvLeftover = e.recvLeftover[take:]
	}
	e.recvMu.Unlock()

	deadline := time.Now().Add(ConnectionTimeout)
	for len(out) < n {
		remaining := remainingUntil(deadline)
		if remaining <= 0 {
			return out, newTransportTimeoutError("no data for %s", ConnectionTimeout)
		}
		wait := remaining
		if wait > SocketReadTimeout {
			wait = SocketReadTimeout
		}
		chunk, ok := e.recvQueue.Pop(wait)
		if !ok {
			if e.peerFinClosed() {
				return out, &PeerClosedError{Partial: out}
			}
			if e.isClosed() {
				return out, &ClosedError{}
			}
			continue
		}

		need := n - len(out)
		if len(chunk) > need {
			e.recvMu.Lock()
			e.recvLeftover = append(e.recvLeftover, chunk[need:]...)
			e.recvMu.Unlock()
			chunk = chunk[:need]
		}
		out = append(out, chunk...)
		deadline = time.Now().Add(ConnectionTimeout)
	}
	return out, nil
}

func (e *Endpoint) peerFinClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.peerFinSeen
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

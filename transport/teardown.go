package transport

import (
	"net"
	"time"

	"github.com/frulli-fiuba/go-back-n/wire"
)

// handlePeerFin acknowledges the peer's FIN and unblocks any pending Recv so
// it can return its partial accumulation alongside a PeerClosedError.
func (e *Endpoint) handlePeerFin(p wire.Packet, addr *net.UDPAddr) {
	e.mu.Lock()
	alreadySeen := e.peerFinSeen
	e.peerFinSeen = true
	e.mu.Unlock()

	e.sendAck(p.Seq, addr)

	if !alreadySeen {
		e.recvQueue.Close()
	}
}

// Close performs the bounded graceful shutdown: send FIN, wait up to
// ClosingLoopLimit retries for the peer's ACK, give the peer a matching
// window to deliver its own FIN, then release local resources. Close is
// idempotent.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.state = stateClosing
	e.mu.Unlock()

	addr := e.getDestAddr()
	finPacket := wire.Packet{Seq: e.seq.GetSend(), Flags: wire.FIN}

	for i := 0; i < ClosingLoopLimit && !e.finAcked(); i++ {
		if err := e.sendTo(addr, finPacket); err != nil {
			e.log.Debug("fin send failed", "err", err)
			break
		}
		time.Sleep(initialSRTT)
	}

	for i := 0; i < ClosingLoopLimit && !e.peerFinClosed(); i++ {
		time.Sleep(initialSRTT)
	}

	e.mu.Lock()
	e.closed = true
	e.state = stateClosed
	e.mu.Unlock()

	e.recvQueue.Close()
	e.window.Reset(0)
	e.Halt()
	e.Wait()

	if e.ownsReadLoop {
		return e.conn.Close()
	}
	if e.deregister != nil {
		e.deregister()
	}
	return nil
}

func (e *Endpoint) finAcked() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.localFinAcked
}

package transport

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/frulli-fiuba/go-back-n/internal/workerutil"
	"github.com/frulli-fiuba/go-back-n/wire"
)

// Listener is the passive-open counterpart to Dial: it owns a single shared
// UDP socket, demultiplexes datagrams by source address across every
// accepted peer, and queues unrecognized SYNs for Accept to drain.
type Listener struct {
	workerutil.Worker

	conn *net.UDPConn
	log  *log.Logger

	acceptMu sync.Mutex // serializes concurrent Accept callers
	queue    *acceptQueue

	mu    sync.Mutex
	peers map[string]*Endpoint
}

// Listen opens a passive socket on host:port with a pending-connection
// backlog of maxBacklog (0 means unbounded).
func Listen(host string, port int, maxBacklog int) (*Listener, error) {
	bound, err := Bind(host, port)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		conn:  bound.conn,
		log:   log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "transport/listener"}),
		queue: newAcceptQueue(maxBacklog),
		peers: make(map[string]*Endpoint),
	}
	l.Go(l.demuxLoop)
	return l, nil
}

// Accept blocks until a peer's SYN is queued, completes that peer's
// SYN-ACK/ACK handshake, and returns its established Endpoint. Concurrent
// Accept calls are serialized: only one handshake is ever in flight, so a
// slow or unresponsive peer cannot starve the others out of order.
func (l *Listener) Accept() (*Endpoint, error) {
	l.acceptMu.Lock()
	defer l.acceptMu.Unlock()

	pending := l.queue.Pop()

	e := newEndpoint(l.conn, "transport/server")
	e.ownsReadLoop = false
	e.setDestAddr(pending.addr)
	e.applyModePolicy(pending.mode)
	e.mu.Lock()
	e.state = stateHandshaking
	e.mu.Unlock()
	addr := pending.addr
	e.deregister = func() {
		l.mu.Lock()
		delete(l.peers, addr.String())
		l.mu.Unlock()
	}

	l.mu.Lock()
	l.peers[addr.String()] = e
	l.mu.Unlock()

	synAck := wire.Packet{Seq: 0, Flags: wire.SYN | wire.ACK}
	deadline := time.Now().Add(AcceptPeerTimeout)

	for {
		if time.Now().After(deadline) {
			e.deregister()
			return nil, newConnectTimeoutError("no final ACK from %s within %s", addr, AcceptPeerTimeout)
		}
		if err := e.sendTo(addr, synAck); err != nil {
			e.deregister()
			return nil, err
		}
		select {
		case resp := <-e.handshakeCh:
			if resp.HasFlag(wire.ACK) && !resp.HasFlag(wire.SYN) {
				e.mu.Lock()
				e.state = stateEstablished
				e.mu.Unlock()
				return e, nil
			}
		case <-time.After(initialSRTT):
		case <-l.HaltCh():
			e.deregister()
			return nil, &ClosedError{}
		}
	}
}

// Close stops the demux loop and closes the shared socket. Endpoints
// already returned by Accept use that same socket: after Listener.Close
// their sends fail and nothing more reaches them, so their own Close no
// longer exchanges FIN/ACK with the peer.
func (l *Listener) Close() error {
	l.Halt()
	l.Wait()
	return l.conn.Close()
}

func (l *Listener) demuxLoop() {
	buf := make([]byte, wire.HeaderLen+wire.MSS)
	for {
		select {
		case <-l.HaltCh():
			return
		default:
		}

		l.conn.SetReadDeadline(deadlineIn(SocketReadTimeout))
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				l.checkAllTimers()
				continue
			}
			l.log.Debug("listener read error", "err", err)
			continue
		}

		p, err := wire.Decode(buf[:n])
		if err != nil {
			l.log.Debug("dropping malformed datagram", "addr", addr, "err", err)
			continue
		}

		l.mu.Lock()
		ep, known := l.peers[addr.String()]
		l.mu.Unlock()

		if known {
			ep.processIncoming(p, addr)
			ep.checkTimer()
			continue
		}

		l.acceptNewPeer(p, addr)
		l.checkAllTimers()
	}
}

func (l *Listener) acceptNewPeer(p wire.Packet, addr *net.UDPAddr) {
	if !p.HasFlag(wire.SYN) {
		l.log.Debug("dropping non-SYN from unknown peer", "addr", addr)
		return
	}
	mode, ok := decodeModePayload(p.Payload)
	if !ok {
		l.log.Debug("dropping SYN with malformed mode payload", "addr", addr)
		return
	}
	if l.queue.Contains(addr) {
		return
	}
	if !l.queue.TryPush(pendingPeer{addr: addr, mode: mode}) {
		l.log.Debug("accept backlog full, dropping SYN", "addr", addr)
	}
}

func (l *Listener) checkAllTimers() {
	l.mu.Lock()
	peers := make([]*Endpoint, 0, len(l.peers))
	for _, ep := range l.peers {
		peers = append(peers, ep)
	}
	l.mu.Unlock()
	for _, ep := range peers {
		ep.checkTimer()
	}
}

// Package transport implements a reliable, connection-oriented byte-stream
// built on top of net.UDPConn: three-way handshake setup, in-order reliable
// delivery with sequence-numbered segments, windowed retransmission (go-back-N
// or stop-and-wait), adaptive RTO, and a bounded bidirectional teardown.
package transport

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/frulli-fiuba/go-back-n/internal/validate"
	"github.com/frulli-fiuba/go-back-n/internal/workerutil"
	"github.com/frulli-fiuba/go-back-n/wire"
)

// Timing constants governing handshake, teardown, and idle-progress bounds.
const (
	// SocketReadTimeout bounds each blocking read so the receive loop can
	// observe the shutdown signal within one tick.
	SocketReadTimeout = time.Second

	// ConnectTimeout bounds Dial's SYN retry loop.
	ConnectTimeout = 30 * time.Second

	// AcceptPeerTimeout bounds a single Accept peer's SYN-ACK retry loop
	// before that peer is abandoned in favor of the next pending SYN.
	AcceptPeerTimeout = 30 * time.Second

	// ConnectionTimeout bounds how long SendAll may see no ACK progress,
	// and how long Recv may see an empty queue, before failing.
	ConnectionTimeout = 30 * time.Second

	// TimerPollInterval is the granularity at which a standalone timer
	// poll would re-check RTO expiry. The receive loops do not use it: they
	// check expiry after each datagram and after each read timeout, so an
	// idle endpoint notices an expired timer only once per SocketReadTimeout.
	TimerPollInterval = 10 * time.Millisecond

	// ClosingLoopLimit bounds the number of FIN/ACK retry iterations in
	// Close.
	ClosingLoopLimit = 5
)

// Endpoint is one established (or handshaking, or closing) connection. Both
// Dial and Accept return an *Endpoint bound to a single peer address.
type Endpoint struct {
	workerutil.Worker

	log *log.Logger

	conn *net.UDPConn

	mu       sync.RWMutex
	destAddr *net.UDPAddr
	mode     Mode
	closed   bool
	state    connState

	// handshakeCh delivers SYN-ACK (to Dial) or the closing ACK (to
	// Accept) packets from processIncoming to the blocked handshake
	// goroutine, since those packets arrive before recvQueue logic
	// applies.
	handshakeCh chan wire.Packet

	// ownsReadLoop is true for Dial'd endpoints, which run their own
	// runReadLoop on a private socket. Endpoints produced by Accept leave
	// it false: packets reach them via the listener's single demux loop,
	// so processIncoming is always called single-threaded either way.
	ownsReadLoop bool

	seq    *Sequence
	window *Window
	timer  *RTOTimer
	dup    *dupTracker

	// sendBuf holds every byte handed to SendAll that has not yet been
	// acknowledged, so a retransmission can re-read it by offset.
	// sendBufBase is the byte offset of sendBuf[0] and always equals the
	// last-trimmed ack cursor.
	sendBufMu   sync.Mutex
	sendBuf     []byte
	sendBufBase uint32

	recvQueue *segmentQueue

	// recvNext is the next expected byte offset of the peer's outbound
	// stream. It is a distinct sequence space from seq (this endpoint's
	// own outbound stream), since the connection is full-duplex. Written
	// only by processIncoming, which always runs single-threaded for a
	// given endpoint, so it needs no lock of its own.
	recvNext uint32

	// recvLeftover holds bytes popped from recvQueue beyond what the
	// current Recv call asked for, carried to the next call.
	recvMu       sync.Mutex
	recvLeftover []byte

	// deregister, set by Accept, removes this endpoint from its
	// listener's peer map on Close. nil for Dial'd client endpoints.
	deregister func()

	// ackSignal carries non-blocking notifications from the receive loop
	// to SendAll whenever a fresh ACK advances the pipeline. SendAll selects
	// on it once every byte is sent and it waits for the remaining ACKs;
	// retransmissions post nothing on it.
	ackSignal chan struct{}

	// peerFinSeen/localFinAcked drive the teardown state machine (§4.8);
	// guarded by mu.
	peerFinSeen   bool
	localFinAcked bool
}

func newEndpoint(conn *net.UDPConn, prefix string) *Endpoint {
	return &Endpoint{
		log: log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Prefix:          prefix,
		}),
		conn:        conn,
		seq:         &Sequence{},
		timer:       NewRTOTimer(),
		dup:         newDupTracker(),
		recvQueue:   newSegmentQueue(),
		ackSignal:   make(chan struct{}, 1),
		handshakeCh: make(chan wire.Packet, 4),
	}
}

// connState is the endpoint's position in the handshake/data/teardown
// lifecycle.
type connState int

const (
	stateHandshaking connState = iota
	stateEstablished
	stateClosing
	stateClosed
)

// Bind opens a UDP socket on host:port and wraps it in an Endpoint with no
// peer and no background loop. Listen calls it to open its shared socket;
// Dial opens its own socket on any local port and does not use Bind.
func Bind(host string, port int) (*Endpoint, error) {
	if err := validate.Host(host); err != nil {
		return nil, newValidationError("%v", err)
	}
	if err := validate.Port(port); err != nil {
		return nil, newValidationError("%v", err)
	}
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, newSocketFailureError(err)
	}
	ep := newEndpoint(conn, "transport/listener")
	return ep, nil
}

func (e *Endpoint) setDestAddr(addr *net.UDPAddr) {
	e.mu.Lock()
	e.destAddr = addr
	e.mu.Unlock()
}

func (e *Endpoint) getDestAddr() *net.UDPAddr {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.destAddr
}

func (e *Endpoint) applyModePolicy(m Mode) {
	policy := policyFor(m)
	if e.window == nil {
		e.window = NewWindow(policy.windowCapacity)
	} else {
		e.window.Reset(policy.windowCapacity)
	}
	e.mu.Lock()
	e.mode = m
	e.mu.Unlock()
	e.dup = newDupTracker()
}

func (e *Endpoint) repeatThreshold() int {
	e.mu.RLock()
	m := e.mode
	e.mu.RUnlock()
	return policyFor(m).repeatThreshold
}

func (e *Endpoint) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Endpoint) notifyAck() {
	select {
	case e.ackSignal <- struct{}{}:
	default:
	}
}

func (e *Endpoint) sendTo(addr *net.UDPAddr, p wire.Packet) error {
	_, err := e.conn.WriteToUDP(wire.Encode(p), addr)
	if err != nil {
		return newSocketFailureError(err)
	}
	return nil
}

func deadlineIn(d time.Duration) time.Time {
	return time.Now().Add(d)
}

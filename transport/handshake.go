package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/frulli-fiuba/go-back-n/internal/validate"
	"github.com/frulli-fiuba/go-back-n/wire"
)

// Dial actively opens a connection to host:port, negotiating the requested
// recovery mode in the SYN payload, and blocks until the three-way
// handshake completes or ConnectTimeout elapses.
func Dial(host string, port int, mode Mode) (*Endpoint, error) {
	if err := validate.Host(host); err != nil {
		return nil, newValidationError("%v", err)
	}
	if err := validate.Port(port); err != nil {
		return nil, newValidationError("%v", err)
	}
	if !mode.Valid() {
		return nil, newValidationError("unknown recovery mode %d", mode)
	}

	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, newSocketFailureError(err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, newSocketFailureError(err)
	}

	e := newEndpoint(conn, "transport/client")
	e.ownsReadLoop = true
	e.setDestAddr(remote)
	e.applyModePolicy(mode)
	e.mu.Lock()
	e.state = stateHandshaking
	e.mu.Unlock()
	e.Go(e.runReadLoop)

	syn := wire.Packet{Seq: 0, Flags: wire.SYN, Payload: encodeModePayload(mode)}
	deadline := time.Now().Add(ConnectTimeout)

	for {
		if time.Now().After(deadline) {
			e.abortHandshake()
			return nil, newConnectTimeoutError("no SYN-ACK from %s within %s", remote, ConnectTimeout)
		}
		if err := e.sendTo(remote, syn); err != nil {
			e.abortHandshake()
			return nil, err
		}
		select {
		case resp := <-e.handshakeCh:
			if resp.HasFlag(wire.SYN) && resp.HasFlag(wire.ACK) {
				finalAck := wire.Packet{Seq: 0, Flags: wire.ACK}
				if err := e.sendTo(remote, finalAck); err != nil {
					e.abortHandshake()
					return nil, err
				}
				e.mu.Lock()
				e.state = stateEstablished
				e.mu.Unlock()
				return e, nil
			}
		case <-time.After(initialSRTT):
		case <-e.HaltCh():
			return nil, &ClosedError{}
		}
	}
}

func (e *Endpoint) abortHandshake() {
	e.Halt()
	e.Wait()
	e.conn.Close()
}

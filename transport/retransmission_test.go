package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/frulli-fiuba/go-back-n/wire"
)

// lossyProxy sits between a client and a real server socket, relaying
// datagrams in both directions while letting a test drop a chosen segment
// exactly once. It lets a loopback test exercise RTO-triggered retransmission
// without the production Dial/Listen path knowing anything was injected.
type lossyProxy struct {
	front, back *net.UDPConn
	mu          sync.Mutex
	clientAddr  *net.UDPAddr
}

func newLossyProxy(t *testing.T, backend *net.UDPAddr, drop func(wire.Packet) bool) *net.UDPAddr {
	t.Helper()
	front, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	back, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	p := &lossyProxy{front: front, back: back}

	go func() {
		buf := make([]byte, wire.HeaderLen+wire.MSS)
		for {
			front.SetReadDeadline(deadlineIn(time.Second))
			n, addr, err := front.ReadFromUDP(buf)
			if err != nil {
				if isTimeout(err) {
					continue
				}
				return
			}
			p.mu.Lock()
			p.clientAddr = addr
			p.mu.Unlock()

			raw := append([]byte(nil), buf[:n]...)
			if decoded, derr := wire.Decode(raw); derr == nil && drop != nil && drop(decoded) {
				continue
			}
			back.WriteToUDP(raw, backend)
		}
	}()

	go func() {
		buf := make([]byte, wire.HeaderLen+wire.MSS)
		for {
			back.SetReadDeadline(deadlineIn(time.Second))
			n, _, err := back.ReadFromUDP(buf)
			if err != nil {
				if isTimeout(err) {
					continue
				}
				return
			}
			p.mu.Lock()
			ca := p.clientAddr
			p.mu.Unlock()
			if ca == nil {
				continue
			}
			front.WriteToUDP(buf[:n], ca)
		}
	}()

	t.Cleanup(func() {
		front.Close()
		back.Close()
	})
	return front.LocalAddr().(*net.UDPAddr)
}

func TestPacketLossTriggersRTORetransmitAndUpdatesSRTT(t *testing.T) {
	port := freePort(t)
	listener, err := Listen("127.0.0.1", port, 4)
	require.NoError(t, err)
	defer listener.Close()
	serverAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}

	var dropped int32
	proxyAddr := newLossyProxy(t, serverAddr, func(p wire.Packet) bool {
		if !p.IsData() {
			return false
		}
		return atomic.CompareAndSwapInt32(&dropped, 0, 1)
	})

	serverErrCh := make(chan error, 1)
	serverRecvCh := make(chan []byte, 1)
	payload := []byte("hello reliable world, this segment gets dropped once")
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			serverErrCh <- err
			return
		}
		defer conn.Close()
		data, err := conn.Recv(len(payload))
		serverRecvCh <- data
		serverErrCh <- err
	}()

	client, err := Dial("127.0.0.1", proxyAddr.Port, GoBackN)
	require.NoError(t, err)
	defer client.Close()

	// Shrink the initial RTO estimate so the test doesn't have to wait out
	// the real 500ms/125ms startup defaults for the timer to expire.
	client.timer.mu.Lock()
	client.timer.srtt = 15 * time.Millisecond
	client.timer.rttvar = 5 * time.Millisecond
	client.timer.mu.Unlock()

	require.NoError(t, client.SendAll(payload))

	select {
	case err := <-serverErrCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server never finished receiving after the dropped segment")
	}
	require.Equal(t, payload, <-serverRecvCh)
	require.EqualValues(t, 1, atomic.LoadInt32(&dropped), "the injected drop should have fired exactly once")

	client.timer.mu.Lock()
	srtt := client.timer.srtt
	client.timer.mu.Unlock()
	require.NotEqual(t, 15*time.Millisecond, srtt, "UpdateRTT should have folded a fresh sample into SRTT after the retransmit was acked")
}

// reorderProxy withholds one chosen data segment until released, letting a
// test force segments to arrive at the receiver out of order.
type reorderProxy struct {
	front, back *net.UDPConn
	holdSeq     uint32
	release     chan struct{}
	mu          sync.Mutex
	clientAddr  *net.UDPAddr
}

func newReorderProxy(t *testing.T, backend *net.UDPAddr, holdSeq uint32) *reorderProxy {
	t.Helper()
	front, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	back, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	rp := &reorderProxy{front: front, back: back, holdSeq: holdSeq, release: make(chan struct{})}

	go func() {
		buf := make([]byte, wire.HeaderLen+wire.MSS)
		var held bool
		for {
			front.SetReadDeadline(deadlineIn(time.Second))
			n, addr, err := front.ReadFromUDP(buf)
			if err != nil {
				if isTimeout(err) {
					continue
				}
				return
			}
			rp.mu.Lock()
			rp.clientAddr = addr
			rp.mu.Unlock()

			raw := append([]byte(nil), buf[:n]...)
			if p, derr := wire.Decode(raw); derr == nil && p.IsData() && p.Seq == holdSeq && !held {
				held = true
				go func(segment []byte) {
					<-rp.release
					rp.back.WriteToUDP(segment, backend)
				}(raw)
				continue
			}
			back.WriteToUDP(raw, backend)
		}
	}()

	go func() {
		buf := make([]byte, wire.HeaderLen+wire.MSS)
		for {
			back.SetReadDeadline(deadlineIn(time.Second))
			n, _, err := back.ReadFromUDP(buf)
			if err != nil {
				if isTimeout(err) {
					continue
				}
				return
			}
			rp.mu.Lock()
			ca := rp.clientAddr
			rp.mu.Unlock()
			if ca == nil {
				continue
			}
			front.WriteToUDP(buf[:n], ca)
		}
	}()

	t.Cleanup(func() {
		front.Close()
		back.Close()
	})
	return rp
}

func (rp *reorderProxy) releaseHeld() {
	close(rp.release)
}

func (rp *reorderProxy) frontAddr() *net.UDPAddr {
	return rp.front.LocalAddr().(*net.UDPAddr)
}

// TestReorderedDeliveryRespectsGoBackNDuplicateAckThreshold holds back the
// first of three segments so the receiver observes the second and third
// out of order. Each out-of-order arrival makes the receiver re-ack the
// still-missing first byte, so the sender sees two duplicate ACKs for it.
// Go-back-N's repeat threshold is 2, and the fast retransmit fires only once
// the duplicate count exceeds it (a third duplicate), so two duplicates must
// not be enough to make the sender resend early — if it did, the withheld
// segment's slot would already be filled by the time it is released below,
// and the transfer would finish before releaseHeld is ever called.
func TestReorderedDeliveryRespectsGoBackNDuplicateAckThreshold(t *testing.T) {
	port := freePort(t)
	listener, err := Listen("127.0.0.1", port, 4)
	require.NoError(t, err)
	defer listener.Close()
	serverAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}

	proxy := newReorderProxy(t, serverAddr, 0)

	payload := make([]byte, 3*wire.MSS)
	for i := range payload {
		payload[i] = byte(i)
	}

	serverErrCh := make(chan error, 1)
	serverRecvCh := make(chan []byte, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			serverErrCh <- err
			return
		}
		defer conn.Close()
		data, err := conn.Recv(len(payload))
		serverRecvCh <- data
		serverErrCh <- err
	}()

	client, err := Dial("127.0.0.1", proxy.frontAddr().Port, GoBackN)
	require.NoError(t, err)
	defer client.Close()

	sendErrCh := make(chan error, 1)
	go func() { sendErrCh <- client.SendAll(payload) }()

	// Give the two reordered segments time to arrive and generate their
	// duplicate ACKs. The default RTO (srtt 500ms + 4*rttvar 125ms = 1s)
	// comfortably outlasts this wait, so no unrelated RTO-driven
	// retransmit can confound the assertion below.
	time.Sleep(300 * time.Millisecond)
	require.EqualValues(t, 0, client.seq.GetAck(), "two reordered duplicate acks must not have advanced the ack cursor")

	proxy.releaseHeld()

	select {
	case err := <-sendErrCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("SendAll never completed after the held segment was released")
	}
	select {
	case err := <-serverErrCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server never finished receiving")
	}
	require.Equal(t, payload, <-serverRecvCh)
}

package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSegmentQueuePushPop(t *testing.T) {
	q := newSegmentQueue()
	q.Push([]byte("hello"))

	payload, ok := q.Pop(time.Second)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), payload)
}

func TestSegmentQueuePopTimesOut(t *testing.T) {
	q := newSegmentQueue()
	start := time.Now()
	_, ok := q.Pop(30 * time.Millisecond)
	require.False(t, ok)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSegmentQueueCloseWakesBlockedPop(t *testing.T) {
	q := newSegmentQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(5 * time.Second)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Close")
	}
}

func TestAcceptQueueTryPushRespectsMaxSize(t *testing.T) {
	q := newAcceptQueue(1)
	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1111}
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}

	require.True(t, q.TryPush(pendingPeer{addr: addrA, mode: GoBackN}))
	require.False(t, q.TryPush(pendingPeer{addr: addrB, mode: GoBackN}))
}

func TestAcceptQueueContains(t *testing.T) {
	q := newAcceptQueue(0)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1111}
	require.False(t, q.Contains(addr))
	q.TryPush(pendingPeer{addr: addr, mode: GoBackN})
	require.True(t, q.Contains(addr))
}

func TestAcceptQueuePopBlocksUntilPush(t *testing.T) {
	q := newAcceptQueue(0)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 3333}

	done := make(chan pendingPeer, 1)
	go func() { done <- q.Pop() }()

	time.Sleep(10 * time.Millisecond)
	q.TryPush(pendingPeer{addr: addr, mode: StopAndWait})

	select {
	case p := <-done:
		require.Equal(t, StopAndWait, p.mode)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after TryPush")
	}
}

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindowDecreaseIncrease(t *testing.T) {
	w := NewWindow(1000)
	require.Equal(t, 1000, w.Size())

	w.Decrease(400)
	require.Equal(t, 600, w.Size())

	w.Increase(400)
	require.Equal(t, 1000, w.Size())
}

func TestWindowWaitUntilNonEmptyUnblocksOnIncrease(t *testing.T) {
	w := NewWindow(100)
	w.Decrease(100)
	require.Equal(t, 0, w.Size())

	done := make(chan int, 1)
	go func() {
		done <- w.WaitUntilNonEmpty(time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	w.Increase(50)

	select {
	case remaining := <-done:
		require.Equal(t, 50, remaining)
	case <-time.After(time.Second):
		t.Fatal("WaitUntilNonEmpty did not unblock after Increase")
	}
}

func TestWindowWaitUntilNonEmptyTimesOut(t *testing.T) {
	w := NewWindow(100)
	w.Decrease(100)

	start := time.Now()
	remaining := w.WaitUntilNonEmpty(50 * time.Millisecond)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, 0, remaining)
}

func TestWindowReset(t *testing.T) {
	w := NewWindow(100)
	w.Decrease(100)
	require.Equal(t, 0, w.Size())

	w.Reset()
	require.Equal(t, 100, w.Size())

	w.Reset(500)
	require.Equal(t, 500, w.Size())
}

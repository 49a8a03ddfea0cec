package transport

import (
	"time"

	"github.com/frulli-fiuba/go-back-n/wire"
)

// SendAll blocks until every byte of data has been transmitted and
// acknowledged, retransmitting as the RTO timer and duplicate ACKs dictate.
// It returns a TransportTimeoutError if no ack progress is observed for
// ConnectionTimeout, and a ClosedError if the endpoint is closed meanwhile.
func (e *Endpoint) SendAll(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if e.isClosed() {
		return &ClosedError{}
	}

	target := e.appendSendBuf(data)
	deadline := time.Now().Add(ConnectionTimeout)

	for {
		if e.isClosed() {
			return &ClosedError{}
		}

		local := e.seq.GetSend()

		if local >= target {
			if e.seq.GetAck() >= target {
				return nil
			}
			if e.waitForProgress(deadline) {
				deadline = time.Now().Add(ConnectionTimeout)
				continue
			}
			if e.isClosed() {
				return &ClosedError{}
			}
			return newTransportTimeoutError("no ack progress for %s", ConnectionTimeout)
		}

		remaining := e.window.WaitUntilNonEmpty(e.timer.SRTT())
		if remaining <= 0 {
			if time.Now().After(deadline) {
				return newTransportTimeoutError("send window exhausted for %s", ConnectionTimeout)
			}
			continue
		}

		chunkLen := wire.MSS
		if avail := int(target - local); avail < chunkLen {
			chunkLen = avail
		}
		if remaining < chunkLen {
			chunkLen = remaining
		}
		payload := e.readSendBuf(local, chunkLen)

		addr := e.getDestAddr()
		if err := e.sendTo(addr, wire.Packet{Seq: local, Payload: payload}); err != nil {
			return err
		}
		e.window.Decrease(len(payload))
		e.seq.SetSend(local + uint32(len(payload)))
		if !e.timer.IsSet() {
			e.timer.Set()
		}
		deadline = time.Now().Add(ConnectionTimeout)
	}
}

// waitForProgress blocks until an ack-advanced notification arrives or
// deadline passes, returning whether it saw progress.
func (e *Endpoint) waitForProgress(deadline time.Time) bool {
	timeout := remainingUntil(deadline)
	if timeout <= 0 {
		return false
	}
	select {
	case <-e.ackSignal:
		return true
	case <-time.After(timeout):
		return false
	case <-e.HaltCh():
		return false
	}
}

func remainingUntil(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}

// handleAck ingests one ACK segment: advances the ack cursor and window on
// fresh progress, or counts a duplicate toward the fast-retransmit threshold.
func (e *Endpoint) handleAck(p wire.Packet) {
	current := e.seq.GetAck()

	if p.Seq > current {
		advanced := p.Seq - current
		e.timer.UpdateRTT()
		e.seq.SetAck(p.Seq)
		e.trimSendBuf(p.Seq)
		e.window.Increase(int(advanced))
		e.dup.ResetAll()
		if e.seq.AreEqual() {
			e.timer.Stop()
		} else {
			e.timer.Set()
		}
		e.notifyAck()
		return
	}

	if p.Seq == current {
		count := e.dup.Bump(p.Seq)
		threshold := e.repeatThreshold()
		if count > threshold {
			e.dup.ResetAll()
			e.retransmitOldest()
		}
		return
	}
	// p.Seq < current: stale ack for bytes already acknowledged, ignore.
}

// retransmitOldest resends every byte between the current ack cursor and the
// current send cursor, triggered either by RTO expiry or by enough duplicate
// ACKs. This is go-back-N's namesake behavior; under stop-and-wait the
// outstanding range is at most one segment.
func (e *Endpoint) retransmitOldest() {
	ack := e.seq.GetAck()
	sendCursor := e.seq.GetSend()
	if ack >= sendCursor {
		e.timer.Stop()
		return
	}

	addr := e.getDestAddr()
	offset := ack
	for offset < sendCursor {
		n := int(sendCursor - offset)
		if n > wire.MSS {
			n = wire.MSS
		}
		payload := e.readSendBuf(offset, n)
		if err := e.sendTo(addr, wire.Packet{Seq: offset, Payload: payload}); err != nil {
			e.log.Debug("retransmit failed", "err", err)
			break
		}
		offset += uint32(n)
	}
	e.timer.Set()
}

func (e *Endpoint) appendSendBuf(data []byte) uint32 {
	e.sendBufMu.Lock()
	defer e.sendBufMu.Unlock()
	e.sendBuf = append(e.sendBuf, data...)
	return e.sendBufBase + uint32(len(e.sendBuf))
}

func (e *Endpoint) readSendBuf(offset uint32, n int) []byte {
	e.sendBufMu.Lock()
	defer e.sendBufMu.Unlock()
	start := int(offset - e.sendBufBase)
	if start < 0 {
		start = 0
	}
	end := start + n
	if end > len(e.sendBuf) {
		end = len(e.sendBuf)
	}
	if start > end {
		start = end
	}
	out := make([]byte, end-start)
	copy(out, e.sendBuf[start:end])
	return out
}

func (e *Endpoint) trimSendBuf(newAck uint32) {
	e.sendBufMu.Lock()
	defer e.sendBufMu.Unlock()
	trim := int(newAck - e.sendBufBase)
	if trim <= 0 {
		return
	}
	if trim > len(e.sendBuf) {
		trim = len(e.sendBuf)
	}
	e.sendBuf = e.sendBuf[trim:]
	e.sendBufBase = newAck
}

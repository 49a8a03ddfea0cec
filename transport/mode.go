package transport

import "github.com/frulli-fiuba/go-back-n/wire"

// Mode selects the sender's loss-recovery strategy. It is negotiated in the
// SYN payload as a big-endian uint32.
type Mode uint32

const (
	// GoBackN retransmits every unacknowledged byte from the oldest loss
	// point forward and tolerates a window of many in-flight segments.
	GoBackN Mode = 1
	// StopAndWait allows only a single outstanding segment; the sender
	// waits for its ACK before transmitting the next one.
	StopAndWait Mode = 2
)

// String implements fmt.Stringer for log output.
func (m Mode) String() string {
	switch m {
	case GoBackN:
		return "go-back-n"
	case StopAndWait:
		return "stop-and-wait"
	default:
		return "unknown"
	}
}

// Valid reports whether m is a recognized recovery mode.
func (m Mode) Valid() bool {
	return m == GoBackN || m == StopAndWait
}

// modePolicy bundles the two parameters that vary by recovery mode: the
// sender's window capacity and the duplicate-ACK fast-retransmit threshold.
type modePolicy struct {
	windowCapacity  int
	repeatThreshold int
}

func policyFor(m Mode) modePolicy {
	switch m {
	case StopAndWait:
		return modePolicy{windowCapacity: wire.MSS, repeatThreshold: 0}
	default: // GoBackN
		return modePolicy{windowCapacity: 100 * wire.MSS, repeatThreshold: 2}
	}
}

func encodeModePayload(m Mode) []byte {
	return []byte{
		byte(uint32(m) >> 24),
		byte(uint32(m) >> 16),
		byte(uint32(m) >> 8),
		byte(uint32(m)),
	}
}

func decodeModePayload(data []byte) (Mode, bool) {
	if len(data) < 4 {
		return 0, false
	}
	v := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	m := Mode(v)
	return m, m.Valid()
}

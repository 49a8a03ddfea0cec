// Package fileframe implements the length-prefixed file transfer protocol
// that upload/download/start-server run on top of a transport.Endpoint's
// SendAll/Recv primitives, grounded on the original lib/file_transfer.py.
package fileframe

import (
	"encoding/binary"
	"fmt"
	"io"
)

// NotFoundLength is the signed 4-byte size header a server sends in place of
// a real length when the requested file does not exist.
const NotFoundLength int32 = -1

const lengthHeaderLen = 4

// transport abstracts the two Endpoint methods fileframe needs, so this
// package can be tested against an in-memory pipe instead of a real socket.
type transport interface {
	SendAll(data []byte) error
	Recv(n int) ([]byte, error)
}

// SendFile writes size-prefixed framing for data: a 4-byte big-endian
// length followed by the bytes themselves.
func SendFile(t transport, data []byte) error {
	var header [lengthHeaderLen]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if err := t.SendAll(header[:]); err != nil {
		return fmt.Errorf("fileframe: sending length header: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := t.SendAll(data); err != nil {
		return fmt.Errorf("fileframe: sending payload: %w", err)
	}
	return nil
}

// SendNotFound writes the NotFoundLength sentinel in place of a real frame.
func SendNotFound(t transport) error {
	var header [lengthHeaderLen]byte
	notFound := NotFoundLength
	binary.BigEndian.PutUint32(header[:], uint32(notFound))
	if err := t.SendAll(header[:]); err != nil {
		return fmt.Errorf("fileframe: sending not-found header: %w", err)
	}
	return nil
}

// ClientMode tells the server which operation the client's request names.
type ClientMode uint32

const (
	ModeUpload ClientMode = 1
	ModeDownload ClientMode = 2
)

// SendRequest writes the client's opening preamble: a 4-byte mode, a 4-byte
// name length, then the name itself. This runs once per connection, before
// either side exchanges file frames.
func SendRequest(t transport, mode ClientMode, name string) error {
	var modeHeader [4]byte
	binary.BigEndian.PutUint32(modeHeader[:], uint32(mode))
	if err := t.SendAll(modeHeader[:]); err != nil {
		return fmt.Errorf("fileframe: sending mode: %w", err)
	}
	var nameLen [4]byte
	binary.BigEndian.PutUint32(nameLen[:], uint32(len(name)))
	if err := t.SendAll(nameLen[:]); err != nil {
		return fmt.Errorf("fileframe: sending name length: %w", err)
	}
	if err := t.SendAll([]byte(name)); err != nil {
		return fmt.Errorf("fileframe: sending name: %w", err)
	}
	return nil
}

// RecvRequest reads the preamble SendRequest writes.
func RecvRequest(t transport) (ClientMode, string, error) {
	modeBytes, err := t.Recv(4)
	if err != nil {
		return 0, "", fmt.Errorf("fileframe: reading mode: %w", err)
	}
	nameLenBytes, err := t.Recv(4)
	if err != nil {
		return 0, "", fmt.Errorf("fileframe: reading name length: %w", err)
	}
	nameLen := binary.BigEndian.Uint32(nameLenBytes)
	var nameBytes []byte
	if nameLen > 0 {
		nameBytes, err = t.Recv(int(nameLen))
		if err != nil {
			return 0, "", fmt.Errorf("fileframe: reading name: %w", err)
		}
	}
	return ClientMode(binary.BigEndian.Uint32(modeBytes)), string(nameBytes), nil
}

// ErrRemoteNotFound is returned by RecvFile when the peer sent the
// not-found sentinel instead of a length.
var ErrRemoteNotFound = fmt.Errorf("fileframe: remote reports file not found")

// RecvFile reads one size-prefixed frame and returns its payload, or
// ErrRemoteNotFound if the peer signaled a missing file.
func RecvFile(t transport) ([]byte, error) {
	header, err := t.Recv(lengthHeaderLen)
	if err != nil {
		return nil, fmt.Errorf("fileframe: reading length header: %w", err)
	}
	if len(header) != lengthHeaderLen {
		return nil, io.ErrUnexpectedEOF
	}
	size := int32(binary.BigEndian.Uint32(header))
	if size == NotFoundLength {
		return nil, ErrRemoteNotFound
	}
	if size < 0 {
		return nil, fmt.Errorf("fileframe: negative length %d", size)
	}
	if size == 0 {
		return nil, nil
	}
	data, err := t.Recv(int(size))
	if err != nil {
		return nil, fmt.Errorf("fileframe: reading payload: %w", err)
	}
	return data, nil
}

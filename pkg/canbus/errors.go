package canbus

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge indicates a payload beyond what a commit frame
	// can describe or beyond the receive buffer.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrBusBusy indicates a frame could not be queued after retrying.
	ErrBusBusy = errors.New("bus busy")
	// ErrShortFrame indicates a frame too short for its packet type.
	ErrShortFrame = errors.New("short frame")
	// ErrOutOfOrder indicates a fill frame with an unexpected offset.
	ErrOutOfOrder = errors.New("fill out of order")
	// ErrBufferOverflow indicates fills exceeding the buffer capacity.
	ErrBufferOverflow = errors.New("reassembly buffer overflow")
	// ErrLengthMismatch indicates the committed length differs from
	// what was accumulated.
	ErrLengthMismatch = errors.New("length mismatch")
	// ErrChecksum indicates the committed checksum does not match.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrNoWriter indicates the adapter has no frame writer.
	ErrNoWriter = errors.New("no frame writer")
)

// ReassemblyError reports a discarded receive buffer.
type ReassemblyError struct {
	Address uint8
	Sender  uint8
	Type    PacketType
	Err     error
}

// Error implements error.
func (e *ReassemblyError) Error() string {
	return fmt.Sprintf("reassembly %d->%d (%s): %v", e.Sender, e.Address, e.Type, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *ReassemblyError) Unwrap() error {
	return e.Err
}

package packet

import "errors"

var (
	// ErrPayloadTooLarge indicates the payload exceeds the maximum size.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrNoTransmit indicates the codec was created receive-only.
	ErrNoTransmit = errors.New("no transmit function")
	// ErrNoReply indicates no reply arrived before the deadline.
	ErrNoReply = errors.New("no reply")
)

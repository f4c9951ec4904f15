package packet

import (
	"github.com/robotalks/canbridge/pkg/crc"
)

const (
	// DefaultMaxPayload is the default receive buffer capacity.
	DefaultMaxPayload = 512
	// MaxLength is the largest length a 3-byte length field can carry.
	MaxLength = 0xffffff

	markerShort  byte = 0x02
	markerMedium byte = 0x03
	markerLong   byte = 0x04
	markerEnd    byte = 0x03
)

// TransmitFunc writes encoded frame bytes to the transport.
type TransmitFunc func([]byte)

// PayloadFunc receives a validated payload.
type PayloadFunc func([]byte)

// DropReason tells why a frame was discarded.
type DropReason int

// Drop reasons.
const (
	DropLength DropReason = iota + 1
	DropEndMarker
	DropChecksum
)

// String implements fmt.Stringer.
func (r DropReason) String() string {
	switch r {
	case DropLength:
		return "length"
	case DropEndMarker:
		return "end-marker"
	case DropChecksum:
		return "checksum"
	}
	return "unknown"
}

// DropFunc observes discarded frames.
type DropFunc func(DropReason)

type parseState int

const (
	stateIdle    parseState = iota // waiting for start marker
	stateLength                    // receiving length field
	statePayload                   // receiving payload
	stateCRCHi                     // waiting for crc high byte
	stateCRCLo                     // waiting for crc low byte
	stateEnd                       // waiting for end marker
)

// Codec converts a byte stream into payloads and payloads into frames.
//
// Receive state is owned by a single goroutine: ProcessByte and Reset
// must not be called concurrently. Send does not touch receive state.
type Codec struct {
	// MaxPayload limits the payload size in both directions.
	// It must be set before the first byte is processed.
	MaxPayload int
	// OnDrop is optional and called when a frame is discarded.
	OnDrop DropFunc

	transmit  TransmitFunc
	onPayload PayloadFunc

	state    parseState
	lenBytes int
	length   int
	buf      []byte
	writePtr int
	crc      uint16
}

// NewCodec creates a Codec. transmit may be nil for receive-only use.
func NewCodec(transmit TransmitFunc, onPayload PayloadFunc) *Codec {
	return &Codec{
		MaxPayload: DefaultMaxPayload,
		transmit:   transmit,
		onPayload:  onPayload,
	}
}

// Reset drops any partially received frame.
func (c *Codec) Reset() {
	c.state = stateIdle
	c.lenBytes, c.length, c.writePtr, c.crc = 0, 0, 0, 0
}

// Idle reports whether the codec is between frames.
func (c *Codec) Idle() bool {
	return c.state == stateIdle
}

// ProcessByte consumes one byte. It never blocks.
func (c *Codec) ProcessByte(b byte) {
	switch c.state {
	case stateIdle:
		switch b {
		case markerShort:
			c.lenBytes = 1
		case markerMedium:
			c.lenBytes = 2
		case markerLong:
			c.lenBytes = 3
		default:
			return
		}
		c.length, c.writePtr = 0, 0
		c.state = stateLength
	case stateLength:
		c.length = c.length<<8 | int(b)
		if c.lenBytes--; c.lenBytes > 0 {
			return
		}
		if c.length > c.maxPayload() {
			c.drop(DropLength)
			return
		}
		if c.buf == nil {
			c.buf = make([]byte, c.maxPayload())
		}
		if c.length == 0 {
			c.state = stateCRCHi
		} else {
			c.state = statePayload
		}
	case statePayload:
		if c.writePtr < len(c.buf) {
			c.buf[c.writePtr] = b
		}
		c.writePtr++
		if c.writePtr >= c.length {
			c.state = stateCRCHi
		}
	case stateCRCHi:
		c.crc = uint16(b) << 8
		c.state = stateCRCLo
	case stateCRCLo:
		c.crc |= uint16(b)
		c.state = stateEnd
	case stateEnd:
		if b != markerEnd {
			c.drop(DropEndMarker)
			return
		}
		if c.writePtr > len(c.buf) {
			c.drop(DropLength)
			return
		}
		payload := c.buf[:c.writePtr]
		if crc.CRC16(payload) != c.crc {
			c.drop(DropChecksum)
			return
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		c.Reset()
		if c.onPayload != nil {
			c.onPayload(out)
		}
	}
}

// Process consumes a chunk of bytes.
func (c *Codec) Process(data []byte) {
	for _, b := range data {
		c.ProcessByte(b)
	}
}

// Send frames payload and hands the bytes to transmit.
func (c *Codec) Send(payload []byte) error {
	if len(payload) > c.maxPayload() {
		return ErrPayloadTooLarge
	}
	if c.transmit == nil {
		return ErrNoTransmit
	}
	frame, err := Encode(payload)
	if err != nil {
		return err
	}
	c.transmit(frame)
	return nil
}

func (c *Codec) maxPayload() int {
	if c.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	if c.MaxPayload > MaxLength {
		return MaxLength
	}
	return c.MaxPayload
}

func (c *Codec) drop(reason DropReason) {
	c.Reset()
	if c.OnDrop != nil {
		c.OnDrop(reason)
	}
}

// Encode builds the frame for payload using the narrowest length field.
func Encode(payload []byte) ([]byte, error) {
	size := len(payload)
	if size > MaxLength {
		return nil, ErrPayloadTooLarge
	}
	frame := make([]byte, 0, size+8)
	switch {
	case size <= 0xff:
		frame = append(frame, markerShort, byte(size))
	case size <= 0xffff:
		frame = append(frame, markerMedium, byte(size>>8), byte(size))
	default:
		frame = append(frame, markerLong, byte(size>>16), byte(size>>8), byte(size))
	}
	frame = append(frame, payload...)
	sum := crc.CRC16(payload)
	return append(frame, byte(sum>>8), byte(sum), markerEnd), nil
}

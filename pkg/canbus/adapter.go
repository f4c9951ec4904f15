package canbus

import (
	"context"
	"sync"

	"github.com/brutella/can"
	"github.com/golang/glog"

	"github.com/robotalks/canbridge/pkg/crc"
)

const (
	// MaxBufferLength is the largest payload a commit frame can describe.
	MaxBufferLength = 0xffff
	// DefaultMaxPayload is the default reassembly buffer capacity.
	DefaultMaxPayload = 512

	shortBufferMax = 6
	fillChunk      = 6
	fillLongChunk  = 5
	fillShortLimit = 255
)

// Send modes carried in short and commit frames.
const (
	// ModeProcess asks the receiver to process the payload and send the
	// response back to the sender.
	ModeProcess uint8 = 0
	// ModeRelay marks a response: the receiver passes it on to whoever
	// asked.
	ModeRelay uint8 = 1
	// ModeNoReply asks the receiver to process without responding.
	ModeNoReply uint8 = 2
)

// Message is a complete payload received from the bus.
type Message struct {
	// Address is the controller address from the frame identifier.
	Address uint8
	// Sender is the controller id written by the transmitting device.
	Sender  uint8
	Mode    uint8
	Payload []byte
}

// MessageHandler receives complete payloads.
type MessageHandler interface {
	HandleMessage(Message)
}

// HandleMessageFunc is func form of MessageHandler.
type HandleMessageFunc func(Message)

// HandleMessage implements MessageHandler.
func (f HandleMessageFunc) HandleMessage(msg Message) {
	f(msg)
}

// FrameFunc observes frames that do not carry buffer traffic
// (status broadcasts, motor set-points, pongs).
type FrameFunc func(addr uint8, t PacketType, data []byte)

type rxBuffer struct {
	data []byte
}

// rxKey identifies one reassembly stream: replies from different
// controllers to the same address must not share a buffer.
type rxKey struct {
	addr, sender uint8
}

// Adapter maps payloads onto bus frames and reassembles incoming ones.
// It is safe for concurrent use: sends may come from any endpoint while
// one goroutine feeds received frames.
type Adapter struct {
	LocalID    uint8
	HWType     uint8
	MaxPayload int
	Writer     FrameWriter
	Retry      RetryPolicy
	Handler    MessageHandler
	OnError    func(error)
	OnFrame    FrameFunc

	lock    sync.Mutex
	buffers map[rxKey]*rxBuffer
}

// NewAdapter creates an Adapter transmitting through w.
func NewAdapter(localID uint8, w FrameWriter) *Adapter {
	return &Adapter{
		LocalID:    localID,
		MaxPayload: DefaultMaxPayload,
		Writer:     w,
		Retry:      DefaultRetryPolicy,
		buffers:    make(map[rxKey]*rxBuffer),
	}
}

// SendBuffer sends payload to target asking for a response.
func (a *Adapter) SendBuffer(ctx context.Context, target uint8, payload []byte) error {
	return a.SendBufferMode(ctx, target, ModeProcess, payload)
}

// SendBufferMode sends payload to target with the given send mode.
func (a *Adapter) SendBufferMode(ctx context.Context, target, mode uint8, payload []byte) error {
	size := len(payload)
	if size > MaxBufferLength {
		return ErrPayloadTooLarge
	}
	if size <= shortBufferMax {
		data := make([]byte, 0, 2+size)
		data = append(data, a.LocalID, mode)
		data = append(data, payload...)
		return a.send(ctx, FrameID(target, PacketProcessShortBuffer), data)
	}

	for offset := 0; offset < size; {
		var (
			id   uint32
			data []byte
			n    int
		)
		if offset < fillShortLimit {
			n = min(fillChunk, size-offset)
			id = FrameID(target, PacketFillRxBuffer)
			data = append([]byte{a.LocalID, byte(offset)}, payload[offset:offset+n]...)
		} else {
			n = min(fillLongChunk, size-offset)
			id = FrameID(target, PacketFillRxBufferLong)
			data = append([]byte{a.LocalID, byte(offset >> 8), byte(offset)}, payload[offset:offset+n]...)
		}
		if err := a.send(ctx, id, data); err != nil {
			return err
		}
		offset += n
	}

	sum := crc.CRC16(payload)
	commit := []byte{a.LocalID, mode, byte(size >> 8), byte(size), byte(sum >> 8), byte(sum)}
	return a.send(ctx, FrameID(target, PacketProcessRxBuffer), commit)
}

// Ping sends a PING to target. A live controller answers with PONG,
// observed through OnFrame.
func (a *Adapter) Ping(ctx context.Context, target uint8) error {
	return a.send(ctx, FrameID(target, PacketPing), []byte{a.LocalID})
}

// Handle implements can.Handler so the adapter can subscribe to a bus.
func (a *Adapter) Handle(frame can.Frame) {
	if frame.ID&effFlag == 0 || frame.ID&(rtrFlag|errFlag) != 0 {
		glog.V(4).Infof("canbus: ignore frame %08x", frame.ID)
		return
	}
	a.OnFrameReceived(frame.ID&IDMask, FrameData(frame))
}

// OnFrameReceived processes one frame given its 29-bit identifier.
func (a *Adapter) OnFrameReceived(id uint32, data []byte) {
	addr, typ := SplitID(id)
	switch typ {
	case PacketProcessShortBuffer:
		if len(data) < 2 {
			a.report(&ReassemblyError{Address: addr, Type: typ, Err: ErrShortFrame})
			return
		}
		a.deliver(Message{
			Address: addr,
			Sender:  data[0],
			Mode:    data[1],
			Payload: append([]byte{}, data[2:]...),
		})
	case PacketFillRxBuffer:
		if len(data) < 2 {
			a.report(&ReassemblyError{Address: addr, Type: typ, Err: ErrShortFrame})
			return
		}
		a.fill(rxKey{addr, data[0]}, typ, int(data[1]), data[2:])
	case PacketFillRxBufferLong:
		if len(data) < 3 {
			a.report(&ReassemblyError{Address: addr, Type: typ, Err: ErrShortFrame})
			return
		}
		a.fill(rxKey{addr, data[0]}, typ, int(data[1])<<8|int(data[2]), data[3:])
	case PacketProcessRxBuffer:
		if len(data) < 6 {
			err := &ReassemblyError{Address: addr, Type: typ, Err: ErrShortFrame}
			if len(data) > 0 {
				err.Sender = data[0]
				a.discard(rxKey{addr, data[0]})
			}
			a.report(err)
			return
		}
		a.commit(addr, data)
	case PacketPing:
		if a.answersPing(addr) && len(data) > 0 {
			go a.pong(data[0])
		}
	default:
		if a.OnFrame != nil {
			a.OnFrame(addr, typ, data)
		}
	}
}

// Pending returns the number of partially received buffers.
func (a *Adapter) Pending() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return len(a.buffers)
}

func (a *Adapter) fill(key rxKey, typ PacketType, offset int, chunk []byte) {
	var err error
	a.lock.Lock()
	if a.buffers == nil {
		a.buffers = make(map[rxKey]*rxBuffer)
	}
	buf := a.buffers[key]
	switch {
	case offset == 0:
		buf = &rxBuffer{data: make([]byte, 0, a.maxPayload())}
		a.buffers[key] = buf
	case buf == nil || offset != len(buf.data):
		err = ErrOutOfOrder
	}
	if err == nil && len(buf.data)+len(chunk) > a.maxPayload() {
		err = ErrBufferOverflow
	}
	if err != nil {
		delete(a.buffers, key)
	} else {
		buf.data = append(buf.data, chunk...)
	}
	a.lock.Unlock()

	if err != nil {
		a.report(&ReassemblyError{Address: key.addr, Sender: key.sender, Type: typ, Err: err})
	}
}

func (a *Adapter) commit(addr uint8, data []byte) {
	sender, mode := data[0], data[1]
	length := int(data[2])<<8 | int(data[3])
	sum := uint16(data[4])<<8 | uint16(data[5])

	key := rxKey{addr, sender}
	a.lock.Lock()
	buf := a.buffers[key]
	delete(a.buffers, key)
	a.lock.Unlock()

	if buf == nil || len(buf.data) != length {
		a.report(&ReassemblyError{Address: addr, Sender: sender, Type: PacketProcessRxBuffer, Err: ErrLengthMismatch})
		return
	}
	if crc.CRC16(buf.data) != sum {
		a.report(&ReassemblyError{Address: addr, Sender: sender, Type: PacketProcessRxBuffer, Err: ErrChecksum})
		return
	}
	a.deliver(Message{Address: addr, Sender: sender, Mode: mode, Payload: buf.data})
}

func (a *Adapter) discard(key rxKey) {
	a.lock.Lock()
	delete(a.buffers, key)
	a.lock.Unlock()
}

// answersPing reports whether a PING to addr gets a PONG. A receive-only
// adapter never answers.
func (a *Adapter) answersPing(addr uint8) bool {
	return addr == a.LocalID && a.Writer != nil
}

func (a *Adapter) pong(to uint8) {
	err := a.send(context.Background(), FrameID(to, PacketPong), []byte{a.LocalID, a.HWType})
	if err != nil {
		glog.Warningf("canbus: pong to %d failed: %v", to, err)
	}
}

func (a *Adapter) deliver(msg Message) {
	glog.V(3).Infof("canbus: %d bytes from %d (sender %d)", len(msg.Payload), msg.Address, msg.Sender)
	if h := a.Handler; h != nil {
		h.HandleMessage(msg)
	}
}

func (a *Adapter) report(err error) {
	glog.V(1).Infof("canbus: %v", err)
	if a.OnError != nil {
		a.OnError(err)
	}
}

func (a *Adapter) send(ctx context.Context, id uint32, data []byte) error {
	if a.Writer == nil {
		return ErrNoWriter
	}
	return a.Retry.Publish(ctx, a.Writer, NewFrame(id, data))
}

func (a *Adapter) maxPayload() int {
	if a.MaxPayload <= 0 || a.MaxPayload > MaxBufferLength {
		return MaxBufferLength
	}
	return a.MaxPayload
}

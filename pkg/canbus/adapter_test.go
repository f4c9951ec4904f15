package canbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brutella/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/canbridge/pkg/crc"
)

type frameRecorder struct {
	lock   sync.Mutex
	frames []can.Frame
}

func (r *frameRecorder) Publish(f can.Frame) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *frameRecorder) Frames() []can.Frame {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]can.Frame(nil), r.frames...)
}

type messageRecorder struct {
	messages []Message
	errs     []error
}

func newReceiver(localID uint8) (*Adapter, *messageRecorder) {
	r := &messageRecorder{}
	a := NewAdapter(localID, &frameRecorder{})
	a.Handler = HandleMessageFunc(func(msg Message) {
		r.messages = append(r.messages, msg)
	})
	a.OnError = func(err error) {
		r.errs = append(r.errs, err)
	}
	return a, r
}

func makePayload(size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = byte(i*13 + 1)
	}
	return p
}

func feed(a *Adapter, frames []can.Frame) {
	for _, f := range frames {
		a.Handle(f)
	}
}

func TestFrameID(t *testing.T) {
	id := FrameID(5, PacketProcessRxBuffer)
	assert.Equal(t, uint32(0x705), id)
	addr, typ := SplitID(id | effFlag)
	assert.Equal(t, uint8(5), addr)
	assert.Equal(t, PacketProcessRxBuffer, typ)
	assert.Equal(t, "PROCESS_RX_BUFFER", typ.String())
	assert.Equal(t, "PACKET_200", PacketType(200).String())
	assert.True(t, PacketStatus5.IsStatus())
	assert.False(t, PacketPing.IsStatus())
}

func TestSendShortBuffer(t *testing.T) {
	w := &frameRecorder{}
	a := NewAdapter(10, w)
	require.NoError(t, a.SendBuffer(context.Background(), 5, []byte{4, 1, 2}))
	frames := w.Frames()
	require.Len(t, frames, 1)
	f := frames[0]
	assert.Equal(t, FrameID(5, PacketProcessShortBuffer)|effFlag, f.ID)
	assert.Equal(t, []byte{10, ModeProcess, 4, 1, 2}, FrameData(f))
}

func TestSendFragmented(t *testing.T) {
	w := &frameRecorder{}
	a := NewAdapter(10, w)
	payload := makePayload(50)
	require.NoError(t, a.SendBuffer(context.Background(), 5, payload))

	frames := w.Frames()
	require.Len(t, frames, 10)
	for n, f := range frames[:9] {
		addr, typ := SplitID(f.ID)
		assert.Equal(t, uint8(5), addr)
		assert.Equal(t, PacketFillRxBuffer, typ)
		assert.Equal(t, []byte{10, byte(n * 6)}, FrameData(f)[:2])
	}
	assert.Equal(t, uint8(4), frames[8].Length)

	_, typ := SplitID(frames[9].ID)
	assert.Equal(t, PacketProcessRxBuffer, typ)
	sum := crc.CRC16(payload)
	assert.Equal(t, []byte{10, ModeProcess, 0, 50, byte(sum >> 8), byte(sum)}, FrameData(frames[9]))

	rx, rec := newReceiver(5)
	feed(rx, frames)
	require.Empty(t, rec.errs)
	require.Len(t, rec.messages, 1)
	assert.Equal(t, Message{Address: 5, Sender: 10, Mode: ModeProcess, Payload: payload}, rec.messages[0])
	assert.Zero(t, rx.Pending())
}

func TestSendLongOffsets(t *testing.T) {
	w := &frameRecorder{}
	a := NewAdapter(1, w)
	payload := makePayload(600)
	require.NoError(t, a.SendBuffer(context.Background(), 2, payload))

	frames := w.Frames()
	var short, long int
	for _, f := range frames {
		_, typ := SplitID(f.ID)
		switch typ {
		case PacketFillRxBuffer:
			short++
		case PacketFillRxBufferLong:
			if long == 0 {
				assert.Equal(t, []byte{1, 1, 2}, FrameData(f)[:3])
			}
			long++
		}
	}
	assert.Equal(t, 43, short)
	assert.Equal(t, 69, long)

	rx, rec := newReceiver(2)
	rx.MaxPayload = 1024
	feed(rx, frames)
	require.Empty(t, rec.errs)
	require.Len(t, rec.messages, 1)
	assert.Equal(t, payload, rec.messages[0].Payload)
}

func TestSendTooLarge(t *testing.T) {
	a := NewAdapter(1, &frameRecorder{})
	err := a.SendBuffer(context.Background(), 2, make([]byte, MaxBufferLength+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestSendNoWriter(t *testing.T) {
	a := NewAdapter(1, nil)
	assert.ErrorIs(t, a.SendBuffer(context.Background(), 2, []byte{1}), ErrNoWriter)
}

func TestReassemblyErrors(t *testing.T) {
	w := &frameRecorder{}
	tx := NewAdapter(10, w)
	payload := makePayload(30)
	require.NoError(t, tx.SendBuffer(context.Background(), 5, payload))
	frames := w.Frames()
	require.Len(t, frames, 6)

	t.Run("out of order", func(t *testing.T) {
		rx, rec := newReceiver(5)
		feed(rx, []can.Frame{frames[0], frames[2], frames[3], frames[4], frames[5]})
		require.Empty(t, rec.messages)
		require.NotEmpty(t, rec.errs)
		assert.ErrorIs(t, rec.errs[0], ErrOutOfOrder)
		var re *ReassemblyError
		require.True(t, errors.As(rec.errs[0], &re))
		assert.Equal(t, uint8(5), re.Address)
		assert.Equal(t, uint8(10), re.Sender)
		assert.Zero(t, rx.Pending())
	})

	t.Run("missing tail", func(t *testing.T) {
		rx, rec := newReceiver(5)
		feed(rx, []can.Frame{frames[0], frames[1], frames[2], frames[3], frames[5]})
		require.Empty(t, rec.messages)
		require.Len(t, rec.errs, 1)
		assert.ErrorIs(t, rec.errs[0], ErrLengthMismatch)
	})

	t.Run("commit without fill", func(t *testing.T) {
		rx, rec := newReceiver(5)
		feed(rx, frames[5:])
		require.Len(t, rec.errs, 1)
		assert.ErrorIs(t, rec.errs[0], ErrLengthMismatch)
	})

	t.Run("corrupted", func(t *testing.T) {
		rx, rec := newReceiver(5)
		bad := append([]can.Frame(nil), frames...)
		bad[2].Data[3] ^= 0xff
		feed(rx, bad)
		require.Empty(t, rec.messages)
		require.Len(t, rec.errs, 1)
		assert.ErrorIs(t, rec.errs[0], ErrChecksum)
	})

	t.Run("overflow", func(t *testing.T) {
		rx, rec := newReceiver(5)
		rx.MaxPayload = 16
		feed(rx, frames)
		require.Empty(t, rec.messages)
		require.NotEmpty(t, rec.errs)
		assert.ErrorIs(t, rec.errs[0], ErrBufferOverflow)
	})

	t.Run("restart", func(t *testing.T) {
		rx, rec := newReceiver(5)
		feed(rx, frames[:3])
		feed(rx, frames)
		require.Empty(t, rec.errs)
		require.Len(t, rec.messages, 1)
		assert.Equal(t, payload, rec.messages[0].Payload)
	})
}

func TestInterleavedSenders(t *testing.T) {
	wa, wb := &frameRecorder{}, &frameRecorder{}
	a, b := NewAdapter(10, wa), NewAdapter(11, wb)
	pa, pb := makePayload(40), makePayload(33)
	require.NoError(t, a.SendBuffer(context.Background(), 3, pa))
	require.NoError(t, b.SendBuffer(context.Background(), 4, pb))

	fa, fb := wa.Frames(), wb.Frames()
	rx, rec := newReceiver(3)
	for n := 0; n < len(fa) || n < len(fb); n++ {
		if n < len(fa) {
			rx.Handle(fa[n])
		}
		if n < len(fb) {
			rx.Handle(fb[n])
		}
	}
	require.Empty(t, rec.errs)
	require.Len(t, rec.messages, 2)
	got := map[uint8][]byte{}
	for _, msg := range rec.messages {
		got[msg.Sender] = msg.Payload
	}
	assert.Equal(t, pa, got[10])
	assert.Equal(t, pb, got[11])
}

func TestInterleavedResponses(t *testing.T) {
	w5, w6 := &frameRecorder{}, &frameRecorder{}
	c5, c6 := NewAdapter(5, w5), NewAdapter(6, w6)
	p5, p6 := makePayload(50), makePayload(40)
	require.NoError(t, c5.SendBufferMode(context.Background(), 2, ModeRelay, p5))
	require.NoError(t, c6.SendBufferMode(context.Background(), 2, ModeRelay, p6))

	f5, f6 := w5.Frames(), w6.Frames()
	rx, rec := newReceiver(2)
	for n := 0; n < len(f5) || n < len(f6); n++ {
		if n < len(f6) {
			rx.Handle(f6[n])
		}
		if n < len(f5) {
			rx.Handle(f5[n])
		}
	}
	require.Empty(t, rec.errs)
	require.Len(t, rec.messages, 2)
	assert.Equal(t, Message{Address: 2, Sender: 6, Mode: ModeRelay, Payload: p6}, rec.messages[0])
	assert.Equal(t, Message{Address: 2, Sender: 5, Mode: ModeRelay, Payload: p5}, rec.messages[1])
	assert.Zero(t, rx.Pending())
}

func TestHandleIgnoresNonDataFrames(t *testing.T) {
	rx, rec := newReceiver(5)
	rx.Handle(can.Frame{ID: FrameID(5, PacketProcessShortBuffer), Length: 3, Data: [8]uint8{1, 0, 9}})
	rx.Handle(can.Frame{ID: FrameID(5, PacketProcessShortBuffer) | effFlag | rtrFlag, Length: 3, Data: [8]uint8{1, 0, 9}})
	rx.Handle(can.Frame{ID: FrameID(5, PacketProcessShortBuffer) | effFlag, Length: 1, Data: [8]uint8{1}})
	assert.Empty(t, rec.messages)
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrShortFrame)
}

func TestOtherFramesObserved(t *testing.T) {
	rx, _ := newReceiver(5)
	var seen []PacketType
	rx.OnFrame = func(addr uint8, typ PacketType, data []byte) {
		assert.Equal(t, uint8(42), addr)
		seen = append(seen, typ)
	}
	rx.Handle(NewFrame(FrameID(42, PacketStatus), []byte{0, 0, 1, 0, 0, 10, 0, 5}))
	rx.Handle(NewFrame(FrameID(42, PacketPong), []byte{42, 3}))
	assert.Equal(t, []PacketType{PacketStatus, PacketPong}, seen)
}

func TestPingPong(t *testing.T) {
	w := &frameRecorder{}
	a := NewAdapter(7, w)
	a.HWType = 3
	a.Handle(NewFrame(FrameID(7, PacketPing), []byte{20}))
	a.Handle(NewFrame(FrameID(8, PacketPing), []byte{20}))
	require.Eventually(t, func() bool { return len(w.Frames()) == 1 }, time.Second, time.Millisecond)
	f := w.Frames()[0]
	addr, typ := SplitID(f.ID)
	assert.Equal(t, uint8(20), addr)
	assert.Equal(t, PacketPong, typ)
	assert.Equal(t, []byte{7, 3}, FrameData(f))
}

func TestReceiveOnlyIgnoresPing(t *testing.T) {
	rx := NewAdapter(Broadcast, nil)
	assert.False(t, rx.answersPing(Broadcast))
	rx.Writer = &frameRecorder{}
	assert.True(t, rx.answersPing(Broadcast))
	assert.False(t, rx.answersPing(5))
}

type flakyWriter struct {
	failures int
	calls    int
}

func (w *flakyWriter) Publish(can.Frame) error {
	w.calls++
	if w.calls <= w.failures {
		return errors.New("no buffer space available")
	}
	return nil
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{Attempts: 5}
	w := &flakyWriter{failures: 3}
	require.NoError(t, p.Publish(context.Background(), w, NewFrame(1, nil)))
	assert.Equal(t, 4, w.calls)

	w = &flakyWriter{failures: 100}
	err := p.Publish(context.Background(), w, NewFrame(1, nil))
	assert.ErrorIs(t, err, ErrBusBusy)
	assert.Equal(t, 5, w.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w = &flakyWriter{failures: 100}
	err = RetryPolicy{Attempts: 5, Yield: time.Second}.Publish(ctx, w, NewFrame(1, nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, w.calls)
}

func TestNewFrameClamps(t *testing.T) {
	f := NewFrame(0x1234, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	assert.Equal(t, uint8(8), f.Length)
	assert.Equal(t, uint32(0x1234)|effFlag, f.ID)
	f.Length = 12
	assert.Len(t, FrameData(f), 8)
}

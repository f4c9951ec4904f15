// Package bridge connects endpoint sessions, the command dispatcher and
// the CAN adapter.
package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/canbridge/pkg/canbus"
	"github.com/robotalks/canbridge/pkg/command"
	"github.com/robotalks/canbridge/pkg/metrics"
	"github.com/robotalks/canbridge/pkg/packet"
)

// Bridge owns the dispatcher and the CAN adapter shared by all sessions.
type Bridge struct {
	Adapter    *canbus.Adapter
	Dispatcher *command.Dispatcher
	// MaxPayload is applied to every new session codec.
	MaxPayload int

	ctx    context.Context
	pinger pinger
}

// New wires a Bridge around adapter. The adapter's Handler, OnError and
// OnFrame hooks are taken over.
func New(ctx context.Context, adapter *canbus.Adapter) *Bridge {
	b := &Bridge{
		Adapter:    adapter,
		Dispatcher: command.NewDispatcher(adapter),
		MaxPayload: adapter.MaxPayload,
		ctx:        ctx,
	}
	b.Dispatcher.Observer = metrics.Dispatch{}
	b.Dispatcher.Register(command.PingCAN, command.HandlerFunc(b.pingCAN))
	adapter.Handler = b
	adapter.OnError = b.reassemblyFailed
	adapter.OnFrame = b.frameObserved
	return b
}

// HandleMessage implements canbus.MessageHandler.
func (b *Bridge) HandleMessage(msg canbus.Message) {
	if msg.Address != b.Adapter.LocalID && msg.Address != canbus.Broadcast {
		glog.V(4).Infof("bridge: ignore message for %d", msg.Address)
		return
	}
	switch msg.Mode {
	case canbus.ModeRelay:
		b.Dispatcher.HandleCANResponse(msg.Sender, msg.Payload)
	case canbus.ModeProcess:
		sender := msg.Sender
		err := b.Dispatcher.HandlePayload(b.ctx, msg.Payload, func(resp []byte) {
			if err := b.Adapter.SendBufferMode(b.ctx, sender, canbus.ModeRelay, resp); err != nil {
				glog.Warningf("bridge: reply to %d failed: %v", sender, err)
			}
		})
		if err != nil {
			glog.V(2).Infof("bridge: command from %d: %v", sender, err)
		}
	case canbus.ModeNoReply:
		if err := b.Dispatcher.HandlePayload(b.ctx, msg.Payload, nil); err != nil {
			glog.V(2).Infof("bridge: command from %d: %v", msg.Sender, err)
		}
	default:
		glog.V(2).Infof("bridge: drop message from %d with mode %d", msg.Sender, msg.Mode)
	}
}

func (b *Bridge) reassemblyFailed(err error) {
	reason := err
	var re *canbus.ReassemblyError
	if errors.As(err, &re) {
		reason = re.Err
	}
	metrics.RecordReassemblyError(reason.Error())
	glog.Warningf("bridge: %v", err)
}

func (b *Bridge) frameObserved(addr uint8, typ canbus.PacketType, data []byte) {
	metrics.RecordFrame(typ.String())
	if typ == canbus.PacketPong && addr == b.Adapter.LocalID && len(data) > 0 {
		b.pinger.pong(data[0])
	}
}

// Session is one endpoint connection. Its Codec must only be fed from
// the endpoint's own goroutine.
type Session struct {
	// Endpoint is the kind of endpoint (tcp, hub, uart:<dev>, ws, mqtt, ble).
	Endpoint string
	// Name identifies the connection in logs.
	Name     string
	Codec    *packet.Codec

	closed    atomic.Bool
	onClose   func()
	closeOnce sync.Once
}

// NewSession creates the codec for a new connection of endpoint. Decoded
// payloads go to the dispatcher; replies, including late responses from
// the bus, are framed and passed to transmit. transmit may be called
// from other goroutines but never concurrently.
func (b *Bridge) NewSession(endpoint, name string, transmit packet.TransmitFunc) *Session {
	s := &Session{Endpoint: endpoint, Name: name, onClose: metrics.SessionOpened(endpoint)}
	var writeLock sync.Mutex
	s.Codec = packet.NewCodec(func(frame []byte) {
		writeLock.Lock()
		defer writeLock.Unlock()
		transmit(frame)
	}, func(payload []byte) {
		if err := b.Dispatcher.HandlePayload(b.ctx, payload, s.reply); err != nil {
			glog.V(2).Infof("bridge: %s: %v", name, err)
		}
	})
	if b.MaxPayload > 0 {
		s.Codec.MaxPayload = b.MaxPayload
	}
	s.Codec.OnDrop = func(reason packet.DropReason) {
		metrics.RecordCodecDrop(endpoint, reason.String())
		glog.V(2).Infof("bridge: %s: dropped frame (%s)", name, reason)
	}
	glog.V(1).Infof("bridge: session %s opened", name)
	return s
}

func (s *Session) reply(payload []byte) {
	if s.closed.Load() {
		glog.V(2).Infof("bridge: %s closed, drop %d bytes reply", s.Name, len(payload))
		return
	}
	if err := s.Codec.Send(payload); err != nil {
		glog.Warningf("bridge: %s: reply failed: %v", s.Name, err)
	}
}

// Close stops replies to this session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.onClose != nil {
			s.onClose()
		}
		glog.V(1).Infof("bridge: session %s closed", s.Name)
	})
}

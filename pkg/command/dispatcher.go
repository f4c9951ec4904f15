package command

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// Broadcast is the bus address no response is expected from.
const Broadcast uint8 = 255

// Forwarder sends a payload to a controller on the bus.
// *canbus.Adapter implements it.
type Forwarder interface {
	SendBuffer(ctx context.Context, target uint8, payload []byte) error
}

// Handler executes a local command. payload starts with the command id.
type Handler interface {
	HandleCommand(payload []byte, reply ReplyFunc)
}

// HandlerFunc is the func form of Handler.
type HandlerFunc func(payload []byte, reply ReplyFunc)

// HandleCommand implements Handler.
func (f HandlerFunc) HandleCommand(payload []byte, reply ReplyFunc) {
	f(payload, reply)
}

// Observer is notified of dispatch events.
type Observer interface {
	CommandReceived(id ID)
	RouteAdded(target uint8, replaced bool)
	ResponseRouted(source uint8, delivered bool)
}

// Dispatcher routes payloads to local handlers or onto the bus.
type Dispatcher struct {
	Forwarder Forwarder
	Observer  Observer
	Routes    Routes

	lock     sync.RWMutex
	handlers map[ID]Handler
}

// NewDispatcher creates a Dispatcher forwarding through f.
func NewDispatcher(f Forwarder) *Dispatcher {
	return &Dispatcher{Forwarder: f, handlers: make(map[ID]Handler)}
}

// Register installs the local handler for id. FORWARD_CAN is handled by
// the Dispatcher itself and can't be overridden.
func (d *Dispatcher) Register(id ID, h Handler) *Dispatcher {
	if id == ForwardCAN {
		panic("command: FORWARD_CAN is reserved")
	}
	d.lock.Lock()
	if d.handlers == nil {
		d.handlers = make(map[ID]Handler)
	}
	d.handlers[id] = h
	d.lock.Unlock()
	return d
}

// HandlePayload dispatches one payload received from an endpoint. reply
// is that endpoint's way back, either called synchronously by a local
// handler or kept until a forwarded command is answered. The returned
// error is informational: the payload has been dropped.
func (d *Dispatcher) HandlePayload(ctx context.Context, payload []byte, reply ReplyFunc) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	id := ID(payload[0])
	if d.Observer != nil {
		d.Observer.CommandReceived(id)
	}
	if id == ForwardCAN {
		return d.forward(ctx, payload, reply)
	}

	d.lock.RLock()
	h := d.handlers[id]
	d.lock.RUnlock()
	if h == nil {
		glog.V(2).Infof("command: no handler for %s", id)
		return fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	h.HandleCommand(payload, reply)
	return nil
}

func (d *Dispatcher) forward(ctx context.Context, payload []byte, reply ReplyFunc) error {
	if len(payload) < 3 {
		return ErrShortForward
	}
	if d.Forwarder == nil {
		return ErrNoForwarder
	}
	target := payload[1]
	inner := append([]byte(nil), payload[2:]...)

	// The route goes in before sending: the response may be received
	// before SendBuffer returns.
	var r *route
	if target != Broadcast && reply != nil {
		var replaced bool
		r, replaced = d.Routes.set(target, reply)
		if replaced {
			glog.Warningf("command: pending reply for %d replaced by a newer request", target)
		}
		if d.Observer != nil {
			d.Observer.RouteAdded(target, replaced)
		}
	}
	glog.V(3).Infof("command: forward %s (%d bytes) to %d", ID(inner[0]), len(inner), target)
	if err := d.Forwarder.SendBuffer(ctx, target, inner); err != nil {
		if r != nil {
			d.Routes.remove(target, r)
		}
		glog.Errorf("command: forward to %d failed: %v", target, err)
		return fmt.Errorf("forward to %d: %w", target, err)
	}
	return nil
}

// HandleCANResponse delivers a payload received from source to the
// endpoint that forwarded the last request to it. Without a pending
// route the payload is dropped.
func (d *Dispatcher) HandleCANResponse(source uint8, payload []byte) bool {
	reply, ok := d.Routes.Take(source)
	if d.Observer != nil {
		d.Observer.ResponseRouted(source, ok)
	}
	if !ok {
		glog.V(2).Infof("command: drop %d bytes from %d, no pending request", len(payload), source)
		return false
	}
	reply(payload)
	return true
}

package canbus

import (
	"context"
	"errors"
	"sync"

	"github.com/brutella/can"
)

// ErrClosed is returned by a closed loopback port.
var ErrClosed = errors.New("loopback closed")

// Loopback is an in-memory bus. Frames published on one port are
// received by all other ports.
type Loopback struct {
	mu     sync.RWMutex
	closed bool
	ports  map[*LoopbackPort]struct{}
}

// NewLoopback creates an empty loopback bus.
func NewLoopback() *Loopback {
	return &Loopback{ports: make(map[*LoopbackPort]struct{})}
}

// Open attaches a new port. Call Run on it to deliver received frames.
func (l *Loopback) Open() *LoopbackPort {
	p := &LoopbackPort{
		bus:    l,
		ch:     make(chan can.Frame, 256),
		closed: make(chan struct{}),
	}
	l.mu.Lock()
	if l.closed {
		p.dead = true
		close(p.closed)
	} else {
		l.ports[p] = struct{}{}
	}
	l.mu.Unlock()
	return p
}

// Close detaches every port.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for p := range l.ports {
		p.shutdown()
	}
	l.ports = nil
	return nil
}

// LoopbackPort is one node on a Loopback.
type LoopbackPort struct {
	bus    *Loopback
	ch     chan can.Frame
	closed chan struct{}

	mu       sync.Mutex
	dead     bool
	handlers []can.Handler
}

// Subscribe adds a receiver of frames from other ports.
func (p *LoopbackPort) Subscribe(h can.Handler) {
	p.mu.Lock()
	p.handlers = append(p.handlers, h)
	p.mu.Unlock()
}

// Publish implements FrameWriter. It fails when a receiving port's
// queue is full, the way a saturated driver queue does.
func (p *LoopbackPort) Publish(frame can.Frame) error {
	p.mu.Lock()
	dead := p.dead
	p.mu.Unlock()
	if dead {
		return ErrClosed
	}

	p.bus.mu.RLock()
	defer p.bus.mu.RUnlock()
	if p.bus.closed {
		return ErrClosed
	}
	var err error
	for t := range p.bus.ports {
		if t == p {
			continue
		}
		select {
		case t.ch <- frame:
		case <-t.closed:
		default:
			err = ErrBusBusy
		}
	}
	return err
}

// Run delivers received frames to subscribers until ctx is done or the
// port is closed.
func (p *LoopbackPort) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closed:
			return ErrClosed
		case frame := <-p.ch:
			p.mu.Lock()
			handlers := p.handlers
			p.mu.Unlock()
			for _, h := range handlers {
				h.Handle(frame)
			}
		}
	}
}

// Close detaches the port from the bus.
func (p *LoopbackPort) Close() error {
	p.bus.mu.Lock()
	p.shutdown()
	if p.bus.ports != nil {
		delete(p.bus.ports, p)
	}
	p.bus.mu.Unlock()
	return nil
}

func (p *LoopbackPort) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return
	}
	p.dead = true
	close(p.closed)
}

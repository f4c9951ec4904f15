// Package ble implements the BLE UART-style characteristic endpoint:
// the client writes stream bytes to the RX characteristic and receives
// replies as notifications on TX, at most MTU bytes each.
//
// Setting up the GATT server is left to the platform stack; it calls
// Write from its write callback and supplies a Notifier.
package ble

import (
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/canbridge/pkg/bridge"
	"github.com/robotalks/canbridge/pkg/transport"
)

// DefaultMTU is the notification payload size before MTU negotiation.
const DefaultMTU = 20

// Notifier sends one notification to the connected client.
type Notifier interface {
	Notify(chunk []byte) error
}

// NotifyFunc is the func form of Notifier.
type NotifyFunc func(chunk []byte) error

// Notify implements Notifier.
func (f NotifyFunc) Notify(chunk []byte) error {
	return f(chunk)
}

// Endpoint is one BLE connection.
type Endpoint struct {
	notifier Notifier
	session  *bridge.Session

	lock sync.Mutex
	mtu  int
}

// Connect starts a session for a newly connected client.
func Connect(opener transport.SessionOpener, notifier Notifier) *Endpoint {
	e := &Endpoint{notifier: notifier, mtu: DefaultMTU}
	e.session = opener.NewSession("ble", "ble", e.transmit)
	return e
}

// SetMTU applies the negotiated notification size.
func (e *Endpoint) SetMTU(mtu int) {
	if mtu <= 0 {
		return
	}
	e.lock.Lock()
	e.mtu = mtu
	e.lock.Unlock()
}

// Write feeds bytes written by the client. Calls must not overlap.
func (e *Endpoint) Write(chunk []byte) {
	e.session.Codec.Process(chunk)
}

// Disconnect ends the session. Late replies are dropped.
func (e *Endpoint) Disconnect() {
	e.session.Close()
}

func (e *Endpoint) transmit(frame []byte) {
	e.lock.Lock()
	mtu := e.mtu
	e.lock.Unlock()
	for len(frame) > 0 {
		n := min(mtu, len(frame))
		if err := e.notifier.Notify(frame[:n]); err != nil {
			glog.V(1).Infof("ble: notify failed: %v", err)
			return
		}
		frame = frame[n:]
	}
}

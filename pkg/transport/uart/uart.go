// Package uart implements the serial endpoint.
package uart

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/tarm/serial"

	"github.com/robotalks/canbridge/pkg/transport"
)

// Defaults.
const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultIdleReset   = 500 * time.Millisecond
	DefaultReopenDelay = time.Second
)

// OpenFunc opens the serial device.
type OpenFunc func(device string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error)

// OpenPort opens a serial port with github.com/tarm/serial.
func OpenPort(device string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	return port, nil
}

// Endpoint serves one serial port. The port is reopened when it fails,
// e.g. a USB adapter being replugged.
type Endpoint struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
	IdleReset   time.Duration
	ReopenDelay time.Duration
	Opener      transport.SessionOpener
	Open        OpenFunc
}

// New creates an Endpoint with defaults.
func New(device string, baud int, opener transport.SessionOpener) *Endpoint {
	if baud <= 0 {
		baud = DefaultBaud
	}
	return &Endpoint{
		Device:      device,
		Baud:        baud,
		ReadTimeout: DefaultReadTimeout,
		IdleReset:   DefaultIdleReset,
		ReopenDelay: DefaultReopenDelay,
		Opener:      opener,
		Open:        OpenPort,
	}
}

// Name implements framework.Named.
func (e *Endpoint) Name() string {
	return "uart:" + e.Device
}

// Run implements framework.Runnable.
func (e *Endpoint) Run(ctx context.Context) error {
	open := e.Open
	if open == nil {
		open = OpenPort
	}
	for {
		port, err := open(e.Device, e.Baud, e.ReadTimeout)
		if err == nil {
			glog.Infof("uart: %s opened at %d baud", e.Device, e.Baud)
			err = transport.ServeStream(ctx, e.Opener, e.Name(), e.Name(), port, transport.StreamOptions{
				ReadTimeout: e.ReadTimeout > 0,
				IdleReset:   e.IdleReset,
			})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		glog.Warningf("uart: %s: %v", e.Device, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.ReopenDelay):
		}
	}
}

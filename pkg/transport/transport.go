// Package transport holds what the endpoint implementations share.
// Each endpoint runs one session per connection; its codec is fed only
// from that connection's goroutine.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/canbridge/pkg/bridge"
	"github.com/robotalks/canbridge/pkg/framework"
	"github.com/robotalks/canbridge/pkg/packet"
)

// DefaultWriteTimeout bounds a write to a connection that supports
// deadlines.
const DefaultWriteTimeout = time.Second

// SessionOpener creates a session per endpoint connection.
// *bridge.Bridge implements it.
type SessionOpener interface {
	NewSession(endpoint, name string, transmit packet.TransmitFunc) *bridge.Session
}

// StreamOptions tune how a byte stream is fed into a session.
type StreamOptions struct {
	// ReadTimeout marks readers that return periodically without data.
	ReadTimeout bool
	// IdleReset drops a partial frame after this much silence.
	IdleReset time.Duration
	// WriteTimeout drops a reply the peer does not take in time.
	// Zero means DefaultWriteTimeout. Only used when conn has
	// SetWriteDeadline.
	WriteTimeout time.Duration
}

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// ServeStream runs a session of endpoint over conn until ctx is done or
// conn fails. conn is closed on return.
//
// Replies to forwarded commands are written from the bus receive
// goroutine. A write that misses the write timeout drops the frame.
func ServeStream(ctx context.Context, opener SessionOpener, endpoint, name string, conn io.ReadWriteCloser, opts StreamOptions) error {
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	deadliner, _ := conn.(writeDeadliner)
	session := opener.NewSession(endpoint, name, func(frame []byte) {
		if deadliner != nil {
			deadliner.SetWriteDeadline(time.Now().Add(timeout))
		}
		if _, err := conn.Write(frame); err != nil {
			glog.V(1).Infof("%s: drop %d bytes: %v", name, len(frame), err)
		}
	})
	defer session.Close()

	stream := packet.NewStream(conn, session.Codec)
	stream.ReadTimeout = opts.ReadTimeout
	stream.IdleReset = opts.IdleReset
	err := framework.RunWithContextCloser(ctx, conn, func() error {
		return stream.Run(ctx)
	})
	if err == io.EOF {
		return nil
	}
	return err
}

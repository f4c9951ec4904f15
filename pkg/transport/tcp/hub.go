package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/canbridge/pkg/transport"
)

// DefaultRedialDelay is used when Hub.RedialDelay is zero.
const DefaultRedialDelay = 5 * time.Second

// Hub keeps a connection to a TCP hub which relays remote clients.
type Hub struct {
	Addr        string
	ID          string
	Password    string
	RedialDelay time.Duration
	Opener      transport.SessionOpener

	dialer net.Dialer
}

// Name implements framework.Named.
func (h *Hub) Name() string {
	return "hub"
}

// Login is the line sent right after connecting.
func Login(id, password string) []byte {
	return []byte(fmt.Sprintf("VESC:%s:%s\n\x00", id, password))
}

// Run implements framework.Runnable. The connection is redialed until ctx
// is done.
func (h *Hub) Run(ctx context.Context) error {
	delay := h.RedialDelay
	if delay <= 0 {
		delay = DefaultRedialDelay
	}
	for {
		if err := h.serve(ctx); err != nil && ctx.Err() == nil {
			glog.Warningf("hub: %s: %v", h.Addr, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (h *Hub) serve(ctx context.Context) error {
	conn, err := h.dialer.DialContext(ctx, "tcp", h.Addr)
	if err != nil {
		return err
	}
	if _, err := conn.Write(Login(h.ID, h.Password)); err != nil {
		conn.Close()
		return fmt.Errorf("login: %w", err)
	}
	glog.Infof("hub: connected to %s as %s", h.Addr, h.ID)
	return transport.ServeStream(ctx, h.Opener, "hub", "hub:"+h.Addr, conn, transport.StreamOptions{})
}

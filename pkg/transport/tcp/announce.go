package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/golang/glog"
)

// Announcement defaults.
const (
	DefaultAnnounceAddr     = "255.255.255.255:65109"
	DefaultAnnounceInterval = time.Second
)

// Announcer periodically broadcasts where the local TCP endpoint can be
// reached, so desktop tools can find the bridge.
type Announcer struct {
	// DeviceName is shown to clients.
	DeviceName string
	// Port is the advertised TCP port.
	Port       int
	// IP is the advertised address. When empty, the local address used
	// to reach Addr is advertised.
	IP         string
	// Addr is the datagram destination, DefaultAnnounceAddr when empty.
	Addr       string
	Interval   time.Duration
}

// Name implements framework.Named.
func (a *Announcer) Name() string {
	return "announce"
}

// Announcement is the datagram payload: "<name>::<ip>::<port>" with a
// trailing NUL.
func Announcement(name, ip string, port int) []byte {
	return append([]byte(fmt.Sprintf("%s::%s::%d", name, ip, port)), 0)
}

// Run implements framework.Runnable.
func (a *Announcer) Run(ctx context.Context) error {
	addr, interval := a.Addr, a.Interval
	if addr == "" {
		addr = DefaultAnnounceAddr
	}
	if interval <= 0 {
		interval = DefaultAnnounceInterval
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp4", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	ip := a.IP
	if ip == "" {
		if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			ip = local.IP.String()
		}
	}
	msg := Announcement(a.DeviceName, ip, a.Port)
	glog.Infof("announce: %q to %s every %s", msg[:len(msg)-1], addr, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := conn.Write(msg); err != nil {
			glog.V(1).Infof("announce: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

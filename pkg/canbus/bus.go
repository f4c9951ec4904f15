package canbus

import (
	"context"

	"github.com/brutella/can"
	"github.com/golang/glog"

	"github.com/robotalks/canbridge/pkg/framework"
)

// Bus is a SocketCAN interface.
type Bus struct {
	*can.Bus
	Interface string
}

// Open binds to a SocketCAN network interface, e.g. can0.
func Open(iface string) (*Bus, error) {
	b, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, err
	}
	return &Bus{Bus: b, Interface: iface}, nil
}

// Name implements framework.Named.
func (b *Bus) Name() string {
	return "can:" + b.Interface
}

// Run receives frames and dispatches them to subscribers until ctx is
// done.
func (b *Bus) Run(ctx context.Context) error {
	glog.Infof("canbus: listening on %s", b.Interface)
	return framework.RunWithContextCancel(ctx, func() {
		if err := b.Disconnect(); err != nil {
			glog.Warningf("canbus: disconnect %s: %v", b.Interface, err)
		}
	}, b.ConnectAndPublish)
}

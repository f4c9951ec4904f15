// Package transporttest provides a bridge for endpoint tests.
package transporttest

import (
	"context"

	"github.com/robotalks/canbridge/pkg/bridge"
	"github.com/robotalks/canbridge/pkg/canbus"
	"github.com/robotalks/canbridge/pkg/command"
)

// FirmwareName is reported by the bridge returned by NewBridge.
const FirmwareName = "canbridge-test"

// FirmwareReply is the FW_VERSION reply of the bridge returned by
// NewBridge.
func FirmwareReply() []byte {
	return append(append([]byte{byte(command.FWVersion), 1, 2}, FirmwareName...), 0)
}

// NewBridge creates a bridge on an otherwise empty loopback bus, answering
// FW_VERSION locally.
func NewBridge(ctx context.Context) *bridge.Bridge {
	bus := canbus.NewLoopback()
	port := bus.Open()
	go func() {
		<-ctx.Done()
		bus.Close()
	}()
	b := bridge.New(ctx, canbus.NewAdapter(2, port))
	b.Dispatcher.Register(command.FWVersion, &command.FirmwareVersion{Major: 1, Minor: 2, Name: FirmwareName})
	return b
}

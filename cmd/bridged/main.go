package main

//go-build: CGO_ENABLED=0

import (
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/canbridge/pkg/bridge"
	"github.com/robotalks/canbridge/pkg/canbus"
	"github.com/robotalks/canbridge/pkg/command"
	"github.com/robotalks/canbridge/pkg/config"
	"github.com/robotalks/canbridge/pkg/framework"
	"github.com/robotalks/canbridge/pkg/metrics"
	"github.com/robotalks/canbridge/pkg/transport/mqtt"
	"github.com/robotalks/canbridge/pkg/transport/tcp"
	"github.com/robotalks/canbridge/pkg/transport/uart"
	"github.com/robotalks/canbridge/pkg/transport/websocket"
)

const (
	fwMajor = 1
	fwMinor = 0
	fwName  = "canbridge"
)

func init() {
	config.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf, err := config.NewConfig()
	if err != nil {
		glog.Exit(err)
	}

	runner := framework.NewRunner().HandleSignals()

	adapter := canbus.NewAdapter(conf.ControllerID, nil)
	adapter.HWType = conf.HWType
	adapter.MaxPayload = conf.MaxPayload
	adapter.Retry = canbus.RetryPolicy{Attempts: conf.CAN.RetryAttempts, Yield: conf.CAN.RetryYield}

	var bus framework.Runnable
	if conf.CAN.Interface == "loopback" {
		// no other nodes, for trying out endpoints.
		port := canbus.NewLoopback().Open()
		port.Subscribe(adapter)
		adapter.Writer, bus = port, framework.NamedRun("can:loopback", port)
	} else {
		b, err := canbus.Open(conf.CAN.Interface)
		if err != nil {
			glog.Exitf("open %s: %v", conf.CAN.Interface, err)
		}
		b.Subscribe(adapter)
		adapter.Writer, bus = b, b
	}

	b := bridge.New(runner.Context, adapter)
	b.Dispatcher.Register(command.FWVersion, &command.FirmwareVersion{Major: fwMajor, Minor: fwMinor, Name: fwName})
	metrics.Register()

	runner.Go(bus)
	for _, u := range conf.UART {
		runner.Go(uart.New(u.Device, u.Baud, b))
	}
	if conf.TCP.Listen != "" {
		runner.Go(tcp.NewServer(conf.TCP.Listen, b))
	}
	if conf.TCP.Announce {
		port, _ := conf.TCP.Port()
		runner.Go(&tcp.Announcer{DeviceName: conf.TCP.Name, Port: port})
	}
	if conf.Hub.Addr != "" {
		runner.Go(&tcp.Hub{
			Addr:        conf.Hub.Addr,
			ID:          conf.Hub.ID,
			Password:    conf.Hub.Password,
			RedialDelay: conf.Hub.RedialDelay,
			Opener:      b,
		})
	}
	if conf.WebSocket.Listen != "" {
		runner.Go(&websocket.Server{Addr: conf.WebSocket.Listen, Path: conf.WebSocket.Path, Opener: b})
	}
	if conf.MQTT.BrokerURL != "" {
		q, err := mqtt.NewQueueFromURL(conf.MQTT.BrokerURL)
		if err != nil {
			glog.Exitf("MQTT: %v", err)
		}
		runner.Go(&mqtt.Endpoint{Queue: q, ID: conf.MQTT.ID, Opener: b})
	}
	if conf.Metrics.Listen != "" {
		runner.Go(&metrics.Server{Addr: conf.Metrics.Listen})
	}

	glog.Infof("bridge %d on %s started", conf.ControllerID, conf.CAN.Interface)
	if err := runner.Wait(); err != nil {
		glog.Exit(err)
	}
}

package main

import (
	"flag"
	"log"
	"os"

	"github.com/brutella/can"

	"github.com/robotalks/canbridge/pkg/canbus"
	"github.com/robotalks/canbridge/pkg/framework"
)

var (
	iface    = "can0"
	showData = true
)

func init() {
	if val := os.Getenv("CANBRIDGE_CAN"); val != "" {
		iface = val
	}
	flag.StringVar(&iface, "can", iface, "CAN interface.")
	flag.BoolVar(&showData, "data", showData, "Print frame data.")
}

type printer struct {
	// adapter reassembles buffers so complete payloads are printed too.
	adapter *canbus.Adapter
}

func (p *printer) Handle(frame can.Frame) {
	addr, typ := canbus.SplitID(frame.ID)
	if showData {
		log.Printf("%3d %-20s [%d] % x", addr, typ, frame.Length, canbus.FrameData(frame))
	} else {
		log.Printf("%3d %s", addr, typ)
	}
	p.adapter.Handle(frame)
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	bus, err := canbus.Open(iface)
	if err != nil {
		log.Fatalln(err)
	}
	// Receive only: without a writer PINGs are not answered.
	adapter := canbus.NewAdapter(canbus.Broadcast, nil)
	adapter.MaxPayload = canbus.MaxBufferLength
	adapter.Handler = canbus.HandleMessageFunc(func(msg canbus.Message) {
		log.Printf("%3d BUFFER from %d mode %d: % x", msg.Address, msg.Sender, msg.Mode, msg.Payload)
	})
	adapter.OnError = func(err error) {
		log.Printf("ERROR %v", err)
	}
	bus.Subscribe(&printer{adapter: adapter})

	if err := framework.NewRunner().HandleSignals().Go(bus).Wait(); err != nil {
		log.Fatalln(err)
	}
}

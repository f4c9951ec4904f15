package sh

import (
	"fmt"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/canbridge/pkg/command"
)

type rawReply struct {
	Payload string `json:"payload"`
}

var (
	// ConnectCmd connects a bridge.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "HOST:PORT | DEVICE",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("address expected"))
				return
			}
			if err := ShellFrom(c).Connect(c.Args[0]); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current bridge.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// FirmwareCmd queries firmware version, of the bridge or a
	// controller behind it.
	FirmwareCmd = ishell.Cmd{
		Name: "fw",
		Help: "[CAN-ID]",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			payload := []byte{byte(command.FWVersion)}
			if len(c.Args) > 0 {
				id, err := ParseByte(c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				payload = ForwardPayload(id, payload)
			}
			reply, err := s.Do(payload)
			if err != nil {
				c.Err(err)
				return
			}
			info, err := ParseFirmwareInfo(reply)
			if err != nil {
				c.Err(err)
				return
			}
			s.Print(c, info, info.String())
		}),
	}

	// ForwardCmd sends a command to a controller on the bus.
	ForwardCmd = ishell.Cmd{
		Name:    "forward",
		Aliases: []string{"f"},
		Help:    "CAN-ID COMMAND [HEX...]",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("CAN-ID and COMMAND expected"))
				return
			}
			id, err := ParseByte(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			cmd, err := ParseByte(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			data, err := ParseHex(c.Args[2:])
			if err != nil {
				c.Err(err)
				return
			}
			s := ShellFrom(c)
			payload := ForwardPayload(id, append([]byte{cmd}, data...))
			if id == command.Broadcast {
				if err := s.Conn.Client.Send(payload); err != nil {
					c.Err(err)
				}
				return
			}
			reply, err := s.Do(payload)
			if err != nil {
				c.Err(err)
				return
			}
			s.Print(c, rawReply{Payload: FormatHex(reply)}, FormatHex(reply))
		}),
	}

	// PingCmd lists controllers answering on the bus.
	PingCmd = ishell.Cmd{
		Name: "ping",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			reply, err := s.Do([]byte{byte(command.PingCAN)})
			if err != nil {
				c.Err(err)
				return
			}
			ids, err := ParsePingReply(reply)
			if err != nil {
				c.Err(err)
				return
			}
			if len(ids) == 0 {
				s.Print(c, []int{}, "No controllers found")
				return
			}
			nums := make([]int, len(ids))
			for n, id := range ids {
				nums[n] = int(id)
			}
			s.Print(c, nums, fmt.Sprint(nums))
		}),
	}

	// RawCmd sends a raw payload.
	RawCmd = ishell.Cmd{
		Name: "raw",
		Help: "HEX...",
		Func: MustBeConnected(func(c *ishell.Context) {
			payload, err := ParseHex(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			if len(payload) == 0 {
				c.Err(fmt.Errorf("payload expected"))
				return
			}
			s := ShellFrom(c)
			reply, err := s.Do(payload)
			if err != nil {
				c.Err(err)
				return
			}
			s.Print(c, rawReply{Payload: FormatHex(reply)}, FormatHex(reply))
		}),
	}
)

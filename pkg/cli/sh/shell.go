// Package sh is the interactive shell talking to a bridge over TCP or a
// serial port.
package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/canbridge/pkg/packet"
	"github.com/robotalks/canbridge/pkg/transport/uart"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	Timeout     time.Duration
	Baud        int

	Shell *ishell.Shell
	Conn  *Conn
}

// Conn is an open connection to a bridge.
type Conn struct {
	Addr   string
	Ctx    context.Context
	Cancel func()
	Client *packet.Client

	rw io.ReadWriteCloser
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly    bool
	outputJSON  bool
	connectAddr string
	baud        = uart.DefaultBaud
	timeout     = packet.DefaultReplyTimeout

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&FirmwareCmd,
		&ForwardCmd,
		&PingCmd,
		&RawCmd,
	}
)

func init() {
	if val := os.Getenv("CANBRIDGE_ADDR"); val != "" {
		connectAddr = val
	}
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.StringVar(&connectAddr, "addr", connectAddr, "Bridge address, host:port or serial device.")
	flag.IntVar(&baud, "baud", baud, "Serial baud rate.")
	flag.DurationVar(&timeout, "timeout", timeout, "Reply timeout.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New() *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Timeout:     timeout,
		Baud:        baud,

		Shell: ishell.New(),
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

func isSerial(addr string) bool {
	return strings.HasPrefix(addr, "/dev/") || strings.HasPrefix(strings.ToUpper(addr), "COM")
}

// Connect opens a connection to the bridge at addr.
func (s *Shell) Connect(addr string) error {
	var (
		rw  io.ReadWriteCloser
		err error
	)
	serial := isSerial(addr)
	if serial {
		rw, err = uart.OpenPort(addr, s.Baud, uart.DefaultReadTimeout)
	} else {
		rw, err = net.DialTimeout("tcp", addr, 5*time.Second)
	}
	if err != nil {
		return err
	}
	conn := &Conn{Addr: addr, rw: rw, Client: packet.NewClient(rw)}
	conn.Client.Timeout = s.Timeout
	conn.Client.Stream().ReadTimeout = serial
	conn.Ctx, conn.Cancel = context.WithCancel(context.Background())
	s.Disconnect()
	s.Conn = conn
	go func() {
		err := conn.Client.Run(conn.Ctx)
		if err != nil && err != context.Canceled {
			log.Printf("connection %s closed: %v", addr, err)
		}
	}()
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", addr))
	return nil
}

// Disconnect closes the current connection.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Cancel()
		s.Conn.rw.Close()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Do sends payload and waits for the reply.
func (s *Shell) Do(payload []byte) ([]byte, error) {
	if s.Conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	return s.Conn.Client.Do(s.Conn.Ctx, payload)
}

// Print prints v as JSON in JSON mode, or text otherwise.
func (s *Shell) Print(c *ishell.Context, v interface{}, text string) {
	if s.OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(text)
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if connectAddr != "" {
		if err := s.Connect(connectAddr); err != nil {
			log.Fatalf("connect %q failed: %v", connectAddr, err)
		}
	}
	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New().Run(flag.Args()...)
}

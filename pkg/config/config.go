// Package config holds bridged settings. Values come from built-in
// defaults, CANBRIDGE_* environment variables, command line flags and
// finally an optional TOML file.
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// EnvPrefix prefixes every environment variable read by this package.
const EnvPrefix = "CANBRIDGE_"

// Config is the bridged configuration.
type Config struct {
	// ControllerID is this bridge's address on the bus.
	ControllerID uint8 `toml:"controller_id"`
	// HWType is reported in PONG replies.
	HWType uint8 `toml:"hw_type"`
	// MaxPayload caps decoded payloads on every endpoint and the CAN
	// reassembly buffer.
	MaxPayload int `toml:"max_payload"`

	CAN       CANConfig       `toml:"can"`
	UART      []UARTConfig    `toml:"uart"`
	TCP       TCPConfig       `toml:"tcp"`
	Hub       HubConfig       `toml:"hub"`
	WebSocket WebSocketConfig `toml:"websocket"`
	MQTT      MQTTConfig      `toml:"mqtt"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// CANConfig selects the bus interface.
type CANConfig struct {
	// Interface is a SocketCAN interface name or "loopback".
	Interface     string        `toml:"interface"`
	RetryAttempts int           `toml:"retry_attempts"`
	RetryYield    time.Duration `toml:"retry_yield"`
}

// UARTConfig describes one serial endpoint.
type UARTConfig struct {
	Device string `toml:"device"`
	Baud   int    `toml:"baud"`
}

// TCPConfig is the local TCP endpoint.
type TCPConfig struct {
	Listen   string `toml:"listen"`
	// Announce broadcasts the endpoint as "<name>::<ip>::<port>" on
	// UDP port 65109 once a second.
	Announce bool   `toml:"announce"`
	Name     string `toml:"name"`
}

// Port returns the TCP port from Listen.
func (c TCPConfig) Port() (int, error) {
	_, port, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

// HubConfig is the outbound connection to a TCP hub.
type HubConfig struct {
	Addr        string        `toml:"addr"`
	ID          string        `toml:"id"`
	Password    string        `toml:"password"`
	RedialDelay time.Duration `toml:"redial_delay"`
}

// WebSocketConfig is the websocket endpoint.
type WebSocketConfig struct {
	Listen string `toml:"listen"`
	Path   string `toml:"path"`
}

// MQTTConfig is the MQTT endpoint.
// BrokerURL looks like mqtt://host:port/topic-prefix
type MQTTConfig struct {
	BrokerURL string `toml:"broker_url"`
	ID        string `toml:"id"`
}

// MetricsConfig is the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// Defaults.
const (
	DefaultTCPListen  = ":65102"
	DefaultBaud       = 115200
	DefaultMaxPayload = 512
)

var (
	defaultConfig = Config{
		ControllerID: 2,
		HWType:       3,
		MaxPayload:   DefaultMaxPayload,
		CAN: CANConfig{
			Interface:     "can0",
			RetryAttempts: 5,
			RetryYield:    time.Millisecond,
		},
		TCP: TCPConfig{Listen: DefaultTCPListen, Name: "canbridge"},
		Hub: HubConfig{RedialDelay: 5 * time.Second},
		WebSocket: WebSocketConfig{
			Path: "/ws",
		},
	}

	defaultUART UARTConfig

	configFile string
)

func init() {
	if val := os.Getenv(EnvPrefix + "CONTROLLER_ID"); val != "" {
		if id, err := strconv.ParseUint(val, 10, 8); err == nil {
			defaultConfig.ControllerID = uint8(id)
		} else {
			glog.Warningf("config: ignore %sCONTROLLER_ID=%q: %v", EnvPrefix, val, err)
		}
	}
	if val := os.Getenv(EnvPrefix + "CAN"); val != "" {
		defaultConfig.CAN.Interface = val
	}
	if val := os.Getenv(EnvPrefix + "UART"); val != "" {
		defaultUART.Device = val
	}
	if val := os.Getenv(EnvPrefix + "HUB"); val != "" {
		defaultConfig.Hub.Addr = val
	}
	if val := os.Getenv(EnvPrefix + "HUB_PASSWORD"); val != "" {
		defaultConfig.Hub.Password = val
	}
	if val := os.Getenv(EnvPrefix + "MQTT_URL"); val != "" {
		defaultConfig.MQTT.BrokerURL = val
	}
	if val := os.Getenv(EnvPrefix + "CONFIG"); val != "" {
		configFile = val
	}
	defaultUART.Baud = DefaultBaud
	defaultConfig.Hub.ID = MachineID()
	defaultConfig.MQTT.ID = defaultConfig.Hub.ID
}

// MachineID derives a stable identifier for this host. It is empty when
// the host has no machine id.
func MachineID() string {
	id, err := machineid.ProtectedID("canbridge")
	if err != nil {
		glog.V(1).Infof("config: no machine id: %v", err)
		return ""
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

type uint8Value struct {
	p *uint8
}

func (v uint8Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.Itoa(int(*v.p))
}

func (v uint8Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return err
	}
	*v.p = uint8(n)
	return nil
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&configFile, "config", configFile, "TOML config file, overrides flags")
	flag.Var(uint8Value{&defaultConfig.ControllerID}, "id", "Controller ID on the CAN bus")
	flag.IntVar(&defaultConfig.MaxPayload, "max-payload", defaultConfig.MaxPayload, "Max payload size")
	flag.StringVar(&defaultConfig.CAN.Interface, "can", defaultConfig.CAN.Interface, "CAN interface, or loopback")
	flag.StringVar(&defaultUART.Device, "uart", defaultUART.Device, "Serial device")
	flag.IntVar(&defaultUART.Baud, "baud", defaultUART.Baud, "Serial baud rate")
	flag.StringVar(&defaultConfig.TCP.Listen, "listen", defaultConfig.TCP.Listen, "TCP listen address, empty to disable")
	flag.BoolVar(&defaultConfig.TCP.Announce, "announce", defaultConfig.TCP.Announce, "Broadcast the TCP endpoint for discovery")
	flag.StringVar(&defaultConfig.Hub.Addr, "hub", defaultConfig.Hub.Addr, "TCP hub address host:port")
	flag.StringVar(&defaultConfig.Hub.ID, "hub-id", defaultConfig.Hub.ID, "Hub login ID")
	flag.StringVar(&defaultConfig.WebSocket.Listen, "ws", defaultConfig.WebSocket.Listen, "Websocket listen address")
	flag.StringVar(&defaultConfig.MQTT.BrokerURL, "mqtt", defaultConfig.MQTT.BrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.Metrics.Listen, "metrics", defaultConfig.Metrics.Listen, "Metrics listen address")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config from defaults, flags and the config file
// named by -config.
func NewConfig() (*Config, error) {
	conf := defaultConfig
	conf.UART = append([]UARTConfig(nil), defaultConfig.UART...)
	if defaultUART.Device != "" {
		conf.UART = append(conf.UART, defaultUART)
	}
	if configFile != "" {
		if err := conf.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// LoadFile decodes a TOML file on top of c.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		glog.Warningf("config: unknown keys in %s: %v", path, keys)
	}
	return nil
}

// Validate checks the values are usable.
func (c *Config) Validate() error {
	if c.ControllerID == 255 {
		return fmt.Errorf("controller id 255 is the broadcast address")
	}
	if c.MaxPayload <= 0 || c.MaxPayload > 0xffff {
		return fmt.Errorf("max payload %d out of range 1..65535", c.MaxPayload)
	}
	if c.CAN.Interface == "" {
		return fmt.Errorf("CAN interface must be specified")
	}
	if c.CAN.RetryAttempts <= 0 {
		return fmt.Errorf("CAN retry attempts must be positive")
	}
	for _, u := range c.UART {
		if u.Device == "" {
			return fmt.Errorf("UART device must be specified")
		}
		if u.Baud <= 0 {
			return fmt.Errorf("invalid baud rate %d for %s", u.Baud, u.Device)
		}
	}
	if c.TCP.Announce {
		if c.TCP.Listen == "" {
			return fmt.Errorf("TCP announce needs a listen address")
		}
		if _, err := c.TCP.Port(); err != nil {
			return fmt.Errorf("TCP listen address %q: %w", c.TCP.Listen, err)
		}
	}
	if c.Hub.Addr != "" && c.Hub.ID == "" {
		return fmt.Errorf("hub id must be specified")
	}
	if c.MQTT.BrokerURL != "" && c.MQTT.ID == "" {
		return fmt.Errorf("MQTT id must be specified")
	}
	return nil
}

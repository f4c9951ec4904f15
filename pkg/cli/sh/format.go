package sh

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/robotalks/canbridge/pkg/command"
)

// ParseHex parses bytes given as hex, one or more per argument:
// "01 02", "0102" and "0x01 0x02" are equivalent.
func ParseHex(args []string) ([]byte, error) {
	var out []byte
	for _, arg := range args {
		arg = strings.TrimPrefix(strings.ToLower(arg), "0x")
		if len(arg)%2 == 1 {
			arg = "0" + arg
		}
		b, err := hex.DecodeString(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q", arg)
		}
		out = append(out, b...)
	}
	return out, nil
}

// ParseByte parses a decimal or 0x-prefixed number in 0..255.
func ParseByte(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q", s)
	}
	return uint8(n), nil
}

// ForwardPayload builds a FORWARD_CAN payload.
func ForwardPayload(target uint8, inner []byte) []byte {
	return append([]byte{byte(command.ForwardCAN), target}, inner...)
}

// FormatHex prints bytes as space separated hex.
func FormatHex(data []byte) string {
	var w bytes.Buffer
	for n, b := range data {
		if n > 0 {
			w.WriteByte(' ')
		}
		fmt.Fprintf(&w, "%02x", b)
	}
	return w.String()
}

// FirmwareInfo is a decoded FW_VERSION reply.
type FirmwareInfo struct {
	Major uint8  `json:"major"`
	Minor uint8  `json:"minor"`
	Name  string `json:"name"`
}

func (i FirmwareInfo) String() string {
	if i.Name == "" {
		return fmt.Sprintf("%d.%02d", i.Major, i.Minor)
	}
	return fmt.Sprintf("%d.%02d %s", i.Major, i.Minor, i.Name)
}

// ParseFirmwareInfo decodes a FW_VERSION reply.
func ParseFirmwareInfo(reply []byte) (*FirmwareInfo, error) {
	if len(reply) < 3 || reply[0] != byte(command.FWVersion) {
		return nil, fmt.Errorf("unexpected reply: %s", FormatHex(reply))
	}
	info := &FirmwareInfo{Major: reply[1], Minor: reply[2]}
	name := reply[3:]
	if n := bytes.IndexByte(name, 0); n >= 0 {
		name = name[:n]
	}
	info.Name = string(name)
	return info, nil
}

// ParsePingReply decodes the ids in a PING_CAN reply.
func ParsePingReply(reply []byte) ([]uint8, error) {
	if len(reply) < 1 || reply[0] != byte(command.PingCAN) {
		return nil, fmt.Errorf("unexpected reply: %s", FormatHex(reply))
	}
	return append([]uint8{}, reply[1:]...), nil
}

package command

import "fmt"

// ID is the first byte of every payload.
type ID uint8

// Command ids.
const (
	FWVersion   ID = 0
	GetValues   ID = 4
	SetDuty     ID = 5
	SetCurrent  ID = 6
	TerminalCmd ID = 20
	ForwardCAN  ID = 34
	PingCAN     ID = 62
)

var idNames = map[ID]string{
	FWVersion:   "FW_VERSION",
	GetValues:   "GET_VALUES",
	SetDuty:     "SET_DUTY",
	SetCurrent:  "SET_CURRENT",
	TerminalCmd: "TERMINAL_CMD",
	ForwardCAN:  "FORWARD_CAN",
	PingCAN:     "PING_CAN",
}

func (id ID) String() string {
	if name, ok := idNames[id]; ok {
		return name
	}
	return fmt.Sprintf("CMD_%d", uint8(id))
}

package canbus

import "fmt"

// Broadcast is the controller address every device listens to.
const Broadcast uint8 = 255

// PacketType selects the meaning of a bus frame.
type PacketType uint8

// Packet types.
const (
	PacketSetDuty            PacketType = 0
	PacketSetCurrent         PacketType = 1
	PacketSetCurrentBrake    PacketType = 2
	PacketSetRPM             PacketType = 3
	PacketSetPos             PacketType = 4
	PacketFillRxBuffer       PacketType = 5
	PacketFillRxBufferLong   PacketType = 6
	PacketProcessRxBuffer    PacketType = 7
	PacketProcessShortBuffer PacketType = 8
	PacketStatus             PacketType = 9
	PacketStatus2            PacketType = 14
	PacketStatus3            PacketType = 15
	PacketStatus4            PacketType = 16
	PacketPing               PacketType = 17
	PacketPong               PacketType = 18
	PacketStatus5            PacketType = 27
	PacketStatus6            PacketType = 58
)

var packetTypeNames = map[PacketType]string{
	PacketSetDuty:            "SET_DUTY",
	PacketSetCurrent:         "SET_CURRENT",
	PacketSetCurrentBrake:    "SET_CURRENT_BRAKE",
	PacketSetRPM:             "SET_RPM",
	PacketSetPos:             "SET_POS",
	PacketFillRxBuffer:       "FILL_RX_BUFFER",
	PacketFillRxBufferLong:   "FILL_RX_BUFFER_LONG",
	PacketProcessRxBuffer:    "PROCESS_RX_BUFFER",
	PacketProcessShortBuffer: "PROCESS_SHORT_BUFFER",
	PacketStatus:             "STATUS",
	PacketStatus2:            "STATUS_2",
	PacketStatus3:            "STATUS_3",
	PacketStatus4:            "STATUS_4",
	PacketPing:               "PING",
	PacketPong:               "PONG",
	PacketStatus5:            "STATUS_5",
	PacketStatus6:            "STATUS_6",
}

// String implements fmt.Stringer.
func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PACKET_%d", uint8(t))
}

// IsStatus tells whether t is one of the periodic status broadcasts.
func (t PacketType) IsStatus() bool {
	switch t {
	case PacketStatus, PacketStatus2, PacketStatus3, PacketStatus4, PacketStatus5, PacketStatus6:
		return true
	}
	return false
}

const (
	// IDMask keeps the 29 identifier bits.
	IDMask uint32 = 0x1fffffff

	effFlag uint32 = 1 << 31
	rtrFlag uint32 = 1 << 30
	errFlag uint32 = 1 << 29
)

// FrameID composes the identifier for a frame to addr.
func FrameID(addr uint8, t PacketType) uint32 {
	return uint32(addr) | uint32(t)<<8
}

// SplitID extracts address and packet type from an identifier.
func SplitID(id uint32) (uint8, PacketType) {
	id &= IDMask
	return uint8(id), PacketType(id >> 8)
}

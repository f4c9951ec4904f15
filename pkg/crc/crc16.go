// Package crc provides the checksum used by the framed packet protocol.
package crc

import "github.com/sigurn/crc16"

// CRC-CCITT with polynomial 0x1021, initial value 0, no reflection
// and no final xor. This is the XMODEM parameter set.
var table = crc16.MakeTable(crc16.CRC16_XMODEM)

// CRC16 calculates the checksum over data.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, table)
}

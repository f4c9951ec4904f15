// Package packet implements the framed packet protocol spoken on every
// byte-stream transport of the bridge (UART, TCP, BLE, WebSocket, MQTT).
package packet

// A frame on the wire is
//
//	[start][length][payload][crc16][0x03]
//
// where start is 0x02, 0x03 or 0x04 selecting a 1, 2 or 3 byte
// big-endian length field, and crc16 is the CRC-CCITT of the payload
// in big-endian order.
//
// The Codec is a byte-at-a-time state machine. Frames failing any check
// are dropped silently; a corrupted stream degrades to "no payload"
// and the codec resynchronizes on the next start marker.

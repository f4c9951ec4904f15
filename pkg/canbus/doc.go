// Package canbus carries command payloads over a CAN bus whose frames
// hold at most eight bytes.
//
// A frame identifier is 29 bits: the low byte is the controller address
// (255 is broadcast) and the next byte is the packet type.
//
// Payloads of up to six bytes travel in one PROCESS_SHORT_BUFFER frame:
//
//	[sender][mode][payload...]
//
// Longer payloads are split into FILL_RX_BUFFER frames carrying the
// sender, a one byte offset and up to six bytes, switching to
// FILL_RX_BUFFER_LONG (sender, two byte big-endian offset, up to five
// bytes) once the offset reaches 255, followed by one PROCESS_RX_BUFFER
// commit frame:
//
//	[sender][mode][length hi][length lo][crc hi][crc lo]
//
// A receiver keeps one buffer per address and sender, and appends fills
// only at the offset equal to what it has accumulated so far; any gap or
// repeat discards the buffer.
package canbus

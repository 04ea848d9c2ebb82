package iec

// Control characters used by IEC 61107 / IEC 62056-21 framing.
const (
	SOH byte = 0x01
	STX byte = 0x02
	ETX byte = 0x03
	EOT byte = 0x04
	ENQ byte = 0x05
	ACK byte = 0x06
	LF  byte = 0x0A
	CR  byte = 0x0D
	NAK byte = 0x15
)

// MaxFields is the number of values a single record can carry.
const MaxFields = 12

// MaxFrameSize bounds the receive buffer for a single frame.
const MaxFrameSize = 256

var crlf = []byte{CR, LF}

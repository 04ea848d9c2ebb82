package iec

import (
	"bytes"
	"fmt"
)

// Codec encodes and decodes IEC 61107 frames. It holds no I/O state and
// is safe for concurrent use.
type Codec struct {
	checksum Checksum
}

// Default uses the Energomera seven bit sum.
var Default = NewCodec(Sum7)

func NewCodec(cs Checksum) *Codec {
	if cs == nil {
		cs = Sum7
	}
	return &Codec{checksum: cs}
}

func (c *Codec) Checksum() Checksum { return c.checksum }

// EncodeHandshake builds the sign-on request "/?<address>!\r\n".
func (c *Codec) EncodeHandshake(address string) []byte {
	out := make([]byte, 0, len(address)+5)
	out = append(out, '/', '?')
	out = append(out, address...)
	out = append(out, '!')
	return append(out, crlf...)
}

// EncodeBaudSwitchAck acknowledges the identification and selects
// programming mode at the baud rate announced by code.
func (c *Codec) EncodeBaudSwitchAck(code byte) []byte {
	return []byte{ACK, '0', code, '1', CR, LF}
}

// EncodeRequest wraps a read command: SOH R1 STX <request> ETX BCC.
func (c *Codec) EncodeRequest(request string) []byte {
	return c.block(SOH, "R1", request)
}

// EncodeSingleRead addresses the meter and issues a read outside of a
// programming session.
func (c *Codec) EncodeSingleRead(address, request string) []byte {
	out := []byte("/?" + address + "!")
	return append(out, c.EncodeRequest(request)...)
}

// EncodeSessionClose builds the break command SOH B0 ETX BCC.
func (c *Codec) EncodeSessionClose() []byte {
	frame := []byte{SOH, 'B', '0', ETX}
	return append(frame, c.checksum.Sum(frame[1:])...)
}

func (c *Codec) block(start byte, command, data string) []byte {
	frame := make([]byte, 0, len(command)+len(data)+3+c.checksum.Size())
	frame = append(frame, start)
	frame = append(frame, command...)
	frame = append(frame, STX)
	frame = append(frame, data...)
	frame = append(frame, ETX)
	return append(frame, c.checksum.Sum(frame[1:])...)
}

// Identity is the decoded identification line "/XXXZ<ident>".
type Identity struct {
	Manufacturer string
	BaudCode     byte
	MaxBaud      int
	Model        string
}

func (id Identity) String() string {
	return fmt.Sprintf("/%s%c%s", id.Manufacturer, id.BaudCode, id.Model)
}

// DecodeIdentification parses the meter's reply to the sign-on request.
// Leading line noise is skipped by anchoring on the last '/'.
func (c *Codec) DecodeIdentification(frame []byte) (Identity, error) {
	if !bytes.HasSuffix(frame, crlf) {
		return Identity{}, ErrMissingTerminator
	}
	line := frame[:len(frame)-2]
	start := bytes.LastIndexByte(line, '/')
	if start < 0 {
		return Identity{}, fmt.Errorf("%w: no identification marker", ErrFrameFormat)
	}
	line = line[start:]
	if len(line) < 5 {
		return Identity{}, ErrTruncated
	}
	id := Identity{
		Manufacturer: string(line[1:4]),
		BaudCode:     line[4],
		Model:        string(line[5:]),
	}
	rate, err := BaudFromCode(id.BaudCode)
	if err != nil {
		return id, err
	}
	id.MaxBaud = rate
	return id, nil
}

// DecodeResponse validates and parses a block frame:
//
//	STX <data> ETX BCC
//	SOH <command> [STX <data>] ETX BCC
func (c *Codec) DecodeResponse(frame []byte) (Record, error) {
	size := c.checksum.Size()
	if len(frame) < 2+size {
		return Record{}, ErrTruncated
	}
	start := frame[0]
	if start != STX && start != SOH {
		return Record{}, fmt.Errorf("%w: unexpected start byte 0x%02X", ErrFrameFormat, start)
	}
	etx := len(frame) - 1 - size
	if frame[etx] != ETX {
		return Record{}, ErrMissingTerminator
	}
	if !bytes.Equal(c.checksum.Sum(frame[1:etx+1]), frame[etx+1:]) {
		return Record{}, ErrChecksum
	}

	payload := frame[1:etx]
	var rec Record
	if start == SOH {
		stx := bytes.IndexByte(payload, STX)
		if stx < 0 {
			rec.Command = string(payload)
			return rec, nil
		}
		rec.Command = string(payload[:stx])
		payload = payload[stx+1:]
	}
	if err := rec.parseData(payload); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// LineComplete reports whether buf holds a CR LF terminated line.
func LineComplete(buf []byte) bool {
	return bytes.HasSuffix(buf, crlf)
}

// BlockComplete returns a stop predicate for a block that begins with
// start and ends with ETX plus the checksum. With acceptAckNak a lone
// ACK or NAK also terminates the frame.
func (c *Codec) BlockComplete(start byte, acceptAckNak bool) func([]byte) bool {
	size := c.checksum.Size()
	return func(buf []byte) bool {
		n := len(buf)
		if acceptAckNak && n == 1 && (buf[0] == ACK || buf[0] == NAK) {
			return true
		}
		return n > 1+size && buf[0] == start && buf[n-1-size] == ETX
	}
}

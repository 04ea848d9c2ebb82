package iec

import (
	"fmt"
	"strings"

	"github.com/sigurn/crc16"
)

// Checksum computes the trailing block check of a frame. The input is
// everything after the start byte up to and including ETX.
type Checksum interface {
	Name() string
	Size() int
	Sum(data []byte) []byte
}

type sum7 struct{}

func (sum7) Name() string { return "sum7" }
func (sum7) Size() int    { return 1 }

// Sum is the Energomera variant: byte sum truncated to seven bits.
func (sum7) Sum(data []byte) []byte {
	var crc byte
	for _, b := range data {
		crc = (crc + b) & 0x7f
	}
	return []byte{crc}
}

type xorBCC struct{}

func (xorBCC) Name() string { return "xor" }
func (xorBCC) Size() int    { return 1 }

func (xorBCC) Sum(data []byte) []byte {
	var bcc byte
	for _, b := range data {
		bcc ^= b
	}
	return []byte{bcc}
}

type crc16ARC struct {
	table *crc16.Table
}

func (crc16ARC) Name() string { return "crc16" }
func (crc16ARC) Size() int    { return 2 }

func (c crc16ARC) Sum(data []byte) []byte {
	v := crc16.Checksum(data, c.table)
	return []byte{byte(v >> 8), byte(v)}
}

var (
	Sum7  Checksum = sum7{}
	XOR   Checksum = xorBCC{}
	CRC16 Checksum = crc16ARC{table: crc16.MakeTable(crc16.CRC16_ARC)}
)

// ChecksumByName resolves a configured checksum algorithm.
// An empty name selects Sum7.
func ChecksumByName(name string) (Checksum, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sum7", "energomera":
		return Sum7, nil
	case "xor", "bcc":
		return XOR, nil
	case "crc16", "crc16-arc":
		return CRC16, nil
	default:
		return nil, fmt.Errorf("iec: unknown checksum %q", name)
	}
}

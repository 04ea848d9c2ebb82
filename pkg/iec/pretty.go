package iec

import (
	"fmt"
	"strings"
)

var controlNames = map[byte]string{
	0x00: "<NUL>",
	SOH:  "<SOH>",
	STX:  "<STX>",
	ETX:  "<ETX>",
	EOT:  "<EOT>",
	ENQ:  "<ENQ>",
	ACK:  "<ACK>",
	CR:   "<CR>",
	LF:   "<LF>",
	NAK:  "<NAK>",
	0x20: "<SP>",
}

// Pretty renders a frame for trace logs, naming control characters.
func Pretty(frame []byte) string {
	if len(frame) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, b := range frame {
		if name, ok := controlNames[b]; ok {
			sb.WriteString(name)
			continue
		}
		if b < 0x20 || b >= 0x7f {
			fmt.Fprintf(&sb, "<%02X>", b)
			continue
		}
		sb.WriteByte(b)
	}
	if len(frame) > 4 {
		fmt.Fprintf(&sb, " (%d)", len(frame))
	}
	return sb.String()
}

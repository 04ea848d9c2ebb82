package iec

import "fmt"

const baudBase = 300

// BaudRates lists the rates addressable by a mode C baud code.
var BaudRates = []int{300, 600, 1200, 2400, 4800, 9600, 19200}

func IsSupportedBaud(rate int) bool {
	_, err := BaudCode(rate)
	return err == nil
}

// BaudCode returns the ASCII code ('0'..'6') announcing rate.
func BaudCode(rate int) (byte, error) {
	for i := range BaudRates {
		if baudBase<<i == rate {
			return '0' + byte(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrUnsupportedBaud, rate)
}

// BaudFromCode is the inverse of BaudCode.
func BaudFromCode(code byte) (int, error) {
	if code < '0' || code > '0'+byte(len(BaudRates)-1) {
		return 0, fmt.Errorf("%w: code %q", ErrUnexpectedBaudReply, code)
	}
	return baudBase << (code - '0'), nil
}

package iec

import (
	"errors"
	"fmt"
)

var (
	ErrFrameFormat         = errors.New("iec: malformed frame")
	ErrChecksum            = fmt.Errorf("%w: checksum mismatch", ErrFrameFormat)
	ErrTruncated           = fmt.Errorf("%w: truncated frame", ErrFrameFormat)
	ErrMissingTerminator   = fmt.Errorf("%w: missing terminator", ErrFrameFormat)
	ErrUnexpectedBaudReply = errors.New("iec: meter proposed an unsupported baud rate")
	ErrUnsupportedBaud     = errors.New("iec: unsupported baud rate")
	ErrFieldOutOfRange     = errors.New("iec: field selector out of range")
)

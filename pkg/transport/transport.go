// Package transport provides the byte-level serial channel the meter
// session runs on.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTimeout       = errors.New("transport: timeout")
	ErrClosed        = errors.New("transport: port closed")
	ErrUnknownDriver = errors.New("transport: unknown driver")
)

// Transport is a blocking duplex serial channel. Every read is bounded by
// an explicit timeout and nothing is retried implicitly.
type Transport interface {
	// Write sends p, raising the direction line around the write when
	// flow control is configured.
	Write(p []byte) error
	// ReadByte waits up to timeout for one byte, returning ErrTimeout
	// when none arrives.
	ReadByte(timeout time.Duration) (byte, error)
	// ReadLine reads until terminator (included) or timeout.
	ReadLine(terminator []byte, timeout time.Duration) ([]byte, error)
	SetBaud(rate int) error
	FlushInput() error
	Close() error
}

const (
	DriverBugst   = "bugst"
	DriverJacobsa = "jacobsa"
)

// Options describe how to open a port. Zero values fall back to the
// IEC 62056-21 line settings, 7E1.
type Options struct {
	Device      string
	Driver      string
	BaudRate    int
	DataBits    int
	Parity      string
	StopBits    int
	FlowControl string
}

func (o Options) withDefaults() Options {
	if o.Driver == "" {
		o.Driver = DriverBugst
	}
	if o.BaudRate == 0 {
		o.BaudRate = 9600
	}
	if o.DataBits == 0 {
		o.DataBits = 7
	}
	if o.Parity == "" {
		o.Parity = "even"
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	o.Parity = strings.ToLower(o.Parity)
	o.FlowControl = strings.ToLower(o.FlowControl)
	return o
}

// Validate checks options without touching the device.
func (o Options) Validate() error {
	o = o.withDefaults()
	if o.Device == "" {
		return errors.New("transport: serial device not set")
	}
	switch o.Parity {
	case "none", "even", "odd":
	default:
		return fmt.Errorf("transport: unsupported parity %q", o.Parity)
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return fmt.Errorf("transport: unsupported data bits %d", o.DataBits)
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return fmt.Errorf("transport: unsupported stop bits %d", o.StopBits)
	}
	switch o.Driver {
	case DriverBugst:
		switch o.FlowControl {
		case "", "none", "rts", "dtr":
		default:
			return fmt.Errorf("transport: flow control %q not supported by %s driver", o.FlowControl, o.Driver)
		}
	case DriverJacobsa:
		switch o.FlowControl {
		case "", "none", "rs485":
		default:
			return fmt.Errorf("transport: flow control %q not supported by %s driver", o.FlowControl, o.Driver)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, o.Driver)
	}
	return nil
}

// Open opens the configured device with the selected driver.
func Open(opts Options) (Transport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	switch opts.Driver {
	case DriverJacobsa:
		return openJacobsa(opts)
	default:
		return openBugst(opts)
	}
}

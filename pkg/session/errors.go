package session

import (
	"errors"

	"github.com/NotCoffee418/iec_meter_reader/pkg/iec"
	"github.com/NotCoffee418/iec_meter_reader/pkg/transport"
)

// Protocol error kinds surfaced in cycle outcomes.
var (
	ErrTransportTimeout    = transport.ErrTimeout
	ErrFrameFormat         = iec.ErrFrameFormat
	ErrUnexpectedBaudReply = iec.ErrUnexpectedBaudReply
	ErrFieldOutOfRange     = iec.ErrFieldOutOfRange
)

var (
	ErrBusy          = errors.New("session: poll skipped, previous session still running")
	ErrBusBusy       = errors.New("session: poll skipped, serial bus in use by another meter")
	ErrRebooted      = errors.New("session: engine stopped after reboot request")
	ErrMeterRejected = errors.New("session: meter rejected the request")
	ErrQueueFull     = errors.New("session: single read queue full")
)

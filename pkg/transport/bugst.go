package transport

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const maxLineLength = 256

// bugstPort drives a port through go.bug.st/serial. Direction control
// uses the RTS or DTR modem line.
type bugstPort struct {
	device    string
	port      serial.Port
	mode      *serial.Mode
	direction string
	rx        rxBuffer
	chunk     [64]byte
}

func openBugst(opts Options) (*bugstPort, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   bugstParity(opts.Parity),
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	port, err := serial.Open(opts.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	p := &bugstPort{device: opts.Device, port: port, mode: mode}
	if opts.FlowControl == "rts" || opts.FlowControl == "dtr" {
		p.direction = opts.FlowControl
		if err := p.setDirection(false); err != nil {
			port.Close()
			return nil, err
		}
	}
	log.Info().Str("device", opts.Device).Int("baud", opts.BaudRate).Str("flow_control", p.direction).Msg("Opened serial port")
	return p, nil
}

func bugstParity(p string) serial.Parity {
	switch p {
	case "even":
		return serial.EvenParity
	case "odd":
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

func (p *bugstPort) setDirection(transmit bool) error {
	var err error
	switch p.direction {
	case "rts":
		err = p.port.SetRTS(transmit)
	case "dtr":
		err = p.port.SetDTR(transmit)
	}
	if err != nil {
		return fmt.Errorf("set %s line: %w", p.direction, err)
	}
	return nil
}

func (p *bugstPort) Write(b []byte) error {
	if p.direction != "" {
		if err := p.setDirection(true); err != nil {
			return err
		}
		defer p.setDirection(false)
	}
	if _, err := p.port.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", p.device, err)
	}
	// The direction line may only drop once the last bit left the UART.
	if p.direction != "" {
		if err := p.port.Drain(); err != nil {
			return fmt.Errorf("drain %s: %w", p.device, err)
		}
	}
	return nil
}

func (p *bugstPort) ReadByte(timeout time.Duration) (byte, error) {
	if c, ok := p.rx.pop(); ok {
		return c, nil
	}
	if timeout <= 0 {
		return 0, ErrTimeout
	}
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, fmt.Errorf("set read timeout: %w", err)
	}
	n, err := p.port.Read(p.chunk[:])
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", p.device, err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	p.rx.fill(p.chunk[:n])
	c, _ := p.rx.pop()
	return c, nil
}

func (p *bugstPort) ReadLine(terminator []byte, timeout time.Duration) ([]byte, error) {
	return readLine(p, terminator, timeout, maxLineLength)
}

func (p *bugstPort) SetBaud(rate int) error {
	if p.mode.BaudRate == rate {
		return nil
	}
	p.mode.BaudRate = rate
	if err := p.port.SetMode(p.mode); err != nil {
		return fmt.Errorf("set baud rate %d: %w", rate, err)
	}
	log.Trace().Str("device", p.device).Int("baud", rate).Msg("Baud rate changed")
	return nil
}

func (p *bugstPort) FlushInput() error {
	p.rx.reset()
	return p.port.ResetInputBuffer()
}

func (p *bugstPort) Close() error {
	log.Info().Str("device", p.device).Msg("Closing serial port")
	return p.port.Close()
}

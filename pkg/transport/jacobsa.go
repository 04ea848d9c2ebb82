package transport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog/log"
)

// interCharTimeoutMs is the smallest VTIME step the driver accepts.
const interCharTimeoutMs = 100

// jacobsaPort drives a port through github.com/jacobsa/go-serial. The
// library fixes the line settings at open time, so a baud change reopens
// the device. flow_control "rs485" hands direction switching to the
// kernel RS-485 mode.
type jacobsaPort struct {
	opts  serial.OpenOptions
	rwc   io.ReadWriteCloser
	rx    rxBuffer
	chunk [64]byte
}

func jacobsaOptions(opts Options) serial.OpenOptions {
	o := serial.OpenOptions{
		PortName:              opts.Device,
		BaudRate:              uint(opts.BaudRate),
		DataBits:              uint(opts.DataBits),
		StopBits:              uint(opts.StopBits),
		MinimumReadSize:       0,
		InterCharacterTimeout: interCharTimeoutMs,
	}
	switch opts.Parity {
	case "even":
		o.ParityMode = serial.PARITY_EVEN
	case "odd":
		o.ParityMode = serial.PARITY_ODD
	default:
		o.ParityMode = serial.PARITY_NONE
	}
	if opts.FlowControl == "rs485" {
		o.Rs485Enable = true
		o.Rs485RtsHighDuringSend = true
		o.Rs485RtsHighAfterSend = false
	}
	return o
}

func openJacobsa(opts Options) (*jacobsaPort, error) {
	p := &jacobsaPort{opts: jacobsaOptions(opts)}
	if err := p.open(); err != nil {
		return nil, err
	}
	log.Info().Str("device", opts.Device).Int("baud", opts.BaudRate).Bool("rs485", p.opts.Rs485Enable).Msg("Opened serial port")
	return p, nil
}

func (p *jacobsaPort) open() error {
	rwc, err := serial.Open(p.opts)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	p.rwc = rwc
	p.rx.reset()
	return nil
}

func (p *jacobsaPort) Write(b []byte) error {
	if p.rwc == nil {
		return ErrClosed
	}
	if _, err := p.rwc.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", p.opts.PortName, err)
	}
	return nil
}

func (p *jacobsaPort) ReadByte(timeout time.Duration) (byte, error) {
	if c, ok := p.rx.pop(); ok {
		return c, nil
	}
	if p.rwc == nil {
		return 0, ErrClosed
	}
	deadline := time.Now().Add(timeout)
	for {
		n, err := p.rwc.Read(p.chunk[:])
		if n > 0 {
			p.rx.fill(p.chunk[:n])
			c, _ := p.rx.pop()
			return c, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("read %s: %w", p.opts.PortName, err)
		}
		if !time.Now().Before(deadline) {
			return 0, ErrTimeout
		}
	}
}

func (p *jacobsaPort) ReadLine(terminator []byte, timeout time.Duration) ([]byte, error) {
	return readLine(p, terminator, timeout, maxLineLength)
}

func (p *jacobsaPort) SetBaud(rate int) error {
	if p.opts.BaudRate == uint(rate) && p.rwc != nil {
		return nil
	}
	if p.rwc != nil {
		p.rwc.Close()
		p.rwc = nil
	}
	p.opts.BaudRate = uint(rate)
	if err := p.open(); err != nil {
		return fmt.Errorf("set baud rate %d: %w", rate, err)
	}
	log.Trace().Str("device", p.opts.PortName).Int("baud", rate).Msg("Baud rate changed")
	return nil
}

// FlushInput drains whatever the port still holds; each empty read costs
// one inter-character timeout.
func (p *jacobsaPort) FlushInput() error {
	p.rx.reset()
	if p.rwc == nil {
		return ErrClosed
	}
	for {
		n, err := p.rwc.Read(p.chunk[:])
		if n == 0 || err != nil {
			return nil
		}
	}
}

func (p *jacobsaPort) Close() error {
	if p.rwc == nil {
		return nil
	}
	log.Info().Str("device", p.opts.PortName).Msg("Closing serial port")
	err := p.rwc.Close()
	p.rwc = nil
	return err
}

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/iec"
	"github.com/NotCoffee418/iec_meter_reader/pkg/transport"
)

// readBlock collects one block frame within the receive timeout. Bytes
// ahead of the start byte are line noise and are dropped.
func (e *Engine) readBlock(start byte, acceptAckNak bool) ([]byte, error) {
	stop := e.codec.BlockComplete(start, acceptAckNak)
	deadline := time.Now().Add(e.cfg.ReceiveTimeout)
	var buf []byte
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buf, incomplete(buf)
		}
		b, err := e.transport.ReadByte(remaining)
		if errors.Is(err, transport.ErrTimeout) {
			return buf, incomplete(buf)
		}
		if err != nil {
			return buf, err
		}
		if len(buf) == 0 && b != start && !(acceptAckNak && (b == iec.ACK || b == iec.NAK)) {
			continue
		}
		buf = append(buf, b)
		if stop(buf) {
			return buf, nil
		}
		if len(buf) >= iec.MaxFrameSize {
			return buf, fmt.Errorf("%w: frame exceeds %d bytes", iec.ErrFrameFormat, iec.MaxFrameSize)
		}
	}
}

// incomplete maps a timeout to a truncated frame when some bytes arrived.
func incomplete(buf []byte) error {
	if len(buf) > 0 {
		return iec.ErrTruncated
	}
	return transport.ErrTimeout
}

func (e *Engine) readRecord(c *cycleState, start byte) (iec.Record, error) {
	frame, err := e.readBlock(start, false)
	if err != nil {
		return iec.Record{}, e.rxError(c, frame, err)
	}
	c.log.Trace().Str("rx", iec.Pretty(frame)).Msg("RX")
	rec, err := e.codec.DecodeResponse(frame)
	if err != nil {
		return iec.Record{}, e.rxError(c, frame, err)
	}
	return rec, nil
}

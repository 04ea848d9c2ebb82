package session

import (
	"context"
	"fmt"

	"github.com/NotCoffee418/iec_meter_reader/pkg/iec"
	"github.com/NotCoffee418/iec_meter_reader/pkg/registry"
)

// SingleReadResult is the answer to a queued single read. Accepted is set
// when the meter only acknowledged the command.
type SingleReadResult struct {
	Request  registry.Request
	Accepted bool
	Record   iec.Record
	Err      error
}

type singleRead struct {
	request registry.Request
	reply   chan SingleReadResult
}

// QueueSingleRead schedules a request sent outside a programming session,
// at the handshake baud rate. It is served before the next poll, or right
// away when the engine is idle under Run.
func (e *Engine) QueueSingleRead(raw string) (<-chan SingleReadResult, error) {
	req, err := registry.ParseRequest(raw)
	if err != nil {
		return nil, err
	}
	if e.Rebooted() {
		return nil, ErrRebooted
	}
	sr := singleRead{request: req, reply: make(chan SingleReadResult, 1)}
	select {
	case e.singles <- sr:
	default:
		return nil, ErrQueueFull
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return sr.reply, nil
}

// ServeSingleReads claims the line and answers every queued single read.
func (e *Engine) ServeSingleReads(ctx context.Context) error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()
	e.drainSingleReads(ctx)
	return nil
}

// drainSingleReads must be called with the engine acquired.
func (e *Engine) drainSingleReads(ctx context.Context) {
	for {
		select {
		case sr := <-e.singles:
			if err := ctx.Err(); err != nil {
				sr.reply <- SingleReadResult{Request: sr.request, Err: err}
				continue
			}
			sr.reply <- e.readSingle(sr.request)
		default:
			return
		}
	}
}

func (e *Engine) readSingle(req registry.Request) SingleReadResult {
	res := SingleReadResult{Request: req}
	lg := e.log.With().Str("request", req.String()).Logger()

	if err := e.setBaud(e.cfg.HandshakeBaud); err != nil {
		res.Err = err
		return res
	}
	if err := e.transport.FlushInput(); err != nil {
		lg.Debug().Err(err).Msg("Input flush failed")
	}
	if err := e.send(lg, e.codec.EncodeSingleRead(e.cfg.Address, req.String())); err != nil {
		res.Err = err
		return res
	}

	frame, err := e.readBlock(iec.STX, true)
	if err != nil {
		res.Err = err
		return res
	}
	lg.Trace().Str("rx", iec.Pretty(frame)).Msg("RX")

	switch frame[0] {
	case iec.ACK:
		res.Accepted = true
		lg.Info().Msg("Single read acknowledged")
	case iec.NAK:
		res.Err = ErrMeterRejected
		lg.Warn().Msg("Single read rejected")
	default:
		rec, err := e.codec.DecodeResponse(frame)
		if err != nil {
			res.Err = err
			return res
		}
		if rec.IsError() {
			res.Err = fmt.Errorf("%w: %s", ErrMeterRejected, rec.Fields[0])
			return res
		}
		res.Record = rec
		lg.Info().Str("data", rec.Raw).Msg("Single read answered")
	}
	return res
}

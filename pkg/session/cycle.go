package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/iec"
	"github.com/NotCoffee418/iec_meter_reader/pkg/registry"
	"github.com/NotCoffee418/iec_meter_reader/pkg/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outcome describes one poll cycle.
type Outcome struct {
	CycleID   string        `json:"cycle_id"`
	OK        bool          `json:"ok"`
	Err       error         `json:"-"`
	FailedIn  string        `json:"failed_in,omitempty"`
	Requests  int           `json:"requests"`
	Published int           `json:"published"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
	Rebooted  bool          `json:"rebooted"`
}

// cycleState is the per-cycle scratch space, reset on every poll.
type cycleState struct {
	id       string
	log      zerolog.Logger
	started  time.Time
	identity iec.Identity
	pending  []registry.Request
	current  registry.Request
	sent     int
	out      Outcome
}

func (e *Engine) cycle(ctx context.Context) Outcome {
	c := &cycleState{
		id:      uuid.NewString(),
		started: e.now(),
		pending: e.registry.Requests(),
	}
	c.log = e.log.With().Str("cycle", c.id).Logger()
	c.out.CycleID = c.id

	e.mu.Lock()
	e.stats.SessionsTried++
	e.stats.LastCycleID = c.id
	e.mu.Unlock()

	c.log.Debug().Int("requests", len(c.pending)).Msg("Starting data collection")
	e.setIndicator(ctx, true)

	st := HandshakeSent
	for st != Idle {
		e.setState(st)
		next, err := e.step(ctx, c, st)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			e.abort(ctx, c, st, err)
			return c.out
		}
		st = next
	}

	e.finish(ctx, c)
	return c.out
}

// step performs the work of state st and returns the state to enter next.
func (e *Engine) step(ctx context.Context, c *cycleState, st State) (State, error) {
	switch st {
	case HandshakeSent:
		return AwaitIdentification, e.sendHandshake(c)
	case AwaitIdentification:
		return BaudAckSent, e.awaitIdentification(c)
	case BaudAckSent:
		return AwaitSessionReady, e.sendBaudAck(ctx, c)
	case AwaitSessionReady:
		return RequestSent, e.awaitSessionReady(c)
	case RequestSent:
		if len(c.pending) == 0 {
			c.log.Debug().Msg("All requests done")
			return SessionClose, nil
		}
		return AwaitResponse, e.sendRequest(ctx, c)
	case AwaitResponse:
		return RequestSent, e.awaitResponse(ctx, c)
	case SessionClose:
		e.closeSession(c)
		return Idle, nil
	default:
		return Error, fmt.Errorf("session: no transition from %s", st)
	}
}

func (e *Engine) sendHandshake(c *cycleState) error {
	if err := e.setBaud(e.cfg.HandshakeBaud); err != nil {
		return err
	}
	if err := e.transport.FlushInput(); err != nil {
		c.log.Debug().Err(err).Msg("Input flush failed")
	}
	return e.send(c.log, e.codec.EncodeHandshake(e.cfg.Address))
}

func (e *Engine) awaitIdentification(c *cycleState) error {
	line, err := e.transport.ReadLine([]byte{iec.CR, iec.LF}, e.cfg.ReceiveTimeout)
	if err != nil {
		return e.rxError(c, line, err)
	}
	c.log.Trace().Str("rx", iec.Pretty(line)).Msg("RX")

	id, err := e.codec.DecodeIdentification(line)
	if err != nil {
		return e.rxError(c, line, err)
	}
	c.identity = id
	e.mu.Lock()
	e.stats.MeterIdentity = id.String()
	e.mu.Unlock()
	c.log.Debug().Str("identification", id.String()).Int("max_baud", id.MaxBaud).Msg("Meter identification")
	if id.MaxBaud < e.cfg.SessionBaud {
		c.log.Warn().Int("max_baud", id.MaxBaud).Int("session_baud", e.cfg.SessionBaud).Msg("Configured session baud rate exceeds meter's announced maximum")
	}
	return nil
}

func (e *Engine) sendBaudAck(ctx context.Context, c *cycleState) error {
	code, err := iec.BaudCode(e.cfg.SessionBaud)
	if err != nil {
		return err
	}
	if err := e.send(c.log, e.codec.EncodeBaudSwitchAck(code)); err != nil {
		return err
	}
	if e.cfg.SessionBaud == e.cfg.HandshakeBaud {
		return nil
	}
	if err := e.sleep(ctx, baudSwitchLeadTime); err != nil {
		return err
	}
	if err := e.setBaud(e.cfg.SessionBaud); err != nil {
		return err
	}
	return e.sleep(ctx, baudSwitchSettleTime)
}

func (e *Engine) awaitSessionReady(c *cycleState) error {
	rec, err := e.readRecord(c, iec.SOH)
	if err != nil {
		return err
	}
	if rec.Command != "P0" || len(rec.Fields) == 0 {
		e.countFrameError("invalid")
		return fmt.Errorf("%w: unexpected session prompt %q %q", ErrFrameFormat, rec.Command, rec.Raw)
	}
	c.log.Debug().Str("address", rec.Fields[0]).Msg("Meter address")
	return nil
}

func (e *Engine) sendRequest(ctx context.Context, c *cycleState) error {
	if c.sent > 0 {
		if err := e.sleep(ctx, e.cfg.DelayBetweenRequests); err != nil {
			return err
		}
	}
	c.current, c.pending = c.pending[0], c.pending[1:]
	c.sent++
	c.out.Requests++
	c.log.Debug().Str("request", c.current.String()).Msg("Requesting data")
	return e.send(c.log, e.codec.EncodeRequest(c.current.String()))
}

func (e *Engine) awaitResponse(ctx context.Context, c *cycleState) error {
	rec, err := e.readRecord(c, iec.STX)
	if err != nil {
		return err
	}
	req := c.current

	if rec.IsError() {
		c.out.Skipped++
		c.log.Error().Str("request", req.String()).Str("code", rec.Fields[0]).Msg("Request either not supported or malformed")
		return nil
	}
	if rec.Name != req.Function() {
		c.out.Skipped++
		c.log.Error().Str("request", req.String()).Str("name", rec.Name).Msg("Returned data name mismatch, skipping frame")
		return nil
	}

	res := e.dispatcher.Dispatch(ctx, c.id, req, rec)
	c.out.Published += res.Published
	e.metrics.Published(e.cfg.Meter, res.Published, len(res.Failed))
	return nil
}

// closeSession is best-effort; the meter does not answer a break.
func (e *Engine) closeSession(c *cycleState) {
	if err := e.send(c.log, e.codec.EncodeSessionClose()); err != nil {
		c.log.Warn().Err(err).Msg("Failed to send session close")
	}
	if err := e.setBaud(e.cfg.HandshakeBaud); err != nil {
		c.log.Warn().Err(err).Msg("Failed to restore handshake baud rate")
	}
}

func (e *Engine) finish(ctx context.Context, c *cycleState) {
	d := e.now().Sub(c.started)
	c.out.OK = true
	c.out.Duration = d

	e.mu.Lock()
	e.stats.SuccessfulCycles++
	e.stats.ConsecutiveFailures = 0
	e.stats.LastCycleDuration = d
	e.stats.LastSuccess = e.now()
	e.stats.LastError = ""
	stats := e.stats
	e.mu.Unlock()

	e.setState(Idle)
	e.setIndicator(ctx, false)
	e.metrics.CycleFinished(e.cfg.Meter, true, d)
	e.metrics.ConsecutiveFailures(e.cfg.Meter, 0)

	c.log.Info().
		Dur("duration", d).
		Int("requests", c.out.Requests).
		Int("published", c.out.Published).
		Uint64("sessions", stats.SessionsTried).
		Uint64("crc_errors", stats.CRCErrors).
		Uint64("invalid_frames", stats.InvalidFrames).
		Float64("crc_errors_per_session", stats.CRCErrorsPerSession()).
		Msg("Data collection and publishing finished")
}

// abort handles the ERROR state: the whole cycle is dropped, the failure
// counter grows and may escalate to REBOOT.
func (e *Engine) abort(ctx context.Context, c *cycleState, in State, cause error) {
	e.setState(Error)
	c.log.Error().Err(cause).Str("state", in.String()).Msg("Session failed, closing session")

	if in != HandshakeSent {
		if err := e.transport.Write(e.codec.EncodeSessionClose()); err != nil {
			c.log.Debug().Err(err).Msg("Failed to send session close")
		}
	}
	if err := e.setBaud(e.cfg.HandshakeBaud); err != nil {
		c.log.Debug().Err(err).Msg("Failed to restore handshake baud rate")
	}
	e.setIndicator(ctx, false)

	d := e.now().Sub(c.started)
	c.out.Err = cause
	c.out.FailedIn = in.String()
	c.out.Duration = d

	// Shutdown is not a meter failure.
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(cause, ctxErr) {
		e.setState(Idle)
		return
	}

	e.mu.Lock()
	e.stats.FailedCycles++
	e.stats.ConsecutiveFailures++
	e.stats.LastCycleDuration = d
	e.stats.LastError = cause.Error()
	failures := e.stats.ConsecutiveFailures
	e.mu.Unlock()

	e.metrics.CycleFinished(e.cfg.Meter, false, d)
	e.metrics.ConsecutiveFailures(e.cfg.Meter, failures)

	if e.cfg.RebootAfterFailure > 0 && failures >= e.cfg.RebootAfterFailure {
		e.enterReboot(ctx, c, failures)
		return
	}
	e.setState(Idle)
}

// enterReboot stops the engine for good once the reboot was requested. A
// rejected reboot command leaves the engine polling and restarts the count.
func (e *Engine) enterReboot(ctx context.Context, c *cycleState, failures int) {
	e.setState(Reboot)
	c.log.Error().Int("failures", failures).Int("threshold", e.cfg.RebootAfterFailure).Msg("Too many failures in a row, requesting device reboot")
	if err := e.rebooter.Reboot(context.WithoutCancel(ctx)); err != nil {
		c.log.Error().Err(err).Msg("Device reboot failed, resuming polling")
		e.mu.Lock()
		e.stats.RebootFailures++
		e.stats.ConsecutiveFailures = 0
		e.mu.Unlock()
		e.metrics.ConsecutiveFailures(e.cfg.Meter, 0)
		e.setState(Idle)
		return
	}

	e.mu.Lock()
	e.stats.Rebooted = true
	e.mu.Unlock()
	c.out.Rebooted = true
}

// rxError classifies a receive failure for the statistics.
func (e *Engine) rxError(c *cycleState, partial []byte, err error) error {
	switch {
	case errors.Is(err, transport.ErrTimeout):
		e.countFrameError("timeout")
		c.log.Warn().Msg("RX timeout")
	case errors.Is(err, iec.ErrChecksum):
		e.countFrameError("crc")
		c.log.Warn().Msg("Frame received, but CRC failed")
	case errors.Is(err, iec.ErrFrameFormat), errors.Is(err, iec.ErrUnexpectedBaudReply):
		e.countFrameError("invalid")
		c.log.Warn().Err(err).Msg("Frame corrupted")
	}
	if len(partial) > 0 {
		c.log.Trace().Str("rx", iec.Pretty(partial)).Msg("RX")
	}
	return err
}

func (e *Engine) countFrameError(kind string) {
	e.mu.Lock()
	switch kind {
	case "timeout":
		e.stats.Timeouts++
	case "crc":
		e.stats.CRCErrors++
	default:
		e.stats.InvalidFrames++
	}
	e.mu.Unlock()
	e.metrics.FrameError(e.cfg.Meter, kind)
}

// Package session drives the IEC 61107 sign-on, baud switch and
// request/response exchange with one meter.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/dispatcher"
	"github.com/NotCoffee418/iec_meter_reader/pkg/iec"
	"github.com/NotCoffee418/iec_meter_reader/pkg/reboot"
	"github.com/NotCoffee418/iec_meter_reader/pkg/registry"
	"github.com/NotCoffee418/iec_meter_reader/pkg/transport"
	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Guard times around the local baud switch, giving the meter time to
	// change its own rate.
	baudSwitchLeadTime   = 250 * time.Millisecond
	baudSwitchSettleTime = 150 * time.Millisecond

	singleReadQueueSize = 16
)

// Config holds the immutable per-meter parameters.
type Config struct {
	Meter                string
	Address              string
	HandshakeBaud        int
	SessionBaud          int
	ReceiveTimeout       time.Duration
	DelayBetweenRequests time.Duration
	UpdateInterval       time.Duration
	BootDelay            time.Duration
	RebootAfterFailure   int
	// BusKey names the physical line; meters sharing it take turns.
	BusKey string
}

func (c Config) withDefaults() Config {
	if c.HandshakeBaud == 0 {
		c.HandshakeBaud = 9600
	}
	if c.SessionBaud == 0 {
		c.SessionBaud = 9600
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = 500 * time.Millisecond
	}
	if c.DelayBetweenRequests == 0 {
		c.DelayBetweenRequests = 50 * time.Millisecond
	}
	if c.UpdateInterval == 0 {
		c.UpdateInterval = 30 * time.Second
	}
	return c
}

func (c Config) validate() error {
	if !iec.IsSupportedBaud(c.HandshakeBaud) {
		return fmt.Errorf("session: unsupported handshake baud rate %d", c.HandshakeBaud)
	}
	if !iec.IsSupportedBaud(c.SessionBaud) {
		return fmt.Errorf("session: unsupported session baud rate %d", c.SessionBaud)
	}
	if len(c.Address) > 15 {
		return fmt.Errorf("session: meter address %q longer than 15 characters", c.Address)
	}
	if c.RebootAfterFailure < 0 || c.RebootAfterFailure > 100 {
		return fmt.Errorf("session: reboot_after_failure %d not in 0..100", c.RebootAfterFailure)
	}
	return nil
}

type Option func(*Engine)

// WithSink sets where values and the indicator are published.
func WithSink(s dispatcher.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

func WithRebooter(r reboot.Rebooter) Option {
	return func(e *Engine) { e.rebooter = r }
}

func WithBusLock(b *BusLock) Option {
	return func(e *Engine) { e.bus = b }
}

func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithCodec(c *iec.Codec) Option {
	return func(e *Engine) { e.codec = c }
}

// WithSleep replaces the timed waits; the default honours ctx.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// Engine owns the session state machine for one meter. It is not
// reentrant: overlapping polls are skipped.
type Engine struct {
	cfg        Config
	transport  transport.Transport
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	codec      *iec.Codec
	sink       dispatcher.Sink
	rebooter   reboot.Rebooter
	bus        *BusLock
	metrics    Metrics
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	log        zerolog.Logger

	running atomic.Bool
	singles chan singleRead
	wake    chan struct{}

	mu        sync.Mutex
	state     State
	baud      int
	indicator bool
	stats     Stats
}

func New(cfg Config, t transport.Transport, reg *registry.Registry, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		transport: t,
		registry:  reg,
		codec:     iec.Default,
		sink:      dispatcher.Discard{},
		rebooter:  reboot.LogRebooter{},
		metrics:   noopMetrics{},
		sleep:     sleepCtx,
		now:       time.Now,
		log:       log.With().Str("meter", cfg.Meter).Logger(),
		singles:   make(chan singleRead, singleReadQueueSize),
		wake:      make(chan struct{}, 1),
		baud:      cfg.HandshakeBaud,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dispatcher = dispatcher.New(reg, e.sink)
	e.stats.Meter = cfg.Meter
	return e, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) Name() string { return e.cfg.Meter }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Registry() *registry.Registry { return e.registry }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of the session statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.State = e.state.String()
	return s
}

func (e *Engine) ConsecutiveFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.ConsecutiveFailures
}

func (e *Engine) Rebooted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.Rebooted
}

// Run polls every update interval until ctx is done or the engine
// reaches the REBOOT state. The first poll follows the boot delay.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().
		Dur("update_interval", e.cfg.UpdateInterval).
		Dur("receive_timeout", e.cfg.ReceiveTimeout).
		Int("requests", e.registry.Len()).
		Msg("Meter engine started")

	if e.cfg.BootDelay > 0 {
		if err := e.sleep(ctx, e.cfg.BootDelay); err != nil {
			return err
		}
		e.log.Debug().Msg("Boot delay elapsed, ready to poll")
	}

	ticker := time.NewTicker(e.cfg.UpdateInterval)
	defer ticker.Stop()

	e.tick(ctx)
	for !e.Rebooted() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		case <-e.wake:
			if err := e.ServeSingleReads(ctx); err != nil && err != ErrBusy && err != ErrBusBusy {
				e.log.Warn().Err(err).Msg("Single reads not served")
			}
		}
	}
	e.log.Warn().Msg("Meter engine stopped after reboot request")
	return nil
}

func (e *Engine) tick(ctx context.Context) {
	if _, err := e.Poll(ctx); err != nil {
		e.log.Debug().Err(err).Msg("Starting data collection impossible")
	}
}

// acquire claims the engine and the shared bus. The returned release must
// be called when the session is over.
func (e *Engine) acquire() (func(), error) {
	if e.Rebooted() {
		return nil, ErrRebooted
	}
	if !e.running.CompareAndSwap(false, true) {
		e.countSkip()
		return nil, ErrBusy
	}
	if e.bus != nil && !e.bus.TryLock(e.busKey()) {
		e.running.Store(false)
		e.countSkip()
		return nil, ErrBusBusy
	}
	return func() {
		if e.bus != nil {
			e.bus.Unlock(e.busKey())
		}
		e.running.Store(false)
	}, nil
}

func (e *Engine) busKey() string {
	if e.cfg.BusKey != "" {
		return e.cfg.BusKey
	}
	return e.cfg.Meter
}

func (e *Engine) countSkip() {
	e.mu.Lock()
	e.stats.SkippedPolls++
	e.mu.Unlock()
}

// Poll runs one complete cycle. Protocol failures are reported in the
// outcome; the error is only set when the poll could not start.
func (e *Engine) Poll(ctx context.Context) (Outcome, error) {
	release, err := e.acquire()
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	e.drainSingleReads(ctx)
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	return e.cycle(ctx), nil
}

func (e *Engine) setState(to State) {
	e.mu.Lock()
	from := e.state
	e.state = to
	e.mu.Unlock()
	if from != to {
		e.log.Trace().Str("from", from.String()).Str("to", to.String()).Msg("State change")
	}
}

// setIndicator publishes only on change.
func (e *Engine) setIndicator(ctx context.Context, active bool) {
	e.mu.Lock()
	changed := e.indicator != active
	e.indicator = active
	e.mu.Unlock()
	if !changed {
		return
	}
	e.metrics.SessionActive(e.cfg.Meter, active)
	st := types.IndicatorState{Timestamp: e.now(), Meter: e.cfg.Meter, Active: active}
	if err := e.sink.SetIndicator(context.WithoutCancel(ctx), st); err != nil {
		e.log.Warn().Err(err).Bool("active", active).Msg("Failed to publish indicator")
	}
}

func (e *Engine) setBaud(rate int) error {
	if err := e.transport.SetBaud(rate); err != nil {
		return err
	}
	e.mu.Lock()
	e.baud = rate
	e.mu.Unlock()
	e.log.Trace().Int("baud", rate).Msg("Setting baud rate")
	return nil
}

func (e *Engine) send(lg zerolog.Logger, frame []byte) error {
	lg.Trace().Str("tx", iec.Pretty(frame)).Msg("TX")
	return e.transport.Write(frame)
}

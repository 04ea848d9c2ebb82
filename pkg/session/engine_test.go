package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/dispatcher"
	"github.com/NotCoffee418/iec_meter_reader/pkg/iec"
	"github.com/NotCoffee418/iec_meter_reader/pkg/reboot"
	"github.com/NotCoffee418/iec_meter_reader/pkg/registry"
	"github.com/NotCoffee418/iec_meter_reader/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMeter answers like an Energomera meter on the other end of the line.
type fakeMeter struct {
	mu     sync.Mutex
	ident  string
	values map[string]string
	silent map[string]bool
	badBCC map[string]bool
	writes [][]byte
	bauds  []int
	rx     []byte
}

func newFakeMeter() *fakeMeter {
	return &fakeMeter{
		ident:  "/EKT5CE102Mv01\r\n",
		values: map[string]string{},
		silent: map[string]bool{},
		badBCC: map[string]bool{},
	}
}

func block(start byte, head, data string) []byte {
	frame := []byte{start}
	frame = append(frame, head...)
	if head != "" {
		frame = append(frame, iec.STX)
	}
	frame = append(frame, data...)
	frame = append(frame, iec.ETX)
	return append(frame, iec.Sum7.Sum(frame[1:])...)
}

// requestIn extracts the request between STX and ETX of a R1 block.
func requestIn(p []byte) string {
	stx := bytes.IndexByte(p, iec.STX)
	etx := bytes.IndexByte(p, iec.ETX)
	if stx < 0 || etx < stx {
		return ""
	}
	return string(p[stx+1 : etx])
}

func (m *fakeMeter) reply(req string) []byte {
	if m.silent[req] {
		return nil
	}
	data, ok := m.values[req]
	if !ok {
		return nil
	}
	if data == "ACK" {
		return []byte{iec.ACK}
	}
	frame := block(iec.STX, "", data)
	if m.badBCC[req] {
		frame[len(frame)-1] ^= 0x01
	}
	return frame
}

func (m *fakeMeter) Write(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, append([]byte(nil), p...))
	switch {
	case bytes.HasPrefix(p, []byte("/?")) && bytes.IndexByte(p, iec.SOH) > 0:
		m.rx = append(m.rx, m.reply(requestIn(p))...)
	case bytes.HasPrefix(p, []byte("/?")):
		m.rx = append(m.rx, m.ident...)
	case p[0] == iec.ACK:
		m.rx = append(m.rx, block(iec.SOH, "P0", "(012345678)")...)
	case p[0] == iec.SOH && bytes.HasPrefix(p[1:], []byte("R1")):
		m.rx = append(m.rx, m.reply(requestIn(p))...)
	}
	return nil
}

func (m *fakeMeter) ReadByte(time.Duration) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rx) == 0 {
		return 0, transport.ErrTimeout
	}
	b := m.rx[0]
	m.rx = m.rx[1:]
	return b, nil
}

func (m *fakeMeter) ReadLine(term []byte, _ time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := bytes.Index(m.rx, term)
	if i < 0 {
		partial := m.rx
		m.rx = nil
		return partial, transport.ErrTimeout
	}
	line := m.rx[:i+len(term)]
	m.rx = m.rx[i+len(term):]
	return line, nil
}

func (m *fakeMeter) SetBaud(rate int) error {
	m.mu.Lock()
	m.bauds = append(m.bauds, rate)
	m.mu.Unlock()
	return nil
}

func (m *fakeMeter) FlushInput() error {
	m.mu.Lock()
	m.rx = nil
	m.mu.Unlock()
	return nil
}

func (m *fakeMeter) Close() error { return nil }

// requests lists every R1 request seen on the wire.
func (m *fakeMeter) requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, w := range m.writes {
		if len(w) > 2 && w[0] == iec.SOH && w[1] == 'R' {
			out = append(out, requestIn(w))
		}
	}
	return out
}

type sensorDef struct {
	name, request string
	index, sub    int
}

func newRegistry(t *testing.T, defs ...sensorDef) *registry.Registry {
	t.Helper()
	b := registry.NewBuilder()
	for _, d := range defs {
		ep := registry.Endpoint{Meter: "ce102", Name: d.name, Kind: registry.Numeric}
		require.NoError(t, b.Register(ep, d.request, registry.FieldSelector{Index: d.index, SubIndex: d.sub}))
	}
	return b.Build()
}

func noSleep(context.Context, time.Duration) error { return nil }

func newEngine(t *testing.T, cfg Config, m *fakeMeter, reg *registry.Registry, opts ...Option) (*Engine, *dispatcher.Recorder) {
	t.Helper()
	if cfg.Meter == "" {
		cfg.Meter = "ce102"
	}
	rec := &dispatcher.Recorder{}
	opts = append([]Option{WithSink(rec), WithSleep(noSleep)}, opts...)
	e, err := New(cfg, m, reg, opts...)
	require.NoError(t, err)
	return e, rec
}

func indicatorHistory(rec *dispatcher.Recorder) []bool {
	var out []bool
	for _, st := range rec.Indicators() {
		out = append(out, st.Active)
	}
	return out
}

func TestPollPublishesValue(t *testing.T) {
	m := newFakeMeter()
	m.values["VOLT()"] = "VOLT(230.1)"
	e, rec := newEngine(t, Config{}, m, newRegistry(t, sensorDef{"voltage", "VOLT", 1, 0}))

	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, out.OK, "cycle failed: %v", out.Err)
	assert.Equal(t, 1, out.Requests)
	assert.Equal(t, 1, out.Published)

	readings := rec.Readings()
	require.Len(t, readings, 1)
	require.NotNil(t, readings[0].Value)
	assert.Equal(t, 230.1, *readings[0].Value)
	assert.Equal(t, out.CycleID, readings[0].CycleID)

	assert.Equal(t, []bool{true, false}, indicatorHistory(rec))
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, 0, e.ConsecutiveFailures())

	last := m.writes[len(m.writes)-1]
	assert.Equal(t, iec.Default.EncodeSessionClose(), last)
	assert.Equal(t, "/EKT5CE102Mv01", e.Stats().MeterIdentity)
}

func TestSharedRequestIsSentOnce(t *testing.T) {
	m := newFakeMeter()
	m.values["ENERGY()"] = "ENERGY(123.4,56.7)"
	reg := newRegistry(t,
		sensorDef{"t1", "ENERGY()", 1, 0},
		sensorDef{"t2", "ENERGY()", 2, 0},
	)
	e, rec := newEngine(t, Config{}, m, reg)

	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, out.OK)

	assert.Equal(t, []string{"ENERGY()"}, m.requests())
	latest := rec.Latest()
	require.Contains(t, latest, "t1")
	require.Contains(t, latest, "t2")
	assert.Equal(t, 123.4, *latest["t1"].Value)
	assert.Equal(t, 56.7, *latest["t2"].Value)
}

func TestTimeoutInAwaitResponseAbortsCycle(t *testing.T) {
	m := newFakeMeter()
	m.silent["VOLT()"] = true
	e, rec := newEngine(t, Config{}, m, newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}))

	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.ErrorIs(t, out.Err, ErrTransportTimeout)
	assert.Equal(t, AwaitResponse.String(), out.FailedIn)

	assert.Empty(t, rec.Readings())
	assert.Equal(t, []bool{true, false}, indicatorHistory(rec))
	assert.Equal(t, 1, e.ConsecutiveFailures())
	assert.Equal(t, Idle, e.State())

	st := e.Stats()
	assert.Equal(t, uint64(1), st.Timeouts)
	assert.Equal(t, uint64(1), st.FailedCycles)
	assert.Equal(t, 9600, m.bauds[len(m.bauds)-1])
}

func TestUnexpectedBaudReplySendsNoRequest(t *testing.T) {
	m := newFakeMeter()
	m.ident = "/EKT9CE102Mv01\r\n"
	m.values["VOLT()"] = "VOLT(230.1)"
	e, _ := newEngine(t, Config{}, m, newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}))

	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.ErrorIs(t, out.Err, ErrUnexpectedBaudReply)
	assert.Equal(t, AwaitIdentification.String(), out.FailedIn)
	assert.Empty(t, m.requests())
	assert.Equal(t, uint64(1), e.Stats().InvalidFrames)
}

func TestChecksumErrorIsCounted(t *testing.T) {
	m := newFakeMeter()
	m.values["VOLT()"] = "VOLT(230.1)"
	m.badBCC["VOLT()"] = true
	e, rec := newEngine(t, Config{}, m, newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}))

	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.ErrorIs(t, out.Err, ErrFrameFormat)
	assert.Empty(t, rec.Readings())

	st := e.Stats()
	assert.Equal(t, uint64(1), st.CRCErrors)
	assert.InDelta(t, 1.0, st.CRCErrorsPerSession(), 1e-9)
}

func TestMeterErrorReplyIsSkipped(t *testing.T) {
	m := newFakeMeter()
	m.values["CURRE()"] = "(ERR12)"
	m.values["VOLT()"] = "VOLT(230.1)"
	reg := newRegistry(t,
		sensorDef{"current", "CURRE()", 1, 0},
		sensorDef{"voltage", "VOLT()", 1, 0},
	)
	e, rec := newEngine(t, Config{}, m, reg)

	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, out.OK)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 1, out.Published)
	assert.Len(t, rec.Readings(), 1)
}

func TestFieldOutOfRangeDoesNotAbort(t *testing.T) {
	m := newFakeMeter()
	m.values["VOLT()"] = "VOLT(230.1)"
	reg := newRegistry(t,
		sensorDef{"voltage", "VOLT()", 1, 0},
		sensorDef{"phase_b", "VOLT()", 2, 0},
	)
	e, rec := newEngine(t, Config{}, m, reg)

	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, out.OK)
	assert.Equal(t, 1, out.Published)
	assert.Len(t, rec.Readings(), 1)
	assert.Equal(t, 0, e.ConsecutiveFailures())
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	m := newFakeMeter()
	m.silent["VOLT()"] = true
	m.values["VOLT()"] = "VOLT(230.1)"
	e, _ := newEngine(t, Config{}, m, newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}))

	for i := 0; i < 2; i++ {
		_, err := e.Poll(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, e.ConsecutiveFailures())

	m.mu.Lock()
	delete(m.silent, "VOLT()")
	m.mu.Unlock()

	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, out.OK)
	assert.Equal(t, 0, e.ConsecutiveFailures())
}

func TestRebootExactlyOnceAtThreshold(t *testing.T) {
	m := newFakeMeter()
	m.silent["VOLT()"] = true
	var reboots int
	rb := reboot.Func(func(context.Context) error { reboots++; return nil })
	e, _ := newEngine(t, Config{RebootAfterFailure: 3}, m,
		newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}), WithRebooter(rb))

	for i := 0; i < 2; i++ {
		out, err := e.Poll(context.Background())
		require.NoError(t, err)
		assert.False(t, out.Rebooted)
	}
	assert.Equal(t, 0, reboots)

	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Rebooted)
	assert.Equal(t, 1, reboots)
	assert.Equal(t, Reboot, e.State())
	assert.True(t, e.Rebooted())

	_, err = e.Poll(context.Background())
	assert.ErrorIs(t, err, ErrRebooted)
	assert.Equal(t, 1, reboots)

	_, err = e.QueueSingleRead("VOLT()")
	assert.ErrorIs(t, err, ErrRebooted)
}

func TestFailedRebootResumesPolling(t *testing.T) {
	m := newFakeMeter()
	m.silent["VOLT()"] = true
	var reboots int
	rb := reboot.Func(func(context.Context) error { reboots++; return errors.New("not permitted") })
	e, _ := newEngine(t, Config{RebootAfterFailure: 2}, m,
		newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}), WithRebooter(rb))

	for i := 0; i < 2; i++ {
		out, err := e.Poll(context.Background())
		require.NoError(t, err)
		assert.False(t, out.Rebooted)
	}
	assert.Equal(t, 1, reboots)
	assert.False(t, e.Rebooted())
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, 0, e.ConsecutiveFailures())
	assert.Equal(t, uint64(1), e.Stats().RebootFailures)

	m.silent["VOLT()"] = false
	m.values["VOLT()"] = "VOLT(230.1)"
	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestCancelledCycleIsNotAFailure(t *testing.T) {
	m := newFakeMeter()
	m.ident = "/EKT6CE102Mv01\r\n"
	m.values["VOLT()"] = "VOLT(230.1)"
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	e, rec := newEngine(t, Config{RebootAfterFailure: 1, SessionBaud: 19200}, m,
		newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}), WithSleep(cancelling))

	out, err := e.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.False(t, out.Rebooted)
	assert.Equal(t, 0, e.ConsecutiveFailures())
	assert.Equal(t, uint64(0), e.Stats().FailedCycles)
	assert.Equal(t, Idle, e.State())
	assert.Empty(t, rec.Readings())
}

func TestRebootDisabled(t *testing.T) {
	m := newFakeMeter()
	m.silent["VOLT()"] = true
	var reboots int
	rb := reboot.Func(func(context.Context) error { reboots++; return nil })
	e, _ := newEngine(t, Config{}, m,
		newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}), WithRebooter(rb))

	for i := 0; i < 5; i++ {
		_, err := e.Poll(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 0, reboots)
	assert.Equal(t, 5, e.ConsecutiveFailures())
	assert.False(t, e.Rebooted())
}

func TestOverlappingPollIsSkipped(t *testing.T) {
	m := newFakeMeter()
	e, _ := newEngine(t, Config{}, m, newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}))

	e.running.Store(true)
	_, err := e.Poll(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, m.writes)
	assert.Equal(t, uint64(1), e.Stats().SkippedPolls)
}

func TestSharedBusIsSerialized(t *testing.T) {
	m := newFakeMeter()
	m.values["VOLT()"] = "VOLT(230.1)"
	bus := NewBusLock()
	e, _ := newEngine(t, Config{BusKey: "/dev/ttyUSB0"}, m,
		newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}), WithBusLock(bus))

	require.True(t, bus.TryLock("/dev/ttyUSB0"))
	_, err := e.Poll(context.Background())
	assert.ErrorIs(t, err, ErrBusBusy)
	assert.Empty(t, m.writes)

	bus.Unlock("/dev/ttyUSB0")
	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.True(t, bus.TryLock("/dev/ttyUSB0"), "bus released after poll")
}

func TestBaudSwitchAndRequestSpacing(t *testing.T) {
	m := newFakeMeter()
	m.ident = "/EKT6CE102Mv01\r\n"
	m.values["VOLT()"] = "VOLT(230.1)"
	m.values["CURRE()"] = "CURRE(1.25)"
	reg := newRegistry(t,
		sensorDef{"voltage", "VOLT()", 1, 0},
		sensorDef{"current", "CURRE()", 1, 0},
	)

	var mu sync.Mutex
	var sleeps []time.Duration
	record := WithSleep(func(_ context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return nil
	})
	e, _ := newEngine(t, Config{SessionBaud: 19200, DelayBetweenRequests: 80 * time.Millisecond}, m, reg, record)

	out, err := e.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, out.OK, "cycle failed: %v", out.Err)

	assert.Equal(t, []time.Duration{baudSwitchLeadTime, baudSwitchSettleTime, 80 * time.Millisecond}, sleeps)
	assert.Equal(t, []int{9600, 19200, 9600}, m.bauds)
	assert.Equal(t, []byte{iec.ACK, '0', '6', '1', iec.CR, iec.LF}, m.writes[1])
}

func TestSingleReadReturnsRecord(t *testing.T) {
	m := newFakeMeter()
	m.values["VOLT()"] = "VOLT(230.1)"
	e, _ := newEngine(t, Config{Address: "009218054"}, m, newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}))

	reply, err := e.QueueSingleRead("VOLT")
	require.NoError(t, err)
	require.NoError(t, e.ServeSingleReads(context.Background()))

	res := <-reply
	require.NoError(t, res.Err)
	v, err := res.Record.Field(1, 0)
	require.NoError(t, err)
	assert.Equal(t, "230.1", v)
	assert.True(t, strings.HasPrefix(string(m.writes[0]), "/?009218054!"))
}

func TestSingleReadAcknowledged(t *testing.T) {
	m := newFakeMeter()
	m.values["RESET()"] = "ACK"
	e, _ := newEngine(t, Config{}, m, newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}))

	reply, err := e.QueueSingleRead("RESET()")
	require.NoError(t, err)
	require.NoError(t, e.ServeSingleReads(context.Background()))

	res := <-reply
	require.NoError(t, res.Err)
	assert.True(t, res.Accepted)
}

func TestSingleReadRejectsInvalidRequest(t *testing.T) {
	e, _ := newEngine(t, Config{}, newFakeMeter(), newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}))
	_, err := e.QueueSingleRead("1BAD()")
	assert.True(t, errors.Is(err, registry.ErrInvalidRequest))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	reg := newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0})
	_, err := New(Config{SessionBaud: 115200}, newFakeMeter(), reg)
	assert.Error(t, err)
	_, err = New(Config{Address: strings.Repeat("1", 16)}, newFakeMeter(), reg)
	assert.Error(t, err)
	_, err = New(Config{RebootAfterFailure: 101}, newFakeMeter(), reg)
	assert.Error(t, err)
}

func TestRunPollsOnInterval(t *testing.T) {
	m := newFakeMeter()
	m.values["VOLT()"] = "VOLT(230.1)"
	e, err := New(Config{Meter: "ce102", UpdateInterval: 10 * time.Millisecond, DelayBetweenRequests: time.Millisecond},
		m, newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}), WithSink(&dispatcher.Recorder{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Stats().SuccessfulCycles >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunStopsAfterReboot(t *testing.T) {
	m := newFakeMeter()
	m.silent["VOLT()"] = true
	e, err := New(Config{Meter: "ce102", UpdateInterval: 5 * time.Millisecond, RebootAfterFailure: 2},
		m, newRegistry(t, sensorDef{"voltage", "VOLT()", 1, 0}), WithRebooter(reboot.Func(func(context.Context) error { return nil })))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))
	assert.True(t, e.Rebooted())
}

package session

import "time"

// Metrics receives engine events for export.
type Metrics interface {
	CycleFinished(meter string, ok bool, d time.Duration)
	FrameError(meter, kind string)
	ConsecutiveFailures(meter string, n int)
	SessionActive(meter string, active bool)
	Published(meter string, ok, failed int)
}

type noopMetrics struct{}

func (noopMetrics) CycleFinished(string, bool, time.Duration) {}
func (noopMetrics) FrameError(string, string)                 {}
func (noopMetrics) ConsecutiveFailures(string, int)           {}
func (noopMetrics) SessionActive(string, bool)                {}
func (noopMetrics) Published(string, int, int)                {}

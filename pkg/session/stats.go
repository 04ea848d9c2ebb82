package session

import "time"

// Stats accumulate over the engine's lifetime.
type Stats struct {
	Meter               string        `json:"meter"`
	State               string        `json:"state"`
	MeterIdentity       string        `json:"meter_identity,omitempty"`
	SessionsTried       uint64        `json:"sessions_tried"`
	SuccessfulCycles    uint64        `json:"successful_cycles"`
	FailedCycles        uint64        `json:"failed_cycles"`
	SkippedPolls        uint64        `json:"skipped_polls"`
	CRCErrors           uint64        `json:"crc_errors"`
	InvalidFrames       uint64        `json:"invalid_frames"`
	Timeouts            uint64        `json:"timeouts"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastCycleID         string        `json:"last_cycle_id,omitempty"`
	LastCycleDuration   time.Duration `json:"last_cycle_duration"`
	LastSuccess         time.Time     `json:"last_success,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	RebootFailures      uint64        `json:"reboot_failures"`
	Rebooted            bool          `json:"rebooted"`
}

func (s Stats) CRCErrorsPerSession() float64 {
	if s.SessionsTried == 0 {
		return 0
	}
	return float64(s.CRCErrors) / float64(s.SessionsTried)
}

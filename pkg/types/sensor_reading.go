package types

import (
	"encoding/json"
	"time"
)

type ReadingKind string

const (
	KindNumeric ReadingKind = "sensor"
	KindText    ReadingKind = "text"
)

// SensorReading is one value published for a sensor endpoint.
type SensorReading struct {
	Timestamp time.Time   `json:"timestamp"`
	Meter     string      `json:"meter"`
	Sensor    string      `json:"sensor"`
	Kind      ReadingKind `json:"kind"`
	Request   string      `json:"request"`
	Unit      string      `json:"unit,omitempty"`
	CycleID   string      `json:"cycle_id,omitempty"`

	// Value is set for numeric sensors, Text always carries the raw field.
	Value *float64 `json:"value,omitempty"`
	Text  string   `json:"text"`
}

// IndicatorState reports whether a session with the meter is active.
type IndicatorState struct {
	Timestamp time.Time `json:"timestamp"`
	Meter     string    `json:"meter"`
	Active    bool      `json:"active"`
}

const (
	MessageReading   = "reading"
	MessageIndicator = "indicator"
)

// Message is the envelope broadcast to websocket listeners.
type Message struct {
	Type      string          `json:"type"`
	Reading   *SensorReading  `json:"reading,omitempty"`
	Indicator *IndicatorState `json:"indicator,omitempty"`
}

func (m *Message) ToJsonBytes() []byte {
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// MessageFromJsonBytes returns nil when the payload is not a message.
func MessageFromJsonBytes(b []byte) *Message {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil || m.Type == "" {
		return nil
	}
	return &m
}

func NewReadingMessage(r SensorReading) *Message {
	return &Message{Type: MessageReading, Reading: &r}
}

func NewIndicatorMessage(s IndicatorState) *Message {
	return &Message{Type: MessageIndicator, Indicator: &s}
}

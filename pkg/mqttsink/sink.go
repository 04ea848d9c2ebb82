// Package mqttsink publishes sensor values and the session indicator to
// an MQTT broker.
package mqttsink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/config"
	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// TokenWaitTime bounds connect and publish acknowledgements.
var TokenWaitTime = 10 * time.Second

var ErrTokenTimeout = errors.New("mqttsink: broker did not acknowledge in time")

const (
	payloadOn  = "ON"
	payloadOff = "OFF"
)

type publishFunc func(topic string, qos byte, retained bool, payload []byte) error

type Sink struct {
	prefix  string
	qos     byte
	retain  bool
	publish publishFunc
	client  MQTT.Client
}

// Connect dials the broker and returns a sink publishing below the
// configured topic prefix.
func Connect(cfg config.MQTTConfig) (*Sink, error) {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	opts := MQTT.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetWill(prefix+"/status", "offline", cfg.QoS, true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := MQTT.NewClient(opts)
	if err := wait(client.Connect()); err != nil {
		return nil, fmt.Errorf("mqttsink: connect %s: %w", cfg.Broker, err)
	}
	log.Info().Str("broker", cfg.Broker).Str("prefix", prefix).Msg("Connected to MQTT broker")

	s := newSink(prefix, cfg.QoS, cfg.Retain, func(topic string, qos byte, retained bool, payload []byte) error {
		return wait(client.Publish(topic, qos, retained, payload))
	})
	s.client = client
	if err := s.publish(prefix+"/status", cfg.QoS, true, []byte("online")); err != nil {
		log.Warn().Err(err).Msg("Failed to publish MQTT status")
	}
	return s, nil
}

func newSink(prefix string, qos byte, retain bool, publish publishFunc) *Sink {
	return &Sink{prefix: prefix, qos: qos, retain: retain, publish: publish}
}

func wait(token MQTT.Token) error {
	if !token.WaitTimeout(TokenWaitTime) {
		return ErrTokenTimeout
	}
	return token.Error()
}

func (s *Sink) Topic(meter, name string) string {
	return s.prefix + "/" + meter + "/" + name
}

func (s *Sink) PublishNumeric(_ context.Context, r types.SensorReading) error {
	if r.Value == nil {
		return fmt.Errorf("mqttsink: sensor %q has no numeric value", r.Sensor)
	}
	payload := strconv.FormatFloat(*r.Value, 'f', -1, 64)
	return s.publish(s.Topic(r.Meter, r.Sensor), s.qos, s.retain, []byte(payload))
}

func (s *Sink) PublishText(_ context.Context, r types.SensorReading) error {
	return s.publish(s.Topic(r.Meter, r.Sensor), s.qos, s.retain, []byte(r.Text))
}

func (s *Sink) SetIndicator(_ context.Context, st types.IndicatorState) error {
	payload := payloadOff
	if st.Active {
		payload = payloadOn
	}
	return s.publish(s.Topic(st.Meter, "indicator"), s.qos, s.retain, []byte(payload))
}

// Close marks the reader offline and disconnects.
func (s *Sink) Close() {
	if s.client == nil {
		return
	}
	if err := s.publish(s.prefix+"/status", s.qos, true, []byte("offline")); err != nil {
		log.Debug().Err(err).Msg("Failed to publish MQTT status")
	}
	s.client.Disconnect(250)
}

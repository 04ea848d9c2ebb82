package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/iec_meter_reader/pkg/iec"
	"github.com/NotCoffee418/iec_meter_reader/pkg/pathing"
	"github.com/NotCoffee418/iec_meter_reader/pkg/registry"
	"github.com/NotCoffee418/iec_meter_reader/pkg/session"
	"github.com/NotCoffee418/iec_meter_reader/pkg/transport"
)

const (
	ReaderConfigFile    = "reader.toml"
	CollectorConfigFile = "collector.toml"

	maxAddressLength  = 15
	maxRebootFailures = 100
)

var (
	ActiveReaderConfig    *ReaderConfig
	ActiveCollectorConfig *CollectorConfig
)

func DefaultReaderConfig() *ReaderConfig {
	return &ReaderConfig{
		ListenAddress: "0.0.0.0",
		ListenPort:    9039,
		BootDelay:     Dur(10 * time.Second),
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "iec_meter_reader",
			TopicPrefix: "iec_meter",
		},
		Database: DatabaseConfig{Path: pathing.GetMeterDbPath()},
		Meters: []MeterConfig{{
			Name:                 "ce102",
			Device:               "/dev/ttyUSB0",
			HandshakeBaud:        9600,
			SessionBaud:          9600,
			ReceiveTimeout:       Dur(500 * time.Millisecond),
			DelayBetweenRequests: Dur(50 * time.Millisecond),
			UpdateInterval:       Dur(30 * time.Second),
			Sensors: []SensorConfig{
				{Name: "voltage", Request: "VOLTA()", Type: SensorTypeNumeric, Unit: "V"},
				{Name: "current", Request: "CURRE()", Type: SensorTypeNumeric, Unit: "A"},
				{Name: "power", Request: "POWEP()", Type: SensorTypeNumeric, Unit: "kW"},
				{Name: "frequency", Request: "FREQU()", Type: SensorTypeNumeric, Unit: "Hz"},
				{Name: "energy_total", Request: "ET0PE()", Index: 1, Type: SensorTypeNumeric, Unit: "kWh"},
				{Name: "energy_t1", Request: "ET0PE()", Index: 2, Type: SensorTypeNumeric, Unit: "kWh"},
				{Name: "meter_date", Request: "DATE_()", Type: SensorTypeText},
			},
		}},
	}
}

func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		ReaderHost:   "localhost:9039",
		TLSEnabled:   false,
		DatabasePath: pathing.GetMeterDbPath(),
		Retention:    Dur(90 * 24 * time.Hour),
	}
}

// LoadReaderConfig loads reader.toml from the config dir into
// ActiveReaderConfig, writing the default file when it does not exist.
func LoadReaderConfig() error {
	cfg, err := LoadReaderConfigFile(filepath.Join(pathing.GetConfigDir(), ReaderConfigFile))
	if err != nil {
		return err
	}
	ActiveReaderConfig = cfg
	return nil
}

func LoadReaderConfigFile(path string) (*ReaderConfig, error) {
	cfg := DefaultReaderConfig()
	if err := loadOrCreate(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func LoadCollectorConfig() error {
	cfg, err := LoadCollectorConfigFile(filepath.Join(pathing.GetConfigDir(), CollectorConfigFile))
	if err != nil {
		return err
	}
	ActiveCollectorConfig = cfg
	return nil
}

func LoadCollectorConfigFile(path string) (*CollectorConfig, error) {
	cfg := DefaultCollectorConfig()
	if err := loadOrCreate(path, cfg); err != nil {
		return nil, err
	}
	if cfg.ReaderHost == "" {
		return nil, fmt.Errorf("%s: reader_host not set", path)
	}
	return cfg, nil
}

// loadOrCreate decodes path into cfg, or writes cfg as the new file.
func loadOrCreate(path string, cfg any) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfgFile, err := os.Create(path)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		return toml.NewEncoder(cfgFile).Encode(cfg)
	}

	// A file replaces the default meters instead of appending to them.
	if rc, ok := cfg.(*ReaderConfig); ok {
		rc.Meters = nil
	}
	_, err := toml.DecodeFile(path, cfg)
	return err
}

func (c *ReaderConfig) applyDefaults() {
	for i := range c.Meters {
		m := &c.Meters[i]
		if m.HandshakeBaud == 0 {
			m.HandshakeBaud = 9600
		}
		if m.SessionBaud == 0 {
			m.SessionBaud = m.HandshakeBaud
		}
		if m.DataBits == 0 {
			m.DataBits = 7
		}
		if m.Parity == "" {
			m.Parity = "even"
		}
		if m.StopBits == 0 {
			m.StopBits = 1
		}
		if m.ReceiveTimeout.Duration == 0 {
			m.ReceiveTimeout = Dur(500 * time.Millisecond)
		}
		if m.DelayBetweenRequests.Duration == 0 {
			m.DelayBetweenRequests = Dur(50 * time.Millisecond)
		}
		if m.UpdateInterval.Duration == 0 {
			m.UpdateInterval = Dur(30 * time.Second)
		}
		if m.Checksum == "" {
			m.Checksum = iec.Sum7.Name()
		}
		for j := range m.Sensors {
			s := &m.Sensors[j]
			if s.Index == 0 {
				s.Index = 1
			}
			if s.Type == "" {
				s.Type = SensorTypeNumeric
			}
		}
	}
}

// Validate reports every problem found, not only the first.
func (c *ReaderConfig) Validate() error {
	var errs []error
	if len(c.Meters) == 0 {
		errs = append(errs, errors.New("no [[meter]] configured"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt: broker not set"))
	}
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, errors.New("database: path not set"))
	}
	names := make(map[string]bool)
	for _, m := range c.Meters {
		if names[m.Name] {
			errs = append(errs, fmt.Errorf("meter %q: duplicate name", m.Name))
		}
		names[m.Name] = true
		if err := m.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MeterConfig) Validate() error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, errors.New("name not set"))
	}
	if len(m.Address) > maxAddressLength {
		errs = append(errs, fmt.Errorf("address %q longer than %d characters", m.Address, maxAddressLength))
	}
	if !iec.IsSupportedBaud(m.HandshakeBaud) {
		errs = append(errs, fmt.Errorf("handshake_baud %d not one of %v", m.HandshakeBaud, iec.BaudRates))
	}
	if !iec.IsSupportedBaud(m.SessionBaud) {
		errs = append(errs, fmt.Errorf("session_baud %d not one of %v", m.SessionBaud, iec.BaudRates))
	}
	if m.RebootAfterFailure < 0 || m.RebootAfterFailure > maxRebootFailures {
		errs = append(errs, fmt.Errorf("reboot_after_failure %d not in 0..%d", m.RebootAfterFailure, maxRebootFailures))
	}
	if _, err := iec.ChecksumByName(m.Checksum); err != nil {
		errs = append(errs, err)
	}
	if err := m.TransportOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(m.Sensors) == 0 {
		errs = append(errs, errors.New("no [[meter.sensor]] configured"))
	}
	if _, err := m.Registry(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("meter %q: %w", m.Name, err)
	}
	return nil
}

func (m MeterConfig) TransportOptions() transport.Options {
	return transport.Options{
		Device:      m.Device,
		Driver:      m.Driver,
		BaudRate:    m.HandshakeBaud,
		DataBits:    m.DataBits,
		Parity:      m.Parity,
		StopBits:    m.StopBits,
		FlowControl: m.FlowControl,
	}
}

// SessionConfig maps the meter block onto the engine parameters. Meters
// sharing a device share the bus key.
func (m MeterConfig) SessionConfig(bootDelay time.Duration) session.Config {
	return session.Config{
		Meter:                m.Name,
		Address:              m.Address,
		HandshakeBaud:        m.HandshakeBaud,
		SessionBaud:          m.SessionBaud,
		ReceiveTimeout:       m.ReceiveTimeout.Duration,
		DelayBetweenRequests: m.DelayBetweenRequests.Duration,
		UpdateInterval:       m.UpdateInterval.Duration,
		BootDelay:            bootDelay,
		RebootAfterFailure:   m.RebootAfterFailure,
		BusKey:               m.Device,
	}
}

func (m MeterConfig) Codec() (*iec.Codec, error) {
	cs, err := iec.ChecksumByName(m.Checksum)
	if err != nil {
		return nil, err
	}
	return iec.NewCodec(cs), nil
}

// Registry builds the request registry from the sensor blocks.
func (m MeterConfig) Registry() (*registry.Registry, error) {
	b := registry.NewBuilder()
	var errs []error
	for _, s := range m.Sensors {
		kind, err := sensorKind(s.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("sensor %q: %w", s.Name, err))
			continue
		}
		index := s.Index
		if index == 0 {
			index = 1
		}
		ep := registry.Endpoint{Meter: m.Name, Name: s.Name, Kind: kind, Unit: s.Unit}
		if err := b.Register(ep, s.Request, registry.FieldSelector{Index: index, SubIndex: s.SubIndex}); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func sensorKind(t string) (registry.Kind, error) {
	switch t {
	case "", SensorTypeNumeric:
		return registry.Numeric, nil
	case SensorTypeText:
		return registry.Text, nil
	default:
		return 0, fmt.Errorf("unknown sensor type %q, expected %q or %q", t, SensorTypeNumeric, SensorTypeText)
	}
}

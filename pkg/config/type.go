package config

import "time"

// Duration reads "500ms" style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func Dur(d time.Duration) Duration { return Duration{d} }

const (
	SensorTypeNumeric = "sensor"
	SensorTypeText    = "text_sensor"
)

type ReaderConfig struct {
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`
	// Runs after reboot_after_failure failed cycles, e.g. "systemctl reboot".
	// Empty only logs.
	RebootCommand string         `toml:"reboot_command"`
	BootDelay     Duration       `toml:"boot_delay"`
	MQTT          MQTTConfig     `toml:"mqtt"`
	Database      DatabaseConfig `toml:"database"`
	Meters        []MeterConfig  `toml:"meter"`
}

type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         byte   `toml:"qos"`
	Retain      bool   `toml:"retain"`
}

// DatabaseConfig lets the reader store readings itself instead of
// leaving that to meter_collector.
type DatabaseConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type MeterConfig struct {
	Name    string `toml:"name"`
	Address string `toml:"address"`
	Device  string `toml:"device"`
	// Serial driver, "bugst" (default) or "jacobsa".
	Driver string `toml:"driver"`
	// Direction control: "", "rts", "dtr" or "rs485".
	FlowControl string `toml:"flow_control"`
	// Line settings, 7E1 unless overridden.
	DataBits             int            `toml:"data_bits,omitempty"`
	Parity               string         `toml:"parity,omitempty"`
	StopBits             int            `toml:"stop_bits,omitempty"`
	Checksum             string         `toml:"checksum"`
	HandshakeBaud        int            `toml:"handshake_baud"`
	SessionBaud          int            `toml:"session_baud"`
	ReceiveTimeout       Duration       `toml:"receive_timeout"`
	DelayBetweenRequests Duration       `toml:"delay_between_requests"`
	UpdateInterval       Duration       `toml:"update_interval"`
	RebootAfterFailure   int            `toml:"reboot_after_failure"`
	Sensors              []SensorConfig `toml:"sensor"`
}

type SensorConfig struct {
	Name     string `toml:"name"`
	Request  string `toml:"request"`
	Index    int    `toml:"index"`
	SubIndex int    `toml:"sub_index"`
	Type     string `toml:"type"`
	Unit     string `toml:"unit"`
}

type CollectorConfig struct {
	ReaderHost   string `toml:"reader_host"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	DatabasePath string `toml:"database_path"`
	// Raw readings older than this are removed once aggregated.
	Retention Duration `toml:"retention"`
}

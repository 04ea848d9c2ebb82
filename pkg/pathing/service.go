package pathing

import (
	"os"
	"path/filepath"
)

const (
	EnvConfigDir = "IEC_METER_CONFIG_DIR"
	EnvDataDir   = "IEC_METER_DATA_DIR"
)

// EnsureDirs creates the config and data directories when missing.
func EnsureDirs() error {
	for _, dir := range []string{GetConfigDir(), GetDataDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func GetMeterDbPath() string {
	return filepath.Join(GetDataDir(), "iec-meter.db")
}

func GetDataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	return "/var/lib/iec_meter_reader"
}

func GetConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	return "/etc/iec_meter_reader"
}

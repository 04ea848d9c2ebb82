// meter_reader polls IEC 61107 meters over serial lines and publishes the
// values over HTTP/websocket, MQTT and optionally SQLite.
package main

import (
	"os"

	"github.com/NotCoffee418/iec_meter_reader/pkg/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	observability.InitLogger("meter_reader")
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("meter_reader failed")
		os.Exit(1)
	}
}

// Package broadcast keeps the latest readings in memory and pushes every
// new value to websocket clients.
package broadcast

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, clients are on the LAN
	},
}

// Hub is a dispatcher sink.
type Hub struct {
	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool
	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex

	latestMu   sync.RWMutex
	latest     map[string]types.SensorReading
	indicators map[string]types.IndicatorState
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		latest:     make(map[string]types.SensorReading),
		indicators: make(map[string]types.IndicatorState),
	}
}

func (h *Hub) PublishNumeric(_ context.Context, r types.SensorReading) error {
	h.store(r)
	h.broadcast(types.NewReadingMessage(r))
	return nil
}

func (h *Hub) PublishText(_ context.Context, r types.SensorReading) error {
	h.store(r)
	h.broadcast(types.NewReadingMessage(r))
	return nil
}

func (h *Hub) SetIndicator(_ context.Context, s types.IndicatorState) error {
	h.latestMu.Lock()
	h.indicators[s.Meter] = s
	h.latestMu.Unlock()
	h.broadcast(types.NewIndicatorMessage(s))
	return nil
}

func (h *Hub) store(r types.SensorReading) {
	h.latestMu.Lock()
	h.latest[r.Meter+"/"+r.Sensor] = r
	h.latestMu.Unlock()
}

// Latest returns the last value of every sensor, ordered by meter and
// sensor name.
func (h *Hub) Latest() []types.SensorReading {
	h.latestMu.RLock()
	out := make([]types.SensorReading, 0, len(h.latest))
	for _, r := range h.latest {
		out = append(out, r)
	}
	h.latestMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Meter != out[j].Meter {
			return out[i].Meter < out[j].Meter
		}
		return out[i].Sensor < out[j].Sensor
	})
	return out
}

func (h *Hub) Indicators() map[string]types.IndicatorState {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	out := make(map[string]types.IndicatorState, len(h.indicators))
	for k, v := range h.indicators {
		out[k] = v
	}
	return out
}

func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg *types.Message) {
	payload := msg.ToJsonBytes()

	h.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMu.RUnlock()

	for _, client := range clients {
		if err := h.write(client, payload); err != nil {
			log.Debug().Err(err).Str("remote", client.RemoteAddr().String()).Msg("Dropping websocket client")
			h.removeClient(client)
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, payload []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *Hub) addClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	h.clients[conn] = true
	h.clientsMu.Unlock()
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	delete(h.clients, conn)
	h.clientsMu.Unlock()
	conn.Close()
}

// ServeWS upgrades the request, sends the current snapshot and keeps
// the client registered until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	for _, reading := range h.Latest() {
		if err := h.write(conn, types.NewReadingMessage(reading).ToJsonBytes()); err != nil {
			conn.Close()
			return
		}
	}
	h.addClient(conn)

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.removeClient(conn)
			return
		}
	}
}

package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/observability"
	"github.com/NotCoffee418/iec_meter_reader/pkg/registry"
	"github.com/NotCoffee418/iec_meter_reader/pkg/session"
)

const singleReadTimeout = 15 * time.Second

// Meter is the part of a session engine the HTTP API drives.
type Meter interface {
	Name() string
	Stats() session.Stats
	Poll(ctx context.Context) (session.Outcome, error)
	QueueSingleRead(raw string) (<-chan session.SingleReadResult, error)
}

type Server struct {
	hub    *Hub
	meters map[string]Meter
}

func NewServer(hub *Hub, meters ...Meter) *Server {
	s := &Server{hub: hub, meters: make(map[string]Meter, len(meters))}
	for _, m := range meters {
		s.meters[m.Name()] = m
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/latest", s.handleLatest)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/single", s.handleSingle)
	mux.HandleFunc("/poll", s.handlePoll)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	names := make([]string, 0, len(s.meters))
	for name := range s.meters {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "IEC Meter Reader API",
		"status":  "running",
		"meters":  names,
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	readings := s.hub.Latest()
	if meter := r.URL.Query().Get("meter"); meter != "" {
		filtered := readings[:0]
		for _, rd := range readings {
			if rd.Meter == meter {
				filtered = append(filtered, rd)
			}
		}
		readings = filtered
	}
	if len(readings) == 0 {
		writeError(w, http.StatusNotFound, "No readings available yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"readings":   readings,
		"indicators": s.hub.Indicators(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]session.Stats, 0, len(s.meters))
	for _, m := range s.meters {
		stats = append(stats, m.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Meter < stats[j].Meter })
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) meter(w http.ResponseWriter, r *http.Request) (Meter, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return nil, false
	}
	name := r.URL.Query().Get("meter")
	if name == "" && len(s.meters) == 1 {
		for _, m := range s.meters {
			return m, true
		}
	}
	m, ok := s.meters[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown meter "+name)
		return nil, false
	}
	return m, true
}

func (s *Server) handleSingle(w http.ResponseWriter, r *http.Request) {
	m, ok := s.meter(w, r)
	if !ok {
		return
	}
	reply, err := m.QueueSingleRead(r.URL.Query().Get("request"))
	switch {
	case errors.Is(err, registry.ErrInvalidRequest), errors.Is(err, registry.ErrRequestTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, session.ErrQueueFull), errors.Is(err, session.ErrRebooted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), singleReadTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		writeError(w, http.StatusGatewayTimeout, "single read not served in time")
	case res := <-reply:
		if res.Err != nil {
			writeError(w, http.StatusBadGateway, res.Err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"meter":    m.Name(),
			"request":  res.Request,
			"accepted": res.Accepted,
			"data":     res.Record.Raw,
			"fields":   res.Record.Fields,
		})
	}
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	m, ok := s.meter(w, r)
	if !ok {
		return
	}
	out, err := m.Poll(r.Context())
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrBusBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, session.ErrRebooted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"outcome": out}
	if out.Err != nil {
		resp["error"] = out.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

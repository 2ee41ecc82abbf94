package roomserver

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	activeConns  atomic.Int64
	joins        atomic.Uint64
	messages     atomic.Uint64
	rateLimited  atomic.Uint64
	dropped      atomic.Uint64
	roomsCreated atomic.Uint64
	liveRooms    func() int
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncJoin() {
	m.joins.Add(1)
}

func (m *Metrics) IncMessage() {
	m.messages.Add(1)
}

func (m *Metrics) IncRateLimited() {
	m.rateLimited.Add(1)
}

func (m *Metrics) IncDropped() {
	m.dropped.Add(1)
}

func (m *Metrics) IncRoomCreated() {
	m.roomsCreated.Add(1)
}

// Snapshot returns the counters keyed as served on /metrics.
func (m *Metrics) Snapshot() map[string]any {
	payload := map[string]any{
		"active_connections":  m.activeConns.Load(),
		"joins_total":         m.joins.Load(),
		"messages_total":      m.messages.Load(),
		"rate_limited_total":  m.rateLimited.Load(),
		"dropped_frames":      m.dropped.Load(),
		"rooms_created_total": m.roomsCreated.Load(),
	}
	if m.liveRooms != nil {
		payload["live_rooms"] = m.liveRooms()
	}
	return payload
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}

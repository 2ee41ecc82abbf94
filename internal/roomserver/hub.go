package roomserver

import "sync"

// Hub holds every live room by id.
type Hub struct {
	mutex   sync.RWMutex
	rooms   map[string]*Room
	metrics *Metrics
	limiter *RateLimiter
}

func NewHub(metrics *Metrics, limiter *RateLimiter) *Hub {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Hub{rooms: make(map[string]*Room), metrics: metrics, limiter: limiter}
}

// Exists reports whether a room currently has connected clients.
func (hub *Hub) Exists(key string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.rooms[key]
	return ok
}

// Occupancy returns the number of distinct joined users in a live room.
func (hub *Hub) Occupancy(key string) int {
	hub.mutex.RLock()
	room := hub.rooms[key]
	hub.mutex.RUnlock()
	if room == nil {
		return 0
	}
	return room.occupancy()
}

// Len returns the number of live rooms.
func (hub *Hub) Len() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.rooms)
}

// attach adds client to the live room for key, starting the room if needed.
// Both happen under the hub lock so an emptied room cannot be torn down in
// between.
func (hub *Hub) attach(key string, client *Client) *Room {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	room, exists := hub.rooms[key]
	if !exists {
		room = newRoom(key, hub.metrics, hub.limiter)
		room.onEmpty = func() { hub.deleteRoomIfEmpty(key) }
		hub.rooms[key] = room
		go room.run()
	}
	client.room = room
	room.add(client)
	return room
}

func (hub *Hub) deleteRoomIfEmpty(key string) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[key]; exists {
		if room.size() == 0 {
			room.stop()
			delete(hub.rooms, key)
		}
	}
}

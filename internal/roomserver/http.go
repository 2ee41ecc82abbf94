package roomserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"studyroom/internal/storage"
)

type roomDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Online  int    `json:"online"`
}

type roomsResponse struct {
	Rooms []roomDTO `json:"rooms"`
}

type createRoomRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
}

func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListRooms(w, r)
	case http.MethodPost:
		s.handleCreateRoom(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if _, err := s.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	rooms, err := s.store.ListRooms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]roomDTO, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, s.toDTO(room))
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: out})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if !s.createLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	createdBy, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	room, err := s.store.CreateRoom(r.Context(), storage.Room{
		ID:        id,
		Name:      strings.TrimSpace(req.Name),
		Subject:   strings.TrimSpace(req.Subject),
		CreatedBy: createdBy,
	})
	if err != nil {
		if errors.Is(err, storage.ErrRoomExists) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncRoomCreated()
	writeJSON(w, http.StatusCreated, s.toDTO(*room))
}

// HandleRoom serves GET /rooms/{id}.
func (s *Server) HandleRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !s.requireStore(w) {
		return
	}
	if _, err := s.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/rooms/"))
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	room, err := s.store.GetRoom(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if room == nil {
		writeError(w, http.StatusNotFound, errors.New("room not found"))
		return
	}
	writeJSON(w, http.StatusOK, s.toDTO(*room))
}

// HandleRoomExists reports whether a room is live, for lightweight probes.
func (s *Server) HandleRoomExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("room"))
	if key == "" {
		writeError(w, http.StatusBadRequest, errors.New("room query param required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exists": s.hub.Exists(key),
		"online": s.hub.Occupancy(key),
	})
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("room directory disabled"))
		return false
	}
	return true
}

func (s *Server) toDTO(room storage.Room) roomDTO {
	return roomDTO{
		ID:      room.ID,
		Name:    room.Name,
		Subject: room.Subject,
		Online:  s.hub.Occupancy(room.ID),
	}
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

// Package roomserver is the reference room server: websocket rooms that
// broadcast joined, left, roster and message events, plus a small room
// directory over HTTP.
package roomserver

import (
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"studyroom/internal/identity"
	"studyroom/internal/storage"
)

var errUnauthorized = errors.New("unauthorized")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Config tunes a Server. A nil Store disables the directory endpoints; an
// empty Secret accepts unauthenticated joins.
type Config struct {
	Store         *storage.Store
	Secret        []byte
	MessageLimit  int
	MessageWindow time.Duration
	CreateLimit   int
	CreateWindow  time.Duration
}

type Server struct {
	hub           *Hub
	store         *storage.Store
	metrics       *Metrics
	secret        []byte
	createLimiter *RateLimiter
}

func NewServer(cfg Config) *Server {
	if cfg.MessageLimit == 0 {
		cfg.MessageLimit = 5
	}
	if cfg.MessageWindow <= 0 {
		cfg.MessageWindow = 3 * time.Second
	}
	if cfg.CreateLimit == 0 {
		cfg.CreateLimit = 10
	}
	if cfg.CreateWindow <= 0 {
		cfg.CreateWindow = time.Minute
	}
	metrics := NewMetrics()
	hub := NewHub(metrics, NewRateLimiter(cfg.MessageLimit, cfg.MessageWindow))
	metrics.liveRooms = hub.Len
	return &Server{
		hub:           hub,
		store:         cfg.Store,
		metrics:       metrics,
		secret:        cfg.Secret,
		createLimiter: NewRateLimiter(cfg.CreateLimit, cfg.CreateWindow),
	}
}

// Register mounts the websocket endpoint at wsPath and the HTTP API.
func (s *Server) Register(mux *http.ServeMux, wsPath string) {
	mux.HandleFunc(wsPath, s.ServeWS)
	mux.HandleFunc("/rooms", s.HandleRooms)
	mux.HandleFunc("/rooms/", s.HandleRoom)
	mux.HandleFunc("/exists", s.HandleRoomExists)
	mux.Handle("/metrics", s.metrics)
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ServeWS upgrades a join request. With a secret configured, the bearer
// token's subject becomes the user id for every join on the connection.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomKey := strings.TrimSpace(r.URL.Query().Get("room"))
	if roomKey == "" {
		http.Error(w, "missing room query param", http.StatusBadRequest)
		return
	}
	verifiedID, err := s.authenticate(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if s.store != nil {
		if _, err := s.store.EnsureRoom(r.Context(), roomKey, verifiedID); err != nil {
			log.Printf("ensure room %s: %v", roomKey, err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}
	websocketConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	client := newClient(websocketConn, verifiedID, s.clientIP(r), s.metrics)
	s.hub.attach(roomKey, client)
	s.metrics.IncConn()

	go client.writePump()
	go client.readPump(roomKey)
}

// authenticate returns the verified user id, or "" when no secret is set.
func (s *Server) authenticate(r *http.Request) (string, error) {
	if len(s.secret) == 0 {
		return "", nil
	}
	token := bearerToken(r)
	if token == "" {
		return "", errUnauthorized
	}
	claims, err := identity.ParseToken(token, s.secret)
	if err != nil {
		return "", errUnauthorized
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, _ := strings.Cut(forwarded, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

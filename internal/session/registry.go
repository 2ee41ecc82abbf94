package session

import "sync"

type registryKey struct {
	roomID string
	userID string
}

// Registry enforces at most one live session per room and viewer.
type Registry struct {
	mu     sync.Mutex
	active map[registryKey]*Session
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[registryKey]*Session)}
}

// Open starts a session unless one is already live for the same room and
// user, in which case it returns ErrSessionActive.
func (r *Registry) Open(cfg Config) (*Session, error) {
	key := registryKey{roomID: cfg.Room.ID, userID: cfg.Identity.UserID}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.active[key]; ok {
		select {
		case <-existing.Done():
			delete(r.active, key)
		default:
			return nil, ErrSessionActive
		}
	}
	s, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	r.active[key] = s
	go r.release(key, s)
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.active {
		select {
		case <-s.Done():
		default:
			n++
		}
	}
	return n
}

func (r *Registry) release(key registryKey, s *Session) {
	<-s.Done()
	r.mu.Lock()
	if r.active[key] == s {
		delete(r.active, key)
	}
	r.mu.Unlock()
}

// Package session composes the connection, the roster and the message log
// of one room view into a Session, and publishes an immutable Projection of
// it on every change.
//
// Everything a Session owns is mutated on its own event loop. Public methods
// post work to that loop and return immediately; Close waits for teardown.
package session

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"studyroom/internal/channel"
	"studyroom/internal/conn"
	"studyroom/internal/eventloop"
	"studyroom/internal/identity"
	"studyroom/internal/membership"
	"studyroom/internal/protocol"
	"studyroom/internal/room"
)

type State int

const (
	StateInitializing State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var ErrSessionActive = errors.New("a session is already active for this room and viewer")

// Config describes one room view.
type Config struct {
	Room      room.Info
	Identity  identity.Identity
	Transport conn.Transport
	Retry     conn.RetryPolicy
	Logger    *log.Logger
}

// Projection is a point-in-time copy of the session for the presentation
// layer. Slices are never shared with the session.
type Projection struct {
	Room       room.Info
	SelfID     string
	State      State
	Connection conn.State
	// Exhausted is set once the retry budget ran out; Retry clears it.
	Exhausted bool
	Attempt   int
	RetryIn   time.Duration
	LastError string
	Roster    []room.Participant
	Messages  []room.Message
	Pending   int
	Version   uint64
}

type subscriber struct {
	id int
	fn func(Projection)
}

type Session struct {
	info   room.Info
	self   identity.Identity
	logger *log.Logger

	loop    *eventloop.Loop
	conn    *conn.Manager
	members *membership.Synchronizer
	channel *channel.Channel

	state         State
	online        bool
	everConnected bool
	exhausted     bool
	attempt       int
	retryIn       time.Duration
	lastErr       string
	version       uint64
	subscribers   []subscriber
	nextSub       int

	current   atomic.Pointer[Projection]
	closeOnce sync.Once
}

// Open builds the session and starts connecting. The caller must Close it on
// every exit path.
func Open(cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.Room.ID) == "" {
		return nil, errors.New("room id is required")
	}
	if strings.TrimSpace(cfg.Identity.UserID) == "" {
		return nil, identity.ErrMissingUserID
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Identity.DisplayName == "" {
		cfg.Identity.DisplayName = cfg.Identity.UserID
	}

	loop := eventloop.New(0)
	s := &Session{
		info:   cfg.Room,
		self:   cfg.Identity,
		logger: logger,
		loop:   loop,
		state:  StateInitializing,
	}
	s.conn = conn.NewManager(cfg.Transport, loop, cfg.Retry, logger)
	s.members = membership.NewSynchronizer(cfg.Room.ID, membership.Self{
		UserID:      cfg.Identity.UserID,
		DisplayName: cfg.Identity.DisplayName,
	}, s.conn)
	s.channel = channel.New(cfg.Room.ID, channel.Author{
		UserID:      cfg.Identity.UserID,
		DisplayName: cfg.Identity.DisplayName,
	}, s.conn)
	s.conn.Subscribe(s.handleConn)
	s.publish()

	go loop.Run()
	loop.Post(func() {
		s.state = StateActive
		s.conn.Open()
		s.publish()
	})
	return s, nil
}

// Room returns the metadata the session was opened with.
func (s *Session) Room() room.Info {
	return s.info
}

// Snapshot returns the latest projection. Safe from any goroutine.
func (s *Session) Snapshot() Projection {
	return *s.current.Load()
}

// Subscribe calls fn with the current projection and then after every
// change, on the session loop. fn must not block or call Close. The returned
// function unsubscribes.
func (s *Session) Subscribe(fn func(Projection)) func() {
	var id int
	registered := s.loop.Call(func() {
		if s.state == StateClosed {
			return
		}
		s.nextSub++
		id = s.nextSub
		s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
		fn(*s.current.Load())
	})
	if !registered || id == 0 {
		return func() {}
	}
	return func() {
		s.loop.Post(func() {
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Send posts a chat message. Blank bodies and calls after Close are ignored.
func (s *Session) Send(body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	s.loop.Post(func() {
		if s.state != StateActive {
			return
		}
		if _, err := s.channel.Send(body); err != nil {
			s.logger.Printf("room %s: message kept locally: %v", s.info.ID, err)
		}
		s.publish()
	})
}

// Retry reconnects immediately after a disconnect, resetting the retry budget.
func (s *Session) Retry() {
	s.loop.Post(func() {
		if s.state != StateActive {
			return
		}
		if s.conn.Retry() {
			s.exhausted = false
			s.retryIn = 0
			s.channel.AppendSystem("Retrying connection…")
			s.publish()
		}
	})
}

// Close sends leave, then releases the connection whether or not leave went
// out. It blocks until teardown finished. Later calls return nil.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.loop.Call(s.teardown)
		<-s.loop.Done()
	})
	return nil
}

// Done is closed once the session is fully closed.
func (s *Session) Done() <-chan struct{} {
	return s.loop.Done()
}

func (s *Session) teardown() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosing
	s.publish()
	if err := s.members.Leave(); err != nil {
		s.logger.Printf("room %s: leave not delivered: %v", s.info.ID, err)
	}
	s.conn.Close()
	s.online = false
	s.state = StateClosed
	s.publish()
	s.subscribers = nil
	s.loop.Stop()
}

func (s *Session) handleConn(event conn.Event) {
	if s.state != StateActive {
		return
	}
	switch event.Kind {
	case conn.EventConnected:
		s.online = true
		s.exhausted = false
		s.attempt = 0
		s.retryIn = 0
		s.lastErr = ""
		// the roster is not assumed to survive a disconnect
		s.members.Reset()
		if err := s.members.Join(); err != nil {
			s.logger.Printf("room %s: join not delivered: %v", s.info.ID, err)
		}
		if s.everConnected {
			s.channel.AppendSystem("Reconnected")
		} else {
			s.channel.AppendSystem(fmt.Sprintf("Connected to %s", s.info.Label()))
		}
		s.everConnected = true
		s.publish()
	case conn.EventDisconnected:
		wasOnline := s.online
		s.online = false
		s.attempt = event.Attempt
		s.retryIn = event.RetryIn
		if event.Reason != nil {
			s.lastErr = event.Reason.Error()
		}
		if wasOnline || event.Attempt <= 1 {
			note := "Connection lost"
			if !wasOnline {
				note = "Unable to connect"
			}
			if event.RetryIn > 0 {
				note = fmt.Sprintf("%s, retrying in %s", note, event.RetryIn.Round(time.Millisecond))
			}
			s.channel.AppendSystem(note)
		}
		s.publish()
	case conn.EventExhausted:
		s.exhausted = true
		s.retryIn = 0
		if event.Reason != nil {
			s.lastErr = event.Reason.Error()
		}
		s.channel.AppendSystem("Could not reach the room server. Use /retry to try again.")
		s.publish()
	case conn.EventMessage:
		if s.route(event.Payload) {
			s.publish()
		}
	}
}

// route applies one server event and reports whether anything changed.
// Malformed or foreign frames are dropped.
func (s *Session) route(raw []byte) bool {
	event, err := protocol.DecodeEvent(raw)
	if err != nil {
		s.logger.Printf("room %s: dropping frame: %v", s.info.ID, err)
		return false
	}
	switch ev := event.(type) {
	case protocol.Joined:
		if !s.sameRoom(ev.RoomID) {
			return false
		}
		p := membership.FromRecord(ev.Participant)
		if s.members.Joined(p) && !s.members.IsSelf(p.UserID) {
			s.channel.AppendSystem(p.Name() + " joined the room")
		}
		return true
	case protocol.Left:
		if !s.sameRoom(ev.RoomID) {
			return false
		}
		p, ok := s.members.Left(ev.UserID)
		if ok && !s.members.IsSelf(p.UserID) {
			s.channel.AppendSystem(p.Name() + " left the room")
		}
		return ok
	case protocol.Roster:
		if !s.sameRoom(ev.RoomID) {
			return false
		}
		s.members.Replace(membership.FromRecords(ev.Participants))
		return true
	case protocol.MessageRecord:
		if !s.sameRoom(ev.RoomID) {
			return false
		}
		_, outcome := s.channel.Receive(ev)
		return outcome != channel.OutcomeDuplicate
	}
	return false
}

func (s *Session) sameRoom(roomID string) bool {
	if roomID == "" || roomID == s.info.ID {
		return true
	}
	s.logger.Printf("room %s: dropping frame for room %s: %v", s.info.ID, roomID, protocol.ErrMismatch)
	return false
}

func (s *Session) publish() {
	s.version++
	p := &Projection{
		Room:       s.info,
		SelfID:     s.self.UserID,
		State:      s.state,
		Connection: s.conn.State(),
		Exhausted:  s.exhausted,
		Attempt:    s.attempt,
		RetryIn:    s.retryIn,
		LastError:  s.lastErr,
		Roster:     s.members.Participants(),
		Messages:   s.channel.Messages(),
		Pending:    s.channel.Pending(),
		Version:    s.version,
	}
	s.current.Store(p)
	for _, sub := range s.subscribers {
		sub.fn(*p)
	}
}

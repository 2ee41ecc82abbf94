// Package membership keeps the local roster of a room in line with the
// server's view: incremental joined/left hints, authoritative roster
// replacement, and the optimistic self entry.
package membership

import (
	"fmt"
	"time"

	"studyroom/internal/protocol"
	"studyroom/internal/room"
)

// Sender forwards encoded frames to the room connection.
type Sender interface {
	Send(frame []byte) error
}

// Self identifies the local viewer.
type Self struct {
	UserID      string
	DisplayName string
}

// Synchronizer owns the participant set of one room. It is not safe for
// concurrent use.
type Synchronizer struct {
	roomID  string
	self    Self
	sender  Sender
	now     func() time.Time
	members map[string]room.Participant
	order   []string
}

func NewSynchronizer(roomID string, self Self, sender Sender) *Synchronizer {
	return &Synchronizer{
		roomID:  roomID,
		self:    self,
		sender:  sender,
		now:     time.Now,
		members: make(map[string]room.Participant),
	}
}

// Join sends a join request and adds self optimistically so the self entry
// never flickers out while waiting for the server.
func (s *Synchronizer) Join() error {
	frame, err := protocol.Encode(protocol.TypeJoin, protocol.JoinRequest{
		RoomID:      s.roomID,
		UserID:      s.self.UserID,
		DisplayName: s.self.DisplayName,
	})
	if err != nil {
		return err
	}
	if _, ok := s.members[s.self.UserID]; !ok {
		s.add(room.Participant{
			UserID:      s.self.UserID,
			DisplayName: s.self.DisplayName,
			OnlineSince: s.now(),
			Optimistic:  true,
		})
	}
	if err := s.sender.Send(frame); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	return nil
}

// Leave sends a leave request. The roster is left untouched.
func (s *Synchronizer) Leave() error {
	frame, err := protocol.Encode(protocol.TypeLeave, protocol.LeaveRequest{
		RoomID: s.roomID,
		UserID: s.self.UserID,
	})
	if err != nil {
		return err
	}
	if err := s.sender.Send(frame); err != nil {
		return fmt.Errorf("send leave: %w", err)
	}
	return nil
}

// Joined applies an incremental add. It reports whether the participant is
// new; re-adding a known id only confirms an optimistic entry.
func (s *Synchronizer) Joined(p room.Participant) bool {
	p.Optimistic = false
	if existing, ok := s.members[p.UserID]; ok {
		if existing.Optimistic {
			s.members[p.UserID] = merge(existing, p)
		}
		return false
	}
	s.add(p)
	return true
}

// Left removes a participant. Unknown ids are ignored; a roster sync may
// already have dropped them.
func (s *Synchronizer) Left(userID string) (room.Participant, bool) {
	p, ok := s.members[userID]
	if !ok {
		return room.Participant{}, false
	}
	delete(s.members, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return p, true
}

// Replace installs an authoritative roster. Duplicate ids keep their first
// occurrence. Optimistic entries not present in list are dropped.
func (s *Synchronizer) Replace(list []room.Participant) {
	members := make(map[string]room.Participant, len(list))
	order := make([]string, 0, len(list))
	for _, p := range list {
		if _, dup := members[p.UserID]; dup {
			continue
		}
		p.Optimistic = false
		members[p.UserID] = p
		order = append(order, p.UserID)
	}
	s.members = members
	s.order = order
}

// Reset forgets the roster. Used after a reconnect, when the previous view
// can no longer be trusted.
func (s *Synchronizer) Reset() {
	s.members = make(map[string]room.Participant)
	s.order = nil
}

// Participants returns the roster in display order.
func (s *Synchronizer) Participants() []room.Participant {
	out := make([]room.Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.members[id])
	}
	return out
}

func (s *Synchronizer) Len() int {
	return len(s.order)
}

func (s *Synchronizer) Contains(userID string) bool {
	_, ok := s.members[userID]
	return ok
}

func (s *Synchronizer) IsSelf(userID string) bool {
	return userID == s.self.UserID
}

func (s *Synchronizer) add(p room.Participant) {
	s.members[p.UserID] = p
	s.order = append(s.order, p.UserID)
}

func merge(existing, confirmed room.Participant) room.Participant {
	if confirmed.DisplayName == "" {
		confirmed.DisplayName = existing.DisplayName
	}
	if confirmed.OnlineSince.IsZero() {
		confirmed.OnlineSince = existing.OnlineSince
	}
	return confirmed
}

// FromRecord converts a wire participant.
func FromRecord(r protocol.ParticipantRecord) room.Participant {
	return room.Participant{
		UserID:      r.UserID,
		DisplayName: r.DisplayName,
		OnlineSince: protocol.Time(r.OnlineSince),
	}
}

// FromRecords converts a wire roster.
func FromRecords(records []protocol.ParticipantRecord) []room.Participant {
	out := make([]room.Participant, 0, len(records))
	for _, r := range records {
		out = append(out, FromRecord(r))
	}
	return out
}

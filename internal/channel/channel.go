// Package channel is the ordered message log of a room session: optimistic
// local sends, server deliveries, reconciliation of our own echoes, and
// locally narrated system notes.
package channel

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"studyroom/internal/protocol"
	"studyroom/internal/room"
)

// Sender forwards encoded frames to the room connection.
type Sender interface {
	Send(frame []byte) error
}

// Author is the local user as the channel stamps outgoing messages.
type Author struct {
	UserID      string
	DisplayName string
}

type Outcome int

const (
	// OutcomeAppended means a new entry was added to the log.
	OutcomeAppended Outcome = iota
	// OutcomeReconciled means an optimistic entry adopted the server identity.
	OutcomeReconciled
	// OutcomeDuplicate means the server id was already in the log.
	OutcomeDuplicate
)

// Channel is append-only: positions never change once assigned. It is not
// safe for concurrent use.
type Channel struct {
	roomID string
	author Author
	sender Sender
	now    func() time.Time
	newID  func() string

	log      []room.Message
	serverID map[string]int
}

func New(roomID string, author Author, sender Sender) *Channel {
	return &Channel{
		roomID:   roomID,
		author:   author,
		sender:   sender,
		now:      time.Now,
		newID:    uuid.NewString,
		serverID: make(map[string]int),
	}
}

// Send appends an optimistic user message and forwards it to the
// connection. A refused send leaves the entry visible as unsent.
func (c *Channel) Send(body string) (room.Message, error) {
	id := c.newID()
	msg := room.Message{
		ID:          id,
		ClientID:    id,
		RoomID:      c.roomID,
		SenderID:    c.author.UserID,
		DisplayName: c.author.DisplayName,
		Body:        body,
		Kind:        room.KindUser,
		Timestamp:   c.now(),
		Delivery:    room.DeliveryPending,
	}
	frame, err := protocol.Encode(protocol.TypeMessage, protocol.SendRequest{
		RoomID:      c.roomID,
		UserID:      c.author.UserID,
		DisplayName: c.author.DisplayName,
		Body:        body,
		ClientMsgID: id,
	})
	if err == nil {
		if sendErr := c.sender.Send(frame); sendErr != nil {
			err = fmt.Errorf("send message: %w", sendErr)
		}
	}
	if err != nil {
		msg.Delivery = room.DeliveryUnsent
	}
	return c.append(msg), err
}

// Receive applies a server delivery. Echoes of our own sends reconcile the
// matching optimistic entry instead of appending a second copy.
func (c *Channel) Receive(record protocol.MessageRecord) (room.Message, Outcome) {
	if i, ok := c.serverID[record.ID]; ok {
		return c.log[i], OutcomeDuplicate
	}
	if record.SenderID == c.author.UserID {
		if i, ok := c.matchPending(record); ok {
			msg := c.log[i]
			msg.ID = record.ID
			msg.Delivery = room.DeliveryConfirmed
			if ts := protocol.Time(record.SentAt); !ts.IsZero() {
				msg.Timestamp = ts
			}
			c.log[i] = msg
			c.serverID[record.ID] = i
			return msg, OutcomeReconciled
		}
	}
	ts := protocol.Time(record.SentAt)
	if ts.IsZero() {
		ts = c.now()
	}
	roomID := record.RoomID
	if roomID == "" {
		roomID = c.roomID
	}
	msg := c.append(room.Message{
		ID:          record.ID,
		ClientID:    record.ClientMsgID,
		RoomID:      roomID,
		SenderID:    record.SenderID,
		DisplayName: record.DisplayName,
		Body:        record.Body,
		Kind:        room.KindUser,
		Timestamp:   ts,
	})
	c.serverID[record.ID] = int(msg.Seq - 1)
	return msg, OutcomeAppended
}

// AppendSystem adds a local narration entry. It is never sent.
func (c *Channel) AppendSystem(text string) room.Message {
	return c.append(room.Message{
		ID:        c.newID(),
		RoomID:    c.roomID,
		SenderID:  "system",
		Body:      text,
		Kind:      room.KindSystem,
		Timestamp: c.now(),
	})
}

// Messages returns a copy of the log.
func (c *Channel) Messages() []room.Message {
	out := make([]room.Message, len(c.log))
	copy(out, c.log)
	return out
}

func (c *Channel) Len() int {
	return len(c.log)
}

// Pending counts own messages the server has not confirmed, sent or not.
func (c *Channel) Pending() int {
	n := 0
	for _, msg := range c.log {
		if msg.Optimistic() {
			n++
		}
	}
	return n
}

// matchPending prefers the correlation id. Without one it falls back to the
// oldest unmatched pending entry with the same body; identical rapid sends
// are therefore matched in send order.
func (c *Channel) matchPending(record protocol.MessageRecord) (int, bool) {
	if record.ClientMsgID != "" {
		for i, msg := range c.log {
			if msg.Delivery == room.DeliveryPending && msg.ClientID == record.ClientMsgID {
				return i, true
			}
		}
		return 0, false
	}
	for i, msg := range c.log {
		if msg.Delivery == room.DeliveryPending && msg.SenderID == record.SenderID && msg.Body == record.Body {
			return i, true
		}
	}
	return 0, false
}

func (c *Channel) append(msg room.Message) room.Message {
	msg.Seq = uint64(len(c.log) + 1)
	c.log = append(c.log, msg)
	return msg
}

// Package room holds the client-side view of a study room: its metadata,
// participants and chat messages.
package room

import "time"

// Info is the room metadata returned by the directory lookup.
type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
}

// Label returns the best human name for the room.
func (i Info) Label() string {
	if i.Name != "" {
		return i.Name
	}
	return i.ID
}

// Participant is one member of a room roster, unique by UserID.
type Participant struct {
	UserID      string
	DisplayName string
	OnlineSince time.Time
	// Optimistic is set for entries added locally before the server confirmed them.
	Optimistic bool
}

// Name returns the display name, falling back to the user id.
func (p Participant) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserID
}

type Kind int

const (
	KindUser Kind = iota
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Delivery tracks what is known about an outgoing message.
type Delivery int

const (
	// DeliveryNone applies to remote and system messages.
	DeliveryNone Delivery = iota
	// DeliveryPending means the message was handed to the connection and no echo arrived yet.
	DeliveryPending
	// DeliveryConfirmed means the server echoed the message back.
	DeliveryConfirmed
	// DeliveryUnsent means the connection was down when the message was sent.
	DeliveryUnsent
)

func (d Delivery) String() string {
	switch d {
	case DeliveryPending:
		return "pending"
	case DeliveryConfirmed:
		return "confirmed"
	case DeliveryUnsent:
		return "unsent"
	default:
		return ""
	}
}

// Message is one entry of the session message log.
type Message struct {
	// Seq is the arrival position in the log, starting at 1.
	Seq uint64
	// ID is client generated for optimistic entries and server assigned otherwise.
	ID string
	// ClientID is the correlation id of a locally sent message.
	ClientID    string
	RoomID      string
	SenderID    string
	DisplayName string
	Body        string
	Kind        Kind
	Timestamp   time.Time
	Delivery    Delivery
}

// Optimistic reports whether the entry is a local send still waiting for the server echo.
func (m Message) Optimistic() bool {
	return m.Delivery == DeliveryPending || m.Delivery == DeliveryUnsent
}

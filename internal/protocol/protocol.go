// Package protocol defines the JSON frames exchanged with the room server.
//
// Every frame is a kind-tagged envelope:
//
//	{"type": "joined", "payload": {...}}
//
// Clients send join, leave and message requests; the server pushes joined,
// left, roster and message events.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	TypeJoin    = "join"
	TypeLeave   = "leave"
	TypeMessage = "message"
	TypeJoined  = "joined"
	TypeLeft    = "left"
	TypeRoster  = "roster"
)

// ErrMismatch is wrapped by every decode failure caused by an unexpected or
// malformed payload.
var ErrMismatch = errors.New("protocol mismatch")

// Frame is the envelope carried in each websocket text message.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// JoinRequest asks the server to enter a room.
type JoinRequest struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// LeaveRequest asks the server to exit a room.
type LeaveRequest struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// SendRequest carries chat content. ClientMsgID is echoed back by servers
// that support correlation.
type SendRequest struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Body        string `json:"body"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// ParticipantRecord is a roster entry as the server describes it.
type ParticipantRecord struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	// OnlineSince is Unix milliseconds.
	OnlineSince int64 `json:"online_since,omitempty"`
}

// Joined is an incremental roster add.
type Joined struct {
	RoomID      string            `json:"room_id"`
	Participant ParticipantRecord `json:"participant"`
}

// Left is an incremental roster remove.
type Left struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// Roster is the authoritative participant list.
type Roster struct {
	RoomID       string              `json:"room_id"`
	Participants []ParticipantRecord `json:"participants"`
}

// MessageRecord is a chat delivery, including the echo of our own sends.
type MessageRecord struct {
	ID          string `json:"id"`
	RoomID      string `json:"room_id"`
	SenderID    string `json:"sender_id"`
	DisplayName string `json:"display_name"`
	Body        string `json:"body"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	// SentAt is Unix milliseconds.
	SentAt int64 `json:"sent_at"`
}

// Encode wraps payload in a frame of the given type.
func Encode(frameType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	return json.Marshal(Frame{Type: frameType, Payload: body})
}

// DecodeEvent parses a server event. The result is one of Joined, Left,
// Roster or MessageRecord.
func DecodeEvent(raw []byte) (any, error) {
	frame, err := decodeFrame(raw)
	if err != nil {
		return nil, err
	}
	switch frame.Type {
	case TypeJoined:
		var event Joined
		if err := decodePayload(frame, &event); err != nil {
			return nil, err
		}
		if strings.TrimSpace(event.Participant.UserID) == "" {
			return nil, mismatch(frame.Type, "participant user_id is required")
		}
		return event, nil
	case TypeLeft:
		var event Left
		if err := decodePayload(frame, &event); err != nil {
			return nil, err
		}
		if strings.TrimSpace(event.UserID) == "" {
			return nil, mismatch(frame.Type, "user_id is required")
		}
		return event, nil
	case TypeRoster:
		var event Roster
		if err := decodePayload(frame, &event); err != nil {
			return nil, err
		}
		for _, p := range event.Participants {
			if strings.TrimSpace(p.UserID) == "" {
				return nil, mismatch(frame.Type, "participant user_id is required")
			}
		}
		return event, nil
	case TypeMessage:
		var event MessageRecord
		if err := decodePayload(frame, &event); err != nil {
			return nil, err
		}
		if event.ID == "" || event.SenderID == "" {
			return nil, mismatch(frame.Type, "id and sender_id are required")
		}
		return event, nil
	default:
		return nil, mismatch(frame.Type, "unknown event type")
	}
}

// DecodeRequest parses a client request. The result is one of JoinRequest,
// LeaveRequest or SendRequest.
func DecodeRequest(raw []byte) (any, error) {
	frame, err := decodeFrame(raw)
	if err != nil {
		return nil, err
	}
	switch frame.Type {
	case TypeJoin:
		var req JoinRequest
		if err := decodePayload(frame, &req); err != nil {
			return nil, err
		}
		if req.UserID == "" {
			return nil, mismatch(frame.Type, "user_id is required")
		}
		return req, nil
	case TypeLeave:
		var req LeaveRequest
		if err := decodePayload(frame, &req); err != nil {
			return nil, err
		}
		return req, nil
	case TypeMessage:
		var req SendRequest
		if err := decodePayload(frame, &req); err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.Body) == "" {
			return nil, mismatch(frame.Type, "body is required")
		}
		return req, nil
	default:
		return nil, mismatch(frame.Type, "unknown request type")
	}
}

// Millis converts a time to the wire representation.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Time converts wire milliseconds back to a time. Zero stays zero.
func Time(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func decodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: invalid frame: %v", ErrMismatch, err)
	}
	if frame.Type == "" {
		return Frame{}, fmt.Errorf("%w: frame type is required", ErrMismatch)
	}
	return frame, nil
}

func decodePayload(frame Frame, target any) error {
	if len(frame.Payload) == 0 {
		return mismatch(frame.Type, "payload is required")
	}
	if err := json.Unmarshal(frame.Payload, target); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMismatch, frame.Type, err)
	}
	return nil
}

func mismatch(frameType, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrMismatch, frameType, reason)
}

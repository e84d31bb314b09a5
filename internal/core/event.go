package core

import (
	"encoding/json"
	"fmt"

	"github.com/skillswap/hub/internal/domain"
)

// Event is one decoded client-to-hub message. The implementation set is
// closed so dispatch is an exhaustive type switch instead of a table of
// string-keyed handlers.
type Event interface {
	isEvent()
}

type (
	// AuthEvent binds the connection to the user named by the token.
	AuthEvent struct {
		Token string
	}

	// JoinEvent subscribes the connection to Room. Every room the
	// connection is in that is not listed in Keep (and is not Room) is
	// left in the same step.
	JoinEvent struct {
		Room domain.RoomID
		Keep []domain.RoomID
	}

	LeaveEvent struct {
		Room domain.RoomID
	}

	// PublishEvent asks the hub to persist and relay a chat message.
	PublishEvent struct {
		Room domain.RoomID
		Body string
	}

	// ClearEvent moves the sender's cleared-at watermark for Room.
	ClearEvent struct {
		Room domain.RoomID
	}

	RingEvent struct {
		Room domain.RoomID
	}

	AcceptEvent struct {
		Room domain.RoomID
	}

	RejectEvent struct {
		Room domain.RoomID
	}

	EndEvent struct {
		Room domain.RoomID
	}

	// OnlineUsersEvent requests the current presence snapshot.
	OnlineUsersEvent struct{}

	PingEvent struct{}
)

func (AuthEvent) isEvent()        {}
func (JoinEvent) isEvent()        {}
func (LeaveEvent) isEvent()       {}
func (PublishEvent) isEvent()     {}
func (ClearEvent) isEvent()       {}
func (RingEvent) isEvent()        {}
func (AcceptEvent) isEvent()      {}
func (RejectEvent) isEvent()      {}
func (EndEvent) isEvent()         {}
func (OnlineUsersEvent) isEvent() {}
func (PingEvent) isEvent()        {}

type envelope struct {
	Type  string   `json:"type"`
	Token string   `json:"token,omitempty"`
	Room  string   `json:"room,omitempty"`
	Keep  []string `json:"keep,omitempty"`
	Body  string   `json:"body,omitempty"`
}

// DecodeEvent parses a raw inbound frame into its typed variant.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	needRoom := func() (domain.RoomID, error) {
		if env.Room == "" {
			return "", fmt.Errorf("event %q missing room", env.Type)
		}
		return domain.RoomID(env.Room), nil
	}

	switch env.Type {
	case "auth":
		return AuthEvent{Token: env.Token}, nil
	case "joinRoom":
		room, err := needRoom()
		if err != nil {
			return nil, err
		}
		keep := make([]domain.RoomID, 0, len(env.Keep))
		for _, r := range env.Keep {
			keep = append(keep, domain.RoomID(r))
		}
		return JoinEvent{Room: room, Keep: keep}, nil
	case "leaveRoom":
		room, err := needRoom()
		if err != nil {
			return nil, err
		}
		return LeaveEvent{Room: room}, nil
	case "message":
		room, err := needRoom()
		if err != nil {
			return nil, err
		}
		return PublishEvent{Room: room, Body: env.Body}, nil
	case "clearChat":
		room, err := needRoom()
		if err != nil {
			return nil, err
		}
		return ClearEvent{Room: room}, nil
	case "ring":
		room, err := needRoom()
		if err != nil {
			return nil, err
		}
		return RingEvent{Room: room}, nil
	case "accept":
		room, err := needRoom()
		if err != nil {
			return nil, err
		}
		return AcceptEvent{Room: room}, nil
	case "reject":
		room, err := needRoom()
		if err != nil {
			return nil, err
		}
		return RejectEvent{Room: room}, nil
	case "end":
		room, err := needRoom()
		if err != nil {
			return nil, err
		}
		return EndEvent{Room: room}, nil
	case "onlineUsers":
		return OnlineUsersEvent{}, nil
	case "ping":
		return PingEvent{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

package domain

import "time"

type MessageID string

// Message is the canonical record of one chat message. The id and timestamp
// are assigned by the message store at persist time, before the relay ever
// sees it.
type Message struct {
	ID     MessageID `json:"id"`
	Room   RoomID    `json:"room"`
	Sender UserID    `json:"sender"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

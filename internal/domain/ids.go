// Package domain contains entity without logic, just meta-data
package domain

import "github.com/google/uuid"

type (
	// RoomID keys one conversation's subscription scope. It is a grouping
	// key only, never a stored entity.
	RoomID string

	// UserID is the authenticated account identifier. Identity issuance
	// lives outside the hub.
	UserID string

	// ConnID identifies a single live channel endpoint. A user may hold
	// several at once (devices, tabs).
	ConnID string
)

func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

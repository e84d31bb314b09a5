package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/skillswap/hub/internal/core"
	"github.com/skillswap/hub/internal/domain"
)

// handleEvent decodes one inbound frame and dispatches its typed variant.
func (ctl *Controller) handleEvent(ctx context.Context, id domain.ConnID, c *WsConn, data []byte) {
	ev, err := core.DecodeEvent(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad event")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch e := ev.(type) {
	case core.AuthEvent:
		ctl.handleAuth(id, c, e)
	case core.JoinEvent:
		ctl.handleJoin(ctx, id, c, e)
	case core.LeaveEvent:
		if err := ctl.Hub.Leave(id, e.Room); err != nil {
			ctl.sendError(c, errCode(err))
			return
		}
		ctl.sendJSON(c, struct {
			Type string        `json:"type"`
			Room domain.RoomID `json:"room"`
		}{"left", e.Room})
	case core.PublishEvent:
		ctl.handlePublish(ctx, id, c, e)
	case core.ClearEvent:
		if err := ctl.Hub.ClearChat(ctx, id, e.Room); err != nil {
			ctl.sendError(c, errCode(err))
		}
	case core.RingEvent:
		if err := ctl.Hub.Ring(id, e.Room); err != nil {
			ctl.sendError(c, errCode(err))
		}
	case core.AcceptEvent:
		if err := ctl.Hub.Accept(id, e.Room); err != nil {
			ctl.sendError(c, errCode(err))
		}
	case core.RejectEvent:
		if err := ctl.Hub.Reject(id, e.Room); err != nil {
			ctl.sendError(c, errCode(err))
		}
	case core.EndEvent:
		if err := ctl.Hub.End(id, e.Room); err != nil {
			ctl.sendError(c, errCode(err))
		}
	case core.OnlineUsersEvent:
		ctl.sendJSON(c, struct {
			Type  string          `json:"type"`
			Users []domain.UserID `json:"users"`
		}{"onlineUsers", ctl.Hub.OnlineUsers()})
	case core.PingEvent:
		ctl.sendJSON(c, struct {
			Type string `json:"type"`
		}{"pong"})
	}
}

// handleJoin subscribes the connection and answers with the room's history,
// already filtered by the caller's watermark.
func (ctl *Controller) handleJoin(ctx context.Context, id domain.ConnID, c *WsConn, e core.JoinEvent) {
	if err := ctl.Hub.Join(id, e.Room, e.Keep); err != nil {
		ctl.sendError(c, errCode(err))
		return
	}
	history, err := ctl.Hub.History(ctx, id, e.Room)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(e.Room)).Msg("history fetch")
		history = nil
	}
	ctl.sendJSON(c, struct {
		Type    string           `json:"type"`
		Room    domain.RoomID    `json:"room"`
		History []domain.Message `json:"history"`
	}{"joined", e.Room, history})
}

func (ctl *Controller) handlePublish(ctx context.Context, id domain.ConnID, c *WsConn, e core.PublishEvent) {
	user, ok := ctl.Hub.UserOf(id)
	if !ok {
		ctl.sendError(c, "unauthenticated")
		return
	}
	if !ctl.Limiter.Allow(user) {
		log.Warn().Str("module", "signal").Str("user", string(user)).Msg("publish rate limited")
		ctl.sendError(c, "rate_limited")
		return
	}
	if _, err := ctl.Hub.SendMessage(ctx, id, e.Room, e.Body); err != nil {
		ctl.sendError(c, errCode(err))
	}
}

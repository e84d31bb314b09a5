package signal

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/skillswap/hub/internal/core"
	"github.com/skillswap/hub/internal/domain"
)

// handleAuth verifies the HMAC token minted by the platform's auth service
// and binds the connection to the `sub` user. Until this succeeds every
// room/call operation is rejected as unauthenticated.
func (ctl *Controller) handleAuth(id domain.ConnID, c *WsConn, e core.AuthEvent) {
	token, err := jwt.ParseWithClaims(e.Token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(ctl.Secret), nil
	})
	if err != nil || !token.Valid {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("invalid auth token")
		ctl.sendError(c, "unauthenticated")
		return
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("token missing sub claim")
		ctl.sendError(c, "unauthenticated")
		return
	}

	user := domain.UserID(claims.Subject)
	if err := ctl.Hub.Authenticate(id, user); err != nil {
		ctl.sendError(c, errCode(err))
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("user", string(user)).Msg("authenticated")
	ctl.sendJSON(c, struct {
		Type string        `json:"type"`
		User domain.UserID `json:"user"`
	}{"authOk", user})
}

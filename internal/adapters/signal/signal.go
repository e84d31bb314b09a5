package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skillswap/hub/internal/app"
	"github.com/skillswap/hub/internal/config"
	"github.com/skillswap/hub/internal/core"
	"github.com/skillswap/hub/internal/domain"
)

// Controller owns the websocket side of the hub: upgrade, pumps, and event
// dispatch.
type Controller struct {
	Hub     *app.Hub
	Secret  string
	Limiter *MessageRateLimiter

	readLimit  int64
	sendBuffer int
	pingPeriod time.Duration
}

func NewController(hub *app.Hub, cfg *config.Config) *Controller {
	pp := cfg.PingPeriod
	if pp <= 0 {
		pp = 54 * time.Second
	}
	return &Controller{
		Hub:        hub,
		Secret:     cfg.Secret,
		Limiter:    NewMessageRateLimiter(cfg.MsgRateLimit, cfg.MsgRateInterval),
		readLimit:  cfg.ReadLimit,
		sendBuffer: cfg.SendBuffer,
		pingPeriod: pp,
	}
}

// WsConn is one live websocket endpoint with a buffered outbound queue.
type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.Conn = (*WsConn)(nil)

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until it drops.
// The connection starts anonymous; an auth event binds it to a user.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	id := domain.NewConnID()
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &WsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Attach(id, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, id, conn)
}

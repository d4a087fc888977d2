package http

import (
	"errors"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
)

// stream upgrades the request and pushes snapshot updates until the client
// goes away. The current state is sent first so the UI has something to
// render immediately.
func (h *handlers) stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx := c.Request.Context()

	updates, cancel := h.cache.Subscribe()
	defer cancel()

	state := h.cache.State()
	chat := h.cache.Chat()
	if err := wsjson.Write(ctx, conn, Update{Kind: "state", State: &state}); err != nil {
		return
	}
	if err := wsjson.Write(ctx, conn, Update{Kind: "chat", Chat: &chat}); err != nil {
		return
	}

	for {
		select {
		case u := <-updates:
			if err := wsjson.Write(ctx, conn, u); err != nil {
				if !errors.Is(err, ctx.Err()) {
					h.log.Warn().Err(err).Msg("write ws update")
				}
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		}
	}
}

// Package http serves engine snapshots to a local UI: JSON endpoints for
// the current state, a websocket stream of updates, and a small action
// surface forwarding UI intents to the engine.
package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/weblobby/weblobby-client/internal/config"
	"github.com/weblobby/weblobby-client/internal/lobby"
)

// NewServer builds the UI bridge HTTP server.
func NewServer(engine *lobby.Engine, cache *Cache, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := &handlers{engine: engine, cache: cache, log: logger}

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/api/state", h.state)
	router.GET("/api/chat", h.chat)
	router.GET("/ws", h.stream)

	api := router.Group("/api")
	{
		api.POST("/connect", h.connect)
		api.POST("/disconnect", h.disconnect)
		api.POST("/say", h.say)
		api.POST("/channels/join", h.joinChannel)
		api.POST("/channels/leave", h.leaveChannel)
		api.POST("/conversations/select", h.selectConversation)
	}

	return &stdhttp.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
}

type handlers struct {
	engine *lobby.Engine
	cache  *Cache
	log    *zerolog.Logger
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.cache.State())
}

func (h *handlers) chat(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.cache.Chat())
}

func (h *handlers) connect(c *gin.Context) {
	h.engine.Connect()
	c.Status(stdhttp.StatusAccepted)
}

func (h *handlers) disconnect(c *gin.Context) {
	h.engine.Disconnect()
	c.Status(stdhttp.StatusAccepted)
}

type sayRequest struct {
	Place   string `json:"place" binding:"required,oneof=channel private battle"`
	Target  string `json:"target"`
	Text    string `json:"text" binding:"required"`
	IsEmote bool   `json:"is_emote"`
}

func (h *handlers) say(c *gin.Context) {
	var req sayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Place {
	case "channel":
		h.engine.SayChannel(req.Target, req.Text, req.IsEmote)
	case "private":
		h.engine.SayPrivate(req.Target, req.Text)
	case "battle":
		h.engine.SayBattle(req.Text, req.IsEmote)
	}
	c.Status(stdhttp.StatusAccepted)
}

type channelRequest struct {
	Channel  string `json:"channel" binding:"required"`
	Password string `json:"password"`
}

func (h *handlers) joinChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.JoinChannel(req.Channel, req.Password)
	c.Status(stdhttp.StatusAccepted)
}

func (h *handlers) leaveChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.LeaveChannel(req.Channel)
	c.Status(stdhttp.StatusAccepted)
}

type selectRequest struct {
	Conversation string `json:"conversation" binding:"required"`
}

func (h *handlers) selectConversation(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.engine.SelectConversation(req.Conversation)
	c.Status(stdhttp.StatusAccepted)
}

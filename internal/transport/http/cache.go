package http

import (
	"sync"

	"github.com/weblobby/weblobby-client/internal/lobby"
)

// Update is one frame of the websocket stream.
type Update struct {
	Kind  string              `json:"kind"` // "state" or "chat"
	State *lobby.Snapshot     `json:"state,omitempty"`
	Chat  *lobby.ChatSnapshot `json:"chat,omitempty"`
}

// Cache holds the latest engine snapshots and fans updates out to stream
// subscribers. The engine's sync notifier feeds it via SetState/SetChat.
type Cache struct {
	mu    sync.RWMutex
	state lobby.Snapshot
	chat  lobby.ChatSnapshot
	subs  map[chan Update]struct{}
}

func NewCache() *Cache {
	return &Cache{subs: make(map[chan Update]struct{})}
}

// SetState records a directory snapshot and notifies subscribers.
func (c *Cache) SetState(snap lobby.Snapshot) {
	c.mu.Lock()
	c.state = snap
	c.broadcast(Update{Kind: "state", State: &snap})
	c.mu.Unlock()
}

// SetChat records a chat snapshot and notifies subscribers.
func (c *Cache) SetChat(snap lobby.ChatSnapshot) {
	c.mu.Lock()
	c.chat = snap
	c.broadcast(Update{Kind: "chat", Chat: &snap})
	c.mu.Unlock()
}

func (c *Cache) broadcast(u Update) {
	for sub := range c.subs {
		select {
		case sub <- u:
		default:
			// Drop if slow consumer.
		}
	}
}

// State returns the latest directory snapshot.
func (c *Cache) State() lobby.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Chat returns the latest chat snapshot.
func (c *Cache) Chat() lobby.ChatSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chat
}

// Subscribe registers a stream subscriber. Call the returned cancel when
// done.
func (c *Cache) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 8)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.subs, ch)
		c.mu.Unlock()
	}
	return ch, cancel
}

package http

import (
	"testing"

	"github.com/weblobby/weblobby-client/internal/lobby"
)

func TestCacheKeepsLatestSnapshot(t *testing.T) {
	c := NewCache()

	c.SetState(lobby.Snapshot{Nick: "Flaka", Connection: lobby.Connecting})
	c.SetState(lobby.Snapshot{Nick: "Flaka", Connection: lobby.Connected})

	if got := c.State(); got.Connection != lobby.Connected {
		t.Fatalf("state = %+v, want connected", got)
	}

	c.SetChat(lobby.ChatSnapshot{Selected: "#main"})
	if got := c.Chat(); got.Selected != "#main" {
		t.Fatalf("chat = %+v, want #main selected", got)
	}
}

func TestCacheFansOutToSubscribers(t *testing.T) {
	c := NewCache()

	updates, cancel := c.Subscribe()
	defer cancel()

	c.SetState(lobby.Snapshot{Nick: "Flaka"})
	c.SetChat(lobby.ChatSnapshot{Selected: "#main"})

	u := <-updates
	if u.Kind != "state" || u.State == nil || u.State.Nick != "Flaka" {
		t.Fatalf("unexpected first update: %+v", u)
	}
	u = <-updates
	if u.Kind != "chat" || u.Chat == nil || u.Chat.Selected != "#main" {
		t.Fatalf("unexpected second update: %+v", u)
	}

	cancel()
	c.SetState(lobby.Snapshot{})
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatal("update after cancel")
		}
	default:
	}
}

func TestCacheDropsSlowSubscribers(t *testing.T) {
	c := NewCache()

	updates, cancel := c.Subscribe()
	defer cancel()

	// Overflow the subscriber buffer; broadcasts must never block.
	for i := 0; i < 20; i++ {
		c.SetState(lobby.Snapshot{})
	}

	drained := 0
	for {
		select {
		case <-updates:
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 || drained > 8 {
		t.Fatalf("drained %d updates, want between 1 and the buffer size", drained)
	}
}

package lobby

import (
	"sort"

	"github.com/weblobby/weblobby-client/internal/chat"
	"github.com/weblobby/weblobby-client/internal/protocol"
)

// Snapshot is an immutable view of the directory and session, handed to
// consumers by the sync notifier. Nothing in it aliases engine state.
type Snapshot struct {
	Connection   ConnectionState
	Nick         string
	NeedNewLogin bool
	Agreement    string

	Users           map[string]User
	Channels        map[string]ChannelView
	Battles         map[int]BattleView
	CurrentBattleID int // 0 when not in a battle
}

// ChannelView is a channel with membership flattened to sorted names.
type ChannelView struct {
	Name  string
	Users []string
	Topic *protocol.Topic
}

// MemberView is a battle member without the shared user pointer.
type MemberView struct {
	Name      string
	Synced    bool
	Team      int
	Spectator bool
	Bot       bool
	BotType   string
	BotOwner  string
}

// BattleView is a battle with rosters flattened per ally bucket.
type BattleView struct {
	ID             int
	Title          string
	Engine         string
	Game           string
	Map            string
	Passworded     bool
	MaxPlayers     int
	SpectatorCount int
	Founder        string
	Host           string
	Port           int
	Teams          map[int]map[string]MemberView
}

// ChatSnapshot is an immutable view of all conversations.
type ChatSnapshot struct {
	Logs     map[string]chat.Log
	Selected string
}

func (e *Engine) buildSnapshot() Snapshot {
	snap := Snapshot{
		Connection:   e.connState,
		Nick:         e.session.nick,
		NeedNewLogin: e.session.needNewLogin,
		Agreement:    e.session.agreement.String(),
		Users:        make(map[string]User, len(e.dir.users)),
		Channels:     make(map[string]ChannelView, len(e.dir.channels)),
		Battles:      make(map[int]BattleView, len(e.dir.battles)),
	}

	for name, u := range e.dir.users {
		snap.Users[name] = *u
	}

	for name, ch := range e.dir.channels {
		view := ChannelView{Name: name, Users: make([]string, 0, len(ch.Users))}
		for member := range ch.Users {
			view.Users = append(view.Users, member)
		}
		sort.Strings(view.Users)
		if ch.Topic != nil {
			topic := *ch.Topic
			view.Topic = &topic
		}
		snap.Channels[name] = view
	}

	for id, b := range e.dir.battles {
		view := BattleView{
			ID:             b.ID,
			Title:          b.Title,
			Engine:         b.Engine,
			Game:           b.Game,
			Map:            b.Map,
			Passworded:     b.Passworded,
			MaxPlayers:     b.MaxPlayers,
			SpectatorCount: b.SpectatorCount,
			Founder:        b.Founder,
			Host:           b.Host,
			Port:           b.Port,
			Teams:          make(map[int]map[string]MemberView, len(b.Teams)),
		}
		for team, bucket := range b.Teams {
			members := make(map[string]MemberView, len(bucket))
			for name, m := range bucket {
				members[name] = MemberView{
					Name:      name,
					Synced:    m.Synced,
					Team:      m.Team,
					Spectator: m.Spectator,
					Bot:       m.Bot,
					BotType:   m.BotType,
					BotOwner:  m.BotOwner,
				}
			}
			view.Teams[team] = members
		}
		snap.Battles[id] = view
	}

	if e.dir.current != nil {
		snap.CurrentBattleID = e.dir.current.ID
	}
	return snap
}

func (e *Engine) buildChatSnapshot() ChatSnapshot {
	return ChatSnapshot{
		Logs:     e.chat.Snapshot(),
		Selected: e.chat.Selected(),
	}
}

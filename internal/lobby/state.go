package lobby

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/weblobby/weblobby-client/internal/protocol"
)

// ConnectionState tracks the session lifecycle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// User is an online lobby user. Partial server updates merge into it; the
// away/in-game timestamps move only on the false-to-true edge.
type User struct {
	Name        string
	Country     string
	CPU         int
	Rank        int
	Admin       bool
	LobbyBot    bool
	Away        bool
	AwaySince   time.Time
	InGame      bool
	InGameSince time.Time
}

// Channel is a joined chat channel. Users are shared references into the
// directory; the channel does not own their lifetime.
type Channel struct {
	Name  string
	Users map[string]*User
	Topic *protocol.Topic
}

// BattleMember is a user's battle-scoped state.
type BattleMember struct {
	User      *User
	Synced    bool
	Team      int
	Spectator bool
	Bot       bool
	BotType   string
	BotOwner  string
}

// Battle is a joinable game room. Teams maps ally bucket -> nick -> member;
// bucket 0 holds spectators and unassigned joiners, bucket n holds ally n-1.
type Battle struct {
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
	Teams          map[int]map[string]*BattleMember
}

// directory is the users/channels/battles tree. All mutation happens on the
// engine goroutine; handlers never block and never do I/O.
type directory struct {
	users    map[string]*User
	channels map[string]*Channel
	battles  map[int]*Battle
	current  *Battle

	clock func() time.Time
	log   *zerolog.Logger
}

func newDirectory(clock func() time.Time, logger *zerolog.Logger) *directory {
	d := &directory{clock: clock, log: logger}
	d.reset()
	return d
}

func (d *directory) reset() {
	d.users = make(map[string]*User)
	d.channels = make(map[string]*Channel)
	d.battles = make(map[int]*Battle)
	d.current = nil
}

func (d *directory) applyUserSeen(ev protocol.UserSeen) {
	u := d.users[ev.Name]
	if u == nil {
		if ev.UpdateOnly {
			d.log.Debug().Str("user", ev.Name).Msg("status for unknown user")
			return
		}
		u = &User{Name: ev.Name}
		d.users[ev.Name] = u
	}
	if ev.Country != nil {
		u.Country = *ev.Country
	}
	if ev.CPU != nil {
		u.CPU = *ev.CPU
	}
	if ev.Rank != nil {
		u.Rank = *ev.Rank
	}
	if ev.Admin != nil {
		u.Admin = *ev.Admin
	}
	if ev.Bot != nil {
		u.LobbyBot = *ev.Bot
	}
	if ev.Away != nil {
		if *ev.Away && !u.Away {
			u.AwaySince = d.clock()
		}
		u.Away = *ev.Away
	}
	if ev.InGame != nil {
		if *ev.InGame && !u.InGame {
			u.InGameSince = d.clock()
		}
		u.InGame = *ev.InGame
	}
}

func (d *directory) applyUserLeft(ev protocol.UserLeft) {
	delete(d.users, ev.Name)
}

func (d *directory) applyChannelJoined(ev protocol.ChannelJoined) {
	ch := &Channel{Name: ev.Channel, Users: make(map[string]*User)}
	d.channels[ev.Channel] = ch
	for _, name := range ev.Users {
		// The server can report users we have not seen yet.
		if u := d.users[name]; u != nil {
			ch.Users[name] = u
		}
	}
	if ev.HasTopic {
		ch.Topic = ev.Topic
	}
}

func (d *directory) applyChannelTopic(ev protocol.ChannelTopic) {
	ch := d.channels[ev.Channel]
	if ch == nil {
		d.log.Debug().Str("channel", ev.Channel).Msg("topic for unknown channel")
		return
	}
	ch.Topic = ev.Topic
}

func (d *directory) applyChannelClients(ev protocol.ChannelClients) {
	ch := d.channels[ev.Channel]
	if ch == nil {
		d.log.Debug().Str("channel", ev.Channel).Msg("clients for unknown channel")
		return
	}
	for _, name := range ev.Users {
		if u := d.users[name]; u != nil {
			ch.Users[name] = u
		}
	}
}

func (d *directory) applyChannelUserJoined(ev protocol.ChannelUserJoined) {
	ch := d.channels[ev.Channel]
	u := d.users[ev.User]
	if ch == nil || u == nil {
		d.log.Debug().Str("channel", ev.Channel).Str("user", ev.User).
			Msg("join for unknown channel or user")
		return
	}
	ch.Users[ev.User] = u
}

func (d *directory) applyChannelUserLeft(ev protocol.ChannelUserLeft) {
	ch := d.channels[ev.Channel]
	if ch == nil {
		return
	}
	delete(ch.Users, ev.User)
}

func (d *directory) removeChannel(name string) {
	delete(d.channels, name)
}

func (d *directory) applyBattleUpdated(ev protocol.BattleUpdated) {
	b := d.battles[ev.ID]
	if b == nil {
		b = &Battle{ID: ev.ID, Teams: map[int]map[string]*BattleMember{0: {}}}
		d.battles[ev.ID] = b
	}
	if ev.Title != nil {
		b.Title = *ev.Title
	}
	if ev.Engine != nil {
		b.Engine = *ev.Engine
	}
	if ev.Game != nil {
		b.Game = *ev.Game
	}
	if ev.Map != nil {
		b.Map = *ev.Map
	}
	if ev.Passworded != nil {
		b.Passworded = *ev.Passworded
	}
	if ev.MaxPlayers != nil {
		b.MaxPlayers = *ev.MaxPlayers
	}
	if ev.SpectatorCount != nil {
		b.SpectatorCount = *ev.SpectatorCount
	}
	if ev.Founder != nil {
		b.Founder = *ev.Founder
	}
	if ev.Host != nil {
		b.Host = *ev.Host
	}
	if ev.Port != nil {
		b.Port = *ev.Port
	}
}

func (d *directory) applyBattleClosed(ev protocol.BattleClosed) {
	if d.current != nil && d.current.ID == ev.ID {
		d.current = nil
	}
	delete(d.battles, ev.ID)
}

// applyBattleUserJoined puts the user into the unassigned bucket and marks
// the battle current when we are the one joining.
func (d *directory) applyBattleUserJoined(ev protocol.BattleUserJoined, selfNick string) {
	b := d.battles[ev.BattleID]
	if b == nil {
		d.log.Debug().Int("battle", ev.BattleID).Str("user", ev.User).
			Msg("join for unknown battle")
		return
	}
	if u := d.users[ev.User]; u != nil {
		if b.Teams[0] == nil {
			b.Teams[0] = make(map[string]*BattleMember)
		}
		b.Teams[0][ev.User] = &BattleMember{User: u}
	}
	if ev.User == selfNick {
		d.current = b
	}
}

func (d *directory) applyBattleUserLeft(ev protocol.BattleUserLeft, selfNick string) {
	b := d.battles[ev.BattleID]
	if b == nil {
		return
	}
	for _, bucket := range b.Teams {
		delete(bucket, ev.User)
	}
	if ev.User == selfNick && d.current != nil && d.current.ID == ev.BattleID {
		d.current = nil
	}
}

// applyBattleStatus merges a member's battle status in the current battle
// and moves them between ally buckets. Removal from the old bucket and
// insertion into the new one happen within this single call, so a member is
// never observable in zero or two buckets.
func (d *directory) applyBattleStatus(ev protocol.BattleStatus) {
	b := d.current
	if b == nil {
		return
	}

	var member *BattleMember
	from := -1
	for team, bucket := range b.Teams {
		if m, ok := bucket[ev.Name]; ok {
			member = m
			from = team
			break
		}
	}
	if member == nil {
		member = &BattleMember{User: d.users[ev.Name]}
	}

	if ev.Synced != nil {
		member.Synced = *ev.Synced
	}
	if ev.Team != nil {
		member.Team = *ev.Team
	}
	if ev.Spectator != nil {
		member.Spectator = *ev.Spectator
	}
	member.Bot = ev.AILib != ""
	if ev.AILib != "" {
		member.BotType = ev.AILib
	}
	if ev.AIOwner != "" {
		member.BotOwner = ev.AIOwner
	}

	var target int
	switch {
	case ev.Ally != nil:
		for _, bucket := range b.Teams {
			delete(bucket, ev.Name)
		}
		if ev.Spectator != nil && *ev.Spectator {
			target = 0
		} else {
			target = *ev.Ally + 1
		}
	case from >= 0:
		// No ally number on the wire: keep the bucket the member is
		// already in. Best-effort inference, not an authoritative value.
		target = from
	default:
		target = 0
	}

	if b.Teams[target] == nil {
		b.Teams[target] = make(map[string]*BattleMember)
	}
	b.Teams[target][ev.Name] = member
}

func (d *directory) applyBotRemoved(ev protocol.BotRemoved) {
	if d.current == nil {
		return
	}
	for _, bucket := range d.current.Teams {
		delete(bucket, ev.Name)
	}
}

// channelNames returns the joined channel set for chat reconciliation.
func (d *directory) channelNames() map[string]bool {
	names := make(map[string]bool, len(d.channels))
	for name := range d.channels {
		names[name] = true
	}
	return names
}

// Package protocol defines the normalized event and command vocabulary shared
// by the lobby engine and the wire codecs. The two backends (line-oriented
// TASServer text and message-tagged Zero-K JSON) both decode into the same
// closed Event set, so everything downstream of an Adapter is protocol
// agnostic.
package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Adapter encodes outgoing commands and decodes incoming frames for one
// specific wire format.
type Adapter interface {
	// Decode parses one raw frame into a normalized event. Unknown message
	// types decode to Ignored{}, not an error; a malformed frame returns a
	// *DecodeError.
	Decode(frame string) (Event, error)
	// Encode renders a command into the bytes to put on the wire, without
	// the trailing frame delimiter. Commands the backend has no wire
	// representation for return ErrUnsupported.
	Encode(cmd Command) (string, error)
	// KeepaliveInterval is how often the engine should ping this backend.
	KeepaliveInterval() time.Duration
}

// ErrUnsupported is returned by Encode when the backend cannot express the
// command (e.g. battle commands on the line protocol).
var ErrUnsupported = errors.New("command not supported by this protocol")

// DecodeError reports a malformed inbound frame. The engine drops the frame,
// logs it and keeps going.
type DecodeError struct {
	Frame  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %s", e.Frame, e.Reason)
}

// SayPlace tells where a chat message was said.
type SayPlace int

const (
	SayChannel SayPlace = iota
	SayBattle
	SayPrivate
)

// Topic is a channel topic as carried on the wire.
type Topic struct {
	Text   string
	Author string
	SetAt  time.Time
}

// Event is a normalized inbound server message. The set is closed: adapters
// are the only place that maps wire names onto it, and every variant is
// handled by an exhaustive switch in the engine.
type Event interface{ isEvent() }

// Ignored is decoded from message types the client does not know. Forward
// compatibility: the server may speak a newer dialect.
type Ignored struct{ Type string }

// Greeting is the server's hello; it starts the login or registration
// exchange.
type Greeting struct{}

// LoginAccepted moves the session to Connected.
type LoginAccepted struct{}

// LoginDenied is a hard refusal; the engine reports it and disconnects.
type LoginDenied struct{ Reason string }

// RegistrationAccepted confirms the new account; the engine persists the
// credentials and reconnects to log in with them.
type RegistrationAccepted struct{}

// RegistrationDenied is a hard refusal of the registration attempt.
type RegistrationDenied struct{ Reason string }

// AgreementChunk is one part of the multi-part terms-of-service text sent
// before login completes. Chunks are concatenated in arrival order.
type AgreementChunk struct{ Text string }

// Pong acknowledges a keepalive ping.
type Pong struct{}

// Redirect tells the client to reconnect to another endpoint.
type Redirect struct {
	Host string
	Port int
}

// UserSeen creates or partially updates a directory user. Nil fields were
// absent from the wire message and must not overwrite known state.
type UserSeen struct {
	Name    string
	Country *string
	CPU     *int
	Rank    *int
	Admin   *bool
	Bot     *bool
	InGame  *bool
	Away    *bool

	// UpdateOnly marks a pure status update. If the user is not in the
	// directory the event is dropped instead of fabricating an entry.
	UpdateOnly bool
}

// UserLeft removes a user from the directory.
type UserLeft struct{ Name string }

// ChannelJoined confirms our own join. Users and Topic are populated by
// backends that deliver the initial roster inline; the line protocol sends
// them as separate ChannelClients/ChannelTopic events instead.
type ChannelJoined struct {
	Channel  string
	Users    []string
	Topic    *Topic
	HasTopic bool // false: topic state unknown, wait for a topic event
}

// ChannelJoinFailed reports a refused join attempt.
type ChannelJoinFailed struct {
	Channel string
	Reason  string
}

// ChannelTopic sets or clears (Topic == nil) the channel topic.
type ChannelTopic struct {
	Channel string
	Topic   *Topic
}

// ChannelClients lists (part of) the membership of a joined channel.
type ChannelClients struct {
	Channel string
	Users   []string
}

// ChannelUserJoined adds another user to a channel we are in.
type ChannelUserJoined struct {
	Channel string
	User    string
}

// ChannelUserLeft removes a user from a channel, voluntarily or kicked.
type ChannelUserLeft struct {
	Channel string
	User    string
}

// Said is a chat message. Echo marks the server's copy of our own outbound
// private message.
type Said struct {
	Place  SayPlace
	Target string // channel name or private peer
	Author string
	Text   string
	Emote  bool
	Echo   bool
}

// BattleUpdated creates or partially updates a battle header. Nil fields
// were absent and keep their previous values.
type BattleUpdated struct {
	ID             int
	Title          *string
	Engine         *string
	Game           *string
	Map            *string
	Passworded     *bool
	MaxPlayers     *int
	SpectatorCount *int
	Founder        *string
	Host           *string
	Port           *int
}

// BattleClosed removes a battle and everyone in it.
type BattleClosed struct{ ID int }

// BattleUserJoined puts a user into a battle's unassigned bucket. If the
// user is us, the battle becomes the current battle.
type BattleUserJoined struct {
	BattleID int
	User     string
}

// BattleUserLeft removes a user from every ally bucket of a battle.
type BattleUserLeft struct {
	BattleID int
	User     string
}

// BattleStatus updates a member's battle-scoped state in the current battle.
// Ally == nil means the server omitted the ally number and the current bucket
// must be inferred.
type BattleStatus struct {
	Name      string
	Ally      *int
	Team      *int
	Spectator *bool
	Synced    *bool
	AILib     string
	AIOwner   string
}

// BotRemoved removes an AI player from the current battle.
type BotRemoved struct{ Name string }

func (Ignored) isEvent()              {}
func (Greeting) isEvent()             {}
func (LoginAccepted) isEvent()        {}
func (LoginDenied) isEvent()          {}
func (RegistrationAccepted) isEvent() {}
func (RegistrationDenied) isEvent()   {}
func (AgreementChunk) isEvent()       {}
func (Pong) isEvent()                 {}
func (Redirect) isEvent()             {}
func (UserSeen) isEvent()             {}
func (UserLeft) isEvent()             {}
func (ChannelJoined) isEvent()        {}
func (ChannelJoinFailed) isEvent()    {}
func (ChannelTopic) isEvent()         {}
func (ChannelClients) isEvent()       {}
func (ChannelUserJoined) isEvent()    {}
func (ChannelUserLeft) isEvent()      {}
func (Said) isEvent()                 {}
func (BattleUpdated) isEvent()        {}
func (BattleClosed) isEvent()         {}
func (BattleUserJoined) isEvent()     {}
func (BattleUserLeft) isEvent()       {}
func (BattleStatus) isEvent()         {}
func (BotRemoved) isEvent()           {}

// Command is an outbound client request, validated by the engine before it
// reaches an adapter.
type Command interface{ isCommand() }

// Login authenticates with previously hashed credentials.
type Login struct {
	Name         string
	PasswordHash string
	DeviceID     string
}

// Register asks the server to create a new account.
type Register struct {
	Name         string
	PasswordHash string
	Email        string
}

// ConfirmAgreement accepts the server's terms of service.
type ConfirmAgreement struct{}

// Ping is the keepalive probe.
type Ping struct{}

// Say sends a chat message; Target is ignored for SayBattle.
type Say struct {
	Place  SayPlace
	Target string
	Author string
	Text   string
	Emote  bool
}

// JoinChannel subscribes to a channel; Password may be empty.
type JoinChannel struct {
	Channel  string
	Password string
}

// LeaveChannel unsubscribes from a channel.
type LeaveChannel struct{ Channel string }

// JoinBattle enters a game room.
type JoinBattle struct {
	BattleID int
	Password string
}

// LeaveBattle exits the given game room.
type LeaveBattle struct{ BattleID int }

// UpdateBattleStatus publishes our own battle-scoped state.
type UpdateBattleStatus struct {
	Name      string
	Ally      int
	Team      int
	Spectator bool
	Synced    bool
}

func (Login) isCommand()              {}
func (Register) isCommand()           {}
func (ConfirmAgreement) isCommand()   {}
func (Ping) isCommand()               {}
func (Say) isCommand()                {}
func (JoinChannel) isCommand()        {}
func (LeaveChannel) isCommand()       {}
func (JoinBattle) isCommand()         {}
func (LeaveBattle) isCommand()        {}
func (UpdateBattleStatus) isCommand() {}

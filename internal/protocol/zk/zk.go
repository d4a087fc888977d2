// Package zk implements the message-tagged JSON lobby protocol. A frame is
// "<MessageType> <JSON payload>"; the type selects the payload shape.
package zk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/weblobby/weblobby-client/internal/protocol"
)

// Result codes shared by LoginResponse and RegisterResponse.
const (
	resultOk               = 0
	resultAlreadyConnected = 1
	resultInvalidName      = 2
	resultInvalidPassword  = 3
	resultBanned           = 4
)

// Say places on the wire.
const (
	placeChannel       = 0
	placeBattle        = 1
	placeUser          = 2
	placeBattlePrivate = 3
	placeGame          = 4
	placeMessageBox    = 5
)

// Sync field values: 1 synced, 2 unsynced.
const (
	syncSynced   = 1
	syncUnsynced = 2
)

const (
	lobbyVersion = "SpringWebLobbyReactJS dev"
	clientType   = 2
)

// Adapter speaks the tagged-JSON dialect.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) KeepaliveInterval() time.Duration { return 30 * time.Second }

func resultText(code int) string {
	switch code {
	case resultOk:
		return "Ok"
	case resultAlreadyConnected:
		return "Already connected"
	case resultInvalidName:
		return "Invalid name"
	case resultInvalidPassword:
		return "Invalid password"
	case resultBanned:
		return "Banned"
	}
	return fmt.Sprintf("Unknown result %d", code)
}

func denialReason(code int, reason string) string {
	text := resultText(code)
	if reason != "" {
		text += "\n" + reason
	}
	return text
}

type loginResponse struct {
	ResultCode int    `json:"ResultCode"`
	Reason     string `json:"Reason"`
}

type userMsg struct {
	Name     string  `json:"Name"`
	Country  *string `json:"Country"`
	IsAdmin  *bool   `json:"IsAdmin"`
	IsBot    *bool   `json:"IsBot"`
	IsInGame *bool   `json:"IsInGame"`
	IsAway   *bool   `json:"IsAway"`
}

type userDisconnected struct {
	Name string `json:"Name"`
}

type channelInfo struct {
	Users      []string `json:"Users"`
	Topic      string   `json:"Topic"`
	TopicSetBy string   `json:"TopicSetBy"`
}

type joinChannelResponse struct {
	Success     bool        `json:"Success"`
	Reason      string      `json:"Reason"`
	ChannelName string      `json:"ChannelName"`
	Channel     channelInfo `json:"Channel"`
}

type channelUser struct {
	ChannelName string `json:"ChannelName"`
	UserName    string `json:"UserName"`
}

type sayMsg struct {
	Place   int    `json:"Place"`
	Target  string `json:"Target"`
	User    string `json:"User"`
	IsEmote bool   `json:"IsEmote"`
	Text    string `json:"Text"`
	Ring    bool   `json:"Ring"`
}

type battleHeader struct {
	BattleID       int     `json:"BattleID"`
	Title          *string `json:"Title"`
	Engine         *string `json:"Engine"`
	Game           *string `json:"Game"`
	Map            *string `json:"Map"`
	Password       *string `json:"Password"`
	MaxPlayers     *int    `json:"MaxPlayers"`
	SpectatorCount *int    `json:"SpectatorCount"`
	Founder        *string `json:"Founder"`
	IP             *string `json:"Ip"`
	Port           *int    `json:"Port"`
}

type battleUpdate struct {
	Header battleHeader `json:"Header"`
}

type battleID struct {
	BattleID int `json:"BattleID"`
}

type battleUser struct {
	BattleID int    `json:"BattleID"`
	User     string `json:"User"`
}

type battleStatus struct {
	Name        string `json:"Name"`
	AllyNumber  *int   `json:"AllyNumber"`
	TeamNumber  *int   `json:"TeamNumber"`
	IsSpectator bool   `json:"IsSpectator"`
	Sync        int    `json:"Sync"`
	AiLib       string `json:"AiLib"`
	Owner       string `json:"Owner"`
}

type removeBot struct {
	Name string `json:"Name"`
}

// Decode parses one "<Type> <JSON>" frame into a normalized event.
func (a *Adapter) Decode(frame string) (protocol.Event, error) {
	frame = strings.TrimRight(frame, "\r\n")
	idx := strings.IndexByte(frame, ' ')
	if idx <= 0 {
		return nil, &protocol.DecodeError{Frame: frame, Reason: "missing payload separator"}
	}
	msgType, payload := frame[:idx], frame[idx+1:]

	parse := func(v any) error {
		if err := json.Unmarshal([]byte(payload), v); err != nil {
			return &protocol.DecodeError{Frame: frame, Reason: "bad json: " + err.Error()}
		}
		return nil
	}

	switch msgType {
	case "Welcome":
		return protocol.Greeting{}, nil
	case "LoginResponse":
		var msg loginResponse
		if err := parse(&msg); err != nil {
			return nil, err
		}
		if msg.ResultCode == resultOk {
			return protocol.LoginAccepted{}, nil
		}
		return protocol.LoginDenied{Reason: denialReason(msg.ResultCode, msg.Reason)}, nil
	case "RegisterResponse":
		var msg loginResponse
		if err := parse(&msg); err != nil {
			return nil, err
		}
		if msg.ResultCode == resultOk {
			return protocol.RegistrationAccepted{}, nil
		}
		return protocol.RegistrationDenied{Reason: denialReason(msg.ResultCode, msg.Reason)}, nil
	case "Ping":
		return protocol.Pong{}, nil

	case "User":
		var msg userMsg
		if err := parse(&msg); err != nil {
			return nil, err
		}
		return protocol.UserSeen{
			Name:    msg.Name,
			Country: msg.Country,
			Admin:   msg.IsAdmin,
			Bot:     msg.IsBot,
			InGame:  msg.IsInGame,
			Away:    msg.IsAway,
		}, nil
	case "UserDisconnected":
		var msg userDisconnected
		if err := parse(&msg); err != nil {
			return nil, err
		}
		return protocol.UserLeft{Name: msg.Name}, nil

	case "JoinChannelResponse":
		var msg joinChannelResponse
		if err := parse(&msg); err != nil {
			return nil, err
		}
		if !msg.Success {
			return protocol.ChannelJoinFailed{Channel: msg.ChannelName, Reason: msg.Reason}, nil
		}
		ev := protocol.ChannelJoined{
			Channel:  msg.ChannelName,
			Users:    msg.Channel.Users,
			HasTopic: true,
		}
		if msg.Channel.Topic != "" {
			// This dialect carries no topic timestamp; stamp arrival time.
			ev.Topic = &protocol.Topic{
				Text:   msg.Channel.Topic,
				Author: msg.Channel.TopicSetBy,
				SetAt:  time.Now(),
			}
		}
		return ev, nil
	case "ChannelUserAdded":
		var msg channelUser
		if err := parse(&msg); err != nil {
			return nil, err
		}
		return protocol.ChannelUserJoined{Channel: msg.ChannelName, User: msg.UserName}, nil
	case "ChannelUserRemoved":
		var msg channelUser
		if err := parse(&msg); err != nil {
			return nil, err
		}
		return protocol.ChannelUserLeft{Channel: msg.ChannelName, User: msg.UserName}, nil

	case "Say":
		var msg sayMsg
		if err := parse(&msg); err != nil {
			return nil, err
		}
		switch msg.Place {
		case placeChannel:
			return protocol.Said{
				Place:  protocol.SayChannel,
				Target: msg.Target,
				Author: msg.User,
				Text:   msg.Text,
				Emote:  msg.IsEmote,
			}, nil
		case placeUser:
			// The engine recognizes its own nick as the author and treats
			// the message as an echo of its outbound private message.
			return protocol.Said{
				Place:  protocol.SayPrivate,
				Target: msg.Target,
				Author: msg.User,
				Text:   msg.Text,
				Emote:  msg.IsEmote,
			}, nil
		case placeBattle:
			return protocol.Said{
				Place:  protocol.SayBattle,
				Author: msg.User,
				Text:   msg.Text,
				Emote:  msg.IsEmote,
			}, nil
		}
		return protocol.Ignored{Type: "Say"}, nil

	case "BattleAdded", "BattleUpdate":
		var msg battleUpdate
		if err := parse(&msg); err != nil {
			return nil, err
		}
		// The string "?" in Password means the battle is passworded.
		passworded := msg.Header.Password != nil && *msg.Header.Password != ""
		return protocol.BattleUpdated{
			ID:             msg.Header.BattleID,
			Title:          msg.Header.Title,
			Engine:         msg.Header.Engine,
			Game:           msg.Header.Game,
			Map:            msg.Header.Map,
			Passworded:     &passworded,
			MaxPlayers:     msg.Header.MaxPlayers,
			SpectatorCount: msg.Header.SpectatorCount,
			Founder:        msg.Header.Founder,
			Host:           msg.Header.IP,
			Port:           msg.Header.Port,
		}, nil
	case "BattleRemoved":
		var msg battleID
		if err := parse(&msg); err != nil {
			return nil, err
		}
		return protocol.BattleClosed{ID: msg.BattleID}, nil
	case "JoinedBattle":
		var msg battleUser
		if err := parse(&msg); err != nil {
			return nil, err
		}
		return protocol.BattleUserJoined{BattleID: msg.BattleID, User: msg.User}, nil
	case "LeftBattle":
		var msg battleUser
		if err := parse(&msg); err != nil {
			return nil, err
		}
		return protocol.BattleUserLeft{BattleID: msg.BattleID, User: msg.User}, nil
	case "UpdateUserBattleStatus", "UpdateBotStatus":
		var msg battleStatus
		if err := parse(&msg); err != nil {
			return nil, err
		}
		synced := msg.Sync == syncSynced
		spectator := msg.IsSpectator
		return protocol.BattleStatus{
			Name:      msg.Name,
			Ally:      msg.AllyNumber,
			Team:      msg.TeamNumber,
			Spectator: &spectator,
			Synced:    &synced,
			AILib:     msg.AiLib,
			AIOwner:   msg.Owner,
		}, nil
	case "RemoveBot":
		var msg removeBot
		if err := parse(&msg); err != nil {
			return nil, err
		}
		return protocol.BotRemoved{Name: msg.Name}, nil
	}

	return protocol.Ignored{Type: msgType}, nil
}

// Encode renders a command into one "<Type> <JSON>" frame.
func (a *Adapter) Encode(cmd protocol.Command) (string, error) {
	switch c := cmd.(type) {
	case protocol.Login:
		// The install id travels as a number in this dialect.
		userID, _ := strconv.Atoi(c.DeviceID)
		return marshal("Login", map[string]any{
			"Name":         c.Name,
			"PasswordHash": c.PasswordHash,
			"UserID":       userID,
			"LobbyVersion": lobbyVersion,
			"ClientType":   clientType,
		})
	case protocol.Register:
		return marshal("Register", map[string]any{
			"Name":         c.Name,
			"PasswordHash": c.PasswordHash,
		})
	case protocol.Ping:
		return marshal("Ping", map[string]any{})
	case protocol.Say:
		payload := map[string]any{
			"User": c.Author,
			"Text": c.Text,
			"Ring": false,
		}
		switch c.Place {
		case protocol.SayChannel:
			payload["Place"] = placeChannel
			payload["Target"] = c.Target
			payload["IsEmote"] = c.Emote
		case protocol.SayPrivate:
			payload["Place"] = placeUser
			payload["Target"] = c.Target
		case protocol.SayBattle:
			payload["Place"] = placeBattle
			payload["IsEmote"] = c.Emote
		}
		return marshal("Say", payload)
	case protocol.JoinChannel:
		payload := map[string]any{"ChannelName": c.Channel, "Password": nil}
		if c.Password != "" {
			payload["Password"] = c.Password
		}
		return marshal("JoinChannel", payload)
	case protocol.LeaveChannel:
		return marshal("LeaveChannel", map[string]any{"ChannelName": c.Channel})
	case protocol.JoinBattle:
		payload := map[string]any{"BattleID": c.BattleID, "Password": nil}
		if c.Password != "" {
			payload["Password"] = c.Password
		}
		return marshal("JoinBattle", payload)
	case protocol.LeaveBattle:
		return marshal("LeaveBattle", map[string]any{"BattleID": c.BattleID})
	case protocol.UpdateBattleStatus:
		sync := syncUnsynced
		if c.Synced {
			sync = syncSynced
		}
		return marshal("UpdateUserBattleStatus", map[string]any{
			"Name":        c.Name,
			"AllyNumber":  c.Ally,
			"IsSpectator": c.Spectator,
			"Sync":        sync,
			"TeamNumber":  c.Team,
		})
	case protocol.ConfirmAgreement:
		// No agreement flow in this dialect.
		return "", protocol.ErrUnsupported
	}
	return "", protocol.ErrUnsupported
}

func marshal(msgType string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", msgType, err)
	}
	return msgType + " " + string(data), nil
}

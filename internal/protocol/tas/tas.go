// Package tas implements the legacy line-oriented lobby protocol. One frame
// is one line; the first space-delimited token names the command, the rest is
// positional arguments followed by free text. Each command has a fixed arity
// that determines where the arguments stop and the free text begins.
package tas

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/weblobby/weblobby-client/internal/protocol"
)

// countryUnknown is what the server sends when it has no geo data.
const countryUnknown = "??"

// Status bitmask layout of CLIENTSTATUS.
const (
	statusInGame   = 1
	statusAway     = 2
	statusRankMask = 28
	statusAdmin    = 32
	statusBot      = 64
)

// Adapter speaks the TASServer dialect.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) KeepaliveInterval() time.Duration { return 20 * time.Second }

// dropWords strips exactly n leading space-delimited tokens from s, returning
// the free-text tail.
func dropWords(s string, n int) string {
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(s, ' ')
		if idx < 0 {
			return ""
		}
		s = s[idx+1:]
	}
	return s
}

func decodeErr(frame, format string, args ...any) *protocol.DecodeError {
	return &protocol.DecodeError{Frame: frame, Reason: fmt.Sprintf(format, args...)}
}

// Decode parses one line into a normalized event.
func (a *Adapter) Decode(frame string) (protocol.Event, error) {
	frame = strings.TrimRight(frame, "\r\n")
	if frame == "" {
		return nil, decodeErr(frame, "empty frame")
	}
	words := strings.Split(frame, " ")
	cmd, args := words[0], words[1:]
	// Free text after the command name; individual cases strip further words.
	tail := dropWords(frame, 1)

	need := func(n int) error {
		if len(args) < n {
			return decodeErr(frame, "%s needs %d arguments, got %d", cmd, n, len(args))
		}
		return nil
	}

	switch cmd {
	case "TASServer":
		return protocol.Greeting{}, nil
	case "ACCEPTED":
		return protocol.LoginAccepted{}, nil
	case "DENIED":
		return protocol.LoginDenied{Reason: tail}, nil
	case "REGISTRATIONACCEPTED":
		return protocol.RegistrationAccepted{}, nil
	case "REGISTRATIONDENIED":
		return protocol.RegistrationDenied{Reason: tail}, nil
	case "AGREEMENT":
		return protocol.AgreementChunk{Text: tail}, nil
	case "PONG":
		return protocol.Pong{}, nil
	case "REDIRECT":
		if err := need(2); err != nil {
			return nil, err
		}
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, decodeErr(frame, "bad port %q", args[1])
		}
		return protocol.Redirect{Host: args[0], Port: port}, nil

	case "ADDUSER":
		if err := need(3); err != nil {
			return nil, err
		}
		country := args[1]
		if country == countryUnknown {
			country = "unknown"
		}
		cpu, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, decodeErr(frame, "bad cpu %q", args[2])
		}
		return protocol.UserSeen{Name: args[0], Country: &country, CPU: &cpu}, nil
	case "CLIENTSTATUS":
		if err := need(2); err != nil {
			return nil, err
		}
		s, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, decodeErr(frame, "bad status %q", args[1])
		}
		admin := s&statusAdmin > 0
		bot := s&statusBot > 0
		rank := (s & statusRankMask) >> 2
		inGame := s&statusInGame > 0
		away := s&statusAway > 0
		return protocol.UserSeen{
			Name:       args[0],
			Admin:      &admin,
			Bot:        &bot,
			Rank:       &rank,
			InGame:     &inGame,
			Away:       &away,
			UpdateOnly: true,
		}, nil
	case "REMOVEUSER":
		if err := need(1); err != nil {
			return nil, err
		}
		return protocol.UserLeft{Name: args[0]}, nil

	case "JOIN":
		if err := need(1); err != nil {
			return nil, err
		}
		return protocol.ChannelJoined{Channel: args[0]}, nil
	case "CHANNELTOPIC":
		if err := need(3); err != nil {
			return nil, err
		}
		secs, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return nil, decodeErr(frame, "bad topic time %q", args[2])
		}
		return protocol.ChannelTopic{
			Channel: args[0],
			Topic: &protocol.Topic{
				Text:   dropWords(tail, 3),
				Author: args[1],
				SetAt:  time.Unix(secs, 0),
			},
		}, nil
	case "NOCHANNELTOPIC":
		if err := need(1); err != nil {
			return nil, err
		}
		return protocol.ChannelTopic{Channel: args[0]}, nil
	case "CLIENTS":
		if err := need(1); err != nil {
			return nil, err
		}
		return protocol.ChannelClients{Channel: args[0], Users: args[1:]}, nil
	case "JOINED":
		if err := need(2); err != nil {
			return nil, err
		}
		return protocol.ChannelUserJoined{Channel: args[0], User: args[1]}, nil
	case "LEFT", "FORCELEAVECHANNEL":
		if err := need(2); err != nil {
			return nil, err
		}
		return protocol.ChannelUserLeft{Channel: args[0], User: args[1]}, nil

	case "SAID", "SAIDEX":
		if err := need(2); err != nil {
			return nil, err
		}
		return protocol.Said{
			Place:  protocol.SayChannel,
			Target: args[0],
			Author: args[1],
			Text:   dropWords(tail, 2),
			Emote:  cmd == "SAIDEX",
		}, nil
	case "SAIDPRIVATE":
		if err := need(1); err != nil {
			return nil, err
		}
		return protocol.Said{
			Place:  protocol.SayPrivate,
			Target: args[0],
			Author: args[0],
			Text:   dropWords(tail, 1),
		}, nil
	case "SAYPRIVATE":
		// Server's echo of our own private message.
		if err := need(1); err != nil {
			return nil, err
		}
		return protocol.Said{
			Place:  protocol.SayPrivate,
			Target: args[0],
			Text:   dropWords(tail, 1),
			Echo:   true,
		}, nil
	}

	return protocol.Ignored{Type: cmd}, nil
}

// Encode renders a command into one protocol line.
func (a *Adapter) Encode(cmd protocol.Command) (string, error) {
	switch c := cmd.(type) {
	case protocol.Login:
		// The trailing fields are the lobby signature, a stable install id
		// and the compatibility flags; servers match on them verbatim.
		return fmt.Sprintf("LOGIN %s %s 7778 * SpringWebLobbyReactJS dev\t%s\tcl sp p et",
			c.Name, c.PasswordHash, c.DeviceID), nil
	case protocol.Register:
		line := "REGISTER " + c.Name + " " + c.PasswordHash
		if c.Email != "" {
			line += " " + c.Email
		}
		return line, nil
	case protocol.ConfirmAgreement:
		return "CONFIRMAGREEMENT", nil
	case protocol.Ping:
		return "PING", nil
	case protocol.Say:
		switch c.Place {
		case protocol.SayChannel:
			if c.Emote {
				return "SAYEX " + c.Target + " " + c.Text, nil
			}
			return "SAY " + c.Target + " " + c.Text, nil
		case protocol.SayPrivate:
			return "SAYPRIVATE " + c.Target + " " + c.Text, nil
		default:
			return "", protocol.ErrUnsupported
		}
	case protocol.JoinChannel:
		if c.Password != "" {
			return "JOIN " + c.Channel + " " + c.Password, nil
		}
		return "JOIN " + c.Channel, nil
	case protocol.LeaveChannel:
		return "LEAVE " + c.Channel, nil
	case protocol.JoinBattle, protocol.LeaveBattle, protocol.UpdateBattleStatus:
		// The line protocol backend carries no battle support.
		return "", protocol.ErrUnsupported
	}
	return "", protocol.ErrUnsupported
}

package tas

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/weblobby/weblobby-client/internal/protocol"
)

func TestDecodeUserEvents(t *testing.T) {
	a := New()

	ev, err := a.Decode("ADDUSER Flaka se 3000")
	if err != nil {
		t.Fatalf("decode ADDUSER: %v", err)
	}
	seen, ok := ev.(protocol.UserSeen)
	if !ok {
		t.Fatalf("expected UserSeen, got %T", ev)
	}
	if seen.Name != "Flaka" || seen.Country == nil || *seen.Country != "se" || *seen.CPU != 3000 {
		t.Fatalf("unexpected UserSeen: %+v", seen)
	}
	if seen.Away != nil || seen.Admin != nil {
		t.Fatal("ADDUSER must not carry status flags")
	}
	if seen.UpdateOnly {
		t.Fatal("ADDUSER is the add event, it must create the user")
	}

	// ?? means the server has no geo data.
	ev, err = a.Decode("ADDUSER ghost ?? 0")
	if err != nil {
		t.Fatalf("decode ADDUSER ??: %v", err)
	}
	if got := *ev.(protocol.UserSeen).Country; got != "unknown" {
		t.Fatalf("country = %q, want unknown", got)
	}
}

func TestDecodeClientStatusBitmask(t *testing.T) {
	a := New()

	cases := []struct {
		name   string
		status int
		admin  bool
		bot    bool
		rank   int
		inGame bool
		away   bool
	}{
		{"all clear", 0, false, false, 0, false, false},
		{"in game", 1, false, false, 0, true, false},
		{"away", 2, false, false, 0, false, true},
		{"rank 7", 28, false, false, 7, false, false},
		{"admin", 32, true, false, 0, false, false},
		{"bot", 64, false, true, 0, false, false},
		{"everything", 127, true, true, 7, true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := a.Decode("CLIENTSTATUS Flaka " + strconv.Itoa(tc.status))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			seen := ev.(protocol.UserSeen)
			if *seen.Admin != tc.admin || *seen.Bot != tc.bot || *seen.Rank != tc.rank ||
				*seen.InGame != tc.inGame || *seen.Away != tc.away {
				t.Fatalf("status %d decoded to %+v", tc.status, seen)
			}
			if seen.Country != nil || seen.CPU != nil {
				t.Fatal("CLIENTSTATUS must not carry country or cpu")
			}
			if !seen.UpdateOnly {
				t.Fatal("CLIENTSTATUS must not create directory users")
			}
		})
	}
}

func TestDecodeChatKeepsFreeTextIntact(t *testing.T) {
	a := New()

	ev, err := a.Decode("SAID weblobby Flaka hello  world   spaces")
	if err != nil {
		t.Fatalf("decode SAID: %v", err)
	}
	said := ev.(protocol.Said)
	if said.Place != protocol.SayChannel || said.Target != "weblobby" || said.Author != "Flaka" {
		t.Fatalf("unexpected SAID: %+v", said)
	}
	if said.Text != "hello  world   spaces" {
		t.Fatalf("free text mangled: %q", said.Text)
	}

	ev, _ = a.Decode("SAIDEX weblobby Flaka waves")
	if said := ev.(protocol.Said); !said.Emote {
		t.Fatal("SAIDEX should decode as emote")
	}

	ev, _ = a.Decode("SAIDPRIVATE Flaka psst over here")
	said = ev.(protocol.Said)
	if said.Place != protocol.SayPrivate || said.Author != "Flaka" || said.Text != "psst over here" {
		t.Fatalf("unexpected SAIDPRIVATE: %+v", said)
	}

	ev, _ = a.Decode("SAYPRIVATE Flaka my own words")
	said = ev.(protocol.Said)
	if !said.Echo || said.Target != "Flaka" || said.Text != "my own words" {
		t.Fatalf("unexpected SAYPRIVATE echo: %+v", said)
	}
}

func TestDecodeChannelTopic(t *testing.T) {
	a := New()

	ev, err := a.Decode("CHANNELTOPIC weblobby Admin 1700000000 Be nice to each other")
	if err != nil {
		t.Fatalf("decode CHANNELTOPIC: %v", err)
	}
	topic := ev.(protocol.ChannelTopic)
	if topic.Channel != "weblobby" || topic.Topic == nil {
		t.Fatalf("unexpected topic event: %+v", topic)
	}
	if topic.Topic.Text != "Be nice to each other" || topic.Topic.Author != "Admin" {
		t.Fatalf("unexpected topic: %+v", topic.Topic)
	}
	if !topic.Topic.SetAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected topic time: %v", topic.Topic.SetAt)
	}

	ev, _ = a.Decode("NOCHANNELTOPIC weblobby")
	if topic := ev.(protocol.ChannelTopic); topic.Topic != nil {
		t.Fatal("NOCHANNELTOPIC should clear the topic")
	}
}

func TestDecodeToleratesUnknownAndMalformed(t *testing.T) {
	a := New()

	ev, err := a.Decode("SERVERMSG MOTD of the day")
	if err != nil {
		t.Fatalf("unknown command should not error: %v", err)
	}
	if ig, ok := ev.(protocol.Ignored); !ok || ig.Type != "SERVERMSG" {
		t.Fatalf("expected Ignored, got %#v", ev)
	}

	for _, frame := range []string{"", "ADDUSER onlyname", "CLIENTSTATUS Flaka notanumber", "REDIRECT host notaport"} {
		_, err := a.Decode(frame)
		var decodeErr *protocol.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("frame %q: expected DecodeError, got %v", frame, err)
		}
	}
}

func TestEncodeLoginLine(t *testing.T) {
	a := New()

	frame, err := a.Encode(protocol.Login{Name: "Flaka", PasswordHash: "aGFzaA==", DeviceID: "12345"})
	if err != nil {
		t.Fatalf("encode login: %v", err)
	}
	want := "LOGIN Flaka aGFzaA== 7778 * SpringWebLobbyReactJS dev\t12345\tcl sp p et"
	if frame != want {
		t.Fatalf("login line = %q, want %q", frame, want)
	}
}

func TestEncodeCommands(t *testing.T) {
	a := New()

	cases := []struct {
		cmd  protocol.Command
		want string
	}{
		{protocol.Register{Name: "Flaka", PasswordHash: "aGFzaA=="}, "REGISTER Flaka aGFzaA=="},
		{protocol.Register{Name: "Flaka", PasswordHash: "aGFzaA==", Email: "f@example.org"}, "REGISTER Flaka aGFzaA== f@example.org"},
		{protocol.ConfirmAgreement{}, "CONFIRMAGREEMENT"},
		{protocol.Ping{}, "PING"},
		{protocol.Say{Place: protocol.SayChannel, Target: "weblobby", Text: "hi all"}, "SAY weblobby hi all"},
		{protocol.Say{Place: protocol.SayChannel, Target: "weblobby", Text: "waves", Emote: true}, "SAYEX weblobby waves"},
		{protocol.Say{Place: protocol.SayPrivate, Target: "Flaka", Text: "psst"}, "SAYPRIVATE Flaka psst"},
		{protocol.JoinChannel{Channel: "weblobby"}, "JOIN weblobby"},
		{protocol.JoinChannel{Channel: "secret", Password: "pw"}, "JOIN secret pw"},
		{protocol.LeaveChannel{Channel: "weblobby"}, "LEAVE weblobby"},
	}

	for _, tc := range cases {
		frame, err := a.Encode(tc.cmd)
		if err != nil {
			t.Fatalf("encode %T: %v", tc.cmd, err)
		}
		if frame != tc.want {
			t.Fatalf("encode %T = %q, want %q", tc.cmd, frame, tc.want)
		}
	}
}

func TestEncodeBattleCommandsUnsupported(t *testing.T) {
	a := New()

	for _, cmd := range []protocol.Command{
		protocol.JoinBattle{BattleID: 7},
		protocol.LeaveBattle{BattleID: 7},
		protocol.UpdateBattleStatus{Name: "Flaka"},
		protocol.Say{Place: protocol.SayBattle, Text: "gl hf"},
	} {
		if _, err := a.Encode(cmd); !errors.Is(err, protocol.ErrUnsupported) {
			t.Fatalf("encode %T: expected ErrUnsupported, got %v", cmd, err)
		}
	}
}

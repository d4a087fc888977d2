package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingAlerter struct{ rings int }

func (c *countingAlerter) Ring() { c.rings++ }

type recordingTranscript struct {
	lines map[string][]string
}

func (r *recordingTranscript) AppendLine(conversation, line string) {
	if r.lines == nil {
		r.lines = make(map[string][]string)
	}
	r.lines[conversation] = append(r.lines[conversation], line)
}

func newTestAggregator(alert Alerter) *Aggregator {
	logger := zerolog.Nop()
	return New(nil, alert, &logger)
}

func TestUnreadAccounting(t *testing.T) {
	a := newTestAggregator(nil)
	a.SyncChannels(map[string]bool{"main": true, "weblobby": true})
	a.Select("#main")

	a.SaidChannel("main", "ghost", "visible right away", false)
	if got := a.Snapshot()["#main"].Unread; got != 0 {
		t.Fatalf("focused conversation unread = %d, want 0", got)
	}

	a.SaidChannel("weblobby", "ghost", "one", false)
	a.SaidChannel("weblobby", "ghost", "two", false)
	if got := a.Snapshot()["#weblobby"].Unread; got != 2 {
		t.Fatalf("unfocused conversation unread = %d, want 2", got)
	}

	a.Select("#weblobby")
	if got := a.Snapshot()["#weblobby"].Unread; got != 0 {
		t.Fatalf("unread after select = %d, want 0", got)
	}
	a.Select("#main")
	a.SaidChannel("weblobby", "ghost", "three", false)
	a.Select("#weblobby")
	a.SaidChannel("weblobby", "ghost", "four", false)
	if got := a.Snapshot()["#weblobby"].Unread; got != 0 {
		t.Fatalf("unread while focused with cleared backlog = %d, want 0", got)
	}
}

func TestMentionRingsWithLiteralNick(t *testing.T) {
	alert := &countingAlerter{}
	a := newTestAggregator(alert)
	a.SetNick("[Fl]aka")
	a.SyncChannels(map[string]bool{"main": true, "other": true})
	a.Select("#main")

	a.SaidChannel("other", "ghost", "nothing to see", false)
	if alert.rings != 0 {
		t.Fatalf("rings after plain channel chat = %d, want 0", alert.rings)
	}
	if a.Snapshot()["#other"].NeedAttention {
		t.Fatal("plain channel chat must not demand attention")
	}

	a.SaidChannel("other", "ghost", "hey [fl]AKA, got a minute?", false)
	if alert.rings != 1 {
		t.Fatalf("rings after mention = %d, want 1", alert.rings)
	}
	if !a.Snapshot()["#other"].NeedAttention {
		t.Fatal("mention must demand attention")
	}

	// Focused conversations never ring.
	a.SaidChannel("main", "ghost", "[Fl]aka ping", false)
	if alert.rings != 1 {
		t.Fatalf("rings after focused mention = %d, want 1", alert.rings)
	}
}

func TestPrivateMessagesAlwaysRing(t *testing.T) {
	alert := &countingAlerter{}
	a := newTestAggregator(alert)
	a.SetNick("Flaka")
	a.SyncChannels(map[string]bool{"main": true})
	a.Select("#main")

	a.SaidPrivate("ghost", "psst", false)
	if alert.rings != 1 {
		t.Fatalf("rings after private = %d, want 1", alert.rings)
	}
	lg, ok := a.Snapshot()["ghost"]
	if !ok || !lg.NeedAttention || lg.Unread != 1 {
		t.Fatalf("unexpected private log: %+v", lg)
	}
}

func TestRelayBotSuppressedUnlessOpen(t *testing.T) {
	a := newTestAggregator(nil)
	a.SetNick("Flaka")

	a.SaidPrivate("Nightwatch", "!pm|main|ghost|offline msg", false)
	if _, ok := a.Snapshot()["Nightwatch"]; ok {
		t.Fatal("relay bot traffic must not open a conversation")
	}

	a.OpenPrivate("Nightwatch")
	a.SaidPrivate("Nightwatch", "queued your message", false)
	lg := a.Snapshot()["Nightwatch"]
	if len(lg.Entries) != 1 {
		t.Fatalf("entries in open relay conversation = %d, want 1", len(lg.Entries))
	}
}

func TestSelectFallsBackDeterministically(t *testing.T) {
	a := newTestAggregator(nil)
	a.SyncChannels(map[string]bool{"zeta": true, "alpha": true})

	a.OpenPrivate("ghost")
	if a.Selected() != "ghost" {
		t.Fatalf("selection after open = %q, want ghost", a.Selected())
	}

	// Closing the focused conversation falls back to the smallest key.
	a.ClosePrivate("ghost")
	if got := a.Selected(); got != "#alpha" {
		t.Fatalf("selection after close = %q, want #alpha", got)
	}

	a.SyncChannels(map[string]bool{})
	if a.Selected() != "" {
		t.Fatalf("selection with no logs = %q, want empty", a.Selected())
	}
}

func TestSyncChannelsPreservesBattleRoomAndPrivates(t *testing.T) {
	a := newTestAggregator(nil)
	a.SyncChannels(map[string]bool{"main": true})
	a.SaidBattle("ghost", "gl hf", false)
	a.OpenPrivate("ghost")

	a.SyncChannels(map[string]bool{})
	snap := a.Snapshot()
	if _, ok := snap["#main"]; ok {
		t.Fatal("closed channel log must be dropped")
	}
	if _, ok := snap[BattleRoom]; !ok {
		t.Fatal("battle room log must survive channel reconciliation")
	}
	if _, ok := snap["ghost"]; !ok {
		t.Fatal("private log must survive channel reconciliation")
	}
}

func TestTranscriptDateSeparator(t *testing.T) {
	rec := &recordingTranscript{}
	logger := zerolog.Nop()
	a := New(rec, nil, &logger)
	a.SyncChannels(map[string]bool{"main": true})

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	a.AddEntry("#main", Entry{ID: "1", Author: "ghost", Text: "morning", Time: base, Kind: KindNormal})
	a.AddEntry("#main", Entry{ID: "2", Author: "ghost", Text: "still here", Time: base.Add(time.Hour), Kind: KindNormal})
	a.AddEntry("#main", Entry{ID: "3", Author: "ghost", Text: "back again", Time: base.Add(8 * time.Hour), Kind: KindEmote})

	lines := rec.lines["#main"]
	if len(lines) != 5 {
		t.Fatalf("transcript lines = %d, want 5: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "*** ") {
		t.Fatalf("first line should be a date separator: %q", lines[0])
	}
	if strings.HasPrefix(lines[2], "*** ") {
		t.Fatalf("no separator expected within the window: %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "*** ") {
		t.Fatalf("separator expected after a long gap: %q", lines[3])
	}
	if !strings.Contains(lines[4], "* ghost back again") {
		t.Fatalf("emote line misformatted: %q", lines[4])
	}
}

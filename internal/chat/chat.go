// Package chat maintains per-conversation transcripts, the selected
// conversation, unread counters and mention alerts.
//
// Conversation keys are "#channel" for channels, a plain user name for
// private conversations and the reserved "##battleroom" for the battle room.
package chat

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BattleRoom is the reserved conversation key for battle-room chat.
const BattleRoom = "##battleroom"

// relayBot forwards private messages to offline users; its own traffic is
// dropped unless a conversation with it is already open.
const relayBot = "Nightwatch"

// dateSeparatorAfter is how long without persisted entries before a date
// line is written to the transcript.
const dateSeparatorAfter = 6 * time.Hour

// Kind classifies a chat entry.
type Kind int

const (
	KindNormal Kind = iota
	KindEmote
	KindSystem
)

// Entry is one chat message.
type Entry struct {
	ID     string
	Author string
	Text   string
	Time   time.Time
	Kind   Kind
}

// Log is the transcript of one conversation.
type Log struct {
	Entries       []Entry
	Unread        int
	NeedAttention bool
}

// Transcript persists formatted lines to a per-conversation file.
// Implementations are fire-and-forget; failures must not propagate.
type Transcript interface {
	AppendLine(conversation, line string)
}

// Alerter plays the attention cue.
type Alerter interface {
	Ring()
}

// Aggregator owns all chat state. It is not safe for concurrent use; the
// engine calls it from its single processing goroutine.
type Aggregator struct {
	logs     map[string]*Log
	selected string
	nick     string
	mention  *regexp.Regexp

	lastLogDate map[string]time.Time
	transcript  Transcript
	alert       Alerter
	log         *zerolog.Logger
}

// New constructs an empty aggregator. transcript and alert may be nil.
func New(transcript Transcript, alert Alerter, logger *zerolog.Logger) *Aggregator {
	return &Aggregator{
		logs:        make(map[string]*Log),
		lastLogDate: make(map[string]time.Time),
		transcript:  transcript,
		alert:       alert,
		log:         logger,
	}
}

// SetNick updates the local nickname used for mention detection. Special
// regex characters in the nickname match literally.
func (a *Aggregator) SetNick(nick string) {
	a.nick = nick
	a.mention = nil
	if nick != "" {
		a.mention = regexp.MustCompile("(?i)" + regexp.QuoteMeta(nick))
	}
}

// SyncChannels reconciles logs with the set of currently joined channels:
// logs for closed channels are dropped, new channels get an empty log and
// become the selection.
func (a *Aggregator) SyncChannels(channels map[string]bool) {
	for key := range a.logs {
		if strings.HasPrefix(key, "#") && key != BattleRoom && !channels[key[1:]] {
			delete(a.logs, key)
		}
	}
	for name := range channels {
		key := "#" + name
		if a.logs[key] == nil {
			a.logs[key] = &Log{}
			a.selected = key
		}
	}
	a.autoSelect()
}

// autoSelect picks a fallback selection if the current one closed. Smallest
// key first, for determinism.
func (a *Aggregator) autoSelect() {
	if a.logs[a.selected] != nil {
		return
	}
	keys := make([]string, 0, len(a.logs))
	for key := range a.logs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		a.selected = keys[0]
	} else {
		a.selected = ""
	}
}

// AddEntry appends an entry to the named conversation, creating it if
// absent, and updates unread/attention accounting.
func (a *Aggregator) AddEntry(conversation string, entry Entry) {
	lg := a.logs[conversation]
	if lg == nil {
		lg = &Log{}
		a.logs[conversation] = lg
	}

	if conversation != a.selected {
		if !strings.HasPrefix(conversation, "#") ||
			(a.mention != nil && a.mention.MatchString(entry.Text)) {
			lg.NeedAttention = true
			if a.alert != nil {
				a.alert.Ring()
			}
		}
	}

	// Once unread starts accumulating it keeps accumulating until the
	// conversation is selected again.
	if conversation != a.selected || lg.Unread > 0 {
		lg.Unread++
	}

	a.persist(conversation, entry)
	lg.Entries = append(lg.Entries, entry)
}

// persist writes the entry to the transcript, preceded by a date separator
// when enough time has passed since the last persisted line.
func (a *Aggregator) persist(conversation string, entry Entry) {
	if a.transcript == nil {
		return
	}

	if last, ok := a.lastLogDate[conversation]; !ok || entry.Time.Sub(last) > dateSeparatorAfter {
		a.lastLogDate[conversation] = entry.Time
		a.transcript.AppendLine(conversation, "*** "+entry.Time.Format("Mon Jan 2 15:04:05 2006"))
	}

	stamp := entry.Time.Format("[15:04:05]")
	switch entry.Kind {
	case KindNormal:
		a.transcript.AppendLine(conversation, stamp+" <"+entry.Author+"> "+entry.Text)
	case KindEmote:
		a.transcript.AppendLine(conversation, stamp+" * "+entry.Author+" "+entry.Text)
	}
}

// Select focuses a conversation, clearing its unread and attention state.
// An unknown conversation falls back to the first available one.
func (a *Aggregator) Select(conversation string) {
	if lg := a.logs[a.selected]; lg != nil {
		lg.Unread = 0
	}

	if a.logs[conversation] != nil {
		a.selected = conversation
	} else {
		a.autoSelect()
	}

	if lg := a.logs[a.selected]; lg != nil {
		lg.Unread = 0
		lg.NeedAttention = false
	}
}

// Selected returns the focused conversation key, or "".
func (a *Aggregator) Selected() string { return a.selected }

func (a *Aggregator) newEntry(author, text string, emote bool) Entry {
	kind := KindNormal
	if emote {
		kind = KindEmote
	}
	return Entry{
		ID:     uuid.NewString(),
		Author: author,
		Text:   text,
		Time:   time.Now(),
		Kind:   kind,
	}
}

// SaidChannel records a message said in a channel.
func (a *Aggregator) SaidChannel(channel, author, text string, emote bool) {
	a.AddEntry("#"+channel, a.newEntry(author, text, emote))
}

// SaidPrivate records an inbound private message.
func (a *Aggregator) SaidPrivate(author, text string, emote bool) {
	if author == relayBot && a.logs[author] == nil {
		return
	}
	a.AddEntry(author, a.newEntry(author, text, emote))
}

// SentPrivate records the delivered copy of our own private message.
func (a *Aggregator) SentPrivate(peer, text string, emote bool) {
	if peer == relayBot && a.logs[peer] == nil {
		return
	}
	a.AddEntry(peer, a.newEntry(a.nick, text, emote))
}

// SaidBattle records a battle-room message.
func (a *Aggregator) SaidBattle(author, text string, emote bool) {
	a.AddEntry(BattleRoom, a.newEntry(author, text, emote))
}

// OpenPrivate creates (if needed) and focuses a private conversation.
func (a *Aggregator) OpenPrivate(user string) {
	if a.logs[user] == nil {
		a.logs[user] = &Log{}
	}
	a.Select(user)
}

// ClosePrivate discards a private conversation.
func (a *Aggregator) ClosePrivate(user string) {
	delete(a.logs, user)
	a.autoSelect()
}

// Snapshot returns a deep copy of all logs for external consumers.
func (a *Aggregator) Snapshot() map[string]Log {
	out := make(map[string]Log, len(a.logs))
	for key, lg := range a.logs {
		entries := make([]Entry, len(lg.Entries))
		copy(entries, lg.Entries)
		out[key] = Log{
			Entries:       entries,
			Unread:        lg.Unread,
			NeedAttention: lg.NeedAttention,
		}
	}
	return out
}

// Package lobby implements the lobby state synchronization engine: it owns
// the connection lifecycle, applies incremental server updates to the
// in-memory model and emits coalesced change notifications.
//
// One goroutine owns all state. Inbound frames, keepalive ticks and UI
// actions funnel through a single inbox, so handlers run strictly
// serialized and need no locks.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/weblobby/weblobby-client/internal/chat"
	"github.com/weblobby/weblobby-client/internal/protocol"
	"github.com/weblobby/weblobby-client/internal/store"
	"github.com/weblobby/weblobby-client/internal/transport"
)

const (
	// syncWindow is how long mutation bursts are coalesced before one
	// notification fires.
	syncWindow = 100 * time.Millisecond
	// maxLostPings unacknowledged pings beyond this force a reconnect.
	maxLostPings = 4
	// defaultReconnectDelay paces the unbounded reconnect loop.
	defaultReconnectDelay = 5 * time.Second
)

// Reporter surfaces unrecoverable denials to the user. Presentation is the
// collaborator's concern.
type Reporter interface {
	ReportBlocking(msg string)
}

// Options wires an Engine to its collaborators.
type Options struct {
	Addr      string
	Adapter   protocol.Adapter
	Transport transport.Transport
	Store     store.Store
	Reporter  Reporter

	// Transcript and Alert are optional chat collaborators.
	Transcript chat.Transcript
	Alert      chat.Alerter

	Logger *zerolog.Logger

	// OnState and OnChat receive coalesced snapshots. Optional.
	OnState func(Snapshot)
	OnChat  func(ChatSnapshot)

	// ReconnectDelay overrides the pacing of the reconnect loop.
	ReconnectDelay time.Duration
}

type dirtyKind int

const (
	dirtyState dirtyKind = iota
	dirtyChat
)

// input is anything the engine goroutine consumes: frames, connection
// lifecycle notices and UI actions.
type input interface{ isInput() }

type frameInput struct {
	gen  int
	line string
}

type connUpInput struct {
	gen  int
	conn transport.Conn
}

type connDownInput struct {
	gen int
	err error
}

type dialFailedInput struct {
	gen int
	err error
}

type actionInput struct{ fn func() }

func (frameInput) isInput()      {}
func (connUpInput) isInput()     {}
func (connDownInput) isInput()   {}
func (dialFailedInput) isInput() {}
func (actionInput) isInput()     {}

// Engine is the lobby client core. Construct with New, drive with Run,
// interact through the action methods; snapshots arrive via Options.OnState
// and Options.OnChat.
type Engine struct {
	addr           string
	adapter        protocol.Adapter
	transport      transport.Transport
	store          store.Store
	reporter       Reporter
	log            *zerolog.Logger
	onState        func(Snapshot)
	onChat         func(ChatSnapshot)
	reconnectDelay time.Duration
	clock          func() time.Time

	inbox chan input
	done  chan struct{}

	// Everything below is owned by the run loop.
	ctx           context.Context
	conn          transport.Conn
	connGen       int
	dialing       bool
	wantConnected bool
	connState     ConnectionState
	lostPings     int
	session       session
	dir           *directory
	chat          *chat.Aggregator

	stateDirty  bool
	chatDirty   bool
	syncPending bool
	syncTimer   *time.Timer
}

// New constructs an engine. Run must be called before actions have any
// effect.
func New(opts Options) (*Engine, error) {
	if opts.Adapter == nil || opts.Transport == nil || opts.Store == nil {
		return nil, errors.New("lobby: adapter, transport and store are required")
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.Reporter == nil {
		opts.Reporter = logReporter{opts.Logger}
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}

	e := &Engine{
		addr:           opts.Addr,
		adapter:        opts.Adapter,
		transport:      opts.Transport,
		store:          opts.Store,
		reporter:       opts.Reporter,
		log:            opts.Logger,
		onState:        opts.OnState,
		onChat:         opts.OnChat,
		reconnectDelay: opts.ReconnectDelay,
		clock:          time.Now,
		inbox:          make(chan input, 256),
		done:           make(chan struct{}),
	}
	e.dir = newDirectory(func() time.Time { return e.clock() }, opts.Logger)
	e.chat = chat.New(opts.Transcript, opts.Alert, opts.Logger)
	return e, nil
}

// logReporter is the default Reporter.
type logReporter struct{ log *zerolog.Logger }

func (r logReporter) ReportBlocking(msg string) {
	r.log.Error().Msg(msg)
}

// Done closes when the run loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Run processes inputs until ctx is cancelled. It owns all engine state;
// call it exactly once.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	e.ctx = ctx

	keepalive := time.NewTicker(e.adapter.KeepaliveInterval())
	defer keepalive.Stop()

	e.syncTimer = time.NewTimer(syncWindow)
	if !e.syncTimer.Stop() {
		<-e.syncTimer.C
	}
	defer e.syncTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return
		case in := <-e.inbox:
			e.dispatch(in)
		case <-keepalive.C:
			e.pingPong()
		case <-e.syncTimer.C:
			e.syncPending = false
			e.flushSync()
		}
	}
}

// teardown stops the connection and lets a pending notification fire once
// more with final state. Nothing fires after Run returns.
func (e *Engine) teardown() {
	e.wantConnected = false
	e.dropConn()
	if e.stateDirty || e.chatDirty {
		e.flushSync()
	}
}

// post hands an action to the run loop; dropped once the engine stopped.
func (e *Engine) post(fn func()) {
	select {
	case e.inbox <- actionInput{fn: fn}:
	case <-e.done:
	}
}

func (e *Engine) dispatch(in input) {
	switch in := in.(type) {
	case frameInput:
		if in.gen != e.connGen {
			return // stale connection
		}
		ev, err := e.adapter.Decode(in.line)
		if err != nil {
			// Malformed frames are dropped; processing continues.
			e.log.Warn().Err(err).Msg("drop malformed frame")
			return
		}
		e.handleEvent(ev)
	case connUpInput:
		e.onConnUp(in)
	case connDownInput:
		e.onConnDown(in)
	case dialFailedInput:
		e.onDialFailed(in)
	case actionInput:
		in.fn()
	}
}

// ==== connection lifecycle ====

func (e *Engine) startDial() {
	if e.dialing || e.conn != nil {
		return
	}
	e.dialing = true
	e.connGen++
	gen := e.connGen
	addr := e.addr

	go func() {
		conn, err := e.transport.Dial(e.ctx, addr)
		if err != nil {
			e.deliver(dialFailedInput{gen: gen, err: err})
			return
		}
		e.deliver(connUpInput{gen: gen, conn: conn})
	}()
}

// deliver feeds a connection-sourced input into the loop unless the engine
// has stopped.
func (e *Engine) deliver(in input) {
	select {
	case e.inbox <- in:
	case <-e.done:
		if up, ok := in.(connUpInput); ok {
			up.conn.Close()
		}
	}
}

func (e *Engine) onConnUp(in connUpInput) {
	if in.gen != e.connGen {
		in.conn.Close()
		return
	}
	e.dialing = false
	if !e.wantConnected {
		in.conn.Close()
		return
	}
	e.conn = in.conn
	e.connState = Connecting
	e.lostPings = 0
	e.log.Info().Str("addr", e.addr).Msg("transport connected")
	e.markDirty(dirtyState)

	go func(gen int, c transport.Conn) {
		for line := range c.Frames() {
			e.deliver(frameInput{gen: gen, line: line})
		}
		e.deliver(connDownInput{gen: gen, err: c.Err()})
	}(in.gen, in.conn)
}

func (e *Engine) onDialFailed(in dialFailedInput) {
	if in.gen != e.connGen {
		return
	}
	e.dialing = false
	e.log.Warn().Err(in.err).Str("addr", e.addr).Msg("connect failed")
	e.scheduleReconnect()
}

func (e *Engine) onConnDown(in connDownInput) {
	if in.gen != e.connGen {
		return
	}
	e.conn = nil
	e.resetAfterDisconnect()
	if in.err != nil {
		e.log.Warn().Err(in.err).Msg("connection lost")
	}
	e.scheduleReconnect()
}

// dropConn closes the current connection and resets session state. Bumping
// the generation makes any in-flight dial or pump notice stale.
func (e *Engine) dropConn() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connGen++
	e.dialing = false
	e.resetAfterDisconnect()
}

// resetAfterDisconnect clears everything except chat history, which is
// deliberately retained across reconnects.
func (e *Engine) resetAfterDisconnect() {
	if e.connState != Disconnected || len(e.dir.users) > 0 {
		e.markDirty(dirtyState)
	}
	e.connState = Disconnected
	e.lostPings = 0
	e.session.reset()
	e.dir.reset()
}

func (e *Engine) scheduleReconnect() {
	if !e.wantConnected {
		return
	}
	// Unbounded retry with fixed pacing; no backoff.
	time.AfterFunc(e.reconnectDelay, func() {
		e.post(func() {
			if e.wantConnected {
				e.startDial()
			}
		})
	})
}

// pingPong runs on every keepalive tick: reconnect after too many silent
// pings, otherwise probe the server.
func (e *Engine) pingPong() {
	if e.lostPings > maxLostPings {
		e.lostPings = 0
		e.log.Warn().Msg("lost connection to server, reconnecting")
		e.dropConn()
		e.startDial()
		return
	}
	if e.connState == Connected {
		e.send(protocol.Ping{})
		e.lostPings++
	}
}

// send encodes and transmits a command. Commands the backend cannot express
// and transport failures degrade to log lines.
func (e *Engine) send(cmd protocol.Command) {
	if e.conn == nil {
		e.log.Debug().Type("command", cmd).Msg("send while disconnected")
		return
	}
	frame, err := e.adapter.Encode(cmd)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupported) {
			e.log.Debug().Type("command", cmd).Msg("command unsupported by backend")
		} else {
			e.log.Error().Err(err).Type("command", cmd).Msg("encode command")
		}
		return
	}
	if err := e.conn.Send(frame); err != nil {
		e.log.Warn().Err(err).Msg("send frame")
	}
}

// ==== inbound events ====

func (e *Engine) handleEvent(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.Ignored:
		e.log.Debug().Str("type", ev.Type).Msg("ignoring unknown message")

	case protocol.Greeting:
		e.greet()
	case protocol.LoginAccepted:
		e.onLoginAccepted()
		e.markDirty(dirtyState)
	case protocol.LoginDenied:
		e.onDenied("Login", ev.Reason)
		e.markDirty(dirtyState)
	case protocol.RegistrationAccepted:
		e.onRegistrationAccepted()
	case protocol.RegistrationDenied:
		e.onDenied("Registration", ev.Reason)
		e.markDirty(dirtyState)
	case protocol.AgreementChunk:
		e.session.agreement.WriteString(ev.Text)
		e.session.agreement.WriteString("\n")
		e.markDirty(dirtyState)
	case protocol.Pong:
		e.lostPings = 0
	case protocol.Redirect:
		e.addr = net.JoinHostPort(ev.Host, strconv.Itoa(ev.Port))
		e.log.Info().Str("addr", e.addr).Msg("server redirect")
		e.dropConn()
		e.startDial()
		e.markDirty(dirtyState)

	case protocol.UserSeen:
		e.dir.applyUserSeen(ev)
		e.markDirty(dirtyState)
	case protocol.UserLeft:
		e.dir.applyUserLeft(ev)
		e.markDirty(dirtyState)

	case protocol.ChannelJoined:
		e.dir.applyChannelJoined(ev)
		e.chat.SyncChannels(e.dir.channelNames())
		e.markDirty(dirtyState)
		e.markDirty(dirtyChat)
	case protocol.ChannelJoinFailed:
		e.reporter.ReportBlocking(fmt.Sprintf("Couldn't join channel %s: %s", ev.Channel, ev.Reason))
	case protocol.ChannelTopic:
		e.dir.applyChannelTopic(ev)
		e.markDirty(dirtyState)
	case protocol.ChannelClients:
		e.dir.applyChannelClients(ev)
		e.markDirty(dirtyState)
	case protocol.ChannelUserJoined:
		e.dir.applyChannelUserJoined(ev)
		e.markDirty(dirtyState)
	case protocol.ChannelUserLeft:
		e.dir.applyChannelUserLeft(ev)
		e.markDirty(dirtyState)

	case protocol.Said:
		e.handleSaid(ev)
		e.markDirty(dirtyChat)

	case protocol.BattleUpdated:
		e.dir.applyBattleUpdated(ev)
		e.markDirty(dirtyState)
	case protocol.BattleClosed:
		e.dir.applyBattleClosed(ev)
		e.markDirty(dirtyState)
	case protocol.BattleUserJoined:
		e.dir.applyBattleUserJoined(ev, e.session.nick)
		e.markDirty(dirtyState)
	case protocol.BattleUserLeft:
		e.dir.applyBattleUserLeft(ev, e.session.nick)
		e.markDirty(dirtyState)
	case protocol.BattleStatus:
		e.dir.applyBattleStatus(ev)
		e.markDirty(dirtyState)
	case protocol.BotRemoved:
		e.dir.applyBotRemoved(ev)
		e.markDirty(dirtyState)
	}
}

func (e *Engine) handleSaid(ev protocol.Said) {
	switch ev.Place {
	case protocol.SayChannel:
		e.chat.SaidChannel(ev.Target, ev.Author, ev.Text, ev.Emote)
	case protocol.SayPrivate:
		if ev.Echo || ev.Author == e.session.nick {
			e.chat.SentPrivate(ev.Target, ev.Text, ev.Emote)
		} else {
			e.chat.SaidPrivate(ev.Author, ev.Text, ev.Emote)
		}
	case protocol.SayBattle:
		e.chat.SaidBattle(ev.Author, ev.Text, ev.Emote)
	}
}

// ==== actions (UI surface) ====

// Connect starts connecting and keeps reconnecting until Disconnect.
func (e *Engine) Connect() {
	e.post(func() {
		e.wantConnected = true
		e.startDial()
	})
}

// Disconnect drops the connection and stops the reconnect loop.
func (e *Engine) Disconnect() {
	e.post(func() {
		e.wantConnected = false
		e.dropConn()
		e.markDirty(dirtyState)
	})
}

// SetCredentials validates and stores the account used for the next login.
func (e *Engine) SetCredentials(ctx context.Context, name, password string) error {
	if err := validateCredentials(name, password); err != nil {
		return err
	}
	if err := e.store.SaveCredentials(ctx, store.Credentials{Name: name, Password: password}); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	e.post(func() { e.session.needNewLogin = false })
	return nil
}

// Register connects and registers a new account; on success the
// credentials are stored and the engine logs in with them.
func (e *Engine) Register(name, password, email string) error {
	if err := validateCredentials(name, password); err != nil {
		return err
	}
	e.post(func() {
		e.session.registering = &registration{name: name, password: password, email: email}
		e.wantConnected = true
		e.startDial()
	})
	return nil
}

// AcceptAgreement confirms or refuses the server's terms. Refusal
// disconnects.
func (e *Engine) AcceptAgreement(accept bool) {
	e.post(func() {
		if accept {
			e.send(protocol.ConfirmAgreement{})
			e.login()
		} else {
			e.wantConnected = false
			e.dropConn()
		}
		e.session.agreement.Reset()
		e.markDirty(dirtyState)
	})
}

// SayChannel sends a channel message. No-op unless the channel is joined.
func (e *Engine) SayChannel(channel, text string, emote bool) {
	e.post(func() {
		if _, ok := e.dir.channels[channel]; !ok {
			return
		}
		e.send(protocol.Say{
			Place:  protocol.SayChannel,
			Target: channel,
			Author: e.session.nick,
			Text:   text,
			Emote:  emote,
		})
	})
}

// SayPrivate sends a private message. Offline targets are relayed through
// the lobby's messenger bot.
func (e *Engine) SayPrivate(user, text string) {
	e.post(func() {
		if _, ok := e.dir.users[user]; ok {
			e.send(protocol.Say{
				Place:  protocol.SayPrivate,
				Target: user,
				Author: e.session.nick,
				Text:   text,
			})
		} else if user != "" {
			e.send(protocol.Say{
				Place:  protocol.SayPrivate,
				Target: "Nightwatch",
				Author: e.session.nick,
				Text:   "!pm " + user + " " + text,
			})
		}
	})
}

// SayBattle sends a battle-room message. No-op outside a battle.
func (e *Engine) SayBattle(text string, emote bool) {
	e.post(func() {
		if e.dir.current == nil {
			return
		}
		e.send(protocol.Say{
			Place:  protocol.SayBattle,
			Author: e.session.nick,
			Text:   text,
			Emote:  emote,
		})
	})
}

// JoinChannel asks the server to join a channel. No-op if already joined.
func (e *Engine) JoinChannel(channel, password string) {
	e.post(func() {
		if _, ok := e.dir.channels[channel]; ok {
			return
		}
		e.send(protocol.JoinChannel{Channel: channel, Password: password})
	})
}

// LeaveChannel leaves a joined channel and drops its log.
func (e *Engine) LeaveChannel(channel string) {
	e.post(func() {
		if _, ok := e.dir.channels[channel]; !ok {
			return
		}
		e.send(protocol.LeaveChannel{Channel: channel})
		e.dir.removeChannel(channel)
		e.chat.SyncChannels(e.dir.channelNames())
		e.markDirty(dirtyState)
		e.markDirty(dirtyChat)
	})
}

// SubscribeChannel adds or removes a channel from the autojoin list.
func (e *Engine) SubscribeChannel(ctx context.Context, channel string, subscribed bool) error {
	return e.store.SetChannelSubscription(ctx, channel, subscribed)
}

// JoinBattle enters a game room.
func (e *Engine) JoinBattle(id int, password string) {
	e.post(func() {
		e.send(protocol.JoinBattle{BattleID: id, Password: password})
	})
}

// LeaveBattle exits the current game room. No-op outside a battle.
func (e *Engine) LeaveBattle() {
	e.post(func() {
		if e.dir.current == nil {
			return
		}
		e.send(protocol.LeaveBattle{BattleID: e.dir.current.ID})
	})
}

// UpdateMyBattleStatus publishes our battle-scoped state. No-op outside a
// battle.
func (e *Engine) UpdateMyBattleStatus(ally, team int, spectator, synced bool) {
	e.post(func() {
		if e.dir.current == nil {
			return
		}
		e.send(protocol.UpdateBattleStatus{
			Name:      e.session.nick,
			Ally:      ally,
			Team:      team,
			Spectator: spectator,
			Synced:    synced,
		})
	})
}

// SelectConversation focuses a conversation, clearing its unread state.
func (e *Engine) SelectConversation(id string) {
	e.post(func() {
		e.chat.Select(id)
		e.markDirty(dirtyChat)
	})
}

// OpenPrivate opens (and focuses) a private conversation.
func (e *Engine) OpenPrivate(user string) {
	e.post(func() {
		e.chat.OpenPrivate(user)
		e.markDirty(dirtyChat)
	})
}

// ClosePrivate discards a private conversation.
func (e *Engine) ClosePrivate(user string) {
	e.post(func() {
		e.chat.ClosePrivate(user)
		e.markDirty(dirtyChat)
	})
}

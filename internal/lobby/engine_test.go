package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/weblobby/weblobby-client/internal/protocol"
	"github.com/weblobby/weblobby-client/internal/protocol/tas"
	"github.com/weblobby/weblobby-client/internal/protocol/zk"
	"github.com/weblobby/weblobby-client/internal/store"
	"github.com/weblobby/weblobby-client/internal/transport"
)

type fakeConn struct {
	frames chan string

	mu     sync.Mutex
	sent   []string
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan string, 256)}
}

func (c *fakeConn) Frames() <-chan string { return c.frames }

func (c *fakeConn) Send(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("send on closed conn")
	}
	c.sent = append(c.sent, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

func (c *fakeConn) Err() error { return nil }

func (c *fakeConn) sentFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) push(frame string) { c.frames <- frame }

type fakeTransport struct {
	mu    sync.Mutex
	queue []*fakeConn
	dials int
}

func (t *fakeTransport) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if len(t.queue) == 0 {
		return nil, errors.New("no server")
	}
	conn := t.queue[0]
	t.queue = t.queue[1:]
	return conn, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

type memStore struct {
	mu       sync.Mutex
	creds    *store.Credentials
	deviceID string
	autojoin []string
}

func (s *memStore) Credentials(ctx context.Context) (store.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return store.Credentials{}, store.ErrNotFound
	}
	return *s.creds, nil
}

func (s *memStore) SaveCredentials(ctx context.Context, creds store.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &creds
	return nil
}

func (s *memStore) DeviceID(ctx context.Context) (string, error) {
	return s.deviceID, nil
}

func (s *memStore) AutojoinChannels(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.autojoin...), nil
}

func (s *memStore) SetChannelSubscription(ctx context.Context, channel string, subscribed bool) error {
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) stored() *store.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

type recordingReporter struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingReporter) ReportBlocking(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingReporter) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

// stateCapture collects every state snapshot the notifier emits.
type stateCapture struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (c *stateCapture) capture(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *stateCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func (c *stateCapture) last() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snaps) == 0 {
		return Snapshot{}, false
	}
	return c.snaps[len(c.snaps)-1], true
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type testHarness struct {
	engine    *Engine
	conn      *fakeConn
	transport *fakeTransport
	store     *memStore
	reporter  *recordingReporter
	states    *stateCapture
	chats     *stateChatCapture
	cancel    context.CancelFunc
}

type stateChatCapture struct {
	mu    sync.Mutex
	snaps []ChatSnapshot
}

func (c *stateChatCapture) capture(s ChatSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *stateChatCapture) last() (ChatSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snaps) == 0 {
		return ChatSnapshot{}, false
	}
	return c.snaps[len(c.snaps)-1], true
}

func startHarness(t *testing.T, st *memStore, adapter protocol.Adapter) *testHarness {
	t.Helper()

	h := &testHarness{
		conn:      newFakeConn(),
		transport: &fakeTransport{},
		store:     st,
		reporter:  &recordingReporter{},
		states:    &stateCapture{},
		chats:     &stateChatCapture{},
	}
	h.transport.queue = []*fakeConn{h.conn}

	engine, err := New(Options{
		Addr:           "test:8200",
		Adapter:        adapter,
		Transport:      h.transport,
		Store:          st,
		Reporter:       h.reporter,
		OnState:        h.states.capture,
		OnChat:         h.chats.capture,
		ReconnectDelay: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = engine

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go engine.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-engine.Done()
	})

	return h
}

// connect drives the harness through dial and login to the Connected state.
func (h *testHarness) connect(t *testing.T) {
	t.Helper()
	h.engine.Connect()
	waitFor(t, "dial", func() bool { return h.transport.dialCount() == 1 })
	h.conn.push("Welcome {}")
	waitFor(t, "login frame", func() bool {
		for _, frame := range h.conn.sentFrames() {
			if strings.HasPrefix(frame, "Login ") {
				return true
			}
		}
		return false
	})
	h.conn.push(`LoginResponse {"ResultCode":0}`)
	waitFor(t, "connected state", func() bool {
		snap, ok := h.states.last()
		return ok && snap.Connection == Connected
	})
}

func TestLoginHandshake(t *testing.T) {
	st := &memStore{deviceID: "12345", autojoin: []string{"main"}}
	st.creds = &store.Credentials{Name: "Flaka", Password: "hunter2"}
	h := startHarness(t, st, zk.New())
	h.connect(t)

	var loginPayload string
	for _, frame := range h.conn.sentFrames() {
		if rest, ok := strings.CutPrefix(frame, "Login "); ok {
			loginPayload = rest
		}
	}
	var msg struct {
		Name         string
		PasswordHash string
		UserID       int
	}
	if err := json.Unmarshal([]byte(loginPayload), &msg); err != nil {
		t.Fatalf("login payload: %v", err)
	}
	if msg.Name != "Flaka" || msg.PasswordHash != HashPassword("hunter2") || msg.UserID != 12345 {
		t.Fatalf("unexpected login payload: %+v", msg)
	}

	snap, _ := h.states.last()
	if snap.Nick != "Flaka" || snap.NeedNewLogin {
		t.Fatalf("unexpected snapshot after login: %+v", snap)
	}

	// Subscribed channels are rejoined right after login.
	waitFor(t, "autojoin frame", func() bool {
		for _, frame := range h.conn.sentFrames() {
			if strings.HasPrefix(frame, "JoinChannel ") && strings.Contains(frame, `"main"`) {
				return true
			}
		}
		return false
	})
}

func TestChannelJoinReachesSnapshots(t *testing.T) {
	st := &memStore{deviceID: "1"}
	st.creds = &store.Credentials{Name: "Flaka", Password: "hunter2"}
	h := startHarness(t, st, zk.New())
	h.connect(t)

	h.conn.push(`User {"Name":"ghost"}`)
	h.conn.push(`JoinChannelResponse {"Success":true,"ChannelName":"main","Channel":{"Users":["ghost"]}}`)
	h.conn.push(`Say {"Place":0,"Target":"main","User":"ghost","Text":"welcome"}`)

	waitFor(t, "channel in state snapshot", func() bool {
		snap, ok := h.states.last()
		if !ok {
			return false
		}
		ch, ok := snap.Channels["main"]
		return ok && len(ch.Users) == 1 && ch.Users[0] == "ghost"
	})
	waitFor(t, "channel chat log", func() bool {
		snap, ok := h.chats.last()
		if !ok || snap.Selected != "#main" {
			return false
		}
		lg, ok := snap.Logs["#main"]
		return ok && len(lg.Entries) == 1 && lg.Entries[0].Text == "welcome"
	})
}

func TestBurstCoalescesIntoFewNotifications(t *testing.T) {
	st := &memStore{deviceID: "1"}
	st.creds = &store.Credentials{Name: "Flaka", Password: "hunter2"}
	h := startHarness(t, st, zk.New())
	h.connect(t)

	// Let any pending post-login notification drain first.
	time.Sleep(3 * syncWindow)
	before := h.states.count()

	const n = 150
	for i := 0; i < n; i++ {
		h.conn.push(fmt.Sprintf(`User {"Name":"user%03d"}`, i))
	}

	waitFor(t, "all users in snapshot", func() bool {
		snap, ok := h.states.last()
		return ok && len(snap.Users) >= n
	})
	time.Sleep(2 * syncWindow)

	delta := h.states.count() - before
	if delta < 1 || delta > 3 {
		t.Fatalf("burst of %d updates produced %d notifications", n, delta)
	}
}

func TestLoginDeniedStopsReconnecting(t *testing.T) {
	st := &memStore{deviceID: "1"}
	st.creds = &store.Credentials{Name: "Flaka", Password: "wrong"}
	h := startHarness(t, st, zk.New())

	h.engine.Connect()
	waitFor(t, "dial", func() bool { return h.transport.dialCount() == 1 })
	h.conn.push("Welcome {}")
	h.conn.push(`LoginResponse {"ResultCode":3,"Reason":"bad password"}`)

	waitFor(t, "denial surfaced", func() bool {
		snap, ok := h.states.last()
		return ok && snap.Connection == Disconnected && snap.NeedNewLogin
	})
	msgs := h.reporter.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "bad password") {
		t.Fatalf("unexpected reporter messages: %q", msgs)
	}

	// A denial is final: no reconnect attempts follow.
	time.Sleep(100 * time.Millisecond)
	if got := h.transport.dialCount(); got != 1 {
		t.Fatalf("dials after denial = %d, want 1", got)
	}
}

func TestEmptyCredentialsRejectedLocally(t *testing.T) {
	st := &memStore{deviceID: "1"}
	h := startHarness(t, st, zk.New())
	ctx := context.Background()

	if err := h.engine.SetCredentials(ctx, "", "hunter2"); !errors.Is(err, ErrEmptyCredentials) {
		t.Fatalf("empty name: err = %v, want ErrEmptyCredentials", err)
	}
	if err := h.engine.SetCredentials(ctx, "Flaka", ""); !errors.Is(err, ErrEmptyCredentials) {
		t.Fatalf("empty password: err = %v, want ErrEmptyCredentials", err)
	}
	if err := h.engine.Register("", "hunter2", ""); !errors.Is(err, ErrEmptyCredentials) {
		t.Fatalf("empty register name: err = %v, want ErrEmptyCredentials", err)
	}

	// Rejection happens before anything is stored or sent.
	if h.store.stored() != nil {
		t.Fatal("rejected credentials were persisted")
	}
	if got := h.transport.dialCount(); got != 0 {
		t.Fatalf("dials after local rejection = %d, want 0", got)
	}
	if got := h.conn.sentFrames(); len(got) != 0 {
		t.Fatalf("frames sent after local rejection: %q", got)
	}
}

func TestAgreementAcceptConfirmsThenLogsIn(t *testing.T) {
	st := &memStore{deviceID: "12345"}
	st.creds = &store.Credentials{Name: "Flaka", Password: "hunter2"}
	h := startHarness(t, st, tas.New())

	h.engine.Connect()
	waitFor(t, "dial", func() bool { return h.transport.dialCount() == 1 })
	h.conn.push("TASServer 1.5 * 8201 0")
	waitFor(t, "login line", func() bool {
		frames := h.conn.sentFrames()
		return len(frames) == 1 && strings.HasPrefix(frames[0], "LOGIN ")
	})

	// Multi-part terms arrive as separate lines and accumulate in order.
	h.conn.push("AGREEMENT Terms of service,")
	h.conn.push("AGREEMENT be excellent to each other.")
	waitFor(t, "agreement text", func() bool {
		snap, ok := h.states.last()
		return ok && snap.Agreement == "Terms of service,\nbe excellent to each other.\n"
	})

	h.engine.AcceptAgreement(true)
	waitFor(t, "confirm then login", func() bool {
		confirm, login := -1, -1
		for i, frame := range h.conn.sentFrames() {
			switch {
			case frame == "CONFIRMAGREEMENT":
				confirm = i
			case strings.HasPrefix(frame, "LOGIN "):
				login = i
			}
		}
		return confirm > 0 && login > confirm
	})
	waitFor(t, "agreement cleared", func() bool {
		snap, ok := h.states.last()
		return ok && snap.Agreement == ""
	})

	h.conn.push("ACCEPTED Flaka")
	waitFor(t, "connected state", func() bool {
		snap, ok := h.states.last()
		return ok && snap.Connection == Connected
	})
}

func TestDialFailureRetries(t *testing.T) {
	st := &memStore{deviceID: "1"}
	h := startHarness(t, st, zk.New())
	h.transport.mu.Lock()
	h.transport.queue = nil // every dial fails
	h.transport.mu.Unlock()

	h.engine.Connect()
	waitFor(t, "repeated dials", func() bool { return h.transport.dialCount() >= 3 })

	h.engine.Disconnect()
	time.Sleep(100 * time.Millisecond)
	settled := h.transport.dialCount()
	time.Sleep(100 * time.Millisecond)
	if got := h.transport.dialCount(); got != settled {
		t.Fatalf("dials kept growing after Disconnect: %d -> %d", settled, got)
	}
}

// newKeepaliveEngine builds an engine whose loop-owned state can be poked
// directly, for exercising handlers without Run.
func newKeepaliveEngine(t *testing.T, trans *fakeTransport) *Engine {
	t.Helper()
	engine, err := New(Options{
		Addr:      "test:8200",
		Adapter:   zk.New(),
		Transport: trans,
		Store:     &memStore{deviceID: "1"},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.ctx = context.Background()
	engine.syncTimer = time.NewTimer(time.Hour)
	return engine
}

func TestKeepaliveReconnectsAfterSilence(t *testing.T) {
	trans := &fakeTransport{}
	e := newKeepaliveEngine(t, trans)

	conn := newFakeConn()
	e.conn = conn
	e.connState = Connected
	e.wantConnected = true

	for i := 0; i <= maxLostPings; i++ {
		e.pingPong()
	}
	if got := len(conn.sentFrames()); got != maxLostPings+1 {
		t.Fatalf("pings sent = %d, want %d", got, maxLostPings+1)
	}
	if trans.dialCount() != 0 {
		t.Fatal("no reconnect expected while pings may still be answered")
	}

	// One more silent tick crosses the threshold.
	e.pingPong()
	waitFor(t, "reconnect dial", func() bool { return trans.dialCount() == 1 })
	if e.lostPings != 0 {
		t.Fatalf("lostPings = %d after reconnect, want 0", e.lostPings)
	}
}

func TestPongResetsLostPings(t *testing.T) {
	e := newKeepaliveEngine(t, &fakeTransport{})
	e.conn = newFakeConn()
	e.connState = Connected
	e.wantConnected = true

	e.pingPong()
	e.pingPong()
	e.pingPong()
	if e.lostPings != 3 {
		t.Fatalf("lostPings = %d, want 3", e.lostPings)
	}
	e.dispatch(frameInput{gen: e.connGen, line: "Ping {}"})
	if e.lostPings != 0 {
		t.Fatalf("lostPings = %d after pong, want 0", e.lostPings)
	}
}

func TestStaleFramesAreDiscarded(t *testing.T) {
	e := newKeepaliveEngine(t, &fakeTransport{})
	e.conn = newFakeConn()
	e.connState = Connected

	e.dispatch(frameInput{gen: e.connGen - 1, line: `User {"Name":"ghost"}`})
	if len(e.dir.users) != 0 {
		t.Fatal("stale frame mutated the directory")
	}
	e.dispatch(frameInput{gen: e.connGen, line: `User {"Name":"ghost"}`})
	if len(e.dir.users) != 1 {
		t.Fatal("current frame should mutate the directory")
	}
}

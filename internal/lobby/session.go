package lobby

import (
	"crypto/md5"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/weblobby/weblobby-client/internal/protocol"
	"github.com/weblobby/weblobby-client/internal/store"
)

// session is the login-scoped state, cleared on disconnect.
type session struct {
	nick         string
	registering  *registration
	agreement    strings.Builder
	needNewLogin bool
}

type registration struct {
	name     string
	password string
	email    string
}

func (s *session) reset() {
	s.nick = ""
	s.agreement.Reset()
}

// HashPassword computes the wire form of a lobby password. Both protocol
// dialects transmit base64(md5(password)).
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func validateCredentials(name, password string) error {
	if name == "" || password == "" {
		return ErrEmptyCredentials
	}
	return nil
}

// greet answers the server's hello with a registration or login attempt.
func (e *Engine) greet() {
	if reg := e.session.registering; reg != nil {
		if err := validateCredentials(reg.name, reg.password); err != nil {
			e.log.Warn().Err(err).Msg("registration credentials invalid")
			return
		}
		e.send(protocol.Register{
			Name:         reg.name,
			PasswordHash: HashPassword(reg.password),
			Email:        reg.email,
		})
		return
	}
	e.login()
}

// login sends the login command using stored credentials.
func (e *Engine) login() {
	creds, err := e.store.Credentials(e.ctx)
	if errors.Is(err, store.ErrNotFound) {
		err = ErrNoCredentials
	}
	if errors.Is(err, ErrNoCredentials) {
		e.log.Warn().Err(err).Msg("login requires an account")
		e.session.needNewLogin = true
		e.markDirty(dirtyState)
		return
	}
	if err != nil {
		e.log.Error().Err(err).Msg("load credentials")
		return
	}
	if err := validateCredentials(creds.Name, creds.Password); err != nil {
		e.log.Warn().Err(err).Msg("stored credentials invalid")
		e.session.needNewLogin = true
		e.markDirty(dirtyState)
		return
	}

	deviceID, err := e.store.DeviceID(e.ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("load device id")
		deviceID = "0"
	}

	e.session.nick = creds.Name
	e.chat.SetNick(creds.Name)
	e.send(protocol.Login{
		Name:         creds.Name,
		PasswordHash: HashPassword(creds.Password),
		DeviceID:     deviceID,
	})
	e.markDirty(dirtyState)
}

// onLoginAccepted moves to Connected and rejoins subscribed channels.
func (e *Engine) onLoginAccepted() {
	e.connState = Connected
	e.lostPings = 0

	channels, err := e.store.AutojoinChannels(e.ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("load autojoin channels")
		return
	}
	for _, channel := range channels {
		e.send(protocol.JoinChannel{Channel: channel})
	}
}

// onDenied handles login and registration refusals: report, flag for new
// credentials, drop the connection without auto-reconnect.
func (e *Engine) onDenied(what, reason string) {
	e.reporter.ReportBlocking(what + " denied: " + reason)
	e.session.needNewLogin = true
	e.session.registering = nil
	e.wantConnected = false
	e.dropConn()
}

// onRegistrationAccepted persists the new account and reconnects to log in
// with it.
func (e *Engine) onRegistrationAccepted() {
	reg := e.session.registering
	if reg == nil {
		return
	}
	if err := e.store.SaveCredentials(e.ctx, store.Credentials{
		Name:     reg.name,
		Password: reg.password,
	}); err != nil {
		e.log.Error().Err(err).Msg("persist registered credentials")
	}
	e.session.registering = nil
	e.dropConn()
	e.startDial()
}

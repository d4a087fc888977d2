// Package store defines persistence for client settings: credentials, the
// per-install device id and channel subscriptions.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested setting has never been stored.
var ErrNotFound = errors.New("not found")

// Credentials is the stored lobby account.
type Credentials struct {
	Name     string
	Password string
}

// Store persists client settings between runs.
type Store interface {
	// Credentials returns the stored account, or ErrNotFound.
	Credentials(ctx context.Context) (Credentials, error)
	// SaveCredentials overwrites the stored account. Called after a
	// successful registration.
	SaveCredentials(ctx context.Context, creds Credentials) error

	// DeviceID returns the stable per-install identifier, generating and
	// persisting one on first call. The value is a decimal number rendered
	// as a string; the line protocol embeds it verbatim, the JSON protocol
	// sends it as a number.
	DeviceID(ctx context.Context) (string, error)

	// AutojoinChannels lists channels to rejoin after login.
	AutojoinChannels(ctx context.Context) ([]string, error)
	// SetChannelSubscription adds or removes a channel from the autojoin
	// list.
	SetChannelSubscription(ctx context.Context, channel string, subscribed bool) error

	Close() error
}

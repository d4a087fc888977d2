package lobby

import "errors"

var (
	// ErrEmptyCredentials rejects a login or registration attempt with an
	// empty name or password before anything touches the network.
	ErrEmptyCredentials = errors.New("name and password must not be empty")
	// ErrNoCredentials means the settings store has no stored account yet.
	ErrNoCredentials = errors.New("no stored credentials")
)

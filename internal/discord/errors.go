package discord

import "errors"

// Provider errors. These are final classifications of a completed HTTP
// exchange; transport failures surface as *fetch.Error instead and are
// never wrapped into one of these.
var (
	ErrInvalidAuth             = errors.New("discord: invalid auth")
	ErrInvalidCode             = errors.New("discord: invalid authorization code")
	ErrInsufficientPermissions = errors.New("discord: insufficient permissions")
	ErrUnexpectedResponse      = errors.New("discord: unexpected response")
	ErrUnknown                 = errors.New("discord: unknown provider error")
)

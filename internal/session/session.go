// Package session owns the authenticated session state machine: login,
// auto-resume, validation, refresh, and logout. It is the single source of
// truth for the active credential; every other component reads tokens
// through it and never mutates them.
package session

import (
	"errors"
	"time"
)

// State is the session lifecycle state.
type State int

const (
	LoggedOut State = iota
	LoggingIn
	LoggedIn
	Refreshing
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case LoggingIn:
		return "logging_in"
	case LoggedIn:
		return "logged_in"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Sentinel errors surfaced by the manager.
var (
	// ErrNotLoggedIn is returned when an operation requires an active session.
	ErrNotLoggedIn = errors.New("session: not logged in")
	// ErrExpired is returned when the refresh token was rejected and the
	// session has been cleared. Re-login is required.
	ErrExpired = errors.New("session: credentials expired, log in again")
)

// Session holds the credential and cached profile attributes. Either both
// tokens are empty or both may be set; a non-empty identity token means
// the session counts as logged in.
type Session struct {
	IDToken      string
	RefreshToken string
	Expiry       time.Time
	Email        string
	DisplayName  string
	Handle       string
	CreatorID    string
	PayoutEmail  string
	StaySignedIn bool
}

// Active reports whether the session counts as logged in.
func (s Session) Active() bool {
	return s.IDToken != ""
}

// Meta keys used in the persisted credstore record.
const (
	metaEmail       = "email"
	metaDisplayName = "display_name"
	metaHandle      = "handle"
	metaCreatorID   = "creator_id"
	metaPayoutEmail = "payout_email"
)

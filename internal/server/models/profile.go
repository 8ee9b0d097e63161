package models

import "time"

// ProfileData is the opaque payload returned by the panel when a client is
// created. It is stored as JSON with the profile and is everything needed to
// find the remote client again (email is the panel-side lookup key).
type ProfileData struct {
	ClientID  string `json:"client_id"`
	Email     string `json:"email"`
	Protocol  string `json:"protocol"`
	InboundID int    `json:"inbound_id"`
}

// ProfileSettings holds per-user overrides applied when rendering the
// connection link. Only the SNI is user-selectable.
type ProfileSettings struct {
	SNI string `json:"sni,omitempty"`
}

// Profile is the local record of one protocol credential for one user.
// At most one profile per user is active at any time.
type Profile struct {
	ID           int64
	UserID       int64
	ProtocolName string
	Data         ProfileData
	Settings     ProfileSettings
	IsActive     bool
	CreatedAt    time.Time
}

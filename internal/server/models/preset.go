package models

import "time"

// Preset output formats.
const (
	PresetFormatURI   = "uri"
	PresetFormatQRPNG = "qr_png"
)

// Preset is a named, saved rendering configuration bound to one profile.
// The profile reference is soft: if the profile is revoked the preset stays
// and rendering fails instead.
type Preset struct {
	ID        int64
	UserID    int64
	ProfileID int64
	Name      string
	AppType   string
	Format    string
	Options   map[string]string
	CreatedAt time.Time
}

// Package models contains the persistent domain entities of the VPN access
// service: users, profiles, access requests and connection presets.
package models

import "fmt"

// User is the identity anchor. Users are created on first contact and are
// never deleted by the service.
type User struct {
	ID         int64
	TelegramID int64
	Username   string
	FullName   string
	IsAdmin    bool
}

// DisplayName returns the full name with the username appended when present.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return fmt.Sprintf("%s (@%s)", u.FullName, u.Username)
	}
	return u.FullName
}

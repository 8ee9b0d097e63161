// Package common defines shared constants and sentinel errors used across
// the layers of the VPN access service. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Panel errors. ErrPanelUnavailable covers network failures and
	// timeouts: the whole intent may be retried. ErrPanelAuthFailed means
	// the operator credentials were rejected, retrying is pointless until
	// the configuration is fixed. ErrPanelRejected means the panel accepted
	// the session but refused the mutation.
	ErrPanelUnavailable = errors.New("panel unavailable")
	ErrPanelAuthFailed  = errors.New("panel authentication failed")
	ErrPanelRejected    = errors.New("panel rejected mutation")

	// State-machine violations (user input or a race, not a bug).
	ErrConflictActiveOrPending = errors.New("active profile or pending request exists")
	ErrAlreadyProcessed        = errors.New("request already processed")

	// Configuration errors.
	ErrProtocolNotConfigured = errors.New("protocol not configured")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)

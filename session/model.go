// Package session stores server-side session records in Redis with a
// per-principal index, so every session can be revoked at once.
package session

import "time"

// Session is the server-side record behind an access token.
type Session struct {
	SessionID     string
	PrincipalID   string
	Email         string
	EmailVerified bool
	TwoFactor     bool
	// TrustedDevice marks sessions established from a device that
	// previously completed a second factor.
	TrustedDevice bool
	CreatedAt     int64
	ExpiresAt     int64
}

// Expired reports whether the record is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

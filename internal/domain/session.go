package domain

import "time"

// Session is a server-side login session established by the OIDC
// callback. The core trusts UserID verbatim as the caller identity.
type Session struct {
	Token     string
	UserID    string
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

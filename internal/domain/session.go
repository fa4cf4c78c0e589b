package domain

import "time"

// Session is a server-side login record. The JWT handed to the client is also
// stored here so logout and admin revocation can invalidate it before its
// signature expires. Sessions past ExpiresAt are invalid; cleanup is an
// explicit admin operation, not a background sweep.
type Session struct {
	ID        string
	UserID    string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the session is past its expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return s != nil && now.After(s.ExpiresAt)
}

package credentials

import "time"

// User is the immutable identity snapshot carried by a session. It is
// replaced wholesale whenever a new session is issued.
type User struct {
	ID            string
	Email         string
	EmailVerified bool
	CreatedAt     time.Time
	LastSignInAt  time.Time
}

// Session is the credential-service token bundle proving an authenticated
// identity. The reconciliation engine holds it only as a cached reference.
type Session struct {
	User         User
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return s != nil && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// EventKind identifies a session-change notification.
type EventKind string

// Session-change notification kinds.
const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Event is a session-change notification. Session is nil for sign-out
// events. Events are delivered in emission order without coalescing.
type Event struct {
	Kind    EventKind
	Session *Session
}

// AuthError is a credential-service failure carrying an HTTP-like status
// code used by the error normalizer to grade severity.
type AuthError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return e.Message
}

// AuthStatus exposes the status code for normalization.
func (e *AuthError) AuthStatus() int {
	return e.Status
}

// Package credentials provides the narrow interface over the backend auth
// API plus a Postgres/Redis hosted implementation of it.
package credentials

import "context"

// Service is the credential-service contract consumed by the reconciliation
// engine. Every operation returns a normalized error or nil; none of them
// panic past the boundary.
type Service interface {
	// SignUp registers a new account and issues a session. A profile row is
	// not guaranteed to exist yet when this returns.
	SignUp(ctx context.Context, email, password string) (*Session, error)
	// SignIn authenticates email/password credentials and issues a session.
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// SignOut revokes the current session and clears any cached credential
	// artifacts held on behalf of this client.
	SignOut(ctx context.Context) error
	// ResetPassword issues a one-time reset token and queues the reset mail.
	ResetPassword(ctx context.Context, email string) error
	// RefreshSession rotates the current session's tokens.
	RefreshSession(ctx context.Context) (*Session, error)
	// CurrentSession returns the cached session for this client, or
	// (nil, nil) when none is stored.
	CurrentSession(ctx context.Context) (*Session, error)
	// OnSessionChange registers a listener for session-change events and
	// returns its unsubscribe handle. Delivery order matches emission order;
	// the adapter performs no reordering or coalescing.
	OnSessionChange(fn func(Event)) (unsubscribe func())
}

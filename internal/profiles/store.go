// Package profiles provides the narrow interface over the row-store's
// profiles table and its PostgreSQL implementation.
package profiles

import "context"

// Seed carries the initial fields for a profile created by the client when
// the backend-side provisioning trigger has not run.
type Seed struct {
	Email    string
	Username string
	FullName string
	Role     Role
}

// Store is the profile-store contract consumed by the reconciliation
// engine.
//
// FetchByID distinguishes absence from failure: a missing row returns
// (nil, nil) while a transport or query failure returns (nil, err). The
// engine's retry-on-absence logic depends on that distinction.
type Store interface {
	FetchByID(ctx context.Context, userID string) (*Profile, error)
	Create(ctx context.Context, userID string, seed Seed) (*Profile, error)
	Update(ctx context.Context, userID string, patch Patch) (*Profile, error)
}

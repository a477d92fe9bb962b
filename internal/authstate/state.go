package authstate

import (
	"github.com/ShemaiahYaba/academic-repo/internal/credentials"
	"github.com/ShemaiahYaba/academic-repo/internal/profiles"
)

// State is the reconciled authentication view shared by all consumers.
//
// Invariants:
//   - IsAuthenticated is true iff User and Profile are both non-nil; a
//     session alone is never sufficient.
//   - IsInitialized becomes true exactly once, after the first resolution
//     attempt, and never reverts.
//   - A session without a matching profile row drives a full sign-out
//     rather than a partially-authenticated state.
//
// Pointer fields are replaced wholesale by the engine and must be treated
// as immutable by readers.
type State struct {
	User            *credentials.User
	Profile         *profiles.Profile
	Session         *credentials.Session
	IsAuthenticated bool
	IsLoading       bool
	IsInitialized   bool
}

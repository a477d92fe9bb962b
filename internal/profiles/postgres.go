package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const profileColumns = `id, email, username, first_name, last_name, full_name, avatar_url, role, created_at, updated_at`

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PostgreSQL-backed profile store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// FetchByID returns the profile row for a user id, or (nil, nil) when no
// row exists.
func (s *PGStore) FetchByID(ctx context.Context, userID string) (*Profile, error) {
	query := fmt.Sprintf(`SELECT %s FROM profiles WHERE id = $1`, profileColumns)
	profile, err := scanProfile(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("profiles: fetch %s: %w", userID, err)
	}
	return profile, nil
}

// Create inserts a profile row keyed by the user id. Racing the backend
// provisioning trigger is tolerated: a duplicate insert falls back to
// fetching the existing row.
func (s *PGStore) Create(ctx context.Context, userID string, seed Seed) (*Profile, error) {
	role := seed.Role
	if !role.Valid() {
		role = RoleUser
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO profiles (id, email, username, full_name, role, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $6)
		ON CONFLICT (id) DO NOTHING
		RETURNING %s`, profileColumns)
	profile, err := scanProfile(s.pool.QueryRow(ctx, query, userID, seed.Email, seed.Username, seed.FullName, string(role), now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.FetchByID(ctx, userID)
		}
		return nil, fmt.Errorf("profiles: create %s: %w", userID, err)
	}
	return profile, nil
}

// Update applies a partial patch and returns the full row as stored,
// including server-computed fields. A missing row returns (nil, nil).
func (s *PGStore) Update(ctx context.Context, userID string, patch Patch) (*Profile, error) {
	if patch.Empty() {
		return s.FetchByID(ctx, userID)
	}

	assignments := []string{"updated_at = now()"}
	args := []any{userID}
	appendSet := func(column string, value any) {
		args = append(args, value)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Username != nil {
		appendSet("username", *patch.Username)
	}
	if patch.FirstName != nil {
		appendSet("first_name", *patch.FirstName)
	}
	if patch.LastName != nil {
		appendSet("last_name", *patch.LastName)
	}
	if patch.FullName != nil {
		appendSet("full_name", *patch.FullName)
	}
	if patch.AvatarURL != nil {
		appendSet("avatar_url", *patch.AvatarURL)
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return nil, fmt.Errorf("profiles: invalid role %q", *patch.Role)
		}
		appendSet("role", string(*patch.Role))
	}

	query := fmt.Sprintf(`UPDATE profiles SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(assignments, ", "), profileColumns)
	profile, err := scanProfile(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("profiles: update %s: %w", userID, err)
	}
	return profile, nil
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var profile Profile
	var username, firstName, lastName, fullName, avatarURL *string
	var role string
	err := row.Scan(
		&profile.ID,
		&profile.Email,
		&username,
		&firstName,
		&lastName,
		&fullName,
		&avatarURL,
		&role,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	profile.Role = Role(role)
	if username != nil {
		profile.Username = *username
	}
	if firstName != nil {
		profile.FirstName = *firstName
	}
	if lastName != nil {
		profile.LastName = *lastName
	}
	if fullName != nil {
		profile.FullName = *fullName
	}
	if avatarURL != nil {
		profile.AvatarURL = *avatarURL
	}
	return &profile, nil
}

var _ Store = (*PGStore)(nil)

package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound indicates the account does not exist.
var ErrUserNotFound = errors.New("credentials: user not found")

// UserRecord is a stored account including its password hash.
type UserRecord struct {
	User
	PasswordHash string
}

// UserRepository defines persistence for auth accounts.
type UserRepository interface {
	Create(ctx context.Context, email, passwordHash string) (*UserRecord, error)
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindByID(ctx context.Context, id string) (*UserRecord, error)
	TouchSignIn(ctx context.Context, id string, at time.Time) error
	RecordSession(ctx context.Context, id, userID string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
}

// PGUserRepository implements UserRepository on PostgreSQL.
type PGUserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository constructs a PostgreSQL-backed repository.
func NewUserRepository(pool *pgxpool.Pool) *PGUserRepository {
	return &PGUserRepository{pool: pool}
}

// Create inserts a new account row.
func (r *PGUserRepository) Create(ctx context.Context, email, passwordHash string) (*UserRecord, error) {
	const query = `
		INSERT INTO auth_users (id, email, password_hash, email_verified, created_at)
		VALUES ($1, $2, $3, false, $4)
		RETURNING id, email, password_hash, email_verified, created_at, last_sign_in_at`
	id := uuid.NewString()
	now := time.Now().UTC()
	return r.scanUser(r.pool.QueryRow(ctx, query, id, email, passwordHash, now))
}

// FindByEmail fetches an account by email.
func (r *PGUserRepository) FindByEmail(ctx context.Context, email string) (*UserRecord, error) {
	const query = `
		SELECT id, email, password_hash, email_verified, created_at, last_sign_in_at
		FROM auth_users WHERE email = $1`
	record, err := r.scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return record, nil
}

// FindByID fetches an account by id.
func (r *PGUserRepository) FindByID(ctx context.Context, id string) (*UserRecord, error) {
	const query = `
		SELECT id, email, password_hash, email_verified, created_at, last_sign_in_at
		FROM auth_users WHERE id = $1`
	record, err := r.scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return record, nil
}

// TouchSignIn updates the last sign-in timestamp.
func (r *PGUserRepository) TouchSignIn(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE auth_users SET last_sign_in_at = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, at.UTC()); err != nil {
		return fmt.Errorf("credentials: touch sign in: %w", err)
	}
	return nil
}

// RecordSession persists session metadata for auditing and pruning.
func (r *PGUserRepository) RecordSession(ctx context.Context, id, userID string, expiresAt time.Time) error {
	const query = `
		INSERT INTO auth_sessions (id, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := r.pool.Exec(ctx, query, id, userID, time.Now().UTC(), expiresAt.UTC()); err != nil {
		return fmt.Errorf("credentials: record session: %w", err)
	}
	return nil
}

// DeleteSession removes a session audit row.
func (r *PGUserRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("credentials: delete session: %w", err)
	}
	return nil
}

func (r *PGUserRepository) scanUser(row pgx.Row) (*UserRecord, error) {
	var record UserRecord
	var lastSignIn *time.Time
	err := row.Scan(
		&record.ID,
		&record.Email,
		&record.PasswordHash,
		&record.EmailVerified,
		&record.CreatedAt,
		&lastSignIn,
	)
	if err != nil {
		return nil, err
	}
	if lastSignIn != nil {
		record.LastSignInAt = *lastSignIn
	}
	return &record, nil
}

var _ UserRepository = (*PGUserRepository)(nil)

package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memoryUserRepository struct {
	mu       sync.Mutex
	byEmail  map[string]*UserRecord
	byID     map[string]*UserRecord
	sessions map[string]string
}

func newMemoryUserRepository() *memoryUserRepository {
	return &memoryUserRepository{
		byEmail:  map[string]*UserRecord{},
		byID:     map[string]*UserRecord{},
		sessions: map[string]string{},
	}
}

func (r *memoryUserRepository) Create(ctx context.Context, email, passwordHash string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[email]; exists {
		return nil, errors.New("duplicate email")
	}
	record := &UserRecord{
		User: User{
			ID:        "user-" + email,
			Email:     email,
			CreatedAt: time.Now().UTC(),
		},
		PasswordHash: passwordHash,
	}
	r.byEmail[email] = record
	r.byID[record.ID] = record
	return record, nil
}

func (r *memoryUserRepository) FindByEmail(ctx context.Context, email string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *memoryUserRepository) FindByID(ctx context.Context, id string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *memoryUserRepository) TouchSignIn(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.byID[id]; ok {
		record.LastSignInAt = at
	}
	return nil
}

func (r *memoryUserRepository) RecordSession(ctx context.Context, id, userID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = userID
	return nil
}

func (r *memoryUserRepository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memoryUserRepository) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type recordingMail struct {
	mu     sync.Mutex
	emails []string
	tokens []string
}

func (m *recordingMail) EnqueuePasswordReset(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = append(m.emails, email)
	m.tokens = append(m.tokens, token)
	return nil
}

func newTestBackend(t *testing.T) (*Backend, *memoryUserRepository, *recordingMail, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	users := newMemoryUserRepository()
	mail := &recordingMail{}
	backend := NewBackend(BackendConfig{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Users:       users,
		Redis:       client,
		Mail:        mail,
		ClientID:    "test-client",
		TokenSecret: "test-secret",
		AccessTTL:   time.Hour,
		RefreshTTL:  24 * time.Hour,
	})
	return backend, users, mail, mr
}

func TestSignUpIssuesSessionAndEmitsEvent(t *testing.T) {
	backend, users, _, _ := newTestBackend(t)

	var events []Event
	backend.OnSessionChange(func(ev Event) { events = append(events, ev) })

	session, err := backend.SignUp(context.Background(), "new@example.edu", "password123")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "new@example.edu", session.User.Email)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, 1, users.SessionCount())

	require.Len(t, events, 1)
	assert.Equal(t, EventSignedIn, events[0].Kind)
	require.NotNil(t, events[0].Session)
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	backend, _, _, _ := newTestBackend(t)
	_, err := backend.SignUp(context.Background(), "short@example.edu", "tiny")
	require.Error(t, err)
}

func TestSignInVerifiesPassword(t *testing.T) {
	backend, users, _, _ := newTestBackend(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = users.Create(context.Background(), "alice@example.edu", string(hash))
	require.NoError(t, err)

	session, err := backend.SignIn(context.Background(), "alice@example.edu", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.edu", session.User.Email)

	_, err = backend.SignIn(context.Background(), "alice@example.edu", "wrong")
	require.Error(t, err)

	_, err = backend.SignIn(context.Background(), "nobody@example.edu", "whatever")
	require.Error(t, err)
}

func TestCurrentSessionRoundTrip(t *testing.T) {
	backend, _, _, _ := newTestBackend(t)

	// No session cached yet.
	session, err := backend.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)

	issued, err := backend.SignUp(context.Background(), "bob@example.edu", "password123")
	require.NoError(t, err)

	session, err = backend.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, issued.User.ID, session.User.ID)
	assert.Equal(t, issued.RefreshToken, session.RefreshToken)
}

func TestCurrentSessionTreatsCorruptTokenAsAbsent(t *testing.T) {
	backend, _, _, mr := newTestBackend(t)

	// Cache a session whose access token does not verify.
	bogus := cachedSession{
		User:         User{ID: "u-corrupt", Email: "carol@example.edu"},
		AccessToken:  "not-a-jwt",
		RefreshToken: "refresh-corrupt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	payload, err := json.Marshal(bogus)
	require.NoError(t, err)
	require.NoError(t, mr.Set("cred:session:test-client", string(payload)))

	session, err := backend.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.False(t, mr.Exists("cred:session:test-client"))
}

func TestSignOutClearsCacheAndEmits(t *testing.T) {
	backend, users, _, mr := newTestBackend(t)
	_, err := backend.SignUp(context.Background(), "dave@example.edu", "password123")
	require.NoError(t, err)
	require.Equal(t, 1, users.SessionCount())

	var events []Event
	backend.OnSessionChange(func(ev Event) { events = append(events, ev) })

	require.NoError(t, backend.SignOut(context.Background()))

	assert.False(t, mr.Exists("cred:session:test-client"))
	assert.Equal(t, 0, users.SessionCount())
	require.Len(t, events, 1)
	assert.Equal(t, EventSignedOut, events[0].Kind)
	assert.Nil(t, events[0].Session)

	// Signing out without a session is still a clean no-op.
	require.NoError(t, backend.SignOut(context.Background()))
}

func TestRefreshSessionRotatesTokens(t *testing.T) {
	backend, _, _, _ := newTestBackend(t)
	issued, err := backend.SignUp(context.Background(), "erin@example.edu", "password123")
	require.NoError(t, err)

	var events []Event
	backend.OnSessionChange(func(ev Event) { events = append(events, ev) })

	rotated, err := backend.RefreshSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rotated)
	assert.NotEqual(t, issued.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, issued.User.ID, rotated.User.ID)

	require.Len(t, events, 1)
	assert.Equal(t, EventTokenRefreshed, events[0].Kind)

	// The old refresh token is gone; refreshing again uses the rotated one.
	again, err := backend.RefreshSession(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, rotated.RefreshToken, again.RefreshToken)
}

func TestRefreshSessionWithoutSessionFails(t *testing.T) {
	backend, _, _, _ := newTestBackend(t)
	_, err := backend.RefreshSession(context.Background())
	require.Error(t, err)
}

func TestRefreshSessionRevokedTokenFails(t *testing.T) {
	backend, _, _, mr := newTestBackend(t)
	issued, err := backend.SignUp(context.Background(), "frank@example.edu", "password123")
	require.NoError(t, err)

	mr.Del("cred:refresh:" + issued.RefreshToken)

	_, err = backend.RefreshSession(context.Background())
	require.Error(t, err)
}

func TestCurrentSessionAutoRefreshesExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	users := newMemoryUserRepository()
	backend := NewBackend(BackendConfig{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Users:       users,
		Redis:       client,
		ClientID:    "test-client",
		TokenSecret: "test-secret",
		AccessTTL:   time.Millisecond,
		RefreshTTL:  24 * time.Hour,
	})

	issued, err := backend.SignUp(context.Background(), "gina@example.edu", "password123")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	session, err := backend.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.NotEqual(t, issued.RefreshToken, session.RefreshToken)
}

func TestResetPasswordStoresTokenAndQueuesMail(t *testing.T) {
	backend, _, mail, mr := newTestBackend(t)
	_, err := backend.SignUp(context.Background(), "helen@example.edu", "password123")
	require.NoError(t, err)

	require.NoError(t, backend.ResetPassword(context.Background(), "helen@example.edu"))

	require.Len(t, mail.tokens, 1)
	assert.Equal(t, "helen@example.edu", mail.emails[0])
	stored, err := mr.Get("cred:reset:" + mail.tokens[0])
	require.NoError(t, err)
	assert.Equal(t, "user-helen@example.edu", stored)

	// Unknown addresses are swallowed so the endpoint cannot be used to
	// probe which emails exist.
	require.NoError(t, backend.ResetPassword(context.Background(), "unknown@example.edu"))
	assert.Len(t, mail.tokens, 1)
}

func TestOnSessionChangeUnsubscribe(t *testing.T) {
	backend, _, _, _ := newTestBackend(t)

	calls := 0
	unsubscribe := backend.OnSessionChange(func(Event) { calls++ })
	unsubscribe()

	_, err := backend.SignUp(context.Background(), "ivan@example.edu", "password123")
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	secret := []byte("round-trip-secret")
	user := User{ID: "u-1", Email: "token@example.edu"}
	now := time.Now().UTC()

	token, expiresAt, err := mintAccessToken(secret, user, time.Hour, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), expiresAt, time.Second)

	claims, err := parseAccessToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "token@example.edu", claims.Email)

	_, err = parseAccessToken([]byte("other-secret"), token)
	require.Error(t, err)
}

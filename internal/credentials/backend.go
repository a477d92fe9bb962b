package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/ShemaiahYaba/academic-repo/internal/apperr"
)

const (
	sessionKeyPrefix = "cred:session:"
	refreshKeyPrefix = "cred:refresh:"
	resetKeyPrefix   = "cred:reset:"
	eventChannel     = "cred:events"

	resetTokenTTL = time.Hour
)

// MailEnqueuer queues transactional mail without blocking the auth flow.
type MailEnqueuer interface {
	EnqueuePasswordReset(ctx context.Context, email, token string) error
}

// BackendConfig collects dependencies for the hosted credential service.
type BackendConfig struct {
	Logger      *slog.Logger
	Users       UserRepository
	Redis       *redis.Client
	Mail        MailEnqueuer
	ClientID    string
	TokenSecret string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
}

// Backend implements Service on Postgres accounts, JWT access tokens and
// Redis-held refresh tokens. The cached current session lives in Redis under
// a per-client key; session-change events fan out over Redis pub/sub so
// other processes observe revocations.
type Backend struct {
	logger     *slog.Logger
	users      UserRepository
	redis      *redis.Client
	mail       MailEnqueuer
	clientID   string
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu      sync.Mutex
	subs    []subscriber
	nextSub int
}

type subscriber struct {
	id int
	fn func(Event)
}

type cachedSession struct {
	User         User      `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type wireEvent struct {
	Origin  string   `json:"origin"`
	Kind    EventKind `json:"kind"`
	Session *cachedSession `json:"session,omitempty"`
}

// NewBackend constructs the credential service backend.
func NewBackend(cfg BackendConfig) *Backend {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &Backend{
		logger:     cfg.Logger,
		users:      cfg.Users,
		redis:      cfg.Redis,
		mail:       cfg.Mail,
		clientID:   clientID,
		secret:     []byte(cfg.TokenSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// SignUp registers an account and issues its first session. Profile
// provisioning is asynchronous; callers must not assume a profile row exists.
func (b *Backend) SignUp(ctx context.Context, email, password string) (*Session, error) {
	if len(password) < 8 {
		return nil, apperr.Normalize(b.logger, &AuthError{Status: 400, Message: "password must be at least 8 characters"})
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Normalize(b.logger, err)
	}
	record, err := b.users.Create(ctx, email, string(hash))
	if err != nil {
		return nil, apperr.Normalize(b.logger, err)
	}
	session, err := b.issueSession(ctx, record.User)
	if err != nil {
		return nil, apperr.Normalize(b.logger, err)
	}
	b.emit(Event{Kind: EventSignedIn, Session: session})
	return session, nil
}

// SignIn authenticates email/password credentials.
func (b *Backend) SignIn(ctx context.Context, email, password string) (*Session, error) {
	record, err := b.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperr.Normalize(b.logger, &AuthError{Status: 401, Message: "invalid email or password"})
		}
		return nil, apperr.Normalize(b.logger, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Normalize(b.logger, &AuthError{Status: 401, Message: "invalid email or password"})
	}

	now := time.Now().UTC()
	if err := b.users.TouchSignIn(ctx, record.ID, now); err != nil && b.logger != nil {
		b.logger.Warn("touch sign in", slog.Any("error", err))
	}
	record.LastSignInAt = now

	session, err := b.issueSession(ctx, record.User)
	if err != nil {
		return nil, apperr.Normalize(b.logger, err)
	}
	b.emit(Event{Kind: EventSignedIn, Session: session})
	return session, nil
}

// SignOut revokes the current session. The client-held cache is cleared
// before any remote call so a network failure never leaves stale
// credentials behind.
func (b *Backend) SignOut(ctx context.Context) error {
	session, loadErr := b.loadCachedSession(ctx)

	if err := b.redis.Del(ctx, b.sessionKey()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return apperr.Normalize(b.logger, err)
	}

	var remoteErr error
	if session != nil {
		if err := b.redis.Del(ctx, refreshKeyPrefix+session.RefreshToken).Err(); err != nil && !errors.Is(err, redis.Nil) {
			remoteErr = err
		}
		if err := b.users.DeleteSession(ctx, session.RefreshToken); err != nil {
			remoteErr = err
		}
	}

	b.emit(Event{Kind: EventSignedOut, Session: nil})

	if loadErr != nil {
		return apperr.Normalize(b.logger, loadErr)
	}
	if remoteErr != nil {
		return apperr.Normalize(b.logger, remoteErr)
	}
	return nil
}

// ResetPassword issues a one-time reset token and queues the reset email.
// Unknown addresses are not reported to the caller.
func (b *Backend) ResetPassword(ctx context.Context, email string) error {
	record, err := b.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			if b.logger != nil {
				b.logger.Info("password reset for unknown email", slog.String("email", email))
			}
			return nil
		}
		return apperr.Normalize(b.logger, err)
	}

	token := uuid.NewString()
	if err := b.redis.Set(ctx, resetKeyPrefix+token, record.ID, resetTokenTTL).Err(); err != nil {
		return apperr.Normalize(b.logger, err)
	}
	if b.mail != nil {
		if err := b.mail.EnqueuePasswordReset(ctx, record.Email, token); err != nil {
			return apperr.Normalize(b.logger, err)
		}
	}
	return nil
}

// RefreshSession rotates the cached session's tokens.
func (b *Backend) RefreshSession(ctx context.Context) (*Session, error) {
	session, err := b.loadCachedSession(ctx)
	if err != nil {
		return nil, apperr.Normalize(b.logger, err)
	}
	if session == nil {
		return nil, apperr.Normalize(b.logger, &AuthError{Status: 401, Message: "no session to refresh"})
	}

	userID, err := b.redis.Get(ctx, refreshKeyPrefix+session.RefreshToken).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.Normalize(b.logger, &AuthError{Status: 401, Message: "refresh token revoked"})
		}
		return nil, apperr.Normalize(b.logger, err)
	}

	record, err := b.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperr.Normalize(b.logger, &AuthError{Status: 401, Message: "account no longer exists"})
		}
		return nil, apperr.Normalize(b.logger, err)
	}

	if err := b.redis.Del(ctx, refreshKeyPrefix+session.RefreshToken).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperr.Normalize(b.logger, err)
	}
	if err := b.users.DeleteSession(ctx, session.RefreshToken); err != nil && b.logger != nil {
		b.logger.Warn("delete rotated session", slog.Any("error", err))
	}

	rotated, err := b.issueSession(ctx, record.User)
	if err != nil {
		return nil, apperr.Normalize(b.logger, err)
	}
	b.emit(Event{Kind: EventTokenRefreshed, Session: rotated})
	return rotated, nil
}

// CurrentSession returns the cached session for this client, refreshing it
// transparently when the access token has expired. (nil, nil) means no
// session is stored.
func (b *Backend) CurrentSession(ctx context.Context) (*Session, error) {
	session, err := b.loadCachedSession(ctx)
	if err != nil {
		return nil, apperr.Normalize(b.logger, err)
	}
	if session == nil {
		return nil, nil
	}
	if session.Expired(time.Now().UTC()) {
		return b.RefreshSession(ctx)
	}
	// A cached token that no longer verifies is treated as absent, not as an
	// error; the engine fails closed either way.
	if _, err := parseAccessToken(b.secret, session.AccessToken); err != nil {
		if b.logger != nil {
			b.logger.Warn("cached access token invalid", slog.Any("error", err))
		}
		_ = b.redis.Del(ctx, b.sessionKey()).Err()
		return nil, nil
	}
	return session, nil
}

// OnSessionChange registers an event listener and returns its unsubscribe
// handle. Listeners are invoked in registration order, one event at a time.
func (b *Backend) OnSessionChange(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Run forwards session-change events published by other processes into the
// local subscriber list. It blocks until the context is cancelled.
func (b *Backend) Run(ctx context.Context) error {
	pubsub := b.redis.Subscribe(ctx, eventChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var wire wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
				if b.logger != nil {
					b.logger.Warn("decode session event", slog.Any("error", err))
				}
				continue
			}
			// Local events were already dispatched at emission time.
			if wire.Origin == b.clientID {
				continue
			}
			b.dispatch(Event{Kind: wire.Kind, Session: fromCached(wire.Session)})
		}
	}
}

func (b *Backend) issueSession(ctx context.Context, user User) (*Session, error) {
	now := time.Now().UTC()
	accessToken, expiresAt, err := mintAccessToken(b.secret, user, b.accessTTL, now)
	if err != nil {
		return nil, err
	}
	refreshToken := uuid.NewString()

	if err := b.redis.Set(ctx, refreshKeyPrefix+refreshToken, user.ID, b.refreshTTL).Err(); err != nil {
		return nil, err
	}
	if err := b.users.RecordSession(ctx, refreshToken, user.ID, now.Add(b.refreshTTL)); err != nil {
		return nil, err
	}

	session := &Session{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}
	if err := b.storeCachedSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (b *Backend) emit(ev Event) {
	b.dispatch(ev)

	wire := wireEvent{Origin: b.clientID, Kind: ev.Kind, Session: toCached(ev.Session)}
	payload, err := json.Marshal(wire)
	if err != nil {
		return
	}
	if err := b.redis.Publish(context.Background(), eventChannel, payload).Err(); err != nil && b.logger != nil {
		b.logger.Warn("publish session event", slog.Any("error", err))
	}
}

func (b *Backend) dispatch(ev Event) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}

func (b *Backend) loadCachedSession(ctx context.Context) (*Session, error) {
	payload, err := b.redis.Get(ctx, b.sessionKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var stored cachedSession
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	return fromCached(&stored), nil
}

func (b *Backend) storeCachedSession(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(toCached(session))
	if err != nil {
		return err
	}
	return b.redis.Set(ctx, b.sessionKey(), payload, b.refreshTTL).Err()
}

func (b *Backend) sessionKey() string {
	return sessionKeyPrefix + b.clientID
}

func toCached(session *Session) *cachedSession {
	if session == nil {
		return nil
	}
	return &cachedSession{
		User:         session.User,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    session.ExpiresAt,
	}
}

func fromCached(stored *cachedSession) *Session {
	if stored == nil {
		return nil
	}
	return &Session{
		User:         stored.User,
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		ExpiresAt:    stored.ExpiresAt,
	}
}

var _ Service = (*Backend)(nil)

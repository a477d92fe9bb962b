// Package authstate implements the session reconciliation engine: the
// single source of truth merging credential-service events and profile-store
// results into one consistent authentication state.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShemaiahYaba/academic-repo/internal/apperr"
	"github.com/ShemaiahYaba/academic-repo/internal/credentials"
	"github.com/ShemaiahYaba/academic-repo/internal/observability"
	"github.com/ShemaiahYaba/academic-repo/internal/profiles"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 500 * time.Millisecond

	mailboxSize = 64
)

// errSuperseded aborts a resolution whose subject is no longer the latest.
var errSuperseded = errors.New("authstate: resolution superseded by newer event")

// ErrNotAuthenticated indicates an action that requires a signed-in user.
var ErrNotAuthenticated = errors.New("authstate: not authenticated")

// Config collects the engine's dependencies. The engine instance is owned
// by the application root and injected into consumers; it keeps no global
// state.
type Config struct {
	Credentials credentials.Service
	Profiles    profiles.Store
	Logger      *slog.Logger
	Metrics     *observability.Metrics

	// RetryAttempts and RetryDelay govern the profile-provisioning race
	// tolerance after a sign-in event. Zero values take the defaults
	// (3 attempts, 500ms fixed backoff).
	RetryAttempts int
	RetryDelay    time.Duration
}

// Engine serializes all state transitions through a single-consumer
// mailbox: one event's resolution, including its profile fetch and retries,
// completes before the next is applied. Every enqueued item carries a
// monotonic sequence number; a resolution whose number is no longer the
// latest discards its result instead of overwriting fresher state.
type Engine struct {
	creds   credentials.Service
	store   profiles.Store
	logger  *slog.Logger
	metrics *observability.Metrics

	retryAttempts int
	retryDelay    time.Duration

	latestSeq atomic.Uint64
	mailbox   chan workItem

	mu               sync.RWMutex
	state            State
	lastResolvedUser string

	subMu   sync.Mutex
	subs    []stateListener
	nextSub int
}

type stateListener struct {
	id int
	fn func(State)
}

type workItem struct {
	seq  uint64
	run  func(ctx context.Context, seq uint64)
	done chan struct{}
}

// New constructs an engine. Run must be called before the engine reacts to
// credential events.
func New(cfg Config) *Engine {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		creds:         cfg.Credentials,
		store:         cfg.Profiles,
		logger:        logger,
		metrics:       cfg.Metrics,
		retryAttempts: attempts,
		retryDelay:    delay,
		mailbox:       make(chan workItem, mailboxSize),
		state:         State{IsLoading: true},
	}
}

// Run performs the startup session resolution, subscribes to credential
// events and processes the mailbox until the context is cancelled. It is
// the engine's single writer.
func (e *Engine) Run(ctx context.Context) error {
	e.enqueue(e.initialize)

	unsubscribe := e.creds.OnSessionChange(func(ev credentials.Event) {
		e.enqueue(func(ctx context.Context, seq uint64) {
			e.handleEvent(ctx, seq, ev)
		})
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-e.mailbox:
			e.process(ctx, item)
		}
	}
}

// Snapshot returns a copy of the current reconciled state.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Subscribe registers a listener invoked with a state snapshot after every
// committed transition. It returns the unsubscribe handle. Listeners run
// synchronously on the engine goroutine and must not call engine operations
// that wait on the mailbox (SignOut, UpdateProfile); doing so can deadlock
// once the mailbox backpressures.
func (e *Engine) Subscribe(fn func(State)) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs = append(e.subs, stateListener{id: id, fn: fn})
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		for i, sub := range e.subs {
			if sub.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// SignIn authenticates credentials through the credential service. State
// converges through the resulting SIGNED_IN event.
func (e *Engine) SignIn(ctx context.Context, email, password string) (*credentials.User, error) {
	session, err := e.creds.SignIn(ctx, email, password)
	if err != nil {
		return nil, apperr.Normalize(e.logger, err)
	}
	user := session.User
	return &user, nil
}

// SignUp registers an account. No profile row is assumed to exist yet: the
// SIGNED_IN event's retry logic tolerates the asynchronous provisioning
// trigger.
func (e *Engine) SignUp(ctx context.Context, email, password string) (*credentials.User, error) {
	session, err := e.creds.SignUp(ctx, email, password)
	if err != nil {
		return nil, apperr.Normalize(e.logger, err)
	}
	user := session.User
	return &user, nil
}

// SignOut clears the local state and revokes the remote session. Local
// cleanup always succeeds; a remote failure is returned as a normalized
// error after the local view is already signed out.
func (e *Engine) SignOut(ctx context.Context) error {
	done := e.enqueue(func(_ context.Context, seq uint64) {
		e.clearState()
	})
	select {
	case <-done:
	case <-ctx.Done():
	}
	if err := e.creds.SignOut(ctx); err != nil {
		return apperr.Normalize(e.logger, err)
	}
	return nil
}

// ResetPassword requests a password-reset mail for the address.
func (e *Engine) ResetPassword(ctx context.Context, email string) error {
	if err := e.creds.ResetPassword(ctx, email); err != nil {
		return apperr.Normalize(e.logger, err)
	}
	return nil
}

// RefreshSession rotates the current session. Profile re-validation happens
// on the resulting TOKEN_REFRESHED event.
func (e *Engine) RefreshSession(ctx context.Context) error {
	if _, err := e.creds.RefreshSession(ctx); err != nil {
		return apperr.Normalize(e.logger, err)
	}
	return nil
}

// UpdateProfile persists a partial profile update for the signed-in user
// and replaces the in-state profile wholesale with the row the store
// returned. On failure the state is left unchanged.
func (e *Engine) UpdateProfile(ctx context.Context, patch profiles.Patch) (*profiles.Profile, error) {
	current := e.Snapshot()
	if current.User == nil {
		return nil, apperr.Normalize(e.logger, ErrNotAuthenticated)
	}

	updated, err := e.store.Update(ctx, current.User.ID, patch)
	if err != nil {
		return nil, apperr.Normalize(e.logger, err)
	}
	if updated == nil {
		return nil, apperr.Normalize(e.logger, fmt.Errorf("authstate: profile row missing for %s", current.User.ID))
	}

	done := e.enqueue(func(_ context.Context, seq uint64) {
		e.mu.Lock()
		if e.state.User == nil || e.state.User.ID != updated.ID {
			e.mu.Unlock()
			return
		}
		e.state.Profile = updated
		snapshot := e.state
		e.mu.Unlock()
		e.notify(snapshot)
	})
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return updated, nil
}

// enqueue tags a work item with the next sequence number and submits it to
// the mailbox. The returned channel closes once the item was processed.
func (e *Engine) enqueue(run func(ctx context.Context, seq uint64)) chan struct{} {
	seq := e.latestSeq.Add(1)
	done := make(chan struct{})
	e.mailbox <- workItem{seq: seq, run: run, done: done}
	return done
}

func (e *Engine) stale(seq uint64) bool {
	return e.latestSeq.Load() != seq
}

// process runs one work item to completion. Panics are caught, normalized
// and drive the fail-closed transition so IsLoading can never remain stuck.
func (e *Engine) process(ctx context.Context, item workItem) {
	e.setLoading(true)
	defer func() {
		if r := recover(); r != nil {
			apperr.Normalize(e.logger, fmt.Errorf("authstate: resolution panic: %v", r))
			e.clearState()
		}
		e.setLoading(false)
		close(item.done)
	}()
	item.run(ctx, item.seq)
}

// initialize is transition 1: resolve the cached session at startup.
// IsInitialized is set unconditionally at the end of this step.
func (e *Engine) initialize(ctx context.Context, seq uint64) {
	defer e.markInitialized()

	session, err := e.creds.CurrentSession(ctx)
	if err != nil {
		apperr.Normalize(e.logger, err)
		e.clearState()
		return
	}
	if session == nil {
		return
	}

	profile, err := e.store.FetchByID(ctx, session.User.ID)
	if err != nil {
		apperr.Normalize(e.logger, err)
		e.forceSignOut(ctx)
		return
	}
	if profile == nil {
		e.logger.Warn("session found with no matching profile, forcing sign-out",
			slog.String("user_id", session.User.ID))
		e.forceSignOut(ctx)
		return
	}
	e.commitAuthenticated(seq, session, profile)
}

func (e *Engine) handleEvent(ctx context.Context, seq uint64, ev credentials.Event) {
	switch ev.Kind {
	case credentials.EventSignedIn:
		e.handleSignedIn(ctx, seq, ev.Session)
	case credentials.EventTokenRefreshed:
		e.handleTokenRefreshed(ctx, seq, ev.Session)
	case credentials.EventSignedOut:
		e.clearState()
	default:
		e.logger.Warn("unknown credential event", slog.String("kind", string(ev.Kind)))
	}
}

// handleSignedIn is transition 2. Profile absence is retried with fixed
// backoff to tolerate the asynchronous provisioning trigger; a genuine
// store error fails closed immediately.
func (e *Engine) handleSignedIn(ctx context.Context, seq uint64, session *credentials.Session) {
	if session == nil {
		return
	}

	// Same user already resolved with a loaded profile: refresh the token
	// material in place and skip the redundant fetch.
	e.mu.Lock()
	if e.lastResolvedUser == session.User.ID && e.state.Profile != nil {
		user := session.User
		e.state.User = &user
		e.state.Session = session
		snapshot := e.state
		e.mu.Unlock()
		e.notify(snapshot)
		return
	}
	e.mu.Unlock()

	profile, err := e.fetchProfileWithRetry(ctx, seq, session.User.ID)
	if errors.Is(err, errSuperseded) {
		return
	}
	if err != nil {
		apperr.Normalize(e.logger, err)
		e.forceSignOut(ctx)
		return
	}
	if profile == nil {
		e.logger.Warn("profile still absent after provisioning retries, forcing sign-out",
			slog.String("user_id", session.User.ID))
		e.forceSignOut(ctx)
		return
	}
	e.commitAuthenticated(seq, session, profile)
}

// handleTokenRefreshed is transition 3: a refreshed token is the checkpoint
// for detecting server-side profile revocation, so the profile is always
// re-fetched.
func (e *Engine) handleTokenRefreshed(ctx context.Context, seq uint64, session *credentials.Session) {
	if session == nil {
		return
	}
	profile, err := e.store.FetchByID(ctx, session.User.ID)
	if err != nil {
		apperr.Normalize(e.logger, err)
		e.forceSignOut(ctx)
		return
	}
	if profile == nil {
		e.logger.Warn("token refreshed but profile is gone, forcing sign-out",
			slog.String("user_id", session.User.ID))
		e.forceSignOut(ctx)
		return
	}
	e.commitAuthenticated(seq, session, profile)
}

func (e *Engine) fetchProfileWithRetry(ctx context.Context, seq uint64, userID string) (*profiles.Profile, error) {
	for attempt := 1; ; attempt++ {
		profile, err := e.store.FetchByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if profile != nil {
			return profile, nil
		}
		if attempt >= e.retryAttempts {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.retryDelay):
		}
		if e.stale(seq) {
			return nil, errSuperseded
		}
	}
}

// commitAuthenticated writes the fully-formed authenticated state unless a
// newer work item owns the sequence, in which case the result is discarded.
func (e *Engine) commitAuthenticated(seq uint64, session *credentials.Session, profile *profiles.Profile) {
	e.mu.Lock()
	if e.stale(seq) {
		e.mu.Unlock()
		return
	}
	user := session.User
	e.state.User = &user
	e.state.Profile = profile
	e.state.Session = session
	e.state.IsAuthenticated = true
	e.lastResolvedUser = user.ID
	snapshot := e.state
	e.mu.Unlock()
	e.metrics.ObserveResolution("authenticated")
	e.notify(snapshot)
}

// clearState is the fail-closed transition: all three of user, profile and
// session become nil together. It applies unconditionally and is
// idempotent.
func (e *Engine) clearState() {
	e.mu.Lock()
	e.state.User = nil
	e.state.Profile = nil
	e.state.Session = nil
	e.state.IsAuthenticated = false
	e.lastResolvedUser = ""
	snapshot := e.state
	e.mu.Unlock()
	e.notify(snapshot)
}

// forceSignOut clears the local view and revokes any cached credential
// artifacts. The remote call is best effort; its failure never blocks local
// cleanup.
func (e *Engine) forceSignOut(ctx context.Context) {
	e.metrics.ObserveForcedSignOut()
	if err := e.creds.SignOut(ctx); err != nil {
		apperr.Normalize(e.logger, err)
	}
	e.clearState()
}

func (e *Engine) markInitialized() {
	e.mu.Lock()
	changed := !e.state.IsInitialized
	e.state.IsInitialized = true
	snapshot := e.state
	e.mu.Unlock()
	if changed {
		e.notify(snapshot)
	}
}

func (e *Engine) setLoading(loading bool) {
	e.mu.Lock()
	e.state.IsLoading = loading
	snapshot := e.state
	e.mu.Unlock()
	e.notify(snapshot)
}

func (e *Engine) notify(snapshot State) {
	e.subMu.Lock()
	subs := make([]stateListener, len(e.subs))
	copy(subs, e.subs)
	e.subMu.Unlock()
	for _, sub := range subs {
		sub.fn(snapshot)
	}
}

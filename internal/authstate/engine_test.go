package authstate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShemaiahYaba/academic-repo/internal/credentials"
	"github.com/ShemaiahYaba/academic-repo/internal/profiles"
)

type fakeCredentials struct {
	mu         sync.Mutex
	session    *credentials.Session
	currentErr error
	signOutErr error
	signOuts   int
	listeners  []func(credentials.Event)
}

func (f *fakeCredentials) SignUp(ctx context.Context, email, password string) (*credentials.Session, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCredentials) SignIn(ctx context.Context, email, password string) (*credentials.Session, error) {
	f.mu.Lock()
	session := f.session
	f.mu.Unlock()
	if session == nil {
		return nil, &credentials.AuthError{Status: 401, Message: "invalid email or password"}
	}
	f.Emit(credentials.Event{Kind: credentials.EventSignedIn, Session: session})
	return session, nil
}

func (f *fakeCredentials) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	f.session = nil
	return f.signOutErr
}

func (f *fakeCredentials) ResetPassword(ctx context.Context, email string) error { return nil }

func (f *fakeCredentials) RefreshSession(ctx context.Context) (*credentials.Session, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCredentials) CurrentSession(ctx context.Context) (*credentials.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.currentErr
}

func (f *fakeCredentials) OnSessionChange(fn func(credentials.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {}
}

func (f *fakeCredentials) Emit(ev credentials.Event) {
	f.mu.Lock()
	listeners := make([]func(credentials.Event), len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (f *fakeCredentials) SignOutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

type fetchResult struct {
	profile *profiles.Profile
	err     error
}

type fakeStore struct {
	mu        sync.Mutex
	fetches   int
	results   []fetchResult
	updated   *profiles.Profile
	updateErr error
}

// FetchByID consumes scripted results in order; the last one repeats.
func (f *fakeStore) FetchByID(ctx context.Context, userID string) (*profiles.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if len(f.results) == 0 {
		return nil, nil
	}
	next := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return next.profile, next.err
}

func (f *fakeStore) Create(ctx context.Context, userID string, seed profiles.Seed) (*profiles.Profile, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) Update(ctx context.Context, userID string, patch profiles.Patch) (*profiles.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updated, f.updateErr
}

func (f *fakeStore) FetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func testSession(userID string) *credentials.Session {
	return &credentials.Session{
		User:         credentials.User{ID: userID, Email: userID + "@example.edu"},
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func testProfile(userID string, role profiles.Role) *profiles.Profile {
	return &profiles.Profile{ID: userID, Email: userID + "@example.edu", Username: userID, Role: role}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startEngine(t *testing.T, creds *fakeCredentials, store *fakeStore) *Engine {
	t.Helper()
	engine := New(Config{
		Credentials:   creds,
		Profiles:      store,
		Logger:        discardLogger(),
		RetryAttempts: 3,
		RetryDelay:    5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = engine.Run(ctx) }()
	return engine
}

func waitInitialized(t *testing.T, engine *Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		return engine.Snapshot().IsInitialized
	}, time.Second, 2*time.Millisecond)
}

func waitSettled(t *testing.T, engine *Engine, cond func(State) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		state := engine.Snapshot()
		return state.IsInitialized && !state.IsLoading && cond(state)
	}, time.Second, 2*time.Millisecond)
}

func TestInitializeWithoutSession(t *testing.T) {
	creds := &fakeCredentials{}
	store := &fakeStore{}
	engine := startEngine(t, creds, store)

	waitSettled(t, engine, func(s State) bool { return true })
	state := engine.Snapshot()
	assert.False(t, state.IsAuthenticated)
	assert.Nil(t, state.User)
	assert.Nil(t, state.Profile)
	assert.Nil(t, state.Session)
	assert.Equal(t, 0, store.FetchCount())
}

func TestInitializeRestoresCachedSession(t *testing.T) {
	creds := &fakeCredentials{session: testSession("alice")}
	store := &fakeStore{results: []fetchResult{{profile: testProfile("alice", profiles.RoleUser)}}}
	engine := startEngine(t, creds, store)

	waitSettled(t, engine, func(s State) bool { return s.IsAuthenticated })
	state := engine.Snapshot()
	require.NotNil(t, state.User)
	require.NotNil(t, state.Profile)
	require.NotNil(t, state.Session)
	assert.Equal(t, "alice", state.User.ID)
	assert.Equal(t, "alice", state.Profile.ID)
}

func TestInitializeSessionWithoutProfileFailsClosed(t *testing.T) {
	creds := &fakeCredentials{session: testSession("ghost")}
	store := &fakeStore{results: []fetchResult{{profile: nil}}}
	engine := startEngine(t, creds, store)

	waitSettled(t, engine, func(s State) bool { return !s.IsAuthenticated })
	state := engine.Snapshot()
	assert.Nil(t, state.User)
	assert.Nil(t, state.Profile)
	assert.Nil(t, state.Session)
	assert.True(t, state.IsInitialized)
	assert.Equal(t, 1, creds.SignOutCount())
	// Startup resolution does not retry provisioning.
	assert.Equal(t, 1, store.FetchCount())
}

func TestInitializeCredentialFailureClearsState(t *testing.T) {
	creds := &fakeCredentials{currentErr: errors.New("backend unreachable")}
	store := &fakeStore{}
	engine := startEngine(t, creds, store)

	waitInitialized(t, engine)
	state := engine.Snapshot()
	assert.False(t, state.IsAuthenticated)
	assert.Equal(t, 0, store.FetchCount())
}

func TestSignedInRetriesProvisioningRace(t *testing.T) {
	creds := &fakeCredentials{}
	store := &fakeStore{results: []fetchResult{
		{profile: nil},
		{profile: nil},
		{profile: testProfile("bob", profiles.RoleEditor)},
	}}
	engine := startEngine(t, creds, store)
	waitInitialized(t, engine)

	creds.Emit(credentials.Event{Kind: credentials.EventSignedIn, Session: testSession("bob")})

	waitSettled(t, engine, func(s State) bool { return s.IsAuthenticated })
	state := engine.Snapshot()
	require.NotNil(t, state.Profile)
	assert.Equal(t, profiles.RoleEditor, state.Profile.Role)
	assert.Equal(t, 3, store.FetchCount())
	assert.Equal(t, 0, creds.SignOutCount())
}

func TestSignedInProfileAbsentAfterRetriesFailsClosed(t *testing.T) {
	creds := &fakeCredentials{}
	store := &fakeStore{results: []fetchResult{{profile: nil}}}
	engine := startEngine(t, creds, store)
	waitInitialized(t, engine)

	creds.Emit(credentials.Event{Kind: credentials.EventSignedIn, Session: testSession("carol")})

	require.Eventually(t, func() bool {
		return creds.SignOutCount() == 1
	}, time.Second, 2*time.Millisecond)
	waitSettled(t, engine, func(s State) bool { return !s.IsAuthenticated })
	assert.Equal(t, 3, store.FetchCount())
	state := engine.Snapshot()
	assert.Nil(t, state.User)
	assert.Nil(t, state.Session)
}

func TestSignedInStoreErrorFailsFast(t *testing.T) {
	creds := &fakeCredentials{}
	store := &fakeStore{results: []fetchResult{{err: errors.New("connection refused")}}}
	engine := startEngine(t, creds, store)
	waitInitialized(t, engine)

	creds.Emit(credentials.Event{Kind: credentials.EventSignedIn, Session: testSession("dave")})

	require.Eventually(t, func() bool {
		return creds.SignOutCount() == 1
	}, time.Second, 2*time.Millisecond)
	// A genuine store failure is not retried.
	assert.Equal(t, 1, store.FetchCount())
	waitSettled(t, engine, func(s State) bool { return !s.IsAuthenticated })
}

func TestSignedInSameUserSkipsRefetch(t *testing.T) {
	creds := &fakeCredentials{session: testSession("erin")}
	store := &fakeStore{results: []fetchResult{{profile: testProfile("erin", profiles.RoleUser)}}}
	engine := startEngine(t, creds, store)
	waitSettled(t, engine, func(s State) bool { return s.IsAuthenticated })
	require.Equal(t, 1, store.FetchCount())

	rotated := testSession("erin")
	rotated.AccessToken = "access-erin-2"
	creds.Emit(credentials.Event{Kind: credentials.EventSignedIn, Session: rotated})

	waitSettled(t, engine, func(s State) bool {
		return s.Session != nil && s.Session.AccessToken == "access-erin-2"
	})
	assert.Equal(t, 1, store.FetchCount())
	assert.True(t, engine.Snapshot().IsAuthenticated)
}

func TestTokenRefreshRevalidatesProfile(t *testing.T) {
	creds := &fakeCredentials{session: testSession("frank")}
	store := &fakeStore{results: []fetchResult{
		{profile: testProfile("frank", profiles.RoleUser)},
		{profile: nil},
	}}
	engine := startEngine(t, creds, store)
	waitSettled(t, engine, func(s State) bool { return s.IsAuthenticated })

	// The profile row disappeared server side; the refresh checkpoint must
	// notice and fail closed without retrying.
	creds.Emit(credentials.Event{Kind: credentials.EventTokenRefreshed, Session: testSession("frank")})

	waitSettled(t, engine, func(s State) bool { return !s.IsAuthenticated })
	assert.Equal(t, 2, store.FetchCount())
	assert.Equal(t, 1, creds.SignOutCount())
}

func TestSignedOutClearsEverything(t *testing.T) {
	creds := &fakeCredentials{session: testSession("grace")}
	store := &fakeStore{results: []fetchResult{{profile: testProfile("grace", profiles.RoleAdmin)}}}
	engine := startEngine(t, creds, store)
	waitSettled(t, engine, func(s State) bool { return s.IsAuthenticated })

	creds.Emit(credentials.Event{Kind: credentials.EventSignedOut})

	waitSettled(t, engine, func(s State) bool { return !s.IsAuthenticated })
	state := engine.Snapshot()
	assert.Nil(t, state.User)
	assert.Nil(t, state.Profile)
	assert.Nil(t, state.Session)
	assert.True(t, state.IsInitialized)
}

func TestSignOutSucceedsLocallyDespiteRemoteFailure(t *testing.T) {
	creds := &fakeCredentials{
		session:    testSession("henry"),
		signOutErr: errors.New("network down"),
	}
	store := &fakeStore{results: []fetchResult{{profile: testProfile("henry", profiles.RoleUser)}}}
	engine := startEngine(t, creds, store)
	waitSettled(t, engine, func(s State) bool { return s.IsAuthenticated })

	err := engine.SignOut(context.Background())
	require.Error(t, err)
	state := engine.Snapshot()
	assert.False(t, state.IsAuthenticated)
	assert.Nil(t, state.User)

	// Signing out again from the signed-out state is a no-op locally.
	_ = engine.SignOut(context.Background())
	assert.False(t, engine.Snapshot().IsAuthenticated)
}

func TestStaleResolutionIsDiscarded(t *testing.T) {
	creds := &fakeCredentials{}
	store := &fakeStore{results: []fetchResult{{profile: nil}}}
	engine := New(Config{
		Credentials:   creds,
		Profiles:      store,
		Logger:        discardLogger(),
		RetryAttempts: 3,
		RetryDelay:    50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = engine.Run(ctx) }()
	waitInitialized(t, engine)

	creds.Emit(credentials.Event{Kind: credentials.EventSignedIn, Session: testSession("ivy")})
	require.Eventually(t, func() bool {
		return store.FetchCount() == 1
	}, time.Second, 2*time.Millisecond)

	// A sign-out lands while the sign-in resolution is waiting out the
	// provisioning backoff. The in-flight resolution must abandon its work
	// instead of finishing behind the newer event.
	creds.Emit(credentials.Event{Kind: credentials.EventSignedOut})

	waitSettled(t, engine, func(s State) bool { return !s.IsAuthenticated })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, store.FetchCount())
	assert.Equal(t, 0, creds.SignOutCount())
	assert.False(t, engine.Snapshot().IsAuthenticated)
}

func TestInitializedFlagSetExactlyOnce(t *testing.T) {
	creds := &fakeCredentials{}
	store := &fakeStore{results: []fetchResult{{profile: testProfile("judy", profiles.RoleUser)}}}
	engine := New(Config{
		Credentials:   creds,
		Profiles:      store,
		Logger:        discardLogger(),
		RetryAttempts: 3,
		RetryDelay:    5 * time.Millisecond,
	})

	var mu sync.Mutex
	transitions := 0
	seen := false
	engine.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if s.IsInitialized && !seen {
			transitions++
		}
		seen = s.IsInitialized
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = engine.Run(ctx) }()
	waitInitialized(t, engine)

	creds.Emit(credentials.Event{Kind: credentials.EventSignedIn, Session: testSession("judy")})
	waitSettled(t, engine, func(s State) bool { return s.IsAuthenticated })
	creds.Emit(credentials.Event{Kind: credentials.EventSignedOut})
	waitSettled(t, engine, func(s State) bool { return !s.IsAuthenticated })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, transitions)
}

func TestAuthenticatedImpliesUserAndProfile(t *testing.T) {
	creds := &fakeCredentials{session: testSession("kate")}
	store := &fakeStore{results: []fetchResult{{profile: testProfile("kate", profiles.RoleUser)}}}
	engine := New(Config{
		Credentials:   creds,
		Profiles:      store,
		Logger:        discardLogger(),
		RetryAttempts: 3,
		RetryDelay:    5 * time.Millisecond,
	})

	var mu sync.Mutex
	var violations int
	engine.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if s.IsAuthenticated != (s.User != nil && s.Profile != nil) {
			violations++
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = engine.Run(ctx) }()
	waitSettled(t, engine, func(s State) bool { return s.IsAuthenticated })

	creds.Emit(credentials.Event{Kind: credentials.EventSignedOut})
	waitSettled(t, engine, func(s State) bool { return !s.IsAuthenticated })

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, violations)
}

func TestUpdateProfileReplacesWholesale(t *testing.T) {
	creds := &fakeCredentials{session: testSession("liam")}
	updated := testProfile("liam", profiles.RoleUser)
	updated.Username = "liam_new"
	updated.AvatarURL = "https://cdn.example.edu/liam.png"
	store := &fakeStore{
		results: []fetchResult{{profile: testProfile("liam", profiles.RoleUser)}},
		updated: updated,
	}
	engine := startEngine(t, creds, store)
	waitSettled(t, engine, func(s State) bool { return s.IsAuthenticated })

	username := "liam_new"
	got, err := engine.UpdateProfile(context.Background(), profiles.Patch{Username: &username})
	require.NoError(t, err)
	assert.Equal(t, "liam_new", got.Username)

	state := engine.Snapshot()
	require.NotNil(t, state.Profile)
	assert.Equal(t, "liam_new", state.Profile.Username)
	assert.Equal(t, "https://cdn.example.edu/liam.png", state.Profile.AvatarURL)
}

func TestUpdateProfileRequiresSignedInUser(t *testing.T) {
	creds := &fakeCredentials{}
	store := &fakeStore{}
	engine := startEngine(t, creds, store)
	waitInitialized(t, engine)

	username := "nobody"
	_, err := engine.UpdateProfile(context.Background(), profiles.Patch{Username: &username})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestUpdateProfileFailureLeavesStateUntouched(t *testing.T) {
	creds := &fakeCredentials{session: testSession("mia")}
	store := &fakeStore{
		results:   []fetchResult{{profile: testProfile("mia", profiles.RoleUser)}},
		updateErr: errors.New("row lock timeout"),
	}
	engine := startEngine(t, creds, store)
	waitSettled(t, engine, func(s State) bool { return s.IsAuthenticated })

	username := "mia_new"
	_, err := engine.UpdateProfile(context.Background(), profiles.Patch{Username: &username})
	require.Error(t, err)
	state := engine.Snapshot()
	require.NotNil(t, state.Profile)
	assert.Equal(t, "mia", state.Profile.Username)
}

func TestSubscribeUnsubscribeStopsDelivery(t *testing.T) {
	creds := &fakeCredentials{}
	store := &fakeStore{results: []fetchResult{{profile: testProfile("nina", profiles.RoleUser)}}}
	engine := startEngine(t, creds, store)
	waitInitialized(t, engine)

	var mu sync.Mutex
	calls := 0
	unsubscribe := engine.Subscribe(func(State) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	unsubscribe()

	creds.Emit(credentials.Event{Kind: credentials.EventSignedIn, Session: testSession("nina")})
	waitSettled(t, engine, func(s State) bool { return s.IsAuthenticated })

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

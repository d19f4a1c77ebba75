package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/providers/auth/supabase"
)

type fakeAuth struct {
	mu         sync.Mutex
	session    supabase.Session
	profile    supabase.Profile
	loginErr   error
	profileErr error
	registered []supabase.Registration
	loggedOut  []string
}

func (f *fakeAuth) Login(_ context.Context, email, _ string) (supabase.Session, error) {
	if f.loginErr != nil {
		return supabase.Session{}, f.loginErr
	}
	return f.session, nil
}

func (f *fakeAuth) Register(_ context.Context, reg supabase.Registration) (supabase.User, supabase.Session, error) {
	f.mu.Lock()
	f.registered = append(f.registered, reg)
	f.mu.Unlock()
	return f.session.User, f.session, nil
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, token)
	return errors.New("network down")
}

func (f *fakeAuth) Profile(_ context.Context, _, _ string) (supabase.Profile, error) {
	return f.profile, f.profileErr
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newAuth() *fakeAuth {
	return &fakeAuth{
		session: supabase.Session{
			AccessToken: "token-1",
			ExpiresAt:   testNow.Add(time.Hour),
			User:        supabase.User{ID: "user-1", Email: "ana@example.com"},
		},
		profile: supabase.Profile{ID: "user-1", Name: "Ana Souza", Phone: "(11) 98765-4321", City: "Campinas", State: "SP"},
	}
}

func openContext(t *testing.T, auth Authenticator) (*Context, *Store) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "mari", "session.json"))
	ctx, err := Open(Config{Store: store, Auth: auth, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return ctx, store
}

func TestAnonymousMetadata(t *testing.T) {
	t.Parallel()

	sess, _ := openContext(t, nil)
	assert.False(t, sess.IsAuthenticated())
	assert.Equal(t, voice.AnonymousID, sess.UserID())
	meta := sess.Metadata()
	assert.Equal(t, voice.AnonymousID, meta.ID)
	assert.Equal(t, voice.AnonymousName, meta.Name)
	assert.Empty(t, meta.Phone)

	err := sess.Login(context.Background(), "a@b.c", "x")
	require.Error(t, err)
}

func TestLoginPersistsSessionAndProfile(t *testing.T) {
	t.Parallel()

	auth := newAuth()
	sess, store := openContext(t, auth)
	require.NoError(t, sess.Login(context.Background(), " ana@example.com ", "secret"))

	assert.True(t, sess.IsAuthenticated())
	meta := sess.Metadata()
	assert.Equal(t, "user-1", meta.ID)
	assert.Equal(t, "Ana Souza", meta.Name)
	assert.Equal(t, "Campinas", meta.City)

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := Open(Config{Store: store, Auth: auth, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	assert.True(t, reopened.IsAuthenticated())
	profile, ok := reopened.Profile()
	require.True(t, ok)
	assert.Equal(t, "Ana Souza", profile.Name)
}

func TestLoginDropsPreviousSession(t *testing.T) {
	t.Parallel()

	auth := newAuth()
	sess, _ := openContext(t, auth)
	require.NoError(t, sess.Login(context.Background(), "ana@example.com", "secret"))

	auth.loginErr = errors.New("invalid login credentials")
	require.Error(t, sess.Login(context.Background(), "ana@example.com", "wrong"))
	assert.False(t, sess.IsAuthenticated())
	assert.Equal(t, []string{"token-1"}, auth.loggedOut)
}

func TestLoginWithoutProfileKeepsUserID(t *testing.T) {
	t.Parallel()

	auth := newAuth()
	auth.profileErr = errors.New("not found")
	sess, _ := openContext(t, auth)
	require.NoError(t, sess.Login(context.Background(), "ana@example.com", "secret"))

	meta := sess.Metadata()
	assert.Equal(t, "user-1", meta.ID)
	assert.Equal(t, voice.AnonymousName, meta.Name)
}

func TestExpiredSessionDiscarded(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "session.json"))
	expired := supabase.Session{AccessToken: "old", ExpiresAt: testNow.Add(-time.Minute), User: supabase.User{ID: "user-1"}}
	require.NoError(t, store.Save(State{Session: &expired, PendingMessage: "Oi"}))

	sess, err := Open(Config{Store: store, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	assert.False(t, sess.IsAuthenticated())

	msg, err := sess.TakePending()
	require.NoError(t, err)
	assert.Equal(t, "Oi", msg)
}

func TestCorruptSessionFileDiscarded(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	sess, err := Open(Config{Store: NewStore(path)})
	require.NoError(t, err)
	assert.False(t, sess.IsAuthenticated())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLogoutRemovesTokenFileEvenWhenRemoteFails(t *testing.T) {
	t.Parallel()

	auth := newAuth()
	sess, store := openContext(t, auth)
	require.NoError(t, sess.Login(context.Background(), "ana@example.com", "secret"))

	require.NoError(t, sess.Logout(context.Background()))
	assert.False(t, sess.IsAuthenticated())
	assert.Equal(t, voice.AnonymousID, sess.Metadata().ID)
	assert.Equal(t, []string{"token-1"}, auth.loggedOut)
	_, err := os.Stat(store.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, sess.Close())
}

func TestPendingMessage(t *testing.T) {
	t.Parallel()

	sess, store := openContext(t, nil)
	require.NoError(t, sess.SetPending("  Como evitar procrastinação?  "))

	state, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "Como evitar procrastinação?", state.PendingMessage)

	msg, err := sess.TakePending()
	require.NoError(t, err)
	assert.Equal(t, "Como evitar procrastinação?", msg)

	msg, err = sess.TakePending()
	require.NoError(t, err)
	assert.Empty(t, msg)
}

func TestRegisterValidatesBeforeCallingBackend(t *testing.T) {
	t.Parallel()

	auth := newAuth()
	sess, _ := openContext(t, auth)

	err := sess.Register(context.Background(), RegistrationForm{Email: "ana@example.com"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, auth.registered)

	form := validForm()
	require.NoError(t, sess.Register(context.Background(), form))
	require.Len(t, auth.registered, 1)
	assert.Equal(t, "(11) 98765-4321", auth.registered[0].Phone)
	assert.True(t, sess.IsAuthenticated())
}

func TestRefreshProfile(t *testing.T) {
	t.Parallel()

	auth := newAuth()
	sess, _ := openContext(t, auth)
	_, err := sess.RefreshProfile(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, sess.Login(context.Background(), "ana@example.com", "secret"))
	auth.profile.City = "Santos"
	profile, err := sess.RefreshProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Santos", profile.City)
	assert.Equal(t, "Santos", sess.Metadata().City)
}

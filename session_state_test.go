package authgate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStateConstructors(t *testing.T) {
	identity := NewIdentity("u1", "user@example.com", true)

	assert.False(t, UnknownSession().IsKnown())
	assert.True(t, AnonymousSession().IsKnown())
	assert.False(t, AnonymousSession().IsAuthenticated())

	state := AuthenticatedSession(identity)
	assert.True(t, state.IsKnown())
	assert.True(t, state.IsAuthenticated())
	assert.Equal(t, "u1", state.UserID())

	assert.Equal(t, AnonymousSession(), AuthenticatedSession(nil))
	assert.Equal(t, "", AnonymousSession().UserID())
	assert.False(t, SessionState{}.IsKnown())
}

func TestSessionStoreStartsUnknown(t *testing.T) {
	store := NewSessionStore()
	assert.Equal(t, SessionUnknown, store.Current().Status)
}

func TestSessionStoreRejectsRegression(t *testing.T) {
	store := NewSessionStore()

	require.NoError(t, store.set(UnknownSession()))
	assert.Equal(t, SessionUnknown, store.Current().Status)

	require.NoError(t, store.set(AnonymousSession()))

	err := store.set(UnknownSession())
	assert.ErrorIs(t, err, ErrSessionRegression)
	assert.Equal(t, SessionAnonymous, store.Current().Status)
}

func TestSessionStoreNormalizesStates(t *testing.T) {
	store := NewSessionStore()

	require.NoError(t, store.set(SessionState{Status: SessionAuthenticated}))
	assert.Equal(t, AnonymousSession(), store.Current())

	require.NoError(t, store.set(SessionState{
		Status:   SessionAnonymous,
		Identity: NewIdentity("u1", "user@example.com", false),
	}))
	assert.Nil(t, store.Current().Identity)
}

func TestSessionStoreChangedClosesOnWrite(t *testing.T) {
	store := NewSessionStore()
	changed := store.Changed()

	select {
	case <-changed:
		t.Fatal("channel closed before any write")
	default:
	}

	require.NoError(t, store.set(AnonymousSession()))

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("channel not closed after write")
	}

	assert.NotEqual(t, changed, store.Changed())
}

func TestSessionStoreAwait(t *testing.T) {
	store := NewSessionStore()
	identity := NewIdentity("u1", "user@example.com", true)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = store.set(AnonymousSession())
		_ = store.set(AuthenticatedSession(identity))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	state, err := store.Await(ctx, SessionState.IsAuthenticated)
	require.NoError(t, err)
	assert.Equal(t, "u1", state.UserID())
}

func TestSessionStoreAwaitHonorsContext(t *testing.T) {
	store := NewSessionStore()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	state, err := store.Await(ctx, SessionState.IsKnown)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, SessionUnknown, state.Status)
}

func TestSessionStoreVersionCountsAcceptedWrites(t *testing.T) {
	store := NewSessionStore()
	assert.Equal(t, uint64(0), store.Version())

	require.NoError(t, store.set(UnknownSession()))
	assert.Equal(t, uint64(0), store.Version())

	require.NoError(t, store.set(AnonymousSession()))
	require.NoError(t, store.set(AuthenticatedSession(NewIdentity("u1", "user@example.com", true))))
	assert.Equal(t, uint64(2), store.Version())

	assert.ErrorIs(t, store.set(UnknownSession()), ErrSessionRegression)
	assert.Equal(t, uint64(2), store.Version())
}

func TestSessionStoreAwaitSignOutAfterBothWrites(t *testing.T) {
	store := NewSessionStore()
	require.NoError(t, store.set(AnonymousSession()))
	since := store.Version()

	require.NoError(t, store.set(AuthenticatedSession(NewIdentity("u1", "user@example.com", false))))
	require.NoError(t, store.set(AnonymousSession()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	version, err := store.AwaitSignIn(ctx, "u1", since)
	require.NoError(t, err)
	assert.Equal(t, since+1, version)
	require.NoError(t, store.AwaitSignOut(ctx, "u1", since))
}

func TestSessionStoreAwaitSignOutIgnoresStaleState(t *testing.T) {
	store := NewSessionStore()
	require.NoError(t, store.set(AnonymousSession()))
	since := store.Version()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// anonymous already, but the sign in has not been applied yet
	assert.ErrorIs(t, store.AwaitSignOut(ctx, "u1", since), context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = store.set(AuthenticatedSession(NewIdentity("u1", "user@example.com", false)))
		time.Sleep(10 * time.Millisecond)
		_ = store.set(AnonymousSession())
	}()

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, store.AwaitSignOut(ctx, "u1", since))
	assert.Equal(t, SessionAnonymous, store.Current().Status)
	assert.Equal(t, since+2, store.Version())
}

func TestSessionStoreAwaitSignInRequiresMatchingUser(t *testing.T) {
	store := NewSessionStore()
	require.NoError(t, store.set(AuthenticatedSession(NewIdentity("other", "other@example.com", true))))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := store.AwaitSignIn(ctx, "u1", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = store.AwaitSignIn(context.Background(), "other", 0)
	assert.NoError(t, err)

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, store.AwaitSignOut(ctx, "", 0), context.DeadlineExceeded)
}

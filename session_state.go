package authgate

import (
	"context"
	"sync"
	"sync/atomic"
)

// SessionStatus is the application's belief about the current session.
type SessionStatus string

const (
	SessionUnknown       SessionStatus = "unknown"
	SessionAnonymous     SessionStatus = "anonymous"
	SessionAuthenticated SessionStatus = "authenticated"
)

// SessionState is an immutable snapshot. Identity is only set when Status
// is SessionAuthenticated.
type SessionState struct {
	Status   SessionStatus
	Identity Identity
}

// UnknownSession is the state before the provider was heard from.
func UnknownSession() SessionState {
	return SessionState{Status: SessionUnknown}
}

// AnonymousSession is the state with no signed in identity.
func AnonymousSession() SessionState {
	return SessionState{Status: SessionAnonymous}
}

// AuthenticatedSession wraps identity. A nil identity yields AnonymousSession.
func AuthenticatedSession(identity Identity) SessionState {
	if identity == nil {
		return AnonymousSession()
	}
	return SessionState{Status: SessionAuthenticated, Identity: identity}
}

func (s SessionState) IsKnown() bool {
	return s.Status != "" && s.Status != SessionUnknown
}

func (s SessionState) IsAuthenticated() bool {
	return s.Status == SessionAuthenticated && s.Identity != nil
}

// UserID returns the identity id or an empty string.
func (s SessionState) UserID() string {
	if !s.IsAuthenticated() {
		return ""
	}
	return s.Identity.ID()
}

// SessionStore holds the current SessionState. It has a single writer, the
// SessionGate, and any number of readers. Every accepted write bumps the
// store version.
type SessionStore struct {
	record  atomic.Pointer[storeRecord]
	mu      sync.Mutex
	changed chan struct{}
}

type storeRecord struct {
	state   SessionState
	version uint64
	// last authenticated write
	signInID      string
	signInVersion uint64
}

// NewSessionStore returns a store in the unknown state at version 0.
func NewSessionStore() *SessionStore {
	s := &SessionStore{
		changed: make(chan struct{}),
	}
	s.record.Store(&storeRecord{state: UnknownSession()})
	return s
}

// Current returns the latest snapshot.
func (s *SessionStore) Current() SessionState {
	return s.record.Load().state
}

// Version returns the number of writes applied so far.
func (s *SessionStore) Version() uint64 {
	return s.record.Load().version
}

// Changed returns a channel that is closed on the next write.
func (s *SessionStore) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Await blocks until predicate holds for the current state or ctx is done.
func (s *SessionStore) Await(ctx context.Context, predicate func(SessionState) bool) (SessionState, error) {
	rec, err := s.await(ctx, func(r *storeRecord) bool { return predicate(r.state) })
	return rec.state, err
}

// AwaitSignIn blocks until a write newer than since signed userID in. The
// state may have moved on by the time it returns. It returns the version of
// that write.
func (s *SessionStore) AwaitSignIn(ctx context.Context, userID string, since uint64) (uint64, error) {
	rec, err := s.await(ctx, func(r *storeRecord) bool {
		return signedInAfter(r, userID, since)
	})
	return rec.signInVersion, err
}

// AwaitSignOut blocks until a sign in of userID newer than since was
// followed by a write that left the store anonymous.
func (s *SessionStore) AwaitSignOut(ctx context.Context, userID string, since uint64) error {
	_, err := s.await(ctx, func(r *storeRecord) bool {
		return signedInAfter(r, userID, since) &&
			r.state.Status == SessionAnonymous &&
			r.version > r.signInVersion
	})
	return err
}

func signedInAfter(r *storeRecord, userID string, since uint64) bool {
	return userID != "" && r.signInID == userID && r.signInVersion > since
}

func (s *SessionStore) await(ctx context.Context, predicate func(*storeRecord) bool) (*storeRecord, error) {
	for {
		changed := s.Changed()
		current := s.record.Load()
		if predicate(current) {
			return current, nil
		}

		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-changed:
		}
	}
}

func (s *SessionStore) set(next SessionState) error {
	if next.Status == "" || next.Status == SessionUnknown {
		if s.Current().IsKnown() {
			return ErrSessionRegression
		}
		return nil
	}

	if next.Status == SessionAuthenticated && next.Identity == nil {
		next = AnonymousSession()
	}
	if next.Status == SessionAnonymous {
		next.Identity = nil
	}

	s.mu.Lock()
	prev := s.record.Load()
	rec := &storeRecord{
		state:         next,
		version:       prev.version + 1,
		signInID:      prev.signInID,
		signInVersion: prev.signInVersion,
	}
	if next.IsAuthenticated() {
		rec.signInID = next.Identity.ID()
		rec.signInVersion = rec.version
	}
	s.record.Store(rec)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	return nil
}

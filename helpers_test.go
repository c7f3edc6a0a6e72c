package authgate_test

import (
	"context"
	"sync"
	"sync/atomic"

	authgate "github.com/goliatone/go-auth-gate"
)

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

// spyCreds counts calls and lets tests replace single operations.
type spyCreds struct {
	authgate.CredentialService

	signIns      atomic.Int32
	signUps      atomic.Int32
	signOuts     atomic.Int32
	verification atomic.Int32
	resets       atomic.Int32

	signOutErr error
}

func (s *spyCreds) SignIn(ctx context.Context, email, password string) (authgate.Identity, error) {
	s.signIns.Add(1)
	return s.CredentialService.SignIn(ctx, email, password)
}

func (s *spyCreds) SignUp(ctx context.Context, email, password string) (authgate.Identity, error) {
	s.signUps.Add(1)
	return s.CredentialService.SignUp(ctx, email, password)
}

func (s *spyCreds) SignOut(ctx context.Context) error {
	s.signOuts.Add(1)
	if s.signOutErr != nil {
		return s.signOutErr
	}
	return s.CredentialService.SignOut(ctx)
}

func (s *spyCreds) SendVerificationEmail(ctx context.Context, identity authgate.Identity) error {
	s.verification.Add(1)
	return s.CredentialService.SendVerificationEmail(ctx, identity)
}

func (s *spyCreds) SendPasswordReset(ctx context.Context, email string) error {
	s.resets.Add(1)
	return s.CredentialService.SendPasswordReset(ctx, email)
}

type recordingSink struct {
	mu     sync.Mutex
	events []authgate.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event authgate.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Types() []authgate.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]authgate.ActivityEventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *recordingSink) Find(eventType authgate.ActivityEventType) (authgate.ActivityEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.EventType == eventType {
			return ev, true
		}
	}
	return authgate.ActivityEvent{}, false
}

// blockingSink holds every Record call until Release. A gate using it
// applies one event to its store and then stops consuming.
type blockingSink struct {
	recordingSink

	release chan struct{}
	once    sync.Once
}

func newBlockingSink() *blockingSink {
	return &blockingSink{release: make(chan struct{})}
}

func (b *blockingSink) Record(ctx context.Context, event authgate.ActivityEvent) error {
	<-b.release
	return b.recordingSink.Record(ctx, event)
}

func (b *blockingSink) Release() {
	b.once.Do(func() { close(b.release) })
}

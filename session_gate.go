package authgate

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// SessionGate keeps a SessionStore in sync with the CredentialService
// session stream. It is the only writer of the store.
type SessionGate struct {
	creds    CredentialService
	store    *SessionStore
	logger   Logger
	activity ActivitySink
	now      func() time.Time

	mu  sync.Mutex
	run *gateRun

	errMu sync.RWMutex
	err   error
}

type gateRun struct {
	sub      Subscription
	stopping chan struct{}
	done     chan struct{}
}

// SessionGateOption customizes gate construction.
type SessionGateOption func(*SessionGate)

// WithGateLogger overrides the logger used for stream and store failures.
func WithGateLogger(logger Logger) SessionGateOption {
	return func(g *SessionGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGateActivitySink sets the sink that receives session change events.
func WithGateActivitySink(sink ActivitySink) SessionGateOption {
	return func(g *SessionGate) {
		g.activity = normalizeActivitySink(sink)
	}
}

// WithGateClock injects a custom clock (useful for tests).
func WithGateClock(clock func() time.Time) SessionGateOption {
	return func(g *SessionGate) {
		if clock != nil {
			g.now = clock
		}
	}
}

// NewSessionGate wires creds to store. Start must be called to begin
// observing the session.
func NewSessionGate(creds CredentialService, store *SessionStore, opts ...SessionGateOption) *SessionGate {
	if creds == nil {
		panic("authgate: session gate requires a CredentialService")
	}
	if store == nil {
		store = NewSessionStore()
	}

	g := &SessionGate{
		creds:    creds,
		store:    store,
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// Store returns the store the gate writes to.
func (g *SessionGate) Store() *SessionStore {
	return g.store
}

// Loading reports whether the session has not been resolved yet.
func (g *SessionGate) Loading() bool {
	return g.store.Current().Status == SessionUnknown
}

// Err returns the last session stream failure, if any.
func (g *SessionGate) Err() error {
	g.errMu.RLock()
	defer g.errMu.RUnlock()
	return g.err
}

// Start subscribes to the session stream. A subscription held from a
// previous Start is released first. The subscription is also released when
// ctx is done.
func (g *SessionGate) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopLocked()
	g.setErr(nil)

	sub, err := g.creds.Subscribe(ctx)
	if err != nil {
		g.streamFailed(ctx, err)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to subscribe to session changes")
	}

	run := &gateRun{
		sub:      sub,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	g.run = run

	go g.consume(ctx, run)

	return nil
}

// Stop releases the subscription and waits for the consumer to exit. It is
// safe to call more than once and never modifies the store.
func (g *SessionGate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
}

func (g *SessionGate) stopLocked() {
	if g.run == nil {
		return
	}
	run := g.run
	g.run = nil

	close(run.stopping)
	run.sub.Unsubscribe()
	<-run.done
}

func (g *SessionGate) consume(ctx context.Context, run *gateRun) {
	defer close(run.done)

	events := run.sub.Events()
	recordCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-run.stopping:
			return
		case <-ctx.Done():
			run.sub.Unsubscribe()
			return
		case ev, ok := <-events:
			if !ok {
				select {
				case <-run.stopping:
				default:
					g.streamFailed(recordCtx, ErrSessionStreamClosed)
				}
				return
			}

			if ev.Err != nil {
				g.streamFailed(recordCtx, ev.Err)
				run.sub.Unsubscribe()
				return
			}

			g.apply(recordCtx, ev)
		}
	}
}

func (g *SessionGate) apply(ctx context.Context, ev SessionEvent) {
	prev := g.store.Current()
	next := AuthenticatedSession(ev.Identity)

	if err := g.store.set(next); err != nil {
		g.logger.Error("session store rejected update", "from", prev.Status, "to", next.Status, "error", err)
		return
	}

	g.logger.Debug("session changed", "from", prev.Status, "to", next.Status, "user_id", next.UserID())

	userID := next.UserID()
	if userID == "" {
		userID = prev.UserID()
	}

	recordActivity(ctx, g.activity, g.logger, ActivityEvent{
		EventType:  ActivityEventSessionChanged,
		UserID:     userID,
		FromStatus: prev.Status,
		ToStatus:   next.Status,
		OccurredAt: g.now(),
	})
}

func (g *SessionGate) streamFailed(ctx context.Context, err error) {
	g.setErr(err)

	current := g.store.Current()
	g.logger.Error("session stream failed", "status", current.Status, "error", err)

	recordActivity(ctx, g.activity, g.logger, ActivityEvent{
		EventType:  ActivityEventSessionStreamFailed,
		UserID:     current.UserID(),
		FromStatus: current.Status,
		ToStatus:   current.Status,
		Metadata: map[string]any{
			"error": err.Error(),
		},
		OccurredAt: g.now(),
	})
}

func (g *SessionGate) setErr(err error) {
	g.errMu.Lock()
	g.err = err
	g.errMu.Unlock()
}

// Package ratelimit admits requests through per-key fixed windows. Each key
// gets its own single-writer actor so concurrent arrivals serialize and the
// window admits an exact count.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/tome/internal/config"
)

// State is the persisted window for one key.
type State struct {
	Count           int       `json:"count"`
	WindowStartAt   time.Time `json:"windowStartAt"`
	WindowExpiresAt time.Time `json:"windowExpiresAt"`
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store persists window state. Implementations need no locking; all access
// to one key flows through that key's actor.
type Store interface {
	Load(ctx context.Context, key string) (State, bool, error)
	Save(ctx context.Context, key string, state State) error
	Delete(ctx context.Context, key string) error
}

// Limiter owns one actor per key and routes checks to them. Idle actors are
// torn down after two windows without traffic.
type Limiter struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	limit  int
	window time.Duration
	actors map[string]*actor
}

// Option configures a Limiter.
type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithClock overrides the time source. Tests use this to step windows.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter from config, falling back to 10 requests per
// 60 seconds when unset.
func NewLimiter(store Store, cfg config.RateLimitCfg, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		limit:  cfg.MaxRequests,
		window: time.Duration(cfg.WindowSeconds) * time.Second,
		actors: map[string]*actor{},
	}
	if l.limit <= 0 {
		l.limit = 10
	}
	if l.window <= 0 {
		l.window = 60 * time.Second
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLimits retunes the window at runtime. In-flight windows keep their
// expiry; the new count applies immediately.
func (l *Limiter) SetLimits(maxRequests, windowSeconds int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if maxRequests > 0 {
		l.limit = maxRequests
	}
	if windowSeconds > 0 {
		l.window = time.Duration(windowSeconds) * time.Second
	}
}

// Limits returns the current max requests and window.
func (l *Limiter) Limits() (int, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit, l.window
}

// Check runs one admission check for key. A non-nil error means the
// substrate failed; callers decide the fail-open policy.
func (l *Limiter) Check(ctx context.Context, key string) (Decision, error) {
	for {
		a := l.actorFor(key)
		req := checkRequest{ctx: ctx, reply: make(chan checkReply, 1)}
		select {
		case a.mailbox <- req:
		case <-a.done:
			// Actor retired between lookup and send; grab a fresh one.
			continue
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
		select {
		case rep := <-req.reply:
			return rep.decision, rep.err
		case <-a.done:
			// The send can land in the mailbox in the same instant retire
			// closes done; a retired actor never drains its mailbox. A reply
			// already buffered means the check did run, so prefer it over a
			// retry that would count the request twice.
			select {
			case rep := <-req.reply:
				return rep.decision, rep.err
			default:
			}
			continue
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}
}

// ActorCount reports live actors.
func (l *Limiter) ActorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.actors)
}

func (l *Limiter) actorFor(key string) *actor {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.actors[key]; ok {
		return a
	}
	a := &actor{
		key:     key,
		limiter: l,
		mailbox: make(chan checkRequest, 16),
		done:    make(chan struct{}),
	}
	l.actors[key] = a
	go a.run()
	return a
}

type checkRequest struct {
	ctx   context.Context
	reply chan checkReply
}

type checkReply struct {
	decision Decision
	err      error
}

// actor serializes every check for one key.
type actor struct {
	key     string
	limiter *Limiter
	mailbox chan checkRequest
	done    chan struct{}
}

func (a *actor) run() {
	l := a.limiter
	_, window := l.Limits()
	idle := time.NewTimer(2 * window)
	defer idle.Stop()

	for {
		select {
		case req := <-a.mailbox:
			d, err := a.check(req.ctx)
			req.reply <- checkReply{decision: d, err: err}
			if !idle.Stop() {
				<-idle.C
			}
			_, window = l.Limits()
			idle.Reset(2 * window)
		case <-idle.C:
			if a.retire() {
				return
			}
			idle.Reset(2 * window)
		}
	}
}

// retire removes the actor from the registry unless a sender raced in.
func (a *actor) retire() bool {
	l := a.limiter
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(a.mailbox) > 0 {
		return false
	}
	delete(l.actors, a.key)
	close(a.done)
	return true
}

// check applies the fixed-window rule. Denials never increment.
func (a *actor) check(ctx context.Context) (Decision, error) {
	l := a.limiter
	limit, window := l.Limits()
	now := l.now()

	state, ok, err := l.store.Load(ctx, a.key)
	if err != nil {
		return Decision{}, err
	}
	if !ok || !now.Before(state.WindowExpiresAt) {
		state = State{WindowStartAt: now, WindowExpiresAt: now.Add(window)}
	}

	if state.Count >= limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: state.WindowExpiresAt}, nil
	}

	state.Count++
	if err := l.store.Save(ctx, a.key, state); err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   true,
		Remaining: limit - state.Count,
		ResetAt:   state.WindowExpiresAt,
	}, nil
}

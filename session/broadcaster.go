package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmcleod/clubhouse/identity"
)

const (
	eventBuffer  = 64
	noticeBuffer = 8
)

type principalEvent struct {
	principal *identity.Principal
	ack       chan struct{}
}

type claimResult struct {
	gen   uint64
	admin bool
}

type inFlightEvent struct {
	op Operation
	on bool
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithLogger sets the broadcaster logger.
func WithLogger(l *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) { b.logger = l }
}

// WithEvaluatorOptions configures the Evaluator the Broadcaster builds over
// its provider.
func WithEvaluatorOptions(opts ...EvaluatorOption) BroadcasterOption {
	return func(b *Broadcaster) { b.evalOpts = append(b.evalOpts, opts...) }
}

// Broadcaster owns the single provider subscription of one browser session
// and publishes State to any number of consumers.
//
// Provider events, authorization results and in-flight flag changes are
// handled one at a time by a single loop goroutine, so every consumer sees
// the same sequence of whole states.
type Broadcaster struct {
	provider  identity.Provider
	evaluator *Evaluator
	evalOpts  []EvaluatorOption
	logger    *slog.Logger

	store   *Store // owned by loop
	events  chan any
	notices chan Notice
	state   atomic.Pointer[State]

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	loopDone chan struct{}
	evalWG   sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once

	mu          sync.Mutex
	started     bool
	closed      bool
	unsubscribe func()
	watchers    map[chan State]struct{}
}

// NewBroadcaster creates a Broadcaster over provider. Call Start to
// subscribe.
func NewBroadcaster(provider identity.Provider, opts ...BroadcasterOption) *Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broadcaster{
		provider: provider,
		logger:   slog.Default(),
		store:    NewStore(),
		events:   make(chan any, eventBuffer),
		notices:  make(chan Notice, noticeBuffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		watchers: make(map[chan State]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "session")
	evalOpts := append([]EvaluatorOption{
		WithEvaluatorLogger(b.logger),
		WithNotify(b.pushNotice),
	}, b.evalOpts...)
	b.evaluator = NewEvaluator(provider, evalOpts...)
	initial := b.store.State()
	b.state.Store(&initial)
	return b
}

// Start runs the event loop and subscribes to the provider. Only the first
// call has an effect, and none after Close.
func (b *Broadcaster) Start() {
	b.startOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		b.started = true
		go b.loop()
		b.unsubscribe = b.provider.Subscribe(b.onPrincipal)
	})
}

// Close releases the provider subscription, stops the loop and closes every
// Watch channel. Results still in flight are discarded.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		started := b.started
		unsubscribe := b.unsubscribe
		b.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		b.cancel()
		close(b.done)
		if started {
			<-b.loopDone
		}
		b.evalWG.Wait()

		b.mu.Lock()
		for ch := range b.watchers {
			close(ch)
		}
		b.watchers = nil
		b.mu.Unlock()
	})
}

// Snapshot returns the latest published state.
func (b *Broadcaster) Snapshot() State {
	return *b.state.Load()
}

// Watch returns a channel that holds the latest state. The current state is
// available immediately; when the consumer falls behind, older states are
// replaced so the channel never blocks the loop. The channel is closed by
// stop or Close.
func (b *Broadcaster) Watch() (states <-chan State, stop func()) {
	ch := make(chan State, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.watchers[ch] = struct{}{}
	ch <- b.Snapshot()
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.watchers[ch]; ok {
			delete(b.watchers, ch)
			close(ch)
		}
	}
}

// Wait blocks until pred holds for a published state, ctx ends, or the
// Broadcaster closes.
func (b *Broadcaster) Wait(ctx context.Context, pred func(State) bool) (State, error) {
	states, stop := b.Watch()
	defer stop()
	for {
		select {
		case st, ok := <-states:
			if !ok {
				return b.Snapshot(), ErrClosed
			}
			if pred(st) {
				return st, nil
			}
		case <-ctx.Done():
			return b.Snapshot(), ctx.Err()
		}
	}
}

// Notices delivers verification notices. Notices are dropped when nobody
// reads them.
func (b *Broadcaster) Notices() <-chan Notice {
	return b.notices
}

// SignIn verifies credentials with the provider and applies the resulting
// principal before returning. On failure the state is unchanged.
func (b *Broadcaster) SignIn(ctx context.Context, email, password string) (res Result) {
	defer b.recoverResult(OpSignIn, &res)
	b.Start()
	if b.isClosed() {
		return failure(OpSignIn, ErrClosed)
	}
	b.setInFlight(OpSignIn, true)
	defer b.setInFlight(OpSignIn, false)

	p, err := b.provider.VerifyCredentials(ctx, email, password)
	if err != nil {
		b.logger.Info("sign-in rejected", "error", err)
		return failure(OpSignIn, err)
	}
	if p == nil {
		return failure(OpSignIn, errors.New("provider returned no principal"))
	}
	if err := b.apply(ctx, p); err != nil {
		return failure(OpSignIn, err)
	}
	return success("Signed in.")
}

// SignOut ends the provider session and clears the state. Signing out an
// unauthenticated session succeeds without contacting the provider; while
// the first provider event is pending, SignOut waits for it so a restored
// session is ended rather than skipped. On failure the state is unchanged.
func (b *Broadcaster) SignOut(ctx context.Context) (res Result) {
	defer b.recoverResult(OpSignOut, &res)
	b.Start()
	if b.isClosed() {
		return failure(OpSignOut, ErrClosed)
	}
	st, err := b.Wait(ctx, func(s State) bool { return s.Phase != PhaseInitializing })
	if err != nil {
		return failure(OpSignOut, err)
	}
	if !st.Authenticated {
		return success("Signed out.")
	}
	b.setInFlight(OpSignOut, true)
	defer b.setInFlight(OpSignOut, false)

	if err := b.provider.EndSession(ctx); err != nil && !errors.Is(err, identity.ErrNoSession) {
		b.logger.Warn("sign-out failed", "error", err)
		return failure(OpSignOut, err)
	}
	if err := b.apply(ctx, nil); err != nil {
		return failure(OpSignOut, err)
	}
	return success("Signed out.")
}

// apply queues p through the same path as provider events and waits until
// the loop has handled it.
func (b *Broadcaster) apply(ctx context.Context, p *identity.Principal) error {
	ack := make(chan struct{})
	if !b.send(principalEvent{principal: p, ack: ack}) {
		return ErrClosed
	}
	select {
	case <-ack:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broadcaster) recoverResult(op Operation, res *Result) {
	if r := recover(); r != nil {
		b.logger.Error("session operation panicked", "operation", op.String(), "panic", r)
		*res = Result{Success: false, Message: messageFor(op, ErrUnexpected), Err: ErrUnexpected}
	}
}

func (b *Broadcaster) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Broadcaster) setInFlight(op Operation, on bool) {
	b.send(inFlightEvent{op: op, on: on})
}

func (b *Broadcaster) onPrincipal(p *identity.Principal) {
	b.send(principalEvent{principal: p})
}

// send queues ev for the loop. It reports false once the Broadcaster is
// closed.
func (b *Broadcaster) send(ev any) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	}
}

func (b *Broadcaster) pushNotice(n Notice) {
	select {
	case b.notices <- n:
	default:
	}
}

func (b *Broadcaster) loop() {
	defer close(b.loopDone)
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.events:
			b.handle(ev)
		}
	}
}

func (b *Broadcaster) handle(ev any) {
	switch ev := ev.(type) {
	case principalEvent:
		gen, replaced := b.store.Apply(ProviderPrincipal{Principal: ev.principal})
		if replaced {
			b.authorize(gen)
		}
		if ev.ack != nil {
			close(ev.ack)
		}
	case claimResult:
		if b.store.Authorize(ev.gen, ev.admin) {
			b.publish()
		} else {
			b.logger.Debug("discarding stale authorization result", "generation", ev.gen)
		}
	case inFlightEvent:
		if b.store.SetInFlight(ev.op, ev.on) {
			b.publish()
		}
	}
}

// authorize evaluates the Session of generation gen. The unauthenticated
// session resolves in place; otherwise the fetch runs off the loop and its
// result comes back as a claimResult.
func (b *Broadcaster) authorize(gen uint64) {
	st := b.store.State()
	if !st.Authenticated {
		b.store.Authorize(gen, false)
		b.publish()
		return
	}
	b.publish()
	sess := st.Session
	b.evalWG.Add(1)
	go func() {
		defer b.evalWG.Done()
		admin := b.evaluator.Evaluate(b.ctx, sess)
		b.send(claimResult{gen: gen, admin: admin})
	}()
}

func (b *Broadcaster) publish() {
	st := b.store.State()
	b.state.Store(&st)
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

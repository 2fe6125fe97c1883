package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/btree"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxConcurrentStarts = 16
	btreeDegree                = 16
)

// RegistryOptions wires a Registry. Factory is required; everything else
// has a usable default.
type RegistryOptions struct {
	Factory     AdapterFactory
	Broadcaster *Broadcaster
	Bus         EventBus.BusPublisher
	Metrics     *Metrics
	Encoder     ArtifactEncoder
	Logger      *zap.Logger
	// MaxConcurrentStarts bounds how many adapters may be initializing at once.
	MaxConcurrentStarts int
}

// Registry is the single owner of the tenant -> Session mapping. Every
// status change and every publish to observers happens under mu, so
// observers see each tenant's events in the order they were produced.
// Adapter calls are always made with mu released.
type Registry struct {
	mu        sync.Mutex
	sessions  *btree.BTreeG[*Session]
	resetting map[string]struct{}
	// releasing counts detached adapters whose Close has not returned yet.
	releasing map[string]int

	factory     AdapterFactory
	broadcaster *Broadcaster
	bus         EventBus.BusPublisher
	metrics     *Metrics
	encode      ArtifactEncoder
	pool        *ants.Pool
	logger      *zap.Logger
	now         func() time.Time

	// ctx outlives individual requests; adapters are initialized under it
	// and it is cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Factory == nil {
		return nil, errors.New("session: registry requires an adapter factory")
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = NewBroadcaster(0, opts.Logger)
	}
	if opts.Encoder == nil {
		opts.Encoder = QRDataURL
	}
	if opts.MaxConcurrentStarts <= 0 {
		opts.MaxConcurrentStarts = defaultMaxConcurrentStarts
	}
	pool, err := ants.NewPool(opts.MaxConcurrentStarts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions:    btree.NewG[*Session](btreeDegree, lessSession),
		resetting:   make(map[string]struct{}),
		releasing:   make(map[string]int),
		factory:     opts.Factory,
		broadcaster: opts.Broadcaster,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		encode:      opts.Encoder,
		pool:        pool,
		logger:      opts.Logger,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func tenantFields(tenant string) []zap.Field {
	return []zap.Field{zap.String("namespace", "session"), zap.String("tenant", tenant)}
}

func (r *Registry) getLocked(tenant string) (*Session, bool) {
	return r.sessions.Get(&Session{id: tenant})
}

// Start creates the tenant's session and begins initializing its adapter
// in the background. Starting a tenant that already has a session returns
// its current status without creating a second adapter, except when the
// session sits in AUTH_FAILURE: the failed adapter is then replaced. A
// session that is being logged out yields ErrSessionActive.
func (r *Registry) Start(tenant string) (Status, error) {
	if err := ValidateTenant(tenant); err != nil {
		return StatusNotStarted, err
	}

	r.mu.Lock()
	if _, busy := r.resetting[tenant]; busy {
		r.mu.Unlock()
		return StatusNotStarted, ErrResetInProgress
	}
	from := StatusNotStarted
	var failed *Session
	if s, ok := r.getLocked(tenant); ok {
		st := s.state.Status()
		if s.closing {
			r.mu.Unlock()
			return st, ErrSessionActive
		}
		if st != StatusAuthFailure {
			r.mu.Unlock()
			return st, nil
		}
		failed, from = s, st
	}

	adapter, err := r.factory(tenant)
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("session: adapter creation failed", append(tenantFields(tenant), zap.Error(err))...)
		return from, err
	}
	if failed != nil {
		r.detachLocked(failed)
	}
	s := newSession(tenant, adapter, r.now())
	r.sessions.ReplaceOrInsert(s)
	r.announceLocked(s, from)
	go r.pump(s)
	r.mu.Unlock()

	if failed != nil {
		r.logger.Info("session: restarting after auth failure", tenantFields(tenant)...)
		r.release(tenant, failed.adapter)
	}
	if err := r.pool.Submit(func() { r.initialize(s) }); err != nil {
		r.dispatch(s, Event{Kind: EventAuthFailure, Detail: err.Error()})
	}
	return StatusStarting, nil
}

func (r *Registry) initialize(s *Session) {
	if err := s.adapter.Initialize(r.ctx); err != nil {
		r.logger.Warn("session: adapter initialize failed", append(tenantFields(s.id), zap.Error(err))...)
		r.dispatch(s, Event{Kind: EventAuthFailure, Detail: err.Error()})
	}
}

// pump feeds one adapter's events into the registry, strictly in order.
func (r *Registry) pump(s *Session) {
	events := s.adapter.Events()
	for {
		select {
		case <-s.stop:
			return
		case ev := <-events:
			r.dispatch(s, ev)
		}
	}
}

func (r *Registry) dispatch(s *Session, ev Event) {
	var artifact string
	var encodeErr error
	if ev.Kind == EventAuthArtifact {
		artifact, encodeErr = r.encode(ev.Artifact)
	}

	r.mu.Lock()
	cur, ok := r.getLocked(s.id)
	if !ok || cur != s || s.closing {
		r.mu.Unlock()
		r.logger.Debug("session: ignoring event from detached adapter",
			append(tenantFields(s.id), zap.Stringer("event", ev.Kind))...)
		return
	}

	released := false
	switch ev.Kind {
	case EventAuthArtifact:
		if encodeErr != nil {
			r.logger.Error("session: auth artifact encoding failed", append(tenantFields(s.id), zap.Error(encodeErr))...)
			r.broadcaster.Publish(s.id, errorMessage(s.id, encodeErr, r.now()))
			break
		}
		r.moveLocked(s, awaitingAuth(artifact))
	case EventAuthenticated:
		r.moveLocked(s, authenticated())
	case EventReady:
		r.moveLocked(s, loggedIn())
	case EventAuthFailure:
		r.moveLocked(s, authFailure(ev.Detail))
	case EventDisconnected:
		released = r.removeLocked(s, StatusDisconnected, ev.Detail)
	default:
		r.logger.Warn("session: unknown adapter event", append(tenantFields(s.id), zap.Int("kind", int(ev.Kind)))...)
	}
	r.mu.Unlock()

	if released {
		r.release(s.id, s.adapter)
	}
}

// moveLocked applies next if the transition table allows it.
func (r *Registry) moveLocked(s *Session, next State) bool {
	from := s.state.Status()
	if !CanTransition(from, next.Status()) {
		r.logger.Warn("session: rejected transition",
			append(tenantFields(s.id), zap.Stringer("from", from), zap.Stringer("to", next.Status()))...)
		return false
	}
	s.state = next
	r.announceLocked(s, from)
	return true
}

// removeLocked is the single teardown point: it drops s from the registry,
// stops its event pump and announces the terminal status. It reports false
// when s was already gone, so a second remover is a no-op.
func (r *Registry) removeLocked(s *Session, st Status, detail string) bool {
	cur, ok := r.getLocked(s.id)
	if !ok || cur != s {
		return false
	}
	from := s.state.Status()
	r.detachLocked(s)
	s.state = terminal(st, detail)
	r.announceLocked(s, from)
	return true
}

// detachLocked drops s from the tree. The caller must hand s.adapter to
// release once mu is released.
func (r *Registry) detachLocked(s *Session) {
	r.sessions.Delete(s)
	close(s.stop)
	r.releasing[s.id]++
}

func (r *Registry) announceLocked(s *Session, from Status) {
	now := r.now()
	st := s.state.Status()
	r.metrics.moved(from, st)
	r.broadcaster.Publish(s.id, statusMessage(s.id, st, s.state.Detail(), now))
	if artifact, ok := s.state.Artifact(); ok {
		r.broadcaster.Publish(s.id, artifactMessage(s.id, artifact, now))
	}
	if r.bus != nil {
		r.bus.Publish(TopicTransition, Transition{Tenant: s.id, From: from, To: st, Detail: s.state.Detail(), At: now})
	}
	r.logger.Info("session: status changed",
		append(tenantFields(s.id), zap.Stringer("from", from), zap.Stringer("to", st), zap.String("detail", s.state.Detail()))...)
}

func (r *Registry) release(tenant string, adapter Adapter) {
	defer func() {
		r.mu.Lock()
		r.releasing[tenant]--
		if r.releasing[tenant] <= 0 {
			delete(r.releasing, tenant)
		}
		r.mu.Unlock()
	}()
	if err := adapter.Close(); err != nil {
		r.logger.Warn("session: adapter close failed", append(tenantFields(tenant), zap.Error(err))...)
	}
}

// holders returns every tenant whose adapter may still have its credential
// store open: registered sessions and detached adapters still closing.
func (r *Registry) holders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, r.sessions.Len()+len(r.releasing))
	r.sessions.Ascend(func(s *Session) bool {
		out = append(out, s.id)
		return true
	})
	for tenant := range r.releasing {
		out = append(out, tenant)
	}
	return out
}

// Logout tears the tenant's session down. The adapter's own logout is
// best effort: its failure is logged and swallowed.
func (r *Registry) Logout(ctx context.Context, tenant string) error {
	r.mu.Lock()
	s, ok := r.getLocked(tenant)
	if !ok || s.closing {
		r.mu.Unlock()
		return ErrNoSession
	}
	s.closing = true
	r.mu.Unlock()

	if err := s.adapter.Logout(ctx); err != nil {
		r.logger.Info("session: adapter logout failed, continuing teardown", append(tenantFields(tenant), zap.Error(err))...)
	}

	r.mu.Lock()
	removed := r.removeLocked(s, StatusLoggedOut, "")
	r.mu.Unlock()
	if removed {
		r.release(tenant, s.adapter)
	}
	return nil
}

// Join subscribes an observer to tenant and replays the current status,
// plus the pending artifact while awaiting authentication.
func (r *Registry) Join(tenant string) (*Subscription, error) {
	if err := ValidateTenant(tenant); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	s, ok := r.getLocked(tenant)
	if !ok {
		return r.broadcaster.subscribe(tenant, statusMessage(tenant, StatusNotStarted, "", now)), nil
	}
	replay := []Message{statusMessage(tenant, s.state.Status(), s.state.Detail(), now)}
	if artifact, ok := s.state.Artifact(); ok {
		replay = append(replay, artifactMessage(tenant, artifact, now))
	}
	return r.broadcaster.subscribe(tenant, replay...), nil
}

// Notify publishes a non-status message (send outcomes) on the tenant's
// channel, ordered with the registry's own status events.
func (r *Registry) Notify(tenant string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster.Publish(tenant, msg)
}

// Snapshot returns the tenant's current state, or false if no session exists.
func (r *Registry) Snapshot(tenant string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.getLocked(tenant)
	if !ok {
		return Snapshot{Tenant: tenant, Status: StatusNotStarted}, false
	}
	return s.snapshot(), true
}

func (r *Registry) lookup(tenant string) (Snapshot, Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.getLocked(tenant)
	if !ok {
		return Snapshot{Tenant: tenant, Status: StatusNotStarted}, nil, false
	}
	return s.snapshot(), s.adapter, true
}

// recordProbe stores a probe result if adapter is still the tenant's
// registered adapter.
func (r *Registry) recordProbe(tenant string, adapter Adapter, connected bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.getLocked(tenant)
	if !ok || s.adapter != adapter {
		return
	}
	s.lastKnownConnected = connected
	s.lastReconciledAt = at
}

// List returns every registered session ordered by tenant id.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, r.sessions.Len())
	r.sessions.Ascend(func(s *Session) bool {
		out = append(out, s.snapshot())
		return true
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Len()
}

// reserve blocks Start for tenant until the returned release is called.
func (r *Registry) reserve(tenant string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.resetting[tenant]; busy {
		return nil, ErrResetInProgress
	}
	r.resetting[tenant] = struct{}{}
	return func() {
		r.mu.Lock()
		delete(r.resetting, tenant)
		r.mu.Unlock()
	}, nil
}

// Shutdown closes every adapter without logging out, leaving stored
// credentials in place, and ends all observer subscriptions.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancel()

	r.mu.Lock()
	all := make([]*Session, 0, r.sessions.Len())
	r.sessions.Ascend(func(s *Session) bool {
		all = append(all, s)
		return true
	})
	for _, s := range all {
		r.metrics.moved(s.state.Status(), StatusNotStarted)
		close(s.stop)
	}
	r.sessions = btree.NewG[*Session](btreeDegree, lessSession)
	r.mu.Unlock()

	var g errgroup.Group
	for _, s := range all {
		s := s
		g.Go(func() error { return s.adapter.Close() })
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	r.pool.Release()
	r.broadcaster.CloseAll()
	r.logger.Info("session: registry shut down", zap.String("namespace", "session"), zap.Int("sessions", len(all)))
	return err
}

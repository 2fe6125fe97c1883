package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAdapter struct {
	tenant string
	events chan Event

	mu          sync.Mutex
	state       ConnState
	stateErr    error
	initErr     error
	sendErr     error
	logoutErr   error
	onLogout    func()
	closeGate   chan struct{}
	initialized int
	probes      int
	logouts     int
	closes      int
	texts       []string
	media       []Media
}

func newFakeAdapter(tenant string) *fakeAdapter {
	return &fakeAdapter{tenant: tenant, events: make(chan Event, 16)}
}

func (f *fakeAdapter) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized++
	return f.initErr
}

func (f *fakeAdapter) Events() <-chan Event { return f.events }

func (f *fakeAdapter) ConnectionState(context.Context) (ConnState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.state, f.stateErr
}

func (f *fakeAdapter) SendText(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, to+":"+body)
	return nil
}

func (f *fakeAdapter) SendMedia(_ context.Context, to string, media Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.media = append(f.media, media)
	return nil
}

func (f *fakeAdapter) Logout(context.Context) error {
	f.mu.Lock()
	f.logouts++
	hook, err := f.onLogout, f.logoutErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// Close blocks on closeGate when one is set.
func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	f.closes++
	gate := f.closeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func (f *fakeAdapter) emit(ev Event) { f.events <- ev }

func (f *fakeAdapter) set(fn func(f *fakeAdapter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAdapter) counts() (initialized, logouts, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized, f.logouts, f.closes
}

type fakeFactory struct {
	mu       sync.Mutex
	adapters map[string][]*fakeAdapter
	err      error
	initErr  error
}

func (ff *fakeFactory) New(tenant string) (Adapter, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.err != nil {
		return nil, ff.err
	}
	a := newFakeAdapter(tenant)
	a.initErr = ff.initErr
	ff.adapters[tenant] = append(ff.adapters[tenant], a)
	return a, nil
}

func (ff *fakeFactory) created(tenant string) []*fakeAdapter {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return append([]*fakeAdapter(nil), ff.adapters[tenant]...)
}

func (ff *fakeFactory) latest(t *testing.T, tenant string) *fakeAdapter {
	t.Helper()
	all := ff.created(tenant)
	require.NotEmpty(t, all, "no adapter created for %s", tenant)
	return all[len(all)-1]
}

type harness struct {
	t        *testing.T
	factory  *fakeFactory
	registry *Registry
	manager  *Manager
	layout   CredentialLayout
	bus      EventBus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	factory := &fakeFactory{adapters: make(map[string][]*fakeAdapter)}
	bus := EventBus.New()
	metrics := NewMetrics(prometheus.NewRegistry())

	registry, err := NewRegistry(RegistryOptions{
		Factory:     factory.New,
		Broadcaster: NewBroadcaster(32, logger),
		Bus:         bus,
		Metrics:     metrics,
		Logger:      logger,
	})
	require.NoError(t, err)

	layout := CredentialLayout{Root: t.TempDir()}
	reconciler := NewReconciler(registry, time.Second, 0, metrics, logger)
	janitor := NewJanitor(layout, registry, logger)
	manager := NewManager(registry, reconciler, janitor, bus, metrics, logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})
	return &harness{t: t, factory: factory, registry: registry, manager: manager, layout: layout, bus: bus}
}

func (h *harness) waitStatus(tenant string, want Status) Snapshot {
	h.t.Helper()
	var snap Snapshot
	require.Eventually(h.t, func() bool {
		snap, _ = h.registry.Snapshot(tenant)
		return snap.Status == want
	}, 2*time.Second, 5*time.Millisecond, "tenant %s never reached %s", tenant, want)
	return snap
}

func (h *harness) waitGone(tenant string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		_, ok := h.registry.Snapshot(tenant)
		return !ok
	}, 2*time.Second, 5*time.Millisecond, "tenant %s still registered", tenant)
}

// login drives tenant all the way to LOGGED_IN with a connected adapter.
func (h *harness) login(tenant string) *fakeAdapter {
	h.t.Helper()
	_, err := h.manager.Start(tenant)
	require.NoError(h.t, err)
	a := h.factory.latest(h.t, tenant)
	a.emit(Event{Kind: EventAuthArtifact, Artifact: "pair-" + tenant})
	a.emit(Event{Kind: EventAuthenticated})
	a.emit(Event{Kind: EventReady})
	a.set(func(f *fakeAdapter) { f.state = ConnStateConnected })
	h.waitStatus(tenant, StatusLoggedIn)
	return a
}

// drain reads sub until it stays quiet for the given window.
func drain(sub *Subscription, quiet time.Duration) []Message {
	var out []Message
	for {
		select {
		case m, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, m)
		case <-time.After(quiet):
			return out
		}
	}
}

var errBoom = errors.New("boom")
